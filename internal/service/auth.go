package service

import (
	"context"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"

	"github.com/tentsuite/tent"
	"github.com/tentsuite/tent/hawk"
	"github.com/tentsuite/tent/internal/domain"
)

var tracer = otel.Tracer("auth")

// CredentialSource resolves a signature key id to the credentials post it
// was minted from, regardless of owner.
type CredentialSource interface {
	GetCredentialsPost(ctx context.Context, postID string) (*tent.Post[any], error)
}

// BewitStore is the backing record lookup for bewit tokens.
type BewitStore interface {
	Get(ctx context.Context, id string) (domain.Bewit, error)
}

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID string
	Type   int
	App    string
}

// AuthService validates incoming Hawk header signatures and bewit
// capability tokens. All failures surface as authentication errors; none
// are retried here.
type AuthService struct {
	credentials CredentialSource
	bewits      BewitStore
}

func NewAuthService(credentials CredentialSource, bewits BewitStore) *AuthService {
	return &AuthService{credentials: credentials, bewits: bewits}
}

// ValidateHeader checks a header-mode signature. The key is derived from
// the credentials post named by the signature's key id; the post's owner
// becomes the authenticated principal.
func (s *AuthService) ValidateHeader(ctx context.Context, verb string, u *url.URL, header string) (*Principal, error) {
	ctx, span := tracer.Start(ctx, "Auth.Service.ValidateHeader")
	defer span.End()

	sig, err := hawk.ParseHeader(header)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	creds, err := s.credentials.GetCredentialsPost(ctx, sig.ID)
	if err != nil {
		span.RecordError(err)
		return nil, errors.Wrap(err, "unknown credentials")
	}
	content, err := tent.DecodeContent[tent.CredentialsContent](creds)
	if err != nil {
		span.RecordError(err)
		return nil, errors.Wrap(err, "unreadable credentials post")
	}

	if err := sig.Validate(verb, u, content.HawkKey); err != nil {
		span.RecordError(err)
		return nil, err
	}

	return &Principal{
		UserID: creds.UserID,
		Type:   domain.RemoteUser,
		App:    sig.App,
	}, nil
}

// ValidateBewit checks the bewit token carried in a URL's query string.
// The MAC is recomputed over the URL with the token stripped, against the
// stored record's key.
func (s *AuthService) ValidateBewit(ctx context.Context, verb string, u *url.URL) (*Principal, error) {
	ctx, span := tracer.Start(ctx, "Auth.Service.ValidateBewit")
	defer span.End()

	token := u.Query().Get("bewit")
	if token == "" {
		return nil, hawk.ErrMalformedBewit
	}
	sig, err := hawk.ParseBewit(token)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	record, err := s.bewits.Get(ctx, sig.ID)
	if err != nil {
		span.RecordError(err)
		return nil, errors.Wrap(err, "unknown bewit")
	}
	if time.Now().After(record.ExpiresAt) {
		return nil, hawk.ErrBewitExpired
	}

	if err := sig.ValidateBewit(verb, hawk.StripBewit(u), record.Key); err != nil {
		span.RecordError(err)
		return nil, err
	}

	return &Principal{Type: domain.RemoteServer}, nil
}
