package hawk

import (
	"crypto/hmac"
	"encoding/base64"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// NewBewit builds a URL-embeddable capability token granting delegated
// access to one resource until expiresAt. The MAC covers only the bewit
// kind and expiry plus the request line; there is no nonce.
func NewBewit(id, key, ext string, expiresAt time.Time, verb string, u *url.URL) string {
	exp := expiresAt.Unix()
	mac := computeMAC(key, macString(KindBewit, exp, "", verb, u, "", ext, ""))
	raw := id + "\\" + strconv.FormatInt(exp, 10) + "\\" + mac + "\\" + ext
	return bewitEncode(raw)
}

func bewitEncode(raw string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// ParseBewit decodes a bewit token. The payload must split into exactly
// four backslash-delimited fields; anything else is malformed.
func ParseBewit(token string) (*Signature, error) {
	if pad := len(token) % 4; pad != 0 {
		token += strings.Repeat("=", 4-pad)
	}
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return nil, ErrMalformedBewit
	}

	fields := strings.Split(string(raw), "\\")
	if len(fields) != 4 {
		return nil, ErrMalformedBewit
	}

	exp, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return nil, ErrMalformedBewit
	}

	return &Signature{
		ID:        fields[0],
		ExpiresAt: exp,
		Mac:       fields[2],
		Extension: fields[3],
		Kind:      KindBewit,
	}, nil
}

// ValidateBewit recomputes the bewit MAC for the request line and checks
// expiry.
func (s *Signature) ValidateBewit(verb string, u *url.URL, key string) error {
	if time.Now().Unix() > s.ExpiresAt {
		return ErrBewitExpired
	}
	expected := computeMAC(key, macString(KindBewit, s.ExpiresAt, "", verb, u, "", s.Extension, ""))
	if !hmac.Equal([]byte(expected), []byte(s.Mac)) {
		return ErrInvalidMAC
	}
	return nil
}

// StripBewit removes the bewit parameter from a URL, returning the URL the
// MAC was computed over.
func StripBewit(u *url.URL) *url.URL {
	stripped := *u
	q := stripped.Query()
	q.Del("bewit")
	stripped.RawQuery = q.Encode()
	return &stripped
}
