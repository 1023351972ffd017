// Package hawk implements the MAC request-signing scheme used between
// servers and apps: live header signatures and URL-embedded bewit
// capability tokens.
package hawk

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	KindHeader = "header"
	KindBewit  = "bewit"

	// ReplayWindow is the maximum allowed skew between a request's
	// timestamp and the server clock, enforced independently of MAC
	// validity.
	ReplayWindow = 60 * time.Second
)

var (
	ErrMalformedHeader = errors.New("hawk: malformed authorization header")
	ErrMalformedBewit  = errors.New("hawk: malformed bewit")
	ErrInvalidMAC      = errors.New("hawk: invalid mac")
	ErrStaleTimestamp  = errors.New("hawk: stale timestamp")
	ErrBewitExpired    = errors.New("hawk: bewit expired")
)

// Signature is one parsed or freshly constructed signature. It is built
// per request and never persisted; the MAC key is passed by value into
// each computation.
type Signature struct {
	ID          string
	Timestamp   int64
	Nonce       string
	Mac         string
	ContentHash string
	Extension   string
	App         string
	Kind        string

	// ExpiresAt is only meaningful in bewit mode.
	ExpiresAt int64
}

// New returns a header-mode signature for the given key id.
func New(id string) *Signature {
	return &Signature{ID: id, Kind: KindHeader}
}

// macString builds the canonical newline-joined string covered by the MAC.
func macString(kind string, ts int64, nonce, verb string, u *url.URL, contentHash, ext, app string) string {
	lines := []string{
		"hawk.1." + kind,
		strconv.FormatInt(ts, 10),
		nonce,
		strings.ToUpper(verb),
		u.RequestURI(),
		u.Hostname(),
		port(u),
		contentHash,
		escapeExt(ext),
	}
	if app != "" {
		lines = append(lines, app, "")
	}
	return strings.Join(lines, "\n") + "\n"
}

func port(u *url.URL) string {
	if p := u.Port(); p != "" {
		return p
	}
	if u.Scheme == "https" {
		return "443"
	}
	return "80"
}

func escapeExt(ext string) string {
	ext = strings.ReplaceAll(ext, "\\", "\\\\")
	return strings.ReplaceAll(ext, "\n", "\\n")
}

func computeMAC(key, input string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(input))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// PayloadHash hashes a request body for the optional hash field.
func PayloadHash(contentType string, body []byte) string {
	h := sha256.New()
	h.Write([]byte("hawk.1.payload\n"))
	h.Write([]byte(contentType))
	h.Write([]byte("\n"))
	h.Write(body)
	h.Write([]byte("\n"))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func newNonce() string {
	var buf [6]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(buf[:])
}

// Sign stamps the signature with a fresh nonce and timestamp and computes
// the MAC over the request line with the given key.
func (s *Signature) Sign(verb string, u *url.URL, key string) {
	s.Kind = KindHeader
	s.Timestamp = time.Now().Unix()
	s.Nonce = newNonce()
	s.Mac = computeMAC(key, macString(KindHeader, s.Timestamp, s.Nonce, verb, u, s.ContentHash, s.Extension, s.App))
}

// ToHeader signs the request and renders the Authorization header value.
// The verifier does not care about field order; this emits the
// conventional id, ts, nonce, mac[, hash][, ext][, app] order.
func (s *Signature) ToHeader(verb string, u *url.URL, key string) string {
	s.Sign(verb, u, key)

	parts := []string{
		fmt.Sprintf(`id="%s"`, s.ID),
		fmt.Sprintf(`ts="%d"`, s.Timestamp),
		fmt.Sprintf(`nonce="%s"`, s.Nonce),
		fmt.Sprintf(`mac="%s"`, s.Mac),
	}
	if s.ContentHash != "" {
		parts = append(parts, fmt.Sprintf(`hash="%s"`, s.ContentHash))
	}
	if s.Extension != "" {
		parts = append(parts, fmt.Sprintf(`ext="%s"`, escapeExt(s.Extension)))
	}
	if s.App != "" {
		parts = append(parts, fmt.Sprintf(`app="%s"`, s.App))
	}
	return "Hawk " + strings.Join(parts, ", ")
}

// Validate recomputes the MAC of a header-mode signature against the
// incoming tuple and rejects stale timestamps regardless of MAC validity.
func (s *Signature) Validate(verb string, u *url.URL, key string) error {
	delta := time.Since(time.Unix(s.Timestamp, 0))
	if delta < 0 {
		delta = -delta
	}
	if delta > ReplayWindow {
		return ErrStaleTimestamp
	}

	expected := computeMAC(key, macString(KindHeader, s.Timestamp, s.Nonce, verb, u, s.ContentHash, s.Extension, s.App))
	if !hmac.Equal([]byte(expected), []byte(s.Mac)) {
		return ErrInvalidMAC
	}
	return nil
}

// ParseHeader parses a `Hawk key1="v1", key2="v2"` authorization value.
func ParseHeader(value string) (*Signature, error) {
	value = strings.TrimSpace(value)
	if after, ok := strings.CutPrefix(value, "Hawk "); ok {
		value = after
	}

	sig := &Signature{Kind: KindHeader}
	for _, field := range strings.Split(value, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		k, v, ok := strings.Cut(field, "=")
		if !ok {
			return nil, ErrMalformedHeader
		}
		v = strings.Trim(v, `"`)
		switch k {
		case "id":
			sig.ID = v
		case "ts":
			ts, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, ErrMalformedHeader
			}
			sig.Timestamp = ts
		case "nonce":
			sig.Nonce = v
		case "mac":
			sig.Mac = v
		case "hash":
			sig.ContentHash = v
		case "ext":
			sig.Extension = v
		case "app":
			sig.App = v
		default:
			return nil, ErrMalformedHeader
		}
	}
	if sig.ID == "" || sig.Mac == "" || sig.Timestamp == 0 || sig.Nonce == "" {
		return nil, ErrMalformedHeader
	}
	return sig, nil
}
