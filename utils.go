package tent

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/url"
	"strings"
)

// NormalizeEntity brings an entity URI to its canonical comparable form:
// lowercase scheme and host, no trailing slash.
func NormalizeEntity(entity string) string {
	u, err := url.Parse(entity)
	if err != nil || u.Scheme == "" {
		return strings.TrimSuffix(entity, "/")
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	return strings.TrimSuffix(u.String(), "/")
}

// IsEntity reports whether s is an absolute http(s) URI and therefore a
// federated entity rather than a bare local handle.
func IsEntity(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// NewPostID returns a fresh unique post identifier.
func NewPostID() string {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(buf[:])
}

// DecodeContent re-types the generic content of a post into a concrete
// content struct.
func DecodeContent[T any](p *Post[any]) (T, error) {
	var out T
	raw, err := json.Marshal(p.Content)
	if err != nil {
		return out, err
	}
	err = json.Unmarshal(raw, &out)
	return out, err
}

// SamePostType reports whether any filter type in the list matches t.
func SamePostType(filters []PostType, t PostType) bool {
	for _, f := range filters {
		if f.Matches(t) {
			return true
		}
	}
	return false
}
