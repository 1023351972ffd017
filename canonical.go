package tent

import (
	"bytes"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
)

const (
	// DefaultHashPrefix marks a version id as a canonical-hash id.
	DefaultHashPrefix = "t"
	// DefaultHashLength is the number of hex characters kept from the hash.
	DefaultHashLength = 32
)

// ErrVersionMissing is returned when a post is submitted without any
// version envelope at all.
var ErrVersionMissing = errors.New("post has no version")

// VersionMismatchError means a caller-supplied version id disagrees with
// the canonical hash of the post's own content. This is never corrected
// silently; it guards against tampering and divergent concurrent edits
// claiming the same id.
type VersionMismatchError struct {
	PostID   string
	Claimed  string
	Computed string
}

func (e VersionMismatchError) Error() string {
	return fmt.Sprintf("version mismatch on post %s: claimed %s, computed %s", e.PostID, e.Claimed, e.Computed)
}

func (e VersionMismatchError) Is(target error) bool {
	_, ok := target.(VersionMismatchError)
	if ok {
		return true
	}
	_, ok = target.(*VersionMismatchError)
	return ok
}

// ErrVersionMismatch is the sentinel for errors.Is matching.
var ErrVersionMismatch = VersionMismatchError{}

// CanonicalJSON renders the canonical form a version id is computed from:
// a fixed key set with all object keys recursively sorted. The post's own
// version.id and received_at are excluded, as are non-public mentions.
func CanonicalJSON(p *Post[any]) ([]byte, error) {
	if p.Version == nil {
		return nil, ErrVersionMissing
	}

	obj := map[string]any{
		"id":     p.ID,
		"entity": p.Entity,
		"type":   string(p.Type),
	}
	if p.PublishedAt != nil {
		obj["published_at"] = p.PublishedAt.UnixMilli()
	}

	var mentions []any
	for _, m := range p.Mentions {
		if !m.IsPublic() {
			continue
		}
		mentions = append(mentions, canonicalMention(m))
	}
	if mentions != nil {
		obj["mentions"] = mentions
	}

	var refs []any
	for _, r := range p.Refs {
		ref := map[string]any{"post": r.Post}
		if r.Entity != "" {
			ref["entity"] = r.Entity
		}
		if r.Version != "" {
			ref["version"] = r.Version
		}
		if r.Type != "" {
			ref["type"] = string(r.Type)
		}
		refs = append(refs, ref)
	}
	if refs != nil {
		obj["refs"] = refs
	}

	version := map[string]any{}
	if p.Version.PublishedAt != nil {
		version["published_at"] = p.Version.PublishedAt.UnixMilli()
	}
	var parents []any
	for _, par := range p.Version.Parents {
		parent := map[string]any{"version": par.Version}
		if par.Entity != "" {
			parent["entity"] = par.Entity
		}
		if par.Post != "" {
			parent["post"] = par.Post
		}
		parents = append(parents, parent)
	}
	if parents != nil {
		version["parents"] = parents
	}
	obj["version"] = version

	content, err := normalizeValue(p.Content)
	if err != nil {
		return nil, err
	}
	if !emptyValue(content) {
		obj["content"] = content
	}

	if len(p.Attachments) > 0 {
		normalized, err := normalizeValue(p.Attachments)
		if err != nil {
			return nil, err
		}
		obj["attachments"] = normalized
	}

	if p.App != nil {
		normalized, err := normalizeValue(p.App)
		if err != nil {
			return nil, err
		}
		obj["app"] = normalized
	}

	var buf bytes.Buffer
	if err := encodeCanonical(&buf, obj); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func canonicalMention(m Mention) map[string]any {
	out := map[string]any{}
	if m.Entity != "" {
		out["entity"] = m.Entity
	}
	if m.Post != "" {
		out["post"] = m.Post
	}
	if m.Version != "" {
		out["version"] = m.Version
	}
	if m.Type != "" {
		out["type"] = string(m.Type)
	}
	return out
}

// HashVersionID derives a version id from canonical bytes: the hash prefix
// plus the leading hex of SHA-512 over the unescaped form, where JSON
// control-character escapes are re-inserted as literal bytes.
func HashVersionID(canonical []byte) string {
	sum := sha512.Sum512(unescapeControl(canonical))
	return DefaultHashPrefix + hex.EncodeToString(sum[:])[:DefaultHashLength]
}

// ComputeVersionID canonicalizes and hashes p, filling Version.ID when
// absent. A preset id that disagrees with the computed one is a hard error.
func ComputeVersionID(p *Post[any]) (string, error) {
	canonical, err := CanonicalJSON(p)
	if err != nil {
		return "", err
	}
	id := HashVersionID(canonical)
	if p.Version.ID != "" && p.Version.ID != id {
		return "", VersionMismatchError{PostID: p.ID, Claimed: p.Version.ID, Computed: id}
	}
	p.Version.ID = id
	return id, nil
}

// normalizeValue reduces any value to the plain JSON data model so the
// canonical encoder sees one representation regardless of the Go type the
// content arrived in. Numbers stay json.Number to keep their literal form.
func normalizeValue(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func emptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case map[string]any:
		return len(t) == 0
	case []any:
		return len(t) == 0
	}
	return false
}

func encodeCanonical(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case string:
		writeCanonicalString(buf, t)
	case json.Number:
		buf.WriteString(t.String())
	case int:
		buf.WriteString(strconv.Itoa(t))
	case int64:
		buf.WriteString(strconv.FormatInt(t, 10))
	case float64:
		buf.WriteString(strconv.FormatFloat(t, 'f', -1, 64))
	case []any:
		buf.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeCanonical(buf, e); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeCanonicalString(buf, k)
			buf.WriteByte(':')
			if err := encodeCanonical(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		normalized, err := normalizeValue(v)
		if err != nil {
			return err
		}
		return encodeCanonical(buf, normalized)
	}
	return nil
}

// writeCanonicalString escapes only what JSON requires. HTML characters
// stay literal so the output is byte-stable across encoders.
func writeCanonicalString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		default:
			if r < 0x20 {
				fmt.Fprintf(buf, `\u%04x`, r)
			} else {
				buf.WriteRune(r)
			}
		}
	}
	buf.WriteByte('"')
}

// unescapeControl re-inserts control characters literally in place of their
// JSON escapes inside string literals. Quote and backslash escapes are left
// intact; the result is only ever hashed, never parsed.
func unescapeControl(in []byte) []byte {
	out := make([]byte, 0, len(in))
	inString := false
	for i := 0; i < len(in); i++ {
		c := in[i]
		if !inString {
			if c == '"' {
				inString = true
			}
			out = append(out, c)
			continue
		}
		if c == '"' {
			inString = false
			out = append(out, c)
			continue
		}
		if c != '\\' || i+1 >= len(in) {
			out = append(out, c)
			continue
		}
		switch in[i+1] {
		case 'n':
			out = append(out, '\n')
			i++
		case 'r':
			out = append(out, '\r')
			i++
		case 't':
			out = append(out, '\t')
			i++
		case 'b':
			out = append(out, '\b')
			i++
		case 'f':
			out = append(out, '\f')
			i++
		case 'u':
			if i+5 < len(in) {
				if v, err := strconv.ParseUint(string(in[i+2:i+6]), 16, 32); err == nil && v < 0x20 {
					out = append(out, byte(v))
					i += 5
					continue
				}
			}
			out = append(out, c)
		default:
			// keep the escape, including the escaped byte
			out = append(out, c, in[i+1])
			i++
		}
	}
	return out
}
