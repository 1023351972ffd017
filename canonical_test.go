package tent

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"
)

func testPost() *Post[any] {
	published := Millis(time.UnixMilli(1700000000123))
	return &Post[any]{
		ID:          "abc123",
		Entity:      "https://alice.example.com",
		Type:        TypeStatus,
		PublishedAt: &published,
		Version: &Version{
			PublishedAt: &published,
		},
		Content: map[string]any{"text": "hello world"},
	}
}

func TestCanonicalJSONDeterministic(t *testing.T) {
	a := testPost()
	a.Content = map[string]any{"text": "hi", "location": "tokyo"}

	b := testPost()
	b.Content = map[string]any{"location": "tokyo", "text": "hi"}

	ca, err := CanonicalJSON(a)
	if err != nil {
		t.Fatalf("canonical a: %v", err)
	}
	cb, err := CanonicalJSON(b)
	if err != nil {
		t.Fatalf("canonical b: %v", err)
	}
	if !bytes.Equal(ca, cb) {
		t.Fatalf("canonical output differs:\n%s\n%s", ca, cb)
	}
}

func TestCanonicalJSONSortsKeys(t *testing.T) {
	p := testPost()
	c, err := CanonicalJSON(p)
	if err != nil {
		t.Fatalf("canonical: %v", err)
	}
	s := string(c)
	if !strings.HasPrefix(s, `{"content":`) {
		t.Fatalf("expected content first, got %s", s)
	}
	if strings.Contains(s, "received_at") {
		t.Fatalf("received_at must be excluded: %s", s)
	}
}

func TestCanonicalJSONExcludesPrivateMentions(t *testing.T) {
	private := false
	p := testPost()
	p.Mentions = []Mention{
		{Entity: "https://bob.example.com", Post: "p1"},
		{Entity: "https://carol.example.com", Post: "p2", Public: &private},
	}
	c, err := CanonicalJSON(p)
	if err != nil {
		t.Fatalf("canonical: %v", err)
	}
	if strings.Contains(string(c), "carol") {
		t.Fatalf("private mention leaked into canonical form: %s", c)
	}
	if !strings.Contains(string(c), "bob") {
		t.Fatalf("public mention missing from canonical form: %s", c)
	}
}

func TestHashVersionIDStable(t *testing.T) {
	p := testPost()
	c, err := CanonicalJSON(p)
	if err != nil {
		t.Fatalf("canonical: %v", err)
	}
	id1 := HashVersionID(c)
	id2 := HashVersionID(c)
	if id1 != id2 {
		t.Fatalf("hash not stable: %s vs %s", id1, id2)
	}
	if !strings.HasPrefix(id1, DefaultHashPrefix) {
		t.Fatalf("missing prefix: %s", id1)
	}
	if len(id1) != len(DefaultHashPrefix)+DefaultHashLength {
		t.Fatalf("unexpected id length %d: %s", len(id1), id1)
	}
}

func TestHashVersionIDChangesWithContent(t *testing.T) {
	p := testPost()
	c1, _ := CanonicalJSON(p)

	p.Content = map[string]any{"text": "changed"}
	c2, _ := CanonicalJSON(p)

	if HashVersionID(c1) == HashVersionID(c2) {
		t.Fatalf("hash did not change with content")
	}
}

func TestComputeVersionIDMismatch(t *testing.T) {
	p := testPost()
	p.Version.ID = "t00000000000000000000000000000000"

	_, err := ComputeVersionID(p)
	if err == nil {
		t.Fatalf("expected version mismatch")
	}
	if !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected VersionMismatchError, got %v", err)
	}
}

func TestComputeVersionIDRoundTrip(t *testing.T) {
	p := testPost()
	id, err := ComputeVersionID(p)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if p.Version.ID != id {
		t.Fatalf("version id not filled in")
	}

	// recomputing an unmodified post is a no-op
	again, err := ComputeVersionID(p)
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if again != id {
		t.Fatalf("id changed on recompute: %s vs %s", id, again)
	}
}

func TestCanonicalJSONMissingVersion(t *testing.T) {
	p := testPost()
	p.Version = nil
	if _, err := CanonicalJSON(p); !errors.Is(err, ErrVersionMissing) {
		t.Fatalf("expected ErrVersionMissing, got %v", err)
	}
}

func TestUnescapeControl(t *testing.T) {
	in := []byte(`{"text":"line1\nline2\u0001end"}`)
	out := unescapeControl(in)
	if !bytes.Contains(out, []byte("line1\nline2\x01end")) {
		t.Fatalf("control characters not re-inserted: %q", out)
	}

	// quotes and backslashes stay escaped
	in = []byte(`{"text":"a\"b\\c"}`)
	out = unescapeControl(in)
	if !bytes.Contains(out, []byte(`a\"b\\c`)) {
		t.Fatalf("quote escapes must be preserved: %q", out)
	}
}

func TestHashDiffersOnEscapedVsLiteral(t *testing.T) {
	p1 := testPost()
	p1.Content = map[string]any{"text": "a\nb"}
	c1, _ := CanonicalJSON(p1)

	p2 := testPost()
	p2.Content = map[string]any{"text": "a b"}
	c2, _ := CanonicalJSON(p2)

	if HashVersionID(c1) == HashVersionID(c2) {
		t.Fatalf("distinct content hashed equal")
	}
}
