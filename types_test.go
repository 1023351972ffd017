package tent

import "testing"

func TestPostTypeWildcardMatching(t *testing.T) {
	cases := []struct {
		name   string
		filter PostType
		post   PostType
		want   bool
	}{
		{"bare-fragment filter matches subtype", TypeStatus, TypeStatusReply, true},
		{"bare-fragment filter matches itself", TypeStatus, TypeStatus, true},
		{"fragmentless filter matches subtype", PostType("https://tent.io/types/status/v0"), TypeStatusReply, true},
		{"exact filter matches exactly", TypeStatusReply, TypeStatusReply, true},
		{"exact filter rejects other subtype", TypeStatusReply, TypeStatus, false},
		{"exact filter rejects sibling subtype", TypeRelationshipInitial, TypeRelationshipSubscriber, false},
		{"wildcard rejects other base", TypeStatus, TypeCredentials, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.filter.Matches(tc.post); got != tc.want {
				t.Errorf("%q.Matches(%q) = %v, want %v", tc.filter, tc.post, got, tc.want)
			}
		})
	}
}

func TestPostTypeIsWildcard(t *testing.T) {
	if !TypeStatus.IsWildcard() {
		t.Error("a bare trailing fragment separator must be a wildcard")
	}
	if !PostType("https://tent.io/types/status/v0").IsWildcard() {
		t.Error("a type without a fragment must be a wildcard")
	}
	if TypeStatusReply.IsWildcard() {
		t.Error("a type with a subtype must be exact")
	}
}

func TestSamePostTypeAcrossFilters(t *testing.T) {
	filters := []PostType{TypeCredentials, TypeStatus}
	if !SamePostType(filters, TypeStatusReply) {
		t.Error("wildcard filter list must match a subtype of the base")
	}
	if SamePostType(filters, TypeApp) {
		t.Error("filter list must reject an unlisted base")
	}
}
