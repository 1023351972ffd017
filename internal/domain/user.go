package domain

import "time"

// User is a local or federated identity. Internal users are resolved
// locally; external ones over the network. Users are never hard-deleted.
type User struct {
	ID               string     `json:"id"`
	Entity           string     `json:"entity"`
	PreviousEntities []string   `json:"previousEntities,omitempty"`
	Handle           string     `json:"handle,omitempty"`
	Internal         bool       `json:"internal"`
	MetaPostID       string     `json:"metaPostId,omitempty"`
	LastDiscoveredAt *time.Time `json:"lastDiscoveredAt,omitempty"`
}

// Bewit is the backing record of one issued capability token, pruned on
// expiry.
type Bewit struct {
	ID        string    `json:"id"`
	Key       string    `json:"key"`
	ExpiresAt time.Time `json:"expiresAt"`
}
