package domain

// QueueEnvelope is the small JSON payload handed to the propagation
// queues. Consumers must process idempotently.
type QueueEnvelope struct {
	UserID    string `json:"userId"`
	PostID    string `json:"postId"`
	VersionID string `json:"versionId"`
	Entity    string `json:"entity,omitempty"`
	Target    string `json:"target,omitempty"`
}
