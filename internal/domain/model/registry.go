package model

// SubscriptionRecord is the logical tuple (room, socket_id, last_seen_ms);
// the pair (room, socket_id) is unique (spec §3).
type SubscriptionRecord struct {
	Room       Room
	SocketID   string
	LastSeenMs int64
}

// CleanupScope names which reverse-index families a CleanupQueueEntry
// covers.
type CleanupScope string

const (
	ScopeGeohash CleanupScope = "geohash"
	ScopeProject CleanupScope = "project"
)

// CleanupQueueEntry is one row of the distributed cleanup queue (spec §4.7).
type CleanupQueueEntry struct {
	SocketID    string         `json:"socket_id"`
	EnqueuedAt  int64          `json:"enqueued_at"`
	Scope       []CleanupScope `json:"scope"`
}
