package conn

import "time"

// Option configures a Hub. Kept from the teacher's functional-options
// pattern (internal/domain/registry/options.go in the source tree).
type Option func(*Hub)

func WithEvictionInterval(d time.Duration) Option {
	return func(h *Hub) { h.evictionInterval = d }
}

func WithIdleTimeout(d time.Duration) Option {
	return func(h *Hub) { h.idleTimeout = d }
}

func WithMailboxSize(size int) Option {
	return func(h *Hub) { h.mailboxSize = size }
}
