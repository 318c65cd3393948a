// Package registry implements the Subscription Registry (spec §4.2): pure
// logic over the KV Registry (internal/kv) maintaining the four logical
// maps described in spec §2 item 2 and §6's KV schema.
//
// Grounded on the teacher's registry.Hubber contract shape (a narrow
// interface in front of a struct holding the KV handle), generalized from
// an in-memory actor registry to a KV-backed, cross-process one.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/sony/gobreaker"

	"github.com/parkbeat/relay/internal/domain/model"
	"github.com/parkbeat/relay/internal/kv"
)

// DefaultIdleExpiry and DefaultStaleExpiry are the timeouts named in §5.
const (
	DefaultIdleExpiry  = 15 * time.Second
	DefaultStaleExpiry = 20 * time.Second
)

// Registrar is the external API consumed by the Connection Layer and
// Project Event Handlers.
type Registrar interface {
	SubscribeGeohash(ctx context.Context, socketID, geohash string, now time.Time) error
	UnsubscribeGeohash(ctx context.Context, socketID, geohash string) error
	SubscribeProject(ctx context.Context, socketID, projectID string, now time.Time) error
	UnsubscribeProject(ctx context.Context, socketID, projectID string) error
	ActiveSubscribers(ctx context.Context, room model.Room, exclude ...string) ([]model.SubscriptionRecord, error)
	Cleanup(ctx context.Context, socketID string, scopes ...model.CleanupScope) error
	EnqueueCleanup(ctx context.Context, socketID string, scopes ...model.CleanupScope) error
	DrainCleanupQueue(ctx context.Context, olderThan time.Duration, fn func(model.CleanupQueueEntry) error) error
}

// Registry implements [Registrar] over internal/kv, with a circuit breaker
// around every storage call so a KV outage fails closed per spec §7
// ("Storage" error kind) instead of hanging every connection.
type Registry struct {
	kv          kv.Client
	breaker     *gobreaker.CircuitBreaker
	idleExpiry  time.Duration
	recencyWin  time.Duration
}

// New builds a Registry. recencyWindow defaults to idleExpiry when zero,
// matching spec §4.2 ("RECENCY_WINDOW default = IDLE_EXPIRY").
func New(store kv.Client, idleExpiry, recencyWindow time.Duration) *Registry {
	if idleExpiry <= 0 {
		idleExpiry = DefaultIdleExpiry
	}
	if recencyWindow <= 0 {
		recencyWindow = idleExpiry
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "registry-kv",
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
	})
	return &Registry{kv: store, breaker: cb, idleExpiry: idleExpiry, recencyWin: recencyWindow}
}

func socketGeohashesKey(socketID string) string { return "sockets:" + socketID + ":geohashes" }
func socketProjectsKey(socketID string) string  { return "sockets:" + socketID + ":projects" }
func roomKey(room model.Room) string            { return room.String() + ":sockets" }

const cleanupQueueKey = "cleanupQueue"

func (r *Registry) call(fn func() error) error {
	_, err := r.breaker.Execute(func() (any, error) { return nil, fn() })
	return err
}

// SubscribeGeohash implements the idempotent add with resubscribe-storm
// damping (spec §4.2).
func (r *Registry) SubscribeGeohash(ctx context.Context, socketID, geohash string, now time.Time) error {
	room := model.GeohashRoom(geohash)
	return r.subscribe(ctx, room, socketGeohashesKey(socketID), socketID, geohash, now)
}

func (r *Registry) UnsubscribeGeohash(ctx context.Context, socketID, geohash string) error {
	room := model.GeohashRoom(geohash)
	return r.unsubscribe(ctx, room, socketGeohashesKey(socketID), socketID, geohash)
}

func (r *Registry) SubscribeProject(ctx context.Context, socketID, projectID string, now time.Time) error {
	room := model.ProjectRoom(projectID)
	return r.subscribe(ctx, room, socketProjectsKey(socketID), socketID, projectID, now)
}

func (r *Registry) UnsubscribeProject(ctx context.Context, socketID, projectID string) error {
	room := model.ProjectRoom(projectID)
	return r.unsubscribe(ctx, room, socketProjectsKey(socketID), socketID, projectID)
}

func (r *Registry) subscribe(ctx context.Context, room model.Room, reverseKey, socketID, member string, now time.Time) error {
	rk := roomKey(room)

	// Damping: skip the write if the socket already has a recent record.
	// The KV contract exposes HGETALL but no single-field HGET (spec §2
	// item 1's primitive list), so recency is checked against the full
	// hash; acceptable because rooms are bounded by expected subscriber
	// counts (spec §4.3 complexity note).
	existing, err := r.hgetAll(ctx, rk)
	if err != nil {
		return err
	}
	if lastSeen, ok := existing[socketID]; ok {
		if ms, convErr := strconv.ParseInt(lastSeen, 10, 64); convErr == nil {
			last := time.UnixMilli(ms)
			if now.Sub(last) < r.recencyWin {
				return nil
			}
		}
	}

	if err := r.call(func() error {
		return r.kv.HSet(ctx, rk, socketID, strconv.FormatInt(now.UnixMilli(), 10))
	}); err != nil {
		return fmt.Errorf("registry: subscribe %s: %w", rk, err)
	}

	if err := r.call(func() error { return r.kv.SAdd(ctx, reverseKey, member) }); err != nil {
		// Best-effort rollback of the just-written forward entry (spec
		// §4.2 failure semantics).
		_ = r.call(func() error { return r.kv.HDel(ctx, rk, socketID) })
		return fmt.Errorf("registry: subscribe reverse-index %s: %w", reverseKey, err)
	}
	return nil
}

func (r *Registry) unsubscribe(ctx context.Context, room model.Room, reverseKey, socketID, member string) error {
	rk := roomKey(room)
	if err := r.call(func() error { return r.kv.HDel(ctx, rk, socketID) }); err != nil {
		return fmt.Errorf("registry: unsubscribe %s: %w", rk, err)
	}
	if err := r.call(func() error { return r.kv.SRem(ctx, reverseKey, member) }); err != nil {
		return fmt.Errorf("registry: unsubscribe reverse-index %s: %w", reverseKey, err)
	}

	// Delete the room hash if it is now empty.
	var n int64
	if err := r.call(func() error {
		var err error
		n, err = r.kv.HLen(ctx, rk)
		return err
	}); err == nil && n == 0 {
		_ = r.call(func() error { return r.kv.Del(ctx, rk) })
	}
	return nil
}

func (r *Registry) hgetAll(ctx context.Context, hashKey string) (map[string]string, error) {
	var out map[string]string
	err := r.call(func() error {
		m, err := r.kv.HGetAll(ctx, hashKey)
		if err != nil {
			return err
		}
		out = m
		return nil
	})
	return out, err
}

// ActiveSubscribers returns socket ids in room minus exclude, without
// filtering by staleness on the read path (spec §4.2). Each record carries
// its LastSeenMs; the caller decides staleness from it and schedules
// opportunistic cleanup (internal/fanout does, via cleanup.IsStale).
func (r *Registry) ActiveSubscribers(ctx context.Context, room model.Room, exclude ...string) ([]model.SubscriptionRecord, error) {
	excluded := make(map[string]struct{}, len(exclude))
	for _, e := range exclude {
		excluded[e] = struct{}{}
	}

	m, err := r.hgetAll(ctx, roomKey(room))
	if err != nil {
		return nil, fmt.Errorf("registry: active subscribers %s: %w", room, err)
	}

	records := make([]model.SubscriptionRecord, 0, len(m))
	for socketID, lastSeenStr := range m {
		if _, skip := excluded[socketID]; skip {
			continue
		}
		ms, _ := strconv.ParseInt(lastSeenStr, 10, 64)
		records = append(records, model.SubscriptionRecord{Room: room, SocketID: socketID, LastSeenMs: ms})
	}
	return records, nil
}

// Cleanup removes all records for socketID in the named scopes, using the
// socket→{rooms} reverse index as authoritative (spec §9's redesign note
// on reverse-index drift) and tolerating missing forward-side keys.
func (r *Registry) Cleanup(ctx context.Context, socketID string, scopes ...model.CleanupScope) error {
	if len(scopes) == 0 {
		scopes = []model.CleanupScope{model.ScopeGeohash, model.ScopeProject}
	}
	for _, scope := range scopes {
		switch scope {
		case model.ScopeGeohash:
			if err := r.cleanupScope(ctx, socketID, socketGeohashesKey(socketID), model.GeohashRoom); err != nil {
				return err
			}
		case model.ScopeProject:
			if err := r.cleanupScope(ctx, socketID, socketProjectsKey(socketID), model.ProjectRoom); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Registry) cleanupScope(ctx context.Context, socketID, reverseKey string, roomOf func(string) model.Room) error {
	var members []string
	err := r.call(func() error {
		ms, err := r.kv.SMembers(ctx, reverseKey)
		if err != nil {
			return err
		}
		members = ms
		return nil
	})
	if err != nil {
		return fmt.Errorf("registry: cleanup read %s: %w", reverseKey, err)
	}

	for _, m := range members {
		rk := roomKey(roomOf(m))
		_ = r.call(func() error { return r.kv.HDel(ctx, rk, socketID) })
	}
	return r.call(func() error { return r.kv.Del(ctx, reverseKey) })
}

// EnqueueCleanup writes a CleanupQueueEntry for socketID (spec §4.7).
func (r *Registry) EnqueueCleanup(ctx context.Context, socketID string, scopes ...model.CleanupScope) error {
	entry := model.CleanupQueueEntry{SocketID: socketID, EnqueuedAt: time.Now().UnixMilli(), Scope: scopes}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("registry: marshal cleanup entry: %w", err)
	}
	if err := r.call(func() error { return r.kv.HSet(ctx, cleanupQueueKey, socketID, string(data)) }); err != nil {
		return fmt.Errorf("registry: enqueue cleanup %s: %w", socketID, err)
	}
	return nil
}

// DrainCleanupQueue runs fn for every queued entry, dropping (without
// calling fn) any entry older than olderThan, and removing entries on
// success. Failed entries are left for the next drain (spec §4.7).
func (r *Registry) DrainCleanupQueue(ctx context.Context, olderThan time.Duration, fn func(model.CleanupQueueEntry) error) error {
	m, err := r.hgetAll(ctx, cleanupQueueKey)
	if err != nil {
		return fmt.Errorf("registry: drain cleanup queue: %w", err)
	}

	now := time.Now()
	for socketID, raw := range m {
		var entry model.CleanupQueueEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			// Corrupt entry; drop it so it doesn't jam the queue forever.
			_ = r.call(func() error { return r.kv.HDel(ctx, cleanupQueueKey, socketID) })
			continue
		}

		if now.Sub(time.UnixMilli(entry.EnqueuedAt)) > olderThan {
			_ = r.call(func() error { return r.kv.HDel(ctx, cleanupQueueKey, socketID) })
			continue
		}

		if err := fn(entry); err != nil {
			continue // leave for retry
		}
		_ = r.call(func() error { return r.kv.HDel(ctx, cleanupQueueKey, socketID) })
	}
	return nil
}
