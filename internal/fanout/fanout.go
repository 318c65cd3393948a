// Package fanout implements the Room Fan-out Engine (spec §4.3): given a
// mutated project's geohash, compute the deduplicated set of sockets
// subscribed to any prefix of that geohash.
package fanout

import (
	"context"
	"fmt"
	"time"

	"github.com/parkbeat/relay/internal/cleanup"
	"github.com/parkbeat/relay/internal/domain/model"
	"github.com/parkbeat/relay/internal/geo"
)

// Subscribers is the subset of registry.Registrar the engine depends on.
type Subscribers interface {
	ActiveSubscribers(ctx context.Context, room model.Room, exclude ...string) ([]model.SubscriptionRecord, error)
}

// StaleNotifier lets the engine trigger cleanup for sockets it observes as
// stale while resolving a notify set, independently of the periodic drain
// (spec §4.7 "independently... schedules an opportunistic cleanup").
type StaleNotifier interface {
	OpportunisticCleanup(ctx context.Context, socketID string)
}

// Engine computes notify sets over geohash prefixes.
type Engine struct {
	registry Subscribers
	stale    StaleNotifier
}

// Option configures an Engine.
type Option func(*Engine)

// WithStaleNotifier wires a cleanup trigger invoked for every
// SubscriptionRecord the engine reads whose LastSeenMs is older than
// cleanup.StaleExpiry.
func WithStaleNotifier(n StaleNotifier) Option {
	return func(e *Engine) { e.stale = n }
}

func New(registry Subscribers, opts ...Option) *Engine {
	e := &Engine{registry: registry}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// notifyStale schedules an opportunistic cleanup for every stale record,
// decoupled from ctx so it isn't cut short once the fan-out request that
// happened to observe it completes.
func (e *Engine) notifyStale(records []model.SubscriptionRecord) {
	if e.stale == nil {
		return
	}
	now := time.Now()
	for _, rec := range records {
		if cleanup.IsStale(rec, now) {
			go e.stale.OpportunisticCleanup(context.Background(), rec.SocketID)
		}
	}
}

// NotifySet walks the prefixes of geohash longest-first, unions the
// subscriber sets (spec §4.3's algorithm), and returns each socket id
// exactly once even if it is subscribed to several prefixes of geohash
// (spec §8 property 3).
func (e *Engine) NotifySet(ctx context.Context, geohash string, excludeSocket string) ([]string, error) {
	seen := make(map[string]struct{})
	var exclude []string
	if excludeSocket != "" {
		exclude = []string{excludeSocket}
	}

	for _, prefix := range geo.Prefixes(geohash) {
		subs, err := e.registry.ActiveSubscribers(ctx, model.GeohashRoom(prefix), exclude...)
		if err != nil {
			return nil, fmt.Errorf("fanout: notify set for prefix %s: %w", prefix, err)
		}
		e.notifyStale(subs)
		for _, s := range subs {
			seen[s.SocketID] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	return out, nil
}

// ProjectRoomSubscribers returns the sockets subscribed to a single
// project's room.
func (e *Engine) ProjectRoomSubscribers(ctx context.Context, projectID, excludeSocket string) ([]string, error) {
	var exclude []string
	if excludeSocket != "" {
		exclude = []string{excludeSocket}
	}
	subs, err := e.registry.ActiveSubscribers(ctx, model.ProjectRoom(projectID), exclude...)
	if err != nil {
		return nil, fmt.Errorf("fanout: project room subscribers %s: %w", projectID, err)
	}
	e.notifyStale(subs)
	out := make([]string, 0, len(subs))
	for _, s := range subs {
		out = append(out, s.SocketID)
	}
	return out, nil
}

// ClusterGroups buckets projects lying outside the subscribed prefix into a
// precision-2 geohash histogram, resolving spec §4.1's undefined "groups"
// aggregate (DESIGN.md Open Question 4).
func ClusterGroups(subscribedPrefix string, projects []model.Project) []model.ClusterGroup {
	const clusterPrecision = 2
	counts := make(map[string]int)
	for _, p := range projects {
		if geo.IsPrefixOf(subscribedPrefix, p.Geohash) {
			continue
		}
		bucket := p.Geohash
		if len(bucket) > clusterPrecision {
			bucket = bucket[:clusterPrecision]
		}
		counts[bucket]++
	}

	out := make([]model.ClusterGroup, 0, len(counts))
	for prefix, n := range counts {
		out = append(out, model.ClusterGroup{Prefix: prefix, Count: n})
	}
	return out
}
