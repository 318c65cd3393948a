// Package cleanup implements the distributed Cleanup Pipeline (spec §4.7):
// queue orphaned socket ids in the KV registry, drain on connect and
// periodically, drop entries older than 24h unconditionally.
//
// Grounded on the teacher's Hub.runEvictor/performEviction ticker-driven
// reclaim loop, generalized from a local idle-cell sweep to a KV-hosted,
// cross-process queue.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/parkbeat/relay/internal/domain/model"
)

// EntryTTL bounds queue size (spec §4.7: "entries older than 24 hours are
// dropped unconditionally").
const EntryTTL = 24 * time.Hour

// StaleExpiry triggers opportunistic cleanup when a read observes a
// record this old (spec §5).
const StaleExpiry = 20 * time.Second

// Enqueuer is the Registry surface the pipeline depends on.
type Enqueuer interface {
	EnqueueCleanup(ctx context.Context, socketID string, scopes ...model.CleanupScope) error
	DrainCleanupQueue(ctx context.Context, olderThan time.Duration, fn func(model.CleanupQueueEntry) error) error
	Cleanup(ctx context.Context, socketID string, scopes ...model.CleanupScope) error
}

// Pipeline drives enqueue/drain against a Registrar-like dependency.
type Pipeline struct {
	registry Enqueuer
	logger   *slog.Logger

	drainInterval time.Duration
	stopCh        chan struct{}
}

func New(registry Enqueuer, logger *slog.Logger, drainInterval time.Duration) *Pipeline {
	if drainInterval <= 0 {
		drainInterval = 30 * time.Second
	}
	return &Pipeline{registry: registry, logger: logger, drainInterval: drainInterval, stopCh: make(chan struct{})}
}

// Enqueue records a socket for later cleanup; called on socket close/error
// without blocking teardown on cleanup completion (spec §4.4).
func (p *Pipeline) Enqueue(ctx context.Context, socketID string, scopes ...model.CleanupScope) {
	if err := p.registry.EnqueueCleanup(ctx, socketID, scopes...); err != nil && p.logger != nil {
		p.logger.Error("cleanup: enqueue failed", "socket_id", socketID, "error", err)
	}
}

// Drain runs one pass over the cleanup queue (spec §4.7, §8 property 5:
// "within one drain cycle every key referencing s is gone").
func (p *Pipeline) Drain(ctx context.Context) error {
	return p.registry.DrainCleanupQueue(ctx, EntryTTL, func(entry model.CleanupQueueEntry) error {
		return p.registry.Cleanup(ctx, entry.SocketID, entry.Scope...)
	})
}

// OpportunisticCleanup is invoked by the registry/fanout read path when a
// SubscriptionRecord is observed with LastSeenMs older than StaleExpiry
// (spec §4.7 "independently..."). Cleanup is idempotent so duplicate
// concurrent triggers are harmless (spec §9's Open Question 3, DESIGN.md).
func (p *Pipeline) OpportunisticCleanup(ctx context.Context, socketID string) {
	if err := p.registry.Cleanup(ctx, socketID); err != nil && p.logger != nil {
		p.logger.Warn("cleanup: opportunistic cleanup failed", "socket_id", socketID, "error", err)
	}
}

// RunLoop drains the queue on a ticker until the context is cancelled or
// Stop is called. Callers should also call Drain once synchronously on
// process start ("every connecting... process drains the queue").
func (p *Pipeline) RunLoop(ctx context.Context) {
	ticker := time.NewTicker(p.drainInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			if err := p.Drain(ctx); err != nil && p.logger != nil {
				p.logger.Error("cleanup: drain cycle failed", "error", err)
			}
		}
	}
}

func (p *Pipeline) Stop() { close(p.stopCh) }

// IsStale reports whether a SubscriptionRecord should trigger opportunistic
// cleanup (spec §5's "20s without a ping").
func IsStale(rec model.SubscriptionRecord, now time.Time) bool {
	return now.Sub(time.UnixMilli(rec.LastSeenMs)) > StaleExpiry
}
