package fanout

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/parkbeat/relay/internal/cleanup"
	"github.com/parkbeat/relay/internal/domain/model"
)

type stubRegistry struct {
	byRoom map[string][]model.SubscriptionRecord
}

func (s *stubRegistry) ActiveSubscribers(_ context.Context, room model.Room, exclude ...string) ([]model.SubscriptionRecord, error) {
	excluded := make(map[string]struct{}, len(exclude))
	for _, e := range exclude {
		excluded[e] = struct{}{}
	}
	var out []model.SubscriptionRecord
	for _, rec := range s.byRoom[room.String()] {
		if _, skip := excluded[rec.SocketID]; skip {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func TestNotifySetDeduplicatesAcrossPrefixes(t *testing.T) {
	reg := &stubRegistry{byRoom: map[string][]model.SubscriptionRecord{
		"geohash:a":    {{SocketID: "s1"}},
		"geohash:ab":   {{SocketID: "s1"}},
		"geohash:abc":  {{SocketID: "s1"}, {SocketID: "s2"}},
		"geohash:abcd": {},
	}}
	e := New(reg)

	ids, err := e.NotifySet(context.Background(), "abcdef", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 unique subscribers, got %v", ids)
	}
}

func TestNotifySetExcludesOrigin(t *testing.T) {
	reg := &stubRegistry{byRoom: map[string][]model.SubscriptionRecord{
		"geohash:a": {{SocketID: "origin"}, {SocketID: "other"}},
	}}
	e := New(reg)

	ids, err := e.NotifySet(context.Background(), "a", "origin")
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != "other" {
		t.Fatalf("expected only 'other', got %v", ids)
	}
}

type fakeStaleNotifier struct {
	mu      sync.Mutex
	cleaned []string
}

func (f *fakeStaleNotifier) OpportunisticCleanup(_ context.Context, socketID string) {
	f.mu.Lock()
	f.cleaned = append(f.cleaned, socketID)
	f.mu.Unlock()
}

func (f *fakeStaleNotifier) awaitCleaned(t *testing.T, want string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		for _, id := range f.cleaned {
			if id == want {
				f.mu.Unlock()
				return
			}
		}
		f.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected OpportunisticCleanup(%q) to have been called", want)
}

func TestNotifySetTriggersOpportunisticCleanupForStaleRecords(t *testing.T) {
	stale := time.Now().Add(-cleanup.StaleExpiry - time.Second).UnixMilli()
	reg := &stubRegistry{byRoom: map[string][]model.SubscriptionRecord{
		"geohash:a": {{SocketID: "fresh", LastSeenMs: time.Now().UnixMilli()}, {SocketID: "stale", LastSeenMs: stale}},
	}}
	notifier := &fakeStaleNotifier{}
	e := New(reg, WithStaleNotifier(notifier))

	if _, err := e.NotifySet(context.Background(), "a", ""); err != nil {
		t.Fatal(err)
	}

	notifier.awaitCleaned(t, "stale")

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	for _, id := range notifier.cleaned {
		if id == "fresh" {
			t.Fatal("did not expect a fresh record to trigger cleanup")
		}
	}
}

func TestProjectRoomSubscribersTriggersOpportunisticCleanupForStaleRecords(t *testing.T) {
	stale := time.Now().Add(-cleanup.StaleExpiry - time.Second).UnixMilli()
	reg := &stubRegistry{byRoom: map[string][]model.SubscriptionRecord{
		"project:p1": {{SocketID: "stale", LastSeenMs: stale}},
	}}
	notifier := &fakeStaleNotifier{}
	e := New(reg, WithStaleNotifier(notifier))

	if _, err := e.ProjectRoomSubscribers(context.Background(), "p1", ""); err != nil {
		t.Fatal(err)
	}

	notifier.awaitCleaned(t, "stale")
}

func TestClusterGroupsExcludesSubscribedViewport(t *testing.T) {
	projects := []model.Project{
		{Geohash: "dr5ru8"},
		{Geohash: "dr5ru9"},
		{Geohash: "9q8yy"},
	}
	groups := ClusterGroups("dr5r", projects)
	if len(groups) != 1 || groups[0].Prefix != "9q" || groups[0].Count != 1 {
		t.Fatalf("unexpected groups: %+v", groups)
	}
}
