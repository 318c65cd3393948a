package ws

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/parkbeat/relay/internal/conn"
	"github.com/parkbeat/relay/internal/domain/event"
	"github.com/parkbeat/relay/internal/domain/model"
	"github.com/parkbeat/relay/internal/protocol"
	"github.com/parkbeat/relay/internal/service"
	"github.com/parkbeat/relay/internal/store/postgres"
)

type fakeStore struct {
	mu       sync.Mutex
	projects map[string]model.Project
}

func newFakeStore() *fakeStore { return &fakeStore{projects: make(map[string]model.Project)} }

func (f *fakeStore) GetProject(_ context.Context, id string) (*model.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.projects[id]
	if !ok {
		return nil, postgres.ErrNotFound
	}
	return &p, nil
}
func (f *fakeStore) UpsertProject(_ context.Context, p *model.Project) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.projects[p.ID] = *p
	return nil
}
func (f *fakeStore) DeleteProject(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.projects, id)
	return nil
}
func (f *fakeStore) ListByGeohashPrefix(_ context.Context, prefix string) ([]model.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Project
	for _, p := range f.projects {
		if len(p.Geohash) >= len(prefix) && p.Geohash[:len(prefix)] == prefix {
			out = append(out, p)
		}
	}
	return out, nil
}
func (f *fakeStore) ListImages(_ context.Context, _ string) ([]model.ProjectImage, error) { return nil, nil }
func (f *fakeStore) ListSuggestions(_ context.Context, _ string) ([]model.ProjectSuggestion, error) {
	return nil, nil
}
func (f *fakeStore) ListContributions(_ context.Context, _ string) ([]model.ProjectContribution, error) {
	return nil, nil
}
func (f *fakeStore) InsertContributionIfAbsent(_ context.Context, _ model.ProjectContribution) (bool, error) {
	return true, nil
}

type fakeRegistrar struct {
	mu   sync.Mutex
	subs map[string]bool
}

func newFakeRegistrar() *fakeRegistrar { return &fakeRegistrar{subs: make(map[string]bool)} }

func (f *fakeRegistrar) SubscribeGeohash(_ context.Context, socketID, geohash string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs["geohash:"+socketID+":"+geohash] = true
	return nil
}
func (f *fakeRegistrar) UnsubscribeGeohash(_ context.Context, socketID, geohash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs, "geohash:"+socketID+":"+geohash)
	return nil
}
func (f *fakeRegistrar) SubscribeProject(_ context.Context, socketID, projectID string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs["project:"+socketID+":"+projectID] = true
	return nil
}
func (f *fakeRegistrar) UnsubscribeProject(_ context.Context, socketID, projectID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs, "project:"+socketID+":"+projectID)
	return nil
}

type fakeJobs struct {
	err      error
	enqueued []event.ValidateImagePayload
}

func (f *fakeJobs) EnqueueValidateImage(_ context.Context, payload event.ValidateImagePayload) error {
	f.enqueued = append(f.enqueued, payload)
	return f.err
}

func newTestHandler(store *fakeStore, reg *fakeRegistrar, jobs JobEnqueuer) *Handler {
	svc := service.NewProjectService(store, reg, nil)
	return &Handler{
		logger:     nil,
		registry:   reg,
		projects:   svc,
		jobs:       jobs,
		idleExpiry: 15 * time.Second,
	}
}

func recvEvent(t *testing.T, c conn.Conn) event.Eventer {
	t.Helper()
	select {
	case ev := <-c.Recv():
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestOnPingRefreshesSubscriptionsAndRepliesPong(t *testing.T) {
	h := newTestHandler(newFakeStore(), newFakeRegistrar(), nil)
	c := conn.New(context.Background(), 4)
	defer c.Close()

	state := newSocketState()
	state.addGeohash("dr5r")
	state.addProject("p1")

	h.onPing(context.Background(), c, state)

	ev := recvEvent(t, c)
	if ev.GetKind() != event.KindPong {
		t.Fatalf("expected pong, got %s", ev.GetKind())
	}
}

func TestOnSubscribeSendsSnapshotAndTracksRoom(t *testing.T) {
	store := newFakeStore()
	store.projects["p1"] = model.Project{ID: "p1", Geohash: "dr5ru"}
	h := newTestHandler(store, newFakeRegistrar(), nil)
	c := conn.New(context.Background(), 4)
	defer c.Close()

	state := newSocketState()
	h.onSubscribe(context.Background(), c, state, event.SubscribePayload{Geohash: "dr5r", ShouldSubscribe: true})

	ev := recvEvent(t, c)
	if ev.GetKind() != event.KindSubscribe {
		t.Fatalf("expected subscribe snapshot frame, got %s", ev.GetKind())
	}
	geohashes, _ := state.snapshot()
	if len(geohashes) != 1 || geohashes[0] != "dr5r" {
		t.Fatalf("expected geohash dr5r tracked, got %v", geohashes)
	}
}

func TestOnSubscribeUnsubscribeClearsRoom(t *testing.T) {
	h := newTestHandler(newFakeStore(), newFakeRegistrar(), nil)
	c := conn.New(context.Background(), 4)
	defer c.Close()

	state := newSocketState()
	state.addGeohash("dr5r")

	h.onSubscribe(context.Background(), c, state, event.SubscribePayload{Geohash: "dr5r", ShouldSubscribe: false})

	geohashes, _ := state.snapshot()
	if len(geohashes) != 0 {
		t.Fatalf("expected geohash removed, got %v", geohashes)
	}
}

func TestOnSubscribeProjectSendsProjectData(t *testing.T) {
	store := newFakeStore()
	store.projects["p1"] = model.Project{ID: "p1", Geohash: "dr5ru"}
	h := newTestHandler(store, newFakeRegistrar(), nil)
	c := conn.New(context.Background(), 4)
	defer c.Close()

	state := newSocketState()
	h.onSubscribeProject(context.Background(), c, state, event.SubscribeProjectPayload{ProjectID: "p1", ShouldSubscribe: true})

	ev := recvEvent(t, c)
	if ev.GetKind() != event.KindProjectData {
		t.Fatalf("expected project data frame, got %s", ev.GetKind())
	}
	_, projectIDs := state.snapshot()
	if len(projectIDs) != 1 || projectIDs[0] != "p1" {
		t.Fatalf("expected project p1 tracked, got %v", projectIDs)
	}
}

func TestDispatchDeleteProjectSendsErrorOnAuthFailure(t *testing.T) {
	store := newFakeStore()
	store.projects["p1"] = model.Project{ID: "p1", CreatorID: "owner"}
	h := newTestHandler(store, newFakeRegistrar(), nil)
	c := conn.New(context.Background(), 4)
	defer c.Close()

	ce := &protocol.ClientEvent{Kind: event.KindDeleteProject, DeleteProject: &event.DeleteProjectPayload{ID: "p1"}}
	h.dispatch(context.Background(), c, newSocketState(), "someoneElse", false, ce)

	ev := recvEvent(t, c)
	errEv, ok := ev.(*event.Envelope)
	if !ok {
		t.Fatalf("expected envelope, got %T", ev)
	}
	payload, ok := errEv.GetPayload().(event.ErrorPayload)
	if !ok {
		t.Fatalf("expected error payload, got %T", errEv.GetPayload())
	}
	if payload.Code != errCode(service.ErrNotAuthorized) {
		t.Fatalf("expected not-authorized code, got %s", payload.Code)
	}
}

func TestDispatchValidateImageEnqueuesJob(t *testing.T) {
	jobs := &fakeJobs{}
	h := newTestHandler(newFakeStore(), newFakeRegistrar(), jobs)
	c := conn.New(context.Background(), 4)
	defer c.Close()

	payload := &event.ValidateImagePayload{ProjectID: "p1", RequestID: "r1"}
	ce := &protocol.ClientEvent{Kind: event.KindValidateImage, ValidateImage: payload}
	h.dispatch(context.Background(), c, newSocketState(), "u1", false, ce)

	if len(jobs.enqueued) != 1 || jobs.enqueued[0].RequestID != "r1" {
		t.Fatalf("expected validateImage job enqueued, got %v", jobs.enqueued)
	}
}

func TestDispatchValidateImageSendsErrorOnFailure(t *testing.T) {
	jobs := &fakeJobs{err: errors.New("queue down")}
	h := newTestHandler(newFakeStore(), newFakeRegistrar(), jobs)
	c := conn.New(context.Background(), 4)
	defer c.Close()

	ce := &protocol.ClientEvent{Kind: event.KindValidateImage, ValidateImage: &event.ValidateImagePayload{ProjectID: "p1"}}
	h.dispatch(context.Background(), c, newSocketState(), "u1", false, ce)

	ev := recvEvent(t, c)
	if ev.GetKind() != event.KindError {
		t.Fatalf("expected error frame, got %s", ev.GetKind())
	}
}

func TestDispatchValidateImageNoopWithoutJobEnqueuer(t *testing.T) {
	h := newTestHandler(newFakeStore(), newFakeRegistrar(), nil)
	c := conn.New(context.Background(), 4)
	defer c.Close()

	ce := &protocol.ClientEvent{Kind: event.KindValidateImage, ValidateImage: &event.ValidateImagePayload{ProjectID: "p1"}}
	h.dispatch(context.Background(), c, newSocketState(), "u1", false, ce)

	select {
	case ev := <-c.Recv():
		t.Fatalf("expected no frame, got %v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestErrCodeMapsKnownErrors(t *testing.T) {
	cases := map[error]string{
		service.ErrCannotDeleteActive: "cannot-delete-active",
		service.ErrNotAuthorized:      "not-authorized",
		errors.New("boom"):            "delete-project-failed",
	}
	for err, want := range cases {
		if got := errCode(err); got != want {
			t.Fatalf("errCode(%v) = %s, want %s", err, got, want)
		}
	}
}
