package http

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/parkbeat/relay/internal/conn"
	"github.com/parkbeat/relay/internal/domain/model"
	"github.com/parkbeat/relay/internal/registry"
	"github.com/parkbeat/relay/internal/store/postgres"
)

// fakeKV is an in-memory double satisfying kv.Client, mirroring the one
// internal/registry keeps unexported for its own tests.
type fakeKV struct {
	mu   sync.Mutex
	hash map[string]map[string]string
	set  map[string]map[string]struct{}
}

func newFakeKV() *fakeKV {
	return &fakeKV{hash: make(map[string]map[string]string), set: make(map[string]map[string]struct{})}
}

func (f *fakeKV) HSet(_ context.Context, hashKey, field, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.hash[hashKey]
	if !ok {
		h = make(map[string]string)
		f.hash[hashKey] = h
	}
	h[field] = value
	return nil
}

func (f *fakeKV) HDel(_ context.Context, hashKey string, fields ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.hash[hashKey]
	if !ok {
		return nil
	}
	for _, fld := range fields {
		delete(h, fld)
	}
	return nil
}

func (f *fakeKV) HLen(_ context.Context, hashKey string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.hash[hashKey])), nil
}

func (f *fakeKV) HGetAll(_ context.Context, hashKey string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.hash[hashKey]))
	for k, v := range f.hash[hashKey] {
		out[k] = v
	}
	return out, nil
}

func (f *fakeKV) SAdd(_ context.Context, setKey string, members ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.set[setKey]
	if !ok {
		s = make(map[string]struct{})
		f.set[setKey] = s
	}
	for _, m := range members {
		s[m] = struct{}{}
	}
	return nil
}

func (f *fakeKV) SRem(_ context.Context, setKey string, members ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.set[setKey]
	if !ok {
		return nil
	}
	for _, m := range members {
		delete(s, m)
	}
	return nil
}

func (f *fakeKV) SMembers(_ context.Context, setKey string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.set[setKey]))
	for m := range f.set[setKey] {
		out = append(out, m)
	}
	return out, nil
}

func (f *fakeKV) Del(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.hash, k)
		delete(f.set, k)
	}
	return nil
}

type fakeProjectReader struct {
	projects map[string]model.Project
}

func (f *fakeProjectReader) GetProject(_ context.Context, id string) (*model.Project, error) {
	p, ok := f.projects[id]
	if !ok {
		return nil, postgres.ErrNotFound
	}
	return &p, nil
}

func newTestHandler() (*Handler, *conn.Hub, *registry.Registry) {
	reg := registry.New(newFakeKV(), 0, 0)
	hub := conn.New(nil, func(string) {})
	projects := &fakeProjectReader{projects: map[string]model.Project{
		"p1": {ID: "p1", Geohash: "dr5ru"},
	}}
	logger := slog.New(slog.NewTextHandler(bytes.NewBuffer(nil), nil))
	return NewHandler(hub, reg, projects, logger), hub, reg
}

func TestKillActiveSocketsUnregistersAndCleansUp(t *testing.T) {
	h, hub, reg := newTestHandler()
	hub.Register("sock1", nil)
	if err := reg.SubscribeGeohash(context.Background(), "sock1", "dr5r", time.Now()); err != nil {
		t.Fatalf("seed subscribe failed: %v", err)
	}

	body, _ := json.Marshal(killActiveSocketsRequest{SocketID: "sock1"})
	req := httptest.NewRequest(http.MethodPost, "/api/tree/killActiveSockets", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if hub.IsConnected("sock1") {
		t.Fatal("expected socket to be unregistered")
	}
	subs, err := reg.ActiveSubscribers(context.Background(), model.GeohashRoom("dr5r"))
	if err != nil || len(subs) != 0 {
		t.Fatalf("expected registry entries cleaned up, got %+v (err %v)", subs, err)
	}
}

func TestKillActiveSocketsMissingIDIsBadRequest(t *testing.T) {
	h, _, _ := newTestHandler()
	req := httptest.NewRequest(http.MethodPost, "/api/tree/killActiveSockets", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()

	h.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestGetProjectReturnsProjectData(t *testing.T) {
	h, _, _ := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/api/tree/getProject?id=p1", nil)
	rec := httptest.NewRecorder()

	h.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var p model.Project
	if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.ID != "p1" {
		t.Fatalf("expected project p1, got %q", p.ID)
	}
}

func TestGetProjectUnknownIDIsNotFound(t *testing.T) {
	h, _, _ := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/api/tree/getProject?id=nope", nil)
	rec := httptest.NewRecorder()

	h.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestGetProjectMissingIDIsBadRequest(t *testing.T) {
	h, _, _ := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/api/tree/getProject", nil)
	rec := httptest.NewRecorder()

	h.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestProxyUserEchoesID(t *testing.T) {
	h, _, _ := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/api/users/u42", nil)
	rec := httptest.NewRecorder()

	h.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var out map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["id"] != "u42" {
		t.Fatalf("expected id u42, got %q", out["id"])
	}
}
