package registry

import (
	"context"
	"sync"
)

// fakeKV is an in-memory double satisfying kv.Client, used because the KV
// Registry primitives are the only surface the Subscription Registry
// depends on (SPEC_FULL.md §1, Testing).
type fakeKV struct {
	mu    sync.Mutex
	hash  map[string]map[string]string
	set   map[string]map[string]struct{}
}

func newFakeKV() *fakeKV {
	return &fakeKV{
		hash: make(map[string]map[string]string),
		set:  make(map[string]map[string]struct{}),
	}
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
