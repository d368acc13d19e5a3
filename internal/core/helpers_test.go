package core

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vovakirdan/roomchat-server/internal/docstore"
	"github.com/vovakirdan/roomchat-server/internal/docstore/memory"
)

var (
	alice = Identity{UserID: "u-alice", DisplayName: "A"}
	bob   = Identity{UserID: "u-bob", DisplayName: "B"}
)

func fastRetry() RetryPolicy {
	return RetryPolicy{InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond, MaxAttempts: 3}
}

func newTestHub(t *testing.T) (*Hub, *memory.Store) {
	t.Helper()

	store := memory.New()
	t.Cleanup(func() { store.Close() })
	return NewHub(store, Options{Retry: fastRetry()}), store
}

func mustCreateRoom(t *testing.T, h *Hub, name string) string {
	t.Helper()

	id, err := h.Directory.CreateRoom(context.Background(), name)
	if err != nil {
		t.Fatalf("create room %q: %v", name, err)
	}
	return id
}

func mustReceive[T any](t *testing.T, sub *Subscription[T]) T {
	t.Helper()

	select {
	case v, ok := <-sub.C():
		if !ok {
			t.Fatalf("subscription ended: %v", sub.Err())
		}
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for value")
	}
	var zero T
	return zero
}

// waitFor reads values until match accepts one.
func waitFor[T any](t *testing.T, sub *Subscription[T], match func(T) bool) T {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case v, ok := <-sub.C():
			if !ok {
				t.Fatalf("subscription ended: %v", sub.Err())
			}
			if match(v) {
				return v
			}
		case <-deadline:
			t.Fatalf("timed out waiting for matching value")
		}
	}
}

// flakyStore wraps a store so tests can break live watches and fail new ones.
type flakyStore struct {
	docstore.Store

	mu        sync.Mutex
	cancels   []context.CancelFunc
	failNext  int
	watchErrs error
}

func (f *flakyStore) Watch(ctx context.Context, collection string, q docstore.Query) (<-chan docstore.Snapshot, error) {
	f.mu.Lock()
	if f.failNext > 0 {
		f.failNext--
		f.mu.Unlock()
		return nil, f.watchErrs
	}
	ctx, cancel := context.WithCancel(ctx)
	f.cancels = append(f.cancels, cancel)
	f.mu.Unlock()

	return f.Store.Watch(ctx, collection, q)
}

func (f *flakyStore) breakWatches() {
	f.mu.Lock()
	cancels := f.cancels
	f.cancels = nil
	f.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

func (f *flakyStore) failWatches(n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext = n
	f.watchErrs = err
}

var errStoreDown = errors.New("store unavailable")

// faultyStore fails a number of writes whose path contains a marker.
type faultyStore struct {
	docstore.Store

	mu     sync.Mutex
	faults []fault
}

type fault struct {
	op     string
	marker string
	left   int
}

func (f *faultyStore) failNext(op, marker string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults = append(f.faults, fault{op: op, marker: marker, left: n})
}

func (f *faultyStore) check(op, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.faults {
		ft := &f.faults[i]
		if ft.op == op && ft.left > 0 && strings.Contains(path, ft.marker) {
			ft.left--
			return errStoreDown
		}
	}
	return nil
}

func (f *faultyStore) Set(ctx context.Context, path string, fields docstore.Fields, opts ...docstore.SetOption) error {
	if err := f.check("set", path); err != nil {
		return err
	}
	return f.Store.Set(ctx, path, fields, opts...)
}

func (f *faultyStore) Create(ctx context.Context, collection string, fields docstore.Fields) (string, error) {
	if err := f.check("create", collection); err != nil {
		return "", err
	}
	return f.Store.Create(ctx, collection, fields)
}

func newFaultyHub(t *testing.T) (*Hub, *faultyStore) {
	t.Helper()

	mem := memory.New()
	t.Cleanup(func() { mem.Close() })
	store := &faultyStore{Store: mem}
	return NewHub(store, Options{Retry: fastRetry()}), store
}
