// Package storetest holds the behaviour every docstore backend must share.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/vovakirdan/roomchat-server/internal/docstore"
)

// Factory builds a fresh, empty store for one test.
type Factory func(t *testing.T) docstore.Store

// Run executes the conformance suite against the backend.
func Run(t *testing.T, newStore Factory) {
	t.Run("CreateGetDelete", func(t *testing.T) { testCreateGetDelete(t, newStore(t)) })
	t.Run("SetMerge", func(t *testing.T) { testSetMerge(t, newStore(t)) })
	t.Run("DeleteMissingIsNoop", func(t *testing.T) { testDeleteMissing(t, newStore(t)) })
	t.Run("QueryFilterAndOrder", func(t *testing.T) { testQuery(t, newStore(t)) })
	t.Run("ServerTimestampsIncrease", func(t *testing.T) { testServerTimestamps(t, newStore(t)) })
	t.Run("WatchDeliversChanges", func(t *testing.T) { testWatch(t, newStore(t)) })
	t.Run("WatchEndsOnClose", func(t *testing.T) { testWatchClose(t, newStore(t)) })
	t.Run("RejectsBadInput", func(t *testing.T) { testBadInput(t, newStore(t)) })
}

func testCreateGetDelete(t *testing.T, s docstore.Store) {
	ctx := context.Background()

	id, err := s.Create(ctx, "rooms", docstore.Fields{"name": "general", "size": 3})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	doc, err := s.Get(ctx, docstore.Doc("rooms", id))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if name, _ := doc.String("name"); name != "general" {
		t.Fatalf("unexpected name %q", name)
	}
	if size, ok := doc.Fields["size"].(int64); !ok || size != 3 {
		t.Fatalf("expected int64 size 3, got %#v", doc.Fields["size"])
	}

	if err := s.Delete(ctx, docstore.Doc("rooms", id)); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, docstore.Doc("rooms", id)); !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func testSetMerge(t *testing.T, s docstore.Store) {
	ctx := context.Background()
	path := docstore.Doc("rooms/r1/members", "u1")

	if err := s.Set(ctx, path, docstore.Fields{"displayName": "alice", "joinedAt": docstore.ServerTimestamp}); err != nil {
		t.Fatalf("set: %v", err)
	}
	first, err := s.Get(ctx, path)
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	if err := s.Set(ctx, path, docstore.Fields{"joinedAt": docstore.ServerTimestamp}, docstore.Merge()); err != nil {
		t.Fatalf("merge: %v", err)
	}
	merged, err := s.Get(ctx, path)
	if err != nil {
		t.Fatalf("get merged: %v", err)
	}
	if name, _ := merged.String("displayName"); name != "alice" {
		t.Fatalf("merge dropped displayName: %+v", merged.Fields)
	}
	t1, _ := first.Time("joinedAt")
	t2, _ := merged.Time("joinedAt")
	if !t2.After(t1) {
		t.Fatalf("expected refreshed joinedAt, %v !> %v", t2, t1)
	}

	if err := s.Set(ctx, path, docstore.Fields{"joinedAt": docstore.ServerTimestamp}); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	replaced, err := s.Get(ctx, path)
	if err != nil {
		t.Fatalf("get replaced: %v", err)
	}
	if _, ok := replaced.Fields["displayName"]; ok {
		t.Fatalf("overwrite kept old fields: %+v", replaced.Fields)
	}
}

func testDeleteMissing(t *testing.T, s docstore.Store) {
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := s.Delete(ctx, docstore.Doc("rooms", "ghost")); err != nil {
			t.Fatalf("delete #%d: %v", i+1, err)
		}
	}
}

func testQuery(t *testing.T, s docstore.Store) {
	ctx := context.Background()
	for i, name := range []string{"c", "a", "b", "a"} {
		if _, err := s.Create(ctx, "items", docstore.Fields{"name": name, "n": i}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	docs, err := s.Query(ctx, "items", docstore.Query{OrderBy: "name"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	got := ""
	for _, d := range docs {
		name, _ := d.String("name")
		got += fmt.Sprintf("%s%d", name, d.Fields["n"])
	}
	if got != "a1a3b2c0" {
		t.Fatalf("unexpected order %q", got)
	}

	docs, err = s.Query(ctx, "items", docstore.Query{Where: []docstore.Filter{{Field: "name", Value: "a"}}, Limit: 1})
	if err != nil {
		t.Fatalf("filtered query: %v", err)
	}
	if len(docs) != 1 || docs[0].Fields["n"] != int64(1) {
		t.Fatalf("unexpected filtered result %+v", docs)
	}

	docs, err = s.Query(ctx, "items", docstore.Query{OrderBy: "n", Direction: docstore.Desc})
	if err != nil {
		t.Fatalf("desc query: %v", err)
	}
	if len(docs) != 4 || docs[0].Fields["n"] != int64(3) {
		t.Fatalf("unexpected desc result %+v", docs)
	}

	docs, err = s.Query(ctx, "nothing/here/at", docstore.Query{})
	if err != nil || len(docs) != 0 {
		t.Fatalf("expected empty result, got %v %v", docs, err)
	}
}

func testServerTimestamps(t *testing.T, s docstore.Store) {
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Create(ctx, "log", docstore.Fields{"at": docstore.ServerTimestamp}); err != nil {
				t.Errorf("create: %v", err)
			}
		}()
	}
	wg.Wait()

	docs, err := s.Query(ctx, "log", docstore.Query{OrderBy: "at"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(docs) != 20 {
		t.Fatalf("expected 20 docs, got %d", len(docs))
	}
	seen := make(map[time.Time]bool)
	for _, d := range docs {
		at, ok := d.Time("at")
		if !ok {
			t.Fatalf("missing timestamp: %+v", d.Fields)
		}
		if seen[at] {
			t.Fatalf("duplicate server timestamp %v", at)
		}
		seen[at] = true
	}
}

func testWatch(t *testing.T, s docstore.Store) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := s.Create(ctx, "msgs", docstore.Fields{"text": "first", "at": docstore.ServerTimestamp}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	ch, err := s.Watch(ctx, "msgs", docstore.Query{OrderBy: "at"})
	if err != nil {
		t.Fatalf("watch: %v", err)
	}

	initial := next(t, ch)
	if len(initial.Docs) != 1 || len(initial.Changes) != 1 || initial.Changes[0].Kind != docstore.Added {
		t.Fatalf("unexpected initial snapshot %+v", initial)
	}

	id, err := s.Create(ctx, "msgs", docstore.Fields{"text": "second", "at": docstore.ServerTimestamp})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	added := next(t, ch)
	if len(added.Docs) != 2 || added.Changes[0].Kind != docstore.Added || added.Changes[0].Doc.ID != id {
		t.Fatalf("unexpected added snapshot %+v", added)
	}
	if text, _ := added.Docs[1].String("text"); text != "second" {
		t.Fatalf("expected second doc last, got %q", text)
	}

	if err := s.Set(ctx, docstore.Doc("msgs", id), docstore.Fields{"text": "edited"}, docstore.Merge()); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if modified := next(t, ch); modified.Changes[0].Kind != docstore.Modified {
		t.Fatalf("expected modified, got %+v", modified.Changes)
	}

	if err := s.Delete(ctx, docstore.Doc("msgs", id)); err != nil {
		t.Fatalf("delete: %v", err)
	}
	removed := next(t, ch)
	if len(removed.Docs) != 1 || removed.Changes[0].Kind != docstore.Removed {
		t.Fatalf("unexpected removed snapshot %+v", removed)
	}

	// Writes to other collections are not delivered.
	if _, err := s.Create(ctx, "other", docstore.Fields{"x": 1}); err != nil {
		t.Fatalf("create other: %v", err)
	}
	cancel()
	for snap := range ch {
		if snap.Err == nil {
			t.Fatalf("unexpected snapshot after cancel: %+v", snap)
		}
	}
}

func testWatchClose(t *testing.T, s docstore.Store) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, err := s.Watch(ctx, "msgs", docstore.Query{})
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	next(t, ch)

	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	snap := next(t, ch)
	if !errors.Is(snap.Err, docstore.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %+v", snap)
	}
	if _, err := s.Get(ctx, docstore.Doc("msgs", "x")); !errors.Is(err, docstore.ErrClosed) {
		t.Fatalf("expected ErrClosed from Get, got %v", err)
	}
}

func testBadInput(t *testing.T, s docstore.Store) {
	ctx := context.Background()

	if _, err := s.Get(ctx, "rooms"); !errors.Is(err, docstore.ErrInvalidPath) {
		t.Fatalf("expected ErrInvalidPath for collection path, got %v", err)
	}
	if _, err := s.Create(ctx, "rooms/r1", docstore.Fields{}); !errors.Is(err, docstore.ErrInvalidPath) {
		t.Fatalf("expected ErrInvalidPath for document path, got %v", err)
	}
	if err := s.Set(ctx, "rooms/r1", docstore.Fields{"bad": []string{"x"}}); !errors.Is(err, docstore.ErrUnsupportedValue) {
		t.Fatalf("expected ErrUnsupportedValue, got %v", err)
	}
}

func next(t *testing.T, ch <-chan docstore.Snapshot) docstore.Snapshot {
	t.Helper()

	select {
	case snap, ok := <-ch:
		if !ok {
			t.Fatalf("watch channel closed")
		}
		return snap
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for snapshot")
	}
	return docstore.Snapshot{}
}
