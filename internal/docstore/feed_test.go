package docstore

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestFeedOverflowTerminatesWatcher(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := NewFeed(2)
	ch := feed.Watch(ctx, "msgs", Query{}, nil)

	// Nobody reads, so the queue fills up.
	for i := 0; i < 5; i++ {
		feed.Publish("msgs", Added, Entry{Document: Document{ID: string(rune('a' + i)), Fields: Fields{}}, Seq: uint64(i + 1)})
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case snap, ok := <-ch:
			if !ok {
				t.Fatal("channel closed without overflow error")
			}
			if snap.Err != nil {
				if !errors.Is(snap.Err, ErrWatchOverflow) {
					t.Fatalf("expected ErrWatchOverflow, got %v", snap.Err)
				}
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for overflow")
		}
	}
}

func TestFeedTracksQueryMembership(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := NewFeed(0)
	q := Query{Where: []Filter{{Field: "room", Value: "r1"}}}
	ch := feed.Watch(ctx, "msgs", q, nil)
	if snap := <-ch; len(snap.Docs) != 0 {
		t.Fatalf("expected empty initial snapshot, got %+v", snap)
	}

	doc := Document{ID: "m1", Fields: Fields{"room": "r1"}}
	feed.Publish("msgs", Added, Entry{Document: doc, Seq: 1})
	if snap := <-ch; snap.Changes[0].Kind != Added {
		t.Fatalf("expected added, got %+v", snap.Changes)
	}

	// Moving out of the filter is reported as a removal.
	moved := Document{ID: "m1", Fields: Fields{"room": "r2"}}
	feed.Publish("msgs", Modified, Entry{Document: moved, Seq: 1})
	if snap := <-ch; snap.Changes[0].Kind != Removed || len(snap.Docs) != 0 {
		t.Fatalf("expected removal, got %+v", snap)
	}
}

func TestClockIsStrictlyIncreasing(t *testing.T) {
	fixed := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewClock(func() time.Time { return fixed })

	a := clock.Next()
	b := clock.Next()
	if !b.After(a) {
		t.Fatalf("expected %v after %v", b, a)
	}
}

func TestSplitDoc(t *testing.T) {
	tests := []struct {
		path       string
		collection string
		id         string
		wantErr    bool
	}{
		{path: "chatrooms/r1", collection: "chatrooms", id: "r1"},
		{path: "chatrooms/r1/members/u1", collection: "chatrooms/r1/members", id: "u1"},
		{path: "chatrooms", wantErr: true},
		{path: "chatrooms//x", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			collection, id, err := SplitDoc(tt.path)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidPath) {
					t.Fatalf("expected ErrInvalidPath, got %v", err)
				}
				return
			}
			if err != nil || collection != tt.collection || id != tt.id {
				t.Fatalf("SplitDoc(%q) = %q, %q, %v", tt.path, collection, id, err)
			}
		})
	}
}

func TestClockAdvance(t *testing.T) {
	past := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewClock(func() time.Time { return past })

	seen := past.Add(time.Hour)
	clock.Advance(seen)
	if next := clock.Next(); !next.After(seen) {
		t.Fatalf("expected %v after %v", next, seen)
	}

	clock.Advance(past)
	if next := clock.Next(); !next.After(seen) {
		t.Fatalf("advancing backwards moved the clock: %v", next)
	}
}
