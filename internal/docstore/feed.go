package docstore

import (
	"context"
	"sync"
)

// DefaultMaxPending bounds the snapshots queued for one watcher.
const DefaultMaxPending = 1024

// Feed fans document changes out to watchers. Backends call Publish while holding
// their write lock so every watcher observes writes in commit order.
type Feed struct {
	mu         sync.Mutex
	watchers   map[string]map[*watcher]struct{}
	maxPending int
	closed     bool
}

// NewFeed creates a feed. maxPending <= 0 selects DefaultMaxPending.
func NewFeed(maxPending int) *Feed {
	if maxPending <= 0 {
		maxPending = DefaultMaxPending
	}
	return &Feed{
		watchers:   make(map[string]map[*watcher]struct{}),
		maxPending: maxPending,
	}
}

// Watch registers a watcher seeded with the current entries of the collection.
func (f *Feed) Watch(ctx context.Context, collection string, q Query, current []Entry) <-chan Snapshot {
	w := &watcher{
		query:      q,
		entries:    make(map[string]Entry, len(current)),
		signal:     make(chan struct{}, 1),
		out:        make(chan Snapshot),
		maxPending: f.maxPending,
	}

	initial := Snapshot{}
	for _, e := range current {
		if q.Matches(e.Document) {
			w.entries[e.ID] = e
		}
	}
	initial.Docs = w.docs()
	for _, d := range initial.Docs {
		initial.Changes = append(initial.Changes, Change{Kind: Added, Doc: d})
	}
	w.queue = append(w.queue, initial)
	w.notify()

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		w.fail(ErrClosed)
	} else {
		set, ok := f.watchers[collection]
		if !ok {
			set = make(map[*watcher]struct{})
			f.watchers[collection] = set
		}
		set[w] = struct{}{}
		f.mu.Unlock()
	}

	go func() {
		w.run(ctx)
		f.remove(collection, w)
	}()

	return w.out
}

// Publish delivers a change of one document to the watchers of its collection.
func (f *Feed) Publish(collection string, kind ChangeKind, e Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for w := range f.watchers[collection] {
		w.apply(kind, e)
	}
}

// Close terminates every watcher with ErrClosed.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true
	for _, set := range f.watchers {
		for w := range set {
			w.fail(ErrClosed)
		}
	}
	f.watchers = make(map[string]map[*watcher]struct{})
}

func (f *Feed) remove(collection string, w *watcher) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if set, ok := f.watchers[collection]; ok {
		delete(set, w)
		if len(set) == 0 {
			delete(f.watchers, collection)
		}
	}
}

type watcher struct {
	mu         sync.Mutex
	query      Query
	entries    map[string]Entry
	queue      []Snapshot
	failed     bool
	maxPending int
	signal     chan struct{}
	out        chan Snapshot
}

func (w *watcher) docs() []Document {
	list := make([]Entry, 0, len(w.entries))
	for _, e := range w.entries {
		list = append(list, e)
	}
	return Select(list, w.query)
}

func (w *watcher) apply(kind ChangeKind, e Entry) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.failed {
		return
	}

	_, had := w.entries[e.ID]
	matches := kind != Removed && w.query.Matches(e.Document)

	var change Change
	switch {
	case had && matches:
		w.entries[e.ID] = e
		change = Change{Kind: Modified, Doc: e.Document}
	case had && !matches:
		delete(w.entries, e.ID)
		change = Change{Kind: Removed, Doc: e.Document}
	case !had && matches:
		w.entries[e.ID] = e
		change = Change{Kind: Added, Doc: e.Document}
	default:
		return
	}

	if len(w.queue) >= w.maxPending {
		w.failLocked(ErrWatchOverflow)
		return
	}
	w.queue = append(w.queue, Snapshot{Docs: w.docs(), Changes: []Change{change}})
	w.notify()
}

func (w *watcher) fail(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failLocked(err)
}

func (w *watcher) failLocked(err error) {
	if w.failed {
		return
	}
	w.failed = true
	w.queue = append(w.queue, Snapshot{Err: err})
	w.notify()
}

func (w *watcher) notify() {
	select {
	case w.signal <- struct{}{}:
	default:
	}
}

func (w *watcher) run(ctx context.Context) {
	defer close(w.out)

	for {
		select {
		case <-ctx.Done():
			w.fail(ctx.Err())
			return
		case <-w.signal:
		}

		w.mu.Lock()
		pending := w.queue
		w.queue = nil
		w.mu.Unlock()

		for _, snap := range pending {
			select {
			case w.out <- snap:
			case <-ctx.Done():
				w.fail(ctx.Err())
				return
			}
			if snap.Err != nil {
				return
			}
		}
	}
}
