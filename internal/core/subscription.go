package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomchat-server/internal/docstore"
)

// Status describes the health of a live subscription.
type Status int32

const (
	StatusConnecting Status = iota
	StatusLive
	StatusReconnecting
	StatusLost
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusLive:
		return "live"
	case StatusReconnecting:
		return "reconnecting"
	case StatusLost:
		return "lost"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// RetryPolicy controls how a failed watch is re-established.
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// MaxAttempts is the number of consecutive failures before giving up.
	MaxAttempts int
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval: 250 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		MaxAttempts:     5,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.InitialInterval <= 0 {
		p.InitialInterval = def.InitialInterval
	}
	if p.MaxInterval < p.InitialInterval {
		p.MaxInterval = max(def.MaxInterval, p.InitialInterval)
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	return p
}

var errWatchEnded = errors.New("watch ended unexpectedly")

// watchFunc runs one attempt of a watch. It calls live once the first snapshot
// arrived and emit for every value; emit returns false once the subscriber is gone.
type watchFunc[T any] func(ctx context.Context, live func(), emit func(T) bool) error

// Subscription delivers values of a live query until closed or lost.
type Subscription[T any] struct {
	items    chan T
	statusCh chan Status
	status   atomic.Int32
	statusMu sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	err      error
}

func subscribe[T any](ctx context.Context, log *zerolog.Logger, policy RetryPolicy, name string, run watchFunc[T]) *Subscription[T] {
	ctx, cancel := context.WithCancel(ctx)
	s := &Subscription[T]{
		items:    make(chan T),
		statusCh: make(chan Status, 1),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go s.loop(ctx, log, policy.withDefaults(), name, run)
	return s
}

// C returns the channel of delivered values. It is closed when the subscription ends.
func (s *Subscription[T]) C() <-chan T {
	return s.items
}

// Status returns the current status.
func (s *Subscription[T]) Status() Status {
	return Status(s.status.Load())
}

// StatusChanges carries the latest status whenever it changes.
func (s *Subscription[T]) StatusChanges() <-chan Status {
	return s.statusCh
}

// Done is closed once the subscription has ended.
func (s *Subscription[T]) Done() <-chan struct{} {
	return s.done
}

// Err reports why the subscription ended: nil when it was closed, ErrConnectionLost
// when retries were exhausted.
func (s *Subscription[T]) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Close stops the subscription and waits for its goroutine to finish.
func (s *Subscription[T]) Close() {
	s.cancel()
	<-s.done
}

func (s *Subscription[T]) setStatus(st Status) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()

	if Status(s.status.Swap(int32(st))) == st {
		return
	}
	select {
	case <-s.statusCh:
	default:
	}
	s.statusCh <- st
}

func (s *Subscription[T]) loop(ctx context.Context, log *zerolog.Logger, policy RetryPolicy, name string, run watchFunc[T]) {
	defer close(s.done)
	defer close(s.items)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.InitialInterval
	b.MaxInterval = policy.MaxInterval
	b.Reset()

	failures := 0
	live := func() {
		failures = 0
		b.Reset()
		s.setStatus(StatusLive)
	}
	emit := func(v T) bool {
		select {
		case s.items <- v:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		err := run(ctx, live, emit)
		if ctx.Err() != nil {
			s.setStatus(StatusClosed)
			return
		}
		if err == nil {
			err = errWatchEnded
		}

		failures++
		if failures >= policy.MaxAttempts {
			log.Warn().Err(err).Str("subscription", name).Int("attempts", failures).Msg("subscription lost")
			s.err = fmt.Errorf("%w: %w", ErrConnectionLost, err)
			s.setStatus(StatusLost)
			return
		}

		wait := b.NextBackOff()
		log.Debug().Err(err).Str("subscription", name).Dur("retry_in", wait).Msg("subscription interrupted")
		s.setStatus(StatusReconnecting)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.setStatus(StatusClosed)
			return
		case <-timer.C:
		}
	}
}

// watchDocs runs one store watch, handing every snapshot to handle until it
// returns false or the watch fails.
func watchDocs(ctx context.Context, store docstore.Store, collection string, q docstore.Query, live func(), handle func(docstore.Snapshot) bool) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch, err := store.Watch(ctx, collection, q)
	if err != nil {
		return err
	}

	first := true
	for snap := range ch {
		if snap.Err != nil {
			return snap.Err
		}
		if first {
			first = false
			live()
		}
		if !handle(snap) {
			return nil
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return errWatchEnded
}

type closer interface {
	Close()
}

// registry releases a group of subscriptions together.
type registry struct {
	mu     sync.Mutex
	items  []closer
	closed bool
}

// add tracks c. If the registry is already closed c is closed immediately.
func (r *registry) add(c closer) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		c.Close()
		return false
	}
	r.items = append(r.items, c)
	r.mu.Unlock()
	return true
}

func (r *registry) closeAll() {
	r.mu.Lock()
	items := r.items
	r.items = nil
	r.closed = true
	r.mu.Unlock()

	for _, c := range items {
		c.Close()
	}
}
