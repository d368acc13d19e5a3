package core

import (
	"context"
	"sync"
	"time"
)

// ResolveResult is a debounced resolution of one input.
type ResolveResult struct {
	Input      string
	Resolution Resolution
	Err        error
}

// Debouncer resolves only the input that stayed unchanged for the idle delay.
type Debouncer struct {
	delay   time.Duration
	resolve func(ctx context.Context, input string) (Resolution, error)

	mu    sync.Mutex
	timer *time.Timer
	seq   uint64

	out  chan ResolveResult
	done chan struct{}
	once sync.Once
}

// NewDebouncer creates a debouncer around resolve.
func NewDebouncer(delay time.Duration, resolve func(ctx context.Context, input string) (Resolution, error)) *Debouncer {
	return &Debouncer{
		delay:   delay,
		resolve: resolve,
		out:     make(chan ResolveResult, 1),
		done:    make(chan struct{}),
	}
}

// Results delivers resolutions of inputs that settled.
func (d *Debouncer) Results() <-chan ResolveResult {
	return d.out
}

// Update replaces the pending input and restarts the idle timer.
func (d *Debouncer) Update(ctx context.Context, input string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.seq++
	seq := d.seq
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, func() {
		res, err := d.resolve(ctx, input)
		if !d.current(seq) {
			return
		}
		select {
		case d.out <- ResolveResult{Input: input, Resolution: res, Err: err}:
		case <-d.done:
		case <-ctx.Done():
		}
	})
}

// Stop cancels the pending input. Results is never closed.
func (d *Debouncer) Stop() {
	d.once.Do(func() { close(d.done) })

	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq++
	if d.timer != nil {
		d.timer.Stop()
	}
}

func (d *Debouncer) current(seq uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seq == seq
}
