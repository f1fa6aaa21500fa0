// Package batcher implements a time-windowed request coalescer: many
// concurrent lookups for the same key share one pending fetch, and queued
// keys drain into batched executor calls.
package batcher

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ExecuteFunc fetches values for a batch of keys. Keys absent from the
// returned map are treated as "not found". An error settles the whole
// batch as not found; it never reaches callers.
type ExecuteFunc[V any] func(ctx context.Context, keys []string) (map[string]V, error)

// Batcher coalesces Request calls into batched executor invocations.
// Concurrent requests for one key before its batch fires share a single
// pending fetch, so one network round trip serves all of them.
type Batcher[V any] struct {
	name      string
	execute   ExecuteFunc[V]
	batchSize int
	delay     time.Duration

	mu       sync.Mutex
	pending  map[string]*pendingFetch[V]
	queued   []string // keys waiting to be drawn into a batch
	timerSet bool
	running  bool // a batch is currently executing
}

// pendingFetch is the shared result slot for one key. It settles exactly
// once: done is closed after value is written.
type pendingFetch[V any] struct {
	done  chan struct{}
	value V
	found bool
}

// Config holds batcher tuning knobs.
type Config struct {
	BatchSize int           // max keys per executor call (default 20)
	Delay     time.Duration // coalescing window (default 80ms)
}

// New creates a batcher. The name appears in logs only.
func New[V any](name string, cfg Config, execute ExecuteFunc[V]) *Batcher[V] {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.Delay <= 0 {
		cfg.Delay = 80 * time.Millisecond
	}
	return &Batcher[V]{
		name:      name,
		execute:   execute,
		batchSize: cfg.BatchSize,
		delay:     cfg.Delay,
		pending:   make(map[string]*pendingFetch[V]),
	}
}

// Request blocks until the value for key is available, the batch settles
// it as not found, or ctx is done. The second return is false for "not
// found" results and context cancellation alike.
func (b *Batcher[V]) Request(ctx context.Context, key string) (V, bool) {
	if key == "" {
		var zero V
		return zero, false
	}

	b.mu.Lock()
	pf, exists := b.pending[key]
	if !exists {
		pf = &pendingFetch[V]{done: make(chan struct{})}
		b.pending[key] = pf
		b.queued = append(b.queued, key)
		if !b.timerSet && !b.running {
			b.timerSet = true
			time.AfterFunc(b.delay, b.runBatch)
		}
	}
	b.mu.Unlock()

	select {
	case <-pf.done:
		return pf.value, pf.found
	case <-ctx.Done():
		var zero V
		return zero, false
	}
}

// RequestAll coalesces a set of keys and returns the found subset.
// An empty key set is a no-op.
func (b *Batcher[V]) RequestAll(ctx context.Context, keys []string) map[string]V {
	if len(keys) == 0 {
		return nil
	}

	type keyed struct {
		key string
		pf  *pendingFetch[V]
	}
	waits := make([]keyed, 0, len(keys))

	b.mu.Lock()
	for _, key := range keys {
		if key == "" {
			continue
		}
		pf, exists := b.pending[key]
		if !exists {
			pf = &pendingFetch[V]{done: make(chan struct{})}
			b.pending[key] = pf
			b.queued = append(b.queued, key)
		}
		waits = append(waits, keyed{key: key, pf: pf})
	}
	if len(b.queued) > 0 && !b.timerSet && !b.running {
		b.timerSet = true
		time.AfterFunc(b.delay, b.runBatch)
	}
	b.mu.Unlock()

	results := make(map[string]V, len(waits))
	for _, w := range waits {
		select {
		case <-w.pf.done:
			if w.pf.found {
				results[w.key] = w.pf.value
			}
		case <-ctx.Done():
			return results
		}
	}
	return results
}

// PendingKeys returns the number of keys not yet settled.
func (b *Batcher[V]) PendingKeys() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// runBatch draws up to batchSize queued keys, executes them, settles their
// pending fetches, and reschedules immediately while keys remain queued so
// the batcher drains to empty without caller intervention.
func (b *Batcher[V]) runBatch() {
	b.mu.Lock()
	b.timerSet = false
	if b.running || len(b.queued) == 0 {
		b.mu.Unlock()
		return
	}
	n := len(b.queued)
	if n > b.batchSize {
		n = b.batchSize
	}
	batch := make([]string, n)
	copy(batch, b.queued[:n])
	b.queued = append(b.queued[:0], b.queued[n:]...)
	b.running = true
	b.mu.Unlock()

	results, err := b.execute(context.Background(), batch)
	if err != nil {
		slog.Error("batcher: batch failed", "name", b.name, "keys", len(batch), "error", err)
		results = nil
	}

	b.mu.Lock()
	for _, key := range batch {
		pf := b.pending[key]
		if pf == nil {
			continue
		}
		delete(b.pending, key)
		if value, ok := results[key]; ok {
			pf.value = value
			pf.found = true
		}
		close(pf.done)
	}
	b.running = false
	residual := len(b.queued) > 0
	if residual && !b.timerSet {
		b.timerSet = true
	}
	b.mu.Unlock()

	// Keys queued while the batch executed start immediately rather than
	// waiting out another delay window.
	if residual {
		go b.runBatch()
	}
}
