// Package async overlaps batch preparation with training.
package async

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/tsawler/waterfall-net/dataset"
	"github.com/tsawler/waterfall-net/tensor"
)

// item is one result of the wrapped source.
type item struct {
	batch []*tensor.Tensor
	err   error
}

// Prefetcher builds batches of a DataSource in a background goroutine,
// keeping up to a fixed number ready. Batches come out in source order.
// Next and Reset are meant to be called from one goroutine.
type Prefetcher struct {
	source dataset.DataSource
	depth  int

	mutex    sync.Mutex
	items    chan item
	cancel   context.CancelFunc
	done     chan struct{}
	running  bool
	terminal error // last error the worker delivered

	produced atomic.Uint64
}

// NewPrefetcher wraps source with a queue of depth batches.
func NewPrefetcher(source dataset.DataSource, depth int) (*Prefetcher, error) {
	if source == nil {
		return nil, fmt.Errorf("data source cannot be nil")
	}
	if depth <= 0 {
		return nil, fmt.Errorf("prefetch depth must be positive, got %d", depth)
	}
	return &Prefetcher{source: source, depth: depth}, nil
}

// start launches the worker. The caller holds the mutex.
func (p *Prefetcher) start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.items = make(chan item, p.depth)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	go p.worker(ctx, p.items, p.done)
}

// worker stops after delivering the first error, ErrEndOfEpoch included.
func (p *Prefetcher) worker(ctx context.Context, out chan<- item, done chan<- struct{}) {
	defer close(done)
	defer close(out)
	for {
		batch, err := p.source.Next(ctx)
		if err == nil {
			p.produced.Add(1)
		}
		select {
		case out <- item{batch: batch, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

// stop cancels the worker and waits for it. The caller holds the mutex.
func (p *Prefetcher) stop() {
	if !p.running {
		return
	}
	p.cancel()
	for range p.items {
	}
	<-p.done
	p.running = false
}

// Next returns the next prepared batch. Once the source reports an error
// (dataset.ErrEndOfEpoch at the end of an epoch) the same error is
// returned until Reset.
func (p *Prefetcher) Next(ctx context.Context) ([]*tensor.Tensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mutex.Lock()
	if p.terminal != nil {
		err := p.terminal
		p.mutex.Unlock()
		return nil, err
	}
	if !p.running {
		p.start()
	}
	items := p.items
	p.mutex.Unlock()

	select {
	case it, ok := <-items:
		if !ok {
			return nil, dataset.ErrEndOfEpoch
		}
		if it.err != nil {
			p.mutex.Lock()
			p.terminal = it.err
			p.mutex.Unlock()
		}
		return it.batch, it.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Reset discards queued batches and rewinds the source.
func (p *Prefetcher) Reset() {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.stop()
	p.terminal = nil
	p.source.Reset()
}

// Close stops the worker.
func (p *Prefetcher) Close() {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.stop()
}

// Stats returns statistics about the prefetcher
func (p *Prefetcher) Stats() PrefetchStats {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	stats := PrefetchStats{
		IsRunning:       p.running,
		BatchesProduced: p.produced.Load(),
		QueueCapacity:   p.depth,
	}
	if p.running {
		stats.QueuedBatches = len(p.items)
	}
	return stats
}

// PrefetchStats provides statistics about the prefetcher
type PrefetchStats struct {
	IsRunning       bool
	BatchesProduced uint64
	QueuedBatches   int
	QueueCapacity   int
}
