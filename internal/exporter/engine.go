// Package exporter implements the shared export pipeline: a bounded,
// batching engine that feeds either the OTLP trace sender or the
// HoneyHive event sender.
//
// The engine bounds resident items (queued, batched, and in flight)
// with one capacity semaphore. A slot is taken when an item is
// accepted and released only after its batch send finishes, so a
// stalled backend cannot grow memory past QueueCapacity. Producers
// never block: past the bound, Enqueue drops and counts.
package exporter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/honeyhiveai/honeyhive-go/internal/backoff"
	"github.com/honeyhiveai/honeyhive-go/internal/logging"
	"github.com/honeyhiveai/honeyhive-go/internal/metrics"
)

var (
	// ErrQueueFull reports that the bounded queue rejected an item.
	ErrQueueFull = errors.New("exporter: queue full")

	// ErrShutdown reports an operation on a stopped engine.
	ErrShutdown = errors.New("exporter: shutdown")
)

// Defaults for Options fields left at zero.
const (
	DefaultQueueCapacity = 2048
	DefaultMaxBatchSize  = 128
	DefaultMaxBatchDelay = 5 * time.Second
	DefaultWorkers       = 2
)

// Sender delivers batches to a backend. Implementations classify their
// failures for the retry loop: permanent errors wrapped with
// backoff.Permanent stop retries, everything else is retried until the
// policy gives up.
type Sender[T any] interface {
	// Send delivers one batch. A nil return acknowledges every item.
	Send(ctx context.Context, batch []T) error

	// Shutdown releases transport resources. Called once, after the
	// engine has drained.
	Shutdown(ctx context.Context) error
}

// Options tunes one engine instance.
type Options struct {
	// Name labels the engine in logs and metrics ("otlp" or "events").
	Name string

	// QueueCapacity bounds resident items: queued plus in flight
	// (default: 2048).
	QueueCapacity int

	// MaxBatchSize is the largest batch handed to the sender
	// (default: 128). Clamped to QueueCapacity.
	MaxBatchSize int

	// MaxBatchDelay flushes a partial batch after this long
	// (default: 5s).
	MaxBatchDelay time.Duration

	// Workers is the number of concurrent sender calls (default: 2).
	Workers int

	// Retry is the backoff policy for failed sends.
	Retry backoff.Policy

	// Logger receives drop and retry diagnostics (default: silent).
	Logger *logging.Logger

	// Metrics receives pipeline counters (default: private throwaway set).
	Metrics *metrics.Metrics
}

// FlushStats reports what happened to items during one Flush call.
type FlushStats struct {
	// Flushed is the number of items acknowledged by the backend.
	Flushed uint64
	// Dropped is the number of items abandoned as permanent failures
	// or exhausted retries.
	Dropped uint64
	// Cancelled is the number of items still unconfirmed when the
	// flush deadline cut their retries short.
	Cancelled uint64
}

// Stats is a snapshot of the engine's lifetime counters.
type Stats struct {
	Enqueued  uint64
	Flushed   uint64
	Dropped   uint64
	Retried   uint64
	Cancelled uint64
}

// Engine is the bounded batching core shared by both exporters. One
// collector goroutine assembles batches; up to Workers goroutines send
// them with retries.
type Engine[T any] struct {
	opts    Options
	sender  Sender[T]
	log     *logging.Logger
	metrics *metrics.Metrics

	queue   chan T
	slots   chan struct{}
	flushCh chan chan struct{}
	stopCh  chan struct{}
	done    chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	inflight sync.WaitGroup

	sendMu      sync.Mutex
	sendCancels map[uint64]context.CancelFunc
	sendSeq     atomic.Uint64

	started  atomic.Bool
	stopped  atomic.Bool
	stopOnce sync.Once

	enqueued  atomic.Uint64
	flushed   atomic.Uint64
	dropped   atomic.Uint64
	retried   atomic.Uint64
	cancelled atomic.Uint64
}

// NewEngine builds an engine over sender, filling in defaults for
// unset options. Call Start before enqueueing.
func NewEngine[T any](sender Sender[T], opts Options) *Engine[T] {
	if opts.Name == "" {
		opts.Name = "events"
	}
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = DefaultQueueCapacity
	}
	if opts.MaxBatchSize <= 0 {
		opts.MaxBatchSize = DefaultMaxBatchSize
	}
	if opts.MaxBatchSize > opts.QueueCapacity {
		opts.MaxBatchSize = opts.QueueCapacity
	}
	if opts.MaxBatchDelay <= 0 {
		opts.MaxBatchDelay = DefaultMaxBatchDelay
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = backoff.DefaultPolicy()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}

	ctx, cancel := context.WithCancel(context.Background())
	group := &errgroup.Group{}
	group.SetLimit(opts.Workers)

	return &Engine[T]{
		opts:        opts,
		sender:      sender,
		log:         opts.Logger,
		metrics:     opts.Metrics,
		queue:       make(chan T, opts.QueueCapacity),
		slots:       make(chan struct{}, opts.QueueCapacity),
		flushCh:     make(chan chan struct{}),
		stopCh:      make(chan struct{}),
		done:        make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
		group:       group,
		sendCancels: map[uint64]context.CancelFunc{},
	}
}

// Start launches the collector goroutine.
func (e *Engine[T]) Start() error {
	if !e.started.CompareAndSwap(false, true) {
		return fmt.Errorf("exporter: %s engine already started", e.opts.Name)
	}
	go e.run()
	return nil
}

// Enqueue accepts one item for export. It never blocks: when the
// engine is at capacity the item is dropped and counted, and
// ErrQueueFull is returned. After Shutdown it returns ErrShutdown.
func (e *Engine[T]) Enqueue(item T) error {
	if !e.started.Load() || e.stopped.Load() {
		e.dropped.Add(1)
		e.metrics.RecordDrop(e.opts.Name, "shutdown", 1)
		return ErrShutdown
	}

	select {
	case e.slots <- struct{}{}:
	default:
		e.dropped.Add(1)
		e.metrics.RecordDrop(e.opts.Name, "queue_full", 1)
		e.log.WarnOnce(context.Background(), "queue_full:"+e.opts.Name,
			"export queue full, dropping",
			"exporter", e.opts.Name,
			"capacity", e.opts.QueueCapacity,
		)
		e.log.Debug(context.Background(), "item dropped", "exporter", e.opts.Name, "reason", "queue_full")
		return ErrQueueFull
	}

	// Re-check after taking the slot so a concurrent Shutdown cannot
	// strand the item in the queue.
	if e.stopped.Load() {
		<-e.slots
		e.dropped.Add(1)
		e.metrics.RecordDrop(e.opts.Name, "shutdown", 1)
		return ErrShutdown
	}

	e.queue <- item
	e.enqueued.Add(1)
	e.metrics.SetQueueDepth(e.opts.Name, len(e.slots))
	return nil
}

// Flush drains the queue and waits until in-flight sends settle or ctx
// expires. Past the deadline, outstanding retries are cancelled. The
// returned stats cover only this call's window.
func (e *Engine[T]) Flush(ctx context.Context) (FlushStats, error) {
	if !e.started.Load() || e.stopped.Load() {
		return FlushStats{}, ErrShutdown
	}

	flushed0 := e.flushed.Load()
	dropped0 := e.dropped.Load()
	cancelled0 := e.cancelled.Load()

	deltas := func() FlushStats {
		return FlushStats{
			Flushed:   e.flushed.Load() - flushed0,
			Dropped:   e.dropped.Load() - dropped0,
			Cancelled: e.cancelled.Load() - cancelled0,
		}
	}

	reply := make(chan struct{})
	select {
	case e.flushCh <- reply:
	case <-ctx.Done():
		e.cancelInflight()
		return FlushStats{Cancelled: uint64(len(e.slots))}, ctx.Err()
	case <-e.done:
		return FlushStats{}, ErrShutdown
	}

	select {
	case <-reply:
		return deltas(), nil
	case <-ctx.Done():
		e.cancelInflight()
		stats := deltas()
		stats.Cancelled = uint64(len(e.slots))
		return stats, ctx.Err()
	case <-e.done:
		return deltas(), ErrShutdown
	}
}

// Shutdown drains the queue, waits for in-flight sends up to ctx, then
// closes the sender. Past the deadline, outstanding retries are
// cancelled. Safe to call more than once.
func (e *Engine[T]) Shutdown(ctx context.Context) error {
	if !e.started.Load() {
		return nil
	}

	var err error
	e.stopOnce.Do(func() {
		e.stopped.Store(true)
		close(e.stopCh)

		select {
		case <-e.done:
		case <-ctx.Done():
			err = ctx.Err()
			e.cancel()
			<-e.done
		}

		e.cancel()
		_ = e.group.Wait()

		if serr := e.sender.Shutdown(ctx); serr != nil && err == nil {
			err = serr
		}
	})
	return err
}

// Stats reports the lifetime counters.
func (e *Engine[T]) Stats() Stats {
	return Stats{
		Enqueued:  e.enqueued.Load(),
		Flushed:   e.flushed.Load(),
		Dropped:   e.dropped.Load(),
		Retried:   e.retried.Load(),
		Cancelled: e.cancelled.Load(),
	}
}

// run is the collector loop: it batches queued items by size and
// delay, and owns all inflight.Add/Wait calls so flush never races a
// dispatch.
func (e *Engine[T]) run() {
	defer close(e.done)

	var batch []T
	timer := time.NewTimer(e.opts.MaxBatchDelay)
	if !timer.Stop() {
		<-timer.C
	}
	timerArmed := false

	disarm := func() {
		if timerArmed && !timer.Stop() {
			<-timer.C
		}
		timerArmed = false
	}

	dispatch := func() {
		if len(batch) == 0 {
			return
		}
		b := batch
		batch = nil
		e.inflight.Add(1)
		e.group.Go(func() error {
			defer e.inflight.Done()
			e.send(b)
			return nil
		})
	}

	drain := func() {
		for {
			select {
			case item := <-e.queue:
				batch = append(batch, item)
				if len(batch) >= e.opts.MaxBatchSize {
					dispatch()
				}
			default:
				return
			}
		}
	}

	for {
		select {
		case item := <-e.queue:
			batch = append(batch, item)
			if len(batch) >= e.opts.MaxBatchSize {
				disarm()
				dispatch()
			} else if !timerArmed {
				timer.Reset(e.opts.MaxBatchDelay)
				timerArmed = true
			}

		case <-timer.C:
			timerArmed = false
			dispatch()

		case reply := <-e.flushCh:
			disarm()
			drain()
			dispatch()
			e.inflight.Wait()
			close(reply)

		case <-e.stopCh:
			disarm()
			for {
				drain()
				dispatch()
				e.inflight.Wait()
				if len(e.queue) == 0 {
					return
				}
			}
		}
	}
}

// send delivers one batch with retries and settles its accounting.
// Slots are released only here, after the send finished one way or
// another, which is what keeps the capacity bound truthful.
func (e *Engine[T]) send(batch []T) {
	defer e.release(len(batch))

	ctx, untrack := e.trackSend()
	defer untrack()

	start := time.Now()
	result := backoff.Do(ctx, e.opts.Retry, func(attempt int) error {
		if attempt > 1 {
			e.retried.Add(1)
			e.metrics.RecordRetry(e.opts.Name)
		}
		return e.sender.Send(ctx, batch)
	})
	seconds := time.Since(start).Seconds()

	n := len(batch)
	switch {
	case result.Err == nil:
		e.flushed.Add(uint64(n))
		e.metrics.RecordExport(e.opts.Name, "ok", seconds)

	case errors.Is(result.Err, context.Canceled) || errors.Is(result.Err, context.DeadlineExceeded):
		e.cancelled.Add(uint64(n))
		e.metrics.RecordExport(e.opts.Name, "failed", seconds)
		e.metrics.RecordDrop(e.opts.Name, "cancelled", n)
		e.log.Debug(context.Background(), "batch cancelled",
			"exporter", e.opts.Name, "items", n)

	case backoff.IsPermanent(result.Err):
		e.dropped.Add(uint64(n))
		e.metrics.RecordExport(e.opts.Name, "failed", seconds)
		e.metrics.RecordDrop(e.opts.Name, "permanent", n)
		e.log.Warn(context.Background(), "batch rejected",
			"exporter", e.opts.Name, "items", n, "error", result.Err)

	default:
		e.dropped.Add(uint64(n))
		e.metrics.RecordExport(e.opts.Name, "failed", seconds)
		e.metrics.RecordDrop(e.opts.Name, "exhausted", n)
		e.log.Warn(context.Background(), "batch dropped after retries",
			"exporter", e.opts.Name, "attempts", result.Attempts, "items", n, "error", result.Err)
	}
}

func (e *Engine[T]) release(n int) {
	for i := 0; i < n; i++ {
		<-e.slots
	}
	e.metrics.SetQueueDepth(e.opts.Name, len(e.slots))
}

// trackSend derives a cancellable context for one batch send and
// registers its cancel so Flush deadlines can abort in-flight retries.
func (e *Engine[T]) trackSend() (context.Context, func()) {
	ctx, cancel := context.WithCancel(e.ctx)
	id := e.sendSeq.Add(1)

	e.sendMu.Lock()
	e.sendCancels[id] = cancel
	e.sendMu.Unlock()

	return ctx, func() {
		e.sendMu.Lock()
		delete(e.sendCancels, id)
		e.sendMu.Unlock()
		cancel()
	}
}

func (e *Engine[T]) cancelInflight() {
	e.sendMu.Lock()
	defer e.sendMu.Unlock()
	for _, cancel := range e.sendCancels {
		cancel()
	}
}
