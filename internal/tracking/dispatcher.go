package tracking

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Recorder counts delivery outcomes. Per-event counts belong to
// MetricsSink. *monitoring.Metrics satisfies it.
type Recorder interface {
	TrackingFailed(sink string)
	TrackingDropped()
}

type nopRecorder struct{}

func (nopRecorder) TrackingFailed(string) {}
func (nopRecorder) TrackingDropped()      {}

// DispatcherConfig sizes the delivery queue.
type DispatcherConfig struct {
	QueueSize int           `mapstructure:"queue_size" yaml:"queue_size"`
	Workers   int           `mapstructure:"workers" yaml:"workers"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// Dispatcher queues events and delivers them from a fixed set of workers.
// A full queue drops the event with a warning rather than block.
type Dispatcher struct {
	sink    Sink
	cfg     DispatcherConfig
	rec     Recorder
	log     *zap.Logger
	queue   chan Event
	workers errgroup.Group

	mu     sync.RWMutex
	closed bool

	delivered atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// NewDispatcher starts the workers. rec may be nil.
func NewDispatcher(sink Sink, cfg DispatcherConfig, rec Recorder) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if rec == nil {
		rec = nopRecorder{}
	}

	d := &Dispatcher{
		sink:  sink,
		cfg:   cfg,
		rec:   rec,
		log:   zap.L().With(zap.String("component", "tracking"), zap.String("sink", sink.Name())),
		queue: make(chan Event, cfg.QueueSize),
	}
	for range cfg.Workers {
		d.workers.Go(func() error {
			for e := range d.queue {
				d.deliver(e)
			}
			return nil
		})
	}
	return d
}

// Track implements Tracker.
func (d *Dispatcher) Track(e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.drop(e, "dispatcher closed")
		return
	}
	select {
	case d.queue <- e:
	default:
		d.drop(e, "queue full")
	}
}

func (d *Dispatcher) drop(e Event, reason string) {
	d.dropped.Add(1)
	d.rec.TrackingDropped()
	d.log.Warn("tracking event dropped", zap.String("event", e.Name), zap.String("reason", reason))
}

func (d *Dispatcher) deliver(e Event) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Timeout)
	defer cancel()

	err := safeEmit(ctx, d.sink, e)
	if err == nil {
		d.delivered.Add(1)
		return
	}

	d.failed.Add(1)
	for _, f := range Failures(err) {
		d.rec.TrackingFailed(f.Sink)
		d.log.Warn("tracking delivery failed",
			zap.String("event", e.Name),
			zap.String("target", f.Sink),
			zap.Error(f.Err),
		)
	}
}

// Close stops accepting events and waits for the queue to drain or ctx to
// end, whichever comes first.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		_ = d.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "tracking: drain queue")
	}
}

// Delivered counts events every sink accepted.
func (d *Dispatcher) Delivered() int64 { return d.delivered.Load() }

// Failed counts events at least one sink rejected.
func (d *Dispatcher) Failed() int64 { return d.failed.Load() }

// Dropped counts events never queued.
func (d *Dispatcher) Dropped() int64 { return d.dropped.Load() }
