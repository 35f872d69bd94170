// Package tracking delivers funnel analytics events to their sinks without
// ever blocking or failing the funnel itself.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Event is one analytics event.
type Event struct {
	Name      string         `json:"event"`
	Params    map[string]any `json:"params,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	VisitorID string         `json:"visitor_id,omitempty"`
	At        time.Time      `json:"at"`
}

// Sink receives events. Emit may block; callers go through a Tracker.
type Sink interface {
	Name() string
	Emit(ctx context.Context, e Event) error
}

// Tracker is the fire-and-forget entry point the funnel uses. Track never
// blocks on delivery and never reports failure.
type Tracker interface {
	Track(e Event)
}

// SinkError ties a delivery failure to its sink.
type SinkError struct {
	Sink string
	Err  error
}

func (e *SinkError) Error() string { return fmt.Sprintf("%s: %v", e.Sink, e.Err) }

func (e *SinkError) Unwrap() error { return e.Err }

// Failures flattens an Emit error into per-sink failures. Errors that did
// not come from a named sink are reported under "unknown".
func Failures(err error) []*SinkError {
	if err == nil {
		return nil
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var out []*SinkError
		for _, e := range joined.Unwrap() {
			out = append(out, Failures(e)...)
		}
		return out
	}
	var se *SinkError
	if errors.As(err, &se) {
		return []*SinkError{se}
	}
	return []*SinkError{{Sink: "unknown", Err: err}}
}

// Multi fans an event out to several sinks concurrently. One sink failing
// does not stop the others; the result joins every failure.
type Multi []Sink

// Name implements Sink.
func (m Multi) Name() string { return "multi" }

// Emit implements Sink.
func (m Multi) Emit(ctx context.Context, e Event) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, s := range m {
		g.Go(func() error {
			if err := safeEmit(ctx, s, e); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Sync delivers inline. It suits the CLI and tests, where ordering matters
// more than latency.
type Sync struct {
	Sink Sink
	// OnError, if set, sees every failure.
	OnError func(*SinkError)
}

// Track implements Tracker.
func (s Sync) Track(e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	err := safeEmit(context.Background(), s.Sink, e)
	if s.OnError != nil {
		for _, f := range Failures(err) {
			s.OnError(f)
		}
	}
}

// Memory records events in order.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

// Name implements Sink.
func (m *Memory) Name() string { return "memory" }

// Emit implements Sink.
func (m *Memory) Emit(_ context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

// Events returns a copy of the recorded events.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// Names returns the recorded event names in order.
func (m *Memory) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	for i, e := range m.events {
		out[i] = e.Name
	}
	return out
}

// safeEmit converts sink panics into errors and names the failing sink.
func safeEmit(ctx context.Context, s Sink, e Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &SinkError{Sink: s.Name(), Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	err = s.Emit(ctx, e)
	var se *SinkError
	if err != nil && !errors.As(err, &se) {
		err = &SinkError{Sink: s.Name(), Err: err}
	}
	return err
}
