/*
dispatcher.go - Fire-and-forget analytics event dispatch

PURPOSE:
  Decouples the audit and travel paths from a slow or failing analytics
  sink. RecordEvent never blocks: events go onto a bounded queue and a
  background goroutine forwards them to the sink.

DESIGN:
  - One worker goroutine drains a buffered channel
  - When the buffer is full the event is dropped and reported to the
    DropObserver (metrics), never returned as an error
  - Sink errors are logged at debug level and swallowed
  - The request context's cancellation is detached so an event outlives
    the HTTP request that produced it

CONFIGURATION:
  - BufferSize: Queue length (default: 256)

USAGE:
  async := events.NewAsync(store, logger)
  async.Start()
  defer async.Stop()
  auditor.Events = async

SEE ALSO:
  - generic/store.go: EventRecorder contract
  - store/sqlite/sqlite.go: events table sink
*/
package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/garrison-ledger/entitlement-engine/generic"
)

const DefaultBufferSize = 256

// DropObserver is told about events discarded on a full queue.
type DropObserver interface {
	EventDropped(name string)
}

type event struct {
	ctx        context.Context
	name       string
	properties map[string]any
}

// Async forwards events to Sink on a background goroutine.
type Async struct {
	Sink       generic.EventRecorder
	Drops      DropObserver
	Logger     *slog.Logger
	BufferSize int

	queue   chan event
	stop    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
}

func NewAsync(sink generic.EventRecorder, logger *slog.Logger) *Async {
	if logger == nil {
		logger = slog.Default()
	}
	return &Async{Sink: sink, Logger: logger, BufferSize: DefaultBufferSize}
}

// Start launches the worker. Calling Start twice is a no-op.
func (a *Async) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.started {
		return
	}
	size := a.BufferSize
	if size <= 0 {
		size = DefaultBufferSize
	}
	a.queue = make(chan event, size)
	a.stop = make(chan struct{})
	a.started = true

	a.wg.Add(1)
	go a.run()

	a.Logger.Info("event dispatcher started", slog.Int("buffer", size))
}

// Stop drains what is already queued, then stops the worker.
func (a *Async) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.started {
		return
	}
	close(a.stop)
	a.wg.Wait()
	a.started = false
	a.Logger.Info("event dispatcher stopped")
}

// RecordEvent enqueues the event. It always returns nil.
func (a *Async) RecordEvent(ctx context.Context, name string, properties map[string]any) error {
	a.mu.Lock()
	started := a.started
	queue := a.queue
	a.mu.Unlock()

	if !started {
		if a.Drops != nil {
			a.Drops.EventDropped(name)
		}
		a.Logger.DebugContext(ctx, "event dispatcher not running, dropping event", slog.String("event", name))
		return nil
	}

	select {
	case queue <- event{ctx: context.WithoutCancel(ctx), name: name, properties: properties}:
	default:
		a.dropped(name)
	}
	return nil
}

func (a *Async) run() {
	defer a.wg.Done()

	for {
		select {
		case ev := <-a.queue:
			a.deliver(ev)
		case <-a.stop:
			for {
				select {
				case ev := <-a.queue:
					a.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

func (a *Async) deliver(ev event) {
	if a.Sink == nil {
		return
	}
	if err := a.Sink.RecordEvent(ev.ctx, ev.name, ev.properties); err != nil {
		a.Logger.DebugContext(ev.ctx, "event sink failed", slog.String("event", ev.name), slog.String("error", err.Error()))
	}
}

func (a *Async) dropped(name string) {
	if a.Drops != nil {
		a.Drops.EventDropped(name)
	}
	a.Logger.Debug("event queue full, dropping event", slog.String("event", name))
}

// =============================================================================
// LOG SINK
// =============================================================================

// LogSink writes events to a structured logger. Used when no database sink
// is configured.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) RecordEvent(ctx context.Context, name string, properties map[string]any) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := make([]any, 0, len(properties)+1)
	attrs = append(attrs, slog.String("event", name))
	for k, v := range properties {
		attrs = append(attrs, slog.Any(k, v))
	}
	logger.InfoContext(ctx, "analytics event", attrs...)
	return nil
}
