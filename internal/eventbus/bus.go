// Package eventbus routes effect lifecycle events to subscribers through a
// bounded worker pool.
package eventbus

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// EventType represents the type of event
type EventType string

const (
	EventEffectStarted    EventType = "effect_started"
	EventEffectStopped    EventType = "effect_stopped"
	EventEffectFailed     EventType = "effect_failed"
	EventSnapshotCaptured EventType = "snapshot_captured"
	EventSnapshotRestored EventType = "snapshot_restored"
	EventSnapshotFailed   EventType = "snapshot_failed"
)

// Default configuration
const (
	DefaultWorkerCount = 4
	DefaultQueueSize   = 100
)

// Event is a single lifecycle transition.
type Event struct {
	Type     EventType `json:"type"`
	EffectID string    `json:"effectId,omitempty"`
	LightID  string    `json:"lightId"`
	Instance string    `json:"instance,omitempty"`
	Error    string    `json:"error,omitempty"`
	Time     time.Time `json:"time"`
}

// Handler receives one event.
type Handler func(Event)

// subscription is one SubscribeAll registration; its pointer identifies it
// on unsubscribe.
type subscription struct {
	handler Handler
}

// delivery pairs an event with one of its handlers.
type delivery struct {
	event   Event
	handler Handler
}

// Bus provides event routing with a bounded worker pool. Handlers for one
// event may run concurrently and out of order with each other.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	all      []*subscription
	closed   bool

	queue chan delivery
	wg    sync.WaitGroup
}

// New creates a bus with DefaultWorkerCount workers and a DefaultQueueSize queue.
func New() *Bus {
	return NewWithConfig(0, 0)
}

// NewWithConfig creates a bus. Non-positive values fall back to the defaults.
func NewWithConfig(workerCount, queueSize int) *Bus {
	if workerCount <= 0 {
		workerCount = DefaultWorkerCount
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	b := &Bus{
		handlers: make(map[EventType][]Handler),
		queue:    make(chan delivery, queueSize),
	}
	b.wg.Add(workerCount)
	for i := range workerCount {
		go b.work(i)
	}

	log.Debug().Int("workers", workerCount).Int("queue_size", queueSize).Msg("Event bus started")
	return b
}

func (b *Bus) work(worker int) {
	defer b.wg.Done()
	for d := range b.queue {
		d.run(worker)
	}
}

// run calls the handler, containing any panic to this delivery.
func (d delivery) run(worker int) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("event_type", string(d.event.Type)).
				Int("worker", worker).
				Msg("Event handler panicked")
		}
	}()
	d.handler(d.event)
}

// Subscribe registers a handler for a specific event type
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// SubscribeAll registers a handler for every event type. The returned
// function removes it.
func (b *Bus) SubscribeAll(handler Handler) (unsubscribe func()) {
	sub := &subscription{handler: handler}

	b.mu.Lock()
	b.all = append(b.all, sub)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if i := slices.Index(b.all, sub); i >= 0 {
				b.all = slices.Delete(b.all, i, i+1)
			}
		})
	}
}

// Publish queues the event for every matching handler. It never blocks:
// if the queue is full or the bus is closed, the event is dropped.
// A zero Time is set to now.
func (b *Bus) Publish(event Event) {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		log.Debug().Str("event_type", string(event.Type)).Msg("Event bus closed, dropping event")
		return
	}

	for _, handler := range b.handlers[event.Type] {
		b.enqueue(event, handler)
	}
	for _, sub := range b.all {
		b.enqueue(event, sub.handler)
	}
}

func (b *Bus) enqueue(event Event, handler Handler) {
	select {
	case b.queue <- delivery{event: event, handler: handler}:
	default:
		log.Warn().
			Str("event_type", string(event.Type)).
			Msg("Event bus queue full, dropping event")
	}
}

// Close stops accepting events, drains the queue and waits for workers
// until ctx is done. Safe to call more than once.
func (b *Bus) Close(ctx context.Context) {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		close(b.queue)
	}
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Debug().Msg("Event bus workers stopped gracefully")
	case <-ctx.Done():
		log.Warn().Msg("Event bus shutdown timed out, some events may be lost")
	}
}
