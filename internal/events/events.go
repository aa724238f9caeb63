// Package events provides a publish-subscribe event bus for environment
// lifecycle and page-fault notifications raised by the kernel.
package events

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// EventType identifies a specific event category.
type EventType string

// Environment lifecycle events.
const (
	EnvCreated  EventType = "ENV_CREATED"
	EnvRunnable EventType = "ENV_RUNNABLE"
	EnvExited   EventType = "ENV_EXITED"
	EnvAborted  EventType = "ENV_ABORTED"
)

// Memory events.
const (
	PageFault      EventType = "PAGE_FAULT"
	FrameExhausted EventType = "FRAME_EXHAUSTED"
)

// Event is one kernel notification. Env is the environment it concerns and
// is never zero for events raised by the kernel. FramesFree is the number
// of free physical frames at the time of publishing.
type Event struct {
	Type       EventType
	Timestamp  time.Time
	Env        uint32
	FramesFree int
	Data       map[string]string // "parent", "reason", "va"
}

// LogValue renders the event as a slog group.
func (e Event) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("type", string(e.Type)),
		slog.String("env", fmt.Sprintf("%08x", e.Env)),
		slog.Int("frames_free", e.FramesFree),
	}
	for k, v := range e.Data {
		attrs = append(attrs, slog.String(k, v))
	}
	return slog.GroupValue(attrs...)
}

// HandlerFunc processes an event.
type HandlerFunc func(Event)

type subscription struct {
	id      uint64
	handler HandlerFunc
}

// Bus is the central event dispatcher. It is safe for concurrent use.
// Subscriber lists are replaced, never modified in place, so Publish can
// hand a list to handlers without copying it. With no subscribers Publish
// does not allocate.
type Bus struct {
	mu     sync.RWMutex
	subs   map[EventType][]subscription
	owner  map[uint64]EventType
	nextID uint64
	logger *slog.Logger
}

// NewBus creates a new event bus. A nil logger drops handler panics
// silently.
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		subs:   make(map[EventType][]subscription),
		owner:  make(map[uint64]EventType),
		logger: logger,
	}
}

// Subscribe registers a handler for the given event type and returns an id
// for Unsubscribe.
func (b *Bus) Subscribe(eventType EventType, handler HandlerFunc) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	old := b.subs[eventType]
	list := make([]subscription, len(old), len(old)+1)
	copy(list, old)
	b.subs[eventType] = append(list, subscription{id: id, handler: handler})
	b.owner[id] = eventType
	return id
}

// SubscribeAll registers one handler for every event type listed.
func (b *Bus) SubscribeAll(handler HandlerFunc, types ...EventType) []uint64 {
	ids := make([]uint64, 0, len(types))
	for _, t := range types {
		ids = append(ids, b.Subscribe(t, handler))
	}
	return ids
}

// Unsubscribe removes a subscription by id. Unknown ids are ignored.
func (b *Bus) Unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	eventType, ok := b.owner[id]
	if !ok {
		return
	}
	delete(b.owner, id)
	old := b.subs[eventType]
	list := make([]subscription, 0, len(old))
	for _, s := range old {
		if s.id != id {
			list = append(list, s)
		}
	}
	if len(list) == 0 {
		delete(b.subs, eventType)
		return
	}
	b.subs[eventType] = list
}

// Publish dispatches an event to all subscribers of its type, synchronously
// and in registration order. A panicking handler is recovered and logged;
// the remaining handlers still run.
func (b *Bus) Publish(event Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	subs := b.subs[event.Type]
	b.mu.RUnlock()
	if len(subs) == 0 {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	for _, s := range subs {
		b.safeCall(s.handler, event)
	}
}

func (b *Bus) safeCall(handler HandlerFunc, event Event) {
	defer func() {
		if r := recover(); r != nil && b.logger != nil {
			b.logger.Error("event handler panicked", "event", event, "panic", r)
		}
	}()
	handler(event)
}

// SubscriberCount returns the number of subscribers for an event type.
func (b *Bus) SubscriberCount(eventType EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[eventType])
}

// Recorder keeps every event it sees, in delivery order.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Record subscribes r to the given event types on bus.
func (r *Recorder) Record(bus *Bus, types ...EventType) {
	bus.SubscribeAll(func(e Event) {
		r.mu.Lock()
		r.events = append(r.events, e)
		r.mu.Unlock()
	}, types...)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Count returns how many recorded events have type t.
func (r *Recorder) Count(t EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}
