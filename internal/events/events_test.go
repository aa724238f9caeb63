package events

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSubscribeAndPublish(t *testing.T) {
	bus := NewBus(testLogger())
	var received Event
	bus.Subscribe(EnvCreated, func(e Event) {
		received = e
	})

	bus.Publish(Event{
		Type:       EnvCreated,
		Env:        0x1001,
		FramesFree: 12,
		Data:       map[string]string{"parent": "00000800"},
	})

	if received.Type != EnvCreated {
		t.Fatalf("expected %s, got %s", EnvCreated, received.Type)
	}
	if received.Env != 0x1001 || received.FramesFree != 12 || received.Data["parent"] != "00000800" {
		t.Fatalf("received %+v", received)
	}
	if received.Timestamp.IsZero() {
		t.Fatal("expected non-zero timestamp")
	}
}

func TestMultipleSubscribers(t *testing.T) {
	bus := NewBus(testLogger())
	var count int
	bus.Subscribe(EnvAborted, func(e Event) { count++ })
	bus.Subscribe(EnvAborted, func(e Event) { count++ })
	bus.Subscribe(EnvAborted, func(e Event) { count++ })

	bus.Publish(Event{Type: EnvAborted})

	if count != 3 {
		t.Fatalf("expected 3 notifications, got %d", count)
	}
}

func TestSubscribeAll(t *testing.T) {
	bus := NewBus(testLogger())
	var seen []EventType
	ids := bus.SubscribeAll(func(e Event) { seen = append(seen, e.Type) }, EnvExited, PageFault)
	if len(ids) != 2 {
		t.Fatalf("expected 2 subscription ids, got %d", len(ids))
	}

	bus.Publish(Event{Type: PageFault})
	bus.Publish(Event{Type: EnvCreated})
	bus.Publish(Event{Type: EnvExited})

	if len(seen) != 2 || seen[0] != PageFault || seen[1] != EnvExited {
		t.Fatalf("seen = %v, want [PAGE_FAULT ENV_EXITED]", seen)
	}
}

func TestUnsubscribe(t *testing.T) {
	bus := NewBus(testLogger())
	var count int
	id := bus.Subscribe(EnvExited, func(e Event) { count++ })

	bus.Publish(Event{Type: EnvExited})
	if count != 1 {
		t.Fatalf("expected 1, got %d", count)
	}

	bus.Unsubscribe(id)
	bus.Publish(Event{Type: EnvExited})
	if count != 1 {
		t.Fatalf("expected 1 after unsubscribe, got %d", count)
	}
}

func TestUnsubscribeNonexistent(t *testing.T) {
	bus := NewBus(testLogger())
	// Should not panic.
	bus.Unsubscribe(9999)
}

func TestPublishOnNilBus(t *testing.T) {
	var bus *Bus
	// Should not panic.
	bus.Publish(Event{Type: PageFault})
}

func TestPanicRecovery(t *testing.T) {
	bus := NewBus(testLogger())
	var afterPanic bool

	bus.Subscribe(FrameExhausted, func(e Event) {
		panic("boom")
	})
	bus.Subscribe(FrameExhausted, func(e Event) {
		afterPanic = true
	})

	bus.Publish(Event{Type: FrameExhausted})

	if !afterPanic {
		t.Fatal("handler after panicking handler did not run")
	}
}

func TestNoSubscribersNoAlloc(t *testing.T) {
	bus := NewBus(testLogger())
	ev := Event{Type: PageFault, Timestamp: time.Now()}
	allocs := testing.AllocsPerRun(100, func() {
		bus.Publish(ev)
	})
	if allocs > 0 {
		t.Fatalf("expected zero allocations, got %v", allocs)
	}
}

func TestOrderedDelivery(t *testing.T) {
	bus := NewBus(testLogger())
	var order []int
	for i := 0; i < 5; i++ {
		i := i
		bus.Subscribe(EnvRunnable, func(e Event) { order = append(order, i) })
	}

	bus.Publish(Event{Type: EnvRunnable})

	for i, v := range order {
		if v != i {
			t.Fatalf("delivery order = %v", order)
		}
	}
}

func TestConcurrentSubscribeUnsubscribe(t *testing.T) {
	bus := NewBus(testLogger())
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := bus.Subscribe(PageFault, func(Event) {})
			bus.Publish(Event{Type: PageFault})
			bus.Unsubscribe(id)
		}()
	}
	wg.Wait()

	if n := bus.SubscriberCount(PageFault); n != 0 {
		t.Fatalf("expected 0 subscribers, got %d", n)
	}
}

func TestUnsubscribeDuringPublish(t *testing.T) {
	bus := NewBus(testLogger())
	var second int
	var first uint64
	first = bus.Subscribe(PageFault, func(Event) { bus.Unsubscribe(first) })
	bus.Subscribe(PageFault, func(Event) { second++ })

	bus.Publish(Event{Type: PageFault})
	bus.Publish(Event{Type: PageFault})

	if second != 2 {
		t.Fatalf("second handler ran %d times, want 2", second)
	}
	if n := bus.SubscriberCount(PageFault); n != 1 {
		t.Fatalf("subscribers = %d, want 1", n)
	}
}

func TestRecorder(t *testing.T) {
	bus := NewBus(testLogger())
	var r Recorder
	r.Record(bus, EnvCreated, EnvExited)

	bus.Publish(Event{Type: EnvCreated, Env: 0x800})
	bus.Publish(Event{Type: PageFault, Env: 0x800})
	bus.Publish(Event{Type: EnvExited, Env: 0x800})

	if got := r.Count(EnvCreated); got != 1 {
		t.Errorf("Count(EnvCreated) = %d", got)
	}
	if got := r.Count(PageFault); got != 0 {
		t.Errorf("Count(PageFault) = %d", got)
	}
	evs := r.Events()
	if len(evs) != 2 || evs[1].Type != EnvExited {
		t.Fatalf("events = %+v", evs)
	}
}

func TestEventLogValue(t *testing.T) {
	e := Event{Type: PageFault, Env: 0x1001, FramesFree: 3, Data: map[string]string{"va": "0x00400000"}}
	got := map[string]string{}
	for _, a := range e.LogValue().Group() {
		got[a.Key] = a.Value.String()
	}
	want := map[string]string{"type": "PAGE_FAULT", "env": "00001001", "frames_free": "3", "va": "0x00400000"}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %q, want %q", k, got[k], v)
		}
	}
}

func TestEventTimestampPreserved(t *testing.T) {
	bus := NewBus(testLogger())
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var got time.Time
	bus.Subscribe(EnvExited, func(e Event) { got = e.Timestamp })

	bus.Publish(Event{Type: EnvExited, Timestamp: ts})

	if !got.Equal(ts) {
		t.Fatalf("timestamp = %v, want %v", got, ts)
	}
}
