package metrics

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/kahiteam/cowfork/internal/events"
	"github.com/kahiteam/cowfork/internal/kernel"
	"github.com/kahiteam/cowfork/internal/programs"
)

func scrape(t *testing.T, c *Collector, prefixes ...string) string {
	t.Helper()
	var buf bytes.Buffer
	if err := c.WriteText(&buf, prefixes...); err != nil {
		t.Fatal(err)
	}
	return buf.String()
}

func TestWriteTextIncludesRuntimeMetrics(t *testing.T) {
	c := New()
	body := scrape(t, c)
	if !strings.Contains(body, "go_goroutines") {
		t.Fatal("expected go_goroutines metric")
	}
}

func TestWriteTextPrefixFilter(t *testing.T) {
	c := New()
	c.SetBuildInfo("v1.2.3", "go1.26.0")
	body := scrape(t, c, "cowfork_")
	if strings.Contains(body, "go_goroutines") {
		t.Fatalf("runtime metrics leaked through filter:\n%s", body)
	}
	if !strings.Contains(body, `cowfork_info{go_version="go1.26.0",version="v1.2.3"} 1`) {
		t.Fatalf("expected build info, got:\n%s", body)
	}
}

func TestObserveEvents(t *testing.T) {
	c := New()
	bus := events.NewBus(nil)
	c.Attach(bus)

	bus.Publish(events.Event{Type: events.EnvCreated, Env: 0x800, FramesFree: 10})
	bus.Publish(events.Event{Type: events.EnvCreated, Env: 0x800, FramesFree: 8})
	bus.Publish(events.Event{Type: events.PageFault, Env: 0x800, FramesFree: 7})
	bus.Publish(events.Event{Type: events.EnvAborted, Env: 0x800, FramesFree: 9})
	bus.Publish(events.Event{Type: events.EnvExited, Env: 0x800, FramesFree: 12})
	bus.Publish(events.Event{Type: events.FrameExhausted})

	body := scrape(t, c, "cowfork_")
	for _, want := range []string{
		"cowfork_env_created_total 2",
		`cowfork_env_exit_total{outcome="aborted"} 1`,
		`cowfork_env_exit_total{outcome="exited"} 1`,
		"cowfork_page_faults_total 1",
		"cowfork_frame_exhausted_total 1",
		"cowfork_frames_free 12",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("missing %q in:\n%s", want, body)
		}
	}
}

func TestEventWithoutEnvKeepsGauge(t *testing.T) {
	c := New()
	c.SetFramesFree(5)
	c.observe(events.Event{Type: events.PageFault})
	if got := testutil.ToFloat64(c.FramesFree); got != 5 {
		t.Fatalf("frames_free = %v, want 5", got)
	}
}

func TestForkRunCounts(t *testing.T) {
	c := New()
	bus := events.NewBus(nil)
	c.Attach(bus)

	k := kernel.New(kernel.Options{Frames: 64, Bus: bus})
	rec, err := programs.Run(context.Background(), k, "fork")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Err != nil {
		t.Fatalf("exit err = %v", rec.Err)
	}
	c.SetFramesFree(k.FreeFrames())

	if got := testutil.ToFloat64(c.EnvCreatedTotal); got != 2 {
		t.Errorf("env_created_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.EnvExitTotal.WithLabelValues("exited")); got != 2 {
		t.Errorf("exited = %v, want 2", got)
	}
	// Parent and child each write the shared counter page at least once.
	if got := testutil.ToFloat64(c.PageFaultsTotal); got < 2 {
		t.Errorf("page_faults_total = %v, want >= 2", got)
	}
	if got := testutil.ToFloat64(c.FramesFree); got != 64 {
		t.Errorf("frames_free = %v, want 64", got)
	}
}
