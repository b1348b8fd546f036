package alerting

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"market-alerts/internal/model"
)

type recordingNotifier struct {
	name string
	err  error

	mu    sync.Mutex
	sends []sent
}

type sent struct {
	handle string
	event  model.AlertEvent
	at     time.Time
}

func (n *recordingNotifier) Name() string { return n.name }

func (n *recordingNotifier) Send(_ context.Context, handle string, event model.AlertEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sends = append(n.sends, sent{handle: handle, event: event, at: time.Now()})
	return n.err
}

func (n *recordingNotifier) snapshot() []sent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sent(nil), n.sends...)
}

type memoryRecorder struct {
	mu       sync.Mutex
	channels []string
}

func (r *memoryRecorder) RecordAlert(_ context.Context, channel string, _ model.AlertEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels = append(r.channels, channel)
	return nil
}

func TestDispatcherResolvesChannelsOnce(t *testing.T) {
	tg := &recordingNotifier{name: "telegram"}
	d := NewDispatcher(map[string]ChannelSpec{
		"prices":  {Notifier: "telegram", Target: "-100"},
		"news":    {Notifier: "discord", Target: "42"},
		"empty":   {Notifier: "telegram"},
		"nothing": {},
	}, []Notifier{tg}, DispatcherOptions{}, testLogger())

	if !d.Resolved("prices") || d.Resolved("news") {
		t.Fatal("unexpected resolution state")
	}
	unresolved := d.Unresolved()
	if len(unresolved) != 3 {
		t.Fatalf("expected 3 configuration errors, got %d", len(unresolved))
	}
	for _, cfgErr := range unresolved {
		if cfgErr.Channel == "prices" {
			t.Fatal("resolved channel reported as configuration error")
		}
	}
}

func TestDeliverUnresolvedIsNoop(t *testing.T) {
	tg := &recordingNotifier{name: "telegram"}
	d := NewDispatcher(map[string]ChannelSpec{"news": {Notifier: "discord", Target: "1"}}, []Notifier{tg}, DispatcherOptions{}, testLogger())

	if err := d.Deliver(context.Background(), "news", sampleEvent()); err != nil {
		t.Fatalf("unresolved channel should be silent, got %v", err)
	}
	if err := d.Deliver(context.Background(), "unknown", sampleEvent()); err != nil {
		t.Fatalf("unknown channel should be silent, got %v", err)
	}
	if len(tg.snapshot()) != 0 {
		t.Fatal("nothing should have been sent")
	}
}

func TestDeliverWrapsTransportFailure(t *testing.T) {
	boom := errors.New("connection reset")
	tg := &recordingNotifier{name: "telegram", err: boom}
	rec := &memoryRecorder{}
	d := NewDispatcher(map[string]ChannelSpec{"prices": {Notifier: "telegram", Target: "1"}}, []Notifier{tg}, DispatcherOptions{Recorder: rec}, testLogger())

	err := d.Deliver(context.Background(), "prices", sampleEvent())
	var de *DeliveryError
	if !errors.As(err, &de) {
		t.Fatalf("expected *DeliveryError, got %T %v", err, err)
	}
	if de.Channel != "prices" || de.Notifier != "telegram" || !errors.Is(err, boom) {
		t.Fatalf("unexpected delivery error %+v", de)
	}
	if len(rec.channels) != 0 {
		t.Fatal("failed delivery must not be recorded")
	}

	// Send swallows the same failure.
	d.Send(context.Background(), "prices", sampleEvent())
}

func TestDeliverRecordsSuccess(t *testing.T) {
	tg := &recordingNotifier{name: "telegram"}
	rec := &memoryRecorder{}
	d := NewDispatcher(map[string]ChannelSpec{"prices": {Notifier: "Telegram", Target: " -100 "}}, []Notifier{tg}, DispatcherOptions{Recorder: rec}, testLogger())

	if err := d.Deliver(context.Background(), "prices", sampleEvent()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sends := tg.snapshot()
	if len(sends) != 1 || sends[0].handle != "-100" {
		t.Fatalf("unexpected sends %+v", sends)
	}
	if len(rec.channels) != 1 || rec.channels[0] != "prices" {
		t.Fatalf("unexpected recorded channels %v", rec.channels)
	}
}

func TestMinimumSpacingPerTarget(t *testing.T) {
	tg := &recordingNotifier{name: "telegram"}
	spacing := 40 * time.Millisecond
	d := NewDispatcher(map[string]ChannelSpec{
		"a":     {Notifier: "telegram", Target: "1"},
		"alias": {Notifier: "telegram", Target: "1"},
		"other": {Notifier: "telegram", Target: "2"},
	}, []Notifier{tg}, DispatcherOptions{MinSpacing: spacing}, testLogger())

	ctx := context.Background()
	start := time.Now()
	for range 2 {
		if err := d.Deliver(ctx, "a", sampleEvent()); err != nil {
			t.Fatal(err)
		}
	}
	if err := d.Deliver(ctx, "alias", sampleEvent()); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed < 2*spacing {
		t.Fatalf("three sends to one target should take >= %v, took %v", 2*spacing, elapsed)
	}

	otherStart := time.Now()
	if err := d.Deliver(ctx, "other", sampleEvent()); err != nil {
		t.Fatal(err)
	}
	if time.Since(otherStart) > spacing/2 {
		t.Fatal("a different target must not wait on another target's spacing")
	}

	sends := tg.snapshot()
	for i := 1; i < 3; i++ {
		if gap := sends[i].at.Sub(sends[i-1].at); gap < spacing-5*time.Millisecond {
			t.Fatalf("gap %d too small: %v", i, gap)
		}
	}
}

func TestSpacingWaitHonoursCancel(t *testing.T) {
	tg := &recordingNotifier{name: "telegram"}
	d := NewDispatcher(map[string]ChannelSpec{"a": {Notifier: "telegram", Target: "1"}}, []Notifier{tg}, DispatcherOptions{MinSpacing: time.Hour}, testLogger())

	if err := d.Deliver(context.Background(), "a", sampleEvent()); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := d.Deliver(ctx, "a", sampleEvent())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

func TestSubmitOutlivesCallerContext(t *testing.T) {
	tg := &recordingNotifier{name: "telegram"}
	d := NewDispatcher(map[string]ChannelSpec{"a": {Notifier: "telegram", Target: "1"}}, []Notifier{tg}, DispatcherOptions{SendTimeout: time.Second}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	d.Submit(ctx, "a", sampleEvent())
	cancel()
	d.Submit(context.Background(), "missing", sampleEvent())
	d.Wait()

	if got := len(tg.snapshot()); got != 1 {
		t.Fatalf("expected exactly one send, got %d", got)
	}
}
