package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestEveryAligned(t *testing.T) {
	trig := Every(5*time.Minute, true)
	now := time.Date(2024, 3, 1, 10, 7, 30, 0, time.UTC)
	want := time.Date(2024, 3, 1, 10, 10, 0, 0, time.UTC)
	if got := trig.Next(now); !got.Equal(want) {
		t.Fatalf("next = %s, want %s", got, want)
	}
	onBoundary := time.Date(2024, 3, 1, 10, 10, 0, 0, time.UTC)
	if got := trig.Next(onBoundary); !got.Equal(onBoundary.Add(5 * time.Minute)) {
		t.Fatalf("boundary should advance a full interval, got %s", got)
	}
}

func TestEveryUnaligned(t *testing.T) {
	trig := Every(30*time.Minute, false)
	now := time.Date(2024, 3, 1, 10, 7, 30, 0, time.UTC)
	if got := trig.Next(now); !got.Equal(now.Add(30 * time.Minute)) {
		t.Fatalf("unexpected next %s", got)
	}
}

func TestDailyAt(t *testing.T) {
	trig := DailyAt(8, 30, time.UTC)
	before := time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC)
	if got := trig.Next(before); !got.Equal(time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC)) {
		t.Fatalf("same day expected, got %s", got)
	}
	after := time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC)
	if got := trig.Next(after); !got.Equal(time.Date(2024, 3, 2, 8, 30, 0, 0, time.UTC)) {
		t.Fatalf("next day expected, got %s", got)
	}
}

func TestParseClock(t *testing.T) {
	h, m, err := ParseClock("07:05")
	if err != nil || h != 7 || m != 5 {
		t.Fatalf("unexpected %d %d %v", h, m, err)
	}
	for _, bad := range []string{"", "7", "24:00", "12:60", "aa:bb"} {
		if _, _, err := ParseClock(bad); err == nil {
			t.Fatalf("%q should fail", bad)
		}
	}
}

func TestFireSkipsWhileRunning(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	r := &runner{
		job: Job{Name: "slow", Trigger: Every(time.Minute, false), Run: func(ctx context.Context, at time.Time) error {
			calls.Add(1)
			<-release
			return nil
		}},
		logger: testLogger(),
	}

	ctx := context.Background()
	if !r.fire(ctx, time.Now()) {
		t.Fatal("first trigger should start")
	}
	if r.fire(ctx, time.Now()) {
		t.Fatal("second trigger must be skipped while busy")
	}
	close(release)
	r.wait()

	if !r.fire(ctx, time.Now()) {
		t.Fatal("trigger after completion should start")
	}
	r.wait()

	st := r.stats()
	if st.Started != 2 || st.Skipped != 1 || calls.Load() != 2 {
		t.Fatalf("unexpected stats %+v calls=%d", st, calls.Load())
	}
}

func TestFireRecordsFailureAndRecovers(t *testing.T) {
	r := &runner{
		job: Job{Name: "bad", Trigger: Every(time.Minute, false), Run: func(ctx context.Context, at time.Time) error {
			return errors.New("boom")
		}},
		logger: testLogger(),
	}
	r.fire(context.Background(), time.Now())
	r.wait()

	r.job.Run = func(ctx context.Context, at time.Time) error { panic("kaboom") }
	r.fire(context.Background(), time.Now())
	r.wait()

	if st := r.stats(); st.Failed != 2 {
		t.Fatalf("expected 2 failures, got %+v", st)
	}
	if r.running.Load() {
		t.Fatal("runner should be idle after a panic")
	}
}

func TestSlowJobDoesNotDelayOthers(t *testing.T) {
	s := New(Options{}, testLogger())

	var fast atomic.Int32
	s.Add(Job{
		Name:    "hung",
		Trigger: Every(10*time.Millisecond, false),
		Run: func(ctx context.Context, at time.Time) error {
			<-ctx.Done()
			return ctx.Err()
		},
	})
	s.Add(Job{
		Name:    "fast",
		Trigger: Every(10*time.Millisecond, false),
		Run: func(ctx context.Context, at time.Time) error {
			fast.Add(1)
			return nil
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	if err := s.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("unexpected run error %v", err)
	}

	if fast.Load() < 3 {
		t.Fatalf("fast job should keep running, got %d runs", fast.Load())
	}
	hung, _ := s.Stats("hung")
	if hung.Started > 2 || hung.Skipped == 0 {
		t.Fatalf("hung job should start once and skip later triggers, got %+v", hung)
	}
}

func TestRunOnStart(t *testing.T) {
	s := New(Options{}, testLogger())
	done := make(chan struct{}, 1)
	s.Add(Job{
		Name:       "boot",
		Trigger:    Every(time.Hour, true),
		RunOnStart: true,
		Run: func(ctx context.Context, at time.Time) error {
			done <- struct{}{}
			return nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("run on start did not fire")
		}
		cancel()
	}()
	_ = s.Run(ctx)

	if names := s.Jobs(); len(names) != 1 || names[0] != "boot" {
		t.Fatalf("unexpected jobs %v", names)
	}
}
