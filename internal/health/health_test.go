package health

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func testSchedule() Schedule {
	return Schedule{
		InitialDelay: time.Millisecond,
		MaxDelay:     4 * time.Millisecond,
		PollInterval: 5 * time.Millisecond,
		CheckTimeout: 50 * time.Millisecond,
	}
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestDefaultSchedule(t *testing.T) {
	s := DefaultSchedule()
	if s.InitialDelay != 2*time.Second || s.MaxDelay != time.Minute || s.PollInterval != time.Minute || s.CheckTimeout != 10*time.Second {
		t.Errorf("DefaultSchedule() = %+v", s)
	}
	if got := (Schedule{PollInterval: time.Second}).withDefaults(); got.PollInterval != time.Second || got.InitialDelay != 2*time.Second {
		t.Errorf("withDefaults kept explicit values wrong: %+v", got)
	}
}

func TestMonitor_ImmediateSuccess(t *testing.T) {
	m := NewMonitor(quiet())
	defer m.Stop()

	m.Watch(context.Background(), "ollama", func(context.Context) error { return nil }, testSchedule())
	eventually(t, m.Ready)

	st := m.Status()
	if len(st) != 1 || st[0].Name != "ollama" || st[0].LastError != "" || st[0].LastCheck.IsZero() {
		t.Errorf("status = %+v", st)
	}
}

func TestMonitor_BackoffThenRecover(t *testing.T) {
	m := NewMonitor(quiet())
	defer m.Stop()

	var attempts atomic.Int32
	m.Watch(context.Background(), "mongo", func(context.Context) error {
		if attempts.Add(1) <= 3 {
			return errors.New("connection refused")
		}
		return nil
	}, testSchedule())

	eventually(t, m.Ready)
	if n := attempts.Load(); n < 4 {
		t.Errorf("attempts = %d, want at least 4", n)
	}
	if st := m.Status()[0]; st.Failures != 0 || st.LastError != "" {
		t.Errorf("recovered status = %+v", st)
	}
}

func TestMonitor_GoesDown(t *testing.T) {
	m := NewMonitor(quiet())
	defer m.Stop()

	var down atomic.Bool
	m.Watch(context.Background(), "redis", func(context.Context) error {
		if down.Load() {
			return errors.New("i/o timeout")
		}
		return nil
	}, testSchedule())

	eventually(t, m.Ready)
	down.Store(true)
	eventually(t, func() bool { return !m.Ready() })

	eventually(t, func() bool { return m.Status()[0].Failures >= 2 })
	if st := m.Status()[0]; st.LastError != "i/o timeout" {
		t.Errorf("status = %+v", st)
	}
}

func TestMonitor_CheckTimeout(t *testing.T) {
	m := NewMonitor(quiet())
	defer m.Stop()

	s := testSchedule()
	s.CheckTimeout = 5 * time.Millisecond
	m.Watch(context.Background(), "slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, s)

	eventually(t, func() bool { return m.Status()[0].Failures >= 1 })
	if m.Ready() {
		t.Error("a check that never returns must not count as ready")
	}
}

func TestMonitor_RejectsDuplicatesAndInvalid(t *testing.T) {
	m := NewMonitor(quiet())
	defer m.Stop()

	ok := func(context.Context) error { return nil }
	if !m.Watch(context.Background(), "a", ok, testSchedule()) {
		t.Fatal("first Watch should succeed")
	}
	if m.Watch(context.Background(), "a", ok, testSchedule()) {
		t.Error("duplicate name should be rejected")
	}
	if m.Watch(context.Background(), "", ok, testSchedule()) || m.Watch(context.Background(), "b", nil, testSchedule()) {
		t.Error("empty name or nil check should be rejected")
	}
	if n := len(m.Status()); n != 1 {
		t.Errorf("watched %d dependencies, want 1", n)
	}
}

func TestMonitor_StatusSortedAndStop(t *testing.T) {
	m := NewMonitor(quiet())

	var checks atomic.Int32
	for _, n := range []string{"zeta", "alpha", "mu"} {
		m.Watch(context.Background(), n, func(context.Context) error { checks.Add(1); return nil }, testSchedule())
	}
	eventually(t, m.Ready)

	st := m.Status()
	if st[0].Name != "alpha" || st[1].Name != "mu" || st[2].Name != "zeta" {
		t.Errorf("status not sorted: %+v", st)
	}

	m.Stop()
	after := checks.Load()
	time.Sleep(20 * time.Millisecond)
	if checks.Load() != after {
		t.Error("checks continued after Stop")
	}
}

func TestMonitor_EmptyIsReady(t *testing.T) {
	m := NewMonitor(nil)
	if !m.Ready() || len(m.Status()) != 0 {
		t.Error("a monitor with nothing to watch is ready")
	}
	m.Stop()
}

func TestMonitor_ContextCancellation(t *testing.T) {
	m := NewMonitor(quiet())
	ctx, cancel := context.WithCancel(context.Background())
	m.Watch(ctx, "x", func(context.Context) error { return errors.New("down") }, testSchedule())
	cancel()

	done := make(chan struct{})
	go func() { m.Stop(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after context cancellation")
	}
}
