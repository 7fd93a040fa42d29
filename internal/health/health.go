// Package health tracks the reachability of external dependencies (the
// model backend, the document store, the retrieval cache) for the
// service health endpoint.
//
// Each dependency is checked on its own goroutine. A failing dependency
// is rechecked with exponential backoff; a healthy one is rechecked at
// a fixed poll interval. Probing never blocks request handling: turns
// still run while a dependency is down and degrade through the normal
// error paths.
package health

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Check reports whether a dependency is reachable. Return nil if healthy.
type Check func(ctx context.Context) error

// Schedule controls check timing.
type Schedule struct {
	// InitialDelay is the first retry delay after a failed check.
	InitialDelay time.Duration
	// MaxDelay caps retry delay growth.
	MaxDelay time.Duration
	// PollInterval is the delay between checks of a healthy dependency.
	PollInterval time.Duration
	// CheckTimeout bounds each check call.
	CheckTimeout time.Duration
}

// DefaultSchedule retries at 2s, 4s, 8s ... capped at 60s, and polls
// healthy dependencies every 60s.
func DefaultSchedule() Schedule {
	return Schedule{
		InitialDelay: 2 * time.Second,
		MaxDelay:     60 * time.Second,
		PollInterval: 60 * time.Second,
		CheckTimeout: 10 * time.Second,
	}
}

func (s Schedule) withDefaults() Schedule {
	d := DefaultSchedule()
	if s.InitialDelay <= 0 {
		s.InitialDelay = d.InitialDelay
	}
	if s.MaxDelay <= 0 {
		s.MaxDelay = d.MaxDelay
	}
	if s.PollInterval <= 0 {
		s.PollInterval = d.PollInterval
	}
	if s.CheckTimeout <= 0 {
		s.CheckTimeout = d.CheckTimeout
	}
	return s
}

// Status is the last known state of one dependency.
type Status struct {
	Name      string    `json:"name"`
	Ready     bool      `json:"ready"`
	LastCheck time.Time `json:"last_check,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	// Failures counts consecutive failed checks.
	Failures int `json:"failures,omitempty"`
}

type dependency struct {
	name     string
	check    Check
	schedule Schedule
	done     chan struct{}

	mu     sync.Mutex
	status Status
}

// Monitor checks a set of dependencies in the background.
type Monitor struct {
	logger *slog.Logger

	mu     sync.RWMutex
	deps   map[string]*dependency
	cancel []context.CancelFunc
}

// NewMonitor creates an empty monitor.
func NewMonitor(logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		logger: logger.With("component", "health"),
		deps:   make(map[string]*dependency),
	}
}

// Watch starts probing a dependency until ctx is cancelled or Stop is
// called. The first check runs immediately. Watching a name twice
// replaces nothing and returns false.
func (m *Monitor) Watch(ctx context.Context, name string, check Check, schedule Schedule) bool {
	if name == "" || check == nil {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.deps[name]; ok {
		return false
	}

	d := &dependency{
		name:     name,
		check:    check,
		schedule: schedule.withDefaults(),
		done:     make(chan struct{}),
		status:   Status{Name: name},
	}
	watchCtx, cancel := context.WithCancel(ctx)
	m.deps[name] = d
	m.cancel = append(m.cancel, cancel)

	go d.run(watchCtx, m.logger)
	return true
}

// Status returns the state of every watched dependency, sorted by name.
func (m *Monitor) Status() []Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Status, 0, len(m.deps))
	for _, d := range m.deps {
		d.mu.Lock()
		out = append(out, d.status)
		d.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Ready reports whether every watched dependency passed its last check.
func (m *Monitor) Ready() bool {
	for _, s := range m.Status() {
		if !s.Ready {
			return false
		}
	}
	return true
}

// Stop cancels all checks and waits for their goroutines to exit.
func (m *Monitor) Stop() {
	m.mu.RLock()
	cancels := m.cancel
	deps := make([]*dependency, 0, len(m.deps))
	for _, d := range m.deps {
		deps = append(deps, d)
	}
	m.mu.RUnlock()

	for _, c := range cancels {
		c()
	}
	for _, d := range deps {
		<-d.done
	}
}

func (d *dependency) run(ctx context.Context, logger *slog.Logger) {
	defer close(d.done)

	delay := d.schedule.InitialDelay
	for {
		err := d.attempt(ctx)
		if ctx.Err() != nil {
			return
		}

		wait := d.schedule.PollInterval
		changed, failures := d.record(err)
		switch {
		case err == nil:
			delay = d.schedule.InitialDelay
			if changed {
				logger.Info("dependency reachable", "dependency", d.name)
			}
		default:
			wait = delay
			delay = min(delay*2, d.schedule.MaxDelay)
			if changed || failures == 1 {
				logger.Warn("dependency unreachable", "dependency", d.name, "error", err)
			} else {
				logger.Debug("dependency still unreachable",
					"dependency", d.name,
					"failures", failures,
					"next_check", wait.String(),
					"error", err,
				)
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (d *dependency) attempt(ctx context.Context) error {
	checkCtx, cancel := context.WithTimeout(ctx, d.schedule.CheckTimeout)
	defer cancel()
	return d.check(checkCtx)
}

// record stores a check outcome and reports whether readiness changed
// and the consecutive failure count.
func (d *dependency) record(err error) (changed bool, failures int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	was := d.status.Ready
	d.status.LastCheck = time.Now()
	if err != nil {
		d.status.Ready = false
		d.status.LastError = err.Error()
		d.status.Failures++
	} else {
		d.status.Ready = true
		d.status.LastError = ""
		d.status.Failures = 0
	}
	return was != d.status.Ready, d.status.Failures
}
