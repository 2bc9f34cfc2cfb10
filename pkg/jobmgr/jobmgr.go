// Package jobmgr runs aqua's background goroutines — the per-guild voice
// watchdog, the persistence autosave ticker, the Node stats poll — under a
// single cancel-on-stop registry keyed by name, so Orchestrator.Destroy can
// tear all of them down without tracking each context.CancelFunc by hand.
//
// Typical usage:
//
//	jm := jobmgr.NewManager(func(msg string) {
//	    logger.Debug().Msg(msg)
//	})
//
//	err := jm.StartRecurring("voice-watchdog", 15*time.Second, func(ctx context.Context) error {
//	    return runWatchdogPass(ctx)
//	})
//
//	// later, on Orchestrator.Destroy:
//	_ = jm.Stop("voice-watchdog")
//
// The package is intentionally minimal: no retry logic beyond what a
// recurring job's own runner implements, no persistence of job state
// across restarts.
package jobmgr

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Job represents a running unit of work. Jobs are added and removed by
// Manager automatically.
type Job struct {
	Name   string
	Cancel context.CancelFunc
}

// StatusReporter receives lifecycle events for jobs.
// Example messages:
//
//	running:voice-watchdog
//	error:autosave:lock file already held
//	done:autosave
type StatusReporter func(string)

// Manager orchestrates starting, stopping and tracking jobs. Safe for
// concurrent use.
type Manager struct {
	mu       sync.Mutex
	jobs     map[string]*Job
	Reporter StatusReporter
}

// NewManager creates a new Manager. The reporter callback may be nil.
func NewManager(reporter StatusReporter) *Manager {
	return &Manager{
		jobs:     make(map[string]*Job),
		Reporter: reporter,
	}
}

// StartSync runs a job in the current goroutine and blocks until completion.
func (m *Manager) StartSync(name string, runner func(ctx context.Context) error) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	return runner(ctx)
}

// StartAsync runs a job once, in a separate goroutine, and returns
// immediately. If a job with the same name is already running, an error is
// returned. The job is removed from the registry automatically on
// completion, success or failure.
func (m *Manager) StartAsync(name string, runner func(ctx context.Context) error) error {
	m.mu.Lock()
	if _, exists := m.jobs[name]; exists {
		m.mu.Unlock()
		return fmt.Errorf("job '%s' is already running", name)
	}
	m.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	job := &Job{Name: name, Cancel: cancel}

	m.mu.Lock()
	m.jobs[name] = job
	m.mu.Unlock()

	go func() {
		m.report("running:" + name)

		err := runner(ctx)
		if err != nil {
			m.report("error:" + name + ":" + err.Error())
		} else {
			m.report("done:" + name)
		}

		m.mu.Lock()
		delete(m.jobs, name)
		m.mu.Unlock()
	}()

	return nil
}

// StartRecurring runs runner on every tick of a ticker at the given
// interval, until Stop(name) is called or the Manager's process exits.
// Unlike StartAsync, the job stays registered across ticks — a recurring
// job is only removed by an explicit Stop. A runner error is reported but
// does not stop the ticker; the watchdog and autosave loops need to keep
// trying on the next tick rather than die silently after one bad pass.
func (m *Manager) StartRecurring(name string, interval time.Duration, runner func(ctx context.Context) error) error {
	m.mu.Lock()
	if _, exists := m.jobs[name]; exists {
		m.mu.Unlock()
		return fmt.Errorf("job '%s' is already running", name)
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.jobs[name] = &Job{Name: name, Cancel: cancel}
	m.mu.Unlock()

	go func() {
		m.report("running:" + name)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				m.report("done:" + name)
				return
			case <-ticker.C:
				if err := runner(ctx); err != nil {
					m.report("error:" + name + ":" + err.Error())
				}
			}
		}
	}()

	return nil
}

// Stop cancels a running job by name. If the job is not running, an error
// is returned.
func (m *Manager) Stop(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[name]
	if !ok {
		return fmt.Errorf("job '%s' not running", name)
	}

	job.Cancel()
	delete(m.jobs, name)
	return nil
}

// StopAll cancels every running job, used by Orchestrator.Destroy.
func (m *Manager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, job := range m.jobs {
		job.Cancel()
		delete(m.jobs, name)
	}
}

// List returns the list of active job names.
func (m *Manager) List() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.jobs))
	for k := range m.jobs {
		out = append(out, k)
	}
	return out
}

// Status returns a human-readable summary of active jobs.
func (m *Manager) Status() string {
	active := m.List()
	if len(active) == 0 {
		return "No jobs are running."
	}
	return fmt.Sprintf("Running jobs: %s", strings.Join(active, ", "))
}

func (m *Manager) report(s string) {
	if m.Reporter != nil {
		m.Reporter(s)
	}
}
