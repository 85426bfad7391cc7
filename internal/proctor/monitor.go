package proctor

import (
	"time"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// DefaultViolationThreshold is the number of violations that forces submission.
const DefaultViolationThreshold = 3

// MonitorHooks receive the monitor's output. Both run on the dispatcher goroutine.
type MonitorHooks struct {
	// OnViolation runs for every recorded violation below the threshold.
	OnViolation func(v model.Violation)
	// OnBreach runs for the violation that reaches the threshold.
	OnBreach func(v model.Violation)
}

// Monitor aggregates detector reports into one monotonic violation counter.
type Monitor struct {
	env       *Environment
	detectors []Detector
	threshold int
	hooks     MonitorHooks
	now       func() time.Time

	count   int
	running bool
	frozen  bool
	detach  []func()
}

// NewMonitor creates a stopped monitor.
func NewMonitor(env *Environment, threshold int, detectors []Detector, hooks MonitorHooks) *Monitor {
	if threshold <= 0 {
		threshold = DefaultViolationThreshold
	}
	return &Monitor{
		env:       env,
		detectors: detectors,
		threshold: threshold,
		hooks:     hooks,
		now:       time.Now,
	}
}

// Start attaches every detector. It is a no-op once running or frozen.
func (m *Monitor) Start() {
	if m.running || m.frozen {
		return
	}
	m.running = true
	for _, d := range m.detectors {
		m.detach = append(m.detach, d.Attach(m.env, m.Record))
	}
}

// Stop detaches every detector. It is idempotent.
func (m *Monitor) Stop() {
	for _, detach := range m.detach {
		detach()
	}
	m.detach = nil
	m.running = false
}

// Freeze stops counting for the rest of the session.
func (m *Monitor) Freeze() {
	m.frozen = true
}

// Restore seeds the counter with violations recorded by an earlier run of the
// session. The counter never moves backwards.
func (m *Monitor) Restore(count int) {
	if count > m.count {
		m.count = count
	}
}

// Record is the single entry point for every detected violation.
func (m *Monitor) Record(reason model.ViolationReason, detail string) {
	if m.frozen || !m.running {
		return
	}
	m.count++

	v := model.Violation{
		Reason: reason,
		Detail: detail,
		Count:  m.count,
		At:     m.now(),
	}

	if m.count >= m.threshold {
		if m.hooks.OnBreach != nil {
			m.hooks.OnBreach(v)
		}
		return
	}
	if m.hooks.OnViolation != nil {
		m.hooks.OnViolation(v)
	}
}

// Count returns the number of violations recorded so far.
func (m *Monitor) Count() int {
	return m.count
}

// Threshold returns the violation count that forces submission.
func (m *Monitor) Threshold() int {
	return m.threshold
}

// Running reports whether detectors are attached.
func (m *Monitor) Running() bool {
	return m.running
}
