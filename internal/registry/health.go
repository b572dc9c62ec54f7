package registry

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lukemartinlogan/labstor/internal/ids"
)

// Healthable is an optional interface a task state may implement to
// participate in the registry's health-check loop. Supplemented from the
// teacher's internal/plugin/manager.go healthCheckLoop: task states may
// run their own internal bookkeeping and report problems without the
// registry needing to understand their internals.
type Healthable interface {
	Health() error
}

// HealthStatus is the last observed health of one task-state instance.
type HealthStatus struct {
	Err       error
	CheckedAt time.Time
}

// HealthMonitor polls every Healthable task state on an interval while Run
// is active and records a failing state's error, readable through Status,
// never aborting the runtime (§7's admin failure policy).
type HealthMonitor struct {
	registry *Registry
	interval time.Duration
	log      *logrus.Entry

	mu       chan struct{} // simple 1-buffered mutex avoids pulling in sync for one field
	statuses map[uint64]HealthStatus
}

// NewHealthMonitor constructs a monitor for registry, checking every
// interval.
func NewHealthMonitor(registry *Registry, interval time.Duration, log *logrus.Entry) *HealthMonitor {
	m := &HealthMonitor{
		registry: registry,
		interval: interval,
		log:      log,
		mu:       make(chan struct{}, 1),
		statuses: make(map[uint64]HealthStatus),
	}
	m.mu <- struct{}{}
	return m
}

// Run polls until ctx is canceled.
func (m *HealthMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkAll()
		}
	}
}

func (m *HealthMonitor) checkAll() {
	m.registry.mu.RLock()
	snapshot := make(map[uint64]interface{}, len(m.registry.states))
	for id, s := range m.registry.states {
		snapshot[id] = s
	}
	m.registry.mu.RUnlock()

	for unique, s := range snapshot {
		h, ok := s.(Healthable)
		if !ok {
			continue
		}
		err := h.Health()
		<-m.mu
		m.statuses[unique] = HealthStatus{Err: err, CheckedAt: time.Now()}
		m.mu <- struct{}{}
		if err != nil && m.log != nil {
			m.log.WithField("task_state", unique).WithError(err).Warn("task state failed health check")
		}
	}
}

// Status returns the last observed health of a task state, if it has ever
// been checked.
func (m *HealthMonitor) Status(id ids.TaskStateId) (HealthStatus, bool) {
	<-m.mu
	defer func() { m.mu <- struct{}{} }()
	s, ok := m.statuses[id.Unique]
	return s, ok
}
