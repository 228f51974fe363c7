// Package health tracks whether the last fetch or forward succeeded and
// serves that state on /healthz.
package health

import (
	"sync"
	"sync/atomic"

	"github.com/crimson-sun/auditfwd/internal/metrics"
)

// DefaultDetail is reported when the monitor was flipped unhealthy without an error.
const DefaultDetail = "Error connecting to Loki."

// Monitor is a process-wide healthy flag. It starts healthy and is updated
// only by the cycle worker; reads are lock-free.
type Monitor struct {
	healthy atomic.Bool
	metrics *metrics.Metrics

	mu     sync.Mutex
	detail string
}

// NewMonitor returns a healthy monitor. m may be nil.
func NewMonitor(m *metrics.Metrics) *Monitor {
	mon := &Monitor{metrics: m}
	mon.healthy.Store(true)
	return mon
}

func (m *Monitor) SetHealthy(ok bool) {
	m.healthy.Store(ok)
	m.metrics.Healthy(ok)
	if ok {
		m.mu.Lock()
		m.detail = ""
		m.mu.Unlock()
	}
}

func (m *Monitor) IsHealthy() bool {
	return m.healthy.Load()
}

// Report marks the monitor healthy when err is nil and unhealthy otherwise,
// remembering err's message as the detail.
func (m *Monitor) Report(err error) {
	if err == nil {
		m.SetHealthy(true)
		return
	}
	m.mu.Lock()
	m.detail = err.Error()
	m.mu.Unlock()
	m.healthy.Store(false)
	m.metrics.Healthy(false)
}

// Detail describes why the monitor is unhealthy. Empty when healthy.
func (m *Monitor) Detail() string {
	if m.IsHealthy() {
		return ""
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.detail == "" {
		return DefaultDetail
	}
	return m.detail
}
