package mock

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/miladsoleymani/queuemux/core"
)

// Monitor is a core.Monitor that counts every hook.
type Monitor struct {
	HandleTimes      atomic.Int64
	Exceptions       atomic.Int64
	Receives         atomic.Int64
	ThrottleWaits    atomic.Int64
	ThrottlingEvents atomic.Int64

	mu     sync.Mutex
	errors []error
}

func (m *Monitor) HandleTime(time.Duration)           { m.HandleTimes.Add(1) }
func (m *Monitor) HandleException(string)             { m.Exceptions.Add(1) }
func (m *Monitor) ReceiveTime(time.Duration, string)  { m.Receives.Add(1) }
func (m *Monitor) HandleThrottlingTime(time.Duration) { m.ThrottleWaits.Add(1) }
func (m *Monitor) IncrementThrottlingStatistic()      { m.ThrottlingEvents.Add(1) }

func (m *Monitor) HandleError(err error, _ core.RawMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, err)
}

// Errors returns every error passed to HandleError.
func (m *Monitor) Errors() []error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]error(nil), m.errors...)
}

// PanickingMonitor panics in every hook.
type PanickingMonitor struct{}

func (PanickingMonitor) HandleTime(time.Duration)           { panic("monitor") }
func (PanickingMonitor) HandleException(string)             { panic("monitor") }
func (PanickingMonitor) HandleError(error, core.RawMessage) { panic("monitor") }
func (PanickingMonitor) ReceiveTime(time.Duration, string)  { panic("monitor") }
func (PanickingMonitor) HandleThrottlingTime(time.Duration) { panic("monitor") }
func (PanickingMonitor) IncrementThrottlingStatistic()      { panic("monitor") }
