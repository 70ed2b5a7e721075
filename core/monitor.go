package core

import (
	"log/slog"
	"time"
)

// Monitor receives fire-and-forget measurements from the pipeline.
// Implementations live in the monitor package.
type Monitor interface {
	// HandleTime records how long a handler chain ran.
	HandleTime(d time.Duration)

	// HandleException records a failed handling attempt for messageType.
	HandleException(messageType string)

	// HandleError records an error tied to a raw message, such as a
	// deserialization failure.
	HandleError(err error, msg RawMessage)

	// ReceiveTime records how long a receive call took on queue.
	ReceiveTime(d time.Duration, queue string)

	// HandleThrottlingTime records how long a dispatch waited for capacity.
	HandleThrottlingTime(d time.Duration)

	// IncrementThrottlingStatistic counts a dispatch that found no free slot.
	IncrementThrottlingStatistic()
}

// NopMonitor discards every measurement.
type NopMonitor struct{}

func (NopMonitor) HandleTime(time.Duration)           {}
func (NopMonitor) HandleException(string)             {}
func (NopMonitor) HandleError(error, RawMessage)      {}
func (NopMonitor) ReceiveTime(time.Duration, string)  {}
func (NopMonitor) HandleThrottlingTime(time.Duration) {}
func (NopMonitor) IncrementThrottlingStatistic()      {}

// safeMonitor isolates the pipeline from a misbehaving Monitor: a panic in a
// monitor hook is logged and swallowed.
type safeMonitor struct {
	m      Monitor
	logger *slog.Logger
}

func newSafeMonitor(m Monitor, logger *slog.Logger) Monitor {
	if m == nil {
		m = NopMonitor{}
	}
	if sm, ok := m.(*safeMonitor); ok {
		return sm
	}
	return &safeMonitor{m: m, logger: logger}
}

func (s *safeMonitor) guard(hook string) {
	if r := recover(); r != nil {
		s.logger.Warn("monitor hook panicked", "hook", hook, "panic", r)
	}
}

func (s *safeMonitor) HandleTime(d time.Duration) {
	defer s.guard("HandleTime")
	s.m.HandleTime(d)
}

func (s *safeMonitor) HandleException(messageType string) {
	defer s.guard("HandleException")
	s.m.HandleException(messageType)
}

func (s *safeMonitor) HandleError(err error, msg RawMessage) {
	defer s.guard("HandleError")
	s.m.HandleError(err, msg)
}

func (s *safeMonitor) ReceiveTime(d time.Duration, queue string) {
	defer s.guard("ReceiveTime")
	s.m.ReceiveTime(d, queue)
}

func (s *safeMonitor) HandleThrottlingTime(d time.Duration) {
	defer s.guard("HandleThrottlingTime")
	s.m.HandleThrottlingTime(d)
}

func (s *safeMonitor) IncrementThrottlingStatistic() {
	defer s.guard("IncrementThrottlingStatistic")
	s.m.IncrementThrottlingStatistic()
}
