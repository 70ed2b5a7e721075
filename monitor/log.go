// Package monitor provides core.Monitor implementations.
package monitor

import (
	"log/slog"
	"time"

	"github.com/miladsoleymani/queuemux/core"
)

var _ core.Monitor = (*LogMonitor)(nil)

// LogMonitor writes failures at warn/error level and timings at debug level.
type LogMonitor struct {
	logger *slog.Logger
}

// NewLogMonitor returns a monitor writing to logger, or slog.Default when nil.
func NewLogMonitor(logger *slog.Logger) *LogMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMonitor{logger: logger.With("component", "monitor")}
}

func (m *LogMonitor) HandleTime(d time.Duration) {
	m.logger.Debug("handle time", "elapsed", d)
}

func (m *LogMonitor) HandleException(messageType string) {
	m.logger.Warn("handler failed", "type", messageType)
}

func (m *LogMonitor) HandleError(err error, msg core.RawMessage) {
	m.logger.Error("message error", "message_id", msg.ID, "error", err)
}

func (m *LogMonitor) ReceiveTime(d time.Duration, queue string) {
	m.logger.Debug("receive time", "queue", queue, "elapsed", d)
}

func (m *LogMonitor) HandleThrottlingTime(d time.Duration) {
	m.logger.Debug("throttled", "waited", d)
}

func (m *LogMonitor) IncrementThrottlingStatistic() {
	m.logger.Info("dispatch throttled")
}

// Multi fans every measurement out to several monitors.
type Multi []core.Monitor

var _ core.Monitor = Multi(nil)

func (m Multi) HandleTime(d time.Duration) {
	for _, mon := range m {
		mon.HandleTime(d)
	}
}

func (m Multi) HandleException(messageType string) {
	for _, mon := range m {
		mon.HandleException(messageType)
	}
}

func (m Multi) HandleError(err error, msg core.RawMessage) {
	for _, mon := range m {
		mon.HandleError(err, msg)
	}
}

func (m Multi) ReceiveTime(d time.Duration, queue string) {
	for _, mon := range m {
		mon.ReceiveTime(d, queue)
	}
}

func (m Multi) HandleThrottlingTime(d time.Duration) {
	for _, mon := range m {
		mon.HandleThrottlingTime(d)
	}
}

func (m Multi) IncrementThrottlingStatistic() {
	for _, mon := range m {
		mon.IncrementThrottlingStatistic()
	}
}
