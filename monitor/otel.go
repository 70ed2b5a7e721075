package monitor

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/miladsoleymani/queuemux/core"
)

var _ core.Monitor = (*OtelMonitor)(nil)

const meterName = "github.com/miladsoleymani/queuemux"

// OtelMonitor records every measurement as an OpenTelemetry instrument.
type OtelMonitor struct {
	meter metric.Meter

	// Counters
	exceptionsTotal metric.Int64Counter
	errorsTotal     metric.Int64Counter
	throttledTotal  metric.Int64Counter

	// Histograms
	handleDuration   metric.Float64Histogram
	receiveDuration  metric.Float64Histogram
	throttleDuration metric.Float64Histogram
}

// NewOtelMonitor creates every instrument on meter. A nil meter uses the
// global meter provider.
func NewOtelMonitor(meter metric.Meter) (*OtelMonitor, error) {
	if meter == nil {
		meter = otel.Meter(meterName)
	}
	m := &OtelMonitor{meter: meter}

	var err error

	m.exceptionsTotal, err = m.meter.Int64Counter(
		"queuemux.handle.exceptions.total",
		metric.WithDescription("Handling attempts that failed or were not handled"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create exceptionsTotal counter: %w", err)
	}

	m.errorsTotal, err = m.meter.Int64Counter(
		"queuemux.errors.total",
		metric.WithDescription("Errors tied to a received message"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create errorsTotal counter: %w", err)
	}

	m.throttledTotal, err = m.meter.Int64Counter(
		"queuemux.dispatch.throttled.total",
		metric.WithDescription("Dispatches that found no free slot"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create throttledTotal counter: %w", err)
	}

	m.handleDuration, err = m.meter.Float64Histogram(
		"queuemux.handle.duration.ms",
		metric.WithDescription("Handler chain duration in milliseconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create handleDuration histogram: %w", err)
	}

	m.receiveDuration, err = m.meter.Float64Histogram(
		"queuemux.receive.duration.ms",
		metric.WithDescription("Receive call duration in milliseconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create receiveDuration histogram: %w", err)
	}

	m.throttleDuration, err = m.meter.Float64Histogram(
		"queuemux.throttle.duration.ms",
		metric.WithDescription("Time spent waiting for dispatch capacity in milliseconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create throttleDuration histogram: %w", err)
	}

	return m, nil
}

func ms(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }

func (m *OtelMonitor) HandleTime(d time.Duration) {
	m.handleDuration.Record(context.Background(), ms(d))
}

func (m *OtelMonitor) HandleException(messageType string) {
	m.exceptionsTotal.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("type", messageType),
	))
}

func (m *OtelMonitor) HandleError(_ error, _ core.RawMessage) {
	m.errorsTotal.Add(context.Background(), 1)
}

func (m *OtelMonitor) ReceiveTime(d time.Duration, queue string) {
	m.receiveDuration.Record(context.Background(), ms(d), metric.WithAttributes(
		attribute.String("queue", queue),
	))
}

func (m *OtelMonitor) HandleThrottlingTime(d time.Duration) {
	m.throttleDuration.Record(context.Background(), ms(d))
}

func (m *OtelMonitor) IncrementThrottlingStatistic() {
	m.throttledTotal.Add(context.Background(), 1)
}
