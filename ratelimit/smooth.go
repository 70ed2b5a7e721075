package ratelimit

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/miladsoleymani/queuemux/core"
)

var _ core.Limiter = (*Smooth)(nil)

// Smooth spreads dispatches evenly instead of releasing a full bucket at the
// start of every second.
type Smooth struct {
	l *rate.Limiter
}

// NewSmooth allows perSecond dispatches per second with bursts of up to burst.
func NewSmooth(perSecond float64, burst int) *Smooth {
	if burst < 1 {
		burst = 1
	}
	return &Smooth{l: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (s *Smooth) Wait(ctx context.Context) error { return s.l.Wait(ctx) }

// SetRate changes the rate for future waits.
func (s *Smooth) SetRate(perSecond float64) { s.l.SetLimit(rate.Limit(perSecond)) }

// Rate returns the current rate.
func (s *Smooth) Rate() float64 { return float64(s.l.Limit()) }
