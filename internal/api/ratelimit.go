package api

import (
	"context"
	"rival-tracker/internal/config"
	"time"

	"golang.org/x/time/rate"
)

// RateGate is the single outbound gate every upstream call waits on. One
// instance is shared by all concurrent callers of a process.
type RateGate struct {
	limiter *rate.Limiter
}

func NewRateGate(interval time.Duration) *RateGate {
	return &RateGate{limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

func NewRateGateFromConfig(cfg *config.Config) *RateGate {
	return NewRateGate(cfg.RateLimitInterval)
}

// Wait blocks until a request slot is free or ctx is done.
func (g *RateGate) Wait(ctx context.Context) error {
	return g.limiter.Wait(ctx)
}
