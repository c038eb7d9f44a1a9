package provider

import (
	"context"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// BreakerProvider wraps a Provider with a circuit breaker so a failing
// upstream is skipped quickly instead of absorbing its timeout on every call.
type BreakerProvider struct {
	inner   Provider
	breaker *gobreaker.CircuitBreaker[*ChatResponse]
	logger  *zap.Logger
}

// NewBreakerProvider wraps the given provider with a circuit breaker.
// The breaker opens after 3+ requests with a 60% failure ratio and
// probes again after 30 seconds.
func NewBreakerProvider(inner Provider, logger *zap.Logger) *BreakerProvider {
	settings := gobreaker.Settings{
		Name:        inner.ID(),
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("provider breaker state change",
				zap.String("provider", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}
	return &BreakerProvider{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker[*ChatResponse](settings),
		logger:  logger,
	}
}

func (p *BreakerProvider) ID() string   { return p.inner.ID() }
func (p *BreakerProvider) Name() string { return p.inner.Name() }

// Chat executes the request through the breaker.
func (p *BreakerProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	return p.breaker.Execute(func() (*ChatResponse, error) {
		return p.inner.Chat(ctx, req)
	})
}

// HealthCheck bypasses the breaker so probes can close it again.
func (p *BreakerProvider) HealthCheck(ctx context.Context) error {
	return p.inner.HealthCheck(ctx)
}

// State returns the breaker state name (closed, half-open, open).
func (p *BreakerProvider) State() string {
	return p.breaker.State().String()
}

var _ Provider = (*BreakerProvider)(nil)
