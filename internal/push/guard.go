package push

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"azaan/internal/observability"
)

const DefaultTimeout = 10 * time.Second

// Guarded wraps a Transport with a local rate limit, a circuit breaker and a
// per-call timeout. An open breaker surfaces as ErrUnavailable.
type Guarded struct {
	Name    string
	Next    Transport
	Limiter *rate.Limiter
	Breaker *gobreaker.CircuitBreaker
	Timeout time.Duration
}

// NewBreaker trips after ten consecutive failed calls and probes again after
// 20 seconds. Systemic auth failures trip it the same way.
func NewBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Timeout:     20 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 10 },
	})
}

func (g *Guarded) SendMulticast(ctx context.Context, tokens []string, msg Message) (MulticastResult, error) {
	if g.Limiter != nil {
		waitCtx, cancelWait := context.WithTimeout(ctx, 2*time.Second)
		err := g.Limiter.Wait(waitCtx)
		cancelWait()
		if err != nil {
			observability.PushSend.WithLabelValues(g.Name, "rate_limited_local").Inc()
			return MulticastResult{}, fmt.Errorf("%w: rate limited: %v", ErrUnavailable, err)
		}
	}

	start := time.Now()
	resAny, err := g.executeWithBreaker(ctx, tokens, msg)
	observability.PushLatency.WithLabelValues(g.Name).Observe(time.Since(start).Seconds())

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		observability.PushSend.WithLabelValues(g.Name, "cb_open").Inc()
		return MulticastResult{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err != nil {
		observability.PushSend.WithLabelValues(g.Name, "error").Inc()
		return MulticastResult{}, err
	}

	observability.PushSend.WithLabelValues(g.Name, "ok").Inc()
	return resAny.(MulticastResult), nil
}

func (g *Guarded) executeWithBreaker(ctx context.Context, tokens []string, msg Message) (any, error) {
	call := func() (any, error) {
		timeout := g.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		reqCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		res, err := g.Next.SendMulticast(reqCtx, tokens, msg)
		if err != nil {
			return nil, err
		}
		if len(res.Responses) != len(tokens) {
			return nil, fmt.Errorf("push: %d responses for %d tokens", len(res.Responses), len(tokens))
		}
		return res, nil
	}

	if g.Breaker == nil {
		return call()
	}
	return g.Breaker.Execute(call)
}
