package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker"

	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/entity"
)

// StatusError is a non-2xx provider response.
type StatusError struct {
	Provider entity.Provider
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s responded %d: %s", e.Provider, e.Code, e.Body)
}

// Temporary reports whether retrying may succeed.
func (e *StatusError) Temporary() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}

func (e *StatusError) Unwrap() error {
	if e.Code == http.StatusNotFound {
		return entity.ErrNotFound
	}
	return nil
}

// ResilienceConfig tunes the wrapper around a provider client.
type ResilienceConfig struct {
	Timeout         time.Duration
	MaxTries        uint
	InitialInterval time.Duration
	// BreakerFailures consecutive transient failures open the circuit.
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

func (c ResilienceConfig) withDefaults() ResilienceConfig {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.MaxTries == 0 {
		c.MaxTries = 3
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = 200 * time.Millisecond
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = 5
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = 30 * time.Second
	}
	return c
}

// Resilient bounds every provider call with a timeout, retries transient failures
// with exponential backoff and sheds load through a circuit breaker. Transport
// failures surface as entity.ErrUpstreamUnavailable.
type Resilient struct {
	next    Gateway
	cfg     ResilienceConfig
	breaker *gobreaker.CircuitBreaker
}

func NewResilient(next Gateway, cfg ResilienceConfig) *Resilient {
	cfg = cfg.withDefaults()
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    string(next.Provider()),
		Timeout: cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !isTransient(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Payment gateway circuit changed state", "provider", name, "from", from.String(), "to", to.String())
		},
	})
	return &Resilient{next: next, cfg: cfg, breaker: breaker}
}

func (r *Resilient) Provider() entity.Provider {
	return r.next.Provider()
}

func (r *Resilient) CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error) {
	return call(ctx, r, "create charge", func(ctx context.Context) (*Charge, error) {
		return r.next.CreateCharge(ctx, req)
	})
}

func (r *Resilient) GetPaymentStatus(ctx context.Context, externalPaymentID string) (*PaymentStatus, error) {
	return call(ctx, r, "get payment status", func(ctx context.Context) (*PaymentStatus, error) {
		return r.next.GetPaymentStatus(ctx, externalPaymentID)
	})
}

func call[T any](ctx context.Context, r *Resilient, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialInterval

	return backoff.Retry(ctx, func() (T, error) {
		var zero T
		res, err := r.breaker.Execute(func() (interface{}, error) {
			callCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
			defer cancel()
			return fn(callCtx)
		})
		switch {
		case err == nil:
			return res.(T), nil
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return zero, backoff.Permanent(fmt.Errorf("%w: %s %s: %v", entity.ErrUpstreamUnavailable, r.Provider(), op, err))
		case isTransient(err):
			slog.Warn("Payment gateway call failed, retrying", "provider", r.Provider(), "op", op, "err", err)
			return zero, fmt.Errorf("%w: %s %s: %v", entity.ErrUpstreamUnavailable, r.Provider(), op, err)
		default:
			return zero, backoff.Permanent(fmt.Errorf("failed to %s: %w", op, err))
		}
	}, backoff.WithBackOff(b), backoff.WithMaxTries(r.cfg.MaxTries))
}

// isTransient treats transport errors, timeouts and 5xx/429 as retryable.
func isTransient(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	return !errors.Is(err, context.Canceled)
}
