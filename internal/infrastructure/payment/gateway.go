package payment

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

var (
	ErrCardDeclined = errors.New("card declined")
	// ErrTimeout means the gateway did not answer. The charge may still have
	// been captured; CheckStatus is the source of truth.
	ErrTimeout = errors.New("gateway timeout")
)

// Gateway is an external payment provider. Charges are keyed by the order's
// idempotency key, so repeating a charge never captures twice.
type Gateway interface {
	Charge(ctx context.Context, amount decimal.Decimal, idempotencyKey string) (bool, error)
	CheckStatus(ctx context.Context, idempotencyKey string) (bool, error)
}

type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeDeclined
	// OutcomeLostResponse captures the money but reports a timeout.
	OutcomeLostResponse
)

// RandomOutcome succeeds 70% of the time, declines 20% and loses the
// response 10%.
func RandomOutcome() Outcome {
	chance := rand.IntN(100)
	switch {
	case chance < 70:
		return OutcomeSuccess
	case chance < 90:
		return OutcomeDeclined
	default:
		return OutcomeLostResponse
	}
}

type Option func(*memoryGateway)

// WithOutcome replaces the random outcome source.
func WithOutcome(fn func() Outcome) Option {
	return func(g *memoryGateway) { g.outcome = fn }
}

func WithLatency(d time.Duration) Option {
	return func(g *memoryGateway) { g.latency = d }
}

type memoryGateway struct {
	mu      sync.RWMutex
	charged map[string]bool
	outcome func() Outcome
	latency time.Duration
}

// NewMemoryGateway returns an in-process gateway.
func NewMemoryGateway(opts ...Option) Gateway {
	g := &memoryGateway{
		charged: make(map[string]bool),
		outcome: RandomOutcome,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *memoryGateway) Charge(ctx context.Context, amount decimal.Decimal, idempotencyKey string) (bool, error) {
	g.mu.RLock()
	if paid, ok := g.charged[idempotencyKey]; ok {
		g.mu.RUnlock()
		return paid, nil
	}
	g.mu.RUnlock()

	if g.latency > 0 {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(g.latency):
		}
	}

	outcome := g.outcome()

	g.mu.Lock()
	defer g.mu.Unlock()
	if paid, ok := g.charged[idempotencyKey]; ok {
		return paid, nil
	}
	switch outcome {
	case OutcomeSuccess:
		g.charged[idempotencyKey] = true
		return true, nil
	case OutcomeDeclined:
		// nothing was captured; the same key may be charged again
		return false, ErrCardDeclined
	default:
		g.charged[idempotencyKey] = true
		log.Warn().Str("key", idempotencyKey).Str("amount", amount.StringFixed(2)).Msg("gateway captured charge but response was lost")
		return false, ErrTimeout
	}
}

// CheckStatus reports false for keys the gateway has never seen.
func (g *memoryGateway) CheckStatus(ctx context.Context, idempotencyKey string) (bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.charged[idempotencyKey], nil
}
