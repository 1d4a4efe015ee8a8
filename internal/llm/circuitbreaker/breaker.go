// Package circuitbreaker stops sending requests to a provider/model pair
// after consecutive failures. An open circuit fails fast with a
// non-retryable error so callers move on to another provider. After the
// open timeout a bounded number of trial requests decide whether the
// circuit closes again.
package circuitbreaker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ahrav/go-discover/internal/llm/configuration"
	llmerrors "github.com/ahrav/go-discover/internal/llm/errors"
)

// State is the position of a breaker in its state machine.
type State int32

const (
	// StateClosed lets every request through.
	StateClosed State = iota
	// StateOpen rejects every request until the open timeout passes.
	StateOpen
	// StateHalfOpen admits a bounded number of trial requests.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Rejection codes carried on the ProviderError of a refused request.
const (
	CodeOpen           = "CIRCUIT_OPEN"
	CodeHalfOpenLimit  = "CIRCUIT_HALF_OPEN_LIMIT"
	CodeTrialElsewhere = "CIRCUIT_TRIAL_IN_PROGRESS"
)

type breaker struct {
	provider string
	key      string
	cfg      configuration.CircuitBreakerConfig
	now      func() time.Time
	logger   *slog.Logger

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	openedAt  time.Time
	inFlight  int
}

func newBreaker(provider, key string, cfg configuration.CircuitBreakerConfig, now func() time.Time, logger *slog.Logger) *breaker {
	return &breaker{provider: provider, key: key, cfg: cfg, now: now, logger: logger}
}

// allow admits or refuses a request. trial is true for requests admitted
// while half-open; each of those must be settled with record or cancel.
func (b *breaker) allow() (trial bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return false, nil
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cfg.OpenTimeout {
			return false, b.rejection(CodeOpen, "circuit breaker is open")
		}
		b.transition(StateHalfOpen)
	}

	if b.inFlight >= b.cfg.HalfOpenRequests {
		return false, b.rejection(CodeHalfOpenLimit, "half-open request limit reached")
	}
	b.inFlight++
	return true, nil
}

// record settles a request that reached the provider.
func (b *breaker) record(trial, failed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if trial && b.inFlight > 0 {
		b.inFlight--
	}

	switch b.state {
	case StateClosed:
		if !failed {
			b.failures = 0
			return
		}
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.trip()
		}
	case StateHalfOpen:
		if failed {
			b.trip()
			return
		}
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.transition(StateClosed)
		}
	case StateOpen:
		// Late results from requests admitted before the trip.
	}
}

// cancel releases a trial slot without counting an outcome.
func (b *breaker) cancel() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.inFlight > 0 {
		b.inFlight--
	}
}

func (b *breaker) current() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *breaker) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transition(StateClosed)
}

func (b *breaker) trip() {
	b.openedAt = b.now()
	b.transition(StateOpen)
}

// transition must be called with mu held.
func (b *breaker) transition(to State) {
	from := b.state
	b.state = to
	b.failures = 0
	b.successes = 0
	if to != StateHalfOpen {
		b.inFlight = 0
	}
	if from == to {
		return
	}

	level := slog.LevelInfo
	if to == StateOpen {
		level = slog.LevelWarn
	}
	b.logger.Log(context.Background(), level, "circuit state changed",
		"key", b.key, "provider", b.provider, "from", from.String(), "to", to.String())
}

func (b *breaker) rejection(code, msg string) error {
	return &llmerrors.ProviderError{
		Provider: b.provider,
		Code:     code,
		Message:  msg,
		Type:     llmerrors.ErrorTypeCircuit,
	}
}
