package notification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tphakala/wildwatch-go/internal/errors"
	"github.com/tphakala/wildwatch-go/internal/logger"
)

// CircuitState is the breaker position.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateHalfOpen
	StateOpen
)

var stateNames = [...]string{"closed", "half-open", "open"}

func (s CircuitState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

var (
	// ErrCircuitBreakerOpen is returned while the breaker rejects sends.
	ErrCircuitBreakerOpen = errors.NewStd("circuit breaker is open")
	// ErrTrialInFlight is returned when the half-open trial send has not finished.
	ErrTrialInFlight = errors.NewStd("circuit breaker trial send in flight")
)

// CircuitBreakerConfig controls when the breaker opens and for how long.
type CircuitBreakerConfig struct {
	MaxFailures int           // consecutive failures that open the breaker
	Timeout     time.Duration // time spent open before a trial send
}

// DefaultCircuitBreakerConfig opens after five failures for five minutes.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{MaxFailures: 5, Timeout: 5 * time.Minute}
}

// Validate rejects configurations that would never close or never open.
func (c CircuitBreakerConfig) Validate() error {
	switch {
	case c.MaxFailures < 1:
		return fmt.Errorf("max failures must be at least 1, got %d", c.MaxFailures)
	case c.Timeout <= 0:
		return fmt.Errorf("open timeout must be positive, got %v", c.Timeout)
	}
	return nil
}

// CircuitBreaker guards a notification service. After MaxFailures
// consecutive failed sends it drops sends for Timeout, then lets exactly one
// trial through: success closes it, failure opens it again.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig
	now func() time.Time
	log logger.Logger

	mu       sync.Mutex
	state    CircuitState
	failures int
	openedAt time.Time
	trial    bool
}

// NewCircuitBreaker returns a closed breaker. A nil now uses time.Now.
func NewCircuitBreaker(cfg CircuitBreakerConfig, now func() time.Time, log logger.Logger) *CircuitBreaker {
	if now == nil {
		now = time.Now
	}
	return &CircuitBreaker{cfg: cfg, now: now, log: log}
}

// Call runs send when the breaker admits it and records the outcome.
func (cb *CircuitBreaker) Call(ctx context.Context, send func(context.Context) error) error {
	if err := cb.admit(); err != nil {
		return fmt.Errorf("notification skipped after %d consecutive failures: %w", cb.Failures(), err)
	}
	err := send(ctx)
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.cfg.Timeout {
			return ErrCircuitBreakerOpen
		}
		cb.transition(StateHalfOpen)
		cb.trial = true
	case StateHalfOpen:
		if cb.trial {
			return ErrTrialInFlight
		}
		cb.trial = true
	}
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.trial = false
	if err == nil {
		cb.failures = 0
		cb.transition(StateClosed)
		return
	}
	// a cancelled send during shutdown says nothing about the service
	if errors.Is(err, context.Canceled) {
		return
	}

	cb.failures++
	if cb.state == StateHalfOpen || cb.failures >= cb.cfg.MaxFailures {
		cb.openedAt = cb.now()
		cb.transition(StateOpen)
	}
}

// transition requires mu.
func (cb *CircuitBreaker) transition(to CircuitState) {
	if cb.state == to {
		return
	}
	cb.log.Info("notification circuit breaker changed state",
		logger.String("from", cb.state.String()),
		logger.String("to", to.String()),
		logger.Int("consecutive_failures", cb.failures))
	cb.state = to
}

// State returns the current breaker position.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures returns the number of consecutive failed sends.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}
