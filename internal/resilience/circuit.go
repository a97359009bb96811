// Package resilience provides retry with backoff, transient-error detection,
// and per-source circuit breakers for registry fetches.
package resilience

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed is the normal state: fetches go through.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects fetches without contacting the source.
	CircuitOpen
	// CircuitHalfOpen lets trial fetches through to test recovery.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when a call is rejected because the circuit is open.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// CircuitBreakerConfig controls circuit breaker behavior.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening
	// the circuit. Default: 5.
	FailureThreshold int

	// ResetTimeout is how long the circuit stays open before transitioning
	// to half-open. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMaxTrials is the number of successful trial calls required in
	// half-open state before closing the circuit, and the most trial calls
	// let through at once while half-open. Default: 1.
	HalfOpenMaxTrials int

	// Classify sorts a call's result into success, failure or ignored.
	// Ignored results neither reset nor advance the failure count. If nil,
	// DefaultClassify is used.
	Classify func(err error) Verdict

	// OnStateChange is called with the breaker name on every transition.
	OnStateChange func(name string, from, to CircuitState)
}

// Verdict is how a breaker counts one call's result.
type Verdict int

const (
	// VerdictSuccess resets the failure count and counts as a good trial.
	VerdictSuccess Verdict = iota
	// VerdictFailure counts toward opening the circuit.
	VerdictFailure
	// VerdictIgnore says nothing about the dependency's health, e.g. the
	// caller gave up before the call finished.
	VerdictIgnore
)

// DefaultClassify counts transient errors as failures and everything else
// as success.
func DefaultClassify(err error) Verdict {
	if err != nil && IsTransient(err) {
		return VerdictFailure
	}
	return VerdictSuccess
}

// DefaultCircuitBreakerConfig returns sensible defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:  5,
		ResetTimeout:      30 * time.Second,
		HalfOpenMaxTrials: 1,
	}
}

// CircuitBreaker tracks consecutive failures of one source.
type CircuitBreaker struct {
	name  string
	cfg   CircuitBreakerConfig
	mu    sync.Mutex
	state CircuitState

	consecutiveFailures int
	lastFailureTime     time.Time
	halfOpenSuccesses   int
	halfOpenInFlight    int

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewCircuitBreaker creates a named circuit breaker with the given config.
func NewCircuitBreaker(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMaxTrials <= 0 {
		cfg.HalfOpenMaxTrials = 1
	}
	if cfg.Classify == nil {
		cfg.Classify = DefaultClassify
	}
	return &CircuitBreaker{
		name:    name,
		cfg:     cfg,
		state:   CircuitClosed,
		nowFunc: time.Now,
	}
}

// ExecuteVal runs fn through the breaker. It returns ErrCircuitOpen without
// calling fn while the circuit is open.
func ExecuteVal[T any](ctx context.Context, cb *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	trial, err := cb.allowRequest()
	if err != nil {
		return zero, err
	}

	val, err := fn(ctx)
	cb.recordResult(err, trial)
	return val, err
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen && cb.nowFunc().Sub(cb.lastFailureTime) >= cb.cfg.ResetTimeout {
		return CircuitHalfOpen
	}
	return cb.state
}

// Counters returns the current failure count and state for observability.
func (cb *CircuitBreaker) Counters() (consecutiveFailures int, state CircuitState) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.consecutiveFailures, cb.state
}

// allowRequest reports whether a call may proceed and whether it is a
// half-open trial.
func (cb *CircuitBreaker) allowRequest() (trial bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return false, nil
	case CircuitOpen:
		if cb.nowFunc().Sub(cb.lastFailureTime) < cb.cfg.ResetTimeout {
			return false, ErrCircuitOpen
		}
		cb.transition(CircuitHalfOpen)
	}

	if cb.halfOpenInFlight >= cb.cfg.HalfOpenMaxTrials {
		return false, ErrCircuitOpen
	}
	cb.halfOpenInFlight++
	return true, nil
}

func (cb *CircuitBreaker) recordResult(err error, trial bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if trial && cb.halfOpenInFlight > 0 {
		cb.halfOpenInFlight--
	}

	switch cb.cfg.Classify(err) {
	case VerdictIgnore:
		return
	case VerdictSuccess:
		switch cb.state {
		case CircuitHalfOpen:
			cb.halfOpenSuccesses++
			if cb.halfOpenSuccesses >= cb.cfg.HalfOpenMaxTrials {
				cb.transition(CircuitClosed)
				cb.consecutiveFailures = 0
				cb.halfOpenSuccesses = 0
			}
		case CircuitClosed:
			cb.consecutiveFailures = 0
		}
		return
	}

	cb.consecutiveFailures++
	cb.lastFailureTime = cb.nowFunc()

	switch cb.state {
	case CircuitClosed:
		if cb.consecutiveFailures >= cb.cfg.FailureThreshold {
			cb.transition(CircuitOpen)
		}
	case CircuitHalfOpen:
		cb.transition(CircuitOpen)
		cb.halfOpenSuccesses = 0
	}
}

func (cb *CircuitBreaker) transition(to CircuitState) {
	from := cb.state
	cb.state = to
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.name, from, to)
	}
}

// Breakers holds one circuit breaker per source id. Breakers outlive a
// single query, so repeated failures across queries open the circuit.
type Breakers struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	cfg      CircuitBreakerConfig
}

// NewBreakers creates an empty set of per-source breakers sharing cfg.
func NewBreakers(cfg CircuitBreakerConfig) *Breakers {
	return &Breakers{
		breakers: make(map[string]*CircuitBreaker),
		cfg:      cfg,
	}
}

// Get returns the breaker for a source, creating one on first use.
func (b *Breakers) Get(sourceID string) *CircuitBreaker {
	b.mu.RLock()
	cb, ok := b.breakers[sourceID]
	b.mu.RUnlock()
	if ok {
		return cb
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if cb, ok = b.breakers[sourceID]; ok {
		return cb
	}
	cb = NewCircuitBreaker(sourceID, b.cfg)
	b.breakers[sourceID] = cb
	return cb
}

// States returns a snapshot of every breaker's state.
func (b *Breakers) States() map[string]CircuitState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	states := make(map[string]CircuitState, len(b.breakers))
	for id, cb := range b.breakers {
		states[id] = cb.State()
	}
	return states
}

// Open returns the ids of sources whose circuit currently rejects fetches,
// sorted.
func (b *Breakers) Open() []string {
	var out []string
	for id, s := range b.States() {
		if s == CircuitOpen {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// LogStateChange is an OnStateChange callback that logs transitions.
func LogStateChange(name string, from, to CircuitState) {
	log := zap.L().With(zap.String("source", name))
	if to == CircuitOpen {
		log.Warn("circuit opened", zap.Stringer("from", from))
		return
	}
	log.Info("circuit state change", zap.Stringer("from", from), zap.Stringer("to", to))
}
