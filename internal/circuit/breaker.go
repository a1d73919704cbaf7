package circuit

import (
	"fmt"
	"sync"
	"time"
)

// BreakerState represents the circuit breaker state
type BreakerState string

const (
	StateClosed   BreakerState = "closed"    // Normal operation
	StateOpen     BreakerState = "open"      // Requests rejected
	StateHalfOpen BreakerState = "half_open" // Testing recovery
)

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	Enabled             bool          `json:"enabled"`
	MaxConsecutiveFails int           `json:"max_consecutive_fails"` // Failures in a row before tripping
	Cooldown            time.Duration `json:"cooldown"`              // Time open before a trial request
}

// DefaultCircuitBreakerConfig returns safe defaults
func DefaultCircuitBreakerConfig() *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		Enabled:             true,
		MaxConsecutiveFails: 5,
		Cooldown:            time.Minute,
	}
}

// CircuitBreaker guards calls to a flaky upstream
type CircuitBreaker struct {
	name             string
	config           *CircuitBreakerConfig
	state            BreakerState
	consecutiveFails int
	totalFailures    int
	totalRejected    int
	lastTripTime     time.Time
	tripReason       string
	trialInFlight    bool
	now              func() time.Time
	mu               sync.Mutex
	onStateChange    func(name string, from, to BreakerState)
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(name string, config *CircuitBreakerConfig) *CircuitBreaker {
	if config == nil {
		config = DefaultCircuitBreakerConfig()
	}
	return &CircuitBreaker{
		name:   name,
		config: config,
		state:  StateClosed,
		now:    time.Now,
	}
}

// OnStateChange sets a callback for state transitions. It runs in its own goroutine.
func (cb *CircuitBreaker) OnStateChange(handler func(name string, from, to BreakerState)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = handler
}

// Allow reports whether a request may proceed. In half-open only one trial
// request is let through until it reports back.
func (cb *CircuitBreaker) Allow() (bool, string) {
	if !cb.config.Enabled {
		return true, ""
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		elapsed := cb.now().Sub(cb.lastTripTime)
		if elapsed < cb.config.Cooldown {
			cb.totalRejected++
			remaining := cb.config.Cooldown - elapsed
			return false, fmt.Sprintf("circuit breaker open, cooldown remaining: %v (reason: %s)",
				remaining.Round(time.Second), cb.tripReason)
		}
		cb.setState(StateHalfOpen)
		cb.trialInFlight = true
		return true, ""
	case StateHalfOpen:
		if cb.trialInFlight {
			cb.totalRejected++
			return false, "circuit breaker half open, trial request in flight"
		}
		cb.trialInFlight = true
		return true, ""
	}

	return true, ""
}

// RecordSuccess reports a successful request
func (cb *CircuitBreaker) RecordSuccess() {
	if !cb.config.Enabled {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFails = 0
	cb.trialInFlight = false
	if cb.state != StateClosed {
		cb.tripReason = ""
		cb.setState(StateClosed)
	}
}

// RecordFailure reports a failed request
func (cb *CircuitBreaker) RecordFailure(err error) {
	if !cb.config.Enabled {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFails++
	cb.totalFailures++
	cb.trialInFlight = false

	reason := "request failed"
	if err != nil {
		reason = err.Error()
	}

	if cb.state == StateHalfOpen {
		cb.trip("trial request failed: " + reason)
		return
	}
	if cb.consecutiveFails >= cb.config.MaxConsecutiveFails {
		cb.trip(fmt.Sprintf("consecutive failures: %d (last: %s)", cb.consecutiveFails, reason))
	}
}

// trip opens the circuit breaker
func (cb *CircuitBreaker) trip(reason string) {
	cb.lastTripTime = cb.now()
	cb.tripReason = reason
	cb.setState(StateOpen)
}

func (cb *CircuitBreaker) setState(to BreakerState) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if cb.onStateChange != nil {
		go cb.onStateChange(cb.name, from, to)
	}
}

// ForceReset manually resets the circuit breaker
func (cb *CircuitBreaker) ForceReset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.consecutiveFails = 0
	cb.tripReason = ""
	cb.trialInFlight = false
	cb.setState(StateClosed)
}

// GetState returns current breaker state
func (cb *CircuitBreaker) GetState() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// GetStats returns current statistics
func (cb *CircuitBreaker) GetStats() map[string]interface{} {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return map[string]interface{}{
		"name":              cb.name,
		"state":             string(cb.state),
		"consecutive_fails": cb.consecutiveFails,
		"total_failures":    cb.totalFailures,
		"total_rejected":    cb.totalRejected,
		"trip_reason":       cb.tripReason,
		"last_trip_time":    cb.lastTripTime,
	}
}

// IsEnabled returns if circuit breaker is enabled
func (cb *CircuitBreaker) IsEnabled() bool {
	return cb.config.Enabled
}
