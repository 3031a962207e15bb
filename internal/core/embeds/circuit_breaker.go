package embeds

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// circuitState represents the state of a circuit breaker
type circuitState int

const (
	stateClosed   circuitState = iota // Normal operation
	stateOpen                         // Host is failing, skip it
	stateHalfOpen                     // One probe allowed through
)

func (s circuitState) String() string {
	switch s {
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// circuitBreaker tracks consecutive network failures per strategy+host key
// and stops the orchestrator from hammering hosts that keep failing.
type circuitBreaker struct {
	failures         map[string]int
	lastFailure      map[string]time.Time
	state            map[string]circuitState
	failureThreshold int
	openDuration     time.Duration
	now              func() time.Time
	mu               sync.Mutex
}

// newCircuitBreaker creates a circuit breaker with default settings
func newCircuitBreaker() *circuitBreaker {
	return &circuitBreaker{
		failureThreshold: 3,               // Open after 3 consecutive failures
		openDuration:     5 * time.Minute, // Keep open for 5 minutes
		failures:         make(map[string]int),
		lastFailure:      make(map[string]time.Time),
		state:            make(map[string]circuitState),
		now:              time.Now,
	}
}

func breakerKey(strategy, host string) string {
	return strategy + ":" + host
}

// canAttempt reports whether key may be tried. An open circuit whose open
// period has elapsed moves to half-open and lets the caller through.
func (cb *circuitBreaker) canAttempt(key string) (bool, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.getState(key) != stateOpen {
		return true, nil
	}

	lastFail := cb.lastFailure[key]
	if cb.now().Sub(lastFail) > cb.openDuration {
		cb.state[key] = stateHalfOpen
		slog.Info("[EMBED] circuit half-open", "key", key)
		return true, nil
	}

	return false, fmt.Errorf("%w: %s (failures: %d, next retry: %s)",
		ErrCircuitOpen,
		key,
		cb.failures[key],
		lastFail.Add(cb.openDuration).Format("15:04:05"),
	)
}

// recordSuccess resets failure tracking for key
func (cb *circuitBreaker) recordSuccess(key string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	oldState := cb.getState(key)
	delete(cb.failures, key)
	delete(cb.lastFailure, key)
	delete(cb.state, key)

	if oldState != stateClosed {
		slog.Info("[EMBED] circuit closed", "key", key)
	}
}

// recordFailure counts a network-level failure for key
func (cb *circuitBreaker) recordFailure(key string, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures[key]++
	cb.lastFailure[key] = cb.now()
	failCount := cb.failures[key]

	// a failed half-open probe reopens immediately
	if failCount >= cb.failureThreshold || cb.getState(key) == stateHalfOpen {
		if cb.getState(key) != stateOpen {
			slog.Warn("[EMBED] circuit opened",
				"key", key,
				"failures", failCount,
				"error", err,
			)
		}
		cb.state[key] = stateOpen
		return
	}

	slog.Debug("[EMBED] strategy failure",
		"key", key,
		"failures", failCount,
		"threshold", cb.failureThreshold,
		"error", err,
	)
}

// getState returns the current state (must be called with lock held)
func (cb *circuitBreaker) getState(key string) circuitState {
	if state, exists := cb.state[key]; exists {
		return state
	}
	return stateClosed
}

// BreakerStatus describes one tracked circuit
type BreakerStatus struct {
	State       string    `json:"state"`
	Failures    int       `json:"failures"`
	LastFailure time.Time `json:"lastFailure"`
}

// stats returns the state of every key with activity
func (cb *circuitBreaker) stats() map[string]BreakerStatus {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	keys := make(map[string]struct{})
	for k := range cb.state {
		keys[k] = struct{}{}
	}
	for k := range cb.failures {
		keys[k] = struct{}{}
	}

	stats := make(map[string]BreakerStatus, len(keys))
	for k := range keys {
		stats[k] = BreakerStatus{
			State:       cb.getState(k).String(),
			Failures:    cb.failures[k],
			LastFailure: cb.lastFailure[k],
		}
	}
	return stats
}
