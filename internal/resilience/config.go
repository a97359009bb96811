package resilience

import (
	"time"
)

// FromCircuitConfig converts config values to a CircuitBreakerConfig. A
// non-positive threshold disables breaking and returns ok=false.
func FromCircuitConfig(failureThreshold int, resetTimeout time.Duration) (cfg CircuitBreakerConfig, ok bool) {
	cfg = DefaultCircuitBreakerConfig()
	if failureThreshold <= 0 {
		return cfg, false
	}
	cfg.FailureThreshold = failureThreshold
	if resetTimeout > 0 {
		cfg.ResetTimeout = resetTimeout
	}
	cfg.OnStateChange = LogStateChange
	return cfg, true
}
