package source

import (
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/lobbyharvest/internal/resilience"
)

// Policy is the operating policy the dispatcher applies to one source.
type Policy struct {
	// Timeout bounds each fetch attempt.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int `yaml:"max_retries" json:"max_retries"`
	// RetryBackoff is the base delay before the first retry; it doubles per
	// retry with ±25% jitter, capped at MaxBackoff.
	RetryBackoff time.Duration `yaml:"retry_backoff" json:"retry_backoff"`
	MaxBackoff   time.Duration `yaml:"max_backoff" json:"max_backoff"`
	// RateLimit is the sustained request rate in requests per second across
	// all concurrent queries. 0 means unlimited.
	RateLimit float64 `yaml:"rate_limit" json:"rate_limit"`
	Burst     int     `yaml:"burst" json:"burst"`
	// Enabled=false keeps the source registered but never dispatched.
	Enabled bool `yaml:"enabled" json:"enabled"`
}

// DefaultPolicy returns the policy used for sources with no configuration.
func DefaultPolicy() Policy {
	return Policy{
		Timeout:      30 * time.Second,
		MaxRetries:   2,
		RetryBackoff: time.Second,
		MaxBackoff:   15 * time.Second,
		RateLimit:    1,
		Burst:        1,
		Enabled:      true,
	}
}

// Validate rejects policies the dispatcher cannot run.
func (p Policy) Validate() error {
	if p.Timeout <= 0 {
		return eris.Errorf("policy: timeout must be positive, got %s", p.Timeout)
	}
	if p.MaxRetries < 0 {
		return eris.Errorf("policy: max_retries must be >= 0, got %d", p.MaxRetries)
	}
	if p.RetryBackoff < 0 || p.MaxBackoff < 0 {
		return eris.New("policy: backoff must be >= 0")
	}
	if p.RateLimit < 0 {
		return eris.Errorf("policy: rate_limit must be >= 0, got %g", p.RateLimit)
	}
	return nil
}

// Attempts returns the total number of fetch attempts the policy allows.
func (p Policy) Attempts() int {
	return p.MaxRetries + 1
}

// RetryConfig converts the policy into the resilience retry settings,
// retrying only timeouts and transient fetch errors.
func (p Policy) RetryConfig() resilience.RetryConfig {
	cfg := resilience.DefaultRetryConfig()
	cfg.MaxAttempts = p.Attempts()
	if p.RetryBackoff > 0 {
		cfg.InitialBackoff = p.RetryBackoff
	}
	if p.MaxBackoff > 0 {
		cfg.MaxBackoff = p.MaxBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	cfg.ShouldRetry = Retryable
	return cfg
}

// newLimiter returns the shared limiter for the policy, or nil when the
// source is unlimited.
func (p Policy) newLimiter() *rate.Limiter {
	if p.RateLimit <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(p.RateLimit), max(p.Burst, 1))
}
