package dispatch

import (
	"time"

	"github.com/hemolink/hemolink/core/ratelimit"
)

// Config tunes the notification fan-out.
type Config struct {
	// TopN caps how many ranked candidates are notified per dispatch.
	TopN int `json:"top_n"`
	// Workers bounds the number of concurrent sends.
	Workers int `json:"workers"`
	// SendTimeoutSeconds bounds each individual send attempt.
	SendTimeoutSeconds int `json:"send_timeout_seconds"`
	// MaxRetries is the number of additional attempts after a transient
	// failure. Permanent failures are never retried.
	MaxRetries int `json:"max_retries"`
	// RetryBackoffMS is the base backoff between attempts, multiplied by the
	// attempt number.
	RetryBackoffMS int `json:"retry_backoff_ms"`

	// ResponderLimit throttles notifications per responder across requests.
	ResponderLimit ratelimit.Config `json:"responder_limit"`
	// GlobalLimit throttles total outbound notifications.
	GlobalLimit ratelimit.Config `json:"global_limit"`
}

// SetDefaults fills the zero fields.
func (c *Config) SetDefaults() {
	if c.TopN <= 0 {
		c.TopN = 10
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.SendTimeoutSeconds <= 0 {
		c.SendTimeoutSeconds = 5
	}
	switch {
	case c.MaxRetries < 0:
		// Negative means retries disabled explicitly.
		c.MaxRetries = 0
	case c.MaxRetries == 0:
		c.MaxRetries = 2
	}
	if c.RetryBackoffMS <= 0 {
		c.RetryBackoffMS = 100
	}
	c.ResponderLimit.SetDefaults()
	c.GlobalLimit.SetDefaults()
}

// SendTimeout returns the per-attempt deadline as a duration.
func (c Config) SendTimeout() time.Duration {
	return time.Duration(c.SendTimeoutSeconds) * time.Second
}

// RetryBackoff returns the base backoff as a duration.
func (c Config) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffMS) * time.Millisecond
}
