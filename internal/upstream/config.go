package upstream

import "time"

// ExecutionConfig tunes outbound tool calls
type ExecutionConfig struct {
	Timeout          time.Duration // per attempt
	MaxAttempts      int
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	Multiplier       float64
	Jitter           float64 // randomization factor in [0, 1)
	RatePerMinute    float64 // per connector; zero disables limiting
	Burst            int
	MaxResponseBytes int64
}

// DefaultExecutionConfig returns the defaults used when nothing is configured
func DefaultExecutionConfig() ExecutionConfig {
	return ExecutionConfig{
		Timeout:          30 * time.Second,
		MaxAttempts:      3,
		InitialBackoff:   200 * time.Millisecond,
		MaxBackoff:       5 * time.Second,
		Multiplier:       2.0,
		Jitter:           0.1,
		RatePerMinute:    1000,
		Burst:            50,
		MaxResponseBytes: 1 << 20,
	}
}

func (c ExecutionConfig) withDefaults() ExecutionConfig {
	def := DefaultExecutionConfig()
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = def.InitialBackoff
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = c.InitialBackoff
	}
	if c.Multiplier < 1 {
		c.Multiplier = def.Multiplier
	}
	if c.Jitter < 0 || c.Jitter >= 1 {
		c.Jitter = 0
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	if c.MaxResponseBytes <= 0 {
		c.MaxResponseBytes = def.MaxResponseBytes
	}
	return c
}
