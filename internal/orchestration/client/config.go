package client

import "time"

const (
	// DefaultTimeout is the wall-clock limit for one agent invocation.
	DefaultTimeout = 30 * time.Minute
	// DefaultGracePeriod is how long a terminated process gets before SIGKILL.
	DefaultGracePeriod = 10 * time.Second
)

// Config describes one agent invocation.
type Config struct {
	WorkDir         string
	Prompt          string
	Model           string
	SkipPermissions bool
	Timeout         time.Duration
	GracePeriod     time.Duration
	// Executable overrides executable discovery when set.
	Executable string
	ExtraArgs  []string
	// Env holds extra KEY=VALUE pairs appended to the parent environment.
	Env []string
}

// EffectiveTimeout returns Timeout or the default.
func (c Config) EffectiveTimeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultTimeout
}

// EffectiveGracePeriod returns GracePeriod or the default.
func (c Config) EffectiveGracePeriod() time.Duration {
	if c.GracePeriod > 0 {
		return c.GracePeriod
	}
	return DefaultGracePeriod
}
