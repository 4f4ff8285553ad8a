package transfer

import "time"

// Config tunes one transfer Manager.
type Config struct {
	// SessionTimeout bounds the wait for the session-open acknowledgement.
	SessionTimeout time.Duration
	// ControlTimeout bounds the wait for MTU/ready control acknowledgements.
	ControlTimeout time.Duration
	// TransferTimeout bounds the whole transfer.
	TransferTimeout time.Duration
	// HealthCheckTimeout bounds the battery/state query before a transfer.
	HealthCheckTimeout time.Duration

	// MinBatteryPercent is required on every reported battery channel.
	MinBatteryPercent int

	// DefaultMTU applies until the device negotiates its own.
	DefaultMTU int

	// ReconnectTimeout bounds the post-teardown reconnect attempt; the one
	// retry gets double this budget.
	ReconnectTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		SessionTimeout:     20 * time.Second,
		ControlTimeout:     20 * time.Second,
		TransferTimeout:    10 * time.Minute,
		HealthCheckTimeout: 10 * time.Second,
		MinBatteryPercent:  30,
		DefaultMTU:         650,
		ReconnectTimeout:   10 * time.Second,
	}
}

// Option is a functional option for NewManager.
type Option func(*Config)

func WithSessionTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.SessionTimeout = d
		}
	}
}

func WithControlTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.ControlTimeout = d
		}
	}
}

func WithTransferTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.TransferTimeout = d
		}
	}
}

func WithHealthCheckTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.HealthCheckTimeout = d
		}
	}
}

func WithMinBattery(percent int) Option {
	return func(c *Config) {
		if percent >= 0 && percent <= 100 {
			c.MinBatteryPercent = percent
		}
	}
}

func WithReconnectTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.ReconnectTimeout = d
		}
	}
}
