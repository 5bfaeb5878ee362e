package devtools

import "log/slog"

// Option configures the devtools middleware.
type Option func(*config)

type config struct {
	name                string
	enabled             bool
	anonymousActionType string
	logger              *slog.Logger
	onError             func(error)
}

func defaultConfig() *config {
	return &config{
		enabled:             true,
		anonymousActionType: "anonymous",
	}
}

// WithName sets the name the store is shown under.
func WithName(name string) Option {
	return func(c *config) {
		c.name = name
	}
}

// WithEnabled turns mirroring on or off. Default is on.
func WithEnabled(enabled bool) Option {
	return func(c *config) {
		c.enabled = enabled
	}
}

// WithAnonymousActionType sets the label of transitions sent without one.
// Default is "anonymous".
func WithAnonymousActionType(label string) Option {
	return func(c *config) {
		if label != "" {
			c.anonymousActionType = label
		}
	}
}

// WithLogger sets the logger. Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithOnError receives errors from malformed messages and failed sends.
func WithOnError(fn func(error)) Option {
	return func(c *config) {
		c.onError = fn
	}
}
