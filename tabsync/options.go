package tabsync

import (
	"context"
	"log/slog"
)

// Option configures a Sync.
type Option func(*config)

type config struct {
	fields  []string
	ctx     context.Context
	logger  *slog.Logger
	onError func(error)
}

func defaultConfig() *config {
	return &config{ctx: context.Background()}
}

// WithFields shares only the given top-level fields, by their JSON names.
// By default every field is shared.
func WithFields(names ...string) Option {
	return func(c *config) {
		c.fields = append(c.fields, names...)
	}
}

// WithContext sets the context used when posting.
func WithContext(ctx context.Context) Option {
	return func(c *config) {
		if ctx != nil {
			c.ctx = ctx
		}
	}
}

// WithLogger sets the logger. Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithOnError receives encode, decode and post errors.
func WithOnError(fn func(error)) Option {
	return func(c *config) {
		c.onError = fn
	}
}
