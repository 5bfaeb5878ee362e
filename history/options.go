package history

import "time"

// Option configures a History.
type Option func(*config)

type config struct {
	limit  int
	now    func() time.Time
	ignore map[string]bool
}

func defaultConfig() config {
	return config{
		now: time.Now,
	}
}

func (c config) ignored(action string) bool {
	return action != "" && c.ignore[action]
}

// WithLimit caps each of the past and future stacks at n entries, dropping
// the oldest first. Zero means unbounded.
func WithLimit(n int) Option {
	return func(c *config) {
		if n >= 0 {
			c.limit = n
		}
	}
}

// WithClock sets the time source for entry timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		if now != nil {
			c.now = now
		}
	}
}

// WithIgnoreActions skips recording transitions labelled with any of the
// given actions, such as "persist/rehydrate".
func WithIgnoreActions(actions ...string) Option {
	return func(c *config) {
		if c.ignore == nil {
			c.ignore = make(map[string]bool, len(actions))
		}
		for _, a := range actions {
			c.ignore[a] = true
		}
	}
}
