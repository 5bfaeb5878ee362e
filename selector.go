package vstore

import "sync"

// SelectorOption configures SubscribeSelector.
type SelectorOption[S any] func(*selectorConfig[S])

type selectorConfig[S any] struct {
	equal           func(a, b S) bool
	fireImmediately bool
}

// WithEquality sets the comparison used to decide whether the selected slice
// changed. The default is Is.
func WithEquality[S any](equal func(a, b S) bool) SelectorOption[S] {
	return func(c *selectorConfig[S]) {
		if equal != nil {
			c.equal = equal
		}
	}
}

// WithShallowEquality compares selected slices with Shallow.
func WithShallowEquality[S any]() SelectorOption[S] {
	return func(c *selectorConfig[S]) {
		c.equal = func(a, b S) bool { return Shallow(a, b) }
	}
}

// FireImmediately calls the listener once with the current slice on subscribe.
func FireImmediately[S any]() SelectorOption[S] {
	return func(c *selectorConfig[S]) {
		c.fireImmediately = true
	}
}

// SubscribeSelector calls listener only when the slice of state picked by
// selector changes.
func SubscribeSelector[T, S any](
	store Observable[T],
	selector func(T) S,
	listener func(selected, prev S),
	opts ...SelectorOption[S],
) Unsubscribe {
	cfg := &selectorConfig[S]{
		equal: func(a, b S) bool { return Is(a, b) },
	}
	for _, opt := range opts {
		opt(cfg)
	}

	var mu sync.Mutex
	current := selector(store.GetState())

	unsub := store.Subscribe(func(state, _ T) {
		next := selector(state)

		mu.Lock()
		if cfg.equal(current, next) {
			mu.Unlock()
			return
		}
		prev := current
		current = next
		mu.Unlock()

		listener(next, prev)
	})

	if cfg.fireImmediately {
		listener(current, current)
	}

	return unsub
}
