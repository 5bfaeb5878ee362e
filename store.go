package vstore

import "sync"

// Listener is called after every committed transition with the new and the
// previous state.
type Listener[T any] func(state, prev T)

// Unsubscribe removes a listener registration. Calling it again is a no-op.
type Unsubscribe func()

// Observable is the contract a rendering layer needs: register for change
// notification and pull a fresh snapshot synchronously.
type Observable[T any] interface {
	GetState() T
	Subscribe(listener Listener[T]) Unsubscribe
}

// registration wraps a listener so that each Subscribe call has its own
// identity; funcs cannot be compared in Go.
type registration[T any] struct {
	fn Listener[T]
}

// Option configures a Store.
type Option[T any] func(*config[T])

type config[T any] struct {
	merge       MergeFunc[T]
	middlewares []Middleware[T]
}

// WithMerge overrides how non-replacing transitions combine states. A custom
// merge is called for every transition without Replace, including Update.
func WithMerge[T any](fn MergeFunc[T]) Option[T] {
	return func(c *config[T]) {
		if fn != nil {
			c.merge = fn
		}
	}
}

// WithMiddleware wraps the initializer. The first middleware is the outermost.
func WithMiddleware[T any](mws ...Middleware[T]) Option[T] {
	return func(c *config[T]) {
		c.middlewares = append(c.middlewares, mws...)
	}
}

// Store holds a state value and notifies listeners when it changes.
//
// Transitions execute synchronously: when SetState returns, GetState reflects
// the new value and every listener has run. A listener that panics aborts the
// remaining listeners of that transition and the panic reaches the caller of
// SetState. Locks are never held while listeners or updaters run, so
// listeners may call SetState; the nested transition completes (including its
// own notifications) before the outer fan-out continues.
type Store[T any] struct {
	mu        sync.RWMutex
	state     T
	initial   T
	listeners []*registration[T]
	merge     MergeFunc[T]
	api       *API[T]
}

// New creates a store. init runs exactly once, wrapped by any middleware.
func New[T any](init Initializer[T], opts ...Option[T]) *Store[T] {
	cfg := &config[T]{}
	for _, opt := range opts {
		opt(cfg)
	}

	s := &Store[T]{merge: cfg.merge}
	s.api = &API[T]{
		SetState:        s.commit,
		GetState:        s.getState,
		GetInitialState: s.getInitialState,
		Subscribe:       s.subscribe,
	}

	if len(cfg.middlewares) > 0 {
		init = Compose(cfg.middlewares...)(init)
	}

	first := init(s.api.SetState, s.api.GetState, s.api)

	s.mu.Lock()
	s.state = first
	s.initial = first
	s.mu.Unlock()

	return s
}

// Create builds a store from an initializer.
func Create[T any](init Initializer[T], opts ...Option[T]) *Store[T] {
	return New(init, opts...)
}

// Of creates a store whose initial state is the given value.
func Of[T any](initial T, opts ...Option[T]) *Store[T] {
	return New(func(Setter[T], Getter[T], *API[T]) T { return initial }, opts...)
}

// API returns the capability set after middleware were applied.
func (s *Store[T]) API() *API[T] {
	return s.api
}

// GetState returns the current state.
func (s *Store[T]) GetState() T {
	return s.api.GetState()
}

// GetInitialState returns the state produced by the initializer.
func (s *Store[T]) GetInitialState() T {
	return s.api.GetInitialState()
}

// SetState merges next into the current state, or replaces it when the
// Replace option is given or next is not an object. A struct next is treated
// as a partial value: only its non-zero fields are written.
func (s *Store[T]) SetState(next T, opts ...SetOption) {
	s.api.SetState(func(T) T { return next }, append(opts, partial())...)
}

// Update computes the next state from the current one. The result is a whole
// value: string-keyed maps are still merged key by key, every other state is
// replaced, so fields may be reset to their zero value.
func (s *Store[T]) Update(fn func(T) T, opts ...SetOption) {
	s.api.SetState(fn, opts...)
}

// Subscribe registers listener. Registering the same func twice yields two
// independent registrations.
func (s *Store[T]) Subscribe(listener Listener[T]) Unsubscribe {
	return s.api.Subscribe(listener)
}

func (s *Store[T]) getState() T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Store[T]) getInitialState() T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initial
}

func (s *Store[T]) commit(fn func(T) T, opts ...SetOption) {
	o := ResolveSetOptions(opts)

	s.mu.RLock()
	current := s.state
	s.mu.RUnlock()

	next := fn(current)
	if Is(next, current) {
		return
	}

	s.mu.Lock()
	prev := s.state
	switch {
	case o.Replace:
		s.state = next
	case s.merge != nil:
		s.state = s.merge(prev, next)
	case o.partial || isKeyed(next):
		s.state = Merge(prev, next)
	default:
		s.state = next
	}
	state := s.state
	if Is(state, prev) {
		s.mu.Unlock()
		return
	}

	// Copy listeners so that subscriptions changed during fan-out only
	// affect later transitions.
	listeners := make([]*registration[T], len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, l := range listeners {
		l.fn(state, prev)
	}
}

func (s *Store[T]) subscribe(listener Listener[T]) Unsubscribe {
	reg := &registration[T]{fn: listener}

	s.mu.Lock()
	s.listeners = append(s.listeners, reg)
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, r := range s.listeners {
				if r == reg {
					s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// ListenerCount returns the number of active registrations.
func (s *Store[T]) ListenerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.listeners)
}
