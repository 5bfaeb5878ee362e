package vstore

// Getter returns the current state.
type Getter[T any] func() T

// Setter applies a transition. fn receives the current state and returns the
// next state, which is merged into or replaces the current one.
type Setter[T any] func(fn func(T) T, opts ...SetOption)

// Initializer builds the first state of a store. It receives the setter and
// getter the store will use and the shared API, possibly wrapped by middleware.
// Calling get during the initializer returns the zero value of T.
type Initializer[T any] func(set Setter[T], get Getter[T], api *API[T]) T

// Middleware wraps an initializer. A middleware may hand a modified set, get
// or api to next and may replace api.SetState after next returns. It must
// keep a reference to the setter it replaces and delegate to it.
type Middleware[T any] func(next Initializer[T]) Initializer[T]

// Compose chains middleware so that the first one is the outermost: a call to
// the resulting store's SetState passes through mws[0] first.
func Compose[T any](mws ...Middleware[T]) Middleware[T] {
	return func(next Initializer[T]) Initializer[T] {
		for i := len(mws) - 1; i >= 0; i-- {
			if mws[i] != nil {
				next = mws[i](next)
			}
		}
		return next
	}
}

// Dispatcher is implemented by middleware that accepts serialized actions,
// such as a reducer store. Devtools forwards external ACTION messages to it.
type Dispatcher interface {
	// DispatchJSON decodes an action and dispatches it.
	DispatchJSON(data []byte) error
	// AcceptsExternalDispatch reports whether actions coming from an
	// inspection tool may be applied.
	AcceptsExternalDispatch() bool
}

// API is the capability set shared along the middleware chain.
type API[T any] struct {
	// SetState is the outermost setter. Middleware replace it to add effects.
	SetState        Setter[T]
	GetState        Getter[T]
	GetInitialState Getter[T]
	Subscribe       func(Listener[T]) Unsubscribe

	// Dispatcher is nil unless a middleware installs one.
	Dispatcher Dispatcher
}

// Set replaces or merges the state with a literal value, with the same
// partial-value rules as Store.SetState.
func (a *API[T]) Set(next T, opts ...SetOption) {
	a.SetState(func(T) T { return next }, append(opts, partial())...)
}

// SetOptions is the resolved form of a transition's options.
type SetOptions struct {
	// Replace drops the current state instead of merging into it.
	Replace bool
	// Action labels the transition for inspection tools.
	Action string
	// Payload is attached to the action label when mirrored.
	Payload any

	// partial marks a literal value from SetState, merged even when it is
	// a struct.
	partial bool
}

// SetOption configures a single transition.
type SetOption func(*SetOptions)

// Replace makes the transition replace the state wholesale.
func Replace() SetOption {
	return func(o *SetOptions) {
		o.Replace = true
	}
}

// Action labels the transition.
func Action(name string) SetOption {
	return func(o *SetOptions) {
		o.Action = name
	}
}

// ActionPayload attaches data to the transition's action label.
func ActionPayload(payload any) SetOption {
	return func(o *SetOptions) {
		o.Payload = payload
	}
}

func partial() SetOption {
	return func(o *SetOptions) {
		o.partial = true
	}
}

// ResolveSetOptions applies opts in order.
func ResolveSetOptions(opts []SetOption) SetOptions {
	var o SetOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}
