// Package redux drives a store with a reducer and dispatched actions.
//
//	r := redux.New(reduce)
//	store := vstore.New(r.Initializer(Counter{}))
//	r.Dispatch(Increment{By: 2})
//
// The handle implements vstore.Dispatcher, so devtools can replay actions
// sent by the inspection tool.
package redux

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/jilio/vstore"
)

// ErrNotAttached is returned by Dispatch before the handle is attached to a
// store.
var ErrNotAttached = errors.New("redux: not attached to a store")

// Reducer computes the next state for an action.
type Reducer[T, A any] func(state T, action A) T

// Typed actions name themselves for inspection tools.
type Typed interface {
	ActionType() string
}

// Redux is the dispatch handle of a reducer store.
type Redux[T, A any] struct {
	reducer  Reducer[T, A]
	external bool

	mu  sync.RWMutex
	api *vstore.API[T]
}

var _ vstore.Dispatcher = (*Redux[int, int])(nil)

// Option configures a Redux handle.
type Option func(*options)

type options struct {
	external bool
}

// WithDevtoolsDispatch controls whether actions sent by an inspection tool
// are dispatched. Default is true.
func WithDevtoolsDispatch(enabled bool) Option {
	return func(o *options) {
		o.external = enabled
	}
}

// New creates a dispatch handle for reducer.
func New[T, A any](reducer Reducer[T, A], opts ...Option) *Redux[T, A] {
	o := options{external: true}
	for _, opt := range opts {
		opt(&o)
	}
	return &Redux[T, A]{reducer: reducer, external: o.external}
}

// Initializer returns an initializer starting at initial with the dispatcher
// installed.
func (r *Redux[T, A]) Initializer(initial T) vstore.Initializer[T] {
	return r.Middleware(func(vstore.Setter[T], vstore.Getter[T], *vstore.API[T]) T {
		return initial
	})
}

// Middleware installs the dispatcher on the store's API.
func (r *Redux[T, A]) Middleware(next vstore.Initializer[T]) vstore.Initializer[T] {
	return func(set vstore.Setter[T], get vstore.Getter[T], api *vstore.API[T]) T {
		r.mu.Lock()
		r.api = api
		r.mu.Unlock()

		api.Dispatcher = r
		return next(set, get, api)
	}
}

// Dispatch reduces the current state with action and commits the result,
// labelled with the action's type.
func (r *Redux[T, A]) Dispatch(action A) error {
	r.mu.RLock()
	api := r.api
	r.mu.RUnlock()
	if api == nil {
		return ErrNotAttached
	}

	api.SetState(func(state T) T {
		return r.reducer(state, action)
	}, vstore.Replace(), vstore.Action(actionType(action)), vstore.ActionPayload(action))
	return nil
}

// DispatchJSON implements vstore.Dispatcher.
func (r *Redux[T, A]) DispatchJSON(data []byte) error {
	var action A
	if err := json.Unmarshal(data, &action); err != nil {
		return fmt.Errorf("redux: decode action: %w", err)
	}
	return r.Dispatch(action)
}

// AcceptsExternalDispatch implements vstore.Dispatcher.
func (r *Redux[T, A]) AcceptsExternalDispatch() bool {
	return r.external
}

// actionType names an action: its ActionType method, a string Type field or
// key, or its Go type.
func actionType(action any) string {
	if t, ok := action.(Typed); ok {
		return t.ActionType()
	}

	v := reflect.ValueOf(action)
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return fmt.Sprintf("%T", action)
		}
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Struct:
		if f := v.FieldByName("Type"); f.IsValid() && f.Kind() == reflect.String && f.String() != "" {
			return f.String()
		}
	case reflect.Map:
		if v.Type().Key().Kind() == reflect.String {
			if t := v.MapIndex(reflect.ValueOf("type").Convert(v.Type().Key())); t.IsValid() {
				if s, ok := t.Interface().(string); ok && s != "" {
					return s
				}
			}
		}
	case reflect.String:
		if v.String() != "" {
			return v.String()
		}
	}
	return fmt.Sprintf("%T", action)
}
