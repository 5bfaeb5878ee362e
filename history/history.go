// Package history records a store's past states and restores them on Undo
// and Redo.
//
//	h := history.New[Doc](history.WithLimit(100))
//	store := vstore.New(initDoc, vstore.WithMiddleware(h.Middleware))
//	store.SetState(Doc{Title: "draft"})
//	h.Undo()
package history

import (
	"slices"
	"sync"
	"time"

	"github.com/jilio/vstore"
)

// Action labels of the transitions made by Undo and Redo.
const (
	ActionUndo = "history/undo"
	ActionRedo = "history/redo"
)

// Entry is a recorded state.
type Entry[T any] struct {
	State T
	At    time.Time
}

// History is the handle of a history middleware. It tracks states in two
// bounded stacks: past holds states to return to on Undo, future holds
// undone states for Redo.
type History[T any] struct {
	cfg config

	mu        sync.Mutex
	api       *vstore.API[T]
	past      []Entry[T]
	future    []Entry[T]
}

// New creates a history handle. Attach it with Middleware.
func New[T any](opts ...Option) *History[T] {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &History[T]{cfg: cfg}
}

// Middleware records the state before every transition that changes it.
// Transitions made by Undo and Redo, and those labelled with an ignored
// action, are not recorded.
func (h *History[T]) Middleware(next vstore.Initializer[T]) vstore.Initializer[T] {
	return func(set vstore.Setter[T], get vstore.Getter[T], api *vstore.API[T]) T {
		h.mu.Lock()
		h.api = api
		h.mu.Unlock()

		recording := func(delegate vstore.Setter[T]) vstore.Setter[T] {
			return func(fn func(T) T, opts ...vstore.SetOption) {
				before := get()
				delegate(fn, opts...)
				after := get()

				action := vstore.ResolveSetOptions(opts).Action
				if vstore.Is(before, after) || action == ActionUndo || action == ActionRedo || h.cfg.ignored(action) {
					return
				}
				h.record(before)
			}
		}

		api.SetState = recording(api.SetState)
		return next(recording(set), get, api)
	}
}

func (h *History[T]) record(state T) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.past = h.push(h.past, Entry[T]{State: state, At: h.cfg.now()})
	h.future = nil
}

// push appends e, dropping the oldest entries beyond the limit.
func (h *History[T]) push(stack []Entry[T], e Entry[T]) []Entry[T] {
	stack = append(stack, e)
	if h.cfg.limit > 0 && len(stack) > h.cfg.limit {
		stack = slices.Clone(stack[len(stack)-h.cfg.limit:])
	}
	return stack
}

// Undo restores the most recently recorded state. It reports false when
// there is nothing to undo.
func (h *History[T]) Undo() bool {
	return h.step(&h.past, &h.future, ActionUndo)
}

// Redo restores the most recently undone state. It reports false when there
// is nothing to redo.
func (h *History[T]) Redo() bool {
	return h.step(&h.future, &h.past, ActionRedo)
}

// step moves the top of from into the store and records the current state
// on to.
func (h *History[T]) step(from, to *[]Entry[T], action string) bool {
	h.mu.Lock()
	api := h.api
	if api == nil || len(*from) == 0 {
		h.mu.Unlock()
		return false
	}

	last := len(*from) - 1
	target := (*from)[last]
	*from = (*from)[:last]
	*to = h.push(*to, Entry[T]{State: api.GetState(), At: h.cfg.now()})
	h.mu.Unlock()

	api.SetState(func(T) T { return target.State }, vstore.Replace(), vstore.Action(action))
	return true
}

// CanUndo reports whether Undo would change the state.
func (h *History[T]) CanUndo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.past) > 0
}

// CanRedo reports whether Redo would change the state.
func (h *History[T]) CanRedo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.future) > 0
}

// Past returns the recorded states, oldest first.
func (h *History[T]) Past() []Entry[T] {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.past)
}

// Future returns the undone states, the one Redo would restore first.
func (h *History[T]) Future() []Entry[T] {
	h.mu.Lock()
	defer h.mu.Unlock()
	future := slices.Clone(h.future)
	slices.Reverse(future)
	return future
}

// Clear forgets all recorded states.
func (h *History[T]) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.past = nil
	h.future = nil
}
