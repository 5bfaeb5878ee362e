package persist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jilio/vstore"
	"github.com/jilio/vstore/codec"
	"github.com/jilio/vstore/internal/fields"
)

var (
	// ErrNoName is returned by New when no storage name was configured.
	ErrNoName = errors.New("persist: name is required")
	// ErrStorageUnavailable is returned by operations on a store whose
	// storage could not be resolved.
	ErrStorageUnavailable = errors.New("persist: storage unavailable")
	// ErrVersionMismatch is reported when the stored version differs from the
	// configured one and no migration is configured.
	ErrVersionMismatch = errors.New("persist: stored version does not match and no migrate function was provided")
	// ErrNotAttached is returned when the handle was never used as middleware.
	ErrNotAttached = errors.New("persist: middleware is not attached to a store")
)

// Persist round-trips a store's state through a StateStorage.
//
// Every committed transition queues a write of the partialized state. Writes
// run in the background and only the newest queued state is guaranteed to be
// written; Flush waits for them and reports their errors. Rehydration runs
// once when the store is created unless WithSkipHydration was given.
type Persist[T any] struct {
	mu   sync.RWMutex
	opts Options[T]

	storage  StateStorage
	attached bool
	ready    bool
	set      vstore.Setter[T]
	get      vstore.Getter[T]

	hydrated           bool
	hydrationListeners []*hook[T]
	finishListeners    []*hook[T]

	writes writeQueue
}

type hook[T any] struct {
	fn func(state T)
}

// New creates a persistence handle. Attach it with Middleware.
func New[T any](opts ...Option[T]) (*Persist[T], error) {
	p := &Persist[T]{opts: defaultOptions[T]()}
	for _, opt := range opts {
		opt(&p.opts)
	}
	if p.opts.Name == "" {
		return nil, ErrNoName
	}
	return p, nil
}

func (p *Persist[T]) logger() *slog.Logger {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.opts.Logger != nil {
		return p.opts.Logger
	}
	return slog.Default()
}

func (p *Persist[T]) options() Options[T] {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.opts
}

// Middleware wraps an initializer with persistence. Transitions are
// committed first and written afterwards.
func (p *Persist[T]) Middleware(next vstore.Initializer[T]) vstore.Initializer[T] {
	return func(set vstore.Setter[T], get vstore.Getter[T], api *vstore.API[T]) T {
		opts := p.options()
		storage := resolveStorage(opts.Storage)
		if storage == nil {
			p.mu.Lock()
			p.attached = true
			p.mu.Unlock()

			log := p.logger()
			log.Warn("persist: storage unavailable, state will stay in memory", "name", opts.Name)

			warnSet := func(fn func(T) T, setOpts ...vstore.SetOption) {
				log.Warn("persist: unable to update item, storage unavailable", "name", opts.Name)
				set(fn, setOpts...)
			}
			return next(warnSet, get, api)
		}

		p.mu.Lock()
		p.storage = storage
		p.attached = true
		p.set = set
		p.get = get
		p.mu.Unlock()

		persistingSet := func(fn func(T) T, setOpts ...vstore.SetOption) {
			before := get()
			set(fn, setOpts...)
			if after := get(); p.isReady() && !vstore.Is(before, after) {
				p.enqueueWrite(after)
			}
		}

		savedSetState := api.SetState
		api.SetState = func(fn func(T) T, setOpts ...vstore.SetOption) {
			before := get()
			savedSetState(fn, setOpts...)
			if after := get(); p.isReady() && !vstore.Is(before, after) {
				p.enqueueWrite(after)
			}
		}

		initial := next(persistingSet, get, api)

		p.mu.Lock()
		p.ready = true
		p.mu.Unlock()

		if opts.SkipHydration {
			return initial
		}

		state, err := p.hydrate(context.Background(), initial, false)
		if err != nil {
			return initial
		}
		return state
	}
}

func resolveStorage(fn StorageFunc) StateStorage {
	if fn == nil {
		return nil
	}
	storage, err := fn()
	if err != nil {
		return nil
	}
	return storage
}

func (p *Persist[T]) isReady() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.ready
}

// Rehydrate reads the stored state and merges it into the store.
func (p *Persist[T]) Rehydrate(ctx context.Context) error {
	p.mu.RLock()
	attached, storage, get := p.attached, p.storage, p.get
	p.mu.RUnlock()
	if !attached {
		return ErrNotAttached
	}
	if storage == nil {
		return ErrStorageUnavailable
	}

	_, err := p.hydrate(ctx, get(), true)
	return err
}

// hydrate runs the read path. During construction the hydrated state is
// returned to become the initial state; afterwards it is committed through
// the setter the middleware received.
func (p *Persist[T]) hydrate(ctx context.Context, current T, commit bool) (result T, err error) {
	opts := p.options()

	p.mu.Lock()
	p.hydrated = false
	hydrationListeners := copyHooks(p.hydrationListeners)
	storage, set := p.storage, p.set
	p.mu.Unlock()

	for _, h := range hydrationListeners {
		h.fn(current)
	}

	var post func(state T, err error)
	if opts.OnRehydrateStorage != nil {
		post = opts.OnRehydrateStorage(current)
	}

	start := time.Now()
	if opts.Observer != nil {
		ctx = opts.Observer.OnHydrateStart(ctx, opts.Name)
	}
	defer func() {
		if opts.Observer != nil {
			opts.Observer.OnHydrateComplete(ctx, time.Since(start), err)
		}
	}()

	fail := func(cause error) (T, error) {
		p.reportError(opts, cause)
		if post != nil {
			var zero T
			post(zero, cause)
		}
		return current, cause
	}

	raw, found, err := storage.GetItem(ctx, opts.Name)
	if err != nil {
		return fail(fmt.Errorf("persist: read %q: %w", opts.Name, err))
	}

	state := current
	migrated := false
	if found {
		stored, err := opts.Codec.Unmarshal(raw)
		if err != nil {
			return fail(fmt.Errorf("persist: deserialize %q: %w", opts.Name, err))
		}

		persisted := stored.State
		if stored.Version != opts.Version {
			migrate := opts.Migrate
			if migrate == nil && opts.Migrator != nil {
				m, target := opts.Migrator, opts.Version
				migrate = func(s any, v int) (any, error) { return m.Migrate(s, v, target) }
			}
			if migrate == nil {
				return fail(fmt.Errorf("%w (stored %d, want %d)", ErrVersionMismatch, stored.Version, opts.Version))
			}

			persisted, err = migrate(stored.State, stored.Version)
			if err != nil {
				return fail(fmt.Errorf("persist: migrate %q from version %d: %w", opts.Name, stored.Version, err))
			}
			migrated = true
		}

		state, err = opts.Merge(persisted, current)
		if err != nil {
			return fail(fmt.Errorf("persist: merge %q: %w", opts.Name, err))
		}
	}

	if commit && found {
		set(func(T) T { return state }, vstore.Replace(), vstore.Action("persist/rehydrate"))
	}
	if migrated {
		p.enqueueWrite(state)
	}

	p.mu.Lock()
	p.hydrated = true
	finishListeners := copyHooks(p.finishListeners)
	p.mu.Unlock()

	if post != nil {
		post(state, nil)
	}
	for _, h := range finishListeners {
		h.fn(state)
	}
	return state, nil
}

func (p *Persist[T]) reportError(opts Options[T], err error) {
	if opts.OnError != nil {
		opts.OnError(err)
	}
	p.logger().Error("persist: operation failed", "name", opts.Name, "error", err)
}

func copyHooks[T any](hooks []*hook[T]) []*hook[T] {
	out := make([]*hook[T], len(hooks))
	copy(out, hooks)
	return out
}

// HasHydrated reports whether the last rehydration finished successfully.
func (p *Persist[T]) HasHydrated() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.hydrated
}

// OnHydrate registers a listener called when rehydration starts.
func (p *Persist[T]) OnHydrate(fn func(state T)) vstore.Unsubscribe {
	return p.addHook(&p.hydrationListeners, fn)
}

// OnFinishHydration registers a listener called when rehydration succeeds.
func (p *Persist[T]) OnFinishHydration(fn func(state T)) vstore.Unsubscribe {
	return p.addHook(&p.finishListeners, fn)
}

func (p *Persist[T]) addHook(list *[]*hook[T], fn func(state T)) vstore.Unsubscribe {
	h := &hook[T]{fn: fn}

	p.mu.Lock()
	*list = append(*list, h)
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			for i, existing := range *list {
				if existing == h {
					*list = append((*list)[:i:i], (*list)[i+1:]...)
					return
				}
			}
		})
	}
}

// ClearStorage removes the persisted item.
func (p *Persist[T]) ClearStorage(ctx context.Context) error {
	p.mu.RLock()
	storage, name := p.storage, p.opts.Name
	p.mu.RUnlock()
	if storage == nil {
		return ErrStorageUnavailable
	}
	if err := storage.RemoveItem(ctx, name); err != nil {
		return fmt.Errorf("persist: remove %q: %w", name, err)
	}
	return nil
}

// GetOptions returns a copy of the current options.
func (p *Persist[T]) GetOptions() Options[T] {
	return p.options()
}

// SetOptions applies opts on top of the current options. Changing the
// storage takes effect for the following reads and writes.
func (p *Persist[T]) SetOptions(opts ...Option[T]) {
	p.mu.Lock()
	defer p.mu.Unlock()

	next := p.opts
	for _, opt := range opts {
		opt(&next)
	}
	if next.Name == "" {
		next.Name = p.opts.Name
	}
	if next.Storage != nil && p.attached {
		if storage := resolveStorage(next.Storage); storage != nil {
			p.storage = storage
		}
	}
	p.opts = next
}

// Flush waits until every queued write has completed and returns the write
// errors collected since the previous Flush.
func (p *Persist[T]) Flush(ctx context.Context) error {
	return p.writes.flush(ctx)
}

func (p *Persist[T]) enqueueWrite(state T) {
	p.writes.enqueue(func(ctx context.Context) error {
		return p.write(ctx, state)
	})
}

func (p *Persist[T]) write(ctx context.Context, state T) (err error) {
	opts := p.options()
	p.mu.RLock()
	storage := p.storage
	p.mu.RUnlock()

	start := time.Now()
	if opts.Observer != nil {
		ctx = opts.Observer.OnWriteStart(ctx, opts.Name)
	}
	defer func() {
		if opts.Observer != nil {
			opts.Observer.OnWriteComplete(ctx, time.Since(start), err)
		}
		if err != nil {
			p.reportError(opts, err)
		}
	}()

	var selected any = state
	if opts.Partialize != nil {
		selected = opts.Partialize(state)
	}
	generic, err := fields.Decode(selected)
	if err != nil {
		return fmt.Errorf("persist: encode %q: %w", opts.Name, err)
	}

	text, err := opts.Codec.Marshal(codec.StorageValue{State: generic, Version: opts.Version})
	if err != nil {
		return fmt.Errorf("persist: serialize %q: %w", opts.Name, err)
	}

	if err := storage.SetItem(ctx, opts.Name, text); err != nil {
		return fmt.Errorf("persist: write %q: %w", opts.Name, err)
	}
	return nil
}
