package persist

import (
	"context"
	"log/slog"
	"time"

	"github.com/jilio/vstore/codec"
	"github.com/jilio/vstore/internal/fields"
)

// Observer is notified about storage operations, for metrics and tracing.
type Observer interface {
	OnWriteStart(ctx context.Context, name string) context.Context
	OnWriteComplete(ctx context.Context, duration time.Duration, err error)
	OnHydrateStart(ctx context.Context, name string) context.Context
	OnHydrateComplete(ctx context.Context, duration time.Duration, err error)
}

// MergeFunc combines the persisted (and possibly migrated) state with the
// current in-memory state.
type MergeFunc[T any] func(persisted any, current T) (T, error)

// Options holds the persistence configuration.
type Options[T any] struct {
	// Name is the storage key. Required.
	Name string
	// Storage resolves the backend. A nil result or an error disables
	// persistence.
	Storage StorageFunc
	// Codec serializes storage values. Defaults to codec.JSON.
	Codec codec.Codec
	// Partialize selects what gets persisted. Defaults to the whole state.
	Partialize func(state T) any
	// Version is written with every value and compared on rehydration.
	Version int
	// Migrate converts state persisted at another version.
	Migrate MigrateFunc
	// Migrator is used when Migrate is nil; it migrates up to Version.
	Migrator *Migrator
	// Merge combines persisted and current state. Defaults to overlaying the
	// persisted top-level fields on the current state.
	Merge MergeFunc[T]
	// OnRehydrateStorage runs before every rehydration with the current state.
	// The returned callback, if any, runs after it with the hydrated state or
	// the error that stopped it.
	OnRehydrateStorage func(state T) func(state T, err error)
	// OnError receives rehydration and write errors.
	OnError func(err error)
	// SkipHydration disables rehydration at construction.
	SkipHydration bool
	// Logger receives warnings. Defaults to slog.Default().
	Logger *slog.Logger
	// Observer receives timing of storage operations.
	Observer Observer
}

// Option configures persistence.
type Option[T any] func(*Options[T])

func defaultOptions[T any]() Options[T] {
	return Options[T]{
		Codec: codec.JSON,
		Merge: func(persisted any, current T) (T, error) {
			return fields.Overlay(current, persisted)
		},
	}
}

// WithName sets the storage key.
func WithName[T any](name string) Option[T] {
	return func(o *Options[T]) {
		o.Name = name
	}
}

// WithStorage uses a fixed storage backend.
func WithStorage[T any](storage StateStorage) Option[T] {
	return func(o *Options[T]) {
		if storage == nil {
			o.Storage = nil
			return
		}
		o.Storage = func() (StateStorage, error) { return storage, nil }
	}
}

// WithStorageFunc resolves the backend when the store is created.
func WithStorageFunc[T any](fn StorageFunc) Option[T] {
	return func(o *Options[T]) {
		o.Storage = fn
	}
}

// WithCodec sets the serializer.
func WithCodec[T any](c codec.Codec) Option[T] {
	return func(o *Options[T]) {
		if c != nil {
			o.Codec = c
		}
	}
}

// WithPartialize persists only what fn returns.
func WithPartialize[T any](fn func(state T) any) Option[T] {
	return func(o *Options[T]) {
		o.Partialize = fn
	}
}

// WithPick persists only the given top-level fields, by their JSON names.
func WithPick[T any](keys ...string) Option[T] {
	return WithPartialize(func(state T) any {
		m, ok, err := fields.Object(state)
		if err != nil || !ok {
			return state
		}
		return fields.Pick(m, keys...)
	})
}

// WithOmit persists every top-level field except the given ones.
func WithOmit[T any](keys ...string) Option[T] {
	return WithPartialize(func(state T) any {
		m, ok, err := fields.Object(state)
		if err != nil || !ok {
			return state
		}
		return fields.Omit(m, keys...)
	})
}

// WithVersion sets the persisted state version.
func WithVersion[T any](version int) Option[T] {
	return func(o *Options[T]) {
		o.Version = version
	}
}

// WithMigrate sets the migration used when the stored version differs.
func WithMigrate[T any](fn MigrateFunc) Option[T] {
	return func(o *Options[T]) {
		o.Migrate = fn
	}
}

// WithMigrator migrates through m's registered steps up to the configured
// version.
func WithMigrator[T any](m *Migrator) Option[T] {
	return func(o *Options[T]) {
		o.Migrator = m
	}
}

// WithMerge sets how persisted state combines with the current state.
func WithMerge[T any](fn MergeFunc[T]) Option[T] {
	return func(o *Options[T]) {
		if fn != nil {
			o.Merge = fn
		}
	}
}

// WithOnRehydrateStorage sets the rehydration lifecycle hook.
func WithOnRehydrateStorage[T any](fn func(state T) func(state T, err error)) Option[T] {
	return func(o *Options[T]) {
		o.OnRehydrateStorage = fn
	}
}

// WithOnError sets the error hook.
func WithOnError[T any](fn func(err error)) Option[T] {
	return func(o *Options[T]) {
		o.OnError = fn
	}
}

// WithSkipHydration leaves rehydration to an explicit Rehydrate call.
func WithSkipHydration[T any]() Option[T] {
	return func(o *Options[T]) {
		o.SkipHydration = true
	}
}

// WithLogger sets the logger.
func WithLogger[T any](logger *slog.Logger) Option[T] {
	return func(o *Options[T]) {
		o.Logger = logger
	}
}

// WithObserver sets the storage observer.
func WithObserver[T any](obs Observer) Option[T] {
	return func(o *Options[T]) {
		o.Observer = obs
	}
}
