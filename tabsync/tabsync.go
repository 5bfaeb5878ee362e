// Package tabsync keeps selected fields of stores in sync across instances,
// such as several stores in one process or processes joined by a shared
// channel.
//
// Each committed transition posts the changed fields as a delta. Incoming
// deltas are merged into the local state without being posted again, so two
// stores on one channel never echo each other.
package tabsync

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/jilio/vstore"
	"github.com/jilio/vstore/internal/fields"
)

// ActionApply labels transitions applied from remote deltas.
const ActionApply = "tabsync/apply"

// Channel is the transport between instances. A message posted on a channel
// is delivered to the other participants. broadcast.Channel implements it.
type Channel interface {
	Post(ctx context.Context, data []byte) error
	Subscribe(handler func(data []byte)) (unsubscribe func())
	Close() error
}

// Message is the wire form of a delta. Removed lists fields the sender no
// longer holds, such as deleted map keys or cleared omitempty fields.
type Message struct {
	Source  string         `json:"source"`
	Delta   map[string]any `json:"delta"`
	Removed []string       `json:"removed,omitempty"`
}

// Sync is the handle of a sync middleware.
type Sync[T any] struct {
	channel Channel
	cfg     *config
	id      string

	mu          sync.Mutex
	api         *vstore.API[T]
	unsubscribe func()
}

// New creates a sync handle posting on channel.
func New[T any](channel Channel, opts ...Option) *Sync[T] {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return &Sync[T]{
		channel: channel,
		cfg:     cfg,
		id:      uuid.NewString(),
	}
}

// ID identifies this instance in posted messages.
func (s *Sync[T]) ID() string {
	return s.id
}

func (s *Sync[T]) logger() *slog.Logger {
	if s.cfg.logger != nil {
		return s.cfg.logger
	}
	return slog.Default()
}

// Middleware posts changed fields after every transition and applies deltas
// received from other instances.
func (s *Sync[T]) Middleware(next vstore.Initializer[T]) vstore.Initializer[T] {
	return func(set vstore.Setter[T], get vstore.Getter[T], api *vstore.API[T]) T {
		if s.channel == nil {
			s.logger().Warn("tabsync: no channel, state will not be shared")
			return next(set, get, api)
		}

		syncing := func(delegate vstore.Setter[T]) vstore.Setter[T] {
			return func(fn func(T) T, opts ...vstore.SetOption) {
				before := get()
				delegate(fn, opts...)
				after := get()
				if vstore.Is(before, after) || vstore.ResolveSetOptions(opts).Action == ActionApply {
					return
				}
				s.publish(before, after)
			}
		}

		api.SetState = syncing(api.SetState)
		initial := next(syncing(set), get, api)

		unsubscribe := s.channel.Subscribe(s.receive)
		s.mu.Lock()
		s.api = api
		s.unsubscribe = unsubscribe
		s.mu.Unlock()

		return initial
	}
}

func (s *Sync[T]) publish(before, after T) {
	prev, _, err := fields.Object(before)
	if err != nil {
		s.report(fmt.Errorf("tabsync: encode previous state: %w", err))
		return
	}
	next, ok, err := fields.Object(after)
	if err != nil {
		s.report(fmt.Errorf("tabsync: encode state: %w", err))
		return
	}
	if !ok {
		s.report(fmt.Errorf("tabsync: state %T is not an object", after))
		return
	}

	delta := fields.Changed(prev, next, s.cfg.fields...)
	removed := fields.Removed(prev, next, s.cfg.fields...)
	if len(delta) == 0 && len(removed) == 0 {
		return
	}

	data, err := json.Marshal(Message{Source: s.id, Delta: delta, Removed: removed})
	if err != nil {
		s.report(fmt.Errorf("tabsync: encode message: %w", err))
		return
	}
	if err := s.channel.Post(s.cfg.ctx, data); err != nil {
		s.report(fmt.Errorf("tabsync: post: %w", err))
	}
}

func (s *Sync[T]) receive(data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		s.report(fmt.Errorf("tabsync: decode message: %w", err))
		return
	}
	if msg.Source == s.id {
		return
	}

	delta, removed := msg.Delta, msg.Removed
	if len(s.cfg.fields) > 0 {
		delta = fields.Pick(delta, s.cfg.fields...)
		removed = slices.DeleteFunc(slices.Clone(removed), func(k string) bool {
			return !slices.Contains(s.cfg.fields, k)
		})
	}
	if len(delta) == 0 && len(removed) == 0 {
		return
	}

	s.mu.Lock()
	api := s.api
	s.mu.Unlock()
	if api == nil {
		return
	}
	api.SetState(func(current T) T {
		next, err := fields.Overlay(current, delta, removed...)
		if err != nil {
			s.report(fmt.Errorf("tabsync: apply delta from %s: %w", msg.Source, err))
			return current
		}
		return next
	}, vstore.Replace(), vstore.Action(ActionApply))
}

func (s *Sync[T]) report(err error) {
	if s.cfg.onError != nil {
		s.cfg.onError(err)
	}
	s.logger().Error("tabsync: sync failed", "id", s.id, "error", err)
}

// Close stops receiving deltas and closes the channel.
func (s *Sync[T]) Close() error {
	s.mu.Lock()
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.api = nil
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if s.channel == nil {
		return nil
	}
	return s.channel.Close()
}
