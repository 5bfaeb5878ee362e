// Package broadcast is an in-process pub/sub hub with named channels.
//
// A message posted on a Channel is delivered to every other open Channel with
// the same name, never back to the sender. Stores in one process use it as
// the transport for tabsync.
package broadcast

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned when posting on a closed channel.
var ErrClosed = errors.New("broadcast: channel closed")

// Handler receives the payload of a message.
type Handler func(data []byte)

// PanicHandler is called when a handler panics.
type PanicHandler func(name string, data []byte, panicValue any)

// Option configures how a channel runs its handlers.
type Option func(*Channel)

// Async runs handlers in their own goroutine.
// If sequential is true, messages are processed one at a time (no concurrency).
func Async(sequential bool) Option {
	return func(c *Channel) {
		c.async = true
		c.sequential = sequential
	}
}

// Hub connects channels by name.
type Hub struct {
	channels     map[string][]*Channel
	panicHandler PanicHandler
	mu           sync.RWMutex
	wg           sync.WaitGroup
}

// New creates a new Hub.
func New() *Hub {
	return &Hub{
		channels: make(map[string][]*Channel),
	}
}

// Open joins the channel called name.
func (h *Hub) Open(name string, opts ...Option) *Channel {
	c := &Channel{hub: h, name: name}
	for _, opt := range opts {
		opt(c)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.channels[name] = append(h.channels[name], c)
	return c
}

// HasSubscribers returns true if any open channel called name has a handler.
func (h *Hub) HasSubscribers(name string) bool {
	h.mu.RLock()
	channels := slices.Clone(h.channels[name])
	h.mu.RUnlock()

	for _, c := range channels {
		if c.handlerCount() > 0 {
			return true
		}
	}
	return false
}

// WaitAsync waits for all async handlers to complete.
func (h *Hub) WaitAsync() {
	h.wg.Wait()
}

// Clear closes every channel called name.
func (h *Hub) Clear(name string) {
	h.mu.Lock()
	channels := h.channels[name]
	delete(h.channels, name)
	h.mu.Unlock()

	for _, c := range channels {
		c.shutdown()
	}
}

// ClearAll closes all channels.
func (h *Hub) ClearAll() {
	h.mu.Lock()
	all := h.channels
	h.channels = make(map[string][]*Channel)
	h.mu.Unlock()

	for _, channels := range all {
		for _, c := range channels {
			c.shutdown()
		}
	}
}

// SetPanicHandler sets a function to be called when a handler panics.
func (h *Hub) SetPanicHandler(handler PanicHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.panicHandler = handler
}

func (h *Hub) peers(c *Channel) []*Channel {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []*Channel
	for _, other := range h.channels[c.name] {
		if other != c {
			out = append(out, other)
		}
	}
	return out
}

func (h *Hub) remove(c *Channel) {
	h.mu.Lock()
	defer h.mu.Unlock()

	channels := h.channels[c.name]
	for i, other := range channels {
		if other == c {
			h.channels[c.name] = append(channels[:i:i], channels[i+1:]...)
			break
		}
	}
	if len(h.channels[c.name]) == 0 {
		delete(h.channels, c.name)
	}
}

func (h *Hub) getPanicHandler() PanicHandler {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.panicHandler
}

// Channel is one participant of a named channel.
type Channel struct {
	hub        *Hub
	name       string
	async      bool
	sequential bool

	mu       sync.Mutex
	seqMu    sync.Mutex
	handlers []*subscription
	closed   atomic.Bool
}

// subscription wraps a handler with metadata.
type subscription struct {
	fn       Handler
	once     bool
	executed int32 // For once handlers, atomically tracks if executed
}

// Name returns the channel name.
func (c *Channel) Name() string {
	return c.name
}

// Subscribe registers a handler for messages posted by other channels.
func (c *Channel) Subscribe(handler func(data []byte)) func() {
	return c.subscribe(&subscription{fn: handler})
}

// SubscribeOnce registers a handler that is called for one message only.
func (c *Channel) SubscribeOnce(handler func(data []byte)) func() {
	return c.subscribe(&subscription{fn: handler, once: true})
}

func (c *Channel) subscribe(s *subscription) func() {
	c.mu.Lock()
	c.handlers = append(c.handlers, s)
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { c.unsubscribe(s) })
	}
}

func (c *Channel) unsubscribe(s *subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, existing := range c.handlers {
		if existing == s {
			c.handlers = append(c.handlers[:i:i], c.handlers[i+1:]...)
			return
		}
	}
}

func (c *Channel) handlerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handlers)
}

// Post sends data to every other channel with the same name. Delivery stops
// when ctx is cancelled.
func (c *Channel) Post(ctx context.Context, data []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}

	payload := slices.Clone(data)
	for _, peer := range c.hub.peers(c) {
		if err := ctx.Err(); err != nil {
			return err
		}
		peer.deliver(ctx, payload)
	}
	return nil
}

func (c *Channel) deliver(ctx context.Context, data []byte) {
	c.mu.Lock()
	handlers := slices.Clone(c.handlers)
	c.mu.Unlock()

	panicHandler := c.hub.getPanicHandler()

	for _, s := range handlers {
		if ctx.Err() != nil {
			break
		}

		if s.once {
			if !atomic.CompareAndSwapInt32(&s.executed, 0, 1) {
				continue
			}
			c.unsubscribe(s)
		}

		if c.async {
			c.hub.wg.Add(1)
			go func(s *subscription, capturedCtx context.Context) {
				defer c.hub.wg.Done()
				if c.sequential {
					c.seqMu.Lock()
					defer c.seqMu.Unlock()
				}
				if capturedCtx.Err() != nil {
					return
				}
				c.call(s, data, panicHandler)
			}(s, ctx)
		} else {
			c.call(s, data, panicHandler)
		}
	}
}

func (c *Channel) call(s *subscription, data []byte, panicHandler PanicHandler) {
	defer func() {
		if r := recover(); r != nil {
			if panicHandler != nil {
				panicHandler(c.name, data, r)
			}
		}
	}()
	s.fn(data)
}

// Close leaves the channel. Further posts fail with ErrClosed.
func (c *Channel) Close() error {
	if c.closed.Load() {
		return nil
	}
	c.hub.remove(c)
	c.shutdown()
	return nil
}

func (c *Channel) shutdown() {
	c.closed.Store(true)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = nil
}
