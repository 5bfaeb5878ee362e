// Package devtools mirrors store transitions to an external inspection tool
// and applies the tool's time-travel commands back to the store.
//
// The tool is reached through an Extension. When none is configured, or
// connecting fails, the middleware stays Disconnected and the store behaves
// as if it was not there.
package devtools

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/jilio/vstore"
	"github.com/jilio/vstore/internal/fields"
)

// Extension connects stores to an inspection tool.
type Extension interface {
	Connect(opts ConnectOptions) (Connection, error)
}

// ConnectOptions identify the connecting store.
type ConnectOptions struct {
	Name       string
	InstanceID string
}

// Connection is one store's channel to the inspection tool.
type Connection interface {
	// Init resets the tool's history to state.
	Init(state any) error
	// Send records a transition. A nil action forwards a lifted state.
	Send(action *Action, state any) error
	// Subscribe registers a handler for messages from the tool.
	Subscribe(handler func(Message)) (unsubscribe func())
	Close() error
}

// ActionReplay labels transitions dispatched by the tool, such as jumps and
// imports.
const ActionReplay = "devtools/replay"

// Status is the connection state of a store.
type Status int

const (
	Disconnected Status = iota
	Connected
	RecordingPaused
)

func (s Status) String() string {
	switch s {
	case Connected:
		return "connected"
	case RecordingPaused:
		return "recording-paused"
	default:
		return "disconnected"
	}
}

// Devtools is the handle of a devtools middleware.
type Devtools[T any] struct {
	ext Extension
	cfg *config

	mu          sync.Mutex
	conn        Connection
	api         *vstore.API[T]
	recording   bool
	instanceID  string
	unsubscribe func()
}

// New creates the middleware handle. ext may be nil.
func New[T any](ext Extension, opts ...Option) *Devtools[T] {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return &Devtools[T]{
		ext:        ext,
		cfg:        cfg,
		instanceID: uuid.NewString(),
	}
}

func (d *Devtools[T]) logger() *slog.Logger {
	if d.cfg.logger != nil {
		return d.cfg.logger
	}
	return slog.Default()
}

// Middleware connects to the extension and mirrors every transition made
// through the setter and api.SetState.
func (d *Devtools[T]) Middleware(next vstore.Initializer[T]) vstore.Initializer[T] {
	return func(set vstore.Setter[T], get vstore.Getter[T], api *vstore.API[T]) T {
		if !d.cfg.enabled || d.ext == nil {
			return next(set, get, api)
		}

		conn, err := d.ext.Connect(ConnectOptions{Name: d.cfg.name, InstanceID: d.instanceID})
		if err != nil || conn == nil {
			d.logger().Warn("devtools: extension unavailable, transitions will not be mirrored",
				"name", d.cfg.name, "error", err)
			return next(set, get, api)
		}

		d.mu.Lock()
		d.conn = conn
		d.api = api
		d.recording = true
		d.mu.Unlock()

		mirroring := func(fn func(T) T, opts ...vstore.SetOption) {
			set(fn, opts...)
			d.record(vstore.ResolveSetOptions(opts), get())
		}
		api.SetState = mirroring

		initial := next(mirroring, get, api)
		d.send(conn.Init(initial))

		unsubscribe := conn.Subscribe(d.handle)
		d.mu.Lock()
		d.unsubscribe = unsubscribe
		d.mu.Unlock()

		return initial
	}
}

func (d *Devtools[T]) record(o vstore.SetOptions, state T) {
	d.mu.Lock()
	conn, recording := d.conn, d.recording
	d.mu.Unlock()
	if conn == nil || !recording || o.Action == ActionReplay {
		return
	}

	label := o.Action
	if label == "" {
		label = d.cfg.anonymousActionType
	}
	d.send(conn.Send(&Action{Type: label, Payload: o.Payload}, state))
}

func (d *Devtools[T]) send(err error) {
	if err != nil {
		d.report(fmt.Errorf("devtools: send: %w", err))
	}
}

func (d *Devtools[T]) report(err error) {
	if d.cfg.onError != nil {
		d.cfg.onError(err)
	}
	d.logger().Error("devtools: message failed", "name", d.cfg.name, "error", err)
}

// Status reports the connection state.
func (d *Devtools[T]) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch {
	case d.conn == nil:
		return Disconnected
	case !d.recording:
		return RecordingPaused
	default:
		return Connected
	}
}

// InstanceID identifies this store to the extension.
func (d *Devtools[T]) InstanceID() string {
	return d.instanceID
}

// Close stops listening to the tool and closes the connection. The store
// keeps working and stays Disconnected.
func (d *Devtools[T]) Close() error {
	d.mu.Lock()
	conn, unsubscribe := d.conn, d.unsubscribe
	d.conn, d.unsubscribe = nil, nil
	d.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// handle applies one message from the tool.
func (d *Devtools[T]) handle(msg Message) {
	d.mu.Lock()
	conn, api := d.conn, d.api
	d.mu.Unlock()
	if conn == nil || api == nil {
		return
	}

	switch msg.Type {
	case MessageAction:
		d.handleAction(api, msg)
	case MessageDispatch:
		d.handleDispatch(conn, api, msg)
	}
}

func (d *Devtools[T]) handleAction(api *vstore.API[T], msg Message) {
	raw, err := msg.actionJSON()
	if err != nil {
		d.report(err)
		return
	}

	var action struct {
		Type  string          `json:"type"`
		State json.RawMessage `json:"state"`
	}
	if err := json.Unmarshal(raw, &action); err != nil {
		d.report(fmt.Errorf("devtools: decode action: %w", err))
		return
	}

	if action.Type == setStateAction {
		if len(action.State) == 0 {
			d.report(fmt.Errorf("devtools: %s action without state", setStateAction))
			return
		}
		next, err := d.overlay(api.GetState(), action.State)
		if err != nil {
			d.report(err)
			return
		}
		api.SetState(func(T) T { return next }, vstore.Replace(), vstore.Action(setStateAction))
		return
	}

	dispatcher := api.Dispatcher
	if dispatcher == nil || !dispatcher.AcceptsExternalDispatch() {
		return
	}
	if err := dispatcher.DispatchJSON(raw); err != nil {
		d.report(fmt.Errorf("devtools: dispatch action: %w", err))
	}
}

func (d *Devtools[T]) handleDispatch(conn Connection, api *vstore.API[T], msg Message) {
	payload, err := msg.dispatchPayload()
	if err != nil {
		d.report(err)
		return
	}

	switch payload.Type {
	case DispatchReset:
		d.replay(api, func(T) T { return api.GetInitialState() })
		d.send(conn.Init(api.GetState()))

	case DispatchCommit:
		d.send(conn.Init(api.GetState()))

	case DispatchRollback:
		if d.jump(api, msg.State) {
			d.send(conn.Init(api.GetState()))
		}

	case DispatchJumpToState, DispatchJumpToAction:
		d.jump(api, msg.State)

	case DispatchImportState:
		lifted := payload.NextLiftedState
		if lifted == nil || len(lifted.ComputedStates) == 0 {
			return
		}
		last := lifted.ComputedStates[len(lifted.ComputedStates)-1].State
		next, err := d.overlay(api.GetState(), last)
		if err != nil {
			d.report(err)
			return
		}
		d.replay(api, func(T) T { return next })
		d.send(conn.Send(nil, lifted))

	case DispatchPauseRecording:
		d.mu.Lock()
		d.recording = !d.recording
		d.mu.Unlock()
	}
}

// jump replaces the state with the serialized one, merged over the current
// state. It reports whether the state could be decoded.
func (d *Devtools[T]) jump(api *vstore.API[T], serialized string) bool {
	next, err := d.overlay(api.GetState(), json.RawMessage(serialized))
	if err != nil {
		d.report(err)
		return false
	}
	d.replay(api, func(T) T { return next })
	return true
}

func (d *Devtools[T]) overlay(current T, raw json.RawMessage) (T, error) {
	var patch any
	if err := json.Unmarshal(raw, &patch); err != nil {
		var zero T
		return zero, fmt.Errorf("devtools: decode state: %w", err)
	}
	next, err := fields.Overlay(current, patch)
	if err != nil {
		return next, fmt.Errorf("devtools: merge state: %w", err)
	}
	return next, nil
}

// replay sets state coming from the tool. Transitions labelled ActionReplay
// are not mirrored back.
func (d *Devtools[T]) replay(api *vstore.API[T], fn func(T) T) {
	api.SetState(fn, vstore.Replace(), vstore.Action(ActionReplay))
}
