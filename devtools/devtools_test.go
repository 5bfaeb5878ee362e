package devtools

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/jilio/vstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counter struct {
	Count int    `json:"count"`
	Label string `json:"label,omitempty"`
}

type sent struct {
	action *Action
	state  any
}

type fakeConnection struct {
	mu       sync.Mutex
	inits    []any
	sent     []sent
	handlers []func(Message)
	closed   bool
}

func (c *fakeConnection) Init(state any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inits = append(c.inits, state)
	return nil
}

func (c *fakeConnection) Send(action *Action, state any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, sent{action: action, state: state})
	return nil
}

func (c *fakeConnection) Subscribe(handler func(Message)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, handler)
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.handlers = nil
	}
}

func (c *fakeConnection) Close() error {
	c.closed = true
	return nil
}

func (c *fakeConnection) emit(msg Message) {
	c.mu.Lock()
	handlers := append([]func(Message){}, c.handlers...)
	c.mu.Unlock()
	for _, h := range handlers {
		h(msg)
	}
}

func (c *fakeConnection) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

type fakeExtension struct {
	conn *fakeConnection
	err  error
	opts ConnectOptions
}

func (e *fakeExtension) Connect(opts ConnectOptions) (Connection, error) {
	e.opts = opts
	if e.err != nil {
		return nil, e.err
	}
	return e.conn, nil
}

func newCounter(t *testing.T, opts ...Option) (*vstore.Store[counter], *Devtools[counter], *fakeConnection) {
	t.Helper()
	conn := &fakeConnection{}
	d := New[counter](&fakeExtension{conn: conn}, opts...)
	store := vstore.Of(counter{Count: 1}, vstore.WithMiddleware(d.Middleware))
	return store, d, conn
}

func dispatch(t *testing.T, payload DispatchPayload, state string) Message {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return Message{Type: MessageDispatch, Payload: raw, State: state}
}

func TestMirrorsTransitions(t *testing.T) {
	store, d, conn := newCounter(t, WithName("counter"))
	assert.Equal(t, Connected, d.Status())
	require.Len(t, conn.inits, 1)
	assert.Equal(t, counter{Count: 1}, conn.inits[0])

	store.SetState(counter{Count: 2}, vstore.Action("increment"), vstore.ActionPayload(1))
	store.SetState(counter{Count: 3})

	require.Len(t, conn.sent, 2)
	assert.Equal(t, &Action{Type: "increment", Payload: 1}, conn.sent[0].action)
	assert.Equal(t, counter{Count: 2}, conn.sent[0].state)
	assert.Equal(t, "anonymous", conn.sent[1].action.Type)
	assert.Equal(t, counter{Count: 3}, conn.sent[1].state)
}

func TestConnectOptions(t *testing.T) {
	ext := &fakeExtension{conn: &fakeConnection{}}
	d := New[counter](ext, WithName("prefs"))
	vstore.Of(counter{}, vstore.WithMiddleware(d.Middleware))

	assert.Equal(t, "prefs", ext.opts.Name)
	assert.Equal(t, d.InstanceID(), ext.opts.InstanceID)
	assert.NotEmpty(t, d.InstanceID())
}

func TestAnonymousActionType(t *testing.T) {
	store, _, conn := newCounter(t, WithAnonymousActionType("setState"))
	store.SetState(counter{Count: 2})
	require.Len(t, conn.sent, 1)
	assert.Equal(t, "setState", conn.sent[0].action.Type)
}

func TestDisconnected(t *testing.T) {
	t.Run("no extension", func(t *testing.T) {
		d := New[counter](nil)
		store := vstore.Of(counter{Count: 1}, vstore.WithMiddleware(d.Middleware))
		store.SetState(counter{Count: 2})
		assert.Equal(t, 2, store.GetState().Count)
		assert.Equal(t, Disconnected, d.Status())
	})

	t.Run("connect fails", func(t *testing.T) {
		d := New[counter](&fakeExtension{err: errors.New("no tool")})
		store := vstore.Of(counter{Count: 1}, vstore.WithMiddleware(d.Middleware))
		store.SetState(counter{Count: 2})
		assert.Equal(t, 2, store.GetState().Count)
		assert.Equal(t, Disconnected, d.Status())
	})

	t.Run("disabled", func(t *testing.T) {
		conn := &fakeConnection{}
		d := New[counter](&fakeExtension{conn: conn}, WithEnabled(false))
		store := vstore.Of(counter{Count: 1}, vstore.WithMiddleware(d.Middleware))
		store.SetState(counter{Count: 2})
		assert.Empty(t, conn.inits)
		assert.Empty(t, conn.sent)
	})
}

func TestPauseRecording(t *testing.T) {
	store, d, conn := newCounter(t)
	pause := dispatch(t, DispatchPayload{Type: DispatchPauseRecording}, "")

	conn.emit(pause)
	assert.Equal(t, RecordingPaused, d.Status())

	store.SetState(counter{Count: 2})
	store.SetState(counter{Count: 3})
	assert.Equal(t, 3, store.GetState().Count)
	assert.Equal(t, 0, conn.sentCount())

	conn.emit(pause)
	assert.Equal(t, Connected, d.Status())
	store.SetState(counter{Count: 4})
	assert.Equal(t, 1, conn.sentCount())
}

func TestJumpDoesNotEcho(t *testing.T) {
	for _, kind := range []string{DispatchJumpToState, DispatchJumpToAction} {
		t.Run(kind, func(t *testing.T) {
			store, _, conn := newCounter(t)
			store.SetState(counter{Count: 5, Label: "five"})
			require.Equal(t, 1, conn.sentCount())

			conn.emit(dispatch(t, DispatchPayload{Type: kind}, `{"count":2}`))
			assert.Equal(t, counter{Count: 2, Label: "five"}, store.GetState())
			assert.Equal(t, 1, conn.sentCount())
			assert.Len(t, conn.inits, 1)
		})
	}
}

func TestTransitionDuringJumpIsMirrored(t *testing.T) {
	store, _, conn := newCounter(t)
	store.SetState(counter{Count: 5})

	reacted := false
	store.Subscribe(func(state, prev counter) {
		if state.Count == 2 && !reacted {
			reacted = true
			store.SetState(counter{Label: "two"}, vstore.Action("label"))
		}
	})

	conn.emit(dispatch(t, DispatchPayload{Type: DispatchJumpToState}, `{"count":2}`))
	assert.Equal(t, counter{Count: 2, Label: "two"}, store.GetState())
	require.Equal(t, 2, conn.sentCount())
	assert.Equal(t, "label", conn.sent[1].action.Type)
	assert.Equal(t, counter{Count: 2, Label: "two"}, conn.sent[1].state)
}

func TestRollback(t *testing.T) {
	store, _, conn := newCounter(t)
	store.SetState(counter{Count: 5})

	conn.emit(dispatch(t, DispatchPayload{Type: DispatchRollback}, `{"count":3}`))
	assert.Equal(t, 3, store.GetState().Count)
	require.Len(t, conn.inits, 2)
	assert.Equal(t, counter{Count: 3}, conn.inits[1])
	assert.Equal(t, 1, conn.sentCount())
}

func TestResetAndCommit(t *testing.T) {
	store, _, conn := newCounter(t)
	store.SetState(counter{Count: 7})

	conn.emit(dispatch(t, DispatchPayload{Type: DispatchCommit}, ""))
	assert.Equal(t, 7, store.GetState().Count)
	require.Len(t, conn.inits, 2)
	assert.Equal(t, counter{Count: 7}, conn.inits[1])

	conn.emit(dispatch(t, DispatchPayload{Type: DispatchReset}, ""))
	assert.Equal(t, counter{Count: 1}, store.GetState())
	require.Len(t, conn.inits, 3)
	assert.Equal(t, counter{Count: 1}, conn.inits[2])
	assert.Equal(t, 1, conn.sentCount())
}

func TestImportState(t *testing.T) {
	store, _, conn := newCounter(t)
	lifted := &LiftedState{ComputedStates: []ComputedState{
		{State: json.RawMessage(`{"count":10}`)},
		{State: json.RawMessage(`{"count":11,"label":"last"}`)},
	}}

	conn.emit(dispatch(t, DispatchPayload{Type: DispatchImportState, NextLiftedState: lifted}, ""))
	assert.Equal(t, counter{Count: 11, Label: "last"}, store.GetState())

	require.Equal(t, 1, conn.sentCount())
	assert.Nil(t, conn.sent[0].action)
	assert.Equal(t, lifted.ComputedStates, conn.sent[0].state.(*LiftedState).ComputedStates)
}

func TestMalformedMessages(t *testing.T) {
	var errs []error
	store, _, conn := newCounter(t, WithOnError(func(err error) { errs = append(errs, err) }))

	conn.emit(dispatch(t, DispatchPayload{Type: DispatchJumpToState}, `{not json`))
	conn.emit(Message{Type: MessageAction, Payload: json.RawMessage(`"{broken"`)})
	conn.emit(Message{Type: MessageDispatch, Payload: json.RawMessage(`[]`)})

	assert.Len(t, errs, 3)
	assert.Equal(t, counter{Count: 1}, store.GetState())
}

func TestSetStateAction(t *testing.T) {
	store, _, conn := newCounter(t)
	conn.emit(Message{Type: MessageAction, Payload: json.RawMessage(`"{\"type\":\"__setState\",\"state\":{\"count\":9}}"`)})
	assert.Equal(t, 9, store.GetState().Count)
	require.Equal(t, 1, conn.sentCount())
	assert.Equal(t, "__setState", conn.sent[0].action.Type)
}

type fakeDispatcher struct {
	accept bool
	got    []string
}

func (f *fakeDispatcher) DispatchJSON(data []byte) error {
	f.got = append(f.got, string(data))
	return nil
}

func (f *fakeDispatcher) AcceptsExternalDispatch() bool { return f.accept }

func TestActionDispatch(t *testing.T) {
	withDispatcher := func(disp vstore.Dispatcher) vstore.Middleware[counter] {
		return func(next vstore.Initializer[counter]) vstore.Initializer[counter] {
			return func(set vstore.Setter[counter], get vstore.Getter[counter], api *vstore.API[counter]) counter {
				api.Dispatcher = disp
				return next(set, get, api)
			}
		}
	}

	t.Run("opted in", func(t *testing.T) {
		conn := &fakeConnection{}
		d := New[counter](&fakeExtension{conn: conn})
		disp := &fakeDispatcher{accept: true}
		vstore.Of(counter{}, vstore.WithMiddleware(d.Middleware, withDispatcher(disp)))

		conn.emit(Message{Type: MessageAction, Payload: json.RawMessage(`{"type":"increment"}`)})
		conn.emit(Message{Type: MessageAction, Payload: json.RawMessage(`"{\"type\":\"decrement\"}"`)})
		assert.Equal(t, []string{`{"type":"increment"}`, `{"type":"decrement"}`}, disp.got)
	})

	t.Run("not opted in", func(t *testing.T) {
		conn := &fakeConnection{}
		d := New[counter](&fakeExtension{conn: conn})
		disp := &fakeDispatcher{}
		vstore.Of(counter{}, vstore.WithMiddleware(d.Middleware, withDispatcher(disp)))

		conn.emit(Message{Type: MessageAction, Payload: json.RawMessage(`{"type":"increment"}`)})
		assert.Empty(t, disp.got)
	})

	t.Run("no dispatcher", func(t *testing.T) {
		store, _, conn := newCounter(t)
		conn.emit(Message{Type: MessageAction, Payload: json.RawMessage(`{"type":"increment"}`)})
		assert.Equal(t, 1, store.GetState().Count)
	})
}

func TestClose(t *testing.T) {
	store, d, conn := newCounter(t)
	require.NoError(t, d.Close())
	assert.True(t, conn.closed)
	assert.Equal(t, Disconnected, d.Status())

	store.SetState(counter{Count: 2})
	assert.Equal(t, 0, conn.sentCount())
	require.NoError(t, d.Close())
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "disconnected", Disconnected.String())
	assert.Equal(t, "connected", Connected.String())
	assert.Equal(t, "recording-paused", RecordingPaused.String())
}
