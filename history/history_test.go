package history

import (
	"testing"
	"time"

	"github.com/jilio/vstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counter struct {
	Count int
}

func increment(c counter) counter { return counter{Count: c.Count + 1} }

func newCounter(opts ...Option) (*vstore.Store[counter], *History[counter]) {
	h := New[counter](opts...)
	return vstore.Of(counter{}, vstore.WithMiddleware(h.Middleware)), h
}

func counts(entries []Entry[counter]) []int {
	out := make([]int, len(entries))
	for i, e := range entries {
		out[i] = e.State.Count
	}
	return out
}

func TestBoundedPast(t *testing.T) {
	store, h := newCounter(WithLimit(3))
	for i := 0; i < 5; i++ {
		store.Update(increment)
	}

	assert.Equal(t, 5, store.GetState().Count)
	assert.Len(t, h.Past(), 3)
	assert.Equal(t, []int{2, 3, 4}, counts(h.Past()))
}

func TestUndoRedoInverse(t *testing.T) {
	store, h := newCounter()
	assert.False(t, h.CanUndo())
	assert.False(t, h.Undo())

	store.Update(increment)
	store.Update(increment)
	store.Update(increment)
	require.Equal(t, 3, store.GetState().Count)

	require.True(t, h.Undo())
	assert.Equal(t, 2, store.GetState().Count)
	assert.True(t, h.CanRedo())

	require.True(t, h.Redo())
	assert.Equal(t, 3, store.GetState().Count)
	assert.False(t, h.CanRedo())

	require.True(t, h.Undo())
	require.True(t, h.Undo())
	assert.Equal(t, 1, store.GetState().Count)
	assert.Equal(t, []int{0}, counts(h.Past()))
	assert.Equal(t, []int{2, 3}, counts(h.Future()))
}

func TestUndoIsNotRecorded(t *testing.T) {
	store, h := newCounter()
	store.Update(increment)
	store.Update(increment)

	h.Undo()
	assert.Equal(t, []int{0}, counts(h.Past()))
	assert.Len(t, h.Future(), 1)
}

func TestNewTransitionClearsFuture(t *testing.T) {
	store, h := newCounter()
	store.Update(increment)
	store.Update(increment)
	h.Undo()
	require.True(t, h.CanRedo())

	store.SetState(counter{Count: 10})
	assert.False(t, h.CanRedo())
	assert.Equal(t, []int{0, 1}, counts(h.Past()))
}

func TestNoOpNotRecorded(t *testing.T) {
	store, h := newCounter()
	store.SetState(counter{})
	assert.Empty(t, h.Past())
}

func TestIgnoreActions(t *testing.T) {
	store, h := newCounter(WithIgnoreActions("persist/rehydrate"))
	store.SetState(counter{Count: 4}, vstore.Action("persist/rehydrate"))
	store.SetState(counter{Count: 5}, vstore.Action("edit"))

	assert.Equal(t, []int{4}, counts(h.Past()))
}

func TestTimestamps(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store, h := newCounter(WithClock(func() time.Time { return at }))
	store.Update(increment)

	require.Len(t, h.Past(), 1)
	assert.Equal(t, at, h.Past()[0].At)
}

func TestClear(t *testing.T) {
	store, h := newCounter()
	store.Update(increment)
	store.Update(increment)
	h.Undo()

	h.Clear()
	assert.False(t, h.CanUndo())
	assert.False(t, h.CanRedo())
	assert.Equal(t, 1, store.GetState().Count)
}

func TestSetterFromInitializer(t *testing.T) {
	h := New[counter]()
	var bump func()
	store := vstore.New(func(set vstore.Setter[counter], get vstore.Getter[counter], api *vstore.API[counter]) counter {
		bump = func() { set(increment) }
		return counter{}
	}, vstore.WithMiddleware(h.Middleware))

	bump()
	bump()
	assert.Equal(t, 2, store.GetState().Count)
	assert.Equal(t, []int{0, 1}, counts(h.Past()))
}

func TestUndoNotifiesListeners(t *testing.T) {
	store, h := newCounter()
	store.Update(increment)

	var got []int
	store.Subscribe(func(state, prev counter) { got = append(got, state.Count, prev.Count) })
	h.Undo()
	assert.Equal(t, []int{0, 1}, got)
}

func TestTransitionDuringUndoIsRecorded(t *testing.T) {
	store, h := newCounter()
	store.Update(increment)
	store.Update(increment)

	reacted := false
	store.Subscribe(func(state, prev counter) {
		if state.Count == 1 && !reacted {
			reacted = true
			store.SetState(counter{Count: 10})
		}
	})

	require.True(t, h.Undo())
	assert.Equal(t, 10, store.GetState().Count)
	assert.Equal(t, []int{0, 1}, counts(h.Past()))
	assert.Empty(t, h.Future())
}

func TestTransitionsLabelledUndoRedoAreNotRecorded(t *testing.T) {
	store, h := newCounter()
	store.SetState(counter{Count: 4}, vstore.Action(ActionUndo))
	store.SetState(counter{Count: 5}, vstore.Action(ActionRedo))
	assert.Equal(t, 5, store.GetState().Count)
	assert.Empty(t, h.Past())
}

func TestUnattached(t *testing.T) {
	h := New[counter]()
	assert.False(t, h.Undo())
	assert.False(t, h.Redo())
}
