package vstore

import (
	"math"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
)

type counterState struct {
	Count int
	Label string
}

func TestNew(t *testing.T) {
	s := Of(counterState{Count: 1})
	if s == nil {
		t.Fatal("New() returned nil")
	}
	if got := s.GetState().Count; got != 1 {
		t.Errorf("GetState().Count = %d, want 1", got)
	}
}

func TestInitializerReceivesCapabilities(t *testing.T) {
	var captured Setter[counterState]
	var duringInit counterState

	s := New(func(set Setter[counterState], get Getter[counterState], api *API[counterState]) counterState {
		captured = set
		duringInit = get()
		if api == nil {
			t.Fatal("api is nil")
		}
		return counterState{Count: 5}
	})

	if duringInit != (counterState{}) {
		t.Errorf("get() during init = %+v, want zero value", duringInit)
	}

	captured(func(c counterState) counterState { return counterState{Count: c.Count + 1} })
	if got := s.GetState().Count; got != 6 {
		t.Errorf("Count after captured set = %d, want 6", got)
	}
}

func TestGetInitialState(t *testing.T) {
	s := Of(counterState{Count: 1})
	s.SetState(counterState{Count: 2})
	s.SetState(counterState{Count: 3})

	if got := s.GetInitialState().Count; got != 1 {
		t.Errorf("GetInitialState().Count = %d, want 1", got)
	}
	if got := s.GetState().Count; got != 3 {
		t.Errorf("GetState().Count = %d, want 3", got)
	}
}

func TestIdentityNoOp(t *testing.T) {
	t.Run("NaN", func(t *testing.T) {
		s := Of(math.NaN())
		var calls int
		s.Subscribe(func(float64, float64) { calls++ })

		s.SetState(math.NaN())
		if calls != 0 {
			t.Errorf("listener called %d times, want 0", calls)
		}
	})

	t.Run("negative zero is a change", func(t *testing.T) {
		s := Of(0.0)
		var calls int
		s.Subscribe(func(float64, float64) { calls++ })

		s.SetState(math.Copysign(0, -1))
		if calls != 1 {
			t.Errorf("listener called %d times, want 1", calls)
		}
	})

	t.Run("same map", func(t *testing.T) {
		m := map[string]any{"a": 1}
		s := Of(m)
		var calls int
		s.Subscribe(func(map[string]any, map[string]any) { calls++ })

		s.Update(func(cur map[string]any) map[string]any { return cur })
		if calls != 0 {
			t.Errorf("listener called %d times, want 0", calls)
		}
	})

	t.Run("equal struct", func(t *testing.T) {
		s := Of(counterState{Count: 1})
		var calls int
		s.Subscribe(func(counterState, counterState) { calls++ })

		s.SetState(counterState{Count: 1})
		if calls != 0 {
			t.Errorf("listener called %d times, want 0", calls)
		}
	})
}

func TestMergeLaw(t *testing.T) {
	s := Of(map[string]any{"a": 1, "b": 2})

	s.SetState(map[string]any{"b": 3})
	if got, want := s.GetState(), map[string]any{"a": 1, "b": 3}; !reflect.DeepEqual(got, want) {
		t.Errorf("after merge = %v, want %v", got, want)
	}

	s.SetState(map[string]any{"c": 4}, Replace())
	if got, want := s.GetState(), map[string]any{"c": 4}; !reflect.DeepEqual(got, want) {
		t.Errorf("after replace = %v, want %v", got, want)
	}
}

func TestMergePreservesNestedReferences(t *testing.T) {
	nested := map[string]any{"deep": true}
	s := Of(map[string]any{"nested": nested, "n": 1})

	s.SetState(map[string]any{"n": 2})

	got := s.GetState()["nested"].(map[string]any)
	if reflect.ValueOf(got).Pointer() != reflect.ValueOf(nested).Pointer() {
		t.Error("untouched nested value was copied, want same reference")
	}
}

func TestNonObjectReplaces(t *testing.T) {
	s := Of([]int{1, 2})
	s.SetState([]int{3})

	if got := s.GetState(); !reflect.DeepEqual(got, []int{3}) {
		t.Errorf("GetState() = %v, want [3]", got)
	}
}

type todo struct {
	Title string
	Done  bool
	Count int
}

func TestUpdateResetsFieldsToZero(t *testing.T) {
	s := Of(todo{Title: "a", Done: true, Count: 5})

	var calls int
	var gotState, gotPrev todo
	s.Subscribe(func(state, prev todo) {
		calls++
		gotState, gotPrev = state, prev
	})

	s.Update(func(cur todo) todo {
		cur.Done = false
		cur.Count = 0
		return cur
	})

	want := todo{Title: "a"}
	if got := s.GetState(); got != want {
		t.Fatalf("GetState() = %+v, want %+v", got, want)
	}
	if calls != 1 {
		t.Fatalf("listener called %d times, want 1", calls)
	}
	if gotState != want || gotPrev != (todo{Title: "a", Done: true, Count: 5}) {
		t.Errorf("listener got (%+v, %+v)", gotState, gotPrev)
	}
}

func TestUpdateResetsPointerFields(t *testing.T) {
	s := Of(&todo{Title: "a", Done: true})

	s.Update(func(cur *todo) *todo {
		next := *cur
		next.Done = false
		return &next
	})

	if got := s.GetState(); got.Done || got.Title != "a" {
		t.Errorf("GetState() = %+v, want Title=a Done=false", *got)
	}
}

func TestUpdateMergesMaps(t *testing.T) {
	s := Of(map[string]any{"a": 1, "b": 2})

	s.Update(func(map[string]any) map[string]any { return map[string]any{"b": 0} })

	if got, want := s.GetState(), map[string]any{"a": 1, "b": 0}; !reflect.DeepEqual(got, want) {
		t.Errorf("GetState() = %v, want %v", got, want)
	}
}

func TestSetStateStructIsPartial(t *testing.T) {
	s := Of(todo{Title: "a", Done: true, Count: 5})

	s.SetState(todo{Count: 6})
	if got, want := s.GetState(), (todo{Title: "a", Done: true, Count: 6}); got != want {
		t.Errorf("GetState() = %+v, want %+v", got, want)
	}

	s.API().Set(todo{Title: "b"})
	if got := s.GetState().Title; got != "b" {
		t.Errorf("Title = %q after API.Set, want b", got)
	}
}

func TestMergeWithoutChangeDoesNotNotify(t *testing.T) {
	s := Of(todo{Title: "a", Count: 5})

	var calls int
	s.Subscribe(func(todo, todo) { calls++ })

	// Every non-zero field already matches the current state.
	s.SetState(todo{Count: 5, Done: false})
	s.SetState(todo{})

	if calls != 0 {
		t.Errorf("listener called %d times, want 0", calls)
	}
}

func TestNotificationPayload(t *testing.T) {
	s := Of(map[string]int{"x": 1})

	var calls int
	var gotState, gotPrev map[string]int
	s.Subscribe(func(state, prev map[string]int) {
		calls++
		gotState, gotPrev = state, prev
	})

	s.SetState(map[string]int{"x": 2})

	if calls != 1 {
		t.Fatalf("listener called %d times, want 1", calls)
	}
	if gotState["x"] != 2 || gotPrev["x"] != 1 {
		t.Errorf("listener got (%v, %v), want ({x:2}, {x:1})", gotState, gotPrev)
	}
}

func TestSubscriptionIndependence(t *testing.T) {
	s := Of(0)

	var first, second int
	unsubFirst := s.Subscribe(func(int, int) { first++ })
	s.Subscribe(func(int, int) { second++ })

	unsubFirst()
	s.SetState(1)

	if first != 0 {
		t.Errorf("unsubscribed listener called %d times", first)
	}
	if second != 1 {
		t.Errorf("remaining listener called %d times, want 1", second)
	}
}

func TestSameFuncSubscribedTwice(t *testing.T) {
	s := Of(0)

	var calls int
	listener := func(int, int) { calls++ }
	unsub := s.Subscribe(listener)
	s.Subscribe(listener)

	s.SetState(1)
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}

	unsub()
	unsub()
	s.SetState(2)
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if n := s.ListenerCount(); n != 1 {
		t.Errorf("ListenerCount() = %d, want 1", n)
	}
}

func TestSubscribeDuringNotification(t *testing.T) {
	s := Of(0)

	var late int
	s.Subscribe(func(int, int) {
		s.Subscribe(func(int, int) { late++ })
	})

	s.SetState(1)
	if late != 0 {
		t.Errorf("listener added during fan-out called %d times, want 0", late)
	}

	s.SetState(2)
	if late != 1 {
		t.Errorf("late listener called %d times, want 1", late)
	}
}

func TestUnsubscribeDuringNotification(t *testing.T) {
	s := Of(0)

	var second int
	var unsubSecond Unsubscribe
	s.Subscribe(func(int, int) { unsubSecond() })
	unsubSecond = s.Subscribe(func(int, int) { second++ })

	s.SetState(1)
	if second != 1 {
		t.Errorf("listener removed during fan-out called %d times, want 1", second)
	}

	s.SetState(2)
	if second != 1 {
		t.Errorf("removed listener called again, calls = %d", second)
	}
}

func TestListenerPanicAbortsFanOut(t *testing.T) {
	s := Of(0)

	var after int
	s.Subscribe(func(int, int) { panic("listener failed") })
	s.Subscribe(func(int, int) { after++ })

	func() {
		defer func() {
			if r := recover(); r == nil {
				t.Fatal("expected panic to reach SetState caller")
			}
		}()
		s.SetState(1)
	}()

	if after != 0 {
		t.Errorf("listener after panic called %d times, want 0", after)
	}
	if got := s.GetState(); got != 1 {
		t.Errorf("GetState() = %d, want 1", got)
	}
}

func TestNestedSetStateIsDepthFirst(t *testing.T) {
	s := Of(0)

	var order []string
	s.Subscribe(func(state, prev int) {
		order = append(order, "a:"+string(rune('0'+state)))
		if state == 1 {
			s.SetState(2)
		}
	})
	s.Subscribe(func(state, prev int) {
		order = append(order, "b:"+string(rune('0'+state)))
	})

	s.SetState(1)

	want := []string{"a:1", "a:2", "b:2", "b:1"}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("order = %v, want %v", order, want)
	}
	if got := s.GetState(); got != 2 {
		t.Errorf("GetState() = %d, want 2", got)
	}
}

func TestUpdaterPanicLeavesState(t *testing.T) {
	s := Of(1)

	func() {
		defer func() { recover() }()
		s.Update(func(int) int { panic("boom") })
	}()

	if got := s.GetState(); got != 1 {
		t.Errorf("GetState() = %d, want 1", got)
	}
}

func TestWithMerge(t *testing.T) {
	sum := func(cur, part int) int { return cur + part }
	s := New(func(Setter[int], Getter[int], *API[int]) int { return 1 }, WithMerge(sum))

	s.SetState(4)
	if got := s.GetState(); got != 5 {
		t.Errorf("GetState() = %d, want 5", got)
	}

	s.SetState(7, Replace())
	if got := s.GetState(); got != 7 {
		t.Errorf("GetState() after replace = %d, want 7", got)
	}
}

func TestStoresAreIndependent(t *testing.T) {
	a := Of(0)
	b := Of(0)

	var calls int
	b.Subscribe(func(int, int) { calls++ })
	a.SetState(1)

	if calls != 0 {
		t.Errorf("listener on other store called %d times", calls)
	}
	if b.GetState() != 0 {
		t.Errorf("other store changed to %d", b.GetState())
	}
}

func TestConcurrentAccess(t *testing.T) {
	s := Of(0)

	var notified atomic.Int64
	s.Subscribe(func(int, int) { notified.Add(1) })

	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			s.SetState(v)
			_ = s.GetState()
		}(i)
	}
	wg.Wait()

	if notified.Load() == 0 {
		t.Error("expected at least one notification")
	}
}
