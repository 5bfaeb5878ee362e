// Package vstore is a small external-state container with a subscription
// model.
//
// A Store holds one state value. GetState returns it, SetState and Update
// transition it and Subscribe registers listeners that run synchronously after
// every committed transition:
//
//	counter := vstore.New(func(set vstore.Setter[Counter], get vstore.Getter[Counter], api *vstore.API[Counter]) Counter {
//	    return Counter{Count: 0}
//	})
//
//	unsub := counter.Subscribe(func(state, prev Counter) {
//	    fmt.Println(prev.Count, "->", state.Count)
//	})
//	defer unsub()
//
//	counter.Update(func(c Counter) Counter { return Counter{Count: c.Count + 1} })
//
// # Transitions
//
// A transition whose next value is the same as the current one (see Is) does
// nothing. String-keyed maps are merged one level deep into a fresh map. A
// struct passed to SetState is a partial value whose non-zero fields are
// written over a copy of the state; the result of Update is a whole value and
// replaces it, so fields can go back to zero. Everything else replaces the
// state. Pass Replace() to always replace. A merge that leaves the state
// unchanged notifies nobody.
//
// # Middleware
//
// A Middleware wraps the Initializer. It can hand the initializer a modified
// setter and replace API.SetState, so that every transition passes through
// it. Middleware in the sub-packages return a typed
// handle exposing their capabilities:
//
//	p, _ := persist.New[Counter](persist.WithName[Counter]("counter"), persist.WithStorage[Counter](storage))
//	h := history.New[Counter](history.WithLimit(50))
//	store := vstore.New(initCounter, vstore.WithMiddleware(p.Middleware, h.Middleware))
//
//	h.Undo()
//	_ = p.Flush(ctx)
//
// The first middleware passed is the outermost one.
package vstore
