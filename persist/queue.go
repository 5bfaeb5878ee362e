package persist

import (
	"context"
	"errors"
	"sync"
)

// writeQueue runs writes in the background. Writes are numbered when queued;
// a write that starts after a newer one has already run is skipped, so the
// storage never goes back to an older state.
type writeQueue struct {
	mu      sync.Mutex
	seq     uint64
	pending int
	drained chan struct{}
	errs    []error

	runMu   sync.Mutex
	written uint64
}

func (q *writeQueue) enqueue(write func(ctx context.Context) error) {
	q.mu.Lock()
	q.seq++
	seq := q.seq
	if q.pending == 0 {
		q.drained = make(chan struct{})
	}
	q.pending++
	q.mu.Unlock()

	go func() {
		err := q.run(seq, write)

		q.mu.Lock()
		defer q.mu.Unlock()
		if err != nil {
			q.errs = append(q.errs, err)
		}
		q.pending--
		if q.pending == 0 {
			close(q.drained)
		}
	}()
}

func (q *writeQueue) run(seq uint64, write func(ctx context.Context) error) error {
	q.runMu.Lock()
	defer q.runMu.Unlock()

	if seq <= q.written {
		return nil
	}
	q.written = seq
	return write(context.Background())
}

func (q *writeQueue) flush(ctx context.Context) error {
	q.mu.Lock()
	if q.pending > 0 {
		drained := q.drained
		q.mu.Unlock()

		select {
		case <-drained:
		case <-ctx.Done():
			return ctx.Err()
		}

		q.mu.Lock()
	}
	errs := q.errs
	q.errs = nil
	q.mu.Unlock()

	return errors.Join(errs...)
}
