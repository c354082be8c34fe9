package repeat

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"
)

// DefaultThrottleLimit is the number of iterations a ThrottledTemplate runs concurrently unless configured otherwise.
const DefaultThrottleLimit = 4

// ErrNotExpecting is returned by Put and Take when no result is outstanding.
var ErrNotExpecting = errors.New("result queue is not expecting a result; call Expect first")

// ResultQueue hands results from workers back to the loop while bounding concurrency.
//
// It keeps two counters. The semaphore bounds work in flight: Expect takes a slot and Put gives it
// back as soon as a result arrives. The outstanding count tracks work not yet collected: Expect
// increments it and only Take decrements it, so IsExpecting stays true until every result submitted
// has been taken.
type ResultQueue[T any] struct {
	sem *semaphore.Weighted

	mu      sync.Mutex
	ready   *sync.Cond
	results []T
	count   int
}

// NewResultQueue creates a queue admitting at most throttleLimit units in flight.
// A non-positive limit means DefaultThrottleLimit.
func NewResultQueue[T any](throttleLimit int) *ResultQueue[T] {
	if throttleLimit <= 0 {
		throttleLimit = DefaultThrottleLimit
	}
	q := &ResultQueue[T]{sem: semaphore.NewWeighted(int64(throttleLimit))}
	q.ready = sync.NewCond(&q.mu)
	return q
}

// Expect announces a unit of work. It blocks while throttleLimit units are in flight and returns
// ctx.Err() if ctx ends first, in which case nothing is counted.
func (q *ResultQueue[T]) Expect(ctx context.Context) error {
	if err := q.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	q.mu.Lock()
	q.count++
	q.mu.Unlock()
	return nil
}

// Put delivers a result and frees its slot. It never blocks. A result with no matching Expect,
// such as a second delivery for the same unit, is refused, so every result can be drained by Take.
func (q *ResultQueue[T]) Put(result T) error {
	q.mu.Lock()
	if len(q.results) >= q.count {
		q.mu.Unlock()
		return ErrNotExpecting
	}
	q.results = append(q.results, result)
	q.mu.Unlock()

	q.ready.Signal()
	q.sem.Release(1)
	return nil
}

// Take blocks until a result is available and returns the oldest one.
func (q *ResultQueue[T]) Take() (T, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.count == 0 {
		var zero T
		return zero, ErrNotExpecting
	}
	for len(q.results) == 0 {
		q.ready.Wait()
	}
	result := q.results[0]
	var zero T
	q.results[0] = zero
	q.results = q.results[1:]
	q.count--
	return result, nil
}

// IsEmpty reports whether no result is waiting to be taken.
func (q *ResultQueue[T]) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.results) == 0
}

// IsExpecting reports whether any unit has been expected but not yet taken.
func (q *ResultQueue[T]) IsExpecting() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count > 0
}

// InFlight returns the number of units expected but not yet delivered. It never exceeds the throttle limit.
func (q *ResultQueue[T]) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count - len(q.results)
}

// Count returns the number of units expected but not yet taken. Delivered results no longer hold a
// slot, so Count may briefly exceed the throttle limit until they are taken.
func (q *ResultQueue[T]) Count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}
