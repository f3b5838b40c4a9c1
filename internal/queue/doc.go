// Package queue provides a generic bounded FIFO queue for handing work from
// one goroutine to others.
//
// Queue is a fixed-capacity ring buffer guarded by one mutex and one
// condition variable. Push and Pop never block: Push reports a full queue by
// returning false so that the producer can reject the work, and Pop reports an
// empty queue the same way. Waiting is a separate step, Wait, which blocks
// until the queue is observed non-empty or an absolute deadline passes.
//
// # Basic Usage
//
//	q, err := queue.New[int](16)
//	if err != nil {
//	    return err
//	}
//	defer q.Destroy()
//
//	// producer
//	if !q.Push(42) {
//	    // full: reject
//	}
//
//	// consumer
//	for !stop.IsSet() {
//	    if !q.Wait(1000) {
//	        continue // timed out, re-check the stop flag
//	    }
//	    v, ok := q.Pop()
//	    if !ok {
//	        continue // another consumer took it first
//	    }
//	    handle(v)
//	}
//
// # Ordering
//
// Items are popped in the order they were pushed. A push wakes at most one
// waiter, and which waiter wakes is unspecified.
//
// # Lifecycle
//
// Destroy releases the ring buffer. It must only be called after every
// producer and consumer goroutine has returned; a goroutine still blocked in
// Wait at that point is treated as a fatal synchronization error.
package queue
