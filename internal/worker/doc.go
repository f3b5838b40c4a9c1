// Package worker runs a fixed set of goroutines that drain one shared queue.
//
// Each worker loops on Wait and Pop against the queue held in a Shared value
// and hands every item to a caller-supplied Processor. Workers re-check the
// shared StopFlag at least once per PollInterval, so stopping is cooperative:
// no worker is interrupted while it processes an item.
//
// # Basic Usage
//
//	shared, err := worker.NewShared[net.Conn](2)
//	if err != nil {
//	    return err
//	}
//	pool := worker.NewPool(shared, worker.PoolConfig{NumWorkers: 4}, serve)
//	if err := pool.Start(ctx); err != nil {
//	    return err
//	}
//
//	// producer side
//	if !shared.Queue.Push(conn) {
//	    conn.Close() // full: reject
//	}
//
//	// shutdown
//	shared.Stop.Set()
//	pool.Stop()
//	shared.Close()
//
// # Failure Handling
//
// A Processor error or panic is logged, counted and published as an
// item_failed event. The worker keeps running.
//
// # Races
//
// Wait may report data that another worker pops first. The losing worker sees
// an empty Pop and simply waits again.
package worker
