// Package metrics collects admission and processing statistics for the
// dispatch server.
//
// The listener records every accepted and rejected unit of work; workers
// record the outcome and latency of each processed unit. Counters are atomic
// and safe for concurrent use from any number of goroutines.
//
// # Basic Usage
//
//	m := metrics.New()
//
//	m.RecordAccepted()
//	done := m.Begin()
//	err := handle(conn)
//	done(err)
//
//	snap := m.Snapshot()
//	fmt.Printf("accepted=%d rejected=%d p99=%v\n",
//	    snap.Accepted, snap.Rejected, snap.P99Latency)
//
// # Prometheus
//
// NewRegistry exposes the same counters through a private Prometheus
// registry. Extra gauges such as the queue depth are read lazily at scrape
// time through GaugeSource functions.
package metrics
