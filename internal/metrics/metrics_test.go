package metrics

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics(t *testing.T) {
	m := New()

	if m.Accepted() != 0 || m.Rejected() != 0 {
		t.Errorf("expected empty admission counters, got %d/%d", m.Accepted(), m.Rejected())
	}
	if m.Completed() != 0 {
		t.Errorf("expected 0 completed, got %d", m.Completed())
	}

	custom := NewWithConfig(Config{MaxLatencySamples: 0})
	if custom.maxLatencySamples != defaultMaxLatencySamples {
		t.Errorf("expected default samples %d, got %d", defaultMaxLatencySamples, custom.maxLatencySamples)
	}
}

func TestMetricsAdmission(t *testing.T) {
	m := New()

	m.RecordAccepted()
	m.RecordAccepted()
	m.RecordRejected()
	m.RecordAccepted()

	if m.Accepted() != 3 {
		t.Errorf("expected 3 accepted, got %d", m.Accepted())
	}
	if m.Rejected() != 1 {
		t.Errorf("expected 1 rejected, got %d", m.Rejected())
	}
	if rate := m.RejectRate(); rate != 0.25 {
		t.Errorf("expected reject rate 0.25, got %f", rate)
	}
}

func TestMetricsRecordSuccessAndFailure(t *testing.T) {
	m := New()

	m.RecordSuccess(10 * time.Millisecond)
	m.RecordFailure(10 * time.Millisecond)
	m.RecordSuccess(20 * time.Millisecond)

	if m.Processed() != 2 {
		t.Errorf("expected 2 processed, got %d", m.Processed())
	}
	if m.Failed() != 1 {
		t.Errorf("expected 1 failed, got %d", m.Failed())
	}
	if m.Completed() != 3 {
		t.Errorf("expected 3 completed, got %d", m.Completed())
	}
}

func TestMetricsBegin(t *testing.T) {
	m := New()

	done := m.Begin()
	if m.InFlight() != 1 {
		t.Errorf("expected 1 in flight, got %d", m.InFlight())
	}
	done(nil)

	failed := m.Begin()
	failed(errors.New("reset by peer"))

	if m.InFlight() != 0 {
		t.Errorf("expected 0 in flight, got %d", m.InFlight())
	}
	if m.Processed() != 1 || m.Failed() != 1 {
		t.Errorf("expected 1 processed and 1 failed, got %d/%d", m.Processed(), m.Failed())
	}
}

func TestMetricsAverageLatency(t *testing.T) {
	m := New()

	m.RecordSuccess(10 * time.Millisecond)
	m.RecordSuccess(20 * time.Millisecond)
	m.RecordSuccess(30 * time.Millisecond)

	if avg := m.AverageLatency(); avg != 20*time.Millisecond {
		t.Errorf("expected average latency 20ms, got %v", avg)
	}
}

func TestMetricsErrorRate(t *testing.T) {
	m := New()

	if m.ErrorRate() != 0 {
		t.Errorf("expected 0 error rate with no items, got %f", m.ErrorRate())
	}

	m.RecordSuccess(10 * time.Millisecond)
	m.RecordFailure(10 * time.Millisecond)

	if rate := m.ErrorRate(); rate != 0.5 {
		t.Errorf("expected error rate 0.5, got %f", rate)
	}
}

func TestMetricsP99Latency(t *testing.T) {
	m := New()

	for i := 1; i <= 100; i++ {
		m.RecordSuccess(time.Duration(i) * time.Millisecond)
	}

	p99 := m.P99Latency()
	if p99 < 99*time.Millisecond || p99 > 100*time.Millisecond {
		t.Errorf("expected P99 around 99-100ms, got %v", p99)
	}
}

func TestMetricsReset(t *testing.T) {
	m := New()

	m.RecordSuccess(10 * time.Millisecond)
	m.RecordSuccess(20 * time.Millisecond)

	m.Reset()

	if m.RPS() != 0 {
		t.Errorf("expected RPS 0 after reset, got %f", m.RPS())
	}
	if m.P99Latency() != 0 {
		t.Errorf("expected no latency samples after reset, got %v", m.P99Latency())
	}
	if m.Processed() != 2 {
		t.Errorf("expected total 2 after reset, got %d", m.Processed())
	}
}

func TestMetricsConcurrent(t *testing.T) {
	m := New()
	var wg sync.WaitGroup

	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				m.RecordAccepted()
				m.RecordSuccess(time.Millisecond)
			}
		}()
	}

	wg.Wait()

	if m.Processed() != 10000 {
		t.Errorf("expected 10000 processed, got %d", m.Processed())
	}
	if m.Accepted() != 10000 {
		t.Errorf("expected 10000 accepted, got %d", m.Accepted())
	}
}

func TestMetricsSnapshot(t *testing.T) {
	m := New()

	m.RecordAccepted()
	m.RecordRejected()
	m.RecordSuccess(10 * time.Millisecond)
	m.RecordFailure(20 * time.Millisecond)

	snap := m.Snapshot()

	if snap.Accepted != 1 || snap.Rejected != 1 {
		t.Errorf("unexpected admission counters %d/%d", snap.Accepted, snap.Rejected)
	}
	if snap.Processed != 1 || snap.Failed != 1 {
		t.Errorf("unexpected processing counters %d/%d", snap.Processed, snap.Failed)
	}
	if snap.Elapsed <= 0 {
		t.Error("expected positive elapsed time")
	}
}

func TestNewRegistry(t *testing.T) {
	m := New()
	m.RecordAccepted()
	m.RecordAccepted()
	m.RecordRejected()
	m.RecordSuccess(5 * time.Millisecond)

	depth := 3.0
	reg, err := NewRegistry(m, "postal", GaugeSource{
		Name: "queue_depth",
		Help: "Items waiting in the queue",
		Fn:   func() float64 { return depth },
	})
	if err != nil {
		t.Fatalf("failed to create registry: %v", err)
	}

	expected := `
# HELP postal_accepted_total Total number of work units queued by the listener
# TYPE postal_accepted_total counter
postal_accepted_total 2
# HELP postal_rejected_total Total number of work units rejected because the queue was full
# TYPE postal_rejected_total counter
postal_rejected_total 1
# HELP postal_queue_depth Items waiting in the queue
# TYPE postal_queue_depth gauge
postal_queue_depth 3
`
	err = testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"postal_accepted_total", "postal_rejected_total", "postal_queue_depth")
	if err != nil {
		t.Errorf("unexpected metrics: %v", err)
	}

	count, err := testutil.GatherAndCount(reg, "postal_item_latency_seconds")
	if err != nil {
		t.Fatalf("failed to gather: %v", err)
	}
	if count != 1 {
		t.Errorf("expected the latency histogram to be registered, got %d series", count)
	}
}

func TestRegisterTwiceFails(t *testing.T) {
	m := New()
	reg, err := NewRegistry(m, "")
	if err != nil {
		t.Fatalf("failed to create registry: %v", err)
	}

	if err := m.Register(reg, ""); err == nil {
		t.Error("expected duplicate registration to fail")
	}
}
