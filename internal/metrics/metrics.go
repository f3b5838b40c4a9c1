package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const defaultMaxLatencySamples = 1000

// Config はメトリクスの設定
type Config struct {
	MaxLatencySamples int // P99 計算用に保持するサンプル数
}

// Metrics は受付・処理のメトリクスを収集する
type Metrics struct {
	// 受付（リスナー側）
	accepted atomic.Uint64
	rejected atomic.Uint64

	// 処理（ワーカー側）
	processed      atomic.Uint64
	failed         atomic.Uint64
	inFlight       atomic.Int64
	totalLatencyNs atomic.Uint64

	mu                sync.RWMutex
	startTime         time.Time
	lastResetTime     time.Time
	windowItems       uint64
	latencies         []time.Duration
	maxLatencySamples int

	latencyHist prometheus.Histogram
}

// New は新しいメトリクスを作成する
func New() *Metrics {
	return NewWithConfig(Config{MaxLatencySamples: defaultMaxLatencySamples})
}

// NewWithConfig は設定を指定してメトリクスを作成する
func NewWithConfig(config Config) *Metrics {
	maxSamples := config.MaxLatencySamples
	if maxSamples <= 0 {
		maxSamples = defaultMaxLatencySamples
	}
	now := time.Now()
	return &Metrics{
		startTime:         now,
		lastResetTime:     now,
		latencies:         make([]time.Duration, 0, maxSamples),
		maxLatencySamples: maxSamples,
		latencyHist: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "item_latency_seconds",
			Help:    "Histogram of per-item processing latency",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// RecordAccepted はキューに入った作業単位を記録する
func (m *Metrics) RecordAccepted() {
	m.accepted.Add(1)
}

// RecordRejected はキュー満杯で拒否された作業単位を記録する
func (m *Metrics) RecordRejected() {
	m.rejected.Add(1)
}

// Begin は処理開始を記録する。戻り値の関数で終了を記録する
func (m *Metrics) Begin() func(err error) {
	start := time.Now()
	m.inFlight.Add(1)
	return func(err error) {
		m.inFlight.Add(-1)
		if err != nil {
			m.RecordFailure(time.Since(start))
		} else {
			m.RecordSuccess(time.Since(start))
		}
	}
}

// RecordSuccess は成功した処理を記録する
func (m *Metrics) RecordSuccess(latency time.Duration) {
	m.processed.Add(1)
	m.totalLatencyNs.Add(uint64(latency.Nanoseconds()))
	m.latencyHist.Observe(latency.Seconds())

	m.mu.Lock()
	m.windowItems++
	if len(m.latencies) < m.maxLatencySamples {
		m.latencies = append(m.latencies, latency)
	}
	m.mu.Unlock()
}

// RecordFailure は失敗した処理を記録する
func (m *Metrics) RecordFailure(latency time.Duration) {
	m.failed.Add(1)
	m.totalLatencyNs.Add(uint64(latency.Nanoseconds()))
	m.latencyHist.Observe(latency.Seconds())

	m.mu.Lock()
	m.windowItems++
	m.mu.Unlock()
}

// Accepted は受け付けた数を返す
func (m *Metrics) Accepted() uint64 {
	return m.accepted.Load()
}

// Rejected は拒否した数を返す
func (m *Metrics) Rejected() uint64 {
	return m.rejected.Load()
}

// Processed は処理に成功した数を返す
func (m *Metrics) Processed() uint64 {
	return m.processed.Load()
}

// Failed は処理に失敗した数を返す
func (m *Metrics) Failed() uint64 {
	return m.failed.Load()
}

// Completed は処理が終わった数（成功＋失敗）を返す
func (m *Metrics) Completed() uint64 {
	return m.processed.Load() + m.failed.Load()
}

// InFlight は処理中の数を返す
func (m *Metrics) InFlight() int64 {
	return m.inFlight.Load()
}

// RPS は直近ウィンドウの毎秒処理数を返す
func (m *Metrics) RPS() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	elapsed := time.Since(m.lastResetTime).Seconds()
	if elapsed == 0 {
		return 0
	}
	return float64(m.windowItems) / elapsed
}

// OverallRPS は開始からの平均処理数を返す
func (m *Metrics) OverallRPS() float64 {
	elapsed := time.Since(m.startTime).Seconds()
	if elapsed == 0 {
		return 0
	}
	return float64(m.Completed()) / elapsed
}

// AverageLatency は平均レイテンシを返す
func (m *Metrics) AverageLatency() time.Duration {
	total := m.Completed()
	if total == 0 {
		return 0
	}
	return time.Duration(m.totalLatencyNs.Load() / total)
}

// P99Latency はP99レイテンシを返す（サンプルベース）
func (m *Metrics) P99Latency() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.latencies) == 0 {
		return 0
	}

	sorted := make([]time.Duration, len(m.latencies))
	copy(sorted, m.latencies)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	idx := int(float64(len(sorted)) * 0.99)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// RejectRate は拒否率を返す（0.0〜1.0）
func (m *Metrics) RejectRate() float64 {
	accepted := m.accepted.Load()
	rejected := m.rejected.Load()
	if accepted+rejected == 0 {
		return 0
	}
	return float64(rejected) / float64(accepted+rejected)
}

// ErrorRate は処理の失敗率を返す（0.0〜1.0）
func (m *Metrics) ErrorRate() float64 {
	total := m.Completed()
	if total == 0 {
		return 0
	}
	return float64(m.failed.Load()) / float64(total)
}

// Reset はウィンドウメトリクスをリセットする
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.windowItems = 0
	m.lastResetTime = time.Now()
	m.latencies = m.latencies[:0]
}

// Snapshot はメトリクスのスナップショット
type Snapshot struct {
	Accepted       uint64        `json:"accepted"`
	Rejected       uint64        `json:"rejected"`
	Processed      uint64        `json:"processed"`
	Failed         uint64        `json:"failed"`
	InFlight       int64         `json:"in_flight"`
	RPS            float64       `json:"rps"`
	OverallRPS     float64       `json:"overall_rps"`
	AverageLatency time.Duration `json:"average_latency"`
	P99Latency     time.Duration `json:"p99_latency"`
	RejectRate     float64       `json:"reject_rate"`
	ErrorRate      float64       `json:"error_rate"`
	Elapsed        time.Duration `json:"elapsed"`
}

// Snapshot は現在のメトリクスのスナップショットを返す
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		Accepted:       m.Accepted(),
		Rejected:       m.Rejected(),
		Processed:      m.Processed(),
		Failed:         m.Failed(),
		InFlight:       m.InFlight(),
		RPS:            m.RPS(),
		OverallRPS:     m.OverallRPS(),
		AverageLatency: m.AverageLatency(),
		P99Latency:     m.P99Latency(),
		RejectRate:     m.RejectRate(),
		ErrorRate:      m.ErrorRate(),
		Elapsed:        time.Since(m.startTime),
	}
}
