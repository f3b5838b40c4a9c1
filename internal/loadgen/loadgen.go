package loadgen

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"postal-dispatch/internal/logger"
	"postal-dispatch/internal/metrics"
	"postal-dispatch/internal/worker"
)

// Loadgen errors
var (
	ErrNoAddr         = errors.New("loadgen has no target address")
	ErrNoConnections  = errors.New("loadgen needs at least one connection")
	ErrAlreadyRunning = errors.New("loadgen is already running")
)

// Config は負荷生成の設定
type Config struct {
	Name        string        // プリセット名
	Description string        // 説明
	Addr        string        // 接続先
	Connections int           // 合計接続数
	Concurrency int           // 同時接続数（0でCPU数）
	Query       string        // 送信する検索語
	Timeout     time.Duration // 1 接続あたりの期限
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		Name:        "default",
		Description: "Default load",
		Addr:        "127.0.0.1:25000",
		Connections: 100,
		Concurrency: 4,
		Query:       "東京",
		Timeout:     5 * time.Second,
	}
}

// Result は負荷生成の結果
type Result struct {
	Name      string
	Addr      string
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration

	Connections int
	Served      uint64
	Rejected    uint64
	Failed      uint64
	Lines       uint64

	RejectRate float64
	ErrorRate  float64
	AvgLatency time.Duration
	P99Latency time.Duration
}

// Client は検索セッションを並行に張る負荷生成器
// 接続番号を自前の有界キューに流し、ワーカープールで消化する
type Client struct {
	config  Config
	metrics *metrics.Metrics

	running atomic.Bool
	served  atomic.Uint64
	rejects atomic.Uint64
	failed  atomic.Uint64
	lines   atomic.Uint64
}

// New は新しいClientを作成する
func New(config Config) *Client {
	return &Client{
		config:  config,
		metrics: metrics.New(),
	}
}

// Run は Connections 回の検索セッションを実行し、全て終わるまで待つ
// ctx が終了した場合は投入を打ち切り、それまでの結果を返す
func (c *Client) Run(ctx context.Context) (*Result, error) {
	if c.config.Addr == "" {
		return nil, ErrNoAddr
	}
	if c.config.Connections <= 0 {
		return nil, ErrNoConnections
	}
	if c.running.Swap(true) {
		return nil, ErrAlreadyRunning
	}
	defer c.running.Store(false)

	poolConfig := worker.DefaultPoolConfig()
	poolConfig.NumWorkers = c.config.Concurrency
	poolConfig.PollInterval = 50 * time.Millisecond
	poolConfig.Name = "loadgen"

	capacity := c.config.Concurrency
	if capacity <= 0 {
		capacity = 1
	}
	shared, err := worker.NewShared[int](capacity)
	if err != nil {
		return nil, fmt.Errorf("failed to create job queue: %w", err)
	}

	var wg sync.WaitGroup
	pool := worker.NewPool(shared, poolConfig, func(ctx context.Context, workerID int, seq int) error {
		defer wg.Done()
		return c.session(ctx, workerID, seq)
	})
	if err := pool.Start(ctx); err != nil {
		shared.Close()
		return nil, fmt.Errorf("failed to start workers: %w", err)
	}

	logger.Info("loadgen", "Load '%s' started (target %s, connections %d, concurrency %d)",
		c.config.Name, c.config.Addr, c.config.Connections, pool.NumWorkers())

	result := &Result{
		Name:        c.config.Name,
		Addr:        c.config.Addr,
		StartTime:   time.Now(),
		Connections: c.config.Connections,
	}

	submitted := c.produce(ctx, shared.Queue.Push, &wg)
	if submitted < c.config.Connections {
		logger.Warn("loadgen", "Canceled after submitting %d of %d connections", submitted, c.config.Connections)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}

	pool.Stop()
	// 取り出されなかった接続番号は実行せずに捨てる
	for {
		if _, ok := shared.Queue.Pop(); !ok {
			break
		}
		wg.Done()
	}
	<-done
	shared.Close()

	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)
	c.collect(result)

	logger.Info("loadgen", "Load '%s' completed (served %d, rejected %d, failed %d)",
		c.config.Name, result.Served, result.Rejected, result.Failed)
	return result, nil
}

// produce は接続番号をキューに投入する
// キューが満杯なら空くまで投入を繰り返す。投入できた数を返す
func (c *Client) produce(ctx context.Context, push func(int) bool, wg *sync.WaitGroup) int {
	for seq := 0; seq < c.config.Connections; seq++ {
		wg.Add(1)
		for !push(seq) {
			if ctx.Err() != nil {
				wg.Done()
				return seq
			}
			time.Sleep(time.Millisecond)
		}
	}
	return c.config.Connections
}

func (c *Client) collect(result *Result) {
	snap := c.metrics.Snapshot()
	result.Served = c.served.Load()
	result.Rejected = c.rejects.Load()
	result.Failed = c.failed.Load()
	result.Lines = c.lines.Load()
	result.AvgLatency = snap.AverageLatency
	result.P99Latency = snap.P99Latency

	if total := result.Served + result.Rejected + result.Failed; total > 0 {
		result.RejectRate = float64(result.Rejected) / float64(total)
		result.ErrorRate = float64(result.Failed) / float64(total)
	}
}

// Metrics はメトリクスを返す
func (c *Client) Metrics() *metrics.Metrics {
	return c.metrics
}

// IsRunning は実行中かどうかを返す
func (c *Client) IsRunning() bool {
	return c.running.Load()
}

// Report は結果をフォーマットして返す
func (r *Result) Report() string {
	return fmt.Sprintf(`
================================================================================
                         LOAD REPORT: %s
================================================================================

EXECUTION SUMMARY
-----------------
  Target:         %s
  Start Time:     %s
  End Time:       %s
  Duration:       %v

SESSIONS
--------
  Connections:      %d
  Served:           %d
  Rejected:         %d
  Failed:           %d
  Result Lines:     %d
  Reject Rate:      %.2f%%
  Error Rate:       %.2f%%

LATENCY
-------
  Avg Latency:      %v
  P99 Latency:      %v

================================================================================`,
		r.Name,
		r.Addr,
		r.StartTime.Format("2006-01-02 15:04:05"),
		r.EndTime.Format("2006-01-02 15:04:05"),
		r.Duration.Round(time.Millisecond),
		r.Connections,
		r.Served,
		r.Rejected,
		r.Failed,
		r.Lines,
		r.RejectRate*100,
		r.ErrorRate*100,
		r.AvgLatency.Round(time.Microsecond),
		r.P99Latency.Round(time.Microsecond),
	)
}
