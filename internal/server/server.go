package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"postal-dispatch/internal/api"
	"postal-dispatch/internal/dispatch"
	"postal-dispatch/internal/events"
	"postal-dispatch/internal/logger"
	"postal-dispatch/internal/metrics"
	"postal-dispatch/internal/postal"
	"postal-dispatch/internal/queue"
	"postal-dispatch/internal/worker"
)

// Server errors
var (
	ErrNoDatabase     = errors.New("server has no postal database")
	ErrAlreadyStarted = errors.New("server already started")
	ErrNotStarted     = errors.New("server not started")
)

// Prometheus のメトリクス名の接頭辞
const metricsNamespace = "postal"

// Config はサーバーの設定
type Config struct {
	Addr         string        // 待ち受けアドレス
	Workers      int           // ワーカー数（0でCPU数）
	QueueSize    int           // 受付キューの容量
	PollInterval time.Duration // 停止フラグを確認する間隔
	SearchLimit  int           // 1 回の検索で返す最大件数
	IdleTimeout  time.Duration // 1 接続あたりの期限（0で無制限）
	DBFile       string        // 郵便番号データベースのファイル
	BusyMessage  string        // 拒否時に送る 1 行（空なら送らずに閉じる）
	APIAddr      string        // APIサーバーのアドレス（空なら起動しない）
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		Addr:         ":25000",
		Workers:      4,
		QueueSize:    2,
		PollInterval: time.Second,
		SearchLimit:  100,
		IdleTimeout:  30 * time.Second,
		DBFile:       "KEN_ALL.CSV",
	}
}

// Stats はサーバーの統計
type Stats struct {
	Queue     queue.Stats   `json:"queue"`
	Workers   int           `json:"workers"`
	Accepted  uint64        `json:"accepted"`
	Rejected  uint64        `json:"rejected"`
	Processed uint64        `json:"processed"`
	Failed    uint64        `json:"failed"`
	Uptime    time.Duration `json:"uptime"`
}

// Server は受付リスナーとワーカープールをまとめて動かす
type Server struct {
	config  Config
	db      *postal.DB
	events  *events.Bus
	metrics *metrics.Metrics

	mu        sync.Mutex
	started   bool
	stopped   bool
	startTime time.Time
	registry  *prometheus.Registry
	source    *dispatch.TCPSource
	shared    *worker.Shared[*dispatch.Conn]
	pool      *worker.Pool[*dispatch.Conn]
	cancel    context.CancelFunc

	listenDone chan struct{}
	listenErr  error
	apiDone    chan struct{}
}

// Ensure Server implements api.Backend
var _ api.Backend = (*Server)(nil)

// New は新しいサーバーを作成する
func New(config Config, db *postal.DB) *Server {
	return &Server{
		config:     config,
		db:         db,
		events:     events.NewBus(),
		metrics:    metrics.New(),
		registry:   prometheus.NewRegistry(),
		listenDone: make(chan struct{}),
		apiDone:    make(chan struct{}),
	}
}

// Start は待ち受けを開始し、ワーカーとリスナーを起動する
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrAlreadyStarted
	}
	if s.db == nil {
		return ErrNoDatabase
	}

	shared, err := worker.NewShared[*dispatch.Conn](s.config.QueueSize)
	if err != nil {
		return fmt.Errorf("failed to create queue: %w", err)
	}

	source, err := dispatch.Listen(s.config.Addr, s.config.PollInterval)
	if err != nil {
		shared.Close()
		return err
	}

	registry, err := metrics.NewRegistry(s.metrics, metricsNamespace,
		metrics.GaugeSource{
			Name: "queue_depth",
			Help: "Number of connections waiting in the queue",
			Fn:   func() float64 { return float64(shared.Queue.Count()) },
		},
		metrics.GaugeSource{
			Name: "queue_capacity",
			Help: "Capacity of the connection queue",
			Fn:   func() float64 { return float64(shared.Queue.Size()) },
		},
		metrics.GaugeSource{
			Name: "events_dropped",
			Help: "Event deliveries skipped because a subscriber was full",
			Fn:   func() float64 { return float64(s.events.Dropped()) },
		})
	if err != nil {
		_ = source.Close()
		shared.Close()
		return err
	}

	ctx, cancel := context.WithCancel(ctx)

	pool := worker.NewPool(shared, worker.PoolConfig{
		NumWorkers:   s.config.Workers,
		PollInterval: s.config.PollInterval,
		Name:         "worker",
	}, postal.Handler(s.db, s.config.SearchLimit, s.config.IdleTimeout),
		worker.WithEvents(s.events), worker.WithMetrics(s.metrics))

	if err := pool.Start(ctx); err != nil {
		cancel()
		_ = source.Close()
		shared.Close()
		return fmt.Errorf("failed to start workers: %w", err)
	}

	listener := dispatch.NewListener(shared, dispatch.Source[*dispatch.Conn](source),
		dispatch.CloseReject(s.config.BusyMessage),
		dispatch.WithName("listener"), dispatch.WithEvents(s.events), dispatch.WithMetrics(s.metrics))

	s.started = true
	s.startTime = time.Now()
	s.registry = registry
	s.source = source
	s.shared = shared
	s.pool = pool
	s.cancel = cancel

	go func() {
		defer close(s.listenDone)
		if err := listener.Run(ctx); err != nil {
			logger.Error("server", "Listener stopped: %v", err)
			s.listenErr = err
		}
	}()

	if s.config.APIAddr != "" {
		apiServer := api.NewServer(s.config.APIAddr, s)
		go func() {
			defer close(s.apiDone)
			if err := apiServer.Start(ctx); err != nil {
				logger.Error("server", "API server failed: %v", err)
			}
		}()
	} else {
		close(s.apiDone)
	}

	logger.Info("server", "Listening on %s (workers %d, queue %d, %d records)",
		source.Addr(), pool.NumWorkers(), shared.Queue.Size(), s.db.Len())
	return nil
}

// Stop はリスナー、ワーカーの順に停止し、全て終了してからキューを破棄する
// リスナーが受付エラーで止まっていた場合はそのエラーを返す
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return ErrNotStarted
	}
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	logger.Info("server", "Stopping")

	s.shared.Stop.Set()
	<-s.listenDone
	_ = s.source.Close()

	s.pool.Stop()
	s.cancel()
	<-s.apiDone

	// キューに残った接続は処理せずに閉じる
	for {
		c, ok := s.shared.Queue.Pop()
		if !ok {
			break
		}
		_ = c.Close()
	}
	// 全ゴルーチンが終了してから破棄する
	s.shared.Close()
	s.events.Close()

	logger.Info("server", "Stopped (accepted %d, rejected %d, processed %d, failed %d)",
		s.metrics.Accepted(), s.metrics.Rejected(), s.metrics.Processed(), s.metrics.Failed())
	return s.listenErr
}

// Done はリスナーが終了すると閉じられるチャネルを返す
func (s *Server) Done() <-chan struct{} {
	return s.listenDone
}

// Addr は待ち受けアドレスを返す。起動前は空文字列
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.source == nil {
		return ""
	}
	return s.source.Addr().String()
}

// Stats は現在の統計を返す
func (s *Server) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Stats{
		Accepted:  s.metrics.Accepted(),
		Rejected:  s.metrics.Rejected(),
		Processed: s.metrics.Processed(),
		Failed:    s.metrics.Failed(),
	}
	if s.started {
		stats.Workers = s.pool.NumWorkers()
		stats.Uptime = time.Since(s.startTime)
		if !s.stopped {
			stats.Queue = s.shared.Queue.Stats()
		}
	}
	return stats
}

// Status は API 向けの状態を返す
func (s *Server) Status() api.Status {
	stats := s.Stats()

	s.mu.Lock()
	running := s.started && !s.stopped
	s.mu.Unlock()

	return api.Status{
		Running:   running,
		Addr:      s.Addr(),
		Workers:   stats.Workers,
		Queue:     stats.Queue,
		Accepted:  stats.Accepted,
		Rejected:  stats.Rejected,
		Processed: stats.Processed,
		Failed:    stats.Failed,
		Uptime:    stats.Uptime.Truncate(time.Second).String(),
	}
}

// Events はイベントバスを返す
func (s *Server) Events() *events.Bus {
	return s.events
}

// Metrics はメトリクスを返す
func (s *Server) Metrics() *metrics.Metrics {
	return s.metrics
}

// Gatherer は Prometheus レジストリを返す
func (s *Server) Gatherer() prometheus.Gatherer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry
}
