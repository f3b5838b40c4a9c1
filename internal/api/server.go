package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/websocket"

	"postal-dispatch/internal/events"
	"postal-dispatch/internal/logger"
	"postal-dispatch/internal/metrics"
	"postal-dispatch/internal/queue"
)

// Status はサーバーの状態
type Status struct {
	Running   bool        `json:"running"`
	Addr      string      `json:"addr"`
	Workers   int         `json:"workers"`
	Queue     queue.Stats `json:"queue"`
	Accepted  uint64      `json:"accepted"`
	Rejected  uint64      `json:"rejected"`
	Processed uint64      `json:"processed"`
	Failed    uint64      `json:"failed"`
	Uptime    string      `json:"uptime"`
}

// Backend は API が公開する情報の提供元
type Backend interface {
	Status() Status
	Metrics() *metrics.Metrics
	Events() *events.Bus
	Gatherer() prometheus.Gatherer
}

// Server はAPIサーバー
type Server struct {
	addr    string
	backend Backend
	tick    time.Duration

	mu        sync.RWMutex
	wsClients map[*websocket.Conn]bool

	server *http.Server
}

// NewServer は新しいAPIサーバーを作成する
func NewServer(addr string, backend Backend) *Server {
	return &Server{
		addr:      addr,
		backend:   backend,
		tick:      time.Second,
		wsClients: make(map[*websocket.Conn]bool),
	}
}

// Handler はルーティング済みのハンドラーを返す
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/metrics", s.handleMetrics)
	mux.Handle("/metrics", promhttp.HandlerFor(s.backend.Gatherer(), promhttp.HandlerOpts{}))

	// WebSocket
	mux.Handle("/ws", websocket.Handler(s.handleWebSocket))

	return mux
}

// Start は addr で待ち受け、ctx が終了するまでサーバーを動かす
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve は ln で受け付け、ctx が終了するまでサーバーを動かす
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	// バックグラウンドで状態とイベントを配信
	go func() {
		defer wg.Done()
		s.broadcastLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
		// Shutdown はハイジャック済みの WebSocket を閉じない
		s.closeClients()
	}()

	logger.Info("api", "API Server starting on http://%s", ln.Addr())

	err := s.server.Serve(ln)
	cancel()
	wg.Wait()
	if !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, s.backend.Status())
}

// MetricsResponse はメトリクスレスポンス
type MetricsResponse struct {
	Accepted     uint64  `json:"accepted"`
	Rejected     uint64  `json:"rejected"`
	Processed    uint64  `json:"processed"`
	Failed       uint64  `json:"failed"`
	InFlight     int64   `json:"in_flight"`
	RPS          float64 `json:"rps"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
	P99LatencyMs float64 `json:"p99_latency_ms"`
	RejectRate   float64 `json:"reject_rate"`
	ErrorRate    float64 `json:"error_rate"`
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snap := s.backend.Metrics().Snapshot()
	s.writeJSON(w, MetricsResponse{
		Accepted:     snap.Accepted,
		Rejected:     snap.Rejected,
		Processed:    snap.Processed,
		Failed:       snap.Failed,
		InFlight:     snap.InFlight,
		RPS:          snap.RPS,
		AvgLatencyMs: float64(snap.AverageLatency.Microseconds()) / 1000,
		P99LatencyMs: float64(snap.P99Latency.Microseconds()) / 1000,
		RejectRate:   snap.RejectRate,
		ErrorRate:    snap.ErrorRate,
	})
}

// WebSocket handling
func (s *Server) handleWebSocket(ws *websocket.Conn) {
	s.mu.Lock()
	s.wsClients[ws] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.wsClients, ws)
		s.mu.Unlock()
		_ = ws.Close()
	}()

	// クライアントが切断するまで読み捨てる
	for {
		var msg string
		if err := websocket.Message.Receive(ws, &msg); err != nil {
			break
		}
	}
}

// ClientCount は接続中の WebSocket クライアント数を返す
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.wsClients)
}

func (s *Server) closeClients() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for ws := range s.wsClients {
		_ = ws.Close()
	}
}

func (s *Server) broadcast(data interface{}) {
	s.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(s.wsClients))
	for ws := range s.wsClients {
		clients = append(clients, ws)
	}
	s.mu.RUnlock()

	if len(clients) == 0 {
		return
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}

	for _, ws := range clients {
		_ = websocket.Message.Send(ws, string(jsonData))
	}
}

func (s *Server) broadcastLoop(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	var sub <-chan events.Event
	if bus := s.backend.Events(); bus != nil {
		sub = bus.Subscribe()
		defer bus.Unsubscribe(sub)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.broadcast(map[string]interface{}{
				"type":   "status",
				"status": s.backend.Status(),
			})
		case ev, ok := <-sub:
			if !ok {
				// バスが閉じられたら状態の配信だけを続ける
				sub = nil
				continue
			}
			s.broadcast(map[string]interface{}{
				"type":  "event",
				"event": ev,
			})
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("api", "Failed to encode JSON: %v", err)
	}
}
