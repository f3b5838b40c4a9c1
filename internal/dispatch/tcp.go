package dispatch

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"

	"postal-dispatch/internal/logger"
)

// Conn は受け付けたクライアント接続
// キューには *Conn を入れ、取り出したワーカーが Close まで責任を持つ
type Conn struct {
	net.Conn
	SessionID  string
	AcceptedAt time.Time
}

// Describe はセッションIDと接続元アドレスを返す
func (c *Conn) Describe() (string, string) {
	return c.SessionID, c.RemoteAddr().String()
}

// TCPSource は TCP リスナーから接続を受け付ける Source
type TCPSource struct {
	ln   *net.TCPListener
	poll time.Duration
}

// Listen は addr で待ち受ける TCPSource を作成する
// poll は 1 回の Accept で待つ最大時間
func Listen(addr string, poll time.Duration) (*TCPSource, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	tcp, ok := ln.(*net.TCPListener)
	if !ok {
		_ = ln.Close()
		return nil, fmt.Errorf("unexpected listener type %T", ln)
	}
	return NewTCPSource(tcp, poll), nil
}

// NewTCPSource は既存の TCP リスナーを Source として包む
func NewTCPSource(ln *net.TCPListener, poll time.Duration) *TCPSource {
	if poll <= 0 {
		poll = time.Second
	}
	return &TCPSource{ln: ln, poll: poll}
}

// Accept は接続を 1 つ受け付ける
// poll の間に接続が無ければ ErrNoWork を返す
func (s *TCPSource) Accept() (*Conn, error) {
	if err := s.ln.SetDeadline(time.Now().Add(s.poll)); err != nil {
		return nil, fmt.Errorf("failed to set accept deadline: %w", err)
	}

	c, err := s.ln.Accept()
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil, ErrNoWork
		}
		return nil, err
	}

	conn := &Conn{
		Conn:       c,
		SessionID:  uuid.NewString(),
		AcceptedAt: time.Now(),
	}
	logger.Info("listener", "Connect from %s (session %s)", c.RemoteAddr(), conn.SessionID)
	return conn, nil
}

// Addr は待ち受けアドレスを返す
func (s *TCPSource) Addr() net.Addr {
	return s.ln.Addr()
}

// Close はリスナーを閉じる
func (s *TCPSource) Close() error {
	return s.ln.Close()
}

// CloseReject は拒否した接続を閉じる RejectFunc を返す
// busyMessage が空でなければ閉じる前に 1 行書き込む（書き込みは待たない）
func CloseReject(busyMessage string) RejectFunc[*Conn] {
	return func(c *Conn) {
		if c == nil {
			return
		}
		if busyMessage != "" {
			_ = c.SetWriteDeadline(time.Now().Add(100 * time.Millisecond))
			_, _ = fmt.Fprintf(c, "%s\n", busyMessage)
		}
		_ = c.Close()
	}
}
