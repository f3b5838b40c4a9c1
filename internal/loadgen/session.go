package loadgen

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
	"time"

	"postal-dispatch/internal/logger"
	"postal-dispatch/internal/postal"
)

// Outcome は 1 セッションの結果
type Outcome int

const (
	OutcomeServed Outcome = iota
	OutcomeRejected
	OutcomeFailed
)

// String はOutcomeの文字列表現を返す
func (o Outcome) String() string {
	switch o {
	case OutcomeServed:
		return "Served"
	case OutcomeRejected:
		return "Rejected"
	case OutcomeFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Lookup は 1 回の検索セッションを行い、結果の行数を返す
// プロンプトの前に閉じられた接続は拒否とみなす
func Lookup(ctx context.Context, addr, query string, timeout time.Duration) (Outcome, int, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return OutcomeFailed, 0, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	defer conn.Close()

	if timeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
			return OutcomeFailed, 0, fmt.Errorf("failed to set deadline: %w", err)
		}
	}

	r := bufio.NewReader(conn)
	prompt := make([]byte, len(postal.Prompt))
	if _, err := io.ReadFull(r, prompt); err != nil {
		if rejected(err) {
			return OutcomeRejected, 0, nil
		}
		return OutcomeFailed, 0, fmt.Errorf("failed to read prompt: %w", err)
	}
	if string(prompt) != postal.Prompt {
		// 満杯時の通知メッセージ
		return OutcomeRejected, 0, nil
	}

	if _, err := io.WriteString(conn, query+"\n"); err != nil {
		return OutcomeFailed, 0, fmt.Errorf("failed to send query: %w", err)
	}

	header, err := r.ReadString('\n')
	if err != nil {
		return OutcomeFailed, 0, fmt.Errorf("failed to read result header: %w", err)
	}
	if !strings.HasPrefix(header, "Search for '") {
		return OutcomeFailed, 0, fmt.Errorf("unexpected result header %q", header)
	}

	lines := 0
	for {
		_, err := r.ReadString('\n')
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return OutcomeFailed, lines, fmt.Errorf("failed to read results: %w", err)
		}
		lines++
	}
	return OutcomeServed, lines, nil
}

func rejected(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET)
}

// session はワーカーから呼ばれる 1 接続分の処理
func (c *Client) session(ctx context.Context, workerID int, seq int) error {
	start := time.Now()
	outcome, lines, err := Lookup(ctx, c.config.Addr, c.config.Query, c.config.Timeout)
	latency := time.Since(start)

	switch outcome {
	case OutcomeServed:
		c.served.Add(1)
		c.lines.Add(uint64(lines))
		c.metrics.RecordSuccess(latency)
	case OutcomeRejected:
		c.rejects.Add(1)
		c.metrics.RecordRejected()
		logger.Debug(fmt.Sprintf("loadgen#%d", workerID), "Connection %d rejected", seq)
	default:
		c.failed.Add(1)
		c.metrics.RecordFailure(latency)
	}
	return err
}
