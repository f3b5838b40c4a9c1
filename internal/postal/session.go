package postal

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"postal-dispatch/internal/dispatch"
	"postal-dispatch/internal/logger"
	"postal-dispatch/internal/worker"
)

// 検索語として受け付ける最大バイト数。これを超えた分は読み捨てる
const MaxQueryBytes = 127

// プロトコル上の文字列
const (
	Prompt       = "Search ? "
	resultHeader = "Search for '%s':\n"
	resultLine   = "  %s %s %s %s\n"
)

// ErrNoQuery は検索語を受け取る前に接続が閉じられたことを示す
var ErrNoQuery = errors.New("connection closed before a query was received")

// Session は 1 接続分の検索のやり取り
type Session struct {
	db     *DB
	limit  int
	source string

	key  string
	hits int
}

// NewSession はセッションを作成する
// source はログの発生元として使う
func NewSession(db *DB, limit int, source string) *Session {
	return &Session{db: db, limit: limit, source: source}
}

// Serve はプロンプトを送り、1 行読んで検索結果を返す
func (s *Session) Serve(rw io.ReadWriter) error {
	w := bufio.NewWriter(rw)
	if _, err := w.WriteString(Prompt); err != nil {
		return fmt.Errorf("failed to write prompt: %w", err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write prompt: %w", err)
	}

	key, err := ReadQuery(bufio.NewReader(rw))
	if err != nil {
		return err
	}
	s.key = key

	records := s.db.Search(key, s.limit)
	s.hits = len(records)
	logger.Info(s.source, "Search for '%s' (%d hits)", key, s.hits)

	fmt.Fprintf(w, resultHeader, key)
	for _, r := range records {
		fmt.Fprintf(w, resultLine, r.Code, r.Pref, r.City, r.Town)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write results: %w", err)
	}
	return nil
}

// Key は受け取った検索語を返す
func (s *Session) Key() string {
	return s.key
}

// Hits は返した件数を返す
func (s *Session) Hits() int {
	return s.hits
}

// ReadQuery は LF までの 1 行を読む
// CR は捨て、MaxQueryBytes を超えた分は切り詰める
// 1 バイトも読めずに接続が閉じられた場合は ErrNoQuery を返す
func ReadQuery(r io.ByteReader) (string, error) {
	buf := make([]byte, 0, MaxQueryBytes)
	read := false
	for {
		c, err := r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if !read {
					return "", ErrNoQuery
				}
				return string(buf), nil
			}
			return "", fmt.Errorf("failed to read query: %w", err)
		}
		read = true
		switch {
		case c == '\n':
			return string(buf), nil
		case c == '\r':
		case len(buf) < MaxQueryBytes:
			buf = append(buf, c)
		}
	}
}

// Handler は接続ごとに Session を実行する Processor を返す
// 接続のクローズは Handler が行う。idleTimeout が正なら接続全体の期限とする
func Handler(db *DB, limit int, idleTimeout time.Duration) worker.Processor[*dispatch.Conn] {
	return func(ctx context.Context, workerID int, c *dispatch.Conn) error {
		defer c.Close()
		// 呼び出し元が終了したら読み込み待ちを打ち切る
		stop := context.AfterFunc(ctx, func() { _ = c.Close() })
		defer stop()

		if idleTimeout > 0 {
			if err := c.SetDeadline(time.Now().Add(idleTimeout)); err != nil {
				return fmt.Errorf("failed to set deadline: %w", err)
			}
		}

		source := fmt.Sprintf("worker#%d", workerID)
		logger.Debug(source, "Serving session %s from %s", c.SessionID, c.RemoteAddr())

		if err := NewSession(db, limit, source).Serve(c); err != nil {
			if errors.Is(err, ErrNoQuery) {
				logger.Info(source, "Session %s closed without a query", c.SessionID)
				return nil
			}
			return fmt.Errorf("session %s: %w", c.SessionID, err)
		}
		return nil
	}
}
