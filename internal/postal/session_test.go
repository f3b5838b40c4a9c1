package postal

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"postal-dispatch/internal/dispatch"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeConn struct {
	io.Reader
	io.Writer
}

func serve(t *testing.T, db *DB, limit int, input string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := NewSession(db, limit, "test").Serve(fakeConn{Reader: strings.NewReader(input), Writer: &out})
	return out.String(), err
}

func TestSessionServe(t *testing.T) {
	db := loadSample(t)

	out, err := serve(t, db, 10, "中央区\r\n")
	require.NoError(t, err)
	assert.Equal(t, "Search ? "+
		"Search for '中央区':\n"+
		"  0600000 北海道 札幌市中央区 以下に掲載がない場合\n"+
		"  0640941 北海道 札幌市中央区 旭ケ丘\n", out)
}

func TestSessionNoHits(t *testing.T) {
	db := loadSample(t)

	out, err := serve(t, db, 10, "大阪\n")
	require.NoError(t, err)
	assert.Equal(t, "Search ? Search for '大阪':\n", out)
}

func TestSessionRecordsKeyAndHits(t *testing.T) {
	db := loadSample(t)
	s := NewSession(db, 1, "test")

	err := s.Serve(fakeConn{Reader: strings.NewReader("北海道\n"), Writer: io.Discard})
	require.NoError(t, err)
	assert.Equal(t, "北海道", s.Key())
	assert.Equal(t, 1, s.Hits())
}

func TestSessionClosedBeforeQuery(t *testing.T) {
	db := loadSample(t)

	out, err := serve(t, db, 10, "")
	assert.ErrorIs(t, err, ErrNoQuery)
	assert.Equal(t, Prompt, out)
}

type failWriter struct{}

func (failWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestSessionWriteError(t *testing.T) {
	db := loadSample(t)
	err := NewSession(db, 10, "test").Serve(fakeConn{Reader: strings.NewReader("x\n"), Writer: failWriter{}})
	assert.Error(t, err)
}

func TestReadQuery(t *testing.T) {
	long := strings.Repeat("a", 200)

	tests := []struct {
		name  string
		input string
		want  string
		err   error
	}{
		{"line", "1000001\n", "1000001", nil},
		{"crlf", "1000001\r\n", "1000001", nil},
		{"cr inside", "10\r00\r001\n", "1000001", nil},
		{"eof without newline", "渋谷", "渋谷", nil},
		{"empty line", "\n", "", nil},
		{"truncated", long + "\n", long[:MaxQueryBytes], nil},
		{"closed", "", "", ErrNoQuery},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReadQuery(bufio.NewReader(strings.NewReader(tt.input)))
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// pipeConn はワーカー側の *dispatch.Conn とクライアント側の net.Conn を返す
func pipeConn(t *testing.T) (*dispatch.Conn, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() { _ = client.Close() })
	return &dispatch.Conn{Conn: server, SessionID: "session-1", AcceptedAt: time.Now()}, client
}

func TestHandler(t *testing.T) {
	db := loadSample(t)
	conn, client := pipeConn(t)

	done := make(chan error, 1)
	go func() { done <- Handler(db, 10, time.Second)(context.Background(), 1, conn) }()

	_ = client.SetDeadline(time.Now().Add(2 * time.Second))
	r := bufio.NewReader(client)
	prompt := make([]byte, len(Prompt))
	_, err := io.ReadFull(r, prompt)
	require.NoError(t, err)
	assert.Equal(t, Prompt, string(prompt))

	_, err = io.WriteString(client, "1000001\n")
	require.NoError(t, err)

	rest, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "Search for '1000001':\n  1000001 東京都 千代田区 千代田\n", string(rest))

	require.NoError(t, <-done)
}

func TestHandlerClientHangsUp(t *testing.T) {
	db := loadSample(t)
	conn, client := pipeConn(t)

	done := make(chan error, 1)
	go func() { done <- Handler(db, 10, time.Second)(context.Background(), 2, conn) }()

	prompt := make([]byte, len(Prompt))
	_, err := io.ReadFull(client, prompt)
	require.NoError(t, err)
	require.NoError(t, client.Close())

	// 検索語なしで切断されてもエラーにはしない
	assert.NoError(t, <-done)
}

func TestHandlerIdleTimeout(t *testing.T) {
	db := loadSample(t)
	conn, client := pipeConn(t)

	done := make(chan error, 1)
	go func() { done <- Handler(db, 10, 50*time.Millisecond)(context.Background(), 3, conn) }()

	prompt := make([]byte, len(Prompt))
	_, err := io.ReadFull(client, prompt)
	require.NoError(t, err)

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not time out")
	}
}

func TestHandlerCanceled(t *testing.T) {
	db := loadSample(t)
	conn, client := pipeConn(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Handler(db, 10, 0)(ctx, 4, conn) }()

	prompt := make([]byte, len(Prompt))
	_, err := io.ReadFull(client, prompt)
	require.NoError(t, err)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not return after cancel")
	}
}
