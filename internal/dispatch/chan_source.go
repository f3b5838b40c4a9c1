package dispatch

import (
	"io"
	"time"
)

// ChanSource はチャネルから作業単位を受け付ける Source
// プロセス内の生産者をリスナーにつなぐ場合に使う
type ChanSource[T any] struct {
	ch   <-chan T
	poll time.Duration
}

// NewChanSource は ch を読む Source を作成する
func NewChanSource[T any](ch <-chan T, poll time.Duration) *ChanSource[T] {
	if poll <= 0 {
		poll = time.Second
	}
	return &ChanSource[T]{ch: ch, poll: poll}
}

// Accept は 1 件受け取る。poll の間に届かなければ ErrNoWork、
// チャネルが閉じられたら io.EOF を返す
func (s *ChanSource[T]) Accept() (T, error) {
	var zero T
	timer := time.NewTimer(s.poll)
	defer timer.Stop()

	select {
	case item, ok := <-s.ch:
		if !ok {
			return zero, io.EOF
		}
		return item, nil
	case <-timer.C:
		return zero, ErrNoWork
	}
}
