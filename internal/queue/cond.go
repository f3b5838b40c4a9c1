package queue

import (
	"sync"
	"time"
)

// cond はミューテックスに結び付いた条件変数
// sync.Cond には期限付きの待ちが無いので、待ち手ごとのチャネルで組み立てる。
// signal/broadcast/waitUntil はすべて l を保持した状態で呼ぶこと
type cond struct {
	l       sync.Locker
	waiters []chan bool // true: 通知, false: 破棄
}

func newCond(l sync.Locker) *cond {
	return &cond{l: l}
}

// signal は待ち手を最大 1 つ起こす
func (c *cond) signal() {
	if len(c.waiters) == 0 {
		return
	}
	ch := c.waiters[0]
	c.waiters[0] = nil
	c.waiters = c.waiters[1:]
	ch <- true
}

// broadcast は全ての待ち手を起こす
func (c *cond) broadcast() {
	for _, ch := range c.waiters {
		ch <- true
	}
	c.waiters = nil
}

// destroy は残っている待ち手に破棄を知らせる
func (c *cond) destroy() {
	for _, ch := range c.waiters {
		ch <- false
	}
	c.waiters = nil
}

// waitUntil は l を解放して通知・期限・キャンセルのいずれかを待ち、l を再取得して戻る
// 通知で起きた場合 nil、期限切れは errTimedOut、done が閉じたら errCanceled、
// 待っている間に破棄された場合は errCondDestroyed を返す。
// 通知されても条件が成立しているとは限らないので、呼び出し側はループで再確認する
func (c *cond) waitUntil(done <-chan struct{}, deadline time.Time) error {
	d := Remaining(deadline)
	if d <= 0 {
		return errTimedOut
	}

	ch := make(chan bool, 1)
	c.waiters = append(c.waiters, ch)
	c.l.Unlock()

	timer := time.NewTimer(d)
	var err error
	select {
	case ok := <-ch:
		if !ok {
			err = errCondDestroyed
		}
	case <-timer.C:
		err = errTimedOut
	case <-done:
		err = errCanceled
	}
	timer.Stop()

	c.l.Lock()
	if err == errTimedOut || err == errCanceled {
		c.remove(ch)
	}
	return err
}

// remove は待ち手の登録を取り消す（既に通知済みなら何もしない）
func (c *cond) remove(ch chan bool) {
	for i, w := range c.waiters {
		if w == ch {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			return
		}
	}
}
