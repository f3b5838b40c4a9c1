package queue

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"postal-dispatch/internal/logger"
)

// fatal は回復不能な同期エラーで呼ばれる。テストでは差し替える
var fatal = logger.Fatal

// Queue は固定容量のリングバッファによるスレッドセーフなキュー
//
// 書き込み位置 wp と読み出し位置 rp の 2 つのカーソルで管理し、
// 満杯と空を区別するためにスロットを 1 つ余分に確保する（容量 N に対して N+1）。
// wp == rp なら空、(wp+1) mod (N+1) == rp なら満杯。
type Queue[T any] struct {
	capacity int // 作成後は変わらないのでロック不要

	mu        sync.Mutex
	cond      *cond
	data      []T
	slots     int // len(data) = capacity+1
	wp        int
	rp        int
	destroyed bool

	pushed   uint64
	rejected uint64
	popped   uint64
}

// Stats はキューのスナップショット
type Stats struct {
	Size      int    `json:"size"`
	Count     int    `json:"count"`
	FreeCount int    `json:"free_count"`
	Pushed    uint64 `json:"pushed"`
	Rejected  uint64 `json:"rejected"`
	Popped    uint64 `json:"popped"`
}

// New は最大 capacity 要素のキューを作成する
// capacity が 0 以下なら ErrInvalidCapacity、領域を確保できなければ ErrAllocation を返す
func New[T any](capacity int) (*Queue[T], error) {
	if capacity <= 0 {
		return nil, ErrInvalidCapacity
	}
	if capacity == math.MaxInt {
		return nil, fmt.Errorf("%w: capacity %d overflows the ring size", ErrAllocation, capacity)
	}

	data, err := allocate[T](capacity + 1)
	if err != nil {
		return nil, err
	}

	q := &Queue[T]{
		capacity: capacity,
		data:     data,
		slots:    capacity + 1,
	}
	q.cond = newCond(&q.mu)
	return q, nil
}

// allocate はリングバッファの領域を確保する
// 要素サイズとの積が溢れる場合の makeslice の panic はエラーに変換する
func allocate[T any](n int) (data []T, err error) {
	defer func() {
		if r := recover(); r != nil {
			data = nil
			err = fmt.Errorf("%w: %v", ErrAllocation, r)
		}
	}()
	return make([]T, n), nil
}

// Destroy はキューの領域を解放する。nil に対しては何もしない
//
// Wait でブロックしているゴルーチンが無いことは呼び出し側が保証すること。
// 待ち手が残っていた場合、その待ち手は致命的エラーとしてプロセスを終了させる。
func (q *Queue[T]) Destroy() {
	if q == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.destroyed {
		return
	}
	q.destroyed = true
	q.data = nil
	q.wp, q.rp = 0, 0
	q.cond.destroy()
}

// Size は最大要素数を返す
func (q *Queue[T]) Size() int {
	if q == nil {
		return 0
	}
	return q.capacity
}

// Count は現在の要素数を返す
// 戻った直後に他のゴルーチンが値を変えうるので、診断用途に限ること
func (q *Queue[T]) Count() int {
	if q == nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count()
}

// FreeCount は現在の空き要素数を返す
func (q *Queue[T]) FreeCount() int {
	if q == nil {
		return 0
	}
	return q.capacity - q.Count()
}

// count は要素数を計算する。q.mu を保持して呼ぶ
func (q *Queue[T]) count() int {
	if q.wp < q.rp {
		// 書き込み位置がバッファ境界をまたいでいる
		return q.slots + q.wp - q.rp
	}
	return q.wp - q.rp
}

// Push は要素を追加する
// 満杯の場合はブロックせずに false を返す。追加できたら待ち手を 1 つ起こす
func (q *Queue[T]) Push(item T) bool {
	if q == nil {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.destroyed {
		return false
	}

	next := q.wp + 1
	if next >= q.slots {
		next -= q.slots
	}
	if next == q.rp {
		// 追加すると読み出し位置に追いつく
		q.rejected++
		return false
	}

	q.data[q.wp] = item
	q.wp = next
	q.pushed++
	q.cond.signal()
	return true
}

// Pop は先頭の要素を取り出す。空ならブロックせずに false を返す
func (q *Queue[T]) Pop() (T, bool) {
	var zero T
	if q == nil {
		return zero, false
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.rp == q.wp {
		return zero, false
	}

	item := q.data[q.rp]
	q.data[q.rp] = zero // 参照を残さない
	q.rp++
	if q.rp >= q.slots {
		q.rp -= q.slots
	}
	q.popped++
	return item, true
}

// Wait は要素が入るのを最大 timeoutMs ミリ秒待つ
// 既に要素があれば待たずに true を返す。期限までに空のままなら false。
// true が返っても直後の Pop で他のゴルーチンに先を越されることはある
func (q *Queue[T]) Wait(timeoutMs int64) bool {
	return q.waitUntil(nil, Deadline(timeoutMs))
}

// WaitContext は Wait と同じだが、ctx が終了した時点でも待ちをやめる
func (q *Queue[T]) WaitContext(ctx context.Context, timeout time.Duration) bool {
	return q.waitUntil(ctx.Done(), time.Now().Add(timeout))
}

func (q *Queue[T]) waitUntil(done <-chan struct{}, deadline time.Time) bool {
	if q == nil {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.destroyed {
		return false
	}

	for q.wp == q.rp {
		err := q.cond.waitUntil(done, deadline)
		if err == nil {
			// 通知されたが他の待ち手に取られているかもしれないので再確認
			continue
		}
		if err == errTimedOut || err == errCanceled {
			break
		}
		fatal("queue", "Fatal error on timed wait: %v", err)
		return false
	}
	// アンロック前に読み出せる要素があるかを確認しておく
	return q.wp != q.rp
}

// Stats はキューのスナップショットを返す
func (q *Queue[T]) Stats() Stats {
	if q == nil {
		return Stats{}
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	count := q.count()
	return Stats{
		Size:      q.capacity,
		Count:     count,
		FreeCount: q.capacity - count,
		Pushed:    q.pushed,
		Rejected:  q.rejected,
		Popped:    q.popped,
	}
}
