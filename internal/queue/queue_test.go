package queue

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestNew(t *testing.T) {
	t.Run("zero capacity", func(t *testing.T) {
		q, err := New[int](0)
		require.ErrorIs(t, err, ErrInvalidCapacity)
		assert.Nil(t, q)
	})

	t.Run("negative capacity", func(t *testing.T) {
		q, err := New[int](-3)
		require.ErrorIs(t, err, ErrInvalidCapacity)
		assert.Nil(t, q)
	})

	t.Run("ring size overflow", func(t *testing.T) {
		q, err := New[int](math.MaxInt)
		require.ErrorIs(t, err, ErrAllocation)
		assert.Nil(t, q)
	})

	t.Run("storage too large", func(t *testing.T) {
		q, err := New[[1 << 20]byte](1 << 50)
		require.ErrorIs(t, err, ErrAllocation)
		assert.Nil(t, q)
	})

	t.Run("empty after creation", func(t *testing.T) {
		q, err := New[int](5)
		require.NoError(t, err)
		defer q.Destroy()

		assert.Equal(t, 5, q.Size())
		assert.Equal(t, 0, q.Count())
		assert.Equal(t, 5, q.FreeCount())
	})
}

func TestNilQueue(t *testing.T) {
	var q *Queue[int]

	assert.NotPanics(t, func() { q.Destroy() })
	assert.Equal(t, 0, q.Size())
	assert.Equal(t, 0, q.Count())
	assert.Equal(t, 0, q.FreeCount())
	assert.False(t, q.Push(1))
	_, ok := q.Pop()
	assert.False(t, ok)
	assert.False(t, q.Wait(10))
	assert.Equal(t, Stats{}, q.Stats())
}

func TestDestroyTwice(t *testing.T) {
	q, err := New[int](2)
	require.NoError(t, err)

	q.Destroy()
	assert.NotPanics(t, func() { q.Destroy() })
	assert.False(t, q.Push(1))
	_, ok := q.Pop()
	assert.False(t, ok)
	assert.False(t, q.Wait(10))
}

// 容量 3 での追加・取り出し・巡回の一連の動作
func TestPushPopWrapAround(t *testing.T) {
	q, err := New[int](3)
	require.NoError(t, err)
	defer q.Destroy()

	assert.True(t, q.Push(1))
	assert.True(t, q.Push(2))
	assert.True(t, q.Push(3))
	assert.False(t, q.Push(4), "push into a full queue must fail")

	v, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, 1, v)

	assert.True(t, q.Push(4))

	for _, want := range []int{2, 3, 4} {
		v, ok := q.Pop()
		require.True(t, ok)
		assert.Equal(t, want, v)
	}

	_, ok = q.Pop()
	assert.False(t, ok)
}

func TestCountAfterRandomInterleaving(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	for _, capacity := range []int{1, 2, 3, 7, 64} {
		q, err := New[int](capacity)
		require.NoError(t, err)

		pushes, pops := 0, 0
		next, expect := 0, 0
		for range 2000 {
			if rng.Intn(2) == 0 {
				ok := q.Push(next)
				assert.Equal(t, pushes-pops < capacity, ok, "push must succeed iff count < capacity")
				if ok {
					pushes++
					next++
				}
			} else {
				v, ok := q.Pop()
				assert.Equal(t, pushes-pops > 0, ok)
				if ok {
					pops++
					assert.Equal(t, expect, v, "items must come out in push order")
					expect++
				}
			}
			require.Equal(t, pushes-pops, q.Count())
			require.Equal(t, capacity-(pushes-pops), q.FreeCount())
		}

		s := q.Stats()
		assert.Equal(t, uint64(pushes), s.Pushed)
		assert.Equal(t, uint64(pops), s.Popped)
		assert.Equal(t, pushes-pops, s.Count)
		q.Destroy()
	}
}

func TestPushNeverBlocksWhenFull(t *testing.T) {
	q, err := New[int](1)
	require.NoError(t, err)
	defer q.Destroy()

	require.True(t, q.Push(1))

	start := time.Now()
	for range 1000 {
		assert.False(t, q.Push(2))
	}
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, uint64(1000), q.Stats().Rejected)
}

func TestPopReleasesSlot(t *testing.T) {
	q, err := New[*int](1)
	require.NoError(t, err)
	defer q.Destroy()

	v := 7
	require.True(t, q.Push(&v))
	_, ok := q.Pop()
	require.True(t, ok)

	q.mu.Lock()
	defer q.mu.Unlock()
	for i, p := range q.data {
		assert.Nil(t, p, "slot %d still holds a reference", i)
	}
}

func TestWaitReturnsImmediatelyWhenNotEmpty(t *testing.T) {
	q, err := New[int](2)
	require.NoError(t, err)
	defer q.Destroy()

	require.True(t, q.Push(1))

	start := time.Now()
	assert.True(t, q.Wait(5000))
	assert.Less(t, time.Since(start), time.Second)

	// Wait は要素を消費しない
	assert.Equal(t, 1, q.Count())
}

func TestWaitTimesOut(t *testing.T) {
	q, err := New[int](2)
	require.NoError(t, err)
	defer q.Destroy()

	start := time.Now()
	assert.False(t, q.Wait(50))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestWaitNonPositiveTimeout(t *testing.T) {
	q, err := New[int](2)
	require.NoError(t, err)
	defer q.Destroy()

	assert.False(t, q.Wait(0))
	assert.False(t, q.Wait(-100))

	require.True(t, q.Push(1))
	assert.True(t, q.Wait(0))
	assert.True(t, q.Wait(-100))
}

func TestWaitWokenByPush(t *testing.T) {
	q, err := New[int](2)
	require.NoError(t, err)
	defer q.Destroy()

	result := make(chan bool)
	start := time.Now()
	go func() {
		result <- q.Wait(5000)
	}()

	time.Sleep(20 * time.Millisecond)
	require.True(t, q.Push(1))

	select {
	case ok := <-result:
		assert.True(t, ok)
		assert.Less(t, time.Since(start), 2*time.Second)
	case <-time.After(3 * time.Second):
		t.Fatal("Wait was not woken by Push")
	}
}

func TestWaitContextCanceled(t *testing.T) {
	q, err := New[int](2)
	require.NoError(t, err)
	defer q.Destroy()

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan bool)
	go func() {
		result <- q.WaitContext(ctx, time.Minute)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case ok := <-result:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("WaitContext did not return after cancel")
	}

	// 取り消した待ち手は登録から外れている
	q.mu.Lock()
	assert.Empty(t, q.cond.waiters)
	q.mu.Unlock()
}

// 競合する消費者がいる場合、Wait が true でも Pop が空振りすることがある
func TestWaitThenPopRace(t *testing.T) {
	q, err := New[int](1)
	require.NoError(t, err)
	defer q.Destroy()

	require.True(t, q.Push(1))
	require.True(t, q.Wait(10))

	_, ok := q.Pop() // 別の消費者に先を越された
	require.True(t, ok)

	_, ok = q.Pop()
	assert.False(t, ok, "the second consumer sees an empty queue, which is benign")
}

func TestSignalWakesOneWaiter(t *testing.T) {
	q, err := New[int](4)
	require.NoError(t, err)
	defer q.Destroy()

	const waiters = 3
	var woke atomic.Int32
	var wg sync.WaitGroup
	for range waiters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if q.Wait(300) {
				if _, ok := q.Pop(); ok {
					woke.Add(1)
				}
			}
		}()
	}

	// 全員が待ちに入るまで待つ
	require.Eventually(t, func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()
		return len(q.cond.waiters) == waiters
	}, time.Second, time.Millisecond)

	require.True(t, q.Push(1))
	wg.Wait()

	assert.Equal(t, int32(1), woke.Load())
}

func TestManyProducersOneConsumer(t *testing.T) {
	const (
		producers = 8
		perWorker = 500
	)
	q, err := New[int](16)
	require.NoError(t, err)
	defer q.Destroy()

	var stop atomic.Bool
	seen := make(map[int]int)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if !q.Wait(10) {
				if stop.Load() && q.Count() == 0 {
					return
				}
				continue
			}
			v, ok := q.Pop()
			if !ok {
				continue
			}
			seen[v]++
		}
	}()

	var wg sync.WaitGroup
	for p := range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perWorker {
				v := p*perWorker + i
				for !q.Push(v) {
					time.Sleep(time.Microsecond)
				}
			}
		}()
	}
	wg.Wait()
	stop.Store(true)
	<-done

	assert.Len(t, seen, producers*perWorker, "no item may be lost")
	for v, n := range seen {
		if n != 1 {
			t.Errorf("item %d delivered %d times", v, n)
		}
	}
}

// Point は座標の組。キューは値としてコピーする
type Point struct {
	X, Y float64
}

func TestPointPayloadIntegrity(t *testing.T) {
	const (
		producers = 100
		repeat    = 10
	)
	q, err := New[Point](10000)
	require.NoError(t, err)
	defer q.Destroy()

	var stop atomic.Bool
	var received, broken atomic.Int32
	done := make(chan struct{})
	go func() {
		defer close(done)
		for !stop.Load() || q.Count() > 0 {
			if !q.Wait(10) {
				continue
			}
			p, ok := q.Pop()
			if !ok {
				continue
			}
			if p.X != p.Y {
				broken.Add(1)
			}
			received.Add(1)
		}
	}()

	var wg sync.WaitGroup
	for i := range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(i)))
			for range repeat {
				x := rng.Float64() * 10000
				assert.True(t, q.Push(Point{X: x, Y: x}))
				time.Sleep(time.Duration(rng.Intn(3)) * time.Millisecond)
			}
		}()
	}
	wg.Wait()
	stop.Store(true)
	<-done

	assert.Equal(t, int32(producers*repeat), received.Load())
	assert.Zero(t, broken.Load())
}

func TestDestroyWithBlockedWaiterIsFatal(t *testing.T) {
	var called atomic.Bool
	orig := fatal
	fatal = func(source, format string, args ...any) { called.Store(true) }
	defer func() { fatal = orig }()

	q, err := New[int](1)
	require.NoError(t, err)

	result := make(chan bool)
	go func() {
		result <- q.Wait(5000)
	}()

	require.Eventually(t, func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()
		return len(q.cond.waiters) == 1
	}, time.Second, time.Millisecond)

	q.Destroy()

	select {
	case ok := <-result:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter did not return after Destroy")
	}
	assert.True(t, called.Load())
}
