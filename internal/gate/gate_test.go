package gate

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("rejects zero capacity", func(t *testing.T) {
		_, err := New(0)
		require.ErrorIs(t, err, ErrInvalidCapacity)
	})

	t.Run("starts empty", func(t *testing.T) {
		g, err := New(3)
		require.NoError(t, err)
		assert.Equal(t, 3, g.Capacity())
		assert.Equal(t, 0, g.Held())
		assert.False(t, g.IsSaturated())
	})
}

func TestGate_NeverExceedsCapacity(t *testing.T) {
	for _, capacity := range []int{1, 2, 4} {
		g, err := New(capacity)
		require.NoError(t, err)

		var (
			inside  atomic.Int64
			maxSeen atomic.Int64
			wg      sync.WaitGroup
		)
		for i := 0; i < 32; i++ {
			wg.Add(1)
			go func(seed int64) {
				defer wg.Done()
				r := rand.New(rand.NewSource(seed))
				for j := 0; j < 20; j++ {
					var p *Permit
					switch r.Intn(3) {
					case 0:
						p, _ = g.Acquire(context.Background())
					case 1:
						p, _ = g.TryAcquireImmediate()
					default:
						p, _ = g.TryAcquireWithin(context.Background(), time.Millisecond)
					}
					if p == nil {
						continue
					}
					n := inside.Add(1)
					for {
						m := maxSeen.Load()
						if n <= m || maxSeen.CompareAndSwap(m, n) {
							break
						}
					}
					held := g.Held()
					assert.LessOrEqual(t, held, capacity)
					assert.GreaterOrEqual(t, held, 0)
					time.Sleep(time.Duration(r.Intn(200)) * time.Microsecond)
					inside.Add(-1)
					p.Release()
				}
			}(int64(i))
		}
		wg.Wait()

		assert.LessOrEqual(t, maxSeen.Load(), int64(capacity))
		assert.Equal(t, 0, g.Held())
	}
}

func TestGate_TryAcquireImmediate(t *testing.T) {
	t.Run("succeeds when a slot is free", func(t *testing.T) {
		g, _ := New(2)
		p, ok := g.TryAcquireImmediate()
		require.True(t, ok)
		assert.Equal(t, 1, g.Held())
		p.Release()
		assert.Equal(t, 0, g.Held())
	})

	t.Run("fails without side effects when full", func(t *testing.T) {
		g, _ := New(1)
		holder, ok := g.TryAcquireImmediate()
		require.True(t, ok)
		defer holder.Release()

		p, ok := g.TryAcquireImmediate()
		assert.False(t, ok)
		assert.Nil(t, p)
		assert.Equal(t, 1, g.Held())
		assert.True(t, g.IsSaturated())
	})

	t.Run("tolerates a release inside the slack window", func(t *testing.T) {
		g, _ := New(1, WithImmediateSlack(200*time.Millisecond))
		holder, _ := g.TryAcquireImmediate()
		go func() {
			time.Sleep(10 * time.Millisecond)
			holder.Release()
		}()

		p, ok := g.TryAcquireImmediate()
		require.True(t, ok)
		p.Release()
	})
}

func TestGate_TryAcquireWithin(t *testing.T) {
	t.Run("zero timeout is a non-waiting probe", func(t *testing.T) {
		g, _ := New(1)
		holder, _ := g.Acquire(context.Background())
		go func() {
			time.Sleep(50 * time.Millisecond)
			holder.Release()
		}()

		start := time.Now()
		_, ok := g.TryAcquireWithin(context.Background(), 0)
		assert.False(t, ok)
		assert.Less(t, time.Since(start), 40*time.Millisecond)
	})

	t.Run("zero timeout succeeds on a free gate", func(t *testing.T) {
		g, _ := New(1)
		p, ok := g.TryAcquireWithin(context.Background(), 0)
		require.True(t, ok)
		p.Release()
	})

	t.Run("times out after the deadline", func(t *testing.T) {
		g, _ := New(1)
		holder, _ := g.Acquire(context.Background())
		defer holder.Release()

		start := time.Now()
		_, ok := g.TryAcquireWithin(context.Background(), 100*time.Millisecond)
		elapsed := time.Since(start)

		assert.False(t, ok)
		assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
		assert.Less(t, elapsed, time.Second)
		assert.Equal(t, 1, g.Held())
	})

	t.Run("succeeds when released during the wait", func(t *testing.T) {
		g, _ := New(1)
		holder, _ := g.Acquire(context.Background())
		go func() {
			time.Sleep(20 * time.Millisecond)
			holder.Release()
		}()

		p, ok := g.TryAcquireWithin(context.Background(), time.Second)
		require.True(t, ok)
		p.Release()
	})

	t.Run("caller cancellation ends the wait", func(t *testing.T) {
		g, _ := New(1)
		holder, _ := g.Acquire(context.Background())
		defer holder.Release()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, ok := g.TryAcquireWithin(ctx, time.Minute)
		assert.False(t, ok)
	})
}

func TestGate_Acquire(t *testing.T) {
	t.Run("blocks until release", func(t *testing.T) {
		g, _ := New(1)
		holder, _ := g.Acquire(context.Background())

		acquired := make(chan *Permit)
		go func() {
			p, err := g.Acquire(context.Background())
			assert.NoError(t, err)
			acquired <- p
		}()

		select {
		case <-acquired:
			t.Fatal("acquired while gate was full")
		case <-time.After(50 * time.Millisecond):
		}

		holder.Release()
		p := <-acquired
		p.Release()
	})

	t.Run("returns context error and holds nothing", func(t *testing.T) {
		g, _ := New(1)
		holder, _ := g.Acquire(context.Background())
		defer holder.Release()

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		p, err := g.Acquire(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Nil(t, p)
		assert.Equal(t, 1, g.Held())
	})
}

func TestPermit_ReleaseIsIdempotent(t *testing.T) {
	g, _ := New(1)
	p, _ := g.Acquire(context.Background())

	p.Release()
	p.Release()
	assert.True(t, p.Released())
	assert.Equal(t, 0, g.Held())

	// The slot must be acquirable exactly once more.
	q, ok := g.TryAcquireWithin(context.Background(), 0)
	require.True(t, ok)
	_, ok = g.TryAcquireWithin(context.Background(), 0)
	assert.False(t, ok)
	q.Release()

	var nilPermit *Permit
	nilPermit.Release()
}

func TestGate_Stats(t *testing.T) {
	g, _ := New(2)
	p, _ := g.Acquire(context.Background())
	defer p.Release()

	assert.Equal(t, Stats{Capacity: 2, Held: 1, Saturated: false}, g.Stats())
}
