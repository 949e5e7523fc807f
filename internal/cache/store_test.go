package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"treasury-lens/internal/fetch"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestStore[V any](clock *fakeClock) *Store[V] {
	return New[V]("test", Config{FreshTTL: time.Minute, StaleTTL: 10 * time.Minute}, WithClock(clock.Now))
}

type snapshot struct {
	Total float64
}

func TestStore_ConcurrentCallersShareOneLoad(t *testing.T) {
	store := newTestStore[*snapshot](newFakeClock())

	var calls atomic.Int32
	release := make(chan struct{})
	load := func(context.Context) (*snapshot, error) {
		calls.Add(1)
		<-release
		return &snapshot{Total: 2250}, nil
	}

	const n = 20
	results := make([]*snapshot, n)
	var started, done sync.WaitGroup
	started.Add(n)
	done.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer done.Done()
			started.Done()
			v, err := store.Get(context.Background(), "wallet-1", load)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}
	started.Wait()
	time.Sleep(20 * time.Millisecond)
	close(release)
	done.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		assert.Same(t, results[0], r)
	}
}

func TestStore_ConcurrentCallersShareOneError(t *testing.T) {
	store := newTestStore[int](newFakeClock())

	var calls atomic.Int32
	release := make(chan struct{})
	wantErr := errors.New("all endpoints failed")

	const n = 10
	errs := make([]error, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			_, errs[i] = store.Get(context.Background(), "k", func(context.Context) (int, error) {
				calls.Add(1)
				<-release
				return 0, wantErr
			})
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, err := range errs {
		assert.ErrorIs(t, err, wantErr)
	}
}

func TestStore_FreshEntrySkipsLoad(t *testing.T) {
	clock := newFakeClock()
	store := newTestStore[int](clock)
	ctx := context.Background()

	calls := 0
	load := func(context.Context) (int, error) {
		calls++
		return calls, nil
	}

	v, err := store.Get(ctx, "k", load)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	clock.Advance(59 * time.Second)
	v, err = store.Get(ctx, "k", load)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.Equal(t, 1, calls)

	clock.Advance(2 * time.Second)
	v, err = store.Get(ctx, "k", load)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
	assert.Equal(t, 2, calls)
}

func TestStore_StaleFallbackOnFailure(t *testing.T) {
	clock := newFakeClock()
	store := newTestStore[string](clock)
	ctx := context.Background()

	_, err := store.Get(ctx, "k", func(context.Context) (string, error) { return "v1", nil })
	require.NoError(t, err)

	clock.Advance(5 * time.Minute)
	v, err := store.Get(ctx, "k", func(context.Context) (string, error) {
		return "", fetch.New(fetch.KindNetwork, "getBalance", errors.New("connection reset"))
	})
	require.NoError(t, err)
	assert.Equal(t, "v1", v)
}

func TestStore_NoFallbackPastStaleTTL(t *testing.T) {
	clock := newFakeClock()
	store := newTestStore[string](clock)
	ctx := context.Background()

	_, err := store.Get(ctx, "k", func(context.Context) (string, error) { return "v1", nil })
	require.NoError(t, err)

	clock.Advance(11 * time.Minute)
	_, err = store.Get(ctx, "k", func(context.Context) (string, error) {
		return "", errors.New("down")
	})
	assert.EqualError(t, err, "down")
}

func TestStore_FailedLoadReleasesSlot(t *testing.T) {
	store := newTestStore[int](newFakeClock())
	ctx := context.Background()

	_, err := store.Get(ctx, "k", func(context.Context) (int, error) { return 0, errors.New("first") })
	require.Error(t, err)

	v, err := store.Get(ctx, "k", func(context.Context) (int, error) { return 9, nil })
	require.NoError(t, err)
	assert.Equal(t, 9, v)
}

func TestStore_PanicInLoadReleasesSlot(t *testing.T) {
	store := newTestStore[int](newFakeClock())
	ctx := context.Background()

	_, err := store.Get(ctx, "k", func(context.Context) (int, error) { panic("decode") })
	require.ErrorContains(t, err, "panicked")

	v, err := store.Get(ctx, "k", func(context.Context) (int, error) { return 3, nil })
	require.NoError(t, err)
	assert.Equal(t, 3, v)
}

func TestStore_CanceledWaiterDoesNotAbortSharedLoad(t *testing.T) {
	store := newTestStore[int](newFakeClock())

	release := make(chan struct{})
	var loadCtxErr atomic.Value
	load := func(ctx context.Context) (int, error) {
		<-release
		if ctx.Err() != nil {
			loadCtxErr.Store(ctx.Err())
		}
		return 5, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := store.Get(ctx, "k", load)
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()
	err := <-errCh
	assert.Equal(t, fetch.KindCanceled, fetch.KindOf(err))

	waiter := make(chan int, 1)
	go func() {
		v, _ := store.Get(context.Background(), "k", load)
		waiter <- v
	}()
	time.Sleep(10 * time.Millisecond)
	close(release)

	assert.Equal(t, 5, <-waiter)
	assert.Nil(t, loadCtxErr.Load())
}

func TestStore_InvalidateAndPurge(t *testing.T) {
	clock := newFakeClock()
	store := newTestStore[int](clock)

	store.Set("a", 1)
	store.Set("b", 2)
	store.Invalidate("a")
	_, _, ok := store.Peek("a")
	assert.False(t, ok)

	clock.Advance(time.Minute)
	store.Set("c", 3)
	clock.Advance(9*time.Minute + time.Second)

	assert.Equal(t, 1, store.PurgeExpired())
	_, updated, ok := store.Peek("c")
	assert.True(t, ok)
	assert.Equal(t, clock.Now().Add(-9*time.Minute-time.Second), updated)
	assert.Equal(t, 1, store.Len())
}

func TestStore_InvalidateDuringLoadDiscardsResult(t *testing.T) {
	store := newTestStore[int](newFakeClock())

	var loads atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	slow := func(context.Context) (int, error) {
		loads.Add(1)
		close(started)
		<-release
		return 1, nil
	}

	first := make(chan int, 1)
	go func() {
		v, _ := store.Get(context.Background(), "k", slow)
		first <- v
	}()
	<-started

	store.Invalidate("k")

	// A caller after the invalidation does not join the old load.
	v, err := store.Get(context.Background(), "k", func(context.Context) (int, error) {
		loads.Add(1)
		return 2, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	close(release)
	assert.Equal(t, 1, <-first, "waiters of the old load still get its result")

	v, err = store.Get(context.Background(), "k", func(context.Context) (int, error) {
		loads.Add(1)
		return 3, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, v, "the invalidated result must not replace the newer entry")
	assert.Equal(t, int32(2), loads.Load())
}

func TestStore_InvalidateDuringLoadForcesReload(t *testing.T) {
	store := newTestStore[int](newFakeClock())

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = store.Get(context.Background(), "k", func(context.Context) (int, error) {
			close(started)
			<-release
			return 1, nil
		})
	}()
	<-started
	store.Invalidate("k")
	close(release)
	<-done

	_, _, ok := store.Peek("k")
	require.False(t, ok, "a load invalidated midway stores nothing")

	var loads atomic.Int32
	v, err := store.Get(context.Background(), "k", func(context.Context) (int, error) {
		loads.Add(1)
		return 2, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, v)
	assert.Equal(t, int32(1), loads.Load())
}

func TestConfig_Defaults(t *testing.T) {
	cfg := Config{FreshTTL: 20 * time.Minute}.withDefaults()
	assert.Equal(t, 20*time.Minute, cfg.StaleTTL)
	assert.Equal(t, DefaultMaxEntries, cfg.MaxEntries)
}
