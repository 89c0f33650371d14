package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.ntppool.org/common/logger"

	"go.ntppool.org/dnsresults/aggregator"
)

type mockRefresher struct {
	RefreshFn func(ctx context.Context) (*aggregator.Snapshot, error)
	calls     atomic.Int32
}

func (m *mockRefresher) Refresh(ctx context.Context) (*aggregator.Snapshot, error) {
	n := m.calls.Add(1)
	if m.RefreshFn != nil {
		return m.RefreshFn(ctx)
	}
	return &aggregator.Snapshot{ID: string(rune('a' + n - 1)), CollectedAt: time.Now()}, nil
}

type clock struct {
	lock sync.Mutex
	t    time.Time
}

func (c *clock) now() time.Time {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.t = c.t.Add(d)
}

func newTestCache(src Refresher, opts Options) (*Cache, *clock) {
	clk := &clock{t: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)}
	c := New(logger.Setup(), src, opts, nil)
	c.now = clk.now
	return c, clk
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("on-read")
	require.NoError(t, err)
	assert.Equal(t, ModeOnRead, m)

	_, err = ParseMode("sometimes")
	assert.Error(t, err)
}

func TestOnReadStates(t *testing.T) {
	src := &mockRefresher{}
	c, clk := newTestCache(src, Options{Mode: ModeOnRead})
	src.RefreshFn = func(context.Context) (*aggregator.Snapshot, error) {
		return &aggregator.Snapshot{ID: clk.now().Format(time.RFC3339), CollectedAt: clk.now()}, nil
	}
	ctx := context.Background()

	assert.Equal(t, Empty, c.State())

	first := c.Get(ctx)
	require.NotNil(t, first)
	assert.Equal(t, Fresh, c.State())
	assert.Equal(t, int32(1), src.calls.Load())

	clk.advance(59 * time.Second)
	second := c.Get(ctx)
	assert.Same(t, first, second, "reads within the freshness window return the same snapshot")
	assert.Equal(t, int32(1), src.calls.Load())

	clk.advance(time.Second)
	assert.Equal(t, Stale, c.State())
	third := c.Get(ctx)
	assert.NotSame(t, first, third)
	assert.Equal(t, int32(2), src.calls.Load())
	assert.Equal(t, Fresh, c.State())
}

func TestBackgroundReadsDontRefresh(t *testing.T) {
	src := &mockRefresher{}
	c, clk := newTestCache(src, Options{Mode: ModeBackground})
	ctx := context.Background()

	assert.Nil(t, c.Get(ctx), "empty cache returns no snapshot")
	assert.Equal(t, int32(0), src.calls.Load())

	_, err := c.Refresh(ctx)
	require.NoError(t, err)
	snap := c.Get(ctx)
	require.NotNil(t, snap)

	clk.advance(time.Hour)
	assert.Equal(t, Stale, c.State())
	assert.Same(t, snap, c.Get(ctx))
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestFailedRefreshKeepsSnapshot(t *testing.T) {
	upstream := errors.New("upstream down")
	fail := false

	src := &mockRefresher{}
	src.RefreshFn = func(context.Context) (*aggregator.Snapshot, error) {
		if fail {
			return nil, upstream
		}
		return &aggregator.Snapshot{ID: "good", CollectedAt: time.Now()}, nil
	}
	c, clk := newTestCache(src, Options{Mode: ModeOnRead})
	ctx := context.Background()

	good := c.Get(ctx)
	require.NotNil(t, good)

	fail = true
	clk.advance(2 * time.Minute)

	snap, err := c.Refresh(ctx)
	assert.ErrorIs(t, err, upstream)
	assert.Same(t, good, snap)

	// readers still get the stale snapshot, without an error
	assert.Same(t, good, c.Get(ctx))
}

func TestFailedFirstRefresh(t *testing.T) {
	src := &mockRefresher{RefreshFn: func(context.Context) (*aggregator.Snapshot, error) {
		return nil, errors.New("nope")
	}}
	c, _ := newTestCache(src, Options{Mode: ModeOnRead})

	assert.Nil(t, c.Get(context.Background()))
	assert.Equal(t, Empty, c.State())
}

func TestPartialSnapshotIsStored(t *testing.T) {
	perr := &aggregator.PartialDataError{Missing: []aggregator.MissingData{{Monitor: "a", Stage: aggregator.StageSummary}}}
	src := &mockRefresher{RefreshFn: func(context.Context) (*aggregator.Snapshot, error) {
		return &aggregator.Snapshot{ID: "partial", CollectedAt: time.Now()}, perr
	}}
	c, _ := newTestCache(src, Options{})

	var published []string
	c.AddPublisher(PublisherFunc(func(_ context.Context, snap *aggregator.Snapshot) {
		published = append(published, snap.ID)
	}))

	snap, err := c.Refresh(context.Background())
	assert.ErrorAs(t, err, &perr)
	require.NotNil(t, snap)
	assert.Equal(t, "partial", c.Current().ID)
	assert.Equal(t, []string{"partial"}, published)
}

func TestConcurrentRefreshRunsOnce(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 10)

	src := &mockRefresher{}
	src.RefreshFn = func(context.Context) (*aggregator.Snapshot, error) {
		started <- struct{}{}
		<-release
		return &aggregator.Snapshot{ID: "shared", CollectedAt: time.Now()}, nil
	}
	c, _ := newTestCache(src, Options{Mode: ModeOnRead})

	const readers = 8
	results := make([]*aggregator.Snapshot, readers)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0] = c.Get(context.Background())
	}()
	<-started

	for i := 1; i < readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = c.Get(context.Background())
		}()
	}

	// let the other readers join the cycle in flight
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), src.calls.Load())
	for _, r := range results {
		require.NotNil(t, r)
		assert.Equal(t, "shared", r.ID)
	}
}

func TestRefreshCallerCancelled(t *testing.T) {
	release := make(chan struct{})
	finished := make(chan struct{})

	src := &mockRefresher{}
	src.RefreshFn = func(ctx context.Context) (*aggregator.Snapshot, error) {
		defer close(finished)
		<-release
		// the cycle itself isn't cancelled
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return &aggregator.Snapshot{ID: "late", CollectedAt: time.Now()}, nil
	}
	c, _ := newTestCache(src, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		_, err := c.Refresh(ctx)
		done <- err
	}()

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(release)
	<-finished
	require.Eventually(t, func() bool { return c.Current() != nil }, time.Second, 10*time.Millisecond)
	assert.Equal(t, "late", c.Current().ID)
}

func TestSnapshotAgeMetric(t *testing.T) {
	reg := prometheus.NewRegistry()
	src := &mockRefresher{}
	c := New(logger.Setup(), src, Options{}, reg)
	clk := &clock{t: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)}
	c.now = clk.now
	src.RefreshFn = func(context.Context) (*aggregator.Snapshot, error) {
		return &aggregator.Snapshot{CollectedAt: clk.now()}, nil
	}

	count, err := testutil.GatherAndCount(reg, "dnsresults_snapshot_age_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, err = c.Refresh(context.Background())
	require.NoError(t, err)
	clk.advance(90 * time.Second)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, mfs, 1)
	assert.Equal(t, 90.0, mfs[0].GetMetric()[0].GetGauge().GetValue())
}

func TestRunRefreshesUntilCancelled(t *testing.T) {
	var calls atomic.Int32
	src := &mockRefresher{}
	src.RefreshFn = func(context.Context) (*aggregator.Snapshot, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("first cycle fails")
		}
		return &aggregator.Snapshot{ID: "ok", CollectedAt: time.Now()}, nil
	}
	c, _ := newTestCache(src, Options{Interval: 20 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
	require.NotNil(t, c.Current())
	assert.Equal(t, "ok", c.Current().ID)
}
