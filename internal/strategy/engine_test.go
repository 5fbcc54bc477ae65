package strategy

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RotationSentinel/internal/barcache"
	"RotationSentinel/internal/collector"
	"RotationSentinel/internal/model"
)

var runAt = time.Date(2026, 3, 10, 14, 40, 0, 0, cst)

func fixedClock() time.Time { return runAt }

func declining() []float64 { return linear(26, 12, 10) }

func newMock(bars map[string][]model.DailyBar) *collector.MockFetcher {
	return &collector.MockFetcher{Bars: bars, Errors: map[string]error{}, Location: cst}
}

func TestComputeSignal_Rotation(t *testing.T) {
	fetcher := newMock(map[string][]model.DailyBar{
		gold.Code:    barsFrom(evalDay, linear(26, 10, 12)...),
		nasdaq.Code:  barsFrom(evalDay, declining()...),
		chinext.Code: barsFrom(evalDay, declining()...),
	})
	repo := barcache.NewMemoryRepository(nil)
	e := NewEngine(testParams(), fetcher, repo, WithClock(fixedClock))

	sig, err := e.ComputeSignal(context.Background())
	require.NoError(t, err)

	assert.Equal(t, model.StatusRotation, sig.Status)
	assert.Equal(t, "2026-03-10", sig.Date)
	require.Len(t, sig.TargetHoldings, 1)
	target := sig.TargetHoldings[0]
	assert.Equal(t, gold.Code, target.Code)
	assert.Equal(t, gold.Name, target.Name)
	require.NotNil(t, target.CurrentPrice)
	assert.Equal(t, 12.0, *target.CurrentPrice)
	require.NotNil(t, target.Score)
	assert.Greater(t, *target.Score, 0.0)
	assert.NoError(t, sig.Validate())

	evals := e.LastEvaluations()
	require.Len(t, evals, 3)
	assert.True(t, evals[0].Accepted())
	assert.False(t, evals[1].Accepted())

	assert.Equal(t, 1, repo.Saves())
	snap, _ := repo.Load()
	assert.Len(t, snap[gold.Code], 26)
	assert.NotEmpty(t, snap[cash.Code], "defensive instrument is cached too")

	closes := e.LatestCloses()
	assert.Equal(t, 12.0, closes[gold.Name])
	assert.Contains(t, closes, cash.Name)
}

func TestComputeSignal_AllStopLossIsDefensive(t *testing.T) {
	crash := append(linear(25, 10, 12), 11.4)
	fetcher := newMock(map[string][]model.DailyBar{
		gold.Code:    barsFrom(evalDay, crash...),
		nasdaq.Code:  barsFrom(evalDay, crash...),
		chinext.Code: barsFrom(evalDay, crash...),
	})
	e := NewEngine(testParams(), fetcher, barcache.NewMemoryRepository(nil), WithClock(fixedClock))

	sig, err := e.ComputeSignal(context.Background())
	require.NoError(t, err)

	assert.Equal(t, model.StatusDefensive, sig.Status)
	assert.NotNil(t, sig.TargetHoldings)
	assert.Empty(t, sig.TargetHoldings)
	assert.Equal(t, cash.Name, sig.DefensiveInstrument)
	assert.Contains(t, sig.Message, cash.Name)
	for _, ev := range e.LastEvaluations() {
		assert.Equal(t, StepStopLoss, ev.RejectedBy)
	}
}

func TestComputeSignal_Deterministic(t *testing.T) {
	bars := map[string][]model.DailyBar{
		gold.Code:    barsFrom(evalDay, linear(26, 10, 12)...),
		nasdaq.Code:  barsFrom(evalDay, linear(26, 10, 11)...),
		chinext.Code: barsFrom(evalDay, declining()...),
	}
	encode := func() []byte {
		e := NewEngine(testParams(), newMock(bars), barcache.NewMemoryRepository(nil), WithClock(fixedClock))
		sig, err := e.ComputeSignal(context.Background())
		require.NoError(t, err)
		data, err := json.Marshal(sig)
		require.NoError(t, err)
		return data
	}
	assert.Equal(t, string(encode()), string(encode()))
}

func TestComputeSignal_SameDayDifferentClocks(t *testing.T) {
	bars := map[string][]model.DailyBar{
		gold.Code:    barsFrom(evalDay, linear(26, 10, 12)...),
		nasdaq.Code:  barsFrom(evalDay, linear(26, 10, 11)...),
		chinext.Code: barsFrom(evalDay, declining()...),
	}
	encodeAt := func(at time.Time) []byte {
		clock := func() time.Time { return at }
		e := NewEngine(testParams(), newMock(bars), barcache.NewMemoryRepository(nil), WithClock(clock))
		sig, err := e.ComputeSignal(context.Background())
		require.NoError(t, err)
		assert.Empty(t, sig.GeneratedAt)
		data, err := json.Marshal(sig)
		require.NoError(t, err)
		return data
	}
	morning := encodeAt(time.Date(2026, 3, 10, 10, 0, 0, 0, cst))
	afternoon := encodeAt(time.Date(2026, 3, 10, 14, 0, 0, 0, cst))
	assert.Equal(t, string(morning), string(afternoon))
}

func TestComputeSignal_NullCacheFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bar_cache.json")
	require.NoError(t, os.WriteFile(path, []byte("null"), 0o644))
	fetcher := newMock(map[string][]model.DailyBar{
		gold.Code: barsFrom(evalDay, linear(26, 10, 12)...),
	})
	repo := barcache.NewFileRepository(path)
	e := NewEngine(testParams(), fetcher, repo, WithClock(fixedClock))

	sig, err := e.ComputeSignal(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.StatusRotation, sig.Status)

	snap, err := repo.Load()
	require.NoError(t, err)
	assert.Len(t, snap[gold.Code], 26)
}

// timedFetcher records when each fetch starts and ends.
type timedFetcher struct {
	inner *collector.MockFetcher
	took  time.Duration

	mu     sync.Mutex
	starts []time.Time
	ends   []time.Time
}

func (f *timedFetcher) Name() string { return "timed" }

func (f *timedFetcher) FetchDailyBars(ctx context.Context, code string, start, end time.Time) ([]model.DailyBar, error) {
	f.mu.Lock()
	f.starts = append(f.starts, time.Now())
	f.mu.Unlock()
	time.Sleep(f.took)
	bars, err := f.inner.FetchDailyBars(ctx, code, start, end)
	f.mu.Lock()
	f.ends = append(f.ends, time.Now())
	f.mu.Unlock()
	return bars, err
}

func TestComputeSignal_DelayFollowsEachFetch(t *testing.T) {
	p := testParams()
	p.FetchDelayMS = 20
	f := &timedFetcher{
		inner: newMock(map[string][]model.DailyBar{
			gold.Code: barsFrom(evalDay, linear(26, 10, 12)...),
		}),
		took: 30 * time.Millisecond,
	}
	e := NewEngine(p, f, barcache.NewMemoryRepository(nil), WithClock(fixedClock))

	_, err := e.ComputeSignal(context.Background())
	require.NoError(t, err)

	require.Len(t, f.starts, 4)
	for i := 1; i < len(f.starts); i++ {
		gap := f.starts[i].Sub(f.ends[i-1])
		assert.GreaterOrEqual(t, gap, p.FetchDelay(), "pause before fetch %d", i)
	}
}

func TestComputeSignal_FailureIsolation(t *testing.T) {
	fetcher := newMock(map[string][]model.DailyBar{
		gold.Code: barsFrom(evalDay, linear(26, 10, 12)...),
	})
	fetcher.Errors[nasdaq.Code] = model.ErrNetworkFailure
	fetcher.Errors[chinext.Code] = model.ErrRateLimited

	// chinext has a stale but stronger cache; nasdaq has nothing.
	repo := barcache.NewMemoryRepository(barcache.Snapshot{
		chinext.Code: barsFrom(evalDay.AddDate(0, 0, -1), linear(26, 10, 13)...),
	})
	e := NewEngine(testParams(), fetcher, repo, WithClock(fixedClock))

	sig, err := e.ComputeSignal(context.Background())
	require.NoError(t, err)
	require.Len(t, sig.TargetHoldings, 1)
	assert.Equal(t, chinext.Code, sig.TargetHoldings[0].Code, "stale cache still scores")

	var nasdaqEval model.Evaluation
	for _, ev := range e.LastEvaluations() {
		if ev.Instrument == nasdaq {
			nasdaqEval = ev
		}
	}
	assert.Equal(t, "insufficient_history", nasdaqEval.RejectedBy)
}

func TestComputeSignal_AllSourcesFailed(t *testing.T) {
	fetcher := newMock(nil)
	fetcher.Errors = map[string]error{
		gold.Code:    model.ErrNetworkFailure,
		nasdaq.Code:  model.ErrNoData,
		chinext.Code: model.ErrRateLimited,
	}
	e := NewEngine(testParams(), fetcher, barcache.NewMemoryRepository(nil), WithClock(fixedClock))

	sig, err := e.ComputeSignal(context.Background())
	assert.Nil(t, sig)
	require.ErrorIs(t, err, model.ErrAllSourcesFailed)
	assert.ErrorIs(t, err, model.ErrDataUnavailable)
	assert.ErrorIs(t, err, model.ErrRateLimited)
}

// gatedFetcher blocks its first fetch until released.
type gatedFetcher struct {
	inner   *collector.MockFetcher
	started chan struct{}
	release chan struct{}
	once    sync.Once
	calls   atomic.Int32
}

func (g *gatedFetcher) Name() string { return "gated" }

func (g *gatedFetcher) FetchDailyBars(ctx context.Context, code string, start, end time.Time) ([]model.DailyBar, error) {
	g.calls.Add(1)
	g.once.Do(func() {
		close(g.started)
		<-g.release
	})
	return g.inner.FetchDailyBars(ctx, code, start, end)
}

func TestComputeSignal_ConcurrentCallsShareOneRun(t *testing.T) {
	g := &gatedFetcher{
		inner: newMock(map[string][]model.DailyBar{
			gold.Code: barsFrom(evalDay, linear(26, 10, 12)...),
		}),
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	repo := barcache.NewMemoryRepository(nil)
	e := NewEngine(testParams(), g, repo, WithClock(fixedClock))

	results := make([]*model.Signal, 2)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], _ = e.ComputeSignal(context.Background())
	}()
	<-g.started
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1], _ = e.ComputeSignal(context.Background())
	}()
	time.Sleep(50 * time.Millisecond)
	close(g.release)
	wg.Wait()

	require.NotNil(t, results[0])
	require.NotNil(t, results[1])
	assert.Equal(t, results[0], results[1])
	assert.NotSame(t, results[0], results[1], "each caller gets its own copy")
	assert.Equal(t, int32(4), g.calls.Load(), "one fetch per instrument")
	assert.Equal(t, 1, repo.Saves())
}

func TestComputeSignal_OneCallerGivingUpKeepsSharedRun(t *testing.T) {
	g := &gatedFetcher{
		inner: newMock(map[string][]model.DailyBar{
			gold.Code: barsFrom(evalDay, linear(26, 10, 12)...),
		}),
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	repo := barcache.NewMemoryRepository(nil)
	e := NewEngine(testParams(), g, repo, WithClock(fixedClock))

	first, cancelFirst := context.WithCancel(context.Background())
	defer cancelFirst()
	firstErr := make(chan error, 1)
	go func() {
		_, err := e.ComputeSignal(first)
		firstErr <- err
	}()
	<-g.started

	var second *model.Signal
	var secondErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		second, secondErr = e.ComputeSignal(context.Background())
	}()
	time.Sleep(50 * time.Millisecond)

	cancelFirst()
	assert.ErrorIs(t, <-firstErr, context.Canceled)
	close(g.release)
	<-done

	require.NoError(t, secondErr)
	require.NotNil(t, second)
	assert.Equal(t, model.StatusRotation, second.Status)
	assert.Equal(t, int32(4), g.calls.Load(), "the shared run was not restarted")
	assert.Equal(t, 1, repo.Saves())
}

// cancellingFetcher cancels the run when it reaches code.
type cancellingFetcher struct {
	inner  *collector.MockFetcher
	code   string
	cancel context.CancelFunc
}

func (c *cancellingFetcher) Name() string { return "cancelling" }

func (c *cancellingFetcher) FetchDailyBars(ctx context.Context, code string, start, end time.Time) ([]model.DailyBar, error) {
	if code == c.code {
		c.cancel()
		return nil, context.Canceled
	}
	return c.inner.FetchDailyBars(ctx, code, start, end)
}

func TestComputeSignal_CancellationKeepsMergedBars(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := &cancellingFetcher{
		inner: newMock(map[string][]model.DailyBar{
			gold.Code: barsFrom(evalDay, linear(26, 10, 12)...),
		}),
		code:   nasdaq.Code,
		cancel: cancel,
	}
	repo := barcache.NewMemoryRepository(nil)
	e := NewEngine(testParams(), f, repo, WithClock(fixedClock))

	sig, err := e.ComputeSignal(ctx)
	assert.Nil(t, sig)
	require.ErrorIs(t, err, context.Canceled)

	assert.Eventually(t, func() bool {
		snap, _ := repo.Load()
		return len(snap[gold.Code]) == 26
	}, time.Second, 10*time.Millisecond)
}

func TestComputeSignal_IncrementalRefresh(t *testing.T) {
	all := barsFrom(evalDay.AddDate(0, 0, 1), linear(27, 10, 12.1)...)
	fetcher := newMock(map[string][]model.DailyBar{gold.Code: all[:26]})
	repo := barcache.NewMemoryRepository(nil)
	now := runAt
	e := NewEngine(testParams(), fetcher, repo, WithClock(func() time.Time { return now }))

	_, err := e.ComputeSignal(context.Background())
	require.NoError(t, err)

	// Next day the source revises yesterday's close and adds today.
	revised := append([]model.DailyBar(nil), all...)
	revised[25].Close = 11.95
	fetcher.Bars[gold.Code] = revised
	now = runAt.AddDate(0, 0, 1)

	sig, err := e.ComputeSignal(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2026-03-11", sig.Date)

	snap, _ := repo.Load()
	series := snap[gold.Code]
	require.Len(t, series, 27)
	assert.Equal(t, 11.95, series[25].Close, "last cached day is replaced by the refetch")
}

func TestRank_TieBreakByCode(t *testing.T) {
	p := testParams()
	same := barsFrom(evalDay, linear(26, 10, 12)...)
	snap := barcache.Snapshot{gold.Code: same, nasdaq.Code: same, chinext.Code: same}

	sig, evals := Rank(p, snap, runAt)
	require.Len(t, sig.TargetHoldings, 1)
	assert.Equal(t, chinext.Code, sig.TargetHoldings[0].Code)
	assert.Len(t, evals, 3)

	p.Pool = []model.Instrument{chinext, nasdaq, gold}
	sig2, _ := Rank(p, snap, runAt)
	assert.Equal(t, sig.TargetHoldings, sig2.TargetHoldings, "pool order does not matter")
}

func TestRank_TopNByScore(t *testing.T) {
	p := testParams()
	p.HoldingsNum = 2
	snap := barcache.Snapshot{
		gold.Code:    barsFrom(evalDay, linear(26, 10, 11)...),
		nasdaq.Code:  barsFrom(evalDay, linear(26, 10, 12)...),
		chinext.Code: barsFrom(evalDay, linear(26, 10, 10.5)...),
	}

	sig, _ := Rank(p, snap, runAt)
	require.Len(t, sig.TargetHoldings, 2)
	assert.Equal(t, nasdaq.Code, sig.TargetHoldings[0].Code)
	assert.Equal(t, gold.Code, sig.TargetHoldings[1].Code)
	assert.GreaterOrEqual(t, *sig.TargetHoldings[0].Score, *sig.TargetHoldings[1].Score)
}

func TestRank_EmptySnapshotIsDefensive(t *testing.T) {
	sig, evals := Rank(testParams(), barcache.Snapshot{}, runAt)
	assert.Equal(t, model.StatusDefensive, sig.Status)
	for _, ev := range evals {
		assert.Equal(t, "insufficient_history", ev.RejectedBy)
	}
	assert.NoError(t, sig.Validate())
}
