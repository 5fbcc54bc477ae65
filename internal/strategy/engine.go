package strategy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"RotationSentinel/internal/barcache"
	"RotationSentinel/internal/collector"
	"RotationSentinel/internal/config"
	"RotationSentinel/internal/metrics"
	"RotationSentinel/internal/model"
)

// Engine refreshes the bar cache and ranks the fund pool into a Signal.
// Only one computation runs at a time; concurrent callers share its result.
type Engine struct {
	params  config.Strategy
	fetcher collector.Fetcher
	repo    barcache.Repository
	log     zerolog.Logger
	now     func() time.Time
	flight  singleflight.Group

	fmu      sync.Mutex
	inflight *flightCall
	gen      int

	mu          sync.Mutex
	cache       barcache.Snapshot
	loaded      bool
	evaluations []model.Evaluation
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// NewEngine creates an engine. params must already be validated.
func NewEngine(params config.Strategy, fetcher collector.Fetcher, repo barcache.Repository, opts ...Option) *Engine {
	e := &Engine{
		params:  params,
		fetcher: fetcher,
		repo:    repo,
		log:     zerolog.Nop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Params returns the engine's immutable parameters.
func (e *Engine) Params() config.Strategy { return e.params }

// flightCall is one shared computation. Its context is detached from
// every caller and cancelled only once all of them have given up.
type flightCall struct {
	key     string
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// ComputeSignal runs load → fetch → score → persist. A call made while
// another is in flight waits for and returns that run's result. A caller
// whose ctx ends stops waiting without cutting the run short for the others.
func (e *Engine) ComputeSignal(ctx context.Context) (*model.Signal, error) {
	call := e.join(ctx)
	ch := e.flight.DoChan(call.key, func() (any, error) {
		defer e.finish(call)
		return e.run(call.ctx)
	})
	select {
	case <-ctx.Done():
		e.leave(call)
		return nil, ctx.Err()
	case res := <-ch:
		e.leave(call)
		if res.Err != nil {
			return nil, res.Err
		}
		return cloneSignal(res.Val.(*model.Signal)), nil
	}
}

func (e *Engine) join(ctx context.Context) *flightCall {
	e.fmu.Lock()
	defer e.fmu.Unlock()
	if e.inflight == nil {
		e.gen++
		runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		e.inflight = &flightCall{key: fmt.Sprintf("signal-%d", e.gen), ctx: runCtx, cancel: cancel}
	}
	e.inflight.waiters++
	return e.inflight
}

// leave drops one waiter; the last one out cancels a run still in progress
// and lets the next caller start a fresh one.
func (e *Engine) leave(call *flightCall) {
	e.fmu.Lock()
	defer e.fmu.Unlock()
	call.waiters--
	if call.waiters > 0 {
		return
	}
	call.cancel()
	if e.inflight == call {
		e.inflight = nil
	}
}

func (e *Engine) finish(call *flightCall) {
	e.fmu.Lock()
	defer e.fmu.Unlock()
	if e.inflight == call {
		e.inflight = nil
	}
}

func (e *Engine) run(ctx context.Context) (*model.Signal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.loaded {
		snap, err := e.repo.Load()
		if err != nil {
			e.log.Warn().Err(err).Msg("bar cache load failed, starting empty")
		}
		if err != nil || snap == nil {
			snap = barcache.Snapshot{}
		}
		e.cache = snap
		e.loaded = true
		e.log.Info().Int("instruments", len(snap)).Msg("bar cache loaded")
	}

	now := e.now()
	today := barcache.CalendarDay(now, e.params.Location())

	failures, err := e.refresh(ctx, today)
	if err != nil {
		// Bars merged before cancellation stay valid.
		e.save()
		metrics.SignalRuns.WithLabelValues("cancelled").Inc()
		return nil, err
	}

	usable := 0
	for _, inst := range e.params.Pool {
		if len(e.cache[inst.Code]) > 0 {
			usable++
		}
	}
	if usable == 0 {
		metrics.SignalRuns.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("%w: %w", model.ErrAllSourcesFailed, errors.Join(failures...))
	}

	sig, evals := Rank(e.params, e.cache, now)
	e.evaluations = evals
	for _, ev := range evals {
		switch {
		case ev.Accepted():
			metrics.InstrumentScore.WithLabelValues(ev.Instrument.Code).Set(ev.Score.Score)
		case ev.RejectedBy != "":
			metrics.CandidateRejections.WithLabelValues(ev.RejectedBy).Inc()
		}
	}

	e.save()
	metrics.SignalRuns.WithLabelValues(string(sig.Status)).Inc()
	e.log.Info().
		Str("status", string(sig.Status)).
		Int("targets", len(sig.TargetHoldings)).
		Int("unavailable", len(failures)).
		Msg("signal computed")
	return sig, nil
}

// refresh fetches missing bars one instrument at a time, pausing the
// configured delay after each request. A failed fetch keeps the stale cache
// when there is one; otherwise it is reported as data unavailable. Only
// cancellation aborts the loop.
func (e *Engine) refresh(ctx context.Context, today time.Time) ([]error, error) {
	loc := e.params.Location()
	instruments := append(append([]model.Instrument(nil), e.params.Pool...), e.params.Defensive)

	var failures []error
	for i, inst := range instruments {
		if i > 0 {
			if err := pause(ctx, e.params.FetchDelay()); err != nil {
				return failures, fmt.Errorf("refresh interrupted before %s: %w", inst.Code, err)
			}
		}

		series := e.cache[inst.Code]
		start, replace := barcache.RefreshStart(series, today, e.params.WindowSize)
		bars, err := e.fetcher.FetchDailyBars(ctx, inst.Code, start, today)
		if err != nil {
			if ctx.Err() != nil {
				return failures, fmt.Errorf("refresh interrupted at %s: %w", inst.Code, ctx.Err())
			}
			metrics.FetchFailures.WithLabelValues(inst.Code, model.ErrorKind(err)).Inc()
			if len(series) > 0 {
				e.log.Warn().Err(err).Str("instrument", inst.Code).Msg("fetch failed, using cached bars")
				continue
			}
			e.log.Error().Err(err).Str("instrument", inst.Code).Msg("fetch failed with no cache, excluding")
			failures = append(failures, fmt.Errorf("%w: %s: %w", model.ErrDataUnavailable, inst.Code, err))
			continue
		}

		for i := range bars {
			bars[i].Date = barcache.CalendarDay(bars[i].Date, loc)
		}
		e.cache[inst.Code] = barcache.Apply(series, bars, start, replace, e.params.WindowSize)
		e.log.Debug().Str("instrument", inst.Code).Int("fetched", len(bars)).Int("cached", len(e.cache[inst.Code])).Msg("bars merged")
	}
	return failures, nil
}

// pause waits d, or less if ctx ends first.
func pause(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (e *Engine) save() {
	if err := e.repo.Save(e.cache); err != nil {
		metrics.CacheSaveFailures.Inc()
		e.log.Error().Err(err).Msg("bar cache save failed")
	}
}

// LastEvaluations returns the per-candidate explanations of the last run.
func (e *Engine) LastEvaluations() []model.Evaluation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]model.Evaluation(nil), e.evaluations...)
}

// LatestCloses returns the newest cached close keyed by instrument name.
func (e *Engine) LatestCloses() map[string]float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[string]float64)
	for _, inst := range append(append([]model.Instrument(nil), e.params.Pool...), e.params.Defensive) {
		if last, ok := e.cache[inst.Code].Last(); ok {
			out[inst.Name] = last.Close
		}
	}
	return out
}

// Rank scores every pool instrument in snap and builds the signal for the
// calendar day of now. It is pure: the same snapshot and day always give the
// same signal. GeneratedAt is left for the caller that publishes it.
func Rank(params config.Strategy, snap barcache.Snapshot, now time.Time) (*model.Signal, []model.Evaluation) {
	loc := params.Location()
	today := barcache.CalendarDay(now, loc)

	evals := make([]model.Evaluation, 0, len(params.Pool))
	var scores []model.Score
	for _, inst := range params.Pool {
		ev := Evaluate(params, inst, snap[inst.Code])
		evals = append(evals, ev)
		if ev.Accepted() {
			scores = append(scores, *ev.Score)
		}
	}

	// Ties fall back to instrument code so ranking never depends on input order.
	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		return scores[i].Instrument.Code < scores[j].Instrument.Code
	})
	if len(scores) > params.HoldingsNum {
		scores = scores[:params.HoldingsNum]
	}

	sig := &model.Signal{
		Date:                today.Format("2006-01-02"),
		TargetHoldings:      []model.TargetHolding{},
		DefensiveInstrument: params.Defensive.Name,
	}
	if len(scores) == 0 {
		sig.Status = model.StatusDefensive
		sig.Message = fmt.Sprintf("无符合条件的ETF，建议持有 %s", params.Defensive.Name)
		return sig, evals
	}

	sig.Status = model.StatusRotation
	for _, s := range scores {
		score, price := s.Score, s.CurrentPrice
		sig.TargetHoldings = append(sig.TargetHoldings, model.TargetHolding{
			Code:         s.Instrument.Code,
			Name:         s.Instrument.Name,
			Score:        &score,
			CurrentPrice: &price,
		})
	}
	return sig, evals
}

func cloneSignal(s *model.Signal) *model.Signal {
	out := *s
	out.TargetHoldings = make([]model.TargetHolding, len(s.TargetHoldings))
	for i, t := range s.TargetHoldings {
		if t.Score != nil {
			v := *t.Score
			t.Score = &v
		}
		if t.CurrentPrice != nil {
			v := *t.CurrentPrice
			t.CurrentPrice = &v
		}
		out.TargetHoldings[i] = t
	}
	return &out
}
