// Package scheduler runs the daily signal and snapshot jobs and answers chat commands.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"RotationSentinel/internal/id"
	"RotationSentinel/internal/model"
	"RotationSentinel/internal/notifier"
	"RotationSentinel/internal/portfolio"
	"RotationSentinel/internal/provider"
	"RotationSentinel/internal/reconciler"
	"RotationSentinel/internal/recorder"
)

// SignalSource resolves a signal. *provider.Chain satisfies it.
type SignalSource interface {
	Resolve(ctx context.Context) (provider.Result, error)
}

// Market exposes what the local engine learned on its last run.
type Market interface {
	LastEvaluations() []model.Evaluation
	LatestCloses() map[string]float64
}

// Sender delivers chat messages.
type Sender interface {
	SendWithRetry(ctx context.Context, text string, maxRetries int) error
}

// Deps are the collaborators the scheduler drives.
type Deps struct {
	Chain     SignalSource
	Local     SignalSource // used by /refresh; falls back to Chain when nil
	Market    Market
	Portfolio *portfolio.Manager
	Recorder  recorder.Recorder
	Notifier  Sender // nil disables notifications
}

// Scheduler manages all cron tasks.
type Scheduler struct {
	Cron *cron.Cron
	Deps
	Ctx context.Context
	log zerolog.Logger
	now func() time.Time

	mu   sync.Mutex
	last *provider.Result
}

// NewScheduler creates a scheduler whose cron specs are read in loc.
func NewScheduler(ctx context.Context, deps Deps, loc *time.Location, log zerolog.Logger) *Scheduler {
	if deps.Local == nil {
		deps.Local = deps.Chain
	}
	if deps.Recorder == nil {
		deps.Recorder = recorder.NewNoopRecorder()
	}
	return &Scheduler{
		Cron: cron.New(cron.WithSeconds(), cron.WithLocation(loc)),
		Deps: deps,
		Ctx:  ctx,
		log:  log,
		now:  time.Now,
	}
}

// RegisterAll registers the signal and end-of-day snapshot tasks.
func (s *Scheduler) RegisterAll(signalCron, snapshotCron string) error {
	if _, err := s.Cron.AddFunc(signalCron, s.signalTask); err != nil {
		return fmt.Errorf("register signal task: %w", err)
	}
	if _, err := s.Cron.AddFunc(snapshotCron, s.snapshotTask); err != nil {
		return fmt.Errorf("register snapshot task: %w", err)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	s.log.Info().Int("jobs", len(s.Cron.Entries())).Msg("scheduler started")
}

// Stop stops the cron scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	s.log.Info().Msg("scheduler stopped")
}

// RunSignalNow executes the signal task immediately (for manual trigger / RUN_ON_START).
func (s *Scheduler) RunSignalNow() {
	s.signalTask()
}

// RunSnapshotNow executes the snapshot task immediately.
func (s *Scheduler) RunSnapshotNow() {
	s.snapshotTask()
}

func (s *Scheduler) signalTask() {
	s.log.Info().Msg("running signal task")
	report, err := s.signalReport(s.Ctx, s.Chain)
	if err != nil {
		s.log.Error().Err(err).Msg("signal task failed")
		s.trySend(fmt.Sprintf("❌ 信号获取失败: %v", err))
		return
	}
	s.trySend(report)
}

// signalReport resolves a signal from src, records it with its advice and
// renders the full report.
func (s *Scheduler) signalReport(ctx context.Context, src SignalSource) (string, error) {
	res, err := src.Resolve(ctx)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.last = &res
	s.mu.Unlock()

	p := s.Portfolio.Portfolio()
	advice := reconciler.Advise(p, res.Signal)

	run := &recorder.SignalRun{
		RunID:    id.New(),
		At:       s.now(),
		Provider: res.Provider,
		Signal:   res.Signal,
	}
	if res.Provider == "local" && s.Market != nil {
		run.Evaluations = s.Market.LastEvaluations()
	}
	if err := s.Recorder.RecordSignal(run); err != nil {
		s.log.Error().Err(err).Msg("record signal")
	}
	if err := s.Recorder.RecordAdvice(run.RunID, advice); err != nil {
		s.log.Error().Err(err).Msg("record advice")
	}

	var b strings.Builder
	b.WriteString(notifier.FormatSignal(res.Signal, res.Provider))
	if ev := notifier.FormatEvaluations(run.Evaluations); ev != "" {
		b.WriteString("\n" + ev)
	}
	b.WriteString("\n" + notifier.FormatAdvice(advice))
	if p.StrategyConfig.FreePlayPercent > 0 && len(p.Holdings) > 0 {
		b.WriteString("\n" + notifier.FormatClassified(reconciler.Classify(p, res.Signal)))
	}
	if !s.Portfolio.IsUpdatedToday() {
		b.WriteString("\n⚠️ 今日尚未更新持仓，建议先更新持仓再参考操作建议\n")
	}
	return b.String(), nil
}

func (s *Scheduler) snapshotTask() {
	s.log.Info().Msg("running snapshot task")
	report, err := s.snapshotReport()
	if err != nil {
		s.log.Error().Err(err).Msg("snapshot task failed")
		return
	}
	s.trySend(report)
}

func (s *Scheduler) snapshotReport() (string, error) {
	var closes map[string]float64
	if s.Market != nil {
		closes = s.Market.LatestCloses()
	}
	snap, err := s.Portfolio.TakeSnapshot(s.Portfolio.Today(), closes)
	if err != nil {
		return "", fmt.Errorf("take snapshot: %w", err)
	}
	if err := s.Recorder.RecordSnapshot(snap); err != nil {
		s.log.Error().Err(err).Msg("record snapshot")
	}
	return fmt.Sprintf("📸 <b>日终快照</b> | %s\n\n持仓 %d 只 | 总资产 ¥%.2f\n",
		snap.Date, len(snap.Holdings), snap.TotalAssets()), nil
}

// lastSignal returns the signal from the last resolution, resolving if none.
func (s *Scheduler) lastSignal(ctx context.Context) (provider.Result, error) {
	s.mu.Lock()
	last := s.last
	s.mu.Unlock()
	if last != nil {
		return *last, nil
	}
	res, err := s.Chain.Resolve(ctx)
	if err != nil {
		return provider.Result{}, err
	}
	s.mu.Lock()
	s.last = &res
	s.mu.Unlock()
	return res, nil
}

const helpText = "可用命令:\n• /signal 查看今日信号\n• /advice 查看操作建议\n• /portfolio 查看账户状态\n• /refresh 本地重新计算信号\n• /snapshot 记录日终快照"

// HandleCommand processes a user command and returns a reply.
func (s *Scheduler) HandleCommand(ctx context.Context, command string) string {
	var verb string
	if f := strings.Fields(command); len(f) > 0 {
		verb = f[0]
	}
	switch verb {
	case "/signal", "查看信号":
		report, err := s.signalReport(ctx, s.Chain)
		if err != nil {
			return fmt.Sprintf("❌ 信号获取失败: %v", err)
		}
		return report
	case "/refresh", "重新计算":
		report, err := s.signalReport(ctx, s.Local)
		if err != nil {
			return fmt.Sprintf("❌ 本地计算失败: %v", err)
		}
		return report
	case "/advice", "操作建议":
		res, err := s.lastSignal(ctx)
		if err != nil {
			return fmt.Sprintf("❌ 信号获取失败: %v", err)
		}
		return notifier.FormatAdvice(reconciler.Advise(s.Portfolio.Portfolio(), res.Signal))
	case "/portfolio", "账户状态":
		return notifier.FormatPortfolio(s.Portfolio.Portfolio())
	case "/snapshot", "日终快照":
		report, err := s.snapshotReport()
		if err != nil {
			return fmt.Sprintf("❌ 快照失败: %v", err)
		}
		return report
	default:
		return helpText
	}
}

func (s *Scheduler) trySend(text string) {
	if s.Notifier == nil {
		return
	}
	if err := s.Notifier.SendWithRetry(s.Ctx, text, 3); err != nil {
		s.log.Error().Err(err).Msg("send notification")
	}
}
