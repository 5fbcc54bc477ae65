package recorder

import (
	"time"

	"RotationSentinel/internal/model"
)

// SignalRun is one delivered signal together with how it was produced.
type SignalRun struct {
	RunID       string
	At          time.Time
	Provider    string // tier that produced the signal: remote, stored or local
	Signal      *model.Signal
	Evaluations []model.Evaluation // empty unless computed locally
}

// Recorder persists historical data for analysis.
type Recorder interface {
	RecordSignal(run *SignalRun) error
	RecordAdvice(runID string, advice []model.Advice) error
	RecordSnapshot(snap model.DailySnapshot) error
	Close() error
}
