package recorder

import "RotationSentinel/internal/model"

// NoopRecorder is a no-op implementation used when SQLite is not configured.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (n *NoopRecorder) RecordSignal(_ *SignalRun) error               { return nil }
func (n *NoopRecorder) RecordAdvice(_ string, _ []model.Advice) error { return nil }
func (n *NoopRecorder) RecordSnapshot(_ model.DailySnapshot) error    { return nil }
func (n *NoopRecorder) Close() error                                  { return nil }
