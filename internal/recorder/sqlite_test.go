package recorder

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RotationSentinel/internal/model"
)

func openTestRecorder(t *testing.T) *SQLiteRecorder {
	t.Helper()
	r, err := NewSQLiteRecorder(filepath.Join(t.TempDir(), "history.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestSQLiteRecorder_RecordSignal(t *testing.T) {
	r := openTestRecorder(t)
	score, price := 3.2, 5.12
	run := &SignalRun{
		RunID:    "01HZX",
		At:       time.Date(2026, 3, 10, 14, 40, 0, 0, time.UTC),
		Provider: "local",
		Signal: &model.Signal{
			Date:   "2026-03-10",
			Status: model.StatusRotation,
			TargetHoldings: []model.TargetHolding{
				{Code: "518880.SH", Name: "黄金ETF", Score: &score, CurrentPrice: &price},
			},
			DefensiveInstrument: "银华日利",
		},
		Evaluations: []model.Evaluation{
			{
				Instrument: model.Instrument{Code: "518880.SH", Name: "黄金ETF"},
				Steps:      []string{"volume_spike", "score"},
				Score:      &model.Score{Score: score, AnnualizedReturn: 4, RSquared: 0.8, CurrentPrice: price},
			},
			{
				Instrument: model.Instrument{Code: "513100.SH", Name: "纳指ETF"},
				Steps:      []string{"volume_spike"},
				RejectedBy: "volume_spike",
			},
		},
	}
	require.NoError(t, r.RecordSignal(run))

	var provider, status, targets string
	require.NoError(t, r.db.QueryRow(`SELECT provider, status, targets FROM signal_runs WHERE run_id = ?`, "01HZX").
		Scan(&provider, &status, &targets))
	assert.Equal(t, "local", provider)
	assert.Equal(t, "rotation", status)
	assert.Contains(t, targets, "黄金ETF")

	var n, scored int
	require.NoError(t, r.db.QueryRow(`SELECT COUNT(*), COUNT(score) FROM candidate_scores WHERE run_id = ?`, "01HZX").
		Scan(&n, &scored))
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, scored, "rejected candidate has no score")

	assert.Error(t, r.RecordSignal(run), "run IDs are unique")
}

func TestSQLiteRecorder_RecordAdvice(t *testing.T) {
	r := openTestRecorder(t)
	advice := []model.Advice{
		{InstrumentName: "黄金ETF", Action: model.ActionBuy, TargetShares: 8000, TargetValue: 80000, Reason: "策略推荐买入"},
		{InstrumentName: "茅台", Action: model.ActionSell, CurrentShares: 10, CurrentValue: 15000, Reason: "不在策略推荐中，建议卖出"},
	}
	require.NoError(t, r.RecordAdvice("run-1", advice))

	var actions []string
	rows, err := r.db.Query(`SELECT action FROM advices WHERE run_id = ? ORDER BY id`, "run-1")
	require.NoError(t, err)
	defer rows.Close()
	for rows.Next() {
		var a string
		require.NoError(t, rows.Scan(&a))
		actions = append(actions, a)
	}
	assert.Equal(t, []string{"buy", "sell"}, actions)
}

func TestSQLiteRecorder_RecordSnapshotUpserts(t *testing.T) {
	r := openTestRecorder(t)
	closeP := 5.3
	snap := model.DailySnapshot{
		Date:         "2026-03-10",
		Holdings:     []model.HoldingSnapshot{{Name: "黄金ETF", Shares: 1000, CostPrice: 5}},
		TotalCapital: 100000,
		CashBalance:  1000,
	}
	require.NoError(t, r.RecordSnapshot(snap))
	snap.Holdings[0].ClosePrice = &closeP
	require.NoError(t, r.RecordSnapshot(snap))

	var n int
	var assets float64
	require.NoError(t, r.db.QueryRow(`SELECT COUNT(*), MAX(total_assets) FROM portfolio_snapshots`).Scan(&n, &assets))
	assert.Equal(t, 1, n)
	assert.InDelta(t, 6300, assets, 1e-9)
}

func TestNoopRecorder(t *testing.T) {
	var r Recorder = NewNoopRecorder()
	assert.NoError(t, r.RecordSignal(&SignalRun{}))
	assert.NoError(t, r.RecordAdvice("x", nil))
	assert.NoError(t, r.RecordSnapshot(model.DailySnapshot{}))
	assert.NoError(t, r.Close())
}
