package recorder

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"RotationSentinel/internal/model"
)

// SQLiteRecorder persists historical data to a SQLite database.
type SQLiteRecorder struct {
	db  *sql.DB
	mu  sync.Mutex
	log zerolog.Logger
	now func() time.Time
}

// NewSQLiteRecorder opens (or creates) the SQLite database and runs migrations.
func NewSQLiteRecorder(dbPath string, log zerolog.Logger) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL lets dashboards read while the bot writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db, log: log, now: time.Now}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Info().Str("path", dbPath).Msg("sqlite recorder opened")
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS signal_runs (
			run_id       TEXT PRIMARY KEY,
			timestamp    INTEGER NOT NULL,
			provider     TEXT,
			signal_date  TEXT,
			status       TEXT,
			targets      TEXT,
			defensive    TEXT,
			message      TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_ts ON signal_runs(timestamp)`,

		`CREATE TABLE IF NOT EXISTS candidate_scores (
			id                INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id            TEXT NOT NULL,
			instrument_code   TEXT,
			instrument_name   TEXT,
			steps             TEXT,
			rejected_by       TEXT,
			score             REAL,
			annualized_return REAL,
			r_squared         REAL,
			current_price     REAL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_candidates_run ON candidate_scores(run_id)`,

		`CREATE TABLE IF NOT EXISTS advices (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id          TEXT NOT NULL,
			timestamp       INTEGER NOT NULL,
			instrument_name TEXT,
			action          TEXT,
			current_shares  INTEGER,
			target_shares   INTEGER,
			current_value   REAL,
			target_value    REAL,
			reason          TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_advices_run ON advices(run_id)`,

		`CREATE TABLE IF NOT EXISTS portfolio_snapshots (
			date          TEXT PRIMARY KEY,
			timestamp     INTEGER NOT NULL,
			total_assets  REAL,
			total_capital REAL,
			cash_balance  REAL,
			holdings      TEXT
		)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

// RecordSignal stores the run header and every candidate evaluation in one transaction.
func (r *SQLiteRecorder) RecordSignal(run *SignalRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sig := run.Signal
	targets, err := json.Marshal(sig.TargetHoldings)
	if err != nil {
		return fmt.Errorf("encode targets: %w", err)
	}
	at := run.At
	if at.IsZero() {
		at = r.now()
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT INTO signal_runs
		(run_id, timestamp, provider, signal_date, status, targets, defensive, message)
		VALUES (?,?,?,?,?,?,?,?)`,
		run.RunID, at.Unix(), run.Provider, sig.Date, string(sig.Status),
		string(targets), sig.DefensiveInstrument, sig.Message,
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for _, ev := range run.Evaluations {
		var score, annualized, r2, price sql.NullFloat64
		if ev.Score != nil {
			score = sql.NullFloat64{Float64: ev.Score.Score, Valid: true}
			annualized = sql.NullFloat64{Float64: ev.Score.AnnualizedReturn, Valid: true}
			r2 = sql.NullFloat64{Float64: ev.Score.RSquared, Valid: true}
			price = sql.NullFloat64{Float64: ev.Score.CurrentPrice, Valid: true}
		}
		if _, err := tx.Exec(`INSERT INTO candidate_scores
			(run_id, instrument_code, instrument_name, steps, rejected_by,
			 score, annualized_return, r_squared, current_price)
			VALUES (?,?,?,?,?,?,?,?,?)`,
			run.RunID, ev.Instrument.Code, ev.Instrument.Name,
			strings.Join(ev.Steps, ","), ev.RejectedBy,
			score, annualized, r2, price,
		); err != nil {
			return fmt.Errorf("insert candidate %s: %w", ev.Instrument.Code, err)
		}
	}
	return tx.Commit()
}

func (r *SQLiteRecorder) RecordAdvice(runID string, advice []model.Advice) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().Unix()
	for _, a := range advice {
		if _, err := r.db.Exec(`INSERT INTO advices
			(run_id, timestamp, instrument_name, action, current_shares, target_shares,
			 current_value, target_value, reason)
			VALUES (?,?,?,?,?,?,?,?,?)`,
			runID, now, a.InstrumentName, string(a.Action), a.CurrentShares, a.TargetShares,
			a.CurrentValue, a.TargetValue, a.Reason,
		); err != nil {
			return fmt.Errorf("insert advice %s: %w", a.InstrumentName, err)
		}
	}
	return nil
}

// RecordSnapshot upserts the portfolio snapshot for its date.
func (r *SQLiteRecorder) RecordSnapshot(snap model.DailySnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	holdings, err := json.Marshal(snap.Holdings)
	if err != nil {
		return fmt.Errorf("encode holdings: %w", err)
	}
	_, err = r.db.Exec(`INSERT INTO portfolio_snapshots
		(date, timestamp, total_assets, total_capital, cash_balance, holdings)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT(date) DO UPDATE SET
			timestamp = excluded.timestamp,
			total_assets = excluded.total_assets,
			total_capital = excluded.total_capital,
			cash_balance = excluded.cash_balance,
			holdings = excluded.holdings`,
		snap.Date, r.now().Unix(), snap.TotalAssets(), snap.TotalCapital, snap.CashBalance, string(holdings),
	)
	return err
}

func (r *SQLiteRecorder) Close() error {
	r.log.Info().Msg("closing sqlite recorder")
	return r.db.Close()
}
