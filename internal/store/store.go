// Package store keeps backtest runs and recommendation history in SQLite
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"investia/internal/backtest"
	"investia/internal/fusion"
)

// ErrNotFound is returned when a run id is unknown
var ErrNotFound = errors.New("record not found")

const schema = `
CREATE TABLE IF NOT EXISTS backtest_runs (
	id                   TEXT PRIMARY KEY,
	symbol               TEXT NOT NULL,
	start_date           DATETIME NOT NULL,
	end_date             DATETIME NOT NULL,
	initial_capital      REAL NOT NULL,
	final_value          REAL NOT NULL,
	return_pct           REAL NOT NULL,
	benchmark_return_pct REAL NOT NULL,
	max_drawdown_pct     REAL NOT NULL,
	trades               INTEGER NOT NULL,
	win_rate             REAL NOT NULL,
	sharpe               REAL NOT NULL,
	result_json          TEXT NOT NULL,
	created_at           DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_symbol ON backtest_runs(symbol, created_at);

CREATE TABLE IF NOT EXISTS recommendations (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	symbol     TEXT NOT NULL,
	date       DATETIME NOT NULL,
	action     TEXT NOT NULL,
	confidence REAL NOT NULL,
	score      REAL NOT NULL,
	regime     TEXT NOT NULL,
	degraded   INTEGER NOT NULL,
	reason     TEXT NOT NULL,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_recs_symbol ON recommendations(symbol, created_at);
`

// RunRecord is the summary row of a stored backtest
type RunRecord struct {
	ID                 string    `db:"id" json:"id"`
	Symbol             string    `db:"symbol" json:"symbol"`
	Start              time.Time `db:"start_date" json:"start"`
	End                time.Time `db:"end_date" json:"end"`
	InitialCapital     float64   `db:"initial_capital" json:"initial_capital"`
	FinalValue         float64   `db:"final_value" json:"final_value"`
	ReturnPct          float64   `db:"return_pct" json:"return_pct"`
	BenchmarkReturnPct float64   `db:"benchmark_return_pct" json:"benchmark_return_pct"`
	MaxDrawdownPct     float64   `db:"max_drawdown_pct" json:"max_drawdown_pct"`
	Trades             int       `db:"trades" json:"trades"`
	WinRate            float64   `db:"win_rate" json:"win_rate"`
	Sharpe             float64   `db:"sharpe" json:"sharpe"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
}

// RecommendationRecord is one stored recommendation
type RecommendationRecord struct {
	ID         int64     `db:"id" json:"id"`
	Symbol     string    `db:"symbol" json:"symbol"`
	Date       time.Time `db:"date" json:"date"`
	Action     string    `db:"action" json:"action"`
	Confidence float64   `db:"confidence" json:"confidence"`
	Score      float64   `db:"score" json:"score"`
	Regime     string    `db:"regime" json:"regime"`
	Degraded   bool      `db:"degraded" json:"degraded"`
	Reason     string    `db:"reason" json:"reason"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Store wraps the SQLite database
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
	now    func() time.Time
}

// Open opens (and creates) the database at path. ":memory:" is accepted.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps :memory: shared
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	logger.Debug("store opened", zap.String("path", path))
	return &Store{db: db, logger: logger, now: time.Now}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun stores a backtest result and returns its new id
func (s *Store) SaveRun(ctx context.Context, res *backtest.Result) (string, error) {
	blob, err := json.Marshal(res)
	if err != nil {
		return "", fmt.Errorf("failed to encode result: %w", err)
	}

	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO backtest_runs (id, symbol, start_date, end_date, initial_capital, final_value,
			return_pct, benchmark_return_pct, max_drawdown_pct, trades, win_rate, sharpe, result_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, res.Symbol, res.Start, res.End, res.InitialCapital, res.FinalValue,
		res.ReturnPct, res.BenchmarkReturnPct, res.MaxDrawdownPct, len(res.Trades),
		res.Stats.WinRate, res.Stats.SharpeRatio, string(blob), s.now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to save run: %w", err)
	}

	s.logger.Debug("saved backtest run", zap.String("id", id), zap.String("symbol", res.Symbol))
	return id, nil
}

// ListRuns returns the newest runs first, optionally for one symbol
func (s *Store) ListRuns(ctx context.Context, symbol string, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT id, symbol, start_date, end_date, initial_capital, final_value, return_pct,
			benchmark_return_pct, max_drawdown_pct, trades, win_rate, sharpe, created_at
		FROM backtest_runs`
	args := []any{}
	if symbol != "" {
		query += ` WHERE symbol = ?`
		args = append(args, symbol)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	runs := make([]RunRecord, 0)
	if err := s.db.SelectContext(ctx, &runs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// GetRun loads the full result of a stored run
func (s *Store) GetRun(ctx context.Context, id string) (*backtest.Result, error) {
	var blob string
	err := s.db.GetContext(ctx, &blob, `SELECT result_json FROM backtest_runs WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: run %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run: %w", err)
	}

	var res backtest.Result
	if err := json.Unmarshal([]byte(blob), &res); err != nil {
		return nil, fmt.Errorf("failed to decode run %s: %w", id, err)
	}
	res.RunID = id
	return &res, nil
}

// SaveRecommendations stores one refresh cycle in a single transaction
func (s *Store) SaveRecommendations(ctx context.Context, recs []*fusion.Recommendation) error {
	if len(recs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := s.now().UTC()
	for _, r := range recs {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO recommendations (symbol, date, action, confidence, score, regime, degraded, reason, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.Symbol, r.Date, string(r.Action), r.Confidence, r.Score,
			string(r.Regime.Level), r.IsDegraded(), r.Reason, now,
		)
		if err != nil {
			return fmt.Errorf("failed to save recommendation for %s: %w", r.Symbol, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit recommendations: %w", err)
	}
	return nil
}

// RecentRecommendations returns stored recommendations, newest first
func (s *Store) RecentRecommendations(ctx context.Context, symbol string, limit int) ([]RecommendationRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, symbol, date, action, confidence, score, regime, degraded, reason, created_at
		FROM recommendations`
	args := []any{}
	if symbol != "" {
		query += ` WHERE symbol = ?`
		args = append(args, symbol)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	recs := make([]RecommendationRecord, 0)
	if err := s.db.SelectContext(ctx, &recs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list recommendations: %w", err)
	}
	return recs, nil
}
