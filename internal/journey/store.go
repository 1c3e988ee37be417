// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package journey

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/evidence-engine/pkg/types"
)

// ErrNotFound is returned by Get for an unknown request id.
var ErrNotFound = errors.New("journey not found")

// Recorder is the persistence hook called once per finished journey.
type Recorder interface {
	Record(ctx context.Context, j *types.Journey) error
}

// Store keeps finished journeys in a SQLite database.
type Store struct {
	db *sql.DB
}

// NewStore opens or creates the database at cfg.Path and its schema.
func NewStore(cfg types.StoreConfig) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("store path is empty")
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.Path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS journeys (
			id TEXT PRIMARY KEY,
			user_id TEXT,
			query TEXT NOT NULL,
			tier INTEGER NOT NULL,
			status TEXT NOT NULL,
			started_at TEXT NOT NULL,
			duration_ms INTEGER,
			cost_usd REAL,
			rounds INTEGER,
			sources INTEGER,
			selected INTEGER,
			citation_score REAL,
			data TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS rounds (
			journey_id TEXT NOT NULL REFERENCES journeys(id) ON DELETE CASCADE,
			round INTEGER NOT NULL,
			purpose TEXT,
			query TEXT,
			status TEXT,
			new_sources INTEGER,
			duplicates INTEGER,
			duration_ms INTEGER,
			PRIMARY KEY (journey_id, round)
		)`,
		`CREATE TABLE IF NOT EXISTS api_calls (
			rowid INTEGER PRIMARY KEY AUTOINCREMENT,
			journey_id TEXT NOT NULL REFERENCES journeys(id) ON DELETE CASCADE,
			round INTEGER NOT NULL,
			provider TEXT NOT NULL,
			status TEXT NOT NULL,
			found INTEGER,
			retrieved INTEGER,
			latency_ms INTEGER,
			error TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS sources (
			journey_id TEXT NOT NULL REFERENCES journeys(id) ON DELETE CASCADE,
			source_id TEXT NOT NULL,
			key TEXT,
			title TEXT,
			year INTEGER,
			type TEXT,
			quality TEXT,
			url TEXT,
			selected INTEGER NOT NULL DEFAULT 0,
			score REAL,
			PRIMARY KEY (journey_id, source_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_journeys_started ON journeys(started_at)`,
		`CREATE INDEX IF NOT EXISTS idx_journeys_user ON journeys(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_api_calls_provider ON api_calls(provider)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// Record stores j, replacing any earlier record with the same request id.
func (s *Store) Record(ctx context.Context, j *types.Journey) error {
	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("marshaling journey: %w", err)
	}
	sum := Summarize(j)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM journeys WHERE id = ?`, j.RequestID); err != nil {
		return fmt.Errorf("deleting old journey: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO journeys (id, user_id, query, tier, status, started_at, duration_ms, cost_usd,
			rounds, sources, selected, citation_score, data)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.RequestID, j.Query.UserID, j.Query.Text, int(sum.Tier), string(j.Status),
		j.StartedAt.UTC().Format(time.RFC3339Nano), sum.TotalDuration.Milliseconds(), sum.TotalCostUSD,
		sum.Rounds, sum.Sources, sum.SelectedSources, sum.CitationScore, string(data),
	)
	if err != nil {
		return fmt.Errorf("inserting journey: %w", err)
	}

	for _, r := range j.Rounds {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO rounds (journey_id, round, purpose, query, status, new_sources, duplicates, duration_ms)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			j.RequestID, r.Number, string(r.Purpose), r.Query, string(r.Status),
			r.NewSourceCount, r.DuplicateCount, r.Duration.Milliseconds(),
		)
		if err != nil {
			return fmt.Errorf("inserting round %d: %w", r.Number, err)
		}
		for _, c := range r.Calls {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO api_calls (journey_id, round, provider, status, found, retrieved, latency_ms, error)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				j.RequestID, r.Number, c.Provider, string(c.Status), c.Found, c.Retrieved,
				c.Latency.Milliseconds(), c.Error,
			)
			if err != nil {
				return fmt.Errorf("inserting %s call of round %d: %w", c.Provider, r.Number, err)
			}
		}
	}

	scores := map[string]float64{}
	if j.Ranking != nil {
		for _, rs := range j.Ranking.TopSources {
			scores[rs.Source.ID] = rs.Score
		}
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO sources (journey_id, source_id, key, title, year, type, quality, url, selected, score)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing source insert: %w", err)
	}
	defer stmt.Close()
	for _, src := range j.Sources {
		score, selected := scores[src.ID]
		_, err := stmt.ExecContext(ctx,
			j.RequestID, src.ID, src.Key, src.Title, src.Year, string(src.Type), string(src.Quality),
			src.URL, selected, score,
		)
		if err != nil {
			return fmt.Errorf("inserting source %s: %w", src.ID, err)
		}
	}

	return tx.Commit()
}

// Entry is one row of List.
type Entry struct {
	RequestID     string              `json:"requestId" yaml:"request_id"`
	UserID        string              `json:"userId,omitempty" yaml:"user_id,omitempty"`
	Query         string              `json:"query" yaml:"query"`
	Tier          types.Tier          `json:"tier" yaml:"tier"`
	Status        types.JourneyStatus `json:"status" yaml:"status"`
	StartedAt     time.Time           `json:"startedAt" yaml:"started_at"`
	Duration      time.Duration       `json:"duration" yaml:"duration"`
	CostUSD       float64             `json:"costUsd" yaml:"cost_usd"`
	Rounds        int                 `json:"rounds" yaml:"rounds"`
	Sources       int                 `json:"sources" yaml:"sources"`
	CitationScore float64             `json:"citationScore" yaml:"citation_score"`
}

// ListOptions filters List.
type ListOptions struct {
	UserID string
	Status types.JourneyStatus
	Limit  int
}

// List returns recorded journeys, newest first.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]Entry, error) {
	var where []string
	var args []any
	if opts.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, opts.UserID)
	}
	if opts.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(opts.Status))
	}
	q := `SELECT id, user_id, query, tier, status, started_at, duration_ms, cost_usd, rounds, sources, citation_score
		FROM journeys`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	q += " ORDER BY started_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying journeys: %w", err)
	}
	defer rows.Close()

	out := []Entry{}
	for rows.Next() {
		var (
			e        Entry
			userID   sql.NullString
			tier     int
			status   string
			started  string
			duration int64
		)
		if err := rows.Scan(&e.RequestID, &userID, &e.Query, &tier, &status, &started, &duration,
			&e.CostUSD, &e.Rounds, &e.Sources, &e.CitationScore); err != nil {
			return nil, fmt.Errorf("scanning journey row: %w", err)
		}
		e.UserID = userID.String
		e.Tier = types.Tier(tier)
		e.Status = types.JourneyStatus(status)
		e.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		e.Duration = time.Duration(duration) * time.Millisecond
		out = append(out, e)
	}
	return out, rows.Err()
}

// Get loads the full journey recorded under requestID.
func (s *Store) Get(ctx context.Context, requestID string) (*types.Journey, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM journeys WHERE id = ?`, requestID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", requestID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying journey: %w", err)
	}
	var j types.Journey
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("decoding journey %s: %w", requestID, err)
	}
	return &j, nil
}

// ProviderStats aggregates call outcomes per provider across all journeys.
type ProviderStats struct {
	Provider     string  `json:"provider" yaml:"provider"`
	Calls        int     `json:"calls" yaml:"calls"`
	Failures     int     `json:"failures" yaml:"failures"`
	AvgLatencyMS float64 `json:"avgLatencyMs" yaml:"avg_latency_ms"`
}

// ProviderStats returns per-provider totals ordered by provider name.
func (s *Store) ProviderStats(ctx context.Context) ([]ProviderStats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT provider, count(*), sum(CASE WHEN status = 'success' THEN 0 ELSE 1 END), avg(latency_ms)
		 FROM api_calls GROUP BY provider ORDER BY provider`)
	if err != nil {
		return nil, fmt.Errorf("querying provider stats: %w", err)
	}
	defer rows.Close()

	out := []ProviderStats{}
	for rows.Next() {
		var p ProviderStats
		if err := rows.Scan(&p.Provider, &p.Calls, &p.Failures, &p.AvgLatencyMS); err != nil {
			return nil, fmt.Errorf("scanning provider stats: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
