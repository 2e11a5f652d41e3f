// Package sqlite persists session records and transcripts in SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fyrsmithlabs/dealcoach/internal/session"
	"github.com/fyrsmithlabs/dealcoach/internal/session/sqlite/migrations"
	"github.com/fyrsmithlabs/dealcoach/internal/storage/sqlitemigrate"
	"github.com/fyrsmithlabs/dealcoach/internal/transcript"
	_ "modernc.org/sqlite"
)

// Store implements session.Store and transcript.Store.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var (
	_ session.Store    = (*Store)(nil)
	_ transcript.Store = (*Store)(nil)
)

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

// Open opens the database at path and applies embedded migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Single writer; read-modify-write transactions would otherwise race
	// for the write lock.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.Apply(ctx, db, migrations.FS, ""); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Get implements session.Store.
func (s *Store) Get(ctx context.Context, sessionID string) (*session.Record, error) {
	return s.get(ctx, s.db, sessionID)
}

func (s *Store) get(ctx context.Context, q querier, sessionID string) (*session.Record, error) {
	var (
		rec                      session.Record
		status                   string
		partial, feedback        bool
		gradeJSON, analyticsJSON sql.NullString
		createdAt, updatedAt     int64
	)
	err := q.QueryRowContext(ctx, `
		SELECT status, partial_result, error, feedback_submitted, grade_json, analytics_json, created_at, updated_at
		FROM sessions WHERE session_id = ?`, sessionID,
	).Scan(&status, &partial, &rec.Error, &feedback, &gradeJSON, &analyticsJSON, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get %s: %w", sessionID, session.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", sessionID, err)
	}
	rec.SessionID = sessionID
	rec.Status = session.Status(status)
	rec.PartialResult = partial
	rec.FeedbackSubmitted = feedback
	rec.CreatedAt = fromMillis(createdAt)
	rec.UpdatedAt = fromMillis(updatedAt)

	if gradeJSON.Valid {
		var g session.Grade
		if err := json.Unmarshal([]byte(gradeJSON.String), &g); err != nil {
			return nil, fmt.Errorf("decode grade of %s: %w", sessionID, err)
		}
		rec.Grade = &g
	}
	if analyticsJSON.Valid {
		var a session.Analytics
		if err := json.Unmarshal([]byte(analyticsJSON.String), &a); err != nil {
			return nil, fmt.Errorf("decode analytics of %s: %w", sessionID, err)
		}
		rec.Analytics = &a
	}

	for i, p := range session.Phases {
		rec.Phases[i] = session.PhaseState{Phase: p, Status: session.PhasePending}
	}
	rows, err := q.QueryContext(ctx, `
		SELECT phase, status, payload, error, updated_at
		FROM session_phases WHERE session_id = ? ORDER BY position`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get phases of %s: %w", sessionID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			ps      session.PhaseState
			phase   string
			status  string
			payload sql.NullString
			updated int64
		)
		if err := rows.Scan(&phase, &status, &payload, &ps.Error, &updated); err != nil {
			return nil, fmt.Errorf("scan phase of %s: %w", sessionID, err)
		}
		ps.Phase = session.Phase(phase)
		ps.Status = session.PhaseStatus(status)
		ps.UpdatedAt = fromMillis(updated)
		if payload.Valid {
			ps.Payload = json.RawMessage(payload.String)
		}
		if idx := ps.Phase.Index(); idx >= 0 {
			rec.Phases[idx] = ps
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read phases of %s: %w", sessionID, err)
	}
	return &rec, nil
}

// BeginGrading implements session.Store.
func (s *Store) BeginGrading(ctx context.Context, sessionID string) (*session.Record, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin grading %s: %w", sessionID, err)
	}
	defer func() { _ = tx.Rollback() }()

	now := toMillis(s.now())
	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO sessions (session_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?)`, sessionID, session.StatusPending, now, now); err != nil {
		return nil, false, fmt.Errorf("create session %s: %w", sessionID, err)
	}

	var status string
	if err := tx.QueryRowContext(ctx, `SELECT status FROM sessions WHERE session_id = ?`, sessionID).Scan(&status); err != nil {
		return nil, false, fmt.Errorf("read status of %s: %w", sessionID, err)
	}

	started := false
	switch session.Status(status) {
	case session.StatusGrading, session.StatusComplete:
	default:
		started = true
		if _, err := tx.ExecContext(ctx, `
			UPDATE sessions SET status = ?, partial_result = 0, error = '', sale_closed = NULL,
				overall = NULL, rapport = NULL, discovery = NULL, objection_handling = NULL, closing = NULL,
				virtual_earnings = NULL, grade_json = NULL, analytics_json = NULL, updated_at = ?
			WHERE session_id = ?`, session.StatusGrading, now, sessionID); err != nil {
			return nil, false, fmt.Errorf("start grading %s: %w", sessionID, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM session_phases WHERE session_id = ?`, sessionID); err != nil {
			return nil, false, fmt.Errorf("reset phases of %s: %w", sessionID, err)
		}
		for i, p := range session.Phases {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO session_phases (session_id, phase, position, status, updated_at)
				VALUES (?, ?, ?, ?, ?)`, sessionID, p, i, session.PhasePending, now); err != nil {
				return nil, false, fmt.Errorf("init phase %s of %s: %w", p, sessionID, err)
			}
		}
	}

	rec, err := s.get(ctx, tx, sessionID)
	if err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit grading start of %s: %w", sessionID, err)
	}
	return rec, started, nil
}

func (s *Store) exec(ctx context.Context, op, sessionID, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, sessionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, sessionID, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", op, sessionID, session.ErrNotFound)
	}
	return nil
}

// UpdatePhase implements session.Store.
func (s *Store) UpdatePhase(ctx context.Context, sessionID string, state session.PhaseState) error {
	idx := state.Phase.Index()
	if idx < 0 {
		return fmt.Errorf("%w: %q", session.ErrInvalidPhase, state.Phase)
	}
	updated := state.UpdatedAt
	if updated.IsZero() {
		updated = s.now()
	}
	var payload any
	if len(state.Payload) > 0 {
		payload = string(state.Payload)
	}
	return s.exec(ctx, "update phase of", sessionID, `
		UPDATE session_phases SET status = ?, payload = ?, error = ?, updated_at = ?
		WHERE session_id = ? AND phase = ?`,
		state.Status, payload, state.Error, toMillis(updated), sessionID, state.Phase)
}

// Finish implements session.Store.
func (s *Store) Finish(ctx context.Context, sessionID string, outcome session.Outcome) error {
	return s.exec(ctx, "finish", sessionID, `
		UPDATE sessions SET status = ?, partial_result = ?, error = ?, updated_at = ?
		WHERE session_id = ?`,
		outcome.Status, outcome.Partial, outcome.Error, toMillis(s.now()), sessionID)
}

// SaveGrade implements session.Store. Scores are also kept in columns for
// historical averages.
func (s *Store) SaveGrade(ctx context.Context, sessionID string, grade session.Grade) error {
	raw, err := json.Marshal(grade)
	if err != nil {
		return fmt.Errorf("encode grade of %s: %w", sessionID, err)
	}
	sc := grade.Scores
	return s.exec(ctx, "save grade of", sessionID, `
		UPDATE sessions SET sale_closed = ?, overall = ?, rapport = ?, discovery = ?,
			objection_handling = ?, closing = ?, virtual_earnings = ?, grade_json = ?, updated_at = ?
		WHERE session_id = ?`,
		grade.SaleClosed, sc.Overall, sc.Rapport, sc.Discovery, sc.ObjectionHandling, sc.Closing,
		grade.VirtualEarnings, string(raw), toMillis(s.now()), sessionID)
}

// SaveAnalytics implements session.Store.
func (s *Store) SaveAnalytics(ctx context.Context, sessionID string, analytics session.Analytics) error {
	raw, err := json.Marshal(analytics)
	if err != nil {
		return fmt.Errorf("encode analytics of %s: %w", sessionID, err)
	}
	return s.exec(ctx, "save analytics of", sessionID, `
		UPDATE sessions SET analytics_json = ?, updated_at = ? WHERE session_id = ?`,
		string(raw), toMillis(s.now()), sessionID)
}

// MarkFeedbackSubmitted implements session.Store.
func (s *Store) MarkFeedbackSubmitted(ctx context.Context, sessionID string) error {
	now := toMillis(s.now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, status, feedback_submitted, created_at, updated_at)
		VALUES (?, ?, 1, ?, ?)
		ON CONFLICT (session_id) DO UPDATE SET feedback_submitted = 1, updated_at = excluded.updated_at`,
		sessionID, session.StatusPending, now, now)
	if err != nil {
		return fmt.Errorf("mark feedback submitted %s: %w", sessionID, err)
	}
	return nil
}

// HistoricalAverages implements session.Store.
func (s *Store) HistoricalAverages(ctx context.Context, exclude string) (session.HistoricalAverages, error) {
	var (
		avg                                            session.HistoricalAverages
		overall, rapport, discovery, handling, closing sql.NullFloat64
		closeRate                                      sql.NullFloat64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), AVG(overall), AVG(rapport), AVG(discovery), AVG(objection_handling), AVG(closing), AVG(sale_closed)
		FROM sessions
		WHERE status = ? AND grade_json IS NOT NULL AND session_id <> ?`,
		session.StatusComplete, exclude,
	).Scan(&avg.Sessions, &overall, &rapport, &discovery, &handling, &closing, &closeRate)
	if err != nil {
		return session.HistoricalAverages{}, fmt.Errorf("historical averages: %w", err)
	}
	avg.Overall = overall.Float64
	avg.Rapport = rapport.Float64
	avg.Discovery = discovery.Float64
	avg.ObjectionHandling = handling.Float64
	avg.Closing = closing.Float64
	avg.CloseRate = closeRate.Float64
	return avg, nil
}
