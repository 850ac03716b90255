package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// dbTime normalizes timestamps so stored values sort lexically.
func dbTime(t time.Time) time.Time {
	return t.UTC().Round(time.Millisecond)
}

// SQLiteSessionRepository implements SessionRepository for SQLite.
type SQLiteSessionRepository struct {
	db *sql.DB
}

func NewSQLiteSessionRepository(db *sql.DB) *SQLiteSessionRepository {
	return &SQLiteSessionRepository{db: db}
}

func (r *SQLiteSessionRepository) Create(ctx context.Context, s Session) error {
	query := `
		INSERT INTO sessions (session_id, game_id, started_at, ended_at, confidence_threshold)
		VALUES (?, ?, ?, NULL, ?)
	`
	_, err := r.db.ExecContext(ctx, query, s.SessionID, s.GameID, dbTime(s.StartedAt), s.ConfidenceThreshold)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (r *SQLiteSessionRepository) End(ctx context.Context, sessionID string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE sessions SET ended_at = ? WHERE session_id = ?`, dbTime(at), sessionID)
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	return nil
}

func (r *SQLiteSessionRepository) Get(ctx context.Context, sessionID string) (*Session, error) {
	query := `SELECT session_id, game_id, started_at, ended_at, confidence_threshold FROM sessions WHERE session_id = ?`
	s, err := scanSession(r.db.QueryRowContext(ctx, query, sessionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
		}
		return nil, err
	}
	return s, nil
}

func (r *SQLiteSessionRepository) List(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT session_id, game_id, started_at, ended_at, confidence_threshold FROM sessions ORDER BY started_at DESC LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*Session, error) {
	var s Session
	var ended sql.NullTime
	if err := row.Scan(&s.SessionID, &s.GameID, &s.StartedAt, &ended, &s.ConfidenceThreshold); err != nil {
		return nil, err
	}
	if ended.Valid {
		t := ended.Time
		s.EndedAt = &t
	}
	return &s, nil
}

// ---------------------------------------------------------
// SQLiteTickRepository
// ---------------------------------------------------------

const tickColumns = `id, session_id, tick, timestamp, event_type, health_percent, confidence, health_bucket, look, frame, is_pain`

// Tick rows are written concurrently, so insertion order is not event order.
// Within one tick the events sort the way the relay emits them.
const eventRank = `CASE event_type
	WHEN 'SESSION_STARTED' THEN 0
	WHEN 'SAMPLE_ACCEPTED' THEN 1
	WHEN 'DAMAGE_TAKEN' THEN 2
	WHEN 'DEATH' THEN 3
	WHEN 'FRAME_CHANGED' THEN 4
	ELSE 5 END`

type SQLiteTickRepository struct {
	db *sql.DB
}

func NewSQLiteTickRepository(db *sql.DB) *SQLiteTickRepository {
	return &SQLiteTickRepository{db: db}
}

func (r *SQLiteTickRepository) Append(ctx context.Context, t TickRecord) error {
	query := `INSERT INTO ticks (` + tickColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		t.ID, t.SessionID, t.Tick, dbTime(t.Timestamp), t.EventType, t.HealthPercent,
		t.Confidence, t.HealthBucket, t.Look, t.Frame, t.IsPain,
	)
	if err != nil {
		return fmt.Errorf("failed to append tick: %w", err)
	}
	return nil
}

func (r *SQLiteTickRepository) getMany(ctx context.Context, query string, args ...interface{}) ([]TickRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ticks []TickRecord
	for rows.Next() {
		var t TickRecord
		err := rows.Scan(
			&t.ID, &t.SessionID, &t.Tick, &t.Timestamp, &t.EventType, &t.HealthPercent,
			&t.Confidence, &t.HealthBucket, &t.Look, &t.Frame, &t.IsPain,
		)
		if err != nil {
			return nil, err
		}
		ticks = append(ticks, t)
	}
	return ticks, rows.Err()
}

func (r *SQLiteTickRepository) GetBySession(ctx context.Context, sessionID string) ([]TickRecord, error) {
	query := `SELECT ` + tickColumns + ` FROM ticks WHERE session_id = ? ORDER BY timestamp ASC, tick ASC, ` + eventRank + ` ASC, rowid ASC`
	return r.getMany(ctx, query, sessionID)
}

func (r *SQLiteTickRepository) Recent(ctx context.Context, limit int) ([]TickRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + tickColumns + ` FROM (
		SELECT rowid AS rid, * FROM ticks ORDER BY timestamp DESC, tick DESC, ` + eventRank + ` DESC, rowid DESC LIMIT ?
	) ORDER BY timestamp ASC, tick ASC, ` + eventRank + ` ASC, rid ASC`
	return r.getMany(ctx, query, limit)
}

func (r *SQLiteTickRepository) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM ticks WHERE timestamp < ?`, dbTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to prune ticks: %w", err)
	}
	return res.RowsAffected()
}
