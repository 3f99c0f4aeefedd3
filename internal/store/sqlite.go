package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"
)

const markChunk = 500

// SQLite is the on-device queue backed by a single database/sql connection.
// Every call holds mu so that inserts, evictions and acks are serialized.
type SQLite struct {
	db  *sql.DB
	mu  sync.Mutex
	now func() time.Time
}

func NewSQLite(ctx context.Context, conn *sql.DB) (*SQLite, error) {
	if _, err := conn.ExecContext(ctx, schemaSQLite); err != nil {
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLite{db: conn, now: time.Now}, nil
}

func (s *SQLite) Insert(ctx context.Context, p TrackPoint) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO track_points (session_id, user_id, ts_epoch_ms, lat, lon, accuracy_m, speed_mps, bearing_deg, state, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, insertArgs(p, s.now())...)
	if err != nil {
		return 0, fmt.Errorf("insert point: %w", err)
	}
	return res.LastInsertId()
}

func (s *SQLite) CountPending(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM track_points WHERE state = 0`).Scan(&n)
	return n, err
}

func (s *SQLite) LoadPending(ctx context.Context, limit int) ([]TrackPoint, error) {
	return s.LoadPendingAfter(ctx, 0, limit)
}

func (s *SQLite) LoadPendingAfter(ctx context.Context, afterID int64, limit int) ([]TrackPoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+pointColumns+`
		FROM track_points
		WHERE state = 0 AND id > ?
		ORDER BY id
		LIMIT ?
	`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("load pending: %w", err)
	}
	defer rows.Close()

	var points []TrackPoint
	for rows.Next() {
		var n nullablePoint
		if err := rows.Scan(n.dest()...); err != nil {
			return nil, err
		}
		points = append(points, n.point())
	}
	return points, rows.Err()
}

func (s *SQLite) MarkSynced(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for start := 0; start < len(ids); start += markChunk {
		end := min(start+markChunk, len(ids))
		chunk := ids[start:end]

		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		if _, err := tx.ExecContext(ctx,
			`UPDATE track_points SET state = 1 WHERE state = 0 AND id IN (`+placeholders+`)`, args...); err != nil {
			return fmt.Errorf("mark synced: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLite) DeleteOldestPending(ctx context.Context, n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM track_points
		WHERE id IN (SELECT id FROM track_points WHERE state = 0 ORDER BY id LIMIT ?)
	`, n)
	if err != nil {
		return 0, fmt.Errorf("delete oldest pending: %w", err)
	}
	affected, err := res.RowsAffected()
	return int(affected), err
}

// Close releases the underlying connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}
