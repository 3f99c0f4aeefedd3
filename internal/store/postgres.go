package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"fieldtrack-agent/internal/db"
)

// Postgres keeps the queue in a PostgreSQL table, for gateway installs that
// already run a local database.
type Postgres struct {
	db  db.Querier
	mu  sync.Mutex
	now func() time.Time
}

func NewPostgres(q db.Querier) *Postgres {
	return &Postgres{db: q, now: time.Now}
}

// Migrate creates the table and index when missing.
func (s *Postgres) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaPostgres); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *Postgres) Insert(ctx context.Context, p TrackPoint) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id int64
	row := s.db.QueryRow(ctx, `
		INSERT INTO track_points (session_id, user_id, ts_epoch_ms, lat, lon, accuracy_m, speed_mps, bearing_deg, state, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING id
	`, insertArgs(p, s.now())...)
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("insert point: %w", err)
	}
	return id, nil
}

func (s *Postgres) CountPending(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM track_points WHERE state = 0`).Scan(&n)
	return n, err
}

func (s *Postgres) LoadPending(ctx context.Context, limit int) ([]TrackPoint, error) {
	return s.LoadPendingAfter(ctx, 0, limit)
}

func (s *Postgres) LoadPendingAfter(ctx context.Context, afterID int64, limit int) ([]TrackPoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(ctx, `
		SELECT `+pointColumns+`
		FROM track_points
		WHERE state = 0 AND id > $1
		ORDER BY id
		LIMIT $2
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

func (s *Postgres) MarkSynced(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(ctx, `UPDATE track_points SET state = 1 WHERE state = 0 AND id = ANY($1)`, ids); err != nil {
		return fmt.Errorf("mark synced: %w", err)
	}
	return nil
}

func (s *Postgres) DeleteOldestPending(ctx context.Context, n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tag, err := s.db.Exec(ctx, `
		DELETE FROM track_points
		WHERE id IN (SELECT id FROM track_points WHERE state = 0 ORDER BY id LIMIT $1)
	`, n)
	if err != nil {
		return 0, fmt.Errorf("delete oldest pending: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
