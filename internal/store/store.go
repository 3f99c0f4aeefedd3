package store

import (
	"context"
	"database/sql"
	"time"
)

type DeliveryState int

const (
	Pending DeliveryState = 0
	Synced  DeliveryState = 1
)

func (s DeliveryState) String() string {
	if s == Synced {
		return "synced"
	}
	return "pending"
}

// TrackPoint is one accepted position waiting for, or past, delivery.
type TrackPoint struct {
	ID          int64
	SessionID   *string
	UserID      *string
	TimestampMs int64
	Lat         float64
	Lon         float64
	AccuracyM   *float64
	SpeedMps    *float64
	BearingDeg  *float64
	State       DeliveryState
	CreatedAt   time.Time
}

// Store is the durable offline queue. Pending points come back oldest first.
type Store interface {
	Insert(ctx context.Context, p TrackPoint) (int64, error)
	CountPending(ctx context.Context) (int, error)
	LoadPending(ctx context.Context, limit int) ([]TrackPoint, error)
	// LoadPendingAfter pages through pending points with id > afterID.
	LoadPendingAfter(ctx context.Context, afterID int64, limit int) ([]TrackPoint, error)
	// MarkSynced ignores ids that no longer exist.
	MarkSynced(ctx context.Context, ids []int64) error
	DeleteOldestPending(ctx context.Context, n int) (int, error)
}

const pointColumns = `id, session_id, user_id, ts_epoch_ms, lat, lon, accuracy_m, speed_mps, bearing_deg, state, created_at`

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS track_points (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT,
	user_id TEXT,
	ts_epoch_ms INTEGER NOT NULL,
	lat REAL NOT NULL,
	lon REAL NOT NULL,
	accuracy_m REAL,
	speed_mps REAL,
	bearing_deg REAL,
	state INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_track_points_state_id ON track_points (state, id);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS track_points (
	id BIGSERIAL PRIMARY KEY,
	session_id TEXT,
	user_id TEXT,
	ts_epoch_ms BIGINT NOT NULL,
	lat DOUBLE PRECISION NOT NULL,
	lon DOUBLE PRECISION NOT NULL,
	accuracy_m DOUBLE PRECISION,
	speed_mps DOUBLE PRECISION,
	bearing_deg DOUBLE PRECISION,
	state SMALLINT NOT NULL DEFAULT 0,
	created_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_track_points_state_id ON track_points (state, id);
`

// nullablePoint is the scan target shared by both backends.
type nullablePoint struct {
	id        int64
	sessionID sql.NullString
	userID    sql.NullString
	ts        int64
	lat, lon  float64
	accuracy  sql.NullFloat64
	speed     sql.NullFloat64
	bearing   sql.NullFloat64
	state     int
	createdMs int64
}

func (n *nullablePoint) dest() []any {
	return []any{&n.id, &n.sessionID, &n.userID, &n.ts, &n.lat, &n.lon, &n.accuracy, &n.speed, &n.bearing, &n.state, &n.createdMs}
}

func (n *nullablePoint) point() TrackPoint {
	return TrackPoint{
		ID:          n.id,
		SessionID:   nullString(n.sessionID),
		UserID:      nullString(n.userID),
		TimestampMs: n.ts,
		Lat:         n.lat,
		Lon:         n.lon,
		AccuracyM:   nullFloat(n.accuracy),
		SpeedMps:    nullFloat(n.speed),
		BearingDeg:  nullFloat(n.bearing),
		State:       DeliveryState(n.state),
		CreatedAt:   time.UnixMilli(n.createdMs),
	}
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

// insertArgs are the values of one INSERT in column order, created_at last.
func insertArgs(p TrackPoint, now time.Time) []any {
	return []any{p.SessionID, p.UserID, p.TimestampMs, p.Lat, p.Lon, p.AccuracyM, p.SpeedMps, p.BearingDeg, int(Pending), now.UnixMilli()}
}
