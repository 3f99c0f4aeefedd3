package tracking

import "time"

type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id,omitempty"`
	Mode      string    `json:"mode"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitempty"`
	Active    bool      `json:"active"`
}

type StartRequest struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Mode      string `json:"mode"`
}

// Summary describes what the filter and queue did during one session.
type Summary struct {
	SessionID     string         `json:"session_id"`
	Accepted      int            `json:"accepted"`
	Forced        int            `json:"forced"`
	Rejected      map[string]int `json:"rejected"`
	Dropped       int            `json:"dropped"`
	DistanceM     float64        `json:"distance_m"`
	DurationSec   int64          `json:"duration_sec"`
	AverageSpeedM float64        `json:"average_speed_mps"`
}
