// Package wire holds the JSON shapes exchanged with the collector and peers.
package wire

import (
	"encoding/json"

	"fieldtrack-agent/internal/store"
)

const (
	TypeTelemetryBatch = "telemetry_batch"
	EventTelemetryAck  = "telemetry_ack"
)

// Point is one track point as the collector expects it. Optional fields are
// sent as null rather than omitted.
type Point struct {
	SessionID  *string  `json:"session_id"`
	UserID     *string  `json:"user_id"`
	TsEpochMs  int64    `json:"ts_epoch_ms"`
	Lat        float64  `json:"lat"`
	Lon        float64  `json:"lon"`
	AccuracyM  *float64 `json:"accuracy_m"`
	SpeedMps   *float64 `json:"speed_mps"`
	BearingDeg *float64 `json:"bearing_deg"`
}

func FromTrackPoint(p store.TrackPoint) Point {
	return Point{
		SessionID:  p.SessionID,
		UserID:     p.UserID,
		TsEpochMs:  p.TimestampMs,
		Lat:        p.Lat,
		Lon:        p.Lon,
		AccuracyM:  p.AccuracyM,
		SpeedMps:   p.SpeedMps,
		BearingDeg: p.BearingDeg,
	}
}

func FromTrackPoints(points []store.TrackPoint) []Point {
	out := make([]Point, len(points))
	for i, p := range points {
		out[i] = FromTrackPoint(p)
	}
	return out
}

// Batch is the client to server telemetry envelope.
type Batch struct {
	Type    string  `json:"type"`
	BatchID string  `json:"batch_id"`
	Points  []Point `json:"points"`
}

func NewBatch(batchID string, points []store.TrackPoint) Batch {
	return Batch{Type: TypeTelemetryBatch, BatchID: batchID, Points: FromTrackPoints(points)}
}

// inbound covers every server message shape we care about.
type inbound struct {
	Event   string `json:"event"`
	Ack     bool   `json:"ack"`
	BatchID string `json:"batch_id"`
}

// ParseAck returns the batch id of an acknowledgment. Both
// {"event":"telemetry_ack","batch_id":…} and {"ack":true,"batch_id":…} are
// accepted; anything else reports ok=false.
func ParseAck(data []byte) (batchID string, ok bool) {
	var msg inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		return "", false
	}
	if msg.BatchID == "" {
		return "", false
	}
	if msg.Event == EventTelemetryAck || msg.Ack {
		return msg.BatchID, true
	}
	return "", false
}

// Ack builds the event-style acknowledgment, used by test collectors.
func Ack(batchID string) []byte {
	b, _ := json.Marshal(map[string]string{"event": EventTelemetryAck, "batch_id": batchID})
	return b
}
