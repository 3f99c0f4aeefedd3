package relay

import (
	"context"
	"encoding/json"
	"time"

	"fieldtrack-agent/internal/logger"
	"fieldtrack-agent/internal/metrics"
	"fieldtrack-agent/internal/store"
	"fieldtrack-agent/internal/wire"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Relay hands a single point to nearby peers when the device has no uplink.
// Delivery is best effort: no retry, no acknowledgment, errors are only logged.
type Relay interface {
	Relay(ctx context.Context, p store.TrackPoint)
}

// Message is the payload peers receive.
type Message struct {
	Event    string     `json:"event"`
	DeviceID string     `json:"device_id"`
	Point    wire.Point `json:"point"`
}

const EventMeshLocation = "mesh_location_update"

// Redis publishes points on a mesh gateway's Redis, which peers subscribe to.
type Redis struct {
	client   *redis.Client
	deviceID string
	timeout  time.Duration
	log      *zap.SugaredLogger
}

func NewRedis(client *redis.Client, deviceID string, log *zap.SugaredLogger) *Redis {
	return &Redis{
		client:   client,
		deviceID: deviceID,
		timeout:  2 * time.Second,
		log:      logger.For(log, logger.ComponentRelay),
	}
}

func (r *Redis) Relay(ctx context.Context, p store.TrackPoint) {
	if r.client == nil {
		return
	}
	payload, err := json.Marshal(Message{
		Event:    EventMeshLocation,
		DeviceID: r.deviceID,
		Point:    wire.FromTrackPoint(p),
	})
	if err != nil {
		r.log.Debugw("relay encode failed", "error", err)
		metrics.RelayPublished.WithLabelValues("error").Inc()
		return
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.client.Publish(ctx, Channel(r.deviceID), payload).Err(); err != nil {
		r.log.Debugw("relay publish failed", "error", err, "point_id", p.ID)
		metrics.RelayPublished.WithLabelValues("error").Inc()
		return
	}
	metrics.RelayPublished.WithLabelValues("ok").Inc()
}

// Channel is the Redis channel a device's relayed points are published on.
func Channel(deviceID string) string {
	return "mesh:" + deviceID + ":points"
}

// Noop is used when no relay backend is configured.
type Noop struct{}

func (Noop) Relay(context.Context, store.TrackPoint) {}
