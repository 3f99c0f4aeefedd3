package uplink

import (
	"context"
	"errors"
	"sync"
	"time"

	"fieldtrack-agent/internal/logger"
	"fieldtrack-agent/internal/metrics"
	"fieldtrack-agent/internal/state"
	"fieldtrack-agent/internal/store"
	"fieldtrack-agent/internal/syncer"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

const (
	DefaultInterval = 15 * time.Second

	transportHTTP = "http"
	stateIdle     = "idle"
	statePaused   = "session_inactive"
)

type submitter interface {
	Submit(ctx context.Context, token string, sessionID *string, points []store.TrackPoint) error
}

// Drainer periodically pushes pending points through the REST endpoint. A 2xx
// answer marks the batch synced, the same role an ack plays on the socket.
type Drainer struct {
	client    submitter
	store     store.Store
	state     *state.Context
	clock     clock.Clock
	interval  time.Duration
	batchSize int
	log       *zap.SugaredLogger

	wake chan struct{}

	mu sync.Mutex
	// rejected holds sessions the collector reported inactive. Their points
	// stay pending and are skipped.
	rejected map[string]bool
	sent     int

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

type DrainerOptions struct {
	Interval  time.Duration
	BatchSize int
	Clock     clock.Clock
	Log       *zap.SugaredLogger
}

func NewDrainer(client *Client, st store.Store, sc *state.Context, opts DrainerOptions) *Drainer {
	return newDrainer(client, st, sc, opts)
}

func newDrainer(client submitter, st store.Store, sc *state.Context, opts DrainerOptions) *Drainer {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.BatchSize <= 0 || opts.BatchSize > MaxPoints {
		opts.BatchSize = MaxPoints
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &Drainer{
		client:    client,
		store:     st,
		state:     sc,
		clock:     opts.Clock,
		interval:  opts.Interval,
		batchSize: opts.BatchSize,
		log:       logger.For(opts.Log, logger.ComponentUplink),
		wake:      make(chan struct{}, 1),
		rejected:  map[string]bool{},
	}
}

func (d *Drainer) Start(ctx context.Context) error {
	d.runMu.Lock()
	defer d.runMu.Unlock()
	if d.cancel != nil {
		return syncer.ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	d.cancel, d.done = cancel, done

	go func() {
		defer close(done)
		d.loop(ctx)
	}()
	return nil
}

func (d *Drainer) Run(ctx context.Context) error {
	if err := d.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	d.Stop()
	return nil
}

// Stop cancels the loop and any request in progress. Unanswered points stay
// pending.
func (d *Drainer) Stop() {
	d.runMu.Lock()
	cancel, done := d.cancel, d.done
	d.cancel, d.done = nil, nil
	d.runMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Notify wakes the loop; the point itself is read back from the store.
func (d *Drainer) Notify(store.TrackPoint) {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Drainer) Status() syncer.Status {
	st := syncer.Status{State: stateIdle, Connected: d.state.Available()}
	if d.state.SessionInactive() {
		st.State = statePaused
	}
	return st
}

func (d *Drainer) loop(ctx context.Context) {
	ticker := d.clock.Ticker(d.interval)
	defer ticker.Stop()

	for {
		d.Drain(ctx)
		select {
		case <-ctx.Done():
			return
		case <-d.wake:
		case <-d.state.SessionChanged():
		case <-ticker.C:
		}
	}
}

// Drain submits pending points until the store is empty, a request fails or
// the current session is rejected.
func (d *Drainer) Drain(ctx context.Context) {
	if !d.state.Available() || d.state.SessionInactive() {
		return
	}

	var cursor int64
	for ctx.Err() == nil {
		page, err := d.store.LoadPendingAfter(ctx, cursor, d.batchSize)
		if err != nil {
			metrics.StoreErrors.WithLabelValues("load_pending").Inc()
			d.log.Errorw("load pending failed", "error", err)
			return
		}
		if len(page) == 0 {
			return
		}
		cursor = page[len(page)-1].ID

		for _, group := range groupBySession(page) {
			if !d.submit(ctx, group) {
				return
			}
		}
	}
}

// submit sends one same-session run and reports whether draining may go on.
func (d *Drainer) submit(ctx context.Context, points []store.TrackPoint) bool {
	sid := points[0].SessionID
	key := sessionKey(sid)

	d.mu.Lock()
	skip := d.rejected[key]
	d.mu.Unlock()
	if skip {
		return true
	}

	err := d.client.Submit(ctx, d.state.DeviceToken(), sid, points)
	switch {
	case err == nil:
		ids := make([]int64, len(points))
		for i, p := range points {
			ids[i] = p.ID
		}
		if err := d.store.MarkSynced(ctx, ids); err != nil {
			metrics.StoreErrors.WithLabelValues("mark_synced").Inc()
			d.log.Errorw("mark synced failed", "error", err)
			return false
		}
		metrics.BatchesSent.WithLabelValues(transportHTTP, "flush").Inc()
		metrics.BatchesAcked.WithLabelValues(transportHTTP).Inc()
		d.mu.Lock()
		d.sent += len(ids)
		d.mu.Unlock()
		return true

	case errors.Is(err, ErrSessionInactive):
		d.mu.Lock()
		d.rejected[key] = true
		d.mu.Unlock()
		d.log.Warnw("collector reports session inactive", "session_id", key, "points", len(points))
		if key == d.state.SessionID() {
			d.state.MarkSessionInactive()
			d.state.RecordError(err)
			return false
		}
		return true

	default:
		if ctx.Err() == nil {
			d.log.Warnw("submit failed", "error", err, "points", len(points))
			d.state.RecordError(err)
		}
		return false
	}
}

// Sent is the number of points the collector has accepted so far.
func (d *Drainer) Sent() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sent
}

// groupBySession splits page into runs of consecutive points sharing a session.
func groupBySession(page []store.TrackPoint) [][]store.TrackPoint {
	var groups [][]store.TrackPoint
	start := 0
	for i := 1; i <= len(page); i++ {
		if i == len(page) || sessionKey(page[i].SessionID) != sessionKey(page[start].SessionID) {
			groups = append(groups, page[start:i])
			start = i
		}
	}
	return groups
}

func sessionKey(id *string) string {
	if id == nil {
		return ""
	}
	return *id
}
