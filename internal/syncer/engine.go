// Package syncer keeps a persistent websocket to the collector and drains the
// point store into it, marking points synced only when the collector acks.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"fieldtrack-agent/internal/logger"
	"fieldtrack-agent/internal/metrics"
	"fieldtrack-agent/internal/state"
	"fieldtrack-agent/internal/store"
	"fieldtrack-agent/internal/wire"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/looplab/fsm"
	"go.uber.org/zap"
)

const (
	StateDisconnected = "disconnected"
	StateConnecting   = "connecting"
	StateConnected    = "connected"

	eventDial    = "dial"
	eventOpen    = "open"
	eventDrop    = "drop"
	transportWS  = "ws"
	kindFlush    = "flush"
	kindFastPath = "fast_path"
)

const (
	DefaultBatchSize     = 100
	DefaultPollInterval  = 2 * time.Second
	DefaultFlushInterval = 15 * time.Second
)

var ErrAlreadyRunning = errors.New("sync engine already running")

type Options struct {
	CollectorURL  string
	SocketPath    string
	BatchSize     int
	PollInterval  time.Duration
	FlushInterval time.Duration
	Backoff       *Backoff
	Dialer        Dialer
	Clock         clock.Clock
	Log           *zap.SugaredLogger
}

// Status is a point-in-time view of the engine for the status API.
type Status struct {
	State       string `json:"state"`
	Connected   bool   `json:"connected"`
	Outstanding int    `json:"outstanding_batches"`
	InFlight    int    `json:"in_flight_points"`
	Attempt     int    `json:"reconnect_attempt"`
}

type Engine struct {
	store   store.Store
	state   *state.Context
	dialer  Dialer
	clock   clock.Clock
	backoff *Backoff
	log     *zap.SugaredLogger
	fsm     *fsm.FSM

	collectorURL  string
	socketPath    string
	batchSize     int
	pollInterval  time.Duration
	flushInterval time.Duration
	newBatchID    func() string

	// mu guards the connection, the outstanding map and the connected flag.
	mu          sync.Mutex
	conn        Conn
	connected   bool
	outstanding map[string][]int64
	inFlight    map[int64]string

	notify  chan store.TrackPoint
	dropped chan struct{}

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(st store.Store, sc *state.Context, opts Options) *Engine {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultFlushInterval
	}
	if opts.Backoff == nil {
		opts.Backoff = NewBackoff()
	}
	if opts.Dialer == nil {
		opts.Dialer = WSDialer{}
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}

	e := &Engine{
		store:         st,
		state:         sc,
		dialer:        opts.Dialer,
		clock:         opts.Clock,
		backoff:       opts.Backoff,
		log:           logger.For(opts.Log, logger.ComponentSync),
		collectorURL:  opts.CollectorURL,
		socketPath:    opts.SocketPath,
		batchSize:     opts.BatchSize,
		pollInterval:  opts.PollInterval,
		flushInterval: opts.FlushInterval,
		newBatchID:    uuid.NewString,
		outstanding:   map[string][]int64{},
		inFlight:      map[int64]string{},
		notify:        make(chan store.TrackPoint, 64),
		dropped:       make(chan struct{}, 1),
	}
	e.fsm = fsm.NewFSM(
		StateDisconnected,
		fsm.Events{
			{Name: eventDial, Src: []string{StateDisconnected}, Dst: StateConnecting},
			{Name: eventOpen, Src: []string{StateConnecting}, Dst: StateConnected},
			{Name: eventDrop, Src: []string{StateConnecting, StateConnected}, Dst: StateDisconnected},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, ev *fsm.Event) {
				e.log.Debugw("connection state changed", "from", ev.Src, "to", ev.Dst)
			},
		},
	)
	return e
}

// Start launches the supervising loop in the background. It returns
// ErrAlreadyRunning when a loop is active.
func (e *Engine) Start(ctx context.Context) error {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.cancel != nil {
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	e.cancel, e.done = cancel, done

	go func() {
		defer close(done)
		defer e.teardown(nil, "stopped")
		e.loop(ctx)
	}()
	return nil
}

// Run starts the loop and blocks until ctx is done, then stops it.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	e.Stop()
	return nil
}

// Stop cancels the loop, closes the connection without a close handshake and
// forgets every unacknowledged batch. Those points stay Pending in the store.
func (e *Engine) Stop() {
	e.runMu.Lock()
	cancel, done := e.cancel, e.done
	e.cancel, e.done = nil, nil
	e.runMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	e.teardown(nil, "stopped")
	<-done
}

// Notify asks the loop to send p right away. It never blocks; when the queue
// is full the point simply waits for the next flush.
func (e *Engine) Notify(p store.TrackPoint) {
	select {
	case e.notify <- p:
	default:
	}
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		State:       e.fsm.Current(),
		Connected:   e.connected,
		Outstanding: len(e.outstanding),
		InFlight:    len(e.inFlight),
		Attempt:     e.backoff.Attempt(),
	}
}

func (e *Engine) loop(ctx context.Context) {
	ticker := e.clock.Ticker(e.flushInterval)
	defer ticker.Stop()

	wasConnected := false
	for {
		if ctx.Err() != nil {
			return
		}

		if e.isConnected() {
			wasConnected = true
			select {
			case <-ctx.Done():
				return
			case p := <-e.notify:
				e.sendOne(ctx, p)
			case <-e.dropped:
			case <-ticker.C:
				e.flush(ctx)
			}
			continue
		}

		if wasConnected {
			wasConnected = false
			if !e.sleep(ctx, e.backoff.Next()) {
				return
			}
			continue
		}

		if !e.state.Available() {
			if !e.sleep(ctx, e.pollInterval) {
				return
			}
			continue
		}

		if err := e.connect(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			e.log.Warnw("connect failed", "error", err, "attempt", e.backoff.Attempt())
			e.state.RecordError(err)
			if !e.sleep(ctx, e.backoff.Next()) {
				return
			}
			continue
		}
		// a connection lost during this flush or before the next pass still
		// waits one backoff before the redial
		wasConnected = true
		e.flush(ctx)
	}
}

func (e *Engine) sleep(ctx context.Context, d time.Duration) bool {
	t := e.clock.Timer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (e *Engine) isConnected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connected
}

func (e *Engine) connect(ctx context.Context) error {
	u, err := SocketURL(e.collectorURL, e.socketPath)
	if err != nil {
		return err
	}

	e.transition(ctx, eventDial)
	conn, err := e.dialer.Dial(ctx, u, authHeader(e.state.DeviceToken()))
	if err != nil {
		metrics.ConnectAttempts.WithLabelValues("error").Inc()
		e.transition(ctx, eventDrop)
		return err
	}

	e.backoff.Reset()
	select {
	case <-e.dropped:
	default:
	}

	e.mu.Lock()
	if ctx.Err() != nil {
		e.mu.Unlock()
		_ = conn.Close()
		e.transition(ctx, eventDrop)
		return ctx.Err()
	}
	e.conn = conn
	e.connected = true
	e.mu.Unlock()

	e.transition(ctx, eventOpen)
	metrics.ConnectAttempts.WithLabelValues("ok").Inc()
	metrics.Connected.Set(1)
	e.log.Infow("connected to collector", "url", u)

	go e.readLoop(ctx, conn)
	return nil
}

// readLoop consumes server messages for one connection until it fails.
func (e *Engine) readLoop(ctx context.Context, conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				e.log.Infow("connection closed", "error", err)
			}
			e.teardown(conn, "read")
			return
		}
		e.handleMessage(ctx, data)
	}
}

func (e *Engine) handleMessage(ctx context.Context, data []byte) {
	batchID, ok := wire.ParseAck(data)
	if !ok {
		e.log.Debugw("ignoring server message", "size", len(data))
		return
	}
	e.ack(ctx, batchID)
}

// ack removes the batch and marks its points synced. Unknown ids are ignored.
func (e *Engine) ack(ctx context.Context, batchID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids, ok := e.outstanding[batchID]
	if !ok {
		e.log.Debugw("ack for unknown batch", "batch_id", batchID)
		return
	}
	delete(e.outstanding, batchID)
	for _, id := range ids {
		delete(e.inFlight, id)
	}

	if err := e.store.MarkSynced(ctx, ids); err != nil {
		metrics.StoreErrors.WithLabelValues("mark_synced").Inc()
		e.log.Errorw("mark synced failed", "error", err, "batch_id", batchID, "points", len(ids))
		return
	}
	metrics.BatchesAcked.WithLabelValues(transportWS).Inc()
	e.log.Debugw("batch acknowledged", "batch_id", batchID, "points", len(ids))
}

// flush sends every pending point that is not already in flight.
func (e *Engine) flush(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var cursor int64
	for e.connected {
		page, err := e.store.LoadPendingAfter(ctx, cursor, e.batchSize)
		if err != nil {
			metrics.StoreErrors.WithLabelValues("load_pending").Inc()
			e.log.Errorw("load pending failed", "error", err)
			return
		}
		if len(page) == 0 {
			return
		}
		cursor = page[len(page)-1].ID

		batch := make([]store.TrackPoint, 0, len(page))
		for _, p := range page {
			if _, busy := e.inFlight[p.ID]; !busy {
				batch = append(batch, p)
			}
		}
		if len(batch) == 0 {
			continue
		}
		if err := e.sendLocked(batch, kindFlush); err != nil {
			return
		}
	}
}

func (e *Engine) sendOne(ctx context.Context, p store.TrackPoint) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.connected || p.ID == 0 {
		return
	}
	if _, busy := e.inFlight[p.ID]; busy {
		return
	}
	// p may have been acked or evicted since Notify; sending it again is a
	// duplicate the collector already tolerates.
	_ = e.sendLocked([]store.TrackPoint{p}, kindFastPath)
}

// sendLocked writes one batch and records it as outstanding. On a write error
// the connection is torn down and nothing is recorded. Callers hold mu.
func (e *Engine) sendLocked(points []store.TrackPoint, kind string) error {
	batchID := e.newBatchID()
	payload, err := json.Marshal(wire.NewBatch(batchID, points))
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}
	if err := e.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		e.log.Warnw("send failed", "error", err, "batch_id", batchID)
		e.teardownLocked(e.conn, "write")
		return err
	}

	ids := make([]int64, len(points))
	for i, p := range points {
		ids[i] = p.ID
		e.inFlight[p.ID] = batchID
	}
	e.outstanding[batchID] = ids
	metrics.BatchesSent.WithLabelValues(transportWS, kind).Inc()
	e.log.Debugw("batch sent", "batch_id", batchID, "points", len(ids), "kind", kind)
	return nil
}

// teardown closes conn if it is still the current connection; a nil conn
// closes whatever is current.
func (e *Engine) teardown(conn Conn, reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.teardownLocked(conn, reason)
}

func (e *Engine) teardownLocked(conn Conn, reason string) {
	if e.conn == nil || (conn != nil && conn != e.conn) {
		return
	}
	_ = e.conn.Close()
	if n := len(e.outstanding); n > 0 {
		e.log.Infow("discarding unacknowledged batches", "batches", n, "reason", reason)
	}
	e.conn = nil
	e.connected = false
	e.outstanding = map[string][]int64{}
	e.inFlight = map[int64]string{}
	metrics.Connected.Set(0)
	e.transition(context.Background(), eventDrop)

	select {
	case e.dropped <- struct{}{}:
	default:
	}
}

func (e *Engine) transition(ctx context.Context, event string) {
	if err := e.fsm.Event(ctx, event); err != nil {
		var noTransition fsm.NoTransitionError
		if !errors.As(err, &noTransition) {
			e.log.Debugw("state transition skipped", "event", event, "state", e.fsm.Current(), "error", err)
		}
	}
}
