// Package tracking turns raw fixes into queued track points and drives the
// session lifecycle around the filter, the store and the uplink.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"fieldtrack-agent/internal/filter"
	"fieldtrack-agent/internal/logger"
	"fieldtrack-agent/internal/metrics"
	"fieldtrack-agent/internal/relay"
	"fieldtrack-agent/internal/shared/geo"
	"fieldtrack-agent/internal/state"
	"fieldtrack-agent/internal/store"
	"fieldtrack-agent/internal/syncer"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const DefaultMaxPending = 5000

var (
	ErrSessionActive   = errors.New("a session is already active")
	ErrNoActiveSession = errors.New("no active session")
)

// Syncer delivers queued points. Both the websocket engine and the REST
// drainer satisfy it.
type Syncer interface {
	Start(ctx context.Context) error
	Stop()
	Notify(p store.TrackPoint)
	Status() syncer.Status
}

// Publisher receives every accepted point, e.g. the local live feed.
type Publisher interface {
	PublishPoint(p store.TrackPoint)
}

type Options struct {
	// Context bounds the syncer of every session. Defaults to Background.
	Context    context.Context
	MaxPending int
	Decider    filter.ModeDecider
	Relay      relay.Relay
	Feed       Publisher
	Clock      clock.Clock
	Log        *zap.SugaredLogger
}

type Service struct {
	ctx        context.Context
	store      store.Store
	state      *state.Context
	syncer     Syncer
	relay      relay.Relay
	feed       Publisher
	decider    filter.ModeDecider
	clock      clock.Clock
	maxPending int
	log        *zap.SugaredLogger

	// mu serializes fix handling so filtering, insert and eviction never
	// interleave, and guards the session bookkeeping below.
	mu      sync.Mutex
	filter  *filter.Filter
	session *Session
	summary Summary
	last    *store.TrackPoint

	relays sync.WaitGroup
}

func NewService(st store.Store, sc *state.Context, sy Syncer, opts Options) *Service {
	if opts.MaxPending <= 0 {
		opts.MaxPending = DefaultMaxPending
	}
	if opts.Decider == nil {
		opts.Decider = filter.DefaultDecider()
	}
	if opts.Relay == nil {
		opts.Relay = relay.Noop{}
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Context == nil {
		opts.Context = context.Background()
	}
	return &Service{
		ctx:        opts.Context,
		store:      st,
		state:      sc,
		syncer:     sy,
		relay:      opts.Relay,
		feed:       opts.Feed,
		decider:    opts.Decider,
		clock:      opts.Clock,
		maxPending: opts.MaxPending,
		log:        logger.For(opts.Log, logger.ComponentTrack),
		filter:     filter.New(opts.Clock),
	}
}

// StartSession resets the filter, publishes the session to the shared state
// and starts the syncer under the service context. An empty id gets a
// generated one.
func (s *Service) StartSession(req StartRequest) (Session, error) {
	mode := s.state.Mode()
	if req.Mode != "" {
		m, err := filter.ParseMode(req.Mode)
		if err != nil {
			return Session{}, err
		}
		mode = m
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != nil {
		return Session{}, ErrSessionActive
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	s.filter.Reset()
	s.last = nil
	s.state.SetSessionID(req.SessionID)
	if req.UserID != "" {
		s.state.SetUserID(req.UserID)
	}
	s.state.SetMode(mode)
	s.state.SetTracking(true)

	session := Session{
		ID:        req.SessionID,
		UserID:    s.state.UserID(),
		Mode:      mode.String(),
		StartedAt: s.clock.Now(),
		Active:    true,
	}
	s.session = &session
	s.summary = Summary{SessionID: session.ID, Rejected: map[string]int{}}

	if s.syncer != nil {
		if err := s.syncer.Start(s.ctx); err != nil && !errors.Is(err, syncer.ErrAlreadyRunning) {
			s.session = nil
			s.state.SetTracking(false)
			return Session{}, fmt.Errorf("start syncer: %w", err)
		}
	}
	s.log.Infow("tracking session started", "session_id", session.ID, "mode", session.Mode)
	return session, nil
}

// StopSession stops the syncer, which abandons unacknowledged batches, and
// waits for relays in progress.
func (s *Service) StopSession() (Session, error) {
	s.mu.Lock()
	if s.session == nil {
		s.mu.Unlock()
		return Session{}, ErrNoActiveSession
	}
	session := *s.session
	session.EndedAt = s.clock.Now()
	session.Active = false
	s.session = nil
	s.summary.DurationSec = int64(session.EndedAt.Sub(session.StartedAt) / time.Second)
	s.state.SetTracking(false)
	s.mu.Unlock()

	if s.syncer != nil {
		s.syncer.Stop()
	}
	s.relays.Wait()
	s.log.Infow("tracking session stopped", "session_id", session.ID)
	return session, nil
}

// Session returns the active session, if any.
func (s *Service) Session() (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return Session{}, false
	}
	return *s.session, true
}

func (s *Service) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.summary
	out.Rejected = make(map[string]int, len(s.summary.Rejected))
	for k, v := range s.summary.Rejected {
		out.Rejected[k] = v
	}
	if s.session != nil {
		out.DurationSec = int64(s.clock.Since(s.session.StartedAt) / time.Second)
	}
	if out.DurationSec > 0 {
		out.AverageSpeedM = out.DistanceM / float64(out.DurationSec)
	}
	return out
}

// Run feeds fixes into HandleFix until the channel closes or ctx is done.
func (s *Service) Run(ctx context.Context, fixes <-chan filter.RawFix) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case fix, ok := <-fixes:
			if !ok {
				return nil
			}
			if _, err := s.HandleFix(ctx, fix); err != nil {
				s.log.Debugw("fix not queued", "error", err)
			}
		}
	}
}

// HandleFix filters one fix and queues it when accepted. Fixes that arrive
// without an active session are ignored. The returned error is only set when
// an accepted point could not be stored; tracking continues either way.
func (s *Service) HandleFix(ctx context.Context, fix filter.RawFix) (filter.Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return filter.Decision{}, ErrNoActiveSession
	}

	mode := filter.Resolve(s.state.Mode(), s.decider, fix)
	d := s.filter.Process(fix, mode)
	if !d.Accept {
		metrics.FixDecisions.WithLabelValues("reject", d.Reason).Inc()
		s.summary.Rejected[d.Reason]++
		s.log.Debugw("fix rejected", "reason", d.Reason, "mode", mode.String(), "ts", fix.TimestampMs)
		return d, nil
	}
	metrics.FixDecisions.WithLabelValues("accept", d.Reason).Inc()

	p := s.newPoint(*d.Output)
	id, err := s.store.Insert(ctx, p)
	if err != nil {
		metrics.StoreErrors.WithLabelValues("insert").Inc()
		s.log.Errorw("store point failed", "error", err)
		s.state.RecordError(err)
		return d, fmt.Errorf("store point: %w", err)
	}
	p.ID = id
	s.record(p, d.Forced)

	if s.feed != nil {
		s.feed.PublishPoint(p)
	}
	if !s.state.Available() {
		s.relayAsync(p)
	}
	s.enforceCapacity(ctx)
	if s.syncer != nil {
		s.syncer.Notify(p)
	}
	return d, nil
}

func (s *Service) newPoint(out filter.Point) store.TrackPoint {
	p := store.TrackPoint{
		TimestampMs: out.TimestampMs,
		Lat:         out.Lat,
		Lon:         out.Lon,
		AccuracyM:   out.AccuracyM,
		SpeedMps:    out.SpeedMps,
		BearingDeg:  out.BearingDeg,
		State:       store.Pending,
	}
	if id := s.state.SessionID(); id != "" {
		p.SessionID = &id
	}
	if id := s.state.UserID(); id != "" {
		p.UserID = &id
	}
	return p
}

func (s *Service) record(p store.TrackPoint, forced bool) {
	s.summary.Accepted++
	if forced {
		s.summary.Forced++
	}
	if s.last != nil {
		s.summary.DistanceM += geo.DistanceM(s.last.Lat, s.last.Lon, p.Lat, p.Lon)
	}
	s.last = &p
}

// relayAsync hands p to the mesh relay without holding up fix handling. The
// relay is bounded by the service context, not the caller's.
func (s *Service) relayAsync(p store.TrackPoint) {
	s.relays.Add(1)
	go func() {
		defer s.relays.Done()
		s.relay.Relay(s.ctx, p)
	}()
}

// enforceCapacity evicts the oldest pending points once the queue is over its
// cap. Callers hold mu.
func (s *Service) enforceCapacity(ctx context.Context) {
	n, err := s.store.CountPending(ctx)
	if err != nil {
		metrics.StoreErrors.WithLabelValues("count_pending").Inc()
		s.log.Errorw("count pending failed", "error", err)
		return
	}
	if n <= s.maxPending {
		metrics.PendingPoints.Set(float64(n))
		return
	}

	excess := n - s.maxPending
	deleted, err := s.store.DeleteOldestPending(ctx, excess)
	if err != nil {
		metrics.StoreErrors.WithLabelValues("delete_oldest").Inc()
		s.log.Errorw("evict pending failed", "error", err, "excess", excess)
		return
	}
	s.summary.Dropped += deleted
	metrics.PointsDropped.Add(float64(deleted))
	metrics.PendingPoints.Set(float64(n - deleted))
	s.log.Warnw("pending queue over capacity, dropped oldest points", "dropped", deleted, "cap", s.maxPending)
}
