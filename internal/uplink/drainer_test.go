package uplink

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"fieldtrack-agent/internal/db"
	"fieldtrack-agent/internal/state"
	"fieldtrack-agent/internal/store"
)

type call struct {
	session string
	ids     []int64
}

type fakeSubmitter struct {
	mu    sync.Mutex
	calls []call
	errs  map[string]error
}

func (f *fakeSubmitter) Submit(_ context.Context, _ string, sid *string, points []store.TrackPoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := call{session: sessionKey(sid)}
	for _, p := range points {
		c.ids = append(c.ids, p.ID)
	}
	f.calls = append(f.calls, c)
	return f.errs[c.session]
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newStore(t *testing.T) *store.SQLite {
	t.Helper()
	conn, err := db.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	s, err := store.NewSQLite(context.Background(), conn)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func insert(t *testing.T, s store.Store, session string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		sid := session
		if _, err := s.Insert(context.Background(), store.TrackPoint{SessionID: &sid, TimestampMs: int64(i), Lat: 1, Lon: 2}); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
}

func pending(t *testing.T, s store.Store) int {
	t.Helper()
	n, err := s.CountPending(context.Background())
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func TestDrainMarksAcceptedPointsSynced(t *testing.T) {
	s := newStore(t)
	insert(t, s, "old", 3)
	insert(t, s, "current", 4)

	sc := state.New(state.Snapshot{SessionID: "current", NetworkAvailable: true})
	sub := &fakeSubmitter{}
	d := newDrainer(sub, s, sc, DrainerOptions{BatchSize: 5})

	d.Drain(context.Background())

	if pending(t, s) != 0 || d.Sent() != 7 {
		t.Fatalf("expected everything delivered, pending=%d sent=%d", pending(t, s), d.Sent())
	}
	// pages of 5 split by session: old(3) current(2) current(2)
	if len(sub.calls) != 3 || sub.calls[0].session != "old" || len(sub.calls[1].ids) != 2 {
		t.Fatalf("unexpected calls %+v", sub.calls)
	}
}

func TestDrainOfflineDoesNothing(t *testing.T) {
	s := newStore(t)
	insert(t, s, "current", 2)
	sub := &fakeSubmitter{}
	d := newDrainer(sub, s, state.New(state.Snapshot{SessionID: "current"}), DrainerOptions{})

	d.Drain(context.Background())
	if sub.count() != 0 {
		t.Fatalf("submitted while offline")
	}
}

func TestDrainCurrentSessionInactivePauses(t *testing.T) {
	s := newStore(t)
	insert(t, s, "current", 2)
	sc := state.New(state.Snapshot{SessionID: "current", NetworkAvailable: true})
	sub := &fakeSubmitter{errs: map[string]error{"current": &StatusError{Status: 409, Code: "session_inactive"}}}
	d := newDrainer(sub, s, sc, DrainerOptions{})

	d.Drain(context.Background())
	if !sc.SessionInactive() || d.Status().State != statePaused {
		t.Fatalf("expected session marked inactive")
	}
	if pending(t, s) != 2 {
		t.Fatalf("rejected points must stay pending")
	}

	d.Drain(context.Background())
	if sub.count() != 1 {
		t.Fatalf("expected no submissions while paused, got %d", sub.count())
	}

	sc.SetSessionID("next")
	insert(t, s, "next", 1)
	d.Drain(context.Background())
	if pending(t, s) != 2 || sub.count() != 2 {
		t.Fatalf("expected only the new session delivered, pending=%d calls=%d", pending(t, s), sub.count())
	}
}

func TestDrainSkipsStaleRejectedSession(t *testing.T) {
	s := newStore(t)
	insert(t, s, "old", 2)
	insert(t, s, "current", 2)
	sc := state.New(state.Snapshot{SessionID: "current", NetworkAvailable: true})
	sub := &fakeSubmitter{errs: map[string]error{"old": &StatusError{Status: 409, Code: "session_inactive"}}}
	d := newDrainer(sub, s, sc, DrainerOptions{})

	d.Drain(context.Background())
	if sc.SessionInactive() {
		t.Fatalf("a stale session must not pause the current one")
	}
	if pending(t, s) != 2 {
		t.Fatalf("expected only current points delivered, pending=%d", pending(t, s))
	}
}

func TestDrainStopsOnTransientError(t *testing.T) {
	s := newStore(t)
	insert(t, s, "a", 1)
	insert(t, s, "b", 1)
	sc := state.New(state.Snapshot{SessionID: "b", NetworkAvailable: true})
	sub := &fakeSubmitter{errs: map[string]error{"a": errors.New("connection reset")}}
	d := newDrainer(sub, s, sc, DrainerOptions{})

	d.Drain(context.Background())
	if sub.count() != 1 || pending(t, s) != 2 {
		t.Fatalf("expected drain to stop after failure")
	}
	if sc.Snapshot().LastError == "" {
		t.Fatalf("expected error recorded")
	}
}

func TestDrainerLoopWakesOnNotify(t *testing.T) {
	s := newStore(t)
	sc := state.New(state.Snapshot{SessionID: "current", NetworkAvailable: true})
	sub := &fakeSubmitter{}
	d := newDrainer(sub, s, sc, DrainerOptions{Interval: time.Hour})

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer d.Stop()

	insert(t, s, "current", 1)
	d.Notify(store.TrackPoint{})

	deadline := time.Now().Add(2 * time.Second)
	for pending(t, s) != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for notify-driven drain")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestGroupBySession(t *testing.T) {
	a, b := "a", "b"
	groups := groupBySession([]store.TrackPoint{{SessionID: &a}, {SessionID: &a}, {}, {SessionID: &b}, {SessionID: &a}})
	if len(groups) != 4 || len(groups[0]) != 2 || groups[1][0].SessionID != nil {
		t.Fatalf("unexpected groups %+v", groups)
	}
	if groupBySession(nil) != nil {
		t.Fatalf("expected no groups for empty page")
	}
}
