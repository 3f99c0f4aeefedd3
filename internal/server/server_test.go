package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"fieldtrack-agent/internal/auth"
	"fieldtrack-agent/internal/config"
	"fieldtrack-agent/internal/db"
	"fieldtrack-agent/internal/state"
	"fieldtrack-agent/internal/store"
	"fieldtrack-agent/internal/syncer"
	"fieldtrack-agent/internal/tracking"
)

type staticSync struct{ st syncer.Status }

func (s staticSync) Status() syncer.Status { return s.st }

func newTestServer(t *testing.T, secret string) (*Server, *store.SQLite) {
	t.Helper()
	conn, err := db.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	st, err := store.NewSQLite(context.Background(), conn)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	sc := state.New(state.Snapshot{DeviceID: "dev-1", DeviceToken: "secret-token", SessionID: "s-1"})
	sync := staticSync{syncer.Status{State: syncer.StateConnected, Connected: true, Outstanding: 2}}
	svc := tracking.NewService(st, sc, nil, tracking.Options{})
	return NewServer(config.Config{StatusJWTSecret: secret}, sc, st, sync, svc, nil), st
}

func TestHealthRoute(t *testing.T) {
	s, _ := newTestServer(t, "secret")

	req := httptest.NewRequest("GET", "/health", nil)
	resp, err := s.App.Test(req)
	if err != nil {
		t.Fatalf("test request: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200 status")
	}
}

func TestMetricsRoute(t *testing.T) {
	s, _ := newTestServer(t, "")

	resp, err := s.App.Test(httptest.NewRequest("GET", "/metrics", nil))
	if err != nil || resp.StatusCode != 200 {
		t.Fatalf("metrics request: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "fieldtrack_store_pending_points") {
		t.Fatalf("expected agent metrics in exposition")
	}
}

func TestStatusRoute(t *testing.T) {
	s, st := newTestServer(t, "")
	if _, err := st.Insert(context.Background(), store.TrackPoint{TimestampMs: 1, Lat: 1, Lon: 1}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	resp, err := s.App.Test(httptest.NewRequest("GET", "/status", nil))
	if err != nil || resp.StatusCode != 200 {
		t.Fatalf("status request: %v %d", err, resp.StatusCode)
	}
	raw, _ := io.ReadAll(resp.Body)
	var status Status
	if err := json.Unmarshal(raw, &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.Pending != 1 || status.State.DeviceID != "dev-1" || !status.Sync.Connected || status.Sync.Outstanding != 2 {
		t.Fatalf("unexpected status %+v", status)
	}
	if strings.Contains(string(raw), "secret-token") {
		t.Fatalf("device token leaked in status")
	}
}

func TestStatusRequiresTokenWhenConfigured(t *testing.T) {
	s, _ := newTestServer(t, "secret")

	resp, err := s.App.Test(httptest.NewRequest("GET", "/status", nil))
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token")
	}

	token, err := auth.SignToken("secret", "operator", time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	req := httptest.NewRequest("GET", "/status", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = s.App.Test(req)
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with token")
	}

	// health stays open
	resp, _ = s.App.Test(httptest.NewRequest("GET", "/health", nil))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health must not require a token")
	}
}

func TestTrackingRoutesMounted(t *testing.T) {
	s, _ := newTestServer(t, "")

	resp, err := s.App.Test(httptest.NewRequest("POST", "/tracking/sessions", nil))
	if err != nil || resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected session start through the status server")
	}
	if !s.State.Tracking() {
		t.Fatalf("expected tracking on")
	}
}
