package stream

import (
	"encoding/json"
	"testing"
	"time"

	"fieldtrack-agent/internal/store"
)

func TestHubBroadcast(t *testing.T) {
	hub := NewHub(nil)
	client := hub.Register("session-1")
	defer hub.Unregister(client)

	payload := []byte("hello")
	hub.Broadcast("session-1", payload)

	select {
	case msg := <-client.Send:
		if string(msg) != "hello" {
			t.Fatalf("unexpected message")
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatalf("timeout waiting for message")
	}
}

func TestHubBroadcastOtherSessionIgnored(t *testing.T) {
	hub := NewHub(nil)
	client := hub.Register("session-1")
	defer hub.Unregister(client)

	hub.Broadcast("session-2", []byte("elsewhere"))
	select {
	case <-client.Send:
		t.Fatalf("received message for another session")
	default:
	}
}

func TestHubAllSessions(t *testing.T) {
	hub := NewHub(nil)
	all := hub.Register(AllSessions)
	defer hub.Unregister(all)

	hub.Broadcast("session-9", []byte("a"))
	hub.Broadcast(AllSessions, []byte("b"))

	if msg := <-all.Send; string(msg) != "a" {
		t.Fatalf("unexpected first message %s", msg)
	}
	if msg := <-all.Send; string(msg) != "b" {
		t.Fatalf("unexpected second message %s", msg)
	}
	select {
	case <-all.Send:
		t.Fatalf("wildcard viewer received a duplicate")
	default:
	}
}

func TestHubSlowViewerDoesNotBlock(t *testing.T) {
	hub := NewHub(nil)
	client := hub.Register("session-1")
	defer hub.Unregister(client)

	for i := 0; i < cap(client.Send)+10; i++ {
		hub.Broadcast("session-1", []byte("x"))
	}
	if len(client.Send) != cap(client.Send) {
		t.Fatalf("expected full buffer, got %d", len(client.Send))
	}
}

func TestUnregisterCloses(t *testing.T) {
	hub := NewHub(nil)
	client := hub.Register("session-2")
	if hub.Viewers() != 1 {
		t.Fatalf("expected one viewer")
	}
	hub.Unregister(client)
	hub.Unregister(client)
	_, ok := <-client.Send
	if ok {
		t.Fatalf("expected channel closed")
	}
	if hub.Viewers() != 0 {
		t.Fatalf("expected no viewers")
	}
}

func TestPublishPoint(t *testing.T) {
	hub := NewHub(nil)
	client := hub.Register("s-1")
	defer hub.Unregister(client)

	sid := "s-1"
	hub.PublishPoint(store.TrackPoint{ID: 42, SessionID: &sid, TimestampMs: 1000, Lat: -6.2, Lon: 106.8})

	var ev Event
	if err := json.Unmarshal(<-client.Send, &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Event != EventPoint || ev.PointID != 42 || ev.Point.Lat != -6.2 || *ev.Point.SessionID != "s-1" {
		t.Fatalf("unexpected event %+v", ev)
	}
}
