package network

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"fieldtrack-agent/internal/state"

	"github.com/benbjohnson/clock"
)

func TestAddress(t *testing.T) {
	cases := []struct{ in, want string }{
		{"http://collector", "collector:80"},
		{"https://collector.example", "collector.example:443"},
		{"http://10.0.0.5:8080/api", "10.0.0.5:8080"},
		{"wss://[::1]/ws", "[::1]:443"},
	}
	for _, c := range cases {
		got, err := Address(c.in)
		if err != nil || got != c.want {
			t.Fatalf("%s: got %q %v, want %q", c.in, got, err, c.want)
		}
	}
	for _, bad := range []string{"ftp://collector", "http://", "::"} {
		if _, err := Address(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestProbeAgainstListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen error: %v", err)
	}
	sc := state.New(state.Snapshot{})
	p, err := NewProber("http://"+ln.Addr().String(), sc, Options{})
	if err != nil {
		t.Fatalf("new prober: %v", err)
	}

	if !p.Probe(context.Background()) || !sc.Available() {
		t.Fatalf("expected collector reachable")
	}

	ln.Close()
	if p.Probe(context.Background()) || sc.Available() {
		t.Fatalf("expected collector unreachable after close")
	}
}

type stubConn struct{ net.Conn }

func (stubConn) Close() error { return nil }

func TestRunProbesOnEveryTick(t *testing.T) {
	mock := clock.NewMock()
	var calls atomic.Int32
	var up atomic.Bool
	dial := func(context.Context, string, string) (net.Conn, error) {
		calls.Add(1)
		if up.Load() {
			return stubConn{}, nil
		}
		return nil, errors.New("unreachable")
	}

	sc := state.New(state.Snapshot{NetworkAvailable: true})
	p, err := NewProber("http://collector", sc, Options{Clock: mock, Dial: dial, Interval: time.Second})
	if err != nil {
		t.Fatalf("new prober: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = p.Run(ctx)
		close(done)
	}()

	waitUntil(t, "failed probe", func() bool { return calls.Load() == 1 && !sc.Available() })

	up.Store(true)
	mock.Add(time.Second)
	waitUntil(t, "successful probe", func() bool { return calls.Load() == 2 && sc.Available() })

	cancel()
	<-done
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}
