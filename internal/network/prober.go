// Package network decides whether the collector is reachable and publishes
// the answer to the shared state context.
package network

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"time"

	"fieldtrack-agent/internal/logger"
	"fieldtrack-agent/internal/state"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

const (
	DefaultInterval = 5 * time.Second
	DefaultTimeout  = 2 * time.Second
)

type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Prober opens a TCP connection to the collector on every tick.
type Prober struct {
	address  string
	state    *state.Context
	clock    clock.Clock
	interval time.Duration
	timeout  time.Duration
	dial     DialFunc
	log      *zap.SugaredLogger
}

type Options struct {
	Interval time.Duration
	Timeout  time.Duration
	Clock    clock.Clock
	Dial     DialFunc
	Log      *zap.SugaredLogger
}

func NewProber(collectorURL string, sc *state.Context, opts Options) (*Prober, error) {
	addr, err := Address(collectorURL)
	if err != nil {
		return nil, err
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Dial == nil {
		var d net.Dialer
		opts.Dial = d.DialContext
	}
	return &Prober{
		address:  addr,
		state:    sc,
		clock:    opts.Clock,
		interval: opts.Interval,
		timeout:  opts.Timeout,
		dial:     opts.Dial,
		log:      logger.For(opts.Log, logger.ComponentNetwork),
	}, nil
}

// Run probes immediately and then on every interval until ctx is done.
func (p *Prober) Run(ctx context.Context) error {
	ticker := p.clock.Ticker(p.interval)
	defer ticker.Stop()

	for {
		p.Probe(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Probe runs one check and records the result.
func (p *Prober) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	ok := true
	conn, err := p.dial(ctx, "tcp", p.address)
	if err != nil {
		ok = false
	} else {
		_ = conn.Close()
	}

	if prev := p.state.Available(); prev != ok {
		if ok {
			p.log.Infow("collector reachable", "address", p.address)
		} else {
			p.log.Warnw("collector unreachable", "address", p.address, "error", err)
		}
	}
	p.state.SetNetworkAvailable(ok)
	return ok
}

// Address returns host:port for a collector URL, filling in the scheme's
// default port.
func Address(collectorURL string) (string, error) {
	u, err := url.Parse(collectorURL)
	if err != nil {
		return "", fmt.Errorf("parse collector url: %w", err)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("collector url %q has no host", collectorURL)
	}
	port := u.Port()
	if port == "" {
		switch u.Scheme {
		case "https", "wss":
			port = "443"
		case "http", "ws":
			port = "80"
		default:
			return "", fmt.Errorf("unsupported collector scheme %q", u.Scheme)
		}
	}
	return net.JoinHostPort(u.Hostname(), port), nil
}
