package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	ComponentAgent   = "agent"
	ComponentFilter  = "filter"
	ComponentTrack   = "tracking"
	ComponentSync    = "sync"
	ComponentUplink  = "uplink"
	ComponentRelay   = "relay"
	ComponentStore   = "store"
	ComponentNetwork = "network"
	ComponentSource  = "source"
	ComponentStatus  = "status"
)

// New builds the root logger. Dev mode switches to a colored console encoder,
// otherwise entries are JSON for log shippers.
func New(level string, dev bool) (*zap.SugaredLogger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}

	var cfg zap.Config
	if dev {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}

// For returns a named child logger, or a no-op logger when base is nil.
func For(base *zap.SugaredLogger, component string) *zap.SugaredLogger {
	if base == nil {
		return zap.NewNop().Sugar()
	}
	return base.Named(component)
}
