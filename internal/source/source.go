// Package source reads raw location fixes as newline-delimited JSON, one fix
// per line, from stdin or a file.
package source

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"fieldtrack-agent/internal/filter"
	"fieldtrack-agent/internal/logger"

	"go.uber.org/zap"
)

// Stdin is the FIX_SOURCE value that selects standard input.
const Stdin = "-"

const maxLine = 64 << 10

type Reader struct {
	r   io.Reader
	log *zap.SugaredLogger
}

func NewReader(r io.Reader, log *zap.SugaredLogger) *Reader {
	return &Reader{r: r, log: logger.For(log, logger.ComponentSource)}
}

// Open resolves a FIX_SOURCE value. The returned closer is a no-op for stdin.
func Open(name string, log *zap.SugaredLogger) (*Reader, io.Closer, error) {
	if name == "" || name == Stdin {
		return NewReader(os.Stdin, log), io.NopCloser(nil), nil
	}
	f, err := os.Open(name)
	if err != nil {
		return nil, nil, fmt.Errorf("open fix source: %w", err)
	}
	return NewReader(f, log), f, nil
}

// Run decodes fixes onto out until the input ends or ctx is done. Malformed
// lines are logged and skipped. out is closed on return.
func (r *Reader) Run(ctx context.Context, out chan<- filter.RawFix) error {
	defer close(out)

	sc := bufio.NewScanner(r.r)
	sc.Buffer(make([]byte, 0, 4096), maxLine)

	line := 0
	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		fix, err := Parse(raw)
		if err != nil {
			r.log.Warnw("skipping malformed fix", "line", line, "error", err)
			continue
		}
		select {
		case out <- fix:
		case <-ctx.Done():
			return nil
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read fixes: %w", err)
	}
	return nil
}

// Parse decodes and validates one fix.
func Parse(raw []byte) (filter.RawFix, error) {
	var fix filter.RawFix
	if err := json.Unmarshal(raw, &fix); err != nil {
		return filter.RawFix{}, err
	}
	if fix.TimestampMs <= 0 {
		return filter.RawFix{}, errors.New("missing ts_epoch_ms")
	}
	if math.IsNaN(fix.Lat) || fix.Lat < -90 || fix.Lat > 90 {
		return filter.RawFix{}, fmt.Errorf("latitude %v out of range", fix.Lat)
	}
	if math.IsNaN(fix.Lon) || fix.Lon < -180 || fix.Lon > 180 {
		return filter.RawFix{}, fmt.Errorf("longitude %v out of range", fix.Lon)
	}
	if fix.AccuracyM != nil && *fix.AccuracyM < 0 {
		return filter.RawFix{}, errors.New("negative accuracy")
	}
	return fix, nil
}
