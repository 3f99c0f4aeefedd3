// Package uplink submits points over the collector's REST endpoint. It is the
// alternative to the websocket engine for collectors without socket support.
package uplink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"fieldtrack-agent/internal/store"
	"fieldtrack-agent/internal/wire"

	"github.com/cenkalti/backoff/v4"
)

const (
	PointsPath = "/api/tracker/points"

	// MaxPoints is the largest batch the collector accepts in one request.
	MaxPoints = 500

	codeSessionInactive = "session_inactive"
)

var (
	ErrSessionInactive = errors.New("session inactive")
	ErrBatchTooLarge   = fmt.Errorf("batch exceeds %d points", MaxPoints)
)

// StatusError is a non-2xx answer from the collector.
type StatusError struct {
	Status          int
	Code            string
	Message         string
	ActiveSessionID string
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("collector returned %d: %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("collector returned %d: %s", e.Status, e.Message)
}

// Is lets errors.Is(err, ErrSessionInactive) match a 409 session error.
func (e *StatusError) Is(target error) bool {
	return target == ErrSessionInactive && e.SessionInactive()
}

func (e *StatusError) SessionInactive() bool {
	return e.Status == http.StatusConflict && e.Code == codeSessionInactive
}

// Retryable reports whether resending the same request can succeed.
func (e *StatusError) Retryable() bool {
	switch {
	case e.Status >= 500:
		return true
	case e.Status == http.StatusRequestTimeout, e.Status == http.StatusTooEarly, e.Status == http.StatusTooManyRequests:
		return true
	}
	return false
}

type SubmitRequest struct {
	SessionID *string      `json:"session_id"`
	Points    []wire.Point `json:"points"`
}

type errorBody struct {
	Code    string `json:"code"`
	Error   string `json:"error"`
	Message string `json:"message"`
	Details struct {
		ActiveSessionID string `json:"active_session_id"`
	} `json:"details"`
}

type Client struct {
	baseURL    string
	http       *http.Client
	newBackOff func() backoff.BackOff
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 10 * time.Second
			b.MaxElapsedTime = time.Minute
			return b
		},
	}
}

// Submit posts one batch, retrying transient failures. A nil error means the
// collector stored every point.
func (c *Client) Submit(ctx context.Context, token string, sessionID *string, points []store.TrackPoint) error {
	if len(points) == 0 {
		return nil
	}
	if len(points) > MaxPoints {
		return ErrBatchTooLarge
	}
	body, err := json.Marshal(SubmitRequest{SessionID: sessionID, Points: wire.FromTrackPoints(points)})
	if err != nil {
		return fmt.Errorf("encode points: %w", err)
	}

	op := func() error {
		err := c.post(ctx, token, body)
		var se *StatusError
		if errors.As(err, &se) && !se.Retryable() {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.Retry(op, backoff.WithContext(c.newBackOff(), ctx))
}

func (c *Client) post(ctx context.Context, token string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+PointsPath, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post points: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return parseStatusError(resp)
}

func parseStatusError(resp *http.Response) *StatusError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	se := &StatusError{Status: resp.StatusCode}

	var body errorBody
	if err := json.Unmarshal(raw, &body); err != nil {
		se.Message = strings.TrimSpace(string(raw))
		return se
	}
	se.Code = body.Code
	se.Message = body.Error
	if se.Message == "" {
		se.Message = body.Message
	}
	// older collectors put the code in "error"
	if se.Code == "" && body.Error == codeSessionInactive {
		se.Code = codeSessionInactive
	}
	se.ActiveSessionID = body.Details.ActiveSessionID
	return se
}
