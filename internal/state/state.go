package state

import (
	"sync"
	"time"

	"fieldtrack-agent/internal/filter"
)

// Snapshot is a copy of the agent state at one instant.
type Snapshot struct {
	DeviceID         string      `json:"device_id"`
	DeviceToken      string      `json:"-"`
	SessionID        string      `json:"session_id"`
	UserID           string      `json:"user_id"`
	Mode             filter.Mode `json:"-"`
	ModeName         string      `json:"mode"`
	Tracking         bool        `json:"tracking"`
	NetworkAvailable bool        `json:"network_available"`
	SessionInactive  bool        `json:"session_inactive"`
	LastError        string      `json:"last_error,omitempty"`
	LastErrorAt      time.Time   `json:"last_error_at,omitempty"`
}

// Context holds device, session and status values shared by the orchestrator,
// the sync engine and the status API. It is passed in explicitly; there is no
// package level instance.
type Context struct {
	mu sync.RWMutex
	s  Snapshot

	// sessionChanged is closed and replaced whenever the session id changes.
	sessionChanged chan struct{}
}

func New(initial Snapshot) *Context {
	initial.ModeName = initial.Mode.String()
	return &Context{s: initial, sessionChanged: make(chan struct{})}
}

func (c *Context) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.s
}

func (c *Context) DeviceID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.s.DeviceID
}

func (c *Context) DeviceToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.s.DeviceToken
}

func (c *Context) SetDeviceToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.DeviceToken = token
}

func (c *Context) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.s.SessionID
}

// SetSessionID switches the active session and clears any inactive marker
// left behind by the previous one.
func (c *Context) SetSessionID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.s.SessionID == id && !c.s.SessionInactive {
		return
	}
	c.s.SessionID = id
	c.s.SessionInactive = false
	close(c.sessionChanged)
	c.sessionChanged = make(chan struct{})
}

// SessionChanged returns a channel closed on the next session switch.
func (c *Context) SessionChanged() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionChanged
}

func (c *Context) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.s.UserID
}

func (c *Context) SetUserID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.UserID = id
}

func (c *Context) Mode() filter.Mode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.s.Mode
}

func (c *Context) SetMode(m filter.Mode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.Mode = m
	c.s.ModeName = m.String()
}

func (c *Context) Tracking() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.s.Tracking
}

func (c *Context) SetTracking(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.Tracking = on
}

// Available reports whether a network path to the collector exists.
func (c *Context) Available() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.s.NetworkAvailable
}

func (c *Context) SetNetworkAvailable(ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.NetworkAvailable = ok
}

func (c *Context) SessionInactive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.s.SessionInactive
}

// MarkSessionInactive records that the collector no longer accepts points for
// the current session. Session management has to start a new one.
func (c *Context) MarkSessionInactive() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.SessionInactive = true
}

func (c *Context) RecordError(err error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.LastError = err.Error()
	c.s.LastErrorAt = time.Now()
}
