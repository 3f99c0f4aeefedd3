package device

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var ErrNoIdentifier = errors.New("no device identifier source available")

// Source is one way of obtaining a stable device identifier. Available is the
// capability check; Identifier is only called when it returns true.
type Source interface {
	Name() string
	Available() bool
	Identifier() (string, error)
}

// Resolve walks the sources in order and returns the first identifier that
// could be read. Sources that fail are skipped, not fatal.
func Resolve(sources []Source) (id string, from string, err error) {
	var errs []error
	for _, s := range sources {
		if s == nil || !s.Available() {
			continue
		}
		v, err := s.Identifier()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		return v, s.Name(), nil
	}
	return "", "", errors.Join(append([]error{ErrNoIdentifier}, errs...)...)
}

// DefaultSources is the fallback order used by the agent: explicit
// configuration, the OS machine id, the hostname, and finally a generated id
// persisted under dataDir.
func DefaultSources(configured, dataDir string) []Source {
	return []Source{
		Static{Label: "config", Value: configured},
		File{Label: "machine-id", Path: "/etc/machine-id"},
		File{Label: "dbus-machine-id", Path: "/var/lib/dbus/machine-id"},
		Hostname{},
		Generated{Path: filepath.Join(dataDir, "device-id")},
	}
}

type Static struct {
	Label string
	Value string
}

func (s Static) Name() string                { return s.Label }
func (s Static) Available() bool             { return strings.TrimSpace(s.Value) != "" }
func (s Static) Identifier() (string, error) { return s.Value, nil }

type File struct {
	Label string
	Path  string
}

func (f File) Name() string { return f.Label }

func (f File) Available() bool {
	st, err := os.Stat(f.Path)
	return err == nil && st.Mode().IsRegular()
}

func (f File) Identifier() (string, error) {
	b, err := os.ReadFile(f.Path)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

type Hostname struct{}

func (Hostname) Name() string { return "hostname" }

func (Hostname) Available() bool {
	h, err := hostnameFn()
	return err == nil && h != "" && h != "localhost"
}

func (Hostname) Identifier() (string, error) { return hostnameFn() }

var hostnameFn = os.Hostname

// Generated creates a random id on first use and keeps returning it.
type Generated struct {
	Path string
}

func (g Generated) Name() string    { return "generated" }
func (g Generated) Available() bool { return g.Path != "" }

func (g Generated) Identifier() (string, error) {
	if b, err := os.ReadFile(g.Path); err == nil && strings.TrimSpace(string(b)) != "" {
		return string(b), nil
	}
	id := uuid.NewString()
	if err := os.MkdirAll(filepath.Dir(g.Path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(g.Path, []byte(id), 0o600); err != nil {
		return "", err
	}
	return id, nil
}
