package device

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type failingSource struct{}

func (failingSource) Name() string                { return "failing" }
func (failingSource) Available() bool             { return true }
func (failingSource) Identifier() (string, error) { return "", errors.New("denied") }

func TestResolveOrder(t *testing.T) {
	id, from, err := Resolve([]Source{
		Static{Label: "config", Value: ""},
		failingSource{},
		Static{Label: "second", Value: " dev-2 \n"},
		Static{Label: "third", Value: "dev-3"},
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if id != "dev-2" || from != "second" {
		t.Fatalf("unexpected pick %q from %q", id, from)
	}
}

func TestResolveNothingAvailable(t *testing.T) {
	_, _, err := Resolve([]Source{Static{Label: "config"}, failingSource{}, nil})
	if !errors.Is(err, ErrNoIdentifier) {
		t.Fatalf("expected ErrNoIdentifier, got %v", err)
	}
}

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "machine-id")
	src := File{Label: "machine-id", Path: path}
	if src.Available() {
		t.Fatalf("missing file must not be available")
	}
	if err := os.WriteFile(path, []byte("abc123\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	id, _, err := Resolve([]Source{src})
	if err != nil || id != "abc123" {
		t.Fatalf("unexpected id %q err %v", id, err)
	}
}

func TestHostnameSource(t *testing.T) {
	old := hostnameFn
	defer func() { hostnameFn = old }()

	hostnameFn = func() (string, error) { return "localhost", nil }
	if (Hostname{}).Available() {
		t.Fatalf("localhost is not an identity")
	}
	hostnameFn = func() (string, error) { return "rig-7", nil }
	id, from, err := Resolve([]Source{Hostname{}})
	if err != nil || id != "rig-7" || from != "hostname" {
		t.Fatalf("unexpected %q %q %v", id, from, err)
	}
}

func TestGeneratedIsStable(t *testing.T) {
	g := Generated{Path: filepath.Join(t.TempDir(), "nested", "device-id")}
	first, err := g.Identifier()
	if err != nil || first == "" {
		t.Fatalf("generate: %q %v", first, err)
	}
	second, err := g.Identifier()
	if err != nil || second != first {
		t.Fatalf("expected persisted id, got %q then %q", first, second)
	}
}

func TestDefaultSourcesPreferConfig(t *testing.T) {
	id, from, err := Resolve(DefaultSources("cfg-device", t.TempDir()))
	if err != nil || id != "cfg-device" || from != "config" {
		t.Fatalf("unexpected %q %q %v", id, from, err)
	}
}
