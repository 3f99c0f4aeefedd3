package logger

import "testing"

func TestNewLevels(t *testing.T) {
	for _, lvl := range []string{"debug", "info", "warn", "error"} {
		l, err := New(lvl, false)
		if err != nil {
			t.Fatalf("level %s: %v", lvl, err)
		}
		_ = l.Sync()
	}
	if _, err := New("info", true); err != nil {
		t.Fatalf("dev logger: %v", err)
	}
}

func TestNewBadLevel(t *testing.T) {
	if _, err := New("loud", false); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestForNil(t *testing.T) {
	l := For(nil, ComponentSync)
	if l == nil {
		t.Fatalf("expected nop logger")
	}
	l.Infow("dropped on the floor")
}
