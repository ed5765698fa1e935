package logging

import "testing"

func TestNewLoggerWithService(t *testing.T) {
	l := NewLoggerWithService("bsky-multitool")
	entry := l.WithField("k", "v")
	if entry == nil {
		t.Fatalf("expected non-nil entry")
	}
}

func TestNewCLILogger(t *testing.T) {
	l := NewCLILogger("stream")
	if l == nil {
		t.Fatalf("expected non-nil logger")
	}
}
