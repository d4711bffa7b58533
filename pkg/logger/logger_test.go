package logger

import (
	"bytes"
	"log"
	"strings"
	"testing"
)

func TestStandardLoggerPrefixes(t *testing.T) {
	var buf bytes.Buffer
	l := NewStandardLogger(log.New(&buf, "", 0))

	l.Info("hello %s", "world")
	l.Warning("careful %d", 1)
	l.Error("boom")

	out := buf.String()
	if !strings.Contains(out, "[INFO] hello world") {
		t.Fatalf("missing info line: %q", out)
	}
	if !strings.Contains(out, "[WARNING] careful 1") {
		t.Fatalf("missing warning line: %q", out)
	}
	if !strings.Contains(out, "[ERROR] boom") {
		t.Fatalf("missing error line: %q", out)
	}
}

func TestStandardLoggerClose(t *testing.T) {
	l := NewStandardLogger(log.New(&bytes.Buffer{}, "", 0))
	if err := l.Close(); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}

func TestNopLogger(t *testing.T) {
	var l Logger = NopLogger{}
	l.Info("x")
	l.Warning("x")
	l.Error("x")
	if err := l.Close(); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}
