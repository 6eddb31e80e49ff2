package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewTextLogger(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelInfo, Output: &buf})

	l.Info("hello", "key", "value")
	out := buf.String()
	if !strings.Contains(out, "hello") || !strings.Contains(out, "key=value") {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestNewJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelInfo, Output: &buf, JSON: true})

	l.Info("hello", "count", 3)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	if rec["msg"] != "hello" {
		t.Errorf("msg = %v", rec["msg"])
	}
	if rec["count"] != float64(3) {
		t.Errorf("count = %v", rec["count"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelWarn, Output: &buf})

	l.Debug("quiet")
	l.Info("quiet")
	if buf.Len() != 0 {
		t.Errorf("low-severity records written: %q", buf.String())
	}

	l.Warn("loud")
	if !strings.Contains(buf.String(), "loud") {
		t.Error("warn record missing")
	}
}

func TestSetLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelInfo, Output: &buf})

	l.Debug("before")
	if buf.Len() != 0 {
		t.Fatalf("debug written at info level: %q", buf.String())
	}

	l.SetLevel(LevelDebug)
	if l.GetLevel() != LevelDebug {
		t.Errorf("GetLevel = %v", l.GetLevel())
	}
	l.Debug("after")
	if !strings.Contains(buf.String(), "after") {
		t.Error("debug record missing after SetLevel")
	}
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelInfo, Output: &buf})

	child := l.WithComponent("session")
	child.Info("event")
	if !strings.Contains(buf.String(), "component=session") {
		t.Errorf("component field missing: %q", buf.String())
	}

	// The child shares the parent's level var.
	child.SetLevel(LevelError)
	if l.GetLevel() != LevelError {
		t.Error("child level change did not propagate")
	}
}

func TestDiscard(t *testing.T) {
	l := Discard()
	l.Info("into the void")
	l.SetLevel(LevelDebug) // must not panic
}
