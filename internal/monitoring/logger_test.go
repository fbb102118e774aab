package monitoring

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

func TestSetLogger(t *testing.T) {
	// Save original logger
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(format string, v ...interface{}) {
		called = true
	})
	Logf("test message")
	if !called {
		t.Error("Custom logger was not called")
	}

	// Now set to nil and verify it doesn't call our logger
	called = false
	SetLogger(nil)
	Logf("test")
	if called {
		t.Error("No-op logger should not have triggered callback")
	}
}

func TestLogf_DefaultGoesToSharedLogger(t *testing.T) {
	original := Logger()
	defer UseLogger(original)

	l, hook := test.NewNullLogger()
	UseLogger(l)

	Logf("test message: %s", "value")

	if hook.LastEntry() == nil {
		t.Fatal("expected an entry on the shared logger")
	}
	if got := hook.LastEntry().Message; got != "test message: value" {
		t.Errorf("message = %q", got)
	}
	if hook.LastEntry().Level != logrus.InfoLevel {
		t.Errorf("level = %v, want info", hook.LastEntry().Level)
	}
}

func TestComponentTagsEntries(t *testing.T) {
	original := Logger()
	defer UseLogger(original)

	l, hook := test.NewNullLogger()
	UseLogger(l)

	Component("trigger").Warn("unknown trigger")

	entry := hook.LastEntry()
	if entry == nil {
		t.Fatal("expected an entry")
	}
	if entry.Data["component"] != "trigger" {
		t.Errorf("component field = %v", entry.Data["component"])
	}
}

func TestSetup(t *testing.T) {
	original := Logger()
	defer UseLogger(original)

	var buf bytes.Buffer
	logFile := filepath.Join(t.TempDir(), "picar.log")
	l, err := Setup(Options{Level: "debug", File: logFile, NoColors: true, Output: &buf})
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if l.GetLevel() != logrus.DebugLevel {
		t.Errorf("level = %v, want debug", l.GetLevel())
	}
	if Logger() != l {
		t.Error("Setup() did not install the logger")
	}

	Component("navigation").Info("hello")
	if !strings.Contains(buf.String(), "hello") {
		t.Errorf("console output missing message: %q", buf.String())
	}
}

func TestSetup_InvalidLevel(t *testing.T) {
	if _, err := Setup(Options{Level: "loud"}); err == nil {
		t.Fatal("expected error for invalid level")
	}
}
