package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/batterylab/ctigo/internal/config"
)

func TestFanoutWriter_ContinuesWhenOneDestinationFails(t *testing.T) {
	var dst bytes.Buffer
	w := newFanoutWriter(errorWriter{err: errors.New("broken stderr")}, &dst)

	n, err := w.Write([]byte("test"))
	if err != nil {
		t.Fatalf("write returned error: %v", err)
	}
	if n != len("test") {
		t.Fatalf("unexpected bytes written: got %d, want %d", n, len("test"))
	}
	if got := dst.String(); got != "test" {
		t.Fatalf("unexpected destination contents: got %q", got)
	}
}

func TestFanoutWriter_ReportsErrorWhenAllFail(t *testing.T) {
	w := newFanoutWriter(errorWriter{err: errors.New("a")}, errorWriter{err: errors.New("b")})

	if _, err := w.Write([]byte("x")); err == nil || err.Error() != "a" {
		t.Fatalf("expected first error, got %v", err)
	}
}

func TestManagerConfigure_LogFileStillReceivesLogsWhenStderrFails(t *testing.T) {
	origDefault := slog.Default()
	t.Cleanup(func() { slog.SetDefault(origDefault) })

	logPath := filepath.Join(t.TempDir(), "ctigo.log")
	m := NewManager()
	m.stderr = errorWriter{err: errors.New("broken stderr")}
	t.Cleanup(func() { _ = m.Close() })

	if err := m.Configure(config.LoggingConfig{Level: "debug", LogToFile: true, FilePath: logPath}); err != nil {
		t.Fatalf("configure manager: %v", err)
	}

	slog.Info("file must receive this message")

	if err := m.Close(); err != nil {
		t.Fatalf("close manager: %v", err)
	}

	cleanLogPath := filepath.Clean(logPath)
	// #nosec G304 -- logPath is created from t.TempDir() in this test.
	raw, err := os.ReadFile(cleanLogPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !bytes.Contains(raw, []byte("file must receive this message")) {
		t.Fatalf("log file does not contain test message, contents: %q", string(raw))
	}
}

func TestManagerConfigure_RequiresFilePath(t *testing.T) {
	m := NewManager()
	if err := m.Configure(config.LoggingConfig{LogToFile: true}); err == nil {
		t.Fatalf("expected error for empty file path")
	}
}

func TestManagerConfigure_RejectsUnknownLevel(t *testing.T) {
	m := NewManager()
	if err := m.Configure(config.LoggingConfig{Level: "verbose"}); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestManagerJSONFormatRedactsSecrets(t *testing.T) {
	origDefault := slog.Default()
	t.Cleanup(func() { slog.SetDefault(origDefault) })

	var buf bytes.Buffer
	m := NewManager()
	m.stderr = &buf
	if err := m.Configure(config.LoggingConfig{Level: "info", Format: config.LogFormatJSON}); err != nil {
		t.Fatalf("configure manager: %v", err)
	}

	m.Logger("cycler").Info("login", "username", "op", "password", "hunter2")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("expected one json record, got %q: %v", buf.String(), err)
	}
	if rec["component"] != "cycler" {
		t.Fatalf("expected component cycler, got %v", rec["component"])
	}
	if rec["password"] != redacted {
		t.Fatalf("expected password to be redacted, got %v", rec["password"])
	}
	if rec["username"] != "op" {
		t.Fatalf("expected username to be kept, got %v", rec["username"])
	}
}

func TestManagerLevelFiltersDebug(t *testing.T) {
	origDefault := slog.Default()
	t.Cleanup(func() { slog.SetDefault(origDefault) })

	var buf bytes.Buffer
	m := NewManager()
	m.stderr = &buf
	if err := m.Configure(config.LoggingConfig{Level: "warn"}); err != nil {
		t.Fatalf("configure manager: %v", err)
	}

	m.Base().Info("quiet")
	m.Base().Warn("loud")

	out := buf.String()
	if strings.Contains(out, "quiet") || !strings.Contains(out, "loud") {
		t.Fatalf("expected only the warning, got %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{" INFO ", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tc := range tests {
		got, err := ParseLevel(tc.in)
		if err != nil {
			t.Fatalf("level %q: unexpected error %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("level %q: expected %s, got %s", tc.in, tc.want, got)
		}
	}
}

type errorWriter struct {
	err error
}

func (w errorWriter) Write(_ []byte) (int, error) {
	return 0, w.err
}
