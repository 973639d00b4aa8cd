package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestNew_ReleaseBuildWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newWithWriter(&buf, slog.LevelInfo, "prod", "1.2.3", "scalelog-server")

	logger.Info("reading stored", "value", 12.5)

	var got map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, buf.String())
	}
	if got["msg"] != "reading stored" {
		t.Errorf("msg = %v, want reading stored", got["msg"])
	}
	if got["app"] != "scalelog-server" || got["version"] != "1.2.3" || got["env"] != "prod" {
		t.Errorf("attrs = %v, want app/version/env set", got)
	}
	if got["value"] != 12.5 {
		t.Errorf("value = %v, want 12.5", got["value"])
	}
}

func TestNew_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newWithWriter(&buf, slog.LevelWarn, "prod", "1.2.3", "scalelog-server")

	logger.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info record written at warn level: %q", buf.String())
	}
	logger.Warn("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Fatalf("warn record missing: %q", buf.String())
	}
}

func TestNew_DevBuildUsesTint(t *testing.T) {
	var buf bytes.Buffer
	logger := newWithWriter(&buf, slog.LevelInfo, "dev", "dev", "scalelog-server")

	logger.Info("hello")

	out := buf.String()
	if !strings.Contains(out, "hello") || !strings.Contains(out, "scalelog-server") {
		t.Fatalf("tint output = %q, want message and app name", out)
	}
	if json.Valid(bytes.TrimSpace(buf.Bytes())) {
		t.Fatalf("dev output should not be JSON: %q", out)
	}
}
