package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"scalelog/internal/config"
	"scalelog/internal/modules/readings/types"
	"scalelog/internal/utils"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		AppEnv:          "dev",
		LogLevel:        slog.LevelInfo,
		HTTPAddr:        "127.0.0.1:0",
		DBDriver:        config.DriverSQLite,
		SQLitePath:      filepath.Join(t.TempDir(), "app.db"),
		DBMaxOpenConns:  1,
		DBMaxIdleConns:  1,
		IngestMode:      "delta",
		SummaryMethod:   "recomputed",
		SummaryLocation: time.UTC,
		TriggerMode:     "sim",
		TriggerTimeout:  2 * time.Second,
		SimSeed:         1,
		SimMaxDelay:     10 * time.Millisecond,
	}
}

func startApp(t *testing.T, cfg config.Config) string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan string, 1)
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), ready)
	}()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				t.Errorf("Run returned %v", err)
			}
		case <-time.After(15 * time.Second):
			t.Error("Run did not stop after cancel")
		}
	})

	select {
	case addr := <-ready:
		return "http://" + addr
	case err := <-done:
		t.Fatalf("Run exited early: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("server not ready")
	}
	return ""
}

func TestRun_ServesAPI(t *testing.T) {
	base := startApp(t, testConfig(t))

	resp, err := http.Get(base + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get(utils.RequestIDHeader) == "" {
		t.Fatalf("healthz status=%d request id=%q", resp.StatusCode, resp.Header.Get(utils.RequestIDHeader))
	}

	for _, body := range []string{
		`{"value": 10, "recordedAt": "2025-03-01T08:00:00Z"}`,
		`{"value": 8, "recordedAt": "2025-03-01T09:00:00Z"}`,
		`{"value": 5, "recordedAt": "2025-03-01T10:00:00Z"}`,
	} {
		resp, err := http.Post(base+"/reading", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatalf("POST /reading: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("POST /reading status=%d", resp.StatusCode)
		}
	}

	resp, err = http.Get(base + "/summary?date=2025-03-01")
	if err != nil {
		t.Fatalf("GET /summary: %v", err)
	}
	defer resp.Body.Close()
	var day types.DaySummary
	if err := json.NewDecoder(resp.Body).Decode(&day); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if day.DaySummary != 5 || len(day.Logs) != 3 {
		t.Fatalf("summary=%+v want 5 over 3 logs", day)
	}

	resp, err = http.Post(base+"/trigger", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /trigger: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /trigger status=%d", resp.StatusCode)
	}
}

func TestRun_TriggerOff(t *testing.T) {
	cfg := testConfig(t)
	cfg.TriggerMode = "off"
	base := startApp(t, cfg)

	resp, err := http.Post(base+"/trigger", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /trigger: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status=%d want 503", resp.StatusCode)
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.TriggerMode = "carrier-pigeon"
	if err := Run(context.Background(), cfg, nil, nil); err == nil {
		t.Fatal("Run with bad trigger mode returned nil")
	}
}

func TestSelectDevice(t *testing.T) {
	cfg := testConfig(t)

	d, err := selectDevice(cfg, nil)
	if err != nil || d == nil {
		t.Fatalf("sim device = %v, %v", d, err)
	}

	cfg.TriggerMode = "off"
	if d, err := selectDevice(cfg, nil); err != nil || d != nil {
		t.Fatalf("off device = %v, %v; want nil, nil", d, err)
	}

	cfg.TriggerMode = "mqtt"
	if _, err := selectDevice(cfg, nil); err == nil {
		t.Fatal("mqtt device without client returned nil error")
	}
}
