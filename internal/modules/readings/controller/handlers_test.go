package controller

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"scalelog/internal/migrate"
	"scalelog/internal/modules/readings/aggregate"
	"scalelog/internal/modules/readings/ingest"
	"scalelog/internal/modules/readings/repository"
	"scalelog/internal/modules/readings/trigger"
	"scalelog/internal/modules/readings/types"
	"scalelog/internal/utils"
)

type testAPI struct {
	mux  *http.ServeMux
	repo repository.ReadingRepository
}

func newTestAPI(t *testing.T, mode ingest.Mode, device trigger.Device) *testAPI {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	if _, err := migrate.Run(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	repo := repository.NewRepository(db)
	ing := ingest.NewService(repo, mode)
	mux := http.NewServeMux()
	NewReadingsController(Deps{
		Store:   repo,
		Ingest:  ing,
		Summary: aggregate.NewService(repo, time.UTC, aggregate.Recomputed),
		Trigger: trigger.NewService(device, ing, 50*time.Millisecond),
	}).RegisterRoutes(mux)
	return &testAPI{mux: mux, repo: repo}
}

func (a *testAPI) do(method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	a.mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func Test_handleIngest(t *testing.T) {
	t.Run("logs reading", func(t *testing.T) {
		api := newTestAPI(t, ingest.ModeDelta, nil)
		rec := api.do(http.MethodPost, "/reading", `{"value": 412.5, "recordedAt": "2025-03-01T08:00:00Z"}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d; want 200; body %s", rec.Code, rec.Body)
		}
		got := decodeBody[ingestResponse](t, rec)
		if got.Message != ingest.MsgLogged || got.Outcome != ingest.Logged {
			t.Errorf("response = %+v", got)
		}
		if got.Reading == nil || got.Reading.Value != 412.5 || got.Reading.ID == "" {
			t.Errorf("reading = %+v", got.Reading)
		}
	})

	t.Run("legacy endpoint and weight alias", func(t *testing.T) {
		api := newTestAPI(t, ingest.ModeLog, nil)
		rec := api.do(http.MethodPost, "/endpoint", `{"weight": 300}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d; want 200", rec.Code)
		}
		latest, err := api.repo.Latest(context.Background())
		if err != nil || latest == nil || latest.Value != 300 {
			t.Fatalf("latest = %+v, %v; want 300", latest, err)
		}
	})

	t.Run("refill is skipped", func(t *testing.T) {
		api := newTestAPI(t, ingest.ModeDelta, nil)
		api.do(http.MethodPost, "/reading", `{"value": 10}`)
		rec := api.do(http.MethodPost, "/reading", `{"value": 12}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d; want 200", rec.Code)
		}
		got := decodeBody[ingestResponse](t, rec)
		if got.Message != ingest.MsgNotLogged || got.Reading != nil {
			t.Errorf("response = %+v; want not logged", got)
		}
	})

	t.Run("reject mode answers 400", func(t *testing.T) {
		api := newTestAPI(t, ingest.ModeReject, nil)
		api.do(http.MethodPost, "/reading", `{"value": 10}`)
		rec := api.do(http.MethodPost, "/reading", `{"value": 11}`)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d; want 400", rec.Code)
		}
		got := decodeBody[utils.ErrorBody](t, rec)
		if got.Error != "Bad Request" || !strings.Contains(got.Message, "not below") {
			t.Errorf("error body = %+v", got)
		}
		latest, _ := api.repo.Latest(context.Background())
		if latest.Value != 10 {
			t.Errorf("latest = %v; want 10 unchanged", latest.Value)
		}
	})

	for name, body := range map[string]string{
		"malformed":     `{"value":`,
		"missing value": `{}`,
		"empty body":    "",
	} {
		t.Run(name, func(t *testing.T) {
			api := newTestAPI(t, ingest.ModeDelta, nil)
			rec := api.do(http.MethodPost, "/reading", body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d; want 400", rec.Code)
			}
		})
	}

	t.Run("trailing data is rejected and not stored", func(t *testing.T) {
		api := newTestAPI(t, ingest.ModeDelta, nil)
		rec := api.do(http.MethodPost, "/reading", `{"value": 5} {"value": "junk"`)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d; want 400", rec.Code)
		}
		if latest, _ := api.repo.Latest(context.Background()); latest != nil {
			t.Fatalf("latest = %+v; want nothing stored", latest)
		}
	})

	t.Run("backdated reading answers 400", func(t *testing.T) {
		api := newTestAPI(t, ingest.ModeReject, nil)
		api.do(http.MethodPost, "/reading", `{"value": 10, "recordedAt": "2025-03-01T10:00:00Z"}`)
		rec := api.do(http.MethodPost, "/reading", `{"value": 5, "recordedAt": "2025-03-01T09:00:00Z"}`)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d; want 400", rec.Code)
		}
		latest, _ := api.repo.Latest(context.Background())
		if latest == nil || latest.Value != 10 {
			t.Fatalf("latest = %+v; want 10 unchanged", latest)
		}
	})

	t.Run("wrong method", func(t *testing.T) {
		api := newTestAPI(t, ingest.ModeDelta, nil)
		if rec := api.do(http.MethodGet, "/reading", ""); rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("status = %d; want 405", rec.Code)
		}
	})
}

func Test_handleSummary(t *testing.T) {
	api := newTestAPI(t, ingest.ModeDelta, nil)
	for i, v := range []string{"10", "8", "8", "5"} {
		at := time.Date(2025, 3, 1, 8+i, 0, 0, 0, time.UTC).Format(time.RFC3339)
		rec := api.do(http.MethodPost, "/reading", `{"value": `+v+`, "recordedAt": "`+at+`"}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("ingest %s: status %d", v, rec.Code)
		}
	}

	t.Run("day summary", func(t *testing.T) {
		rec := api.do(http.MethodGet, "/summary?date=2025-03-01", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d; want 200", rec.Code)
		}
		got := decodeBody[types.DaySummary](t, rec)
		if got.DaySummary != 5 || len(got.Logs) != 4 {
			t.Errorf("summary = %+v; want 5 over 4 logs", got)
		}
	})

	t.Run("repeated requests are byte-identical", func(t *testing.T) {
		first := api.do(http.MethodGet, "/summary?date=2025-03-01", "").Body.Bytes()
		second := api.do(http.MethodGet, "/summary?date=2025-03-01", "").Body.Bytes()
		if !bytes.Equal(first, second) {
			t.Fatalf("responses differ:\n%s\n%s", first, second)
		}
		all1 := api.do(http.MethodGet, "/summary-all", "").Body.Bytes()
		all2 := api.do(http.MethodGet, "/summary-all", "").Body.Bytes()
		if !bytes.Equal(all1, all2) {
			t.Fatalf("summary-all responses differ")
		}
	})

	t.Run("empty day", func(t *testing.T) {
		rec := api.do(http.MethodGet, "/summary?date=2024-01-01", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d; want 200", rec.Code)
		}
		if body := strings.TrimSpace(rec.Body.String()); body != `{"daySummary":0,"logs":[]}` {
			t.Errorf("body = %s", body)
		}
	})

	t.Run("bad date", func(t *testing.T) {
		if rec := api.do(http.MethodGet, "/summary?date=01-03-2025", ""); rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d; want 400", rec.Code)
		}
	})

	t.Run("summary-all and chart agree", func(t *testing.T) {
		all := decodeBody[map[string]types.DaySummary](t, api.do(http.MethodGet, "/summary-all", ""))
		chart := decodeBody[[]types.ChartPoint](t, api.do(http.MethodGet, "/summary-chart", ""))
		if len(chart) != 1 || len(all) != 1 {
			t.Fatalf("chart = %+v, all = %+v", chart, all)
		}
		if chart[0].Date != "2025-03-01" || all["2025-03-01"].DaySummary != chart[0].DaySummary {
			t.Errorf("chart = %+v, all = %+v", chart, all)
		}
	})
}

func Test_handleLatest(t *testing.T) {
	api := newTestAPI(t, ingest.ModeLog, nil)

	if rec := api.do(http.MethodGet, "/reading/latest", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("empty store status = %d; want 404", rec.Code)
	}

	api.do(http.MethodPost, "/reading", `{"value": 1, "recordedAt": "2025-03-01T08:00:00Z"}`)
	api.do(http.MethodPost, "/reading", `{"value": 2, "recordedAt": "2025-03-01T09:00:00Z"}`)

	rec := api.do(http.MethodGet, "/reading/latest", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; want 200", rec.Code)
	}
	if got := decodeBody[types.Reading](t, rec); got.Value != 2 {
		t.Errorf("latest = %+v; want value 2", got)
	}
}

func Test_handleReadings(t *testing.T) {
	api := newTestAPI(t, ingest.ModeLog, nil)
	for i := 0; i < 5; i++ {
		at := time.Date(2025, 3, 1, 8, i, 0, 0, time.UTC).Format(time.RFC3339)
		api.do(http.MethodPost, "/reading", `{"value": 1, "recordedAt": "`+at+`"}`)
	}

	type page struct {
		From  *time.Time      `json:"from"`
		To    *time.Time      `json:"to"`
		Limit int             `json:"limit"`
		Items []types.Reading `json:"items"`
	}

	got := decodeBody[page](t, api.do(http.MethodGet, "/readings?from=2025-03-01T08:01:00Z&limit=2", ""))
	if got.From == nil || got.To != nil || got.Limit != 2 {
		t.Errorf("page bounds = %v %v %d", got.From, got.To, got.Limit)
	}
	if len(got.Items) != 2 || !got.Items[0].RecordedAt.Equal(time.Date(2025, 3, 1, 8, 1, 0, 0, time.UTC)) {
		t.Errorf("items = %+v", got.Items)
	}

	offset := api.do(http.MethodGet, "/readings?from=2025-03-01T10:01:00%2B02:00", "")
	if !strings.Contains(offset.Body.String(), `"from":"2025-03-01T08:01:00Z"`) {
		t.Errorf("body = %s; want from echoed in UTC", offset.Body)
	}

	empty := api.do(http.MethodGet, "/readings?from=2030-01-01T00:00:00Z", "")
	if !strings.Contains(empty.Body.String(), `"items":[]`) {
		t.Errorf("body = %s; want empty items array", empty.Body)
	}

	if rec := api.do(http.MethodGet, "/readings?limit=5000", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d; want 400", rec.Code)
	}
}

func Test_handleTrigger(t *testing.T) {
	tests := []struct {
		name   string
		device trigger.Device
		want   int
	}{
		{name: "disabled", device: nil, want: http.StatusServiceUnavailable},
		{
			name:   "reading",
			device: trigger.DeviceFunc(func(context.Context) (float64, error) { return 250, nil }),
			want:   http.StatusOK,
		},
		{
			name: "timeout",
			device: trigger.DeviceFunc(func(ctx context.Context) (float64, error) {
				<-ctx.Done()
				return 0, ctx.Err()
			}),
			want: http.StatusGatewayTimeout,
		},
		{
			name:   "device error",
			device: trigger.DeviceFunc(func(context.Context) (float64, error) { return 0, errors.New("load cell fault") }),
			want:   http.StatusBadGateway,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newTestAPI(t, ingest.ModeDelta, tt.device)
			rec := api.do(http.MethodPost, "/trigger", "")
			if rec.Code != tt.want {
				t.Fatalf("status = %d; want %d; body %s", rec.Code, tt.want, rec.Body)
			}
			if tt.want == http.StatusOK {
				got := decodeBody[ingestResponse](t, rec)
				if got.Reading == nil || got.Reading.Source != types.SourceTrigger {
					t.Errorf("reading = %+v; want trigger source", got.Reading)
				}
			}
		})
	}
}

type failingStore struct{}

func (failingStore) Latest(context.Context) (*types.Reading, error) {
	return nil, fmt.Errorf("%w: latest: disk I/O error", types.ErrStorage)
}

func (failingStore) List(context.Context, time.Time, time.Time, int) ([]types.Reading, error) {
	return nil, types.ErrStorage
}

func Test_storageErrorsAre500(t *testing.T) {
	mux := http.NewServeMux()
	NewReadingsController(Deps{Store: failingStore{}}).RegisterRoutes(mux)

	for _, target := range []string{"/reading/latest", "/readings"} {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		rec := httptest.NewRecorder()
		rec.Header().Set(utils.RequestIDHeader, "req-1")
		mux.ServeHTTP(rec, req)

		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("%s status = %d; want 500", target, rec.Code)
		}
		got := decodeBody[utils.ErrorBody](t, rec)
		if got.Message != "internal error" || got.RequestID != "req-1" {
			t.Errorf("%s body = %+v", target, got)
		}
	}
}

func Test_statusFor(t *testing.T) {
	tests := map[error]int{
		types.ErrValidation:        http.StatusBadRequest,
		types.ErrRejected:          http.StatusBadRequest,
		types.ErrStorage:           http.StatusInternalServerError,
		types.ErrTriggerDisabled:   http.StatusServiceUnavailable,
		types.ErrTriggerTimeout:    http.StatusGatewayTimeout,
		types.ErrDeviceUnavailable: http.StatusBadGateway,
		errors.New("unexpected"):   http.StatusInternalServerError,
		fmt.Errorf("%w after 5s", types.ErrTriggerTimeout): http.StatusGatewayTimeout,
	}
	for err, want := range tests {
		if got := statusFor(err); got != want {
			t.Errorf("statusFor(%v) = %d; want %d", err, got, want)
		}
	}
}
