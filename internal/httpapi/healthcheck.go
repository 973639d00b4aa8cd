package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"scalelog/internal/utils"
)

// Store is the part of the reading repository the health check needs.
type Store interface {
	Ping(ctx context.Context) error
	Count(ctx context.Context) (int, error)
}

var readingsStored = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "scalelog_readings_stored",
	Help: "Readings in the store as of the last health check.",
})

type healthchecker interface {
	handleHealthz(w http.ResponseWriter, r *http.Request)
}

type healthcheckerImpl struct {
	store Store
}

func NewHealthchecker(store Store) healthchecker {
	return &healthcheckerImpl{store: store}
}

func (h *healthcheckerImpl) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		slog.Error("failed to check database connectivity", "error", err, "request_id", utils.RequestID(r.Context()))
		utils.WriteError(w, http.StatusServiceUnavailable, "failed to check database connectivity")
		return
	}
	if n, err := h.store.Count(r.Context()); err == nil {
		readingsStored.Set(float64(n))
	} else {
		slog.Warn("failed to count readings", "error", err)
	}
	utils.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func registerHealthcheck(mux *http.ServeMux, store Store) {
	healthchecker := NewHealthchecker(store)
	mux.HandleFunc("GET /healthz", healthchecker.handleHealthz)
}
