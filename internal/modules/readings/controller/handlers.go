package controller

import (
	"errors"
	"log/slog"
	"net/http"

	"scalelog/internal/modules/readings/ingest"
	"scalelog/internal/modules/readings/types"
	"scalelog/internal/utils"
)

type ingestResponse struct {
	Message string         `json:"message"`
	Outcome ingest.Outcome `json:"outcome"`
	Reading *types.Reading `json:"reading,omitempty"`
}

func (c *readingsControllerImpl) handleIngest(w http.ResponseWriter, r *http.Request) {
	in, err := decodeReadingBody(r, w)
	if err != nil {
		writeServiceError(w, r, "ingest", err)
		return
	}
	res, err := c.ingest.Ingest(r.Context(), in)
	if err != nil {
		writeServiceError(w, r, "ingest", err)
		return
	}
	writeResult(w, res)
}

func (c *readingsControllerImpl) handleTrigger(w http.ResponseWriter, r *http.Request) {
	res, err := c.trigger.Trigger(r.Context())
	if err != nil {
		writeServiceError(w, r, "trigger", err)
		return
	}
	writeResult(w, res)
}

func (c *readingsControllerImpl) handleSummaryAll(w http.ResponseWriter, r *http.Request) {
	all, err := c.summary.All(r.Context())
	if err != nil {
		writeServiceError(w, r, "summary-all", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, all)
}

func (c *readingsControllerImpl) handleSummary(w http.ResponseWriter, r *http.Request) {
	date, err := c.summary.ParseDate(r.URL.Query().Get("date"))
	if err != nil {
		writeServiceError(w, r, "summary", err)
		return
	}
	day, err := c.summary.ForDate(r.Context(), date)
	if err != nil {
		writeServiceError(w, r, "summary", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, day)
}

func (c *readingsControllerImpl) handleSummaryChart(w http.ResponseWriter, r *http.Request) {
	points, err := c.summary.Chart(r.Context())
	if err != nil {
		writeServiceError(w, r, "summary-chart", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, points)
}

func (c *readingsControllerImpl) handleLatest(w http.ResponseWriter, r *http.Request) {
	latest, err := c.store.Latest(r.Context())
	if err != nil {
		writeServiceError(w, r, "latest", err)
		return
	}
	if latest == nil {
		utils.WriteError(w, http.StatusNotFound, "no readings yet")
		return
	}
	utils.WriteJSON(w, http.StatusOK, latest)
}

func (c *readingsControllerImpl) handleReadings(w http.ResponseWriter, r *http.Request) {
	from, to, limit, err := parseReadingsQuery(r)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	items, err := c.store.List(r.Context(), from, to, limit)
	if err != nil {
		writeServiceError(w, r, "readings", err)
		return
	}
	if items == nil {
		items = []types.Reading{}
	}

	resp := map[string]any{
		"from":  zeroAsNullTime(from.UTC()),
		"to":    zeroAsNullTime(to.UTC()),
		"limit": limit,
		"items": items,
	}
	utils.WriteJSON(w, http.StatusOK, resp)
}

func writeResult(w http.ResponseWriter, res ingest.Result) {
	if res.Outcome == ingest.Rejected {
		utils.WriteError(w, http.StatusBadRequest, res.Message)
		return
	}
	utils.WriteJSON(w, http.StatusOK, ingestResponse{
		Message: res.Message,
		Outcome: res.Outcome,
		Reading: res.Reading,
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrValidation), errors.Is(err, types.ErrRejected):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrTriggerDisabled):
		return http.StatusServiceUnavailable
	case errors.Is(err, types.ErrTriggerTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, types.ErrDeviceUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError maps a service error to its status. Internal errors are
// logged in full and answered with a generic message.
func writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	attrs := []any{"op", op, "status", status, "error", err, "request_id", utils.RequestID(r.Context())}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("request failed", attrs...)
		msg = "internal error"
	} else {
		slog.Warn("request failed", attrs...)
	}
	utils.WriteError(w, status, msg)
}
