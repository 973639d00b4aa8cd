package controller

import (
	"context"
	"net/http"
	"time"

	"scalelog/internal/modules/readings/ingest"
	"scalelog/internal/modules/readings/types"
)

type ReadingsController interface {
	RegisterRoutes(mux *http.ServeMux)
}

// Store is the read side of the reading repository used by the raw endpoints.
type Store interface {
	Latest(ctx context.Context) (*types.Reading, error)
	List(ctx context.Context, from, to time.Time, limit int) ([]types.Reading, error)
}

type Ingester interface {
	Ingest(ctx context.Context, in ingest.Input) (ingest.Result, error)
}

type Summarizer interface {
	All(ctx context.Context) (map[string]types.DaySummary, error)
	ForDate(ctx context.Context, date time.Time) (types.DaySummary, error)
	Chart(ctx context.Context) ([]types.ChartPoint, error)
	ParseDate(v string) (time.Time, error)
}

type Triggerer interface {
	Trigger(ctx context.Context) (ingest.Result, error)
}

type Deps struct {
	Store   Store
	Ingest  Ingester
	Summary Summarizer
	Trigger Triggerer
}

type readingsControllerImpl struct {
	store   Store
	ingest  Ingester
	summary Summarizer
	trigger Triggerer
}

func NewReadingsController(d Deps) ReadingsController {
	return &readingsControllerImpl{
		store:   d.Store,
		ingest:  d.Ingest,
		summary: d.Summary,
		trigger: d.Trigger,
	}
}

func (c *readingsControllerImpl) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /reading", c.handleIngest)
	mux.HandleFunc("POST /endpoint", c.handleIngest)
	mux.HandleFunc("POST /trigger", c.handleTrigger)

	mux.HandleFunc("GET /summary-all", c.handleSummaryAll)
	mux.HandleFunc("GET /summary", c.handleSummary)
	mux.HandleFunc("GET /summary-chart", c.handleSummaryChart)

	mux.HandleFunc("GET /reading/latest", c.handleLatest)
	mux.HandleFunc("GET /readings", c.handleReadings)
}
