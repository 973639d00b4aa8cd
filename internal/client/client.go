package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"scalelog/internal/modules/readings/types"
	"scalelog/internal/utils"
)

// IngestResponse mirrors the body of POST /reading and POST /trigger.
type IngestResponse struct {
	Message string         `json:"message"`
	Outcome string         `json:"outcome"`
	Reading *types.Reading `json:"reading,omitempty"`
}

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status int
	Body   utils.ErrorBody
}

func (e *APIError) Error() string {
	if e.Body.Message == "" {
		return fmt.Sprintf("server answered %d", e.Status)
	}
	return fmt.Sprintf("server answered %d: %s", e.Status, e.Body.Message)
}

// Client talks to a running scalelog server.
type Client struct {
	http *resty.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	return &Client{http: c}
}

// Ingest posts one reading. A zero at lets the server stamp the time.
func (c *Client) Ingest(ctx context.Context, value float64, at time.Time) (IngestResponse, error) {
	body := map[string]any{"value": value}
	if !at.IsZero() {
		body["recordedAt"] = at.UTC().Format(time.RFC3339Nano)
	}
	var out IngestResponse
	err := c.do(ctx, c.http.R().SetBody(body).SetResult(&out), http.MethodPost, "/reading")
	return out, err
}

func (c *Client) Trigger(ctx context.Context) (IngestResponse, error) {
	var out IngestResponse
	err := c.do(ctx, c.http.R().SetResult(&out), http.MethodPost, "/trigger")
	return out, err
}

// Summary returns one day. An empty date means today on the server.
func (c *Client) Summary(ctx context.Context, date string) (types.DaySummary, error) {
	var out types.DaySummary
	req := c.http.R().SetResult(&out)
	if date != "" {
		req.SetQueryParam("date", date)
	}
	err := c.do(ctx, req, http.MethodGet, "/summary")
	return out, err
}

func (c *Client) SummaryAll(ctx context.Context) (map[string]types.DaySummary, error) {
	out := map[string]types.DaySummary{}
	err := c.do(ctx, c.http.R().SetResult(&out), http.MethodGet, "/summary-all")
	return out, err
}

func (c *Client) Chart(ctx context.Context) ([]types.ChartPoint, error) {
	var out []types.ChartPoint
	err := c.do(ctx, c.http.R().SetResult(&out), http.MethodGet, "/summary-chart")
	return out, err
}

// Latest returns nil when the store is empty.
func (c *Client) Latest(ctx context.Context) (*types.Reading, error) {
	var out types.Reading
	err := c.do(ctx, c.http.R().SetResult(&out), http.MethodGet, "/reading/latest")
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, req *resty.Request, method, path string) error {
	var errBody utils.ErrorBody
	resp, err := req.SetContext(ctx).SetError(&errBody).Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.IsError() {
		return &APIError{Status: resp.StatusCode(), Body: errBody}
	}
	return nil
}
