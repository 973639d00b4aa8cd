package controller

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"scalelog/internal/modules/readings/ingest"
	"scalelog/internal/modules/readings/types"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
	maxBodyBytes = 1 << 20
)

func parseReadingsQuery(r *http.Request) (from time.Time, to time.Time, limit int, err error) {
	q := r.URL.Query()

	if s := q.Get("from"); s != "" {
		from, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, time.Time{}, 0, errors.New("invalid 'from' (expected RFC3339)")
		}
	}
	if s := q.Get("to"); s != "" {
		to, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, time.Time{}, 0, errors.New("invalid 'to' (expected RFC3339)")
		}
	}
	if !from.IsZero() && !to.IsZero() && from.After(to) {
		return time.Time{}, time.Time{}, 0, errors.New("'from' must be <= 'to'")
	}

	limit = defaultLimit
	if s := q.Get("limit"); s != "" {
		n, convErr := strconv.Atoi(s)
		if convErr != nil {
			return time.Time{}, time.Time{}, 0, errors.New("invalid 'limit' (expected integer)")
		}
		if n <= 0 {
			return time.Time{}, time.Time{}, 0, errors.New("'limit' must be > 0")
		}
		if n > maxLimit {
			return time.Time{}, time.Time{}, 0, fmt.Errorf("'limit' must be <= %d", maxLimit)
		}
		limit = n
	}

	return from, to, limit, nil
}

// readingBody is the ingest payload. Older devices send "weight" instead of
// "value".
type readingBody struct {
	Value      *float64   `json:"value"`
	Weight     *float64   `json:"weight"`
	RecordedAt *time.Time `json:"recordedAt"`
}

// decodeReadingBody turns a request body into ingest input. Every failure
// wraps types.ErrValidation.
func decodeReadingBody(r *http.Request, w http.ResponseWriter) (ingest.Input, error) {
	var body readingBody
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&body); err != nil {
		if errors.Is(err, io.EOF) {
			return ingest.Input{}, fmt.Errorf("%w: request body is empty", types.ErrValidation)
		}
		return ingest.Input{}, fmt.Errorf("%w: malformed JSON body: %v", types.ErrValidation, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return ingest.Input{}, fmt.Errorf("%w: request body must contain a single JSON object", types.ErrValidation)
	}
	in := ingest.Input{Value: body.Value, RecordedAt: body.RecordedAt, Source: types.SourceHTTP}
	if in.Value == nil {
		in.Value = body.Weight
	}
	return in, nil
}

func zeroAsNullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
