package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"scalelog/internal/modules/readings/repository"
	"scalelog/internal/modules/readings/types"
)

// Mode selects how a new value is compared with the latest stored reading.
type Mode string

const (
	// ModeReject refuses any value that is not strictly below the latest.
	ModeReject Mode = "reject"
	// ModeDelta stores decreases with their consumption delta and skips refills.
	ModeDelta Mode = "delta"
	// ModeLog stores every value as is.
	ModeLog Mode = "log"
)

var ErrUnknownMode = errors.New("unknown ingest mode")

// ParseMode maps a configured mode name to a Mode. Empty means ModeDelta.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "reject":
		return ModeReject, nil
	case "delta", "":
		return ModeDelta, nil
	case "log":
		return ModeLog, nil
	default:
		return "", fmt.Errorf("%w %q (want reject, delta or log)", ErrUnknownMode, s)
	}
}

type Outcome string

const (
	Logged   Outcome = "logged"
	Skipped  Outcome = "skipped"
	Rejected Outcome = "rejected"
)

const (
	MsgLogged    = "reading logged"
	MsgNotLogged = "not logged"
)

var readingsIngestedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "scalelog_readings_ingested_total",
		Help: "Readings received by the ingest service, by outcome.",
	},
	[]string{"outcome"},
)

type Input struct {
	Value      *float64
	RecordedAt *time.Time
	Source     string
}

// Result is the tagged outcome of one ingest. Reading is set only when
// Outcome is Logged.
type Result struct {
	Outcome Outcome
	Reading *types.Reading
	Message string
}

type Service struct {
	repo repository.ReadingRepository
	mode Mode

	// mu keeps one writer per series inside this process; AppendAfter covers
	// the store side.
	mu sync.Mutex
}

func NewService(repo repository.ReadingRepository, mode Mode) *Service {
	return &Service{repo: repo, mode: mode}
}

func (s *Service) Mode() Mode { return s.mode }

// Ingest validates in and records it according to the service mode. Client
// input problems return types.ErrValidation; store failures types.ErrStorage.
// A rejection or skip is not an error.
func (s *Service) Ingest(ctx context.Context, in Input) (Result, error) {
	if in.Value == nil {
		return Result{}, fmt.Errorf("%w: value is required", types.ErrValidation)
	}
	v := *in.Value
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Result{}, fmt.Errorf("%w: value must be a finite number", types.ErrValidation)
	}
	source := in.Source
	if source == "" {
		source = types.SourceHTTP
	}
	candidate := types.Reading{Value: v, Source: source}
	if in.RecordedAt != nil {
		candidate.RecordedAt = in.RecordedAt.UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res := Result{Outcome: Logged, Message: MsgLogged}
	stored, err := s.repo.AppendAfter(ctx, func(latest *types.Reading) (*types.Reading, error) {
		// Stamped inside the write transaction so concurrent ingests stay in order.
		if candidate.RecordedAt.IsZero() {
			candidate.RecordedAt = time.Now().UTC()
		}
		next, outcome, msg, err := s.decide(latest, candidate)
		res.Outcome, res.Message = outcome, msg
		return next, err
	})
	if err != nil {
		return Result{}, err
	}
	res.Reading = stored

	readingsIngestedTotal.WithLabelValues(string(res.Outcome)).Inc()
	slog.Debug("reading ingested",
		"outcome", res.Outcome,
		"value", v,
		"source", source,
		"mode", s.mode,
	)
	return res, nil
}

// decide applies the mode to candidate given the latest stored reading.
// Reject and delta compare against the previous reading in time, so a
// candidate dated before latest is a validation error in those modes.
func (s *Service) decide(latest *types.Reading, candidate types.Reading) (*types.Reading, Outcome, string, error) {
	if latest == nil {
		if s.mode == ModeDelta {
			zero := 0.0
			candidate.Derived = &zero
		}
		return &candidate, Logged, MsgLogged, nil
	}

	if s.mode != ModeLog && candidate.RecordedAt.Before(latest.RecordedAt) {
		return nil, "", "", fmt.Errorf("%w: recordedAt %s is before the latest reading at %s",
			types.ErrValidation,
			candidate.RecordedAt.Format(time.RFC3339Nano),
			latest.RecordedAt.Format(time.RFC3339Nano))
	}

	switch s.mode {
	case ModeReject:
		if candidate.Value >= latest.Value {
			return nil, Rejected, fmt.Sprintf(
				"value %g is not below the latest reading %g", candidate.Value, latest.Value), nil
		}
		return &candidate, Logged, MsgLogged, nil

	case ModeDelta:
		if candidate.Value > latest.Value {
			return nil, Skipped, MsgNotLogged, nil
		}
		d := latest.Value - candidate.Value
		candidate.Derived = &d
		return &candidate, Logged, MsgLogged, nil

	default:
		return &candidate, Logged, MsgLogged, nil
	}
}
