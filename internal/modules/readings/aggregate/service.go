package aggregate

import (
	"context"
	"fmt"
	"time"

	"scalelog/internal/modules/readings/repository"
	"scalelog/internal/modules/readings/types"
)

type Service struct {
	repo   repository.ReadingRepository
	loc    *time.Location
	method Method
	now    func() time.Time
}

func NewService(repo repository.ReadingRepository, loc *time.Location, method Method) *Service {
	if loc == nil {
		loc = time.Local
	}
	return &Service{repo: repo, loc: loc, method: method, now: time.Now}
}

func (s *Service) Location() *time.Location { return s.loc }

func (s *Service) days(ctx context.Context, from, to time.Time) ([]Day, error) {
	readings, err := s.repo.Query(ctx, from, to)
	if err != nil {
		return nil, err
	}
	return GroupByDay(readings, s.loc, s.method), nil
}

// All returns every day that has readings, keyed by date.
func (s *Service) All(ctx context.Context) (map[string]types.DaySummary, error) {
	days, err := s.days(ctx, time.Time{}, time.Time{})
	if err != nil {
		return nil, err
	}
	out := make(map[string]types.DaySummary, len(days))
	for _, d := range days {
		out[d.Date] = d.Summary()
	}
	return out, nil
}

// ForDate returns the summary of the calendar day containing date. A day
// without readings has an empty log and a zero summary.
func (s *Service) ForDate(ctx context.Context, date time.Time) (types.DaySummary, error) {
	d := date.In(s.loc)
	start := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, s.loc)
	end := start.AddDate(0, 0, 1)

	days, err := s.days(ctx, start, end)
	if err != nil {
		return types.DaySummary{}, err
	}
	want := start.Format(DateLayout)
	for _, day := range days {
		if day.Date == want {
			return day.Summary(), nil
		}
	}
	return Day{}.Summary(), nil
}

// Chart returns one point per day, ascending by date.
func (s *Service) Chart(ctx context.Context) ([]types.ChartPoint, error) {
	days, err := s.days(ctx, time.Time{}, time.Time{})
	if err != nil {
		return nil, err
	}
	out := make([]types.ChartPoint, 0, len(days))
	for _, d := range days {
		out = append(out, types.ChartPoint{Date: d.Date, DaySummary: d.DaySummary})
	}
	return out, nil
}

// ParseDate reads a YYYY-MM-DD date in the service location. Empty means
// today.
func (s *Service) ParseDate(v string) (time.Time, error) {
	if v == "" {
		return s.now().In(s.loc), nil
	}
	t, err := time.ParseInLocation(DateLayout, v, s.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date must be YYYY-MM-DD", types.ErrValidation)
	}
	return t, nil
}
