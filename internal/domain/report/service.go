package report

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/icu/icu/internal/platform/apperr"
	"github.com/icu/icu/pkg/daterange"
)

// Service assembles reports from the record store. The arithmetic lives in
// Compute, Compare and Readmissions.
type Service struct {
	repo   Repository
	opts   Options
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(repo Repository, bedCapacity int, readmissionWindow time.Duration, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		opts:   Options{BedCapacity: bedCapacity, ReadmissionWindow: readmissionWindow},
		logger: logger.With().Str("component", "report").Logger(),
		now:    time.Now,
	}
}

func (s *Service) options() Options {
	o := s.opts
	o.Now = s.now()
	return o
}

func (s *Service) Report(ctx context.Context, r daterange.Range) (*Report, error) {
	rs, err := s.repo.Load(ctx, r)
	if err != nil {
		return nil, apperr.Remote(err, "could not load report data")
	}
	rep := Compute(*rs, r, s.options())
	s.logger.Debug().
		Time("start", r.Start).
		Time("end", r.End).
		Int("patients", rep.Metrics.TotalPatients).
		Msg("report computed")
	return &rep, nil
}

// Comparison computes r and the period of equal length before it.
func (s *Service) Comparison(ctx context.Context, r daterange.Range) (*Comparison, error) {
	current, err := s.Report(ctx, r)
	if err != nil {
		return nil, err
	}
	prevRange := r.Previous()
	previous, err := s.Report(ctx, prevRange)
	if err != nil {
		return nil, err
	}
	cmp := Compare(current.Metrics, previous.Metrics, prevRange)
	return &cmp, nil
}

func (s *Service) Readmissions(ctx context.Context, r daterange.Range) (*ReadmissionStats, error) {
	episodes, err := s.repo.Episodes(ctx, r)
	if err != nil {
		return nil, apperr.Remote(err, "could not load admission episodes")
	}
	stats := Readmissions(episodes)
	return &stats, nil
}

// Export renders the report over r as a spreadsheet.
func (s *Service) Export(ctx context.Context, r daterange.Range) ([]byte, error) {
	rep, err := s.Report(ctx, r)
	if err != nil {
		return nil, err
	}
	return ExportXLSX(*rep)
}
