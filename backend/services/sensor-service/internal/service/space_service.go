package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"buildingsense/backend/services/sensor-service/internal/metrics"
	"buildingsense/backend/services/sensor-service/internal/models"
	"buildingsense/backend/services/sensor-service/internal/source"
)

// spaceListTTL is how long a fetched managed-space list is reused.
const spaceListTTL = 5 * time.Minute

// DefaultSpaceLookback is the span fetched when a space query gives no start.
const DefaultSpaceLookback = 1100 * time.Minute

// SpaceReadingsResult answers a managed-space query. Spaces are the selected spaces in number
// order; Diagnostic names spaces that failed or returned nothing.
type SpaceReadingsResult struct {
	Spaces     []models.Space        `json:"spaces"`
	Readings   []models.SpaceReading `json:"readings"`
	Diagnostic string                `json:"diagnostic,omitempty"`
}

// SpaceService reads managed-space occupancy straight from the source.
type SpaceService struct {
	src     source.SpaceSource
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time

	mu        sync.Mutex
	spaces    []models.Space
	fetchedAt time.Time
}

// NewSpaceService returns service instance.
func NewSpaceService(src source.SpaceSource, m *metrics.Metrics, logger *zap.Logger) *SpaceService {
	return &SpaceService{src: src, metrics: m, logger: logger, now: time.Now}
}

// Spaces returns the building's managed spaces, refreshed at most every few minutes.
func (s *SpaceService) Spaces(ctx context.Context) ([]models.Space, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.spaces != nil && s.now().Sub(s.fetchedAt) < spaceListTTL {
		return s.spaces, nil
	}
	spaces, err := s.src.Spaces(ctx)
	if err != nil {
		s.metrics.SourceError("spaces")
		return nil, fmt.Errorf("%w: list managed spaces: %v", models.ErrRetryable, err)
	}
	s.spaces, s.fetchedAt = spaces, s.now()
	return spaces, nil
}

func (s *SpaceService) selected(ctx context.Context, sel models.Selector) ([]models.Space, error) {
	spaces, err := s.Spaces(ctx)
	if err != nil {
		return nil, err
	}
	return models.SelectSpaces(spaces, sel)
}

// Latest returns the newest reading of each selected space.
func (s *SpaceService) Latest(ctx context.Context, sel models.Selector) (SpaceReadingsResult, error) {
	spaces, err := s.selected(ctx, sel)
	if err != nil {
		return SpaceReadingsResult{}, err
	}
	batches, err := s.src.SpaceLatest(ctx, spaces)
	if err != nil {
		s.metrics.SourceError("space_latest")
		return SpaceReadingsResult{}, fmt.Errorf("%w: %v", models.ErrRetryable, err)
	}
	return s.collect(spaces, batches, "space_latest")
}

// Readings returns up to one page of readings per selected space from fromMS on.
func (s *SpaceService) Readings(ctx context.Context, sel models.Selector, fromMS int64) (SpaceReadingsResult, error) {
	if fromMS <= 0 {
		fromMS = s.now().Add(-DefaultSpaceLookback).UnixMilli()
	}
	spaces, err := s.selected(ctx, sel)
	if err != nil {
		return SpaceReadingsResult{}, err
	}
	return s.collect(spaces, s.src.SpaceAfter(ctx, spaces, fromMS), "space_after")
}

// collect flattens batches in (timestamp, space) order. Failing spaces are reported in the
// diagnostic unless every space failed, which is returned as a retryable error.
func (s *SpaceService) collect(spaces []models.Space, batches []source.SpaceBatch, op string) (SpaceReadingsResult, error) {
	res := SpaceReadingsResult{Spaces: spaces, Readings: []models.SpaceReading{}}
	var (
		notes  []string
		failed int
		last   error
	)
	for _, b := range batches {
		switch {
		case b.Err != nil:
			failed++
			last = b.Err
			s.metrics.SourceError(op)
			s.logger.Warn("managed space fetch failed",
				zap.Int("space_number", b.Space.Number),
				zap.String("space_name", b.Space.Name),
				zap.Error(b.Err))
			notes = append(notes, fmt.Sprintf("space %d (%s): fetch failed", b.Space.Number, b.Space.Name))
		case len(b.Readings) == 0:
			notes = append(notes, fmt.Sprintf("space %d (%s): no data returned", b.Space.Number, b.Space.Name))
		default:
			res.Readings = append(res.Readings, b.Readings...)
		}
	}
	if failed > 0 && failed == len(batches) {
		return SpaceReadingsResult{}, fmt.Errorf("%w: every managed space failed: %v", models.ErrRetryable, last)
	}

	sort.SliceStable(res.Readings, func(i, j int) bool {
		if res.Readings[i].TimestampMS != res.Readings[j].TimestampMS {
			return res.Readings[i].TimestampMS < res.Readings[j].TimestampMS
		}
		return res.Readings[i].SpaceNumber < res.Readings[j].SpaceNumber
	})
	res.Diagnostic = strings.Join(notes, "; ")
	return res, nil
}
