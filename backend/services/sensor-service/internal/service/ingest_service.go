package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"buildingsense/backend/services/sensor-service/internal/index"
	"buildingsense/backend/services/sensor-service/internal/metrics"
	"buildingsense/backend/services/sensor-service/internal/models"
	"buildingsense/backend/services/sensor-service/internal/repository"
	"buildingsense/backend/services/sensor-service/internal/source"
)

// ErrRetryable marks run-level failures (store locked, lease held) after which the whole run
// should be restarted from the same starting point.
var ErrRetryable = models.ErrRetryable

// DefaultWindow matches the source page cap of one reading per minute.
const DefaultWindow = 1000 * time.Minute

// Run modes, used in logs and metrics.
const (
	ModeLatest = "latest"
	ModeFrom   = "from"
	ModeWatch  = "watch"
)

// ReadingStore is the part of the store the engine writes through.
type ReadingStore interface {
	index.KeyLister
	InsertIfAbsent(ctx context.Context, reading models.Reading) (repository.InsertStatus, error)
}

// CatalogStore persists the building/room/sensor catalog.
type CatalogStore interface {
	Replace(ctx context.Context, c *models.Catalog) error
	Load(ctx context.Context) (*models.Catalog, error)
}

// IngestOptions tune a run.
type IngestOptions struct {
	Window  time.Duration
	Sensors models.Selector
	// StopAtFirstDuplicate scans each sensor's rows newest first and treats everything at or
	// before the first known row as already stored. Only valid when the source never
	// back-fills gaps for a sensor.
	StopAtFirstDuplicate bool
}

// Report summarises one run.
type Report struct {
	RunID              string `json:"run_id"`
	Mode               string `json:"mode"`
	Windows            int    `json:"windows"`
	Fetched            int    `json:"fetched"`
	Inserted           int    `json:"inserted"`
	Duplicates         int    `json:"duplicates"`
	IndexHits          int    `json:"index_hits"`
	StoreSkips         int    `json:"store_skips"`
	FailedRows         int    `json:"failed_rows"`
	SensorFailures     int    `json:"sensor_failures"`
	SensorsWithoutData int    `json:"sensors_without_data"`
}

// IngestService pulls readings from the source and writes the new ones to the store.
type IngestService struct {
	src      source.Source
	readings ReadingStore
	catalogs CatalogStore
	metrics  *metrics.Metrics
	logger   *zap.Logger
	opts     IngestOptions
	now      func() time.Time
}

// NewIngestService returns service instance.
func NewIngestService(src source.Source, readings ReadingStore, catalogs CatalogStore, m *metrics.Metrics, logger *zap.Logger, opts IngestOptions) *IngestService {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	return &IngestService{
		src:      src,
		readings: readings,
		catalogs: catalogs,
		metrics:  m,
		logger:   logger,
		opts:     opts,
		now:      time.Now,
	}
}

// SyncCatalog fetches the catalog from the source, validates it and replaces the stored copy.
func (s *IngestService) SyncCatalog(ctx context.Context) (*models.Catalog, error) {
	data, err := s.src.Catalog(ctx)
	if err != nil {
		s.metrics.SourceError("catalog")
		return nil, fmt.Errorf("fetch catalog: %w", err)
	}
	c, err := models.NewCatalog(data.Buildings, data.Rooms, data.Sensors)
	if err != nil {
		return nil, err
	}
	if err := s.catalogs.Replace(ctx, c); err != nil {
		return nil, fmt.Errorf("store catalog: %w", err)
	}
	s.logger.Info("catalog synchronised",
		zap.Int("buildings", len(c.Buildings)),
		zap.Int("rooms", len(c.Rooms)),
		zap.Int("sensors", len(c.Sensors)))
	return c, nil
}

// sensors loads the stored catalog, syncing it first when empty, and resolves the selector.
func (s *IngestService) sensors(ctx context.Context) ([]models.Sensor, error) {
	c, err := s.catalogs.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	if len(c.Sensors) == 0 {
		s.logger.Info("catalog empty, synchronising from source")
		if c, err = s.SyncCatalog(ctx); err != nil {
			return nil, err
		}
	}
	numbers, err := s.opts.Sensors.Resolve(c.SensorNumbers())
	if err != nil {
		return nil, err
	}
	return c.SensorsFor(numbers)
}

// IngestLatest stores the most recent reading of every selected sensor.
func (s *IngestService) IngestLatest(ctx context.Context) (Report, error) {
	return s.ingestLatest(ctx, ModeLatest)
}

func (s *IngestService) ingestLatest(ctx context.Context, mode string) (report Report, err error) {
	report = s.newReport(mode)
	started := s.now()
	defer func() { s.finish(report, started, err) }()

	sensors, err := s.sensors(ctx)
	if err != nil {
		return report, err
	}
	idx := index.Build(ctx, s.readings, s.logger)
	s.metrics.IndexKeys(idx.Len())

	batches, err := s.src.Latest(ctx, sensors)
	if err != nil {
		s.metrics.SourceError("latest")
		return report, fmt.Errorf("latest readings: %w", err)
	}
	rows := s.filter(batches, "latest", idx, &report)
	return report, s.write(ctx, rows, &report)
}

// IngestAll backfills from the first reading known to exist.
func (s *IngestService) IngestAll(ctx context.Context) (Report, error) {
	return s.IngestFrom(ctx, models.EarliestReadingMS)
}

// IngestFrom walks fixed windows from startMS up to now. A window's rows are fetched sensor by
// sensor, filtered through the index and written one row at a time in (timestamp, sensor)
// order. Re-running with the same start is safe.
func (s *IngestService) IngestFrom(ctx context.Context, startMS int64) (report Report, err error) {
	report = s.newReport(ModeFrom)
	started := s.now()
	defer func() { s.finish(report, started, err) }()

	if startMS <= 0 {
		return report, fmt.Errorf("%w: start %d", models.ErrInvalidTimestamp, startMS)
	}
	sensors, err := s.sensors(ctx)
	if err != nil {
		return report, err
	}
	idx := index.Build(ctx, s.readings, s.logger)
	s.metrics.IndexKeys(idx.Len())

	windowMS := s.opts.Window.Milliseconds()
	endMS := s.now().UnixMilli()
	for windowStart := startMS; windowStart < endMS; windowStart += windowMS {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		s.logger.Debug("fetching window",
			zap.String("run_id", report.RunID),
			zap.Int64("window_start_ms", windowStart),
			zap.String("window_start_utc", models.FormatUTC(windowStart)))

		batches := s.src.After(ctx, sensors, windowStart)
		rows := s.filter(batches, "after", idx, &report)
		if err := s.write(ctx, rows, &report); err != nil {
			return report, err
		}
		report.Windows++
		s.metrics.Window()
	}
	return report, nil
}

// Watch repeats the latest ingestion every interval until ctx is cancelled. Only retryable failures
// end the loop early; anything else is logged and retried on the next tick.
func (s *IngestService) Watch(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := s.ingestLatest(ctx, ModeWatch); err != nil {
			if errors.Is(err, ErrRetryable) {
				return err
			}
			if ctx.Err() == nil {
				s.logger.Error("latest ingestion failed", zap.Error(err))
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// filter flattens the per-sensor batches and drops rows the index already knows. op names
// the source call that produced them for the error counter.
func (s *IngestService) filter(batches []source.Batch, op string, idx *index.Index, report *Report) []models.Reading {
	var rows []models.Reading
	for _, b := range batches {
		log := s.logger.With(zap.Int("sensor_number", b.Sensor.Number), zap.String("sensor_name", b.Sensor.Name))
		switch {
		case b.Err != nil:
			report.SensorFailures++
			s.metrics.SourceError(op)
			log.Warn("sensor fetch failed, skipping for this window", zap.Error(b.Err))
			continue
		case len(b.Readings) == 0:
			report.SensorsWithoutData++
			log.Info("no data returned")
			continue
		}

		report.Fetched += len(b.Readings)
		fresh := s.unseen(b.Readings, idx)
		hits := len(b.Readings) - len(fresh)
		report.IndexHits += hits
		report.Duplicates += hits
		s.metrics.Readings(metrics.OutcomeDuplicate, hits)
		rows = append(rows, fresh...)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].TimestampMS != rows[j].TimestampMS {
			return rows[i].TimestampMS < rows[j].TimestampMS
		}
		return rows[i].SensorNumber < rows[j].SensorNumber
	})
	return rows
}

func (s *IngestService) unseen(readings []models.Reading, idx *index.Index) []models.Reading {
	if s.opts.StopAtFirstDuplicate {
		ordered := append([]models.Reading(nil), readings...)
		sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].TimestampMS < ordered[j].TimestampMS })
		for i := len(ordered) - 1; i >= 0; i-- {
			if idx.Contains(ordered[i]) {
				return ordered[i+1:]
			}
		}
		return ordered
	}

	fresh := make([]models.Reading, 0, len(readings))
	for _, r := range readings {
		if !idx.Contains(r) {
			fresh = append(fresh, r)
		}
	}
	return fresh
}

// write inserts rows one by one. Row failures are logged and counted; a locked store aborts.
func (s *IngestService) write(ctx context.Context, rows []models.Reading, report *Report) error {
	for _, r := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		status, err := s.readings.InsertIfAbsent(ctx, r)
		switch {
		case err != nil && errors.Is(err, ErrRetryable):
			return fmt.Errorf("insert sensor %d at %d: %w", r.SensorNumber, r.TimestampMS, err)
		case err != nil:
			report.FailedRows++
			s.metrics.Reading(metrics.OutcomeFailed)
			s.logger.Error("insert failed, continuing",
				zap.Int("sensor_number", r.SensorNumber),
				zap.String("sensor_name", r.SensorName),
				zap.Int64("timestamp_ms", r.TimestampMS),
				zap.String("timestamp_utc", r.TimestampUTC),
				zap.Error(err))
		case status == repository.Skipped:
			report.StoreSkips++
			report.Duplicates++
			s.metrics.Reading(metrics.OutcomeDuplicate)
		default:
			report.Inserted++
			s.metrics.Reading(metrics.OutcomeInserted)
		}
	}
	return nil
}

func (s *IngestService) newReport(mode string) Report {
	return Report{RunID: uuid.NewString(), Mode: mode}
}

func (s *IngestService) finish(report Report, started time.Time, err error) {
	s.metrics.RunFinished(report.Mode, started, err)
	fields := []zap.Field{
		zap.String("run_id", report.RunID),
		zap.String("mode", report.Mode),
		zap.Int("windows", report.Windows),
		zap.Int("fetched", report.Fetched),
		zap.Int("inserted", report.Inserted),
		zap.Int("duplicates", report.Duplicates),
		zap.Int("failed_rows", report.FailedRows),
		zap.Int("sensor_failures", report.SensorFailures),
		zap.Int("sensors_without_data", report.SensorsWithoutData),
		zap.Duration("elapsed", time.Since(started)),
	}
	if err != nil {
		s.logger.Error("ingestion run aborted", append(fields, zap.Error(err))...)
		return
	}
	s.logger.Info("ingestion run finished", fields...)
}
