package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"buildingsense/backend/services/sensor-service/internal/aggregate"
	"buildingsense/backend/services/sensor-service/internal/models"
)

// ReadingQuerier reads persisted readings back.
type ReadingQuerier interface {
	QueryRange(ctx context.Context, sensorNumbers []int, fromMS, toMS int64, fields []models.Field) ([]models.Reading, error)
}

// CatalogLoader loads the stored catalog.
type CatalogLoader interface {
	Load(ctx context.Context) (*models.Catalog, error)
}

// ReadingsResult is a query answer. Diagnostic is set when some sensors had no data.
type ReadingsResult struct {
	Readings   []models.Reading `json:"readings"`
	Diagnostic string           `json:"diagnostic,omitempty"`
}

// AggregateResult is the room-minute table for one room.
type AggregateResult struct {
	Rows       []aggregate.RoomMinute `json:"rows"`
	Diagnostic string                 `json:"diagnostic,omitempty"`
}

// QueryService serves plotting and reporting collaborators.
type QueryService struct {
	readings ReadingQuerier
	catalogs CatalogLoader
	logger   *zap.Logger
}

// NewQueryService returns service instance.
func NewQueryService(readings ReadingQuerier, catalogs CatalogLoader, logger *zap.Logger) *QueryService {
	return &QueryService{readings: readings, catalogs: catalogs, logger: logger}
}

// Catalog returns the stored catalog.
func (s *QueryService) Catalog(ctx context.Context) (*models.Catalog, error) {
	return s.catalogs.Load(ctx)
}

// Readings returns the selected sensors' readings in [fromMS, toMS).
func (s *QueryService) Readings(ctx context.Context, sel models.Selector, fromMS, toMS int64, fields []models.Field) (ReadingsResult, error) {
	c, err := s.catalogs.Load(ctx)
	if err != nil {
		return ReadingsResult{}, err
	}
	numbers, err := sel.Resolve(c.SensorNumbers())
	if err != nil {
		return ReadingsResult{}, err
	}

	readings, err := s.readings.QueryRange(ctx, numbers, fromMS, toMS, fields)
	if err != nil {
		return ReadingsResult{}, err
	}
	return ReadingsResult{Readings: readings, Diagnostic: noDataDiagnostic(c, numbers, readings)}, nil
}

// RoomAggregate returns one row per minute for a room over [fromMS, toMS).
func (s *QueryService) RoomAggregate(ctx context.Context, roomNumber int, fromMS, toMS int64, fields []models.Field) (AggregateResult, error) {
	c, err := s.catalogs.Load(ctx)
	if err != nil {
		return AggregateResult{}, err
	}
	if _, ok := c.Room(roomNumber); !ok {
		return AggregateResult{}, fmt.Errorf("%w: room %d", models.ErrUnknownNumber, roomNumber)
	}

	sensors := c.SensorsInRoom(roomNumber)
	numbers := make([]int, len(sensors))
	for i, sensor := range sensors {
		numbers[i] = sensor.Number
	}

	readings, err := s.readings.QueryRange(ctx, numbers, fromMS, toMS, fields)
	if err != nil {
		return AggregateResult{}, err
	}
	rows, err := aggregate.New(c).Aggregate(readings, fields)
	if err != nil {
		return AggregateResult{}, err
	}
	return AggregateResult{Rows: rows, Diagnostic: noDataDiagnostic(c, numbers, readings)}, nil
}

// noDataDiagnostic names, room by room, the requested sensors that returned nothing.
func noDataDiagnostic(c *models.Catalog, requested []int, readings []models.Reading) string {
	seen := make(map[int]struct{}, len(requested))
	for _, r := range readings {
		seen[r.SensorNumber] = struct{}{}
	}

	var (
		order   []int
		missing = map[int][]string{}
	)
	for _, n := range requested {
		if _, ok := seen[n]; ok {
			continue
		}
		room, _ := c.RoomOf(n)
		if _, ok := missing[room.Number]; !ok {
			order = append(order, room.Number)
		}
		missing[room.Number] = append(missing[room.Number], strconv.Itoa(n))
	}

	parts := make([]string, 0, len(order))
	for _, roomNumber := range order {
		room, _ := c.Room(roomNumber)
		parts = append(parts, fmt.Sprintf("No data for the following sensor(s) from room %d, %s: %s.",
			roomNumber, room.Name, strings.Join(missing[roomNumber], ", ")))
	}
	return strings.Join(parts, " ")
}
