package source

import (
	"context"

	"buildingsense/backend/services/sensor-service/internal/models"
)

// PageSize is the most rows the source returns per sensor per call.
const PageSize = 1000

// Batch is the outcome of one source call for one sensor. Err is set when the sensor
// could not be fetched; an empty Readings with a nil Err means the sensor had no data.
type Batch struct {
	Sensor   models.Sensor
	Readings []models.Reading
	Err      error
}

// CatalogData is the raw catalog as listed by the source, numbered in listing order.
type CatalogData struct {
	Buildings []models.Building
	Rooms     []models.Room
	Sensors   []models.Sensor
}

// Source yields readings from the remote building-management API.
type Source interface {
	// Catalog lists buildings, rooms and sensor locations.
	Catalog(ctx context.Context) (CatalogData, error)
	// Latest returns at most one reading per sensor.
	Latest(ctx context.Context, sensors []models.Sensor) ([]Batch, error)
	// After polls sensors one at a time and returns up to PageSize time-ordered
	// readings per sensor starting at startMS.
	After(ctx context.Context, sensors []models.Sensor, startMS int64) []Batch
}
