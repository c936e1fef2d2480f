package index

import (
	"context"

	"go.uber.org/zap"

	"buildingsense/backend/services/sensor-service/internal/models"
)

// KeyLister is the store query the index is built from.
type KeyLister interface {
	ExistingKeys(ctx context.Context) ([]models.Key, error)
}

// Index is a point-in-time snapshot of persisted dedup keys. It is never mutated after Build;
// rows written during the run are caught by the store's own unique constraint.
type Index struct {
	keys   map[models.Key]struct{}
	newest map[int]int64
}

// Build loads every persisted key with one query. A failed query yields an empty index and a
// warning so that ingestion can still proceed against the store's uniqueness check.
func Build(ctx context.Context, store KeyLister, logger *zap.Logger) *Index {
	keys, err := store.ExistingKeys(ctx)
	if err != nil {
		logger.Warn("existing reading index unavailable, continuing with empty index", zap.Error(err))
		return New(nil)
	}
	idx := New(keys)
	logger.Info("existing reading index built", zap.Int("keys", idx.Len()))
	return idx
}

// New builds an index from keys.
func New(keys []models.Key) *Index {
	idx := &Index{
		keys:   make(map[models.Key]struct{}, len(keys)),
		newest: make(map[int]int64),
	}
	for _, k := range keys {
		idx.keys[k] = struct{}{}
		if k.TimestampMS > idx.newest[k.SensorNumber] {
			idx.newest[k.SensorNumber] = k.TimestampMS
		}
	}
	return idx
}

// Contains reports whether the reading's (sensor_number, timestamp_ms) was already persisted.
func (i *Index) Contains(r models.Reading) bool {
	_, ok := i.keys[r.Key()]
	return ok
}

func (i *Index) Len() int { return len(i.keys) }

// Newest returns the latest persisted timestamp for a sensor.
func (i *Index) Newest(sensorNumber int) (int64, bool) {
	ms, ok := i.newest[sensorNumber]
	return ms, ok
}
