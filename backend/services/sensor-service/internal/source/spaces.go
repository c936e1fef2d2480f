package source

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"buildingsense/backend/services/sensor-service/internal/models"
)

// SpaceBatch is the outcome of one source call for one managed space.
type SpaceBatch struct {
	Space    models.Space
	Readings []models.SpaceReading
	Err      error
}

// SpaceSource yields managed-space occupancy. It is read live and never stored.
type SpaceSource interface {
	// Spaces lists the managed spaces of the configured building.
	Spaces(ctx context.Context) ([]models.Space, error)
	// SpaceLatest returns at most one reading per space.
	SpaceLatest(ctx context.Context, spaces []models.Space) ([]SpaceBatch, error)
	// SpaceAfter returns up to PageSize readings per space starting at startMS.
	SpaceAfter(ctx context.Context, spaces []models.Space, startMS int64) []SpaceBatch
}

type apiSpace struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Spaces lists the building's managed spaces, numbered from 1 in listing order.
func (c *BeringarClient) Spaces(ctx context.Context) ([]models.Space, error) {
	buildingID, err := c.resolveBuildingID(ctx)
	if err != nil {
		return nil, err
	}
	var listed []apiSpace
	if err := c.getJSON(ctx, fmt.Sprintf("managedspace/building/%d", buildingID), &listed); err != nil {
		return nil, fmt.Errorf("list managed spaces: %w", err)
	}
	spaces := make([]models.Space, 0, len(listed))
	for i, s := range listed {
		spaces = append(spaces, models.Space{ID: s.ID, Number: i + 1, Name: s.Name})
	}
	return spaces, nil
}

// SpaceLatest fetches the newest reading of every managed space in the building with one call.
func (c *BeringarClient) SpaceLatest(ctx context.Context, spaces []models.Space) ([]SpaceBatch, error) {
	buildingID, err := c.resolveBuildingID(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := c.getRows(ctx, fmt.Sprintf("managedspace/latest/building/%d", buildingID), c.logger)
	if err != nil {
		return nil, fmt.Errorf("latest managed space readings for building %d: %w", buildingID, err)
	}

	byID := make(map[int64]int, len(spaces))
	batches := make([]SpaceBatch, len(spaces))
	for i, s := range spaces {
		batches[i] = SpaceBatch{Space: s}
		byID[s.ID] = i
	}
	for _, row := range rows {
		if row.ManagedSpace == nil {
			c.logger.Warn("latest space reading without managed space dropped")
			continue
		}
		idx, ok := byID[*row.ManagedSpace]
		if !ok {
			continue
		}
		reading, err := c.toSpaceReading(batches[idx].Space, row)
		if err != nil {
			c.logger.Warn("latest space reading dropped", zap.Int("space_number", batches[idx].Space.Number), zap.Error(err))
			continue
		}
		batches[idx].Readings = append(batches[idx].Readings, reading)
	}
	return batches, nil
}

// SpaceAfter polls each space in turn. A failing space only marks its own batch.
func (c *BeringarClient) SpaceAfter(ctx context.Context, spaces []models.Space, startMS int64) []SpaceBatch {
	batches := make([]SpaceBatch, 0, len(spaces))
	for _, s := range spaces {
		if err := ctx.Err(); err != nil {
			batches = append(batches, SpaceBatch{Space: s, Err: err})
			continue
		}
		batches = append(batches, c.spaceAfter(ctx, s, startMS))
	}
	return batches
}

func (c *BeringarClient) spaceAfter(ctx context.Context, space models.Space, startMS int64) SpaceBatch {
	batch := SpaceBatch{Space: space}
	log := c.logger.With(zap.Int("space_number", space.Number), zap.String("space_name", space.Name))

	rows, err := c.getRows(ctx, fmt.Sprintf("beta/managedspace/spacelocation/%d/after/%d", space.ID, startMS), log)
	if err != nil {
		batch.Err = err
		return batch
	}
	if len(rows) > PageSize {
		rows = rows[:PageSize]
	}
	for _, row := range rows {
		reading, err := c.toSpaceReading(space, row)
		if err != nil {
			log.Warn("space reading dropped", zap.Error(err))
			continue
		}
		batch.Readings = append(batch.Readings, reading)
	}
	return batch
}

func (c *BeringarClient) toSpaceReading(space models.Space, row apiReading) (models.SpaceReading, error) {
	ms, err := row.timestampMS()
	if err != nil {
		return models.SpaceReading{}, err
	}
	if row.Occupancy.bad != "" {
		c.logger.Warn("malformed space occupancy treated as null",
			zap.Int("space_number", space.Number),
			zap.Int64("timestamp_ms", ms),
			zap.String("occupancy", row.Occupancy.bad))
	}
	return models.NewSpaceReading(space, ms, row.Occupancy.value)
}
