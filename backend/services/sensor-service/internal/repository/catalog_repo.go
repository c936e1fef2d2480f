package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"buildingsense/backend/services/sensor-service/internal/models"
)

// CatalogRepository stores buildings, rooms and sensors.
type CatalogRepository struct {
	db *sqlx.DB
}

// NewCatalogRepository returns repository.
func NewCatalogRepository(db *sqlx.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// Replace swaps the stored catalog for c in one transaction.
func (r *CatalogRepository) Replace(ctx context.Context, c *models.Catalog) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, stmt := range []string{`DELETE FROM sensors`, `DELETE FROM rooms`, `DELETE FROM buildings`} {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("clear catalog: %w", classify(err))
		}
	}

	const insertBuilding = `
		INSERT INTO buildings (building_id, building_number, building_name)
		VALUES (:building_id, :building_number, :building_name)
	`
	for _, b := range c.Buildings {
		if _, err = tx.NamedExecContext(ctx, insertBuilding, b); err != nil {
			return fmt.Errorf("insert building %d: %w", b.Number, classify(err))
		}
	}

	const insertRoom = `
		INSERT INTO rooms (room_id, room_number, room_name, building_id, building_name)
		VALUES (:room_id, :room_number, :room_name, :building_id, :building_name)
	`
	for _, room := range c.Rooms {
		if _, err = tx.NamedExecContext(ctx, insertRoom, room); err != nil {
			return fmt.Errorf("insert room %d: %w", room.Number, classify(err))
		}
	}

	const insertSensor = `
		INSERT INTO sensors (sensor_id, sensor_number, sensor_name, room_id, room_name)
		VALUES (:sensor_id, :sensor_number, :sensor_name, :room_id, :room_name)
	`
	for _, s := range c.Sensors {
		if _, err = tx.NamedExecContext(ctx, insertSensor, s); err != nil {
			return fmt.Errorf("insert sensor %d: %w", s.Number, classify(err))
		}
	}

	if err = tx.Commit(); err != nil {
		return classify(err)
	}
	return nil
}

// Load reads the stored catalog and validates it.
func (r *CatalogRepository) Load(ctx context.Context) (*models.Catalog, error) {
	var (
		buildings []models.Building
		rooms     []models.Room
		sensors   []models.Sensor
	)
	if err := r.db.SelectContext(ctx, &buildings,
		`SELECT building_id, building_number, building_name FROM buildings ORDER BY building_number`); err != nil {
		return nil, classify(err)
	}
	if err := r.db.SelectContext(ctx, &rooms,
		`SELECT room_id, room_number, room_name, building_id, building_name FROM rooms ORDER BY room_number`); err != nil {
		return nil, classify(err)
	}
	if err := r.db.SelectContext(ctx, &sensors,
		`SELECT sensor_id, sensor_number, sensor_name, room_id, room_name FROM sensors ORDER BY sensor_number`); err != nil {
		return nil, classify(err)
	}
	return models.NewCatalog(buildings, rooms, sensors)
}
