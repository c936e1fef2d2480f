package models

import (
	"errors"
	"fmt"
	"sort"
)

var ErrCatalogInconsistent = errors.New("catalog inconsistent")

// Building is a monitored site.
type Building struct {
	ID     int64  `db:"building_id" json:"id"`
	Number int    `db:"building_number" json:"number"`
	Name   string `db:"building_name" json:"name"`
}

// Room belongs to exactly one building.
type Room struct {
	ID           int64  `db:"room_id" json:"id"`
	Number       int    `db:"room_number" json:"number"`
	Name         string `db:"room_name" json:"name"`
	BuildingID   int64  `db:"building_id" json:"building_id"`
	BuildingName string `db:"building_name" json:"building_name"`
}

// Sensor is a sensor location; it belongs to exactly one room.
type Sensor struct {
	ID       int64  `db:"sensor_id" json:"id"`
	Number   int    `db:"sensor_number" json:"number"`
	Name     string `db:"sensor_name" json:"name"`
	RoomID   int64  `db:"room_id" json:"room_id"`
	RoomName string `db:"room_name" json:"room_name"`
}

// Catalog is the validated lookup of buildings, rooms and sensors.
type Catalog struct {
	Buildings []Building
	Rooms     []Room
	Sensors   []Sensor

	roomsByID       map[int64]Room
	roomsByNumber   map[int]Room
	sensorsByID     map[int64]Sensor
	sensorsByNumber map[int]Sensor
}

// NewCatalog sorts the entities by number and checks that every room references a known
// building and every sensor a known room.
func NewCatalog(buildings []Building, rooms []Room, sensors []Sensor) (*Catalog, error) {
	c := &Catalog{
		Buildings:       append([]Building(nil), buildings...),
		Rooms:           append([]Room(nil), rooms...),
		Sensors:         append([]Sensor(nil), sensors...),
		roomsByID:       make(map[int64]Room, len(rooms)),
		roomsByNumber:   make(map[int]Room, len(rooms)),
		sensorsByID:     make(map[int64]Sensor, len(sensors)),
		sensorsByNumber: make(map[int]Sensor, len(sensors)),
	}
	sort.Slice(c.Buildings, func(i, j int) bool { return c.Buildings[i].Number < c.Buildings[j].Number })
	sort.Slice(c.Rooms, func(i, j int) bool { return c.Rooms[i].Number < c.Rooms[j].Number })
	sort.Slice(c.Sensors, func(i, j int) bool { return c.Sensors[i].Number < c.Sensors[j].Number })

	buildingIDs := make(map[int64]struct{}, len(buildings))
	buildingNumbers := make(map[int]struct{}, len(buildings))
	for _, b := range c.Buildings {
		if b.Number <= 0 {
			return nil, fmt.Errorf("%w: building %q has number %d", ErrCatalogInconsistent, b.Name, b.Number)
		}
		if _, dup := buildingNumbers[b.Number]; dup {
			return nil, fmt.Errorf("%w: duplicate building number %d", ErrCatalogInconsistent, b.Number)
		}
		buildingNumbers[b.Number] = struct{}{}
		buildingIDs[b.ID] = struct{}{}
	}

	for _, r := range c.Rooms {
		if r.Number <= 0 {
			return nil, fmt.Errorf("%w: room %q has number %d", ErrCatalogInconsistent, r.Name, r.Number)
		}
		if _, dup := c.roomsByNumber[r.Number]; dup {
			return nil, fmt.Errorf("%w: duplicate room number %d", ErrCatalogInconsistent, r.Number)
		}
		if _, ok := buildingIDs[r.BuildingID]; !ok {
			return nil, fmt.Errorf("%w: room %d (%s) references unknown building %d",
				ErrCatalogInconsistent, r.Number, r.Name, r.BuildingID)
		}
		c.roomsByID[r.ID] = r
		c.roomsByNumber[r.Number] = r
	}

	for _, s := range c.Sensors {
		if s.Number <= 0 {
			return nil, fmt.Errorf("%w: sensor %q has number %d", ErrCatalogInconsistent, s.Name, s.Number)
		}
		if _, dup := c.sensorsByNumber[s.Number]; dup {
			return nil, fmt.Errorf("%w: duplicate sensor number %d", ErrCatalogInconsistent, s.Number)
		}
		if _, ok := c.roomsByID[s.RoomID]; !ok {
			return nil, fmt.Errorf("%w: sensor %d (%s) references unknown room %d",
				ErrCatalogInconsistent, s.Number, s.Name, s.RoomID)
		}
		c.sensorsByID[s.ID] = s
		c.sensorsByNumber[s.Number] = s
	}
	return c, nil
}

// Sensor looks a sensor up by number.
func (c *Catalog) Sensor(number int) (Sensor, bool) {
	s, ok := c.sensorsByNumber[number]
	return s, ok
}

// SensorByID looks a sensor up by its source id.
func (c *Catalog) SensorByID(id int64) (Sensor, bool) {
	s, ok := c.sensorsByID[id]
	return s, ok
}

// Room looks a room up by number.
func (c *Catalog) Room(number int) (Room, bool) {
	r, ok := c.roomsByNumber[number]
	return r, ok
}

// RoomOf returns the room a sensor belongs to.
func (c *Catalog) RoomOf(sensorNumber int) (Room, bool) {
	s, ok := c.sensorsByNumber[sensorNumber]
	if !ok {
		return Room{}, false
	}
	r, ok := c.roomsByID[s.RoomID]
	return r, ok
}

// SensorNumbers returns every sensor number in ascending order.
func (c *Catalog) SensorNumbers() []int {
	out := make([]int, 0, len(c.Sensors))
	for _, s := range c.Sensors {
		out = append(out, s.Number)
	}
	return out
}

// RoomNumbers returns every room number in ascending order.
func (c *Catalog) RoomNumbers() []int {
	out := make([]int, 0, len(c.Rooms))
	for _, r := range c.Rooms {
		out = append(out, r.Number)
	}
	return out
}

// SensorsInRoom lists the sensors of one room, ordered by number.
func (c *Catalog) SensorsInRoom(roomNumber int) []Sensor {
	room, ok := c.roomsByNumber[roomNumber]
	if !ok {
		return nil
	}
	var out []Sensor
	for _, s := range c.Sensors {
		if s.RoomID == room.ID {
			out = append(out, s)
		}
	}
	return out
}

// SensorsFor resolves numbers to catalog sensors, preserving order.
func (c *Catalog) SensorsFor(numbers []int) ([]Sensor, error) {
	out := make([]Sensor, 0, len(numbers))
	for _, n := range numbers {
		s, ok := c.sensorsByNumber[n]
		if !ok {
			return nil, fmt.Errorf("%w: sensor %d", ErrUnknownNumber, n)
		}
		out = append(out, s)
	}
	return out, nil
}
