package models

import "sort"

// Space is a managed space: an operator-defined area whose occupancy the source reports
// directly, independent of the room/sensor hierarchy. Spaces are numbered from 1 in the
// order the source lists them for the building.
type Space struct {
	ID     int64  `json:"id"`
	Number int    `json:"number"`
	Name   string `json:"name"`
}

// SpaceReading is one occupancy observation of a managed space.
type SpaceReading struct {
	SpaceNumber  int      `json:"space_number"`
	SpaceName    string   `json:"space_name"`
	TimestampMS  int64    `json:"timestamp_ms"`
	TimestampUTC string   `json:"timestamp_utc"`
	Occupancy    *float64 `json:"occupancy"`
}

// NewSpaceReading stamps the space identity on an observation.
func NewSpaceReading(space Space, timestampMS int64, occupancy *float64) (SpaceReading, error) {
	if timestampMS <= 0 {
		return SpaceReading{}, ErrInvalidTimestamp
	}
	return SpaceReading{
		SpaceNumber:  space.Number,
		SpaceName:    space.Name,
		TimestampMS:  timestampMS,
		TimestampUTC: FormatUTC(timestampMS),
		Occupancy:    occupancy,
	}, nil
}

// SpaceNumbers lists the numbers of spaces in ascending order.
func SpaceNumbers(spaces []Space) []int {
	out := make([]int, len(spaces))
	for i, s := range spaces {
		out[i] = s.Number
	}
	sort.Ints(out)
	return out
}

// SelectSpaces resolves sel against spaces and returns the chosen ones in number order.
func SelectSpaces(spaces []Space, sel Selector) ([]Space, error) {
	numbers, err := sel.Resolve(SpaceNumbers(spaces))
	if err != nil {
		return nil, err
	}
	byNumber := make(map[int]Space, len(spaces))
	for _, s := range spaces {
		byNumber[s.Number] = s
	}
	out := make([]Space, 0, len(numbers))
	for _, n := range numbers {
		out = append(out, byNumber[n])
	}
	return out, nil
}
