package chart

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/guptarohit/asciigraph"

	"buildingsense/backend/services/sensor-service/internal/aggregate"
	"buildingsense/backend/services/sensor-service/internal/models"
)

var ErrNoData = errors.New("no data to plot")

const (
	defaultHeight = 12
	maxHeight     = 60
	maxWidth      = 160

	// maxOverlayMinutes bounds the shared grid of an overlay; points past it are cut.
	maxOverlayMinutes = 7 * 24 * 60
)

// lineColors cycle through overlay series. Legends need one color per series.
var lineColors = []asciigraph.AnsiColor{
	asciigraph.Blue, asciigraph.Red, asciigraph.Green, asciigraph.Goldenrod,
	asciigraph.Magenta, asciigraph.DarkCyan, asciigraph.Orange, asciigraph.Purple,
}

// Options control the rendered plot.
type Options struct {
	Caption string
	Width   int
	Height  int
	// Plain disables ANSI colors in overlays.
	Plain bool
}

// Line is one labelled series of an overlay.
type Line struct {
	Legend string
	Values []float64
}

// Series extracts one field of the room-minute rows. Minutes without a value become NaN gaps.
func Series(rows []aggregate.RoomMinute, field models.Field) []float64 {
	out := make([]float64, len(rows))
	for i, row := range rows {
		if v := row.Get(field); v != nil {
			out[i] = *v
		} else {
			out[i] = math.NaN()
		}
	}
	return out
}

// Render draws values as a terminal line chart.
func Render(values []float64, opts Options) (string, error) {
	if !hasValue(values) {
		return "", ErrNoData
	}

	return asciigraph.Plot(values, opts.plotOptions(len(values))...), nil
}

func (o Options) plotOptions(points int) []asciigraph.Option {
	height := o.Height
	if height <= 0 {
		height = defaultHeight
	}
	height = min(height, maxHeight)
	width := o.Width
	if width <= 0 || width > maxWidth {
		width = min(points, maxWidth)
	}

	out := []asciigraph.Option{asciigraph.Height(height), asciigraph.Width(width)}
	if o.Caption != "" {
		out = append(out, asciigraph.Caption(o.Caption))
	}
	return out
}

// RenderMany overlays several series on one axis with a legend. Lines without any value
// are left out; ErrNoData means none had one.
func RenderMany(lines []Line, opts Options) (string, error) {
	var (
		data    [][]float64
		legends []string
		points  int
	)
	for _, l := range lines {
		if !hasValue(l.Values) {
			continue
		}
		data = append(data, append([]float64(nil), l.Values...))
		legends = append(legends, l.Legend)
		points = max(points, len(l.Values))
	}
	if len(data) == 0 {
		return "", ErrNoData
	}

	plotOpts := opts.plotOptions(points)
	if opts.Plain {
		// asciigraph legends always carry escape codes.
		return asciigraph.PlotMany(data, plotOpts...) + "\n\n" + strings.Join(legends, "   "), nil
	}
	colors := make([]asciigraph.AnsiColor, len(data))
	for i := range colors {
		colors[i] = lineColors[i%len(lineColors)]
	}
	plotOpts = append(plotOpts, asciigraph.SeriesColors(colors...), asciigraph.SeriesLegends(legends...))
	return asciigraph.PlotMany(data, plotOpts...), nil
}

// OccupancyLines places each space's readings on a minute grid shared by all spaces, starting
// at the earliest reading. Minutes a space did not report are NaN. Several readings in one
// minute keep the last. startMS is the first grid minute.
func OccupancyLines(spaces []models.Space, readings []models.SpaceReading) (lines []Line, startMS int64) {
	if len(readings) == 0 {
		return nil, 0
	}
	startMS, endMS := int64(math.MaxInt64), int64(math.MinInt64)
	for _, r := range readings {
		m := models.FloorMinute(r.TimestampMS)
		startMS = min(startMS, m)
		endMS = max(endMS, m)
	}
	size := int((endMS-startMS)/60_000) + 1
	size = min(size, maxOverlayMinutes)

	index := make(map[int]int, len(spaces))
	lines = make([]Line, len(spaces))
	for i, s := range spaces {
		index[s.Number] = i
		values := make([]float64, size)
		for j := range values {
			values[j] = math.NaN()
		}
		lines[i] = Line{Legend: fmt.Sprintf("%d %s", s.Number, s.Name), Values: values}
	}
	for _, r := range readings {
		i, ok := index[r.SpaceNumber]
		if !ok || r.Occupancy == nil {
			continue
		}
		slot := int((models.FloorMinute(r.TimestampMS) - startMS) / 60_000)
		if slot >= size {
			continue
		}
		lines[i].Values[slot] = *r.Occupancy
	}
	return lines, startMS
}

func hasValue(values []float64) bool {
	for _, v := range values {
		if !math.IsNaN(v) {
			return true
		}
	}
	return false
}

// RoomCaption labels a room chart with its field and time span.
func RoomCaption(rows []aggregate.RoomMinute, field models.Field) string {
	if len(rows) == 0 {
		return string(field)
	}
	first, last := rows[0], rows[len(rows)-1]
	return fmt.Sprintf("%s, room %d %s, %s to %s (n=%s)",
		field, first.RoomNumber, first.RoomName, first.BucketUTC, last.BucketUTC, first.SensorNumbers)
}
