package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"buildingsense/backend/services/sensor-service/internal/aggregate"
	"buildingsense/backend/services/sensor-service/internal/chart"
	"buildingsense/backend/services/sensor-service/internal/http/middleware"
	"buildingsense/backend/services/sensor-service/internal/models"
	"buildingsense/backend/services/sensor-service/internal/service"
)

// Querier is the read side the API exposes.
type Querier interface {
	Catalog(ctx context.Context) (*models.Catalog, error)
	Readings(ctx context.Context, sel models.Selector, fromMS, toMS int64, fields []models.Field) (service.ReadingsResult, error)
	RoomAggregate(ctx context.Context, roomNumber int, fromMS, toMS int64, fields []models.Field) (service.AggregateResult, error)
}

// QueryHandlers serve catalog, readings and room aggregates.
type QueryHandlers struct {
	svc    Querier
	logger *zap.Logger
	now    func() time.Time
}

// NewQueryHandlers returns handler.
func NewQueryHandlers(svc Querier, logger *zap.Logger) *QueryHandlers {
	return &QueryHandlers{svc: svc, logger: logger, now: time.Now}
}

type roomView struct {
	models.Room
	Sensors []int `json:"sensors"`
}

// Rooms handles GET /api/v1/rooms.
func (h *QueryHandlers) Rooms(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.Catalog(r.Context())
	if err != nil {
		h.fail(w, r, "load catalog", err)
		return
	}

	rooms := make([]roomView, 0, len(c.Rooms))
	for _, room := range c.Rooms {
		view := roomView{Room: room, Sensors: []int{}}
		for _, sensor := range c.SensorsInRoom(room.Number) {
			view.Sensors = append(view.Sensors, sensor.Number)
		}
		rooms = append(rooms, view)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"buildings": nonNil(c.Buildings), "rooms": rooms})
}

// Sensors handles GET /api/v1/sensors.
func (h *QueryHandlers) Sensors(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.Catalog(r.Context())
	if err != nil {
		h.fail(w, r, "load catalog", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sensors": nonNil(c.Sensors)})
}

// Readings handles GET /api/v1/readings?sensors=&from=&to=&fields=.
func (h *QueryHandlers) Readings(w http.ResponseWriter, r *http.Request) {
	sel, err := models.ParseSelector(r.URL.Query().Get("sensors"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	from, to, fields, ok := h.window(w, r)
	if !ok {
		return
	}

	res, err := h.svc.Readings(r.Context(), sel, from, to, fields)
	if err != nil {
		h.fail(w, r, "query readings", err)
		return
	}
	if res.Readings == nil {
		res.Readings = []models.Reading{}
	}
	writeJSON(w, http.StatusOK, res)
}

// Aggregate handles GET /api/v1/rooms/{room}/aggregate.
func (h *QueryHandlers) Aggregate(w http.ResponseWriter, r *http.Request) {
	room, ok := roomParam(w, r)
	if !ok {
		return
	}
	from, to, fields, ok := h.window(w, r)
	if !ok {
		return
	}

	res, err := h.svc.RoomAggregate(r.Context(), room, from, to, fields)
	if err != nil {
		h.fail(w, r, "aggregate room", err)
		return
	}
	if res.Rows == nil {
		res.Rows = []aggregate.RoomMinute{}
	}
	writeJSON(w, http.StatusOK, res)
}

// Chart handles GET /api/v1/rooms/{room}/chart?field=&from=&to= and answers with a text plot.
func (h *QueryHandlers) Chart(w http.ResponseWriter, r *http.Request) {
	room, ok := roomParam(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	field, err := models.ParseField(q.Get("field"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	from, to, err := parseRange(r, h.now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	width, _ := strconv.Atoi(q.Get("width"))
	height, _ := strconv.Atoi(q.Get("height"))

	res, err := h.svc.RoomAggregate(r.Context(), room, from, to, []models.Field{field})
	if err != nil {
		h.fail(w, r, "aggregate room", err)
		return
	}

	plot, err := chart.Render(chart.Series(res.Rows, field), chart.Options{
		Caption: chart.RoomCaption(res.Rows, field),
		Width:   width,
		Height:  height,
	})
	if errors.Is(err, chart.ErrNoData) {
		writeText(w, http.StatusOK, fmt.Sprintf("no %s data for room %d\n%s\n", field, room, res.Diagnostic))
		return
	}
	if err != nil {
		h.fail(w, r, "render chart", err)
		return
	}
	if res.Diagnostic != "" {
		plot += "\n" + res.Diagnostic
	}
	writeText(w, http.StatusOK, plot+"\n")
}

func (h *QueryHandlers) window(w http.ResponseWriter, r *http.Request) (int64, int64, []models.Field, bool) {
	from, to, err := parseRange(r, h.now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return 0, 0, nil, false
	}
	fields, err := parseFields(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return 0, 0, nil, false
	}
	return from, to, fields, true
}

func (h *QueryHandlers) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	fail(h.logger, w, r, op, err)
}

// fail answers with the status of err and logs server-side failures with the caller.
func fail(logger *zap.Logger, w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		fields := []zap.Field{zap.String("path", r.URL.Path), zap.Error(err)}
		if subject, ok := middleware.SubjectFromContext(r.Context()); ok {
			fields = append(fields, zap.String("viewer", subject))
		}
		logger.Error(op+" failed", fields...)
	}
	writeError(w, status, err.Error())
}

func roomParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	room, err := strconv.Atoi(mux.Vars(r)["room"])
	if err != nil || room <= 0 {
		writeError(w, http.StatusBadRequest, "room must be a positive integer")
		return 0, false
	}
	return room, true
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
