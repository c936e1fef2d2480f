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

	"buildingsense/backend/services/sensor-service/internal/chart"
	"buildingsense/backend/services/sensor-service/internal/models"
	"buildingsense/backend/services/sensor-service/internal/service"
)

// SpaceQuerier reads managed-space occupancy.
type SpaceQuerier interface {
	Spaces(ctx context.Context) ([]models.Space, error)
	Latest(ctx context.Context, sel models.Selector) (service.SpaceReadingsResult, error)
	Readings(ctx context.Context, sel models.Selector, fromMS int64) (service.SpaceReadingsResult, error)
}

// SpaceHandlers serve the live managed-space endpoints.
type SpaceHandlers struct {
	svc    SpaceQuerier
	logger *zap.Logger
}

// NewSpaceHandlers returns handler.
func NewSpaceHandlers(svc SpaceQuerier, logger *zap.Logger) *SpaceHandlers {
	return &SpaceHandlers{svc: svc, logger: logger}
}

// Spaces handles GET /api/v1/spaces.
func (h *SpaceHandlers) Spaces(w http.ResponseWriter, r *http.Request) {
	spaces, err := h.svc.Spaces(r.Context())
	if err != nil {
		fail(h.logger, w, r, "list spaces", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"spaces": nonNil(spaces)})
}

// Latest handles GET /api/v1/spaces/latest?spaces=.
func (h *SpaceHandlers) Latest(w http.ResponseWriter, r *http.Request) {
	sel, err := models.ParseSelector(r.URL.Query().Get("spaces"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.svc.Latest(r.Context(), sel)
	if err != nil {
		fail(h.logger, w, r, "latest space readings", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Readings handles GET /api/v1/spaces/{space}/readings?from=.
func (h *SpaceHandlers) Readings(w http.ResponseWriter, r *http.Request) {
	space, err := strconv.Atoi(mux.Vars(r)["space"])
	if err != nil || space <= 0 {
		writeError(w, http.StatusBadRequest, "space must be a positive integer")
		return
	}
	from, ok := parseFrom(w, r)
	if !ok {
		return
	}
	res, err := h.svc.Readings(r.Context(), models.Single(space), from)
	if err != nil {
		fail(h.logger, w, r, "space readings", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Chart handles GET /api/v1/spaces/chart?spaces=&from=&plain= and overlays the occupancy of
// the selected spaces on one text plot.
func (h *SpaceHandlers) Chart(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sel, err := models.ParseSelector(q.Get("spaces"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	from, ok := parseFrom(w, r)
	if !ok {
		return
	}
	width, _ := strconv.Atoi(q.Get("width"))
	height, _ := strconv.Atoi(q.Get("height"))
	plain, _ := strconv.ParseBool(q.Get("plain"))

	res, err := h.svc.Readings(r.Context(), sel, from)
	if err != nil {
		fail(h.logger, w, r, "space readings", err)
		return
	}

	lines, startMS := chart.OccupancyLines(res.Spaces, res.Readings)
	caption := "occupancy"
	if len(res.Readings) > 0 {
		caption = fmt.Sprintf("occupancy from %s, one point per minute", models.FormatUTC(startMS))
	}
	plot, err := chart.RenderMany(lines, chart.Options{Caption: caption, Width: width, Height: height, Plain: plain})
	if errors.Is(err, chart.ErrNoData) {
		writeText(w, http.StatusOK, fmt.Sprintf("no occupancy data for the selected spaces\n%s\n", res.Diagnostic))
		return
	}
	if err != nil {
		fail(h.logger, w, r, "render space chart", err)
		return
	}
	if res.Diagnostic != "" {
		plot += "\n" + res.Diagnostic
	}
	writeText(w, http.StatusOK, plot+"\n")
}

// parseFrom reads the optional start instant; zero lets the service pick its lookback.
func parseFrom(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := r.URL.Query().Get("from")
	if raw == "" {
		return 0, true
	}
	from, err := parseInstant(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return 0, false
	}
	if from <= 0 || from > time.Now().UnixMilli() {
		writeError(w, http.StatusBadRequest, "from must be a past instant")
		return 0, false
	}
	return from, true
}
