package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/crypto/bcrypt"

	"buildingsense/backend/services/sensor-service/internal/http/handlers"
	"buildingsense/backend/services/sensor-service/internal/http/middleware"
	"buildingsense/backend/services/sensor-service/internal/metrics"
	"buildingsense/backend/services/sensor-service/internal/models"
	"buildingsense/backend/services/sensor-service/internal/password"
	"buildingsense/backend/services/sensor-service/internal/service"
	"buildingsense/backend/services/sensor-service/internal/source"
)

type memReadings struct {
	rows []models.Reading
}

func (m *memReadings) QueryRange(_ context.Context, sensors []int, fromMS, toMS int64, fields []models.Field) ([]models.Reading, error) {
	want := map[int]bool{}
	for _, n := range sensors {
		want[n] = true
	}
	var out []models.Reading
	for _, r := range m.rows {
		if want[r.SensorNumber] && r.TimestampMS >= fromMS && r.TimestampMS < toMS {
			r.Measurements = r.Measurements.Only(fields)
			out = append(out, r)
		}
	}
	return out, nil
}

type staticCatalog struct {
	c   *models.Catalog
	err error
}

func (s staticCatalog) Load(context.Context) (*models.Catalog, error) { return s.c, s.err }

type staticSpaces struct {
	spaces   []models.Space
	readings []models.SpaceReading
}

func (s staticSpaces) Spaces(context.Context) ([]models.Space, error) { return s.spaces, nil }

func (s staticSpaces) batches(spaces []models.Space, fromMS int64) []source.SpaceBatch {
	out := make([]source.SpaceBatch, 0, len(spaces))
	for _, sp := range spaces {
		b := source.SpaceBatch{Space: sp}
		for _, r := range s.readings {
			if r.SpaceNumber == sp.Number && r.TimestampMS >= fromMS {
				b.Readings = append(b.Readings, r)
			}
		}
		out = append(out, b)
	}
	return out
}

func (s staticSpaces) SpaceLatest(_ context.Context, spaces []models.Space) ([]source.SpaceBatch, error) {
	out := s.batches(spaces, 0)
	for i := range out {
		if n := len(out[i].Readings); n > 0 {
			out[i].Readings = out[i].Readings[n-1:]
		}
	}
	return out, nil
}

func (s staticSpaces) SpaceAfter(_ context.Context, spaces []models.Space, startMS int64) []source.SpaceBatch {
	return s.batches(spaces, startMS)
}

func testSpaces(t *testing.T) staticSpaces {
	t.Helper()
	atrium := models.Space{ID: 900, Number: 1, Name: "Atrium"}
	cafe := models.Space{ID: 800, Number: 2, Name: "Cafe"}
	var readings []models.SpaceReading
	for _, r := range []struct {
		space models.Space
		ms    int64
		occ   float64
	}{{atrium, 60_000, 2}, {atrium, 120_000, 3}, {cafe, 60_000, 5}, {cafe, 180_000, 1}} {
		reading, err := models.NewSpaceReading(r.space, r.ms, models.Float(r.occ))
		require.NoError(t, err)
		readings = append(readings, reading)
	}
	return staticSpaces{spaces: []models.Space{atrium, cafe}, readings: readings}
}

func newTestViewer(t *testing.T, tokens *service.TokenService, logger *zap.Logger) *service.ViewerService {
	t.Helper()
	hasher := password.NewBcryptHasher(bcrypt.MinCost)
	hash, err := hasher.Hash("viewer-pass")
	require.NoError(t, err)
	return service.NewViewerService("viewer", hash, hasher, tokens, logger)
}

func newTestRouter(t *testing.T) (http.Handler, *metrics.Metrics) {
	t.Helper()

	c, err := models.NewCatalog(
		[]models.Building{{ID: 1, Number: 1, Name: "HQ"}},
		[]models.Room{{ID: 10, Number: 1, Name: "Office", BuildingID: 1, BuildingName: "HQ"}},
		[]models.Sensor{
			{ID: 100, Number: 1, Name: "desk-a", RoomID: 10, RoomName: "Office"},
			{ID: 101, Number: 2, Name: "desk-b", RoomID: 10, RoomName: "Office"},
		},
	)
	require.NoError(t, err)

	s1, _ := c.Sensor(1)
	s2, _ := c.Sensor(2)
	r1, err := models.NewReading(s1, 60_000, models.Measurements{Occupancy: models.Float(2), Temperature: models.Float(20)})
	require.NoError(t, err)
	r2, err := models.NewReading(s2, 60_500, models.Measurements{Occupancy: models.Float(3), Temperature: models.Float(22)})
	require.NoError(t, err)
	r3, err := models.NewReading(s1, 120_000, models.Measurements{Occupancy: models.Float(1)})
	require.NoError(t, err)

	logger := zap.NewNop()
	query := service.NewQueryService(&memReadings{rows: []models.Reading{r1, r2, r3}}, staticCatalog{c: c}, logger)

	tokens := service.NewTokenService("secret", time.Minute)
	viewer := newTestViewer(t, tokens, logger)

	m := metrics.New(prometheus.NewRegistry())
	qh := handlers.NewQueryHandlers(query, logger)
	sh := handlers.NewSpaceHandlers(service.NewSpaceService(testSpaces(t), m, logger), logger)
	router := NewRouter(Routes{
		Health:        handlers.NewHealthHandler(nil),
		Metrics:       m.Handler(),
		Token:         handlers.NewTokenHandler(viewer, logger),
		Rooms:         qh.Rooms,
		Sensors:       qh.Sensors,
		Readings:      qh.Readings,
		Aggregate:     qh.Aggregate,
		Chart:         qh.Chart,
		Spaces:        sh.Spaces,
		SpaceLatest:   sh.Latest,
		SpaceReadings: sh.Readings,
		SpaceChart:    sh.Chart,
	}, middleware.AuthMiddleware(tokens), m)
	return router, m
}

func issueToken(t *testing.T, h http.Handler) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/token", nil)
	req.SetBasicAuth("viewer", "viewer-pass")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Token     string `json:"token"`
		TokenType string `json:"token_type"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Equal(t, "Bearer", body.TokenType)
	return body.Token
}

func get(t *testing.T, h http.Handler, token, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndMetricsArePublic(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := get(t, router, "", "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = get(t, router, "", "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestTokenEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/token", nil)
	req.SetBasicAuth("viewer", "wrong")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/auth/token", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := get(t, router, "", "/api/v1/rooms")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCatalogRoutes(t *testing.T) {
	router, _ := newTestRouter(t)
	token := issueToken(t, router)

	rec := get(t, router, token, "/api/v1/rooms")
	require.Equal(t, http.StatusOK, rec.Code)
	var rooms struct {
		Rooms []struct {
			Number  int    `json:"number"`
			Name    string `json:"name"`
			Sensors []int  `json:"sensors"`
		} `json:"rooms"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&rooms))
	require.Len(t, rooms.Rooms, 1)
	require.Equal(t, "Office", rooms.Rooms[0].Name)
	require.Equal(t, []int{1, 2}, rooms.Rooms[0].Sensors)

	rec = get(t, router, token, "/api/v1/sensors")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "desk-b")
}

func TestReadingsRoute(t *testing.T) {
	router, _ := newTestRouter(t)
	token := issueToken(t, router)

	rec := get(t, router, token, "/api/v1/readings?sensors=1&from=0&to=100000&fields=occupancy")
	require.Equal(t, http.StatusOK, rec.Code)
	var res service.ReadingsResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	require.Len(t, res.Readings, 1)
	require.Equal(t, 2.0, *res.Readings[0].Occupancy)
	require.Nil(t, res.Readings[0].Temperature)

	rec = get(t, router, token, "/api/v1/readings?sensors=1,2&from=1970-01-01T00:10:00Z&to=1970-01-01T00:20:00Z")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"readings":[]`)
	require.Contains(t, rec.Body.String(), "No data for the following sensor(s) from room 1, Office: 1, 2.")

	rec = get(t, router, token, "/api/v1/readings?sensors=9&from=0&to=1")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = get(t, router, token, "/api/v1/readings?fields=smell&from=0&to=1")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = get(t, router, token, "/api/v1/readings?from=yesterday")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAggregateRoute(t *testing.T) {
	router, _ := newTestRouter(t)
	token := issueToken(t, router)

	rec := get(t, router, token, "/api/v1/rooms/1/aggregate?from=0&to=180000&fields=occupancy,temperature")
	require.Equal(t, http.StatusOK, rec.Code)
	var res service.AggregateResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	require.Len(t, res.Rows, 2)
	require.Equal(t, 5.0, *res.Rows[0].Occupancy)
	require.Equal(t, 21.0, *res.Rows[0].Temperature)
	require.Equal(t, "1, 2", res.Rows[0].SensorNumbers)
	require.Equal(t, 1.0, *res.Rows[1].Occupancy)
	require.Nil(t, res.Rows[1].Temperature)

	rec = get(t, router, token, "/api/v1/rooms/1/aggregate?from=500000&to=600000")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"rows":[]`)

	rec = get(t, router, token, "/api/v1/rooms/7/aggregate?from=0&to=1")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChartRoute(t *testing.T) {
	router, _ := newTestRouter(t)
	token := issueToken(t, router)

	rec := get(t, router, token, "/api/v1/rooms/1/chart?field=occupancy&from=0&to=180000&height=4")
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain"))
	require.Contains(t, rec.Body.String(), "occupancy, room 1 Office")

	rec = get(t, router, token, "/api/v1/rooms/1/chart?field=occupancy&from=500000&to=600000")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "no occupancy data for room 1")

	rec = get(t, router, token, "/api/v1/rooms/1/chart")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSpaceRoutes(t *testing.T) {
	router, _ := newTestRouter(t)
	token := issueToken(t, router)

	rec := get(t, router, "", "/api/v1/spaces")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = get(t, router, token, "/api/v1/spaces")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"spaces":[{"id":900,"number":1,"name":"Atrium"},{"id":800,"number":2,"name":"Cafe"}]}`, rec.Body.String())

	rec = get(t, router, token, "/api/v1/spaces/latest?spaces=2")
	require.Equal(t, http.StatusOK, rec.Code)
	var latest service.SpaceReadingsResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&latest))
	require.Len(t, latest.Readings, 1)
	require.Equal(t, int64(180_000), latest.Readings[0].TimestampMS)

	rec = get(t, router, token, "/api/v1/spaces/1/readings?from=90000")
	require.Equal(t, http.StatusOK, rec.Code)
	var after service.SpaceReadingsResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&after))
	require.Len(t, after.Readings, 1)
	require.Equal(t, 3.0, *after.Readings[0].Occupancy)

	rec = get(t, router, token, "/api/v1/spaces/9/readings?from=90000")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = get(t, router, token, "/api/v1/spaces/1/readings?from=yesterday")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSpaceChartRoute(t *testing.T) {
	router, _ := newTestRouter(t)
	token := issueToken(t, router)

	rec := get(t, router, token, "/api/v1/spaces/chart?from=60000&height=4&plain=true")
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain"))
	body := rec.Body.String()
	require.Contains(t, body, "occupancy from 1970-01-01T00:01:00.000Z")
	require.Contains(t, body, "1 Atrium")
	require.Contains(t, body, "2 Cafe")
	require.NotContains(t, body, "\x1b[")

	rec = get(t, router, token, "/api/v1/spaces/chart?spaces=1&from=600000")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "no occupancy data")

	rec = get(t, router, token, "/api/v1/spaces/chart?spaces=x")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServerErrorsAreLoggedWithViewer(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	logger := zap.New(core)
	tokens := service.NewTokenService("secret", time.Minute)
	query := service.NewQueryService(&memReadings{}, staticCatalog{err: errors.New("disk gone")}, logger)
	qh := handlers.NewQueryHandlers(query, logger)
	router := NewRouter(Routes{
		Token: handlers.NewTokenHandler(newTestViewer(t, tokens, logger), logger),
		Rooms: qh.Rooms,
	}, middleware.AuthMiddleware(tokens), nil)

	rec := get(t, router, issueToken(t, router), "/api/v1/rooms")
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	failed := logs.FilterMessage("load catalog failed").AllUntimed()
	require.Len(t, failed, 1)
	require.Equal(t, "viewer", failed[0].ContextMap()["viewer"])
	require.Equal(t, "/api/v1/rooms", failed[0].ContextMap()["path"])
}
