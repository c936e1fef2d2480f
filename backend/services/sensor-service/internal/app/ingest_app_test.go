package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/crypto/bcrypt"

	"buildingsense/backend/services/sensor-service/internal/config"
	"buildingsense/backend/services/sensor-service/internal/password"
	"buildingsense/backend/services/sensor-service/internal/repository"
)

func beringarStub(t *testing.T) *httptest.Server {
	t.Helper()
	routes := map[string]string{
		"/api/building/": `[{"id": 42, "name": "Main"}]`,
		"/api/room":      `[{"id": 7, "name": "Office", "building": 42, "buildingname": "Main"}]`,
		"/api/sensorlocation": `[{"id": 501, "name": "North", "room": 7, "roomname": "Office"},
		                         {"id": 502, "name": "South", "room": 7, "roomname": "Office"}]`,
		"/api/sensorreading/latest/building/42": `[
			{"sensorlocation": 501, "timestamputc": "2020-02-05T16:31:45.102Z", "occupancy": 1},
			{"sensorlocation": 502, "timestamputc": "2020-02-05T16:31:46Z", "occupancy": 2}
		]`,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user, pass, ok := r.BasicAuth(); !ok || user != "viewer" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		body, ok := routes[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, baseURL string) *config.Config {
	cfg := &config.Config{
		Database: config.DatabaseConfig{Driver: "sqlite3", DSN: filepath.Join(t.TempDir(), "sensors.db")},
		Source: config.SourceConfig{
			BaseURL:        baseURL,
			Username:       "viewer",
			Password:       "secret",
			BuildingNumber: 1,
			TimeoutSeconds: 5,
		},
	}
	return cfg
}

func TestIngestRecentIsIdempotent(t *testing.T) {
	srv := beringarStub(t)
	ctx := context.Background()

	a, err := NewIngest(ctx, testConfig(t, srv.URL+"/api/"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	require.NoError(t, a.Run(ctx, Job{Mode: ModeRecent, SyncCatalog: true}))
	require.NoError(t, a.Run(ctx, Job{Mode: ModeRecent}))

	n, err := repository.NewReadingRepository(a.db).Count(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	c, err := repository.NewCatalogRepository(a.db).Load(ctx)
	require.NoError(t, err)
	require.Equal(t, []int{1, 2}, c.SensorNumbers())
}

func TestNewIngestRejectsBadSelector(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:0/api/")
	cfg.Ingest.Sensors = "1,x"

	_, err := NewIngest(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
}

func TestNewAPIRequiresSecrets(t *testing.T) {
	_, err := NewAPI(context.Background(), testConfig(t, ""), zap.NewNop())
	require.Error(t, err)
}

func TestNewAPIChecksViewerHash(t *testing.T) {
	cfg := testConfig(t, "")
	cfg.JWT.Secret = "secret"
	cfg.Viewer.Username = "viewer"
	cfg.Viewer.PasswordHash = "$2a$10$hash"

	_, err := NewAPI(context.Background(), cfg, zap.NewNop())
	require.True(t, errors.Is(err, password.ErrBadHash))

	hash, err := password.NewBcryptHasher(bcrypt.MinCost).Hash("viewer-pass")
	require.NoError(t, err)
	cfg.Viewer.PasswordHash = hash
	core, logs := observer.New(zap.WarnLevel)

	a, err := NewAPI(context.Background(), cfg, zap.New(core))
	require.NoError(t, err)
	t.Cleanup(a.Close)
	require.Equal(t, 1, logs.FilterMessage("viewer password hash uses a low bcrypt cost").Len())
}
