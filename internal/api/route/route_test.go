package route

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bassista/go_revenue/internal/api/middleware"
	"github.com/bassista/go_revenue/internal/app"
	"github.com/bassista/go_revenue/internal/config"
	"github.com/bassista/go_revenue/internal/repository"
	"github.com/bassista/go_revenue/internal/revenue"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			ShutDownTimeout:    time.Second,
			RequestTimeout:     5 * time.Second,
			CORSAllowedOrigins: "*",
		},
		Data: config.DataConfig{
			Backend:     repository.BackendMemory,
			LoadMode:    "replace",
			EventBuffer: 4,
		},
		Misc: config.MiscConfig{TimeZone: "UTC"},
	}
}

// newTestEngine registers nothing; shop-a is served from a seeded in-memory
// database with two transactions for barber-1 today.
func newTestEngine(t *testing.T) (*gin.Engine, *repository.MemoryDatabase) {
	t.Helper()
	db := repository.NewMemoryDatabase()
	now := time.Now().In(time.UTC)
	db.Put(revenue.CollaboratorCollection, "barber-1", map[string]any{"nome": "Ana"})
	db.Put(revenue.CollaboratorCollection, "barber-2", map[string]any{"nome": "Rui"})
	db.Put(revenue.TransactionCollection(now), "t1", map[string]any{"colaborador_id": "barber-1", "total": 50.0, "data": revenue.DateKey(now)})
	db.Put(revenue.TransactionCollection(now), "t2", map[string]any{"colaborador_id": "barber-1", "total": 30.0, "data": revenue.DateKey(now)})

	open := func(_ context.Context, _ json.RawMessage) (repository.Database, error) {
		return db, nil
	}
	a, err := app.New(testConfig(), open)
	require.NoError(t, err)
	t.Cleanup(a.Shutdown)

	return SetupRoutes(a, logrus.New()), db
}

func do(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func tuple(t *testing.T, w *httptest.ResponseRecorder) []float64 {
	t.Helper()
	var out []float64
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestSetupRoutes_Health(t *testing.T) {
	r, _ := newTestEngine(t)

	w := do(r, http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"message":"UP"}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))
}

func TestSetupRoutes_RegisterAndRead(t *testing.T) {
	r, _ := newTestEngine(t)

	w := do(r, http.MethodPost, "/register", `{"flet_path":"shop-a","cred":{}}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(r, http.MethodGet, "/cache/shop-a/barber-1", "")
	assert.Equal(t, http.StatusOK, w.Code)
	got := tuple(t, w)
	assert.Equal(t, 80.0, got[0])
	assert.Equal(t, 2.0, got[2])

	w = do(r, http.MethodGet, "/cache/shop-a/nobody", "")
	assert.Equal(t, []float64{0, 0, 0, 0}, tuple(t, w))

	w = do(r, http.MethodGet, "/cache/shop-a", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 80.0, tuple(t, w)[0])

	w = do(r, http.MethodPost, "/cache/shop-a/refresh", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 80.0, tuple(t, w)[0])

	w = do(r, http.MethodGet, "/debug_clients", "")
	assert.JSONEq(t, `{"clientes":["shop-a"]}`, w.Body.String())
}

func TestSetupRoutes_DuplicateRegistration(t *testing.T) {
	r, _ := newTestEngine(t)

	require.Equal(t, http.StatusOK, do(r, http.MethodPost, "/register", `{"flet_path":"shop-a","cred":{}}`).Code)
	w := do(r, http.MethodPost, "/register", `{"flet_path":"shop-a","cred":{}}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSetupRoutes_UnknownTenant(t *testing.T) {
	r, _ := newTestEngine(t)

	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/cache/ghost", "").Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/cache/ghost/barber-1", "").Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodPost, "/cache/ghost/refresh", "").Code)
}

func TestSetupRoutes_CORSPreflight(t *testing.T) {
	r, _ := newTestEngine(t)

	req := httptest.NewRequest(http.MethodOptions, "/register", nil)
	req.Header.Set("Origin", "http://dashboard.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
