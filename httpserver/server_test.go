package httpserver

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingAPI struct{}

func (pingAPI) RegisterRoutes(r chi.Router) {
	r.Get("/api/ping", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("pong"))
	})
}

func newTestServer(t *testing.T, api RouteRegistrar) (*Server, *httptest.Server) {
	t.Helper()
	srv, err := New(&HTTPServerConfig{
		ListenAddr:               "127.0.0.1:0",
		Log:                      slog.New(slog.NewTextHandler(io.Discard, nil)),
		DrainDuration:            10 * time.Millisecond,
		GracefulShutdownDuration: time.Second,
	}, api)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.srv.Handler)
	t.Cleanup(ts.Close)
	return srv, ts
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestLiveness(t *testing.T) {
	_, ts := newTestServer(t, nil)

	code, body := get(t, ts.URL+"/livez")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "alive")
}

func TestReadinessLifecycle(t *testing.T) {
	srv, ts := newTestServer(t, nil)

	// Not ready until the owning daemon says so.
	code, _ := get(t, ts.URL+"/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	srv.SetReady(true)
	code, _ = get(t, ts.URL+"/readyz")
	assert.Equal(t, http.StatusOK, code)

	code, body := get(t, ts.URL+"/drain")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "draining")

	code, _ = get(t, ts.URL+"/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	_, body = get(t, ts.URL+"/drain")
	assert.Contains(t, body, "already draining")

	code, _ = get(t, ts.URL+"/undrain")
	assert.Equal(t, http.StatusOK, code)
	code, _ = get(t, ts.URL+"/readyz")
	assert.Equal(t, http.StatusOK, code)
}

func TestAPIRoutesMounted(t *testing.T) {
	_, ts := newTestServer(t, pingAPI{})

	code, body := get(t, ts.URL+"/api/ping")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "pong", body)
}
