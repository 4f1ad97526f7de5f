package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouteLabel_KnownRoutes(t *testing.T) {
	assert.Equal(t, "/v1/chat/completions", routeLabel("/v1/chat/completions"))
	assert.Equal(t, "/health/ready", routeLabel("/health/ready"))
}

func TestRouteLabel_UnknownPathsCollapse(t *testing.T) {
	assert.Equal(t, "other", routeLabel("/wp-admin/setup.php"))
	assert.Equal(t, "other", routeLabel("/v1/chat/completions/extra"))
}

func TestMiddleware_BoundedSeriesCardinality(t *testing.T) {
	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	scan := func(path string) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusNotFound, rec.Code)
	}

	scan("/scanner-noise-1")
	before := testutil.CollectAndCount(HTTPLatency)

	// Further distinct junk paths share the existing series.
	scan("/scanner-noise-2")
	scan("/.env")
	scan("/admin/" + strings.Repeat("x", 64))
	after := testutil.CollectAndCount(HTTPLatency)

	assert.Equal(t, before, after, "caller-controlled paths must not mint new series")
}

func TestMiddleware_RecordsStatus(t *testing.T) {
	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/models", nil))
	require.Equal(t, http.StatusTeapot, rec.Code)

	count := testutil.CollectAndCount(HTTPLatency)
	assert.Greater(t, count, 0)
}
