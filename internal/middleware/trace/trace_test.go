package trace

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gastos/internal/log"
	"gastos/internal/metrics"
)

func newTraced(t *testing.T, h http.HandlerFunc) (http.Handler, *bytes.Buffer, *metrics.Metrics) {
	t.Helper()
	var buf bytes.Buffer
	m := metrics.New()
	mux := http.NewServeMux()
	mux.Handle("GET /analisar", h)
	mw := NewMiddleware(func(*http.Request) string { return "10.0.0.1" }, m, log.New(log.Config{Format: "json", Output: &buf}))
	return mw.Middleware(mux), &buf, m
}

func TestMiddlewareAssignsRequestID(t *testing.T) {
	var seen string
	handler, buf, _ := newTraced(t, func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
		log.FromContext(r.Context()).InfoContext(r.Context(), "inside handler")
	})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/analisar", nil))

	_, err := uuid.Parse(seen)
	require.NoError(t, err)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))
	assert.Contains(t, buf.String(), `"request_id":"`+seen+`"`)
	assert.Contains(t, buf.String(), "HTTP request completed")
}

func TestMiddlewareReusesValidIncomingID(t *testing.T) {
	handler, _, _ := newTraced(t, func(w http.ResponseWriter, r *http.Request) {})
	incoming := uuid.NewString()

	req := httptest.NewRequest(http.MethodGet, "/analisar", nil)
	req.Header.Set(RequestIDHeader, incoming)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, incoming, rec.Header().Get(RequestIDHeader))

	req = httptest.NewRequest(http.MethodGet, "/analisar", nil)
	req.Header.Set(RequestIDHeader, "<script>")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.NotEqual(t, "<script>", rec.Header().Get(RequestIDHeader))
}

func TestMiddlewareRecordsRoutePattern(t *testing.T) {
	handler, _, m := newTraced(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/analisar", nil))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope", nil))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	assert.Contains(t, body, `route="GET /analisar",status="418"`)
	assert.Contains(t, body, `route="unmatched",status="404"`)
}
