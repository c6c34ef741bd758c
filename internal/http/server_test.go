package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"gastos/internal/analysis"
	"gastos/internal/core"
	"gastos/internal/log"
	"gastos/internal/metrics"
	"gastos/internal/middleware/ratelimit"
	"gastos/internal/ports"
	"gastos/internal/services"
	"gastos/internal/storage/memory"
)

var fixedNow = time.Date(2025, time.March, 20, 10, 0, 0, 0, time.UTC)

// brokenStore fails every read so error paths can be exercised.
type brokenStore struct {
	*memory.Store
	err error
}

func (b brokenStore) ListByMonth(context.Context, core.MonthKey) ([]core.Expense, error) {
	return nil, b.err
}

func (b brokenStore) ListDates(context.Context) ([]core.Date, error) {
	return nil, b.err
}

func (b brokenStore) Ping(context.Context) error { return b.err }

type ServerSuite struct {
	suite.Suite
	store   *memory.Store
	metrics *metrics.Metrics
	srv     *Server
}

func TestServerSuite(t *testing.T) {
	suite.Run(t, new(ServerSuite))
}

func (s *ServerSuite) SetupTest() {
	s.store = memory.NewWithExpenses(
		core.Expense{Category: "Food", Amount: core.Money{Cents: 1000}, Date: core.NewDate(2025, 3, 1)},
		core.Expense{Category: "Food", Amount: core.Money{Cents: 1000}, Date: core.NewDate(2025, 3, 1)},
		core.Expense{Category: "Food", Amount: core.Money{Cents: 1000}, Date: core.NewDate(2025, 3, 2)},
		core.Expense{Category: "Food", Amount: core.Money{Cents: 10000}, Date: core.NewDate(2025, 3, 15)},
		core.Expense{Category: "Food", Amount: core.Money{Cents: 90000}, Date: core.NewDate(2025, 4, 1)},
	)
	s.metrics = metrics.New()
	s.srv = buildServer(s.T(), s.store, s.metrics, nil)
}

func (s *ServerSuite) do(method, target string, form url.Values) *httptest.ResponseRecorder {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req := httptest.NewRequest(method, target, body)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, req)
	return rec
}

func (s *ServerSuite) analysisJSON(month string) analysisResponse {
	rec := s.do(http.MethodGet, "/api/analise?mes="+month, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Equal("application/json", rec.Header().Get("Content-Type"))

	var resp analysisResponse
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func (s *ServerSuite) TestIndexListsSelectedMonth() {
	rec := s.do(http.MethodGet, "/?mes=2025-03", nil)

	s.Equal(http.StatusOK, rec.Code)
	body := rec.Body.String()
	s.Contains(body, "Controle de Gastos")
	s.Contains(body, "R$ 130,00")
	s.Contains(body, `href="/editar/4"`)
	s.NotContains(body, `href="/editar/5"`)
	s.Contains(body, `<option value="2025-04"`)
	s.NotEmpty(rec.Header().Get("X-Request-ID"))
	s.Equal("DENY", rec.Header().Get("X-Frame-Options"))
}

func (s *ServerSuite) TestIndexDefaultsToCurrentMonth() {
	for _, target := range []string{"/", "/?mes=2025-3", "/?mes=garbage"} {
		rec := s.do(http.MethodGet, target, nil)
		s.Equal(http.StatusOK, rec.Code, target)
		s.Contains(rec.Body.String(), `value="2025-03-20"`, target)
		s.Contains(rec.Body.String(), "R$ 130,00", target)
	}
}

func (s *ServerSuite) TestUnknownPathIs404() {
	rec := s.do(http.MethodGet, "/nope", nil)
	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *ServerSuite) TestAddRedirectsToMonthOfDate() {
	rec := s.do(http.MethodPost, "/add", url.Values{
		"categoria": {"Transporte"},
		"valor":     {"7,50"},
		"data":      {"2024-11-05"},
	})

	s.Equal(http.StatusSeeOther, rec.Code)
	s.Equal("/?mes=2024-11", rec.Header().Get("Location"))

	got, err := s.store.ListByMonth(context.Background(), core.MonthKey{Year: 2024, Month: time.November})
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Equal("Transporte", got[0].Category)
	s.Equal(int64(750), got[0].Amount.Cents)
}

func (s *ServerSuite) TestAddRejectsInvalidInput() {
	cases := []url.Values{
		{"categoria": {""}, "valor": {"10"}, "data": {"2025-03-01"}},
		{"categoria": {"Food"}, "valor": {"abc"}, "data": {"2025-03-01"}},
		{"categoria": {"Food"}, "valor": {"0"}, "data": {"2025-03-01"}},
		{"categoria": {"Food"}, "valor": {"10"}, "data": {"01/03/2025"}},
		{"categoria": {"<script>"}, "valor": {"-1"}, "data": {"2025-03-01"}},
	}
	for _, form := range cases {
		rec := s.do(http.MethodPost, "/add", form)
		s.Equal(http.StatusBadRequest, rec.Code, form.Encode())
		s.NotContains(rec.Body.String(), "<script>")
	}
	s.Equal(5, s.store.Len())
}

func (s *ServerSuite) TestAddRequiresPost() {
	rec := s.do(http.MethodGet, "/add", nil)
	s.Equal(http.StatusMethodNotAllowed, rec.Code)
}

func (s *ServerSuite) TestEditFormIsPrefilled() {
	rec := s.do(http.MethodGet, "/editar/4", nil)

	s.Equal(http.StatusOK, rec.Code)
	body := rec.Body.String()
	s.Contains(body, `value="Food"`)
	s.Contains(body, `value="100.00"`)
	s.Contains(body, `value="2025-03-15"`)
}

func (s *ServerSuite) TestEditUnknownAndMalformedIDs() {
	s.Equal(http.StatusNotFound, s.do(http.MethodGet, "/editar/999", nil).Code)
	s.Equal(http.StatusBadRequest, s.do(http.MethodGet, "/editar/abc", nil).Code)
	s.Equal(http.StatusNotFound, s.do(http.MethodPost, "/editar/999", url.Values{
		"categoria": {"Food"}, "valor": {"1"}, "data": {"2025-03-01"},
	}).Code)
}

func (s *ServerSuite) TestUpdateMovesExpenseAndRedirects() {
	rec := s.do(http.MethodPost, "/editar/4", url.Values{
		"categoria": {"Food"},
		"valor":     {"20"},
		"data":      {"2025-04-10"},
	})

	s.Equal(http.StatusSeeOther, rec.Code)
	s.Equal("/?mes=2025-04", rec.Header().Get("Location"))

	e, err := s.store.GetExpense(context.Background(), 4)
	s.Require().NoError(err)
	s.Equal(int64(2000), e.Amount.Cents)
	s.Equal("2025-04-10", e.Date.String())
}

func (s *ServerSuite) TestUpdateRejectsInvalidInputWithoutWriting() {
	rec := s.do(http.MethodPost, "/editar/4", url.Values{
		"categoria": {"Food"},
		"valor":     {"-3"},
		"data":      {"2025-04-10"},
	})
	s.Equal(http.StatusBadRequest, rec.Code)

	e, err := s.store.GetExpense(context.Background(), 4)
	s.Require().NoError(err)
	s.Equal(int64(10000), e.Amount.Cents)
}

func (s *ServerSuite) TestDeleteRedirectsAndRemoves() {
	for _, method := range []string{http.MethodGet, http.MethodPost} {
		before := s.store.Len()
		id := "1"
		if method == http.MethodPost {
			id = "2"
		}

		rec := s.do(method, "/excluir/"+id, nil)
		s.Equal(http.StatusSeeOther, rec.Code)
		s.Equal("/?mes=2025-03", rec.Header().Get("Location"))
		s.Equal(before-1, s.store.Len())
	}

	s.Equal(http.StatusNotFound, s.do(http.MethodGet, "/excluir/1", nil).Code)
}

func (s *ServerSuite) TestAnalysisJSON() {
	resp := s.analysisJSON("2025-03")

	s.Equal("2025-03", resp.Month)
	s.Equal([]string{"Gasto alto detectado em Food (R$100.00, acima da média de R$32.50)"}, resp.Alerts)
	s.Equal([]string{"01", "02", "15"}, resp.Days)
	s.Equal([]float64{20, 10, 100}, resp.Values)
	s.Equal(250.0, resp.MaxY)
	s.Equal(130.0, resp.Total)
}

func (s *ServerSuite) TestAnalysisJSONEmptyMonthUsesEmptyArrays() {
	rec := s.do(http.MethodGet, "/api/analise?mes=2020-01", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.JSONEq(`{"mes":"2020-01","alertas":[],"dias":[],"valores":[],"max_y":0,"total":0}`, rec.Body.String())
}

func (s *ServerSuite) TestWritesInvalidateCachedAnalysis() {
	first := s.analysisJSON("2025-03")
	s.Equal(130.0, first.Total)

	// second read is served from the cache
	s.analysisJSON("2025-03")

	rec := s.do(http.MethodPost, "/add", url.Values{
		"categoria": {"Food"}, "valor": {"300"}, "data": {"2025-03-15"},
	})
	s.Require().Equal(http.StatusSeeOther, rec.Code)

	after := s.analysisJSON("2025-03")
	s.Equal(430.0, after.Total)
	s.Equal([]float64{20, 10, 400}, after.Values)
	s.Equal(500.0, after.MaxY)

	// moving an expense out of the month refreshes both months
	s.Require().Equal(http.StatusSeeOther, s.do(http.MethodPost, "/editar/4", url.Values{
		"categoria": {"Food"}, "valor": {"100"}, "data": {"2025-04-02"},
	}).Code)
	s.Equal(330.0, s.analysisJSON("2025-03").Total)
	s.Equal(1000.0, s.analysisJSON("2025-04").Total)

	metricsBody := s.do(http.MethodGet, "/metrics", nil).Body.String()
	s.Contains(metricsBody, `gastos_analysis_cache_requests_total{result="hit"} 1`)
	s.Contains(metricsBody, `gastos_http_requests_total{method="GET",route="GET /api/analise",status="200"}`)
	s.Contains(metricsBody, `gastos_expense_writes_total{operation="create",status="success"} 1`)
}

func (s *ServerSuite) TestAnalysisPage() {
	rec := s.do(http.MethodGet, "/analisar?mes=2025-03", nil)

	s.Equal(http.StatusOK, rec.Code)
	body := rec.Body.String()
	s.Contains(body, "Gasto alto detectado em Food (R$100.00, acima da média de R$32.50)")
	s.Contains(body, `data-month="2025-03"`)
	s.Contains(body, `data-max-y="250.00"`)
	s.Contains(body, "/static/analysis.js")
}

func (s *ServerSuite) TestAnalysisPageWithoutAlerts() {
	rec := s.do(http.MethodGet, "/analisar?mes=2025-04", nil)
	s.Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), "Nenhum gasto acima da média")
}

func (s *ServerSuite) TestMonthsJSON() {
	rec := s.do(http.MethodGet, "/api/meses", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.JSONEq(`["2025-03","2025-04"]`, rec.Body.String())
}

func (s *ServerSuite) TestHealthAndReady() {
	for _, path := range []string{"/healthz", "/readyz"} {
		rec := s.do(http.MethodGet, path, nil)
		s.Equal(http.StatusOK, rec.Code, path)
	}
	s.Contains(s.do(http.MethodGet, "/readyz", nil).Body.String(), `"status":"ready"`)
}

func (s *ServerSuite) TestStaticAssets() {
	rec := s.do(http.MethodGet, "/static/analysis.js", nil)
	s.Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Header().Get("Cache-Control"), "max-age=3600")

	rec = s.do(http.MethodGet, "/static/app.css", nil)
	s.Equal(http.StatusOK, rec.Code)
}

func (s *ServerSuite) TestTraceMethodRejected() {
	rec := s.do("TRACE", "/", nil)
	s.Equal(http.StatusMethodNotAllowed, rec.Code)
}

func buildServer(t *testing.T, store ports.Store, m *metrics.Metrics, limiter *ratelimit.Limiter) *Server {
	t.Helper()
	logger := log.New(log.Config{Output: io.Discard})
	srv, err := NewServer(":0", Deps{
		Service:  services.NewExpenseService(store, services.WithMetrics(m), services.WithLogger(logger)),
		Analyzer: analysis.NewAnalyzer(store, logger.Logger),
		Metrics:  m,
		Limiter:  limiter,
		Logger:   logger,
		Now:      func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	return srv
}

func TestStoreFailuresAre500(t *testing.T) {
	boom := errors.New("disk I/O error")
	srv := buildServer(t, brokenStore{Store: memory.New(), err: boom}, nil, nil)

	for _, target := range []string{"/?mes=2025-03", "/analisar?mes=2025-03", "/api/analise?mes=2025-03", "/api/meses"} {
		rec := httptest.NewRecorder()
		srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))

		assert.Equal(t, http.StatusInternalServerError, rec.Code, target)
		assert.NotContains(t, rec.Body.String(), "disk I/O", target)
	}

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "not_ready")
}

func TestWritesAreRateLimited(t *testing.T) {
	limiter := ratelimit.NewLimiter(ratelimit.Config{RequestsPerSecond: 0.001, Burst: 1})
	m := metrics.New()
	srv := buildServer(t, memory.New(), m, limiter)

	post := func() *httptest.ResponseRecorder {
		form := url.Values{"categoria": {"Food"}, "valor": {"1"}, "data": {"2025-03-01"}}
		req := httptest.NewRequest(http.MethodPost, "/add", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		srv.Handler.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusSeeOther, post().Code)
	limited := post()
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.NotEmpty(t, limited.Header().Get("Retry-After"))

	// reads are never limited
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNewServerRequiresDependencies(t *testing.T) {
	_, err := NewServer(":0", Deps{})
	require.Error(t, err)
}

func TestShutdownIsIdempotent(t *testing.T) {
	srv := buildServer(t, memory.New(), nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, srv.Shutdown(ctx))
	require.NoError(t, srv.Shutdown(ctx))
}
