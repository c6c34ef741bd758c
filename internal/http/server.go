package http

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"gastos/internal/analysis"
	"gastos/internal/cache"
	"gastos/internal/core"
	"gastos/internal/log"
	"gastos/internal/metrics"
	"gastos/internal/middleware/ratelimit"
	"gastos/internal/middleware/security"
	"gastos/internal/middleware/trace"
	"gastos/internal/services"
	appweb "gastos/web"
)

const (
	defaultReportCacheSize = 100
	defaultReportCacheTTL  = 5 * time.Minute
	readyTimeout           = 5 * time.Second
	staticMaxAge           = 3600
)

// Deps groups what the server needs. Service and Analyzer are required.
type Deps struct {
	Service  *services.ExpenseService
	Analyzer *analysis.Analyzer
	// Reports caches analysis results per month; a private one is built when nil.
	Reports  *cache.Loader[core.MonthKey, analysis.Report]
	Metrics  *metrics.Metrics
	Limiter  *ratelimit.Limiter
	Detector *security.Detector
	Logger   *log.Logger
	Now      func() time.Time
}

type Server struct {
	http.Server
	templates *template.Template
	service   *services.ExpenseService
	analyzer  *analysis.Analyzer
	reports   *cache.Loader[core.MonthKey, analysis.Report]
	metrics   *metrics.Metrics
	logger    *log.Logger
	now       func() time.Time
	started   time.Time

	shutdownOnce sync.Once
}

// NewServer configures routes, middleware and templates, returning a
// ready-to-run http.Server.
func NewServer(addr string, deps Deps) (*Server, error) {
	if deps.Service == nil || deps.Analyzer == nil {
		return nil, fmt.Errorf("http server: service and analyzer are required")
	}
	if deps.Logger == nil {
		deps.Logger = log.New(log.DefaultConfig())
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Reports == nil {
		deps.Reports = cache.NewLoader(cache.NewLRUCache[core.MonthKey, analysis.Report](defaultReportCacheSize, defaultReportCacheTTL))
	}
	if deps.Detector == nil {
		deps.Detector = security.NewDetector()
	}

	t, err := template.New("").Funcs(templateFuncs).ParseFS(appweb.TemplatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	s := &Server{
		templates: t,
		service:   deps.Service,
		analyzer:  deps.Analyzer,
		reports:   deps.Reports,
		metrics:   deps.Metrics,
		logger:    deps.Logger.WithComponent(log.ComponentHTTP),
		now:       deps.Now,
		started:   deps.Now(),
	}

	mux := http.NewServeMux()

	static, err := fs.Sub(appweb.StaticFS, "static")
	if err != nil {
		return nil, fmt.Errorf("mount static assets: %w", err)
	}
	mux.Handle("GET /static/", security.StaticAssetMiddleware(staticMaxAge)(
		http.StripPrefix("/static/", http.FileServerFS(static))))

	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("POST /add", s.handleCreateExpense)
	mux.HandleFunc("GET /editar/{id}", s.handleEditForm)
	mux.HandleFunc("POST /editar/{id}", s.handleUpdateExpense)
	mux.HandleFunc("GET /excluir/{id}", s.handleDeleteExpense)
	mux.HandleFunc("POST /excluir/{id}", s.handleDeleteExpense)
	mux.HandleFunc("GET /analisar", s.handleAnalysisPage)
	mux.HandleFunc("GET /api/analise", s.handleAnalysisJSON)
	mux.HandleFunc("GET /api/meses", s.handleMonthsJSON)

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.Handle("GET /metrics", deps.Metrics.Handler())

	// Outermost first: trace sees every response, including rejections
	var handler http.Handler = mux
	if deps.Limiter != nil {
		handler = deps.Limiter.Middleware(deps.Detector.ExtractClientIP, s.rateLimited, http.MethodPost)(handler)
	}
	handler = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(handler)
	handler = deps.Detector.Middleware(handler)
	handler = trace.NewMiddleware(deps.Detector.ExtractClientIP, deps.Metrics, deps.Logger).Middleware(handler)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s, nil
}

// Shutdown drains in-flight requests. Safe to call more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.logger.InfoContext(ctx, "Shutting down HTTP server", log.FieldOperation, log.OpShutdown)
		err = s.Server.Shutdown(ctx)
	})
	return err
}

func (s *Server) rateLimited(w http.ResponseWriter, r *http.Request) {
	s.metrics.RateLimited()
	log.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded",
		log.NewFields().
			WithComponent(log.ComponentRateLimit).
			WithHTTPRequest(r.Method, r.URL.Path, "", "", "").ToSlice()...)
	writeHTMLError(w, http.StatusTooManyRequests, "Muitas requisições. Tente novamente em instantes.")
}

// handleHealth performs basic liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": s.now().Format(time.RFC3339),
		"uptime":    s.now().Sub(s.started).Round(time.Second).String(),
	})
}

// handleReady verifies the record store answers
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	status := "ready"
	code := http.StatusOK
	checks := map[string]string{"templates": "ok", "store": "ok"}

	if err := s.service.Ping(ctx); err != nil {
		checks["store"] = "failed: " + err.Error()
		status = "not_ready"
		code = http.StatusServiceUnavailable
		log.FromContext(ctx).WarnContext(ctx, "Readiness check failed", log.FieldError, err)
	}

	writeJSON(w, code, map[string]any{
		"status": status,
		"checks": checks,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
