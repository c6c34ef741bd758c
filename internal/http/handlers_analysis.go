package http

import (
	"context"
	"net/http"
	"time"

	"gastos/internal/analysis"
	"gastos/internal/core"
	"gastos/internal/log"
)

const (
	cacheHit  = "hit"
	cacheMiss = "miss"
)

// analysisResponse is the JSON body of /api/analise.
type analysisResponse struct {
	Month  string    `json:"mes"`
	Alerts []string  `json:"alertas"`
	Days   []string  `json:"dias"`
	Values []float64 `json:"valores"`
	MaxY   float64   `json:"max_y"`
	Total  float64   `json:"total"`
}

type analysisPage struct {
	Month  string
	Months []string
	Alerts []string
	Days   []string
	Values []core.Money
	MaxY   core.Money
	Total  core.Money
}

func newAnalysisResponse(report analysis.Report) analysisResponse {
	resp := analysisResponse{
		Month:  report.Month.String(),
		Alerts: report.AlertMessages(),
		Days:   make([]string, len(report.Days)),
		Values: make([]float64, len(report.Values)),
		MaxY:   report.ChartCeiling.Float(),
		Total:  report.Total.Float(),
	}
	copy(resp.Days, report.Days)
	for i, v := range report.Values {
		resp.Values[i] = v.Float()
	}
	return resp
}

// report returns the analysis for month, served from the cache when fresh.
func (s *Server) report(ctx context.Context, month core.MonthKey) (analysis.Report, error) {
	start := time.Now()
	report, hit, err := s.reports.Get(ctx, month, func(ctx context.Context) (analysis.Report, error) {
		return s.analyzer.Analyze(ctx, month)
	})
	if err != nil {
		return analysis.Report{}, err
	}

	result := cacheHit
	if !hit {
		result = cacheMiss
		s.metrics.ObserveAnalysis(time.Since(start))
	}
	s.metrics.AnalysisCache(result)

	log.FromContext(ctx).DebugContext(ctx, "Monthly analysis served",
		log.FieldMonth, month.String(),
		log.FieldComponent, log.ComponentCache,
		"cache", result,
		log.FieldAlerts, len(report.Alerts))
	return report, nil
}

// handleAnalysisPage renders the alerts and the daily chart for ?mes=.
func (s *Server) handleAnalysisPage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	month := parseMonth(r, s.now())

	report, err := s.report(ctx, month)
	if err != nil {
		s.writeError(w, r, err, log.OpAnalyze)
		return
	}
	months, err := s.service.Months(ctx)
	if err != nil {
		s.writeError(w, r, err, log.OpList)
		return
	}

	s.render(w, r, "analysis.html", analysisPage{
		Month:  month.String(),
		Months: monthOptions(months, month),
		Alerts: report.AlertMessages(),
		Days:   report.Days,
		Values: report.Values,
		MaxY:   report.ChartCeiling,
		Total:  report.Total,
	})
}

// handleAnalysisJSON serves the report consumed by the chart script.
func (s *Server) handleAnalysisJSON(w http.ResponseWriter, r *http.Request) {
	report, err := s.report(r.Context(), parseMonth(r, s.now()))
	if err != nil {
		s.writeJSONError(w, r, err, log.OpAnalyze)
		return
	}
	writeJSON(w, http.StatusOK, newAnalysisResponse(report))
}

// handleMonthsJSON lists every month that has at least one expense.
func (s *Server) handleMonthsJSON(w http.ResponseWriter, r *http.Request) {
	months, err := s.service.Months(r.Context())
	if err != nil {
		s.writeJSONError(w, r, err, log.OpList)
		return
	}

	out := make([]string, len(months))
	for i, m := range months {
		out[i] = m.String()
	}
	writeJSON(w, http.StatusOK, out)
}
