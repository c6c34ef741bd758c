package http

import (
	"errors"
	"html/template"
	"net/http"
	"strings"

	"gastos/internal/core"
	"gastos/internal/log"
)

var templateFuncs = template.FuncMap{
	"reais":    formatReais,
	"selector": newMonthSelector,
}

// monthSelector feeds the shared "month-selector" template.
type monthSelector struct {
	Action string
	Month  string
	Months []string
}

func newMonthSelector(action, month string, months []string) monthSelector {
	return monthSelector{Action: action, Month: month, Months: months}
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case core.IsValidationError(err), errors.Is(err, errInvalidID), errors.Is(err, errInvalidForm):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeError logs err and renders an HTML error fragment. Only client
// errors echo their message.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error, operation string) {
	status := s.logError(r, err, operation)
	msg := http.StatusText(status)
	switch status {
	case http.StatusBadRequest:
		msg = "Dados inválidos: " + err.Error()
	case http.StatusNotFound:
		msg = "Gasto não encontrado"
	case http.StatusInternalServerError:
		msg = "Erro ao processar a requisição"
	}
	writeHTMLError(w, status, msg)
}

// writeJSONError is writeError for the /api routes.
func (s *Server) writeJSONError(w http.ResponseWriter, r *http.Request, err error, operation string) {
	status := s.logError(r, err, operation)
	msg := http.StatusText(status)
	if status == http.StatusBadRequest {
		msg = err.Error()
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) logError(r *http.Request, err error, operation string) int {
	ctx := r.Context()
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.LogError(ctx, "Request failed", err, log.ComponentHTTP, operation,
			log.NewFields().WithHTTPRequest(r.Method, r.URL.Path, r.URL.RawQuery, "", ""))
		return status
	}
	log.FromContext(ctx).WarnContext(ctx, "Request rejected",
		log.FieldOperation, operation,
		log.FieldStatusCode, status,
		log.FieldError, err)
	return status
}

func writeHTMLError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`<div class="error">` + template.HTMLEscapeString(msg) + `</div>`))
}

// redirectToMonth sends the browser back to the list for month.
func redirectToMonth(w http.ResponseWriter, r *http.Request, month core.MonthKey) {
	http.Redirect(w, r, "/?mes="+month.String(), http.StatusSeeOther)
}

// formatReais formats an amount for display, e.g. "R$ 1234,56".
func formatReais(m core.Money) string {
	s := m.String()
	neg := strings.HasPrefix(s, "-")
	s = strings.Replace(strings.TrimPrefix(s, "-"), ".", ",", 1)
	if neg {
		return "-R$ " + s
	}
	return "R$ " + s
}

// sanitizeInput removes control characters except tab, newline and carriage
// return, then trims whitespace.
func sanitizeInput(s string) string {
	s = strings.Map(func(r rune) rune {
		if r < 32 && r != '\t' && r != '\n' && r != '\r' {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}
