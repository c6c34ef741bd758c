package http

import (
	"net/http"

	"gastos/internal/core"
	"gastos/internal/log"
	"gastos/internal/services"
)

type expenseRow struct {
	ID       int64
	Date     string
	Category string
	Amount   core.Money
}

type indexPage struct {
	Month    string
	Months   []string
	Today    string
	Expenses []expenseRow
	Total    core.Money
}

type editPage struct {
	ID       int64
	Category string
	Amount   string
	Date     string
	Month    string
}

// handleIndex lists the selected month's expenses next to the add form.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := s.now()
	month := parseMonth(r, now)

	expenses, total, err := s.service.ListMonth(ctx, month)
	if err != nil {
		s.writeError(w, r, err, log.OpList)
		return
	}
	months, err := s.service.Months(ctx)
	if err != nil {
		s.writeError(w, r, err, log.OpList)
		return
	}

	page := indexPage{
		Month:  month.String(),
		Months: monthOptions(months, month),
		Today:  core.Date{Time: now}.String(),
		Total:  total,
	}
	for _, e := range expenses {
		page.Expenses = append(page.Expenses, expenseRow{
			ID:       e.ID,
			Date:     e.Date.String(),
			Category: e.Category,
			Amount:   e.Amount,
		})
	}

	s.render(w, r, "index.html", page)
}

// handleCreateExpense stores a new expense and redirects to its month.
func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.writeError(w, r, errInvalidForm, log.OpParse)
		return
	}

	expense, err := ParseExpenseForm(r.PostForm).Expense()
	if err != nil {
		s.writeError(w, r, err, log.OpValidate)
		return
	}

	change, err := s.service.CreateExpense(r.Context(), expense)
	if err != nil {
		s.writeError(w, r, err, log.OpCreate)
		return
	}

	s.invalidate(r, change)
	redirectToMonth(w, r, change.Expense.Date.MonthKey())
}

// handleEditForm renders the edit form prefilled with the stored values.
func (s *Server) handleEditForm(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		s.writeError(w, r, err, log.OpRead)
		return
	}

	e, err := s.service.GetExpense(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err, log.OpRead)
		return
	}

	s.render(w, r, "edit.html", editPage{
		ID:       e.ID,
		Category: e.Category,
		Amount:   e.Amount.String(),
		Date:     e.Date.String(),
		Month:    e.Date.MonthKey().String(),
	})
}

// handleUpdateExpense overwrites the expense and redirects to its new month.
func (s *Server) handleUpdateExpense(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		s.writeError(w, r, err, log.OpUpdate)
		return
	}
	if err := r.ParseForm(); err != nil {
		s.writeError(w, r, errInvalidForm, log.OpParse)
		return
	}

	expense, err := ParseExpenseForm(r.PostForm).Expense()
	if err != nil {
		s.writeError(w, r, err, log.OpValidate)
		return
	}
	expense.ID = id

	change, err := s.service.UpdateExpense(r.Context(), expense)
	if err != nil {
		s.writeError(w, r, err, log.OpUpdate)
		return
	}

	s.invalidate(r, change)
	redirectToMonth(w, r, change.Expense.Date.MonthKey())
}

// handleDeleteExpense removes the expense and redirects to the month it was in.
func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		s.writeError(w, r, err, log.OpDelete)
		return
	}

	change, err := s.service.DeleteExpense(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err, log.OpDelete)
		return
	}

	s.invalidate(r, change)
	redirectToMonth(w, r, change.Expense.Date.MonthKey())
}

// invalidate drops cached reports for every month the write touched.
func (s *Server) invalidate(r *http.Request, change services.Change) {
	s.reports.Invalidate(change.Months...)

	months := make([]string, len(change.Months))
	for i, m := range change.Months {
		months[i] = m.String()
	}
	log.FromContext(r.Context()).DebugContext(r.Context(), "Analysis cache invalidated",
		log.FieldComponent, log.ComponentCache,
		log.FieldExpenseID, change.Expense.ID,
		"months", months)
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.templates.ExecuteTemplate(w, name, data); err != nil {
		log.LogError(r.Context(), "Template execution failed", err, log.ComponentTemplate, log.OpRender,
			log.NewFields().WithHTTPRequest(r.Method, r.URL.Path, "", "", ""))
		http.Error(w, "Erro ao renderizar a página", http.StatusInternalServerError)
	}
}

// monthOptions returns the selector entries: every month with data plus the
// selected one, ascending.
func monthOptions(months []core.MonthKey, selected core.MonthKey) []string {
	out := make([]string, 0, len(months)+1)
	inserted := false
	for _, m := range months {
		if !inserted && !m.Before(selected) {
			if m != selected {
				out = append(out, selected.String())
			}
			inserted = true
		}
		out = append(out, m.String())
	}
	if !inserted {
		out = append(out, selected.String())
	}
	return out
}
