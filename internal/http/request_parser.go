// Package http provides HTTP server and handler implementations.
//
// This file turns form values, path segments and query strings into domain
// values. Field rules are declared on ExpenseForm and checked with
// go-playground/validator; failures map onto the core validation errors so
// a single classification serves forms, the service and the store.

package http

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"gastos/internal/core"
	"gastos/internal/log"
)

var (
	errInvalidID   = errors.New("invalid expense id")
	errInvalidForm = errors.New("invalid form")
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ExpenseForm is the add/edit form as posted by the browser.
type ExpenseForm struct {
	Category string `form:"categoria" validate:"required,max=100"`
	Amount   string `form:"valor" validate:"required"`
	Date     string `form:"data" validate:"required,datetime=2006-01-02"`
}

// fieldErrors translates a failed rule to the matching domain error.
var fieldErrors = map[string]map[string]error{
	"Category": {"required": core.ErrEmptyCategory, "max": core.ErrCategoryTooLong},
	"Amount":   {"required": core.ErrInvalidAmount},
	"Date":     {"required": core.ErrInvalidDate, "datetime": core.ErrInvalidDate},
}

// ParseExpenseForm reads the posted form fields.
func ParseExpenseForm(form url.Values) ExpenseForm {
	return ExpenseForm{
		Category: sanitizeInput(form.Get("categoria")),
		Amount:   strings.TrimSpace(form.Get("valor")),
		Date:     strings.TrimSpace(form.Get("data")),
	}
}

// Validate checks the declared field rules.
func (f ExpenseForm) Validate() error {
	err := validate.Struct(f)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", errInvalidForm, err)
	}
	for _, fe := range verrs {
		if mapped, ok := fieldErrors[fe.Field()][fe.Tag()]; ok {
			return fmt.Errorf("%s: %w", fe.Field(), mapped)
		}
	}
	return fmt.Errorf("%w: %s", errInvalidForm, verrs.Error())
}

// Expense validates the form and converts it to a domain expense.
func (f ExpenseForm) Expense() (core.Expense, error) {
	if err := f.Validate(); err != nil {
		return core.Expense{}, err
	}
	amount, err := core.ParseAmount(f.Amount)
	if err != nil {
		return core.Expense{}, fmt.Errorf("valor %q: %w", f.Amount, err)
	}
	date, err := core.ParseDate(f.Date)
	if err != nil {
		return core.Expense{}, err
	}
	return core.Expense{Category: f.Category, Amount: amount, Date: date}, nil
}

// parseID reads the {id} path segment.
func parseID(r *http.Request) (int64, error) {
	raw := r.PathValue("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %q", errInvalidID, raw)
	}
	return id, nil
}

// parseMonth reads ?mes=YYYY-MM. Missing or malformed values fall back to
// the month of now.
func parseMonth(r *http.Request, now time.Time) core.MonthKey {
	current := core.MonthOf(now)
	raw := strings.TrimSpace(r.URL.Query().Get("mes"))
	if raw == "" {
		return current
	}
	month, err := core.ParseMonthKey(raw)
	if err != nil {
		log.FromContext(r.Context()).WarnContext(r.Context(), "Invalid month parameter",
			"mes", raw,
			"corrected_to", current.String(),
			log.FieldError, err)
		return current
	}
	return month
}
