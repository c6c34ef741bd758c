package ports

import (
	"context"

	"gastos/internal/core"
)

// Ports for the record store.
type (
	// ExpenseReader answers the query shapes needed by the list and analysis pages.
	ExpenseReader interface {
		// GetExpense returns core.ErrNotFound when id does not exist.
		GetExpense(ctx context.Context, id int64) (core.Expense, error)
		// ListByMonth returns the month's expenses ordered by date, then id.
		ListByMonth(ctx context.Context, month core.MonthKey) ([]core.Expense, error)
		// ListByCategory returns every stored expense in category, ordered by date, then id.
		ListByCategory(ctx context.Context, category string) ([]core.Expense, error)
		// ListDates returns the date of every stored expense.
		ListDates(ctx context.Context) ([]core.Date, error)
	}

	// ExpenseWriter performs single-record writes.
	ExpenseWriter interface {
		CreateExpense(ctx context.Context, e core.Expense) (core.Expense, error)
		// UpdateExpense overwrites every field of the record with e.ID.
		UpdateExpense(ctx context.Context, e core.Expense) (core.Expense, error)
		// DeleteExpense removes the record and returns it as it was.
		DeleteExpense(ctx context.Context, id int64) (core.Expense, error)
	}

	Store interface {
		ExpenseReader
		ExpenseWriter
		Ping(ctx context.Context) error
		Close() error
	}
)
