package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gastos/internal/core"

	_ "modernc.org/sqlite"
)

const (
	createExpenseSQL = `INSERT INTO expenses (category, amount_cents, date)
VALUES (?, ?, ?)
RETURNING id, category, amount_cents, date`

	updateExpenseSQL = `UPDATE expenses
SET category = ?, amount_cents = ?, date = ?, updated_at = CURRENT_TIMESTAMP
WHERE id = ?
RETURNING id, category, amount_cents, date`

	deleteExpenseSQL = `DELETE FROM expenses WHERE id = ?
RETURNING id, category, amount_cents, date`

	getExpenseSQL = `SELECT id, category, amount_cents, date FROM expenses WHERE id = ?`

	listByMonthSQL = `SELECT id, category, amount_cents, date FROM expenses
WHERE date >= ? AND date < ?
ORDER BY date, id`

	listByCategorySQL = `SELECT id, category, amount_cents, date FROM expenses
WHERE category = ?
ORDER BY date, id`

	listDatesSQL = `SELECT date FROM expenses`
)

// SQLiteRepository is the persistent record store.
type SQLiteRepository struct {
	db *sql.DB
}

// DSN appends the pragmas every connection needs.
func DSN(dbPath string) string {
	return "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", DSN(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One writer at a time
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(DSN(dbPath)); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return NewSQLiteRepositoryFromDB(db), nil
}

// NewSQLiteRepositoryFromDB wraps an already opened and migrated handle.
func NewSQLiteRepositoryFromDB(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteRepository) CreateExpense(ctx context.Context, e core.Expense) (core.Expense, error) {
	row := r.db.QueryRowContext(ctx, createExpenseSQL, e.Category, e.Amount.Cents, e.Date.String())
	saved, err := scanExpense(row)
	if err != nil {
		return core.Expense{}, fmt.Errorf("create expense: %w", err)
	}

	slog.DebugContext(ctx, "Expense saved to SQLite",
		"id", saved.ID,
		"category", saved.Category,
		"amount_cents", saved.Amount.Cents,
		"date", saved.Date.String())

	return saved, nil
}

func (r *SQLiteRepository) UpdateExpense(ctx context.Context, e core.Expense) (core.Expense, error) {
	row := r.db.QueryRowContext(ctx, updateExpenseSQL, e.Category, e.Amount.Cents, e.Date.String(), e.ID)
	saved, err := scanExpense(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Expense{}, fmt.Errorf("update expense %d: %w", e.ID, core.ErrNotFound)
	}
	if err != nil {
		return core.Expense{}, fmt.Errorf("update expense %d: %w", e.ID, err)
	}
	return saved, nil
}

func (r *SQLiteRepository) DeleteExpense(ctx context.Context, id int64) (core.Expense, error) {
	row := r.db.QueryRowContext(ctx, deleteExpenseSQL, id)
	deleted, err := scanExpense(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Expense{}, fmt.Errorf("delete expense %d: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Expense{}, fmt.Errorf("delete expense %d: %w", id, err)
	}
	return deleted, nil
}

func (r *SQLiteRepository) GetExpense(ctx context.Context, id int64) (core.Expense, error) {
	row := r.db.QueryRowContext(ctx, getExpenseSQL, id)
	e, err := scanExpense(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Expense{}, fmt.Errorf("get expense %d: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Expense{}, fmt.Errorf("get expense %d: %w", id, err)
	}
	return e, nil
}

func (r *SQLiteRepository) ListByMonth(ctx context.Context, month core.MonthKey) ([]core.Expense, error) {
	rows, err := r.db.QueryContext(ctx, listByMonthSQL, month.Start().String(), month.End().String())
	if err != nil {
		return nil, fmt.Errorf("list expenses for %s: %w", month, err)
	}
	return collectExpenses(rows)
}

func (r *SQLiteRepository) ListByCategory(ctx context.Context, category string) ([]core.Expense, error) {
	rows, err := r.db.QueryContext(ctx, listByCategorySQL, category)
	if err != nil {
		return nil, fmt.Errorf("list expenses for category %q: %w", category, err)
	}
	return collectExpenses(rows)
}

func (r *SQLiteRepository) ListDates(ctx context.Context) ([]core.Date, error) {
	rows, err := r.db.QueryContext(ctx, listDatesSQL)
	if err != nil {
		return nil, fmt.Errorf("list expense dates: %w", err)
	}
	defer rows.Close()

	var dates []core.Date
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan expense date: %w", err)
		}
		d, err := core.ParseDate(raw)
		if err != nil {
			return nil, fmt.Errorf("stored date: %w", err)
		}
		dates = append(dates, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expense dates: %w", err)
	}
	return dates, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExpense(row rowScanner) (core.Expense, error) {
	var (
		e    core.Expense
		date string
	)
	if err := row.Scan(&e.ID, &e.Category, &e.Amount.Cents, &date); err != nil {
		return core.Expense{}, err
	}
	d, err := core.ParseDate(date)
	if err != nil {
		return core.Expense{}, fmt.Errorf("stored date: %w", err)
	}
	e.Date = d
	return e, nil
}

func collectExpenses(rows *sql.Rows) ([]core.Expense, error) {
	defer rows.Close()

	var out []core.Expense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expense: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expenses: %w", err)
	}
	return out, nil
}
