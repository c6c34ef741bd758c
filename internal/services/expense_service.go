package services

import (
	"context"
	"fmt"
	"io"
	"strings"

	"gastos/internal/amqp"
	"gastos/internal/analysis"
	"gastos/internal/core"
	"gastos/internal/log"
	"gastos/internal/metrics"
	"gastos/internal/ports"
)

// EventPublisher delivers change events to the worker
type EventPublisher interface {
	PublishExpenseEvent(ctx context.Context, msg *amqp.ExpenseEventMessage) error
}

// circuitReporter is implemented by publishers with a circuit breaker
type circuitReporter interface {
	State() int32
}

// Change describes a committed write and the months it touched
type Change struct {
	Expense core.Expense
	Months  []core.MonthKey
}

// ExpenseService orchestrates expense writes across the store and AMQP
type ExpenseService struct {
	store     ports.Store
	publisher EventPublisher
	metrics   *metrics.Metrics
	logger    *log.Logger
}

type Option func(*ExpenseService)

// WithPublisher enables change events
func WithPublisher(p EventPublisher) Option {
	return func(s *ExpenseService) { s.publisher = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *ExpenseService) { s.metrics = m }
}

func WithLogger(l *log.Logger) Option {
	return func(s *ExpenseService) { s.logger = l }
}

func NewExpenseService(store ports.Store, opts ...Option) *ExpenseService {
	s := &ExpenseService{store: store}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.New(log.DefaultConfig())
	}
	s.logger = s.logger.WithComponent(log.ComponentExpense)
	return s
}

// CreateExpense validates and stores a new expense
func (s *ExpenseService) CreateExpense(ctx context.Context, e core.Expense) (Change, error) {
	e.ID = 0
	e.Category = strings.TrimSpace(e.Category)
	if err := e.Validate(); err != nil {
		return Change{}, err
	}

	saved, err := s.store.CreateExpense(ctx, e)
	s.metrics.ExpenseWrite(log.OpCreate, err)
	if err != nil {
		return Change{}, fmt.Errorf("save expense: %w", err)
	}

	s.logger.InfoContext(ctx, "Expense created", log.NewFields().
		WithExpense(saved.ID, saved.Category, saved.Amount.Cents, saved.Date.String()).
		WithOperation(log.OpCreate).ToSlice()...)

	change := Change{Expense: saved, Months: []core.MonthKey{saved.Date.MonthKey()}}
	s.publish(ctx, amqp.EventCreated, change)
	return change, nil
}

// UpdateExpense overwrites the expense with e.ID. The change carries both
// the previous and the new month when the date moved.
func (s *ExpenseService) UpdateExpense(ctx context.Context, e core.Expense) (Change, error) {
	e.Category = strings.TrimSpace(e.Category)
	if err := e.Validate(); err != nil {
		return Change{}, err
	}

	previous, err := s.store.GetExpense(ctx, e.ID)
	if err != nil {
		return Change{}, fmt.Errorf("load expense: %w", err)
	}

	saved, err := s.store.UpdateExpense(ctx, e)
	s.metrics.ExpenseWrite(log.OpUpdate, err)
	if err != nil {
		return Change{}, fmt.Errorf("update expense: %w", err)
	}

	s.logger.InfoContext(ctx, "Expense updated", log.NewFields().
		WithExpense(saved.ID, saved.Category, saved.Amount.Cents, saved.Date.String()).
		WithOperation(log.OpUpdate).ToSlice()...)

	months := []core.MonthKey{previous.Date.MonthKey()}
	if next := saved.Date.MonthKey(); next != months[0] {
		months = append(months, next)
	}
	change := Change{Expense: saved, Months: months}
	s.publish(ctx, amqp.EventUpdated, change)
	return change, nil
}

// DeleteExpense hard deletes the expense and returns it as it was
func (s *ExpenseService) DeleteExpense(ctx context.Context, id int64) (Change, error) {
	deleted, err := s.store.DeleteExpense(ctx, id)
	s.metrics.ExpenseWrite(log.OpDelete, err)
	if err != nil {
		return Change{}, fmt.Errorf("delete expense: %w", err)
	}

	s.logger.InfoContext(ctx, "Expense deleted", log.NewFields().
		WithExpense(deleted.ID, deleted.Category, deleted.Amount.Cents, deleted.Date.String()).
		WithOperation(log.OpDelete).ToSlice()...)

	change := Change{Expense: deleted, Months: []core.MonthKey{deleted.Date.MonthKey()}}
	s.publish(ctx, amqp.EventDeleted, change)
	return change, nil
}

func (s *ExpenseService) GetExpense(ctx context.Context, id int64) (core.Expense, error) {
	return s.store.GetExpense(ctx, id)
}

// ListMonth returns the month's expenses and their total
func (s *ExpenseService) ListMonth(ctx context.Context, month core.MonthKey) ([]core.Expense, core.Money, error) {
	expenses, err := s.store.ListByMonth(ctx, month)
	if err != nil {
		return nil, core.Money{}, fmt.Errorf("list month %s: %w", month, err)
	}
	var total core.Money
	for _, e := range expenses {
		total = total.Add(e.Amount)
	}
	return expenses, total, nil
}

// Months lists every month holding at least one expense, ascending
func (s *ExpenseService) Months(ctx context.Context) ([]core.MonthKey, error) {
	dates, err := s.store.ListDates(ctx)
	if err != nil {
		return nil, fmt.Errorf("list months: %w", err)
	}
	return analysis.MonthIndex(dates), nil
}

// Ping checks the store
func (s *ExpenseService) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// publish never fails the write; the record is already committed.
func (s *ExpenseService) publish(ctx context.Context, eventType amqp.EventType, change Change) {
	if s.publisher == nil {
		return
	}

	msg := amqp.NewExpenseEventMessage(eventType, change.Expense.ID, change.Months...)
	err := s.publisher.PublishExpenseEvent(ctx, msg)
	s.metrics.EventPublished(string(eventType), err)
	if cr, ok := s.publisher.(circuitReporter); ok {
		s.metrics.SetCircuitState(cr.State())
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish expense event",
			log.FieldExpenseID, change.Expense.ID,
			"type", eventType,
			log.FieldError, err)
	}
}

// Close releases the publisher. The store is owned by the caller.
func (s *ExpenseService) Close() error {
	if c, ok := s.publisher.(io.Closer); ok {
		if err := c.Close(); err != nil {
			return fmt.Errorf("close publisher: %w", err)
		}
	}
	return nil
}
