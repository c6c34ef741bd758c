package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"gastos/internal/core"
)

// Store keeps expenses in process memory. Used for tests and DATA_BACKEND=memory.
type Store struct {
	mu     sync.Mutex
	nextID int64
	items  []core.Expense
}

func New() *Store {
	return &Store{nextID: 1}
}

// NewWithExpenses seeds the store; IDs are reassigned in order.
func NewWithExpenses(seed ...core.Expense) *Store {
	s := New()
	for _, e := range seed {
		e.ID = s.nextID
		s.nextID++
		s.items = append(s.items, e)
	}
	return s
}

func (s *Store) CreateExpense(_ context.Context, e core.Expense) (core.Expense, error) {
	if err := e.Validate(); err != nil {
		return core.Expense{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e.ID = s.nextID
	s.nextID++
	s.items = append(s.items, e)
	return e, nil
}

func (s *Store) UpdateExpense(_ context.Context, e core.Expense) (core.Expense, error) {
	if err := e.Validate(); err != nil {
		return core.Expense{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(e.ID)
	if i < 0 {
		return core.Expense{}, fmt.Errorf("update expense %d: %w", e.ID, core.ErrNotFound)
	}
	s.items[i] = e
	return e, nil
}

func (s *Store) DeleteExpense(_ context.Context, id int64) (core.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return core.Expense{}, fmt.Errorf("delete expense %d: %w", id, core.ErrNotFound)
	}
	deleted := s.items[i]
	s.items = append(s.items[:i], s.items[i+1:]...)
	return deleted, nil
}

func (s *Store) GetExpense(_ context.Context, id int64) (core.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return core.Expense{}, fmt.Errorf("get expense %d: %w", id, core.ErrNotFound)
	}
	return s.items[i], nil
}

func (s *Store) ListByMonth(_ context.Context, month core.MonthKey) ([]core.Expense, error) {
	return s.filter(func(e core.Expense) bool { return month.Contains(e.Date) }), nil
}

func (s *Store) ListByCategory(_ context.Context, category string) ([]core.Expense, error) {
	return s.filter(func(e core.Expense) bool { return e.Category == category }), nil
}

func (s *Store) ListDates(_ context.Context) ([]core.Date, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dates := make([]core.Date, len(s.items))
	for i, e := range s.items {
		dates[i] = e.Date
	}
	return dates, nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

// Len returns the number of stored expenses.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *Store) indexOf(id int64) int {
	for i, e := range s.items {
		if e.ID == id {
			return i
		}
	}
	return -1
}

// filter returns matches ordered by date, then id, like the SQLite store.
func (s *Store) filter(keep func(core.Expense) bool) []core.Expense {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Expense
	for _, e := range s.items {
		if keep(e) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date.Time) {
			return out[i].Date.Before(out[j].Date.Time)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
