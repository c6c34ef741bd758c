package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DateLayout is the wire format of dates in forms and in storage.
const DateLayout = "2006-01-02"

// MonthKeyLayout is the textual form of a month key.
const MonthKeyLayout = "2006-01"

// MaxCategoryLength mirrors the width of the category column.
const MaxCategoryLength = 100

type (
	Date struct {
		time.Time
	}

	Money struct {
		Cents int64
	}

	// MonthKey identifies a calendar month (YYYY-MM).
	MonthKey struct {
		Year  int
		Month time.Month
	}

	Expense struct {
		ID       int64 // Assigned by the store on creation
		Category string
		Amount   Money
		Date     Date
	}
)

var (
	ErrInvalidDate     = errors.New("invalid date")
	ErrInvalidMonth    = errors.New("invalid month key")
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrEmptyCategory   = errors.New("empty category")
	ErrCategoryTooLong = fmt.Errorf("category too long (max %d characters)", MaxCategoryLength)
	ErrNotFound        = errors.New("expense not found")
)

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return Date{Time: t}, nil
}

func (d Date) Validate() error {
	if d.IsZero() {
		return ErrInvalidDate
	}
	return nil
}

// String formats the date as YYYY-MM-DD.
func (d Date) String() string {
	return d.Format(DateLayout)
}

// MonthKey returns the month the date falls in.
func (d Date) MonthKey() MonthKey {
	return MonthKey{Year: d.Year(), Month: d.Month()}
}

// MonthOf returns the month key for t.
func MonthOf(t time.Time) MonthKey {
	return MonthKey{Year: t.Year(), Month: t.Month()}
}

// ParseMonthKey parses a strict, zero-padded YYYY-MM string.
func ParseMonthKey(s string) (MonthKey, error) {
	s = strings.TrimSpace(s)
	if len(s) != len(MonthKeyLayout) {
		return MonthKey{}, fmt.Errorf("%w: %q", ErrInvalidMonth, s)
	}
	t, err := time.Parse(MonthKeyLayout, s)
	if err != nil {
		return MonthKey{}, fmt.Errorf("%w: %q", ErrInvalidMonth, s)
	}
	return MonthOf(t), nil
}

func (m MonthKey) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month))
}

func (m MonthKey) IsZero() bool {
	return m.Year == 0 && m.Month == 0
}

// Start returns the first day of the month.
func (m MonthKey) Start() Date {
	return NewDate(m.Year, int(m.Month), 1)
}

// End returns the first day of the following month (exclusive bound).
func (m MonthKey) End() Date {
	return Date{Time: m.Start().AddDate(0, 1, 0)}
}

// Contains reports whether d falls within the month.
func (m MonthKey) Contains(d Date) bool {
	return d.Year() == m.Year && d.Month() == m.Month
}

// Before reports whether m is chronologically before o.
func (m MonthKey) Before(o MonthKey) bool {
	if m.Year != o.Year {
		return m.Year < o.Year
	}
	return m.Month < o.Month
}

// MaxAmountCents is the largest single expense accepted, R$ 10.000.000.000,00.
const MaxAmountCents = 1_000_000_000_000

func (m Money) Validate() error {
	if m.Cents <= 0 || m.Cents > MaxAmountCents {
		return ErrInvalidAmount
	}
	return nil
}

// Validate checks the fields required on create and update.
func (e Expense) Validate() error {
	category := strings.TrimSpace(e.Category)
	if category == "" {
		return ErrEmptyCategory
	}
	if len([]rune(category)) > MaxCategoryLength {
		return ErrCategoryTooLong
	}
	if err := e.Amount.Validate(); err != nil {
		return err
	}
	if err := e.Date.Validate(); err != nil {
		return err
	}
	return nil
}

// IsValidationError reports whether err stems from bad user input.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidDate) ||
		errors.Is(err, ErrInvalidMonth) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrEmptyCategory) ||
		errors.Is(err, ErrCategoryTooLong)
}
