package analysis

import (
	"context"
	"fmt"
	"log/slog"

	"gastos/internal/core"
	"gastos/internal/ports"
)

// Analyzer builds monthly reports from a record store.
type Analyzer struct {
	store  ports.ExpenseReader
	logger *slog.Logger
}

func NewAnalyzer(store ports.ExpenseReader, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{store: store, logger: logger}
}

// Analyze computes the report for month. Averages come from the month's
// expenses only while alert candidates come from each category's full
// history, intersected back with the month.
func (a *Analyzer) Analyze(ctx context.Context, month core.MonthKey) (Report, error) {
	selected, err := a.store.ListByMonth(ctx, month)
	if err != nil {
		return Report{}, fmt.Errorf("analyze %s: %w", month, err)
	}

	report := Report{Month: month}
	if len(selected) == 0 {
		return report, nil
	}

	members := make(map[int64]struct{}, len(selected))
	for _, e := range selected {
		members[e.ID] = struct{}{}
		report.Total = report.Total.Add(e.Amount)
	}

	for _, stat := range CategoryAverages(selected) {
		history, err := a.store.ListByCategory(ctx, stat.Category)
		if err != nil {
			return Report{}, fmt.Errorf("analyze %s: category %q: %w", month, stat.Category, err)
		}
		report.Alerts = append(report.Alerts, DetectAlerts(stat, history, members)...)
	}

	report.Days, report.Values = DailySeries(selected)
	report.ChartCeiling = ChartCeiling(report.Values)

	a.logger.DebugContext(ctx, "Monthly analysis computed",
		"month", month.String(),
		"expenses", len(selected),
		"alerts", len(report.Alerts),
		"total_cents", report.Total.Cents)

	return report, nil
}

// Months lists every month that has at least one stored expense.
func (a *Analyzer) Months(ctx context.Context) ([]core.MonthKey, error) {
	dates, err := a.store.ListDates(ctx)
	if err != nil {
		return nil, fmt.Errorf("list months: %w", err)
	}
	return MonthIndex(dates), nil
}

// AlertMessages renders the alerts as display strings.
func (r Report) AlertMessages() []string {
	out := make([]string, len(r.Alerts))
	for i, alert := range r.Alerts {
		out[i] = alert.String()
	}
	return out
}
