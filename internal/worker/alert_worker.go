package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gastos/internal/amqp"
	"gastos/internal/analysis"
	"gastos/internal/core"
	"gastos/internal/log"
	"gastos/internal/metrics"
)

// MonthAnalyzer produces the report for one month
type MonthAnalyzer interface {
	Analyze(ctx context.Context, month core.MonthKey) (analysis.Report, error)
}

// AlertWorker re-runs the monthly analysis for every month an expense event
// touched and logs alerts it has not reported before.
type AlertWorker struct {
	analyzer MonthAnalyzer
	metrics  *metrics.Metrics
	logger   *log.Logger
	now      func() time.Time

	mu       sync.Mutex
	reported map[core.MonthKey]map[int64]bool
}

func NewAlertWorker(analyzer MonthAnalyzer, m *metrics.Metrics, logger *log.Logger) *AlertWorker {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &AlertWorker{
		analyzer: analyzer,
		metrics:  m,
		logger:   logger.WithComponent(log.ComponentWorker),
		now:      time.Now,
		reported: make(map[core.MonthKey]map[int64]bool),
	}
}

// HandleEvent processes a single expense event from AMQP
func (w *AlertWorker) HandleEvent(ctx context.Context, msg *amqp.ExpenseEventMessage) error {
	months, err := msg.MonthKeys()
	if err != nil {
		w.metrics.EventConsumed(string(msg.Type), err)
		return fmt.Errorf("event %d: %w", msg.ID, err)
	}

	w.logger.InfoContext(ctx, "Processing expense event",
		log.FieldExpenseID, msg.ID,
		"type", msg.Type,
		"months", msg.Months)

	for _, month := range months {
		if _, err := w.CheckMonth(ctx, month); err != nil {
			w.logger.Fields(ctx, slog.LevelError, "Month check failed", log.NewFields().
				WithMonth(month.String()).
				WithOperation(log.OpAnalyze).
				WithError(err))
			w.metrics.EventConsumed(string(msg.Type), err)
			return err
		}
	}

	w.metrics.EventConsumed(string(msg.Type), nil)
	return nil
}

// CheckMonth analyzes month and returns the alerts not reported before.
// Alerts whose expense no longer qualifies are forgotten, so they are
// reported again if they qualify later.
func (w *AlertWorker) CheckMonth(ctx context.Context, month core.MonthKey) ([]analysis.Alert, error) {
	start := w.now()
	report, err := w.analyzer.Analyze(ctx, month)
	if err != nil {
		return nil, fmt.Errorf("analyze %s: %w", month, err)
	}
	w.metrics.ObserveAnalysis(w.now().Sub(start))

	fresh := w.diff(month, report.Alerts)
	for _, alert := range fresh {
		w.logger.WarnContext(ctx, alert.String(),
			log.FieldMonth, month.String(),
			log.FieldExpenseID, alert.ExpenseID,
			log.FieldCategory, alert.Category,
			log.FieldAmountCents, alert.Amount.Cents)
	}
	w.metrics.AlertsDetected(len(fresh))

	w.logger.DebugContext(ctx, "Month checked",
		log.FieldMonth, month.String(),
		log.FieldAlerts, len(report.Alerts),
		"new_alerts", len(fresh),
		"total_cents", report.Total.Cents)

	return fresh, nil
}

func (w *AlertWorker) diff(month core.MonthKey, alerts []analysis.Alert) []analysis.Alert {
	w.mu.Lock()
	defer w.mu.Unlock()

	previous := w.reported[month]
	current := make(map[int64]bool, len(alerts))
	var fresh []analysis.Alert
	for _, alert := range alerts {
		current[alert.ExpenseID] = true
		if !previous[alert.ExpenseID] {
			fresh = append(fresh, alert)
		}
	}
	if len(current) == 0 {
		delete(w.reported, month)
	} else {
		w.reported[month] = current
	}
	return fresh
}

// StartupCheck analyzes the current month so alerts raised while the
// worker was down are reported.
func (w *AlertWorker) StartupCheck(ctx context.Context) error {
	month := core.MonthOf(w.now())
	alerts, err := w.CheckMonth(ctx, month)
	if err != nil {
		return err
	}
	w.logger.InfoContext(ctx, "Startup alert check complete",
		log.FieldMonth, month.String(),
		log.FieldAlerts, len(alerts))
	return nil
}
