// Package analysis computes the monthly spending report: per-category
// averages, above-average alerts and the day-bucketed series that feeds the
// chart.
package analysis

import (
	"fmt"
	"slices"

	"github.com/shopspring/decimal"

	"gastos/internal/core"
)

// ceilingStep is the chart ceiling granularity, 250 currency units.
const ceilingStep = 250 * 100

type (
	// Alert flags one expense whose amount exceeds 1.5 times its
	// category's month average.
	Alert struct {
		ExpenseID int64
		Category  string
		Amount    core.Money
		Average   decimal.Decimal
	}

	// CategoryStat is the month-scoped sum and count for one category.
	CategoryStat struct {
		Category string
		Sum      core.Money
		Count    int64
	}

	// Report is the analyzer output for one month.
	Report struct {
		Month        core.MonthKey
		Alerts       []Alert
		Days         []string
		Values       []core.Money
		ChartCeiling core.Money
		Total        core.Money
	}
)

// String renders the alert. The average is rounded as a float64, so exact
// halves such as 0.125 round to even.
func (a Alert) String() string {
	return fmt.Sprintf("Gasto alto detectado em %s (R$%s, acima da média de R$%.2f)",
		a.Category, a.Amount.String(), a.Average.InexactFloat64())
}

// Average returns the mean amount in currency units.
func (s CategoryStat) Average() decimal.Decimal {
	if s.Count == 0 {
		return decimal.Zero
	}
	return s.Sum.Decimal().Div(decimal.NewFromInt(s.Count))
}

var (
	two   = decimal.NewFromInt(2)
	three = decimal.NewFromInt(3)
)

// exceeds reports amount > 1.5 * Sum/Count, compared exactly as
// amount*2*Count > Sum*3.
func (s CategoryStat) exceeds(amount core.Money) bool {
	if s.Count == 0 {
		return false
	}
	lhs := decimal.NewFromInt(amount.Cents).Mul(decimal.NewFromInt(s.Count)).Mul(two)
	rhs := decimal.NewFromInt(s.Sum.Cents).Mul(three)
	return lhs.GreaterThan(rhs)
}

// CategoryAverages partitions month by category. The result follows the
// order in which each category first appears.
func CategoryAverages(month []core.Expense) []CategoryStat {
	var stats []CategoryStat
	index := make(map[string]int)
	for _, e := range month {
		i, ok := index[e.Category]
		if !ok {
			i = len(stats)
			index[e.Category] = i
			stats = append(stats, CategoryStat{Category: e.Category})
		}
		stats[i].Sum = stats[i].Sum.Add(e.Amount)
		stats[i].Count++
	}
	return stats
}

// DetectAlerts checks the all-time expenses of one category against its
// month statistics. Only candidates whose id is in members are flagged.
func DetectAlerts(stat CategoryStat, allTime []core.Expense, members map[int64]struct{}) []Alert {
	var alerts []Alert
	for _, e := range allTime {
		if !stat.exceeds(e.Amount) {
			continue
		}
		if _, ok := members[e.ID]; !ok {
			continue
		}
		alerts = append(alerts, Alert{
			ExpenseID: e.ID,
			Category:  stat.Category,
			Amount:    e.Amount,
			Average:   stat.Average(),
		})
	}
	return alerts
}

// DailySeries sums month by day of month. Days are two-digit labels in
// ascending order and values are aligned with them.
func DailySeries(month []core.Expense) (days []string, values []core.Money) {
	buckets := make(map[string]core.Money)
	for _, e := range month {
		day := fmt.Sprintf("%02d", e.Date.Day())
		buckets[day] = buckets[day].Add(e.Amount)
	}

	days = make([]string, 0, len(buckets))
	for day := range buckets {
		days = append(days, day)
	}
	slices.Sort(days)

	values = make([]core.Money, len(days))
	for i, day := range days {
		values[i] = buckets[day]
	}
	return days, values
}

// ChartCeiling rounds the largest bucket up to the next multiple of 250
// strictly above it. An empty series has a ceiling of zero.
func ChartCeiling(values []core.Money) core.Money {
	if len(values) == 0 {
		return core.Money{}
	}
	var peak int64
	for _, v := range values {
		peak = max(peak, v.Cents)
	}
	return core.Money{Cents: (peak/ceilingStep + 1) * ceilingStep}
}

// MonthIndex returns the distinct months of dates in ascending order.
func MonthIndex(dates []core.Date) []core.MonthKey {
	seen := make(map[core.MonthKey]struct{}, len(dates))
	months := make([]core.MonthKey, 0)
	for _, d := range dates {
		m := d.MonthKey()
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		months = append(months, m)
	}
	slices.SortFunc(months, func(a, b core.MonthKey) int {
		switch {
		case a.Before(b):
			return -1
		case b.Before(a):
			return 1
		default:
			return 0
		}
	})
	return months
}
