package federation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const dayLayout = "2006-01-02"

// ErrEmptyFrame is returned when a summary is requested over no rows.
var ErrEmptyFrame = errors.New("no analytics rows")

// DailyOrders is one day of order-domain activity.
type DailyOrders struct {
	Day     time.Time
	Revenue decimal.Decimal
	Orders  int64
}

// DailyPayments is one day of payment-domain activity.
type DailyPayments struct {
	Day        time.Time
	PaidAmount decimal.Decimal
	Payments   int64
}

// DailyAnalytics is the merged per-day row. Days present on only one side
// carry zeros for the other.
type DailyAnalytics struct {
	Day        time.Time       `json:"dt"`
	Revenue    decimal.Decimal `json:"revenue"`
	Orders     int64           `json:"orders_cnt"`
	Payments   int64           `json:"payments_cnt"`
	PaidAmount decimal.Decimal `json:"paid_amount"`
	Coverage   float64         `json:"payment_coverage"`
}

// DailyOrders aggregates orders by calendar day.
func (c *Client) DailyOrders(ctx context.Context) ([]DailyOrders, error) {
	query := fmt.Sprintf(`SELECT DATE(order_ts) AS dt, SUM(total_amount) AS revenue, COUNT(*) AS orders_cnt
FROM %s
GROUP BY DATE(order_ts)
ORDER BY dt`, c.catalogs.Orders())

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("aggregate daily orders: %w", err)
	}
	defer rows.Close()

	var out []DailyOrders
	for rows.Next() {
		var d DailyOrders
		if err := rows.Scan(&d.Day, &d.Revenue, &d.Orders); err != nil {
			return nil, fmt.Errorf("aggregate daily orders: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("aggregate daily orders: %w", err)
	}
	log.Info().Int("days", len(out)).Msg("aggregated daily orders")
	return out, nil
}

// DailyPayments aggregates payments by calendar day.
func (c *Client) DailyPayments(ctx context.Context) ([]DailyPayments, error) {
	query := fmt.Sprintf(`SELECT DATE(paid_at) AS dt, SUM(amount) AS paid_amount, COUNT(*) AS payments_cnt
FROM %s
GROUP BY DATE(paid_at)
ORDER BY dt`, c.catalogs.Payments())

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("aggregate daily payments: %w", err)
	}
	defer rows.Close()

	var out []DailyPayments
	for rows.Next() {
		var d DailyPayments
		if err := rows.Scan(&d.Day, &d.PaidAmount, &d.Payments); err != nil {
			return nil, fmt.Errorf("aggregate daily payments: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("aggregate daily payments: %w", err)
	}
	log.Info().Int("days", len(out)).Msg("aggregated daily payments")
	return out, nil
}

// MergeDaily outer-joins the two series on day. Missing measures are zero and
// the result is sorted by day. Coverage is left at zero; see PaymentCoverage.
func MergeDaily(orders []DailyOrders, payments []DailyPayments) []DailyAnalytics {
	byDay := make(map[string]*DailyAnalytics, len(orders)+len(payments))
	get := func(day time.Time) *DailyAnalytics {
		key := day.Format(dayLayout)
		row, ok := byDay[key]
		if !ok {
			d, _ := time.Parse(dayLayout, key)
			row = &DailyAnalytics{Day: d, Revenue: decimal.Zero, PaidAmount: decimal.Zero}
			byDay[key] = row
		}
		return row
	}

	for _, o := range orders {
		row := get(o.Day)
		row.Revenue = row.Revenue.Add(o.Revenue)
		row.Orders += o.Orders
	}
	for _, p := range payments {
		row := get(p.Day)
		row.PaidAmount = row.PaidAmount.Add(p.PaidAmount)
		row.Payments += p.Payments
	}

	out := make([]DailyAnalytics, 0, len(byDay))
	for _, row := range byDay {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	return out
}

// PaymentCoverage sets Coverage to paid_amount / revenue, capped at 1.0. Days
// without revenue get 0.
func PaymentCoverage(rows []DailyAnalytics) []DailyAnalytics {
	out := make([]DailyAnalytics, len(rows))
	for i, r := range rows {
		r.Coverage = 0
		if r.Revenue.IsPositive() {
			r.Coverage, _ = r.PaidAmount.Div(r.Revenue).Float64()
			if r.Coverage > 1 {
				r.Coverage = 1
			}
		}
		out[i] = r
	}
	return out
}

// BuildDailyAnalytics runs both aggregations, merges them and computes
// coverage.
func (c *Client) BuildDailyAnalytics(ctx context.Context) ([]DailyAnalytics, error) {
	orders, err := c.DailyOrders(ctx)
	if err != nil {
		return nil, err
	}
	payments, err := c.DailyPayments(ctx)
	if err != nil {
		return nil, err
	}
	rows := PaymentCoverage(MergeDaily(orders, payments))
	if len(rows) > 0 {
		log.Info().
			Int("days", len(rows)).
			Str("from", rows[0].Day.Format(dayLayout)).
			Str("to", rows[len(rows)-1].Day.Format(dayLayout)).
			Msg("daily analytics ready")
	}
	return rows, nil
}

// MoneyStats summarises a currency measure.
type MoneyStats struct {
	Total        decimal.Decimal `json:"total"`
	AverageDaily decimal.Decimal `json:"average_daily"`
	MaxDaily     decimal.Decimal `json:"max_daily"`
	MinDaily     decimal.Decimal `json:"min_daily"`
}

// CountStats summarises a count measure.
type CountStats struct {
	Total        int64   `json:"total"`
	AverageDaily float64 `json:"average_daily"`
	MaxDaily     int64   `json:"max_daily"`
	MinDaily     int64   `json:"min_daily"`
}

// CoverageStats summarises payment coverage.
type CoverageStats struct {
	Average              float64 `json:"average"`
	Max                  float64 `json:"max"`
	Min                  float64 `json:"min"`
	DaysWithFullCoverage int     `json:"days_with_full_coverage"`
}

// Summary describes a run of DailyAnalytics rows.
type Summary struct {
	TotalDays  int           `json:"total_days"`
	Start      string        `json:"start"`
	End        string        `json:"end"`
	Revenue    MoneyStats    `json:"revenue"`
	Orders     CountStats    `json:"orders"`
	Payments   CountStats    `json:"payments"`
	PaidAmount MoneyStats    `json:"paid_amount"`
	Coverage   CoverageStats `json:"payment_coverage"`
}

// Summarize computes totals and extremes. Rows must be sorted by day, as
// MergeDaily returns them.
func Summarize(rows []DailyAnalytics) (Summary, error) {
	if len(rows) == 0 {
		return Summary{}, ErrEmptyFrame
	}

	n := len(rows)
	days := decimal.NewFromInt(int64(n))
	s := Summary{
		TotalDays: n,
		Start:     rows[0].Day.Format(dayLayout),
		End:       rows[n-1].Day.Format(dayLayout),
	}

	revenue := make([]decimal.Decimal, n)
	paid := make([]decimal.Decimal, n)
	orders := make([]int64, n)
	payments := make([]int64, n)
	coverageTotal := 0.0
	s.Coverage.Min = rows[0].Coverage
	s.Coverage.Max = rows[0].Coverage
	for i, r := range rows {
		revenue[i], paid[i] = r.Revenue, r.PaidAmount
		orders[i], payments[i] = r.Orders, r.Payments
		coverageTotal += r.Coverage
		if r.Coverage < s.Coverage.Min {
			s.Coverage.Min = r.Coverage
		}
		if r.Coverage > s.Coverage.Max {
			s.Coverage.Max = r.Coverage
		}
		if r.Coverage >= 1 {
			s.Coverage.DaysWithFullCoverage++
		}
	}
	s.Coverage.Average = coverageTotal / float64(n)

	s.Revenue = moneyStats(revenue, days)
	s.PaidAmount = moneyStats(paid, days)
	s.Orders = countStats(orders)
	s.Payments = countStats(payments)
	return s, nil
}

func moneyStats(values []decimal.Decimal, days decimal.Decimal) MoneyStats {
	total := decimal.Sum(values[0], values[1:]...)
	return MoneyStats{
		Total:        total,
		AverageDaily: total.DivRound(days, 2),
		MaxDaily:     decimal.Max(values[0], values[1:]...),
		MinDaily:     decimal.Min(values[0], values[1:]...),
	}
}

func countStats(values []int64) CountStats {
	cs := CountStats{MaxDaily: values[0], MinDaily: values[0]}
	for _, v := range values {
		cs.Total += v
		if v > cs.MaxDaily {
			cs.MaxDaily = v
		}
		if v < cs.MinDaily {
			cs.MinDaily = v
		}
	}
	cs.AverageDaily = float64(cs.Total) / float64(len(values))
	return cs
}
