package data

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	expectedCustomers = 5
	expectedOrders    = 10
	expectedPayments  = 9

	revenueCustomerID = 1
)

var expectedCustomerRevenue = decimal.RequireFromString("570.50")

// Sources holds one handle per engine. Orders must see customers and orders;
// Payments must see payments. Tests may pass the same handle for both.
type Sources struct {
	Orders   *gorm.DB
	Payments *gorm.DB
}

// Check is one consumer-side assertion over the seeded data. Informational
// checks report a value and pass whenever they run without error.
type Check struct {
	Type          string
	Name          string
	Description   string
	Want          string
	Informational bool
	Run           func(context.Context, Sources) (string, error)
}

// CheckResult captures the observed value and timing for a check.
type CheckResult struct {
	Type          string
	Name          string
	Description   string
	Want          string
	Got           string
	Informational bool
	Duration      time.Duration
	Passed        bool
	Err           error
}

// Checks returns the built-in assertions in display order.
func Checks() []Check {
	return []Check{
		{
			Type:        "row counts",
			Name:        "customers",
			Description: "customers holds exactly the fixture rows",
			Want:        strconv.Itoa(expectedCustomers),
			Run:         countRows(func(s Sources) *gorm.DB { return s.Orders }, &Customer{}),
		},
		{
			Type:        "row counts",
			Name:        "orders",
			Description: "orders holds exactly the fixture rows",
			Want:        strconv.Itoa(expectedOrders),
			Run:         countRows(func(s Sources) *gorm.DB { return s.Orders }, &Order{}),
		},
		{
			Type:        "row counts",
			Name:        "payments",
			Description: "payments holds exactly the fixture rows",
			Want:        strconv.Itoa(expectedPayments),
			Run:         countRows(func(s Sources) *gorm.DB { return s.Payments }, &Payment{}),
		},
		{
			Type:        "referential integrity",
			Name:        "orders without customer",
			Description: "every orders.customer_id exists in customers",
			Want:        "0",
			Run:         ordersWithoutCustomer,
		},
		{
			Type:        "referential integrity",
			Name:        "unpaid orders",
			Description: "orders with no payment row, reconciled across engines",
			Want:        strconv.FormatInt(UnpaidOrderID, 10),
			Run: func(ctx context.Context, s Sources) (string, error) {
				ids, err := UnpaidOrders(ctx, s)
				return joinIDs(ids), err
			},
		},
		{
			Type:        "referential integrity",
			Name:        "orphan payments",
			Description: "payments whose order_id is unknown to the order domain",
			Want:        "",
			Run: func(ctx context.Context, s Sources) (string, error) {
				ids, err := OrphanPayments(ctx, s)
				return joinIDs(ids), err
			},
		},
		{
			Type:        "fixture invariants",
			Name:        "customer 1 revenue",
			Description: "sum of orders.total_amount for customer 1",
			Want:        expectedCustomerRevenue.StringFixed(2),
			Run: func(ctx context.Context, s Sources) (string, error) {
				total, err := CustomerRevenue(ctx, s.Orders, revenueCustomerID)
				return total.StringFixed(2), err
			},
		},
		{
			Type:        "fixture invariants",
			Name:        "payments per order",
			Description: "no order is paid more than once",
			Want:        "1",
			Run:         maxPaymentsPerOrder,
		},
		{
			Type:          "distribution",
			Name:          "payment methods",
			Description:   "payments per payment_method",
			Informational: true,
			Run: func(ctx context.Context, s Sources) (string, error) {
				counts, err := PaymentMethodCounts(ctx, s.Payments)
				if err != nil {
					return "", err
				}
				parts := make([]string, len(counts))
				for i, c := range counts {
					parts[i] = fmt.Sprintf("%s=%d", c.Method, c.Payments)
				}
				return strings.Join(parts, ","), nil
			},
		},
	}
}

// RunChecks executes every check. A failing or erroring check does not stop
// the ones after it.
func RunChecks(ctx context.Context, src Sources) []CheckResult {
	checks := Checks()
	results := make([]CheckResult, 0, len(checks))
	for _, c := range checks {
		res := CheckResult{
			Type:          c.Type,
			Name:          c.Name,
			Description:   c.Description,
			Want:          c.Want,
			Informational: c.Informational,
		}

		start := time.Now()
		got, err := c.Run(ctx, src)
		res.Duration = time.Since(start)
		res.Got = got
		res.Err = err
		res.Passed = err == nil && (c.Informational || got == c.Want)

		results = append(results, res)
	}
	return results
}

// AllPassed reports whether every result passed.
func AllPassed(results []CheckResult) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}

// UnpaidOrders returns order IDs with no matching payment, ascending. This is
// the left-join-with-null-payment query evaluated in Go, since the two tables
// never share an engine.
func UnpaidOrders(ctx context.Context, src Sources) ([]int64, error) {
	orderIDs, err := pluckIDs(ctx, src.Orders, &Order{}, "order_id")
	if err != nil {
		return nil, fmt.Errorf("load order ids: %w", err)
	}
	paidIDs, err := pluckIDs(ctx, src.Payments, &Payment{}, "order_id")
	if err != nil {
		return nil, fmt.Errorf("load paid order ids: %w", err)
	}
	return difference(orderIDs, paidIDs), nil
}

// OrphanPayments returns payment order IDs that have no order, ascending.
func OrphanPayments(ctx context.Context, src Sources) ([]int64, error) {
	orderIDs, err := pluckIDs(ctx, src.Orders, &Order{}, "order_id")
	if err != nil {
		return nil, fmt.Errorf("load order ids: %w", err)
	}
	paidIDs, err := pluckIDs(ctx, src.Payments, &Payment{}, "order_id")
	if err != nil {
		return nil, fmt.Errorf("load paid order ids: %w", err)
	}
	return difference(paidIDs, orderIDs), nil
}

// CustomerRevenue sums total_amount over a customer's orders.
func CustomerRevenue(ctx context.Context, db *gorm.DB, customerID int64) (decimal.Decimal, error) {
	var total decimal.NullDecimal
	err := db.WithContext(ctx).
		Model(&Order{}).
		Select("SUM(total_amount)").
		Where("customer_id = ?", customerID).
		Row().
		Scan(&total)
	if err != nil {
		return decimal.Zero, err
	}
	if !total.Valid {
		return decimal.Zero, nil
	}
	return total.Decimal, nil
}

// MethodCount is the number of payments made with one method.
type MethodCount struct {
	Method   PaymentMethod
	Payments int64
}

// PaymentMethodCounts groups payments by method, ordered by method name.
// MySQL orders ENUM columns by declaration, so the sort happens here.
func PaymentMethodCounts(ctx context.Context, db *gorm.DB) ([]MethodCount, error) {
	var counts []MethodCount
	err := db.WithContext(ctx).
		Model(&Payment{}).
		Select("payment_method AS method, COUNT(*) AS payments").
		Group("payment_method").
		Scan(&counts).Error
	if err != nil {
		return nil, err
	}
	sort.Slice(counts, func(i, j int) bool { return counts[i].Method < counts[j].Method })
	return counts, nil
}

func countRows(pick func(Sources) *gorm.DB, model any) func(context.Context, Sources) (string, error) {
	return func(ctx context.Context, s Sources) (string, error) {
		var n int64
		if err := pick(s).WithContext(ctx).Model(model).Count(&n).Error; err != nil {
			return "", err
		}
		return strconv.FormatInt(n, 10), nil
	}
}

func ordersWithoutCustomer(ctx context.Context, s Sources) (string, error) {
	var n int64
	err := s.Orders.WithContext(ctx).
		Raw(`SELECT COUNT(*) FROM orders o
			LEFT JOIN customers c ON c.customer_id = o.customer_id
			WHERE c.customer_id IS NULL`).
		Row().
		Scan(&n)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(n, 10), nil
}

func maxPaymentsPerOrder(ctx context.Context, s Sources) (string, error) {
	var n int64
	err := s.Payments.WithContext(ctx).
		Raw(`SELECT COALESCE(MAX(cnt), 0) FROM (
			SELECT COUNT(*) AS cnt FROM payments GROUP BY order_id
		) per_order`).
		Row().
		Scan(&n)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(n, 10), nil
}

func pluckIDs(ctx context.Context, db *gorm.DB, model any, column string) ([]int64, error) {
	var ids []int64
	err := db.WithContext(ctx).Model(model).Distinct().Order(column).Pluck(column, &ids).Error
	return ids, err
}

// difference returns the values of a absent from b, sorted.
func difference(a, b []int64) []int64 {
	seen := make(map[int64]struct{}, len(b))
	for _, id := range b {
		seen[id] = struct{}{}
	}
	var out []int64
	for _, id := range a {
		if _, ok := seen[id]; !ok {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}
