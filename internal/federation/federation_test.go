package federation

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCatalogs = Catalogs{
	PostgresCatalog: "postgresql",
	PostgresSchema:  "public",
	MySQLCatalog:    "mysql",
	MySQLSchema:     "demo_db",
}

func newMockClient(t *testing.T) (*Client, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	c, err := New(db, testCatalogs)
	require.NoError(t, err)
	return c, mock
}

func day(d int) time.Time {
	return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func q(s string) string {
	return regexp.QuoteMeta(s)
}

func expectDailyOrders(mock sqlmock.Sqlmock) {
	mock.ExpectQuery(q("FROM postgresql.public.orders")).
		WillReturnRows(sqlmock.NewRows([]string{"dt", "revenue", "orders_cnt"}).
			AddRow(day(15), "239.99", int64(2)).
			AddRow(day(16), "245.50", int64(2)).
			AddRow(day(17), "395.25", int64(2)).
			AddRow(day(18), "190.00", int64(2)).
			AddRow(day(19), "320.49", int64(2)))
}

func expectDailyPayments(mock sqlmock.Sqlmock) {
	mock.ExpectQuery(q("FROM mysql.demo_db.payments")).
		WillReturnRows(sqlmock.NewRows([]string{"dt", "paid_amount", "payments_cnt"}).
			AddRow(day(15), "239.99", int64(2)).
			AddRow(day(16), "245.50", int64(2)).
			AddRow(day(17), "395.25", int64(2)).
			AddRow(day(18), "130.00", int64(1)).
			AddRow(day(19), "220.50", int64(1)).
			AddRow(day(20), "99.99", int64(1)))
}

func TestNewValidates(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	_, err = New(nil, testCatalogs)
	assert.Error(t, err)

	bad := testCatalogs
	bad.MySQLSchema = "demo_db; DROP TABLE payments"
	_, err = New(db, bad)
	assert.ErrorIs(t, err, ErrInvalidIdentifier)

	c, err := New(db, testCatalogs)
	require.NoError(t, err)
	assert.Equal(t, "postgresql.public.customers", c.Catalogs().Customers())
	assert.Equal(t, "postgresql.public.orders", c.Catalogs().Orders())
	assert.Equal(t, "mysql.demo_db.payments", c.Catalogs().Payments())
}

func TestPing(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		c, mock := newMockClient(t)
		mock.ExpectQuery(q("SELECT 1")).WillReturnRows(sqlmock.NewRows([]string{"_col0"}).AddRow(int64(1)))
		assert.NoError(t, c.Ping(context.Background()))
	})

	t.Run("unexpected value", func(t *testing.T) {
		c, mock := newMockClient(t)
		mock.ExpectQuery(q("SELECT 1")).WillReturnRows(sqlmock.NewRows([]string{"_col0"}).AddRow(int64(2)))
		assert.ErrorContains(t, c.Ping(context.Background()), "unexpected result 2")
	})

	t.Run("query error", func(t *testing.T) {
		c, mock := newMockClient(t)
		mock.ExpectQuery(q("SELECT 1")).WillReturnError(errors.New("connection refused"))
		assert.ErrorContains(t, c.Ping(context.Background()), "connection refused")
	})
}

func TestCatalogStatus(t *testing.T) {
	c, mock := newMockClient(t)
	mock.ExpectQuery(q("SHOW CATALOGS")).
		WillReturnRows(sqlmock.NewRows([]string{"Catalog"}).AddRow("mysql").AddRow("postgresql").AddRow("empty").AddRow("broken"))
	mock.ExpectQuery(q(`SHOW SCHEMAS FROM "mysql"`)).
		WillReturnRows(sqlmock.NewRows([]string{"Schema"}).AddRow("demo_db").AddRow("information_schema"))
	mock.ExpectQuery(q(`SHOW SCHEMAS FROM "postgresql"`)).
		WillReturnRows(sqlmock.NewRows([]string{"Schema"}).AddRow("public"))
	mock.ExpectQuery(q(`SHOW SCHEMAS FROM "empty"`)).
		WillReturnRows(sqlmock.NewRows([]string{"Schema"}))
	mock.ExpectQuery(q(`SHOW SCHEMAS FROM "broken"`)).
		WillReturnError(errors.New("connector unavailable"))

	status, err := c.CatalogStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{
		"mysql":      true,
		"postgresql": true,
		"empty":      false,
		"broken":     false,
	}, status)
}

func TestCatalogStatusFailsWithoutCatalogList(t *testing.T) {
	c, mock := newMockClient(t)
	mock.ExpectQuery(q("SHOW CATALOGS")).WillReturnError(errors.New("coordinator starting"))

	_, err := c.CatalogStatus(context.Background())
	assert.ErrorContains(t, err, "show catalogs")
}

func TestTableCounts(t *testing.T) {
	c, mock := newMockClient(t)
	mock.ExpectQuery(q("SELECT COUNT(*) FROM postgresql.public.customers")).
		WillReturnRows(sqlmock.NewRows([]string{"_col0"}).AddRow(int64(5)))
	mock.ExpectQuery(q("SELECT COUNT(*) FROM postgresql.public.orders")).
		WillReturnRows(sqlmock.NewRows([]string{"_col0"}).AddRow(int64(10)))
	mock.ExpectQuery(q("SELECT COUNT(*) FROM mysql.demo_db.payments")).
		WillReturnError(errors.New("table not found"))

	counts := c.TableCounts(context.Background())
	require.Len(t, counts, 3)
	assert.Equal(t, int64(5), counts[0].Rows)
	assert.Equal(t, int64(10), counts[1].Rows)
	assert.Equal(t, "mysql.demo_db.payments", counts[2].Table)
	assert.Equal(t, int64(-1), counts[2].Rows)
	assert.Error(t, counts[2].Err)
}

func TestTables(t *testing.T) {
	c, mock := newMockClient(t)
	mock.ExpectQuery(q("SHOW TABLES FROM postgresql.public")).
		WillReturnRows(sqlmock.NewRows([]string{"Table"}).AddRow("customers").AddRow("orders"))

	tables, err := c.Tables(context.Background(), "postgresql", "public")
	require.NoError(t, err)
	assert.Equal(t, []string{"customers", "orders"}, tables)

	_, err = c.Tables(context.Background(), "postgresql", "Public Schema")
	assert.ErrorIs(t, err, ErrInvalidIdentifier)
}

func TestUnpaidOrders(t *testing.T) {
	c, mock := newMockClient(t)
	mock.ExpectQuery(q("LEFT JOIN mysql.demo_db.payments p ON o.order_id = p.order_id")).
		WillReturnRows(sqlmock.NewRows([]string{"order_id"}).AddRow(int64(1008)))

	ids, err := c.UnpaidOrders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{1008}, ids)
}

func TestUnpaidOrdersError(t *testing.T) {
	c, mock := newMockClient(t)
	mock.ExpectQuery(q("LEFT JOIN")).WillReturnError(errors.New("catalog mysql not found"))

	_, err := c.UnpaidOrders(context.Background())
	assert.ErrorContains(t, err, "unpaid orders")
}

func TestBuildDailyAnalytics(t *testing.T) {
	c, mock := newMockClient(t)
	expectDailyOrders(mock)
	expectDailyPayments(mock)

	rows, err := c.BuildDailyAnalytics(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 6)

	for i, want := range []int{15, 16, 17, 18, 19, 20} {
		assert.Equal(t, day(want), rows[i].Day)
	}

	assert.Equal(t, 1.0, rows[0].Coverage)
	assert.InDelta(t, 130.0/190.0, rows[3].Coverage, 1e-9)
	assert.InDelta(t, 220.50/320.49, rows[4].Coverage, 1e-9)

	last := rows[5]
	assert.True(t, last.Revenue.IsZero())
	assert.Equal(t, int64(0), last.Orders)
	assert.Equal(t, int64(1), last.Payments)
	assert.Equal(t, "99.99", last.PaidAmount.StringFixed(2))
	assert.Equal(t, 0.0, last.Coverage)
}

func TestBuildDailyAnalyticsPropagatesErrors(t *testing.T) {
	c, mock := newMockClient(t)
	expectDailyOrders(mock)
	mock.ExpectQuery(q("FROM mysql.demo_db.payments")).WillReturnError(sql.ErrConnDone)

	_, err := c.BuildDailyAnalytics(context.Background())
	assert.ErrorIs(t, err, sql.ErrConnDone)
	assert.ErrorContains(t, err, "aggregate daily payments")
}

func TestMergeDailyFillsMissingSides(t *testing.T) {
	orders := []DailyOrders{
		{Day: day(2), Revenue: dec("10.00"), Orders: 1},
		{Day: day(1), Revenue: dec("5.00"), Orders: 2},
	}
	payments := []DailyPayments{
		{Day: day(3), PaidAmount: dec("7.00"), Payments: 1},
		{Day: day(1), PaidAmount: dec("5.00"), Payments: 2},
	}

	merged := MergeDaily(orders, payments)
	require.Len(t, merged, 3)

	assert.Equal(t, day(1), merged[0].Day)
	assert.Equal(t, "5.00", merged[0].PaidAmount.StringFixed(2))

	assert.Equal(t, day(2), merged[1].Day)
	assert.True(t, merged[1].PaidAmount.IsZero())
	assert.Equal(t, int64(0), merged[1].Payments)

	assert.Equal(t, day(3), merged[2].Day)
	assert.True(t, merged[2].Revenue.IsZero())
	assert.Equal(t, int64(0), merged[2].Orders)
}

func TestMergeDailyEmpty(t *testing.T) {
	assert.Empty(t, MergeDaily(nil, nil))
}

func TestPaymentCoverageClipsAtOne(t *testing.T) {
	rows := PaymentCoverage([]DailyAnalytics{
		{Day: day(1), Revenue: dec("100.00"), PaidAmount: dec("150.00")},
		{Day: day(2), Revenue: dec("100.00"), PaidAmount: dec("25.00")},
		{Day: day(3), Revenue: decimal.Zero, PaidAmount: dec("25.00")},
	})
	assert.Equal(t, 1.0, rows[0].Coverage)
	assert.Equal(t, 0.25, rows[1].Coverage)
	assert.Equal(t, 0.0, rows[2].Coverage)
}

func fixtureAnalytics(t *testing.T) []DailyAnalytics {
	t.Helper()
	c, mock := newMockClient(t)
	expectDailyOrders(mock)
	expectDailyPayments(mock)
	rows, err := c.BuildDailyAnalytics(context.Background())
	require.NoError(t, err)
	return rows
}

func TestSummarize(t *testing.T) {
	s, err := Summarize(fixtureAnalytics(t))
	require.NoError(t, err)

	assert.Equal(t, 6, s.TotalDays)
	assert.Equal(t, "2024-01-15", s.Start)
	assert.Equal(t, "2024-01-20", s.End)

	assert.Equal(t, "1391.23", s.Revenue.Total.StringFixed(2))
	assert.Equal(t, "231.87", s.Revenue.AverageDaily.StringFixed(2))
	assert.Equal(t, "395.25", s.Revenue.MaxDaily.StringFixed(2))
	assert.Equal(t, "0.00", s.Revenue.MinDaily.StringFixed(2))

	assert.Equal(t, "1331.23", s.PaidAmount.Total.StringFixed(2))

	assert.Equal(t, int64(10), s.Orders.Total)
	assert.Equal(t, int64(2), s.Orders.MaxDaily)
	assert.Equal(t, int64(0), s.Orders.MinDaily)
	assert.InDelta(t, 10.0/6.0, s.Orders.AverageDaily, 1e-9)

	assert.Equal(t, int64(9), s.Payments.Total)
	assert.Equal(t, 3, s.Coverage.DaysWithFullCoverage)
	assert.Equal(t, 1.0, s.Coverage.Max)
	assert.Equal(t, 0.0, s.Coverage.Min)
}

func TestSummarizeEmpty(t *testing.T) {
	_, err := Summarize(nil)
	assert.ErrorIs(t, err, ErrEmptyFrame)
}
