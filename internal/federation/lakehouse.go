package federation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const (
	defaultBatchSize = 1000
	tableFormat      = "PARQUET"
	sampleSize       = 5
	sampleTolerance  = 0.01
)

// dailyColumns is the column layout of persisted DailyAnalytics tables.
var dailyColumns = []struct{ name, typ string }{
	{"dt", "DATE"},
	{"revenue", "DECIMAL(12, 2)"},
	{"orders_cnt", "BIGINT"},
	{"payments_cnt", "BIGINT"},
	{"paid_amount", "DECIMAL(12, 2)"},
	{"payment_coverage", "DOUBLE"},
}

// Lakehouse persists analytics into an Iceberg catalog through Trino. Data
// files land under s3a://<bucket>/<schema>/<table>/.
type Lakehouse struct {
	db        *sql.DB
	catalog   string
	schema    string
	bucket    string
	BatchSize int
}

// NewLakehouse validates the names that end up in DDL.
func NewLakehouse(c *Client, catalog, schema, bucket string) (*Lakehouse, error) {
	if c == nil {
		return nil, errors.New("federation client is required")
	}
	if err := validateIdents(catalog, schema); err != nil {
		return nil, err
	}
	if bucket == "" || strings.ContainsAny(bucket, "'/ ") {
		return nil, fmt.Errorf("%w: bucket %q", ErrInvalidIdentifier, bucket)
	}
	return &Lakehouse{db: c.db, catalog: catalog, schema: schema, bucket: bucket, BatchSize: defaultBatchSize}, nil
}

// Target returns the catalog-qualified schema the lakehouse writes into.
func (l *Lakehouse) Target() string { return l.catalog + "." + l.schema }

func (l *Lakehouse) qualified(table string) (string, error) {
	if err := validateIdents(table); err != nil {
		return "", err
	}
	return l.catalog + "." + l.schema + "." + table, nil
}

// EnsureSchema creates the target schema when it does not exist yet.
func (l *Lakehouse) EnsureSchema(ctx context.Context) error {
	stmt := fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s.%s WITH (location = 's3a://%s/%s/')",
		l.catalog, l.schema, l.bucket, l.schema)
	if _, err := l.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create iceberg schema %s: %w", l.schema, err)
	}
	log.Info().Str("schema", l.Target()).Msg("iceberg schema ready")
	return nil
}

// CreateDailyTable drops and recreates an Iceberg table shaped for
// DailyAnalytics.
func (l *Lakehouse) CreateDailyTable(ctx context.Context, table string) error {
	full, err := l.qualified(table)
	if err != nil {
		return err
	}
	if _, err := l.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+full); err != nil {
		return fmt.Errorf("drop %s: %w", full, err)
	}

	defs := make([]string, len(dailyColumns))
	for i, c := range dailyColumns {
		defs[i] = c.name + " " + c.typ
	}
	stmt := fmt.Sprintf("CREATE TABLE %s (\n    %s\n) WITH (\n    format = '%s',\n    location = 's3a://%s/%s/%s/'\n)",
		full, strings.Join(defs, ",\n    "), tableFormat, l.bucket, l.schema, table)
	if _, err := l.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create %s: %w", full, err)
	}
	log.Info().Str("table", full).Int("columns", len(defs)).Msg("iceberg table created")
	return nil
}

// InsertDaily writes rows in batches of BatchSize and returns how many were
// sent.
func (l *Lakehouse) InsertDaily(ctx context.Context, table string, rows []DailyAnalytics) (int, error) {
	full, err := l.qualified(table)
	if err != nil {
		return 0, err
	}
	batch := l.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}

	names := make([]string, len(dailyColumns))
	for i, c := range dailyColumns {
		names[i] = c.name
	}
	prefix := fmt.Sprintf("INSERT INTO %s (%s) VALUES ", full, strings.Join(names, ", "))

	inserted := 0
	for start := 0; start < len(rows); start += batch {
		end := min(start+batch, len(rows))
		values := make([]string, 0, end-start)
		for _, r := range rows[start:end] {
			values = append(values, dailyLiteral(r))
		}
		if _, err := l.db.ExecContext(ctx, prefix+strings.Join(values, ", ")); err != nil {
			return inserted, fmt.Errorf("insert into %s: %w", full, err)
		}
		inserted += end - start
	}
	log.Info().Str("table", full).Int("rows", inserted).Msg("rows inserted")
	return inserted, nil
}

func dailyLiteral(r DailyAnalytics) string {
	return fmt.Sprintf("(DATE '%s', DECIMAL '%s', %d, %d, DECIMAL '%s', DOUBLE '%s')",
		r.Day.Format(dayLayout),
		r.Revenue.StringFixed(2),
		r.Orders,
		r.Payments,
		r.PaidAmount.StringFixed(2),
		strconv.FormatFloat(r.Coverage, 'g', -1, 64),
	)
}

// ReadDaily loads a persisted table ordered by day.
func (l *Lakehouse) ReadDaily(ctx context.Context, table string) ([]DailyAnalytics, error) {
	full, err := l.qualified(table)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT dt, revenue, orders_cnt, payments_cnt, paid_amount, payment_coverage FROM %s ORDER BY dt", full)
	rows, err := l.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", full, err)
	}
	defer rows.Close()

	var out []DailyAnalytics
	for rows.Next() {
		var r DailyAnalytics
		if err := rows.Scan(&r.Day, &r.Revenue, &r.Orders, &r.Payments, &r.PaidAmount, &r.Coverage); err != nil {
			return nil, fmt.Errorf("scan %s: %w", full, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Verification compares what was written with what reads back.
type Verification struct {
	Table         string
	OriginalRows  int
	PersistedRows int
	RowCountMatch bool
	SampleMatch   bool
	Passed        bool
}

// Verify compares row counts and the first few rows' measures, allowing
// 0.01 of drift per value.
func Verify(table string, original, persisted []DailyAnalytics) Verification {
	v := Verification{
		Table:         table,
		OriginalRows:  len(original),
		PersistedRows: len(persisted),
		RowCountMatch: len(original) == len(persisted),
		SampleMatch:   true,
	}

	n := min(sampleSize, len(original), len(persisted))
	for i := 0; i < n; i++ {
		a, b := original[i], persisted[i]
		if a.Day.Format(dayLayout) != b.Day.Format(dayLayout) ||
			a.Orders != b.Orders ||
			a.Payments != b.Payments ||
			!closeEnough(a.Revenue, b.Revenue) ||
			!closeEnough(a.PaidAmount, b.PaidAmount) ||
			math.Abs(a.Coverage-b.Coverage) >= sampleTolerance {
			v.SampleMatch = false
			break
		}
	}

	v.Passed = v.RowCountMatch && v.SampleMatch
	return v
}

func closeEnough(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThan(decimal.NewFromFloat(sampleTolerance))
}

// SaveResult reports a complete SaveDaily run.
type SaveResult struct {
	Table        string
	RowsInserted int
	Verification Verification
	Info         TableInfo
}

// SaveDaily creates the schema and table, inserts rows, reads them back and
// verifies them. A verification mismatch is reported in the result, not as an
// error.
func (l *Lakehouse) SaveDaily(ctx context.Context, table string, rows []DailyAnalytics) (SaveResult, error) {
	res := SaveResult{Table: l.schema + "." + table}
	if len(rows) == 0 {
		return res, ErrEmptyFrame
	}

	if err := l.EnsureSchema(ctx); err != nil {
		return res, err
	}
	if err := l.CreateDailyTable(ctx, table); err != nil {
		return res, err
	}
	inserted, err := l.InsertDaily(ctx, table, rows)
	res.RowsInserted = inserted
	if err != nil {
		return res, err
	}

	persisted, err := l.ReadDaily(ctx, table)
	if err != nil {
		return res, err
	}
	res.Verification = Verify(res.Table, rows, persisted)
	if !res.Verification.Passed {
		log.Warn().Str("table", res.Table).Msg("iceberg verification mismatch")
	}

	info, err := l.TableInfo(ctx, table)
	if err != nil {
		return res, err
	}
	res.Info = info
	return res, nil
}

// Column is one DESCRIBE row.
type Column struct {
	Name    string
	Type    string
	Extra   string
	Comment string
}

// TableInfo describes a persisted table.
type TableInfo struct {
	Name            string
	Columns         []Column
	RowCount        int64
	CreateStatement string
}

// TableInfo runs DESCRIBE, COUNT(*) and SHOW CREATE TABLE. A failing SHOW
// CREATE TABLE leaves CreateStatement empty.
func (l *Lakehouse) TableInfo(ctx context.Context, table string) (TableInfo, error) {
	full, err := l.qualified(table)
	if err != nil {
		return TableInfo{}, err
	}
	info := TableInfo{Name: full}

	rows, err := l.db.QueryContext(ctx, "DESCRIBE "+full)
	if err != nil {
		return info, fmt.Errorf("describe %s: %w", full, err)
	}
	for rows.Next() {
		var c Column
		if err := rows.Scan(&c.Name, &c.Type, &c.Extra, &c.Comment); err != nil {
			rows.Close()
			return info, fmt.Errorf("describe %s: %w", full, err)
		}
		info.Columns = append(info.Columns, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return info, fmt.Errorf("describe %s: %w", full, err)
	}

	if err := l.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+full).Scan(&info.RowCount); err != nil {
		return info, fmt.Errorf("count %s: %w", full, err)
	}

	if err := l.db.QueryRowContext(ctx, "SHOW CREATE TABLE "+full).Scan(&info.CreateStatement); err != nil {
		log.Debug().Err(err).Str("table", full).Msg("show create table unavailable")
		info.CreateStatement = ""
	}
	return info, nil
}

// ListTables lists tables in the lakehouse schema.
func (l *Lakehouse) ListTables(ctx context.Context) ([]string, error) {
	rows, err := l.db.QueryContext(ctx, fmt.Sprintf("SHOW TABLES FROM %s.%s", l.catalog, l.schema))
	if err != nil {
		return nil, fmt.Errorf("list iceberg tables: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}
