// Package federation issues read and analytics queries through a Trino
// coordinator that mounts the order domain, the payment domain and an Iceberg
// catalog side by side.
package federation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
)

// ErrInvalidIdentifier is returned when a catalog, schema or table name would
// have to be interpolated into SQL but does not look like a plain identifier.
var ErrInvalidIdentifier = errors.New("invalid identifier")

var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Catalogs names where each domain is mounted inside Trino.
type Catalogs struct {
	PostgresCatalog string
	PostgresSchema  string
	MySQLCatalog    string
	MySQLSchema     string
}

func (c Catalogs) Customers() string { return c.PostgresCatalog + "." + c.PostgresSchema + ".customers" }
func (c Catalogs) Orders() string    { return c.PostgresCatalog + "." + c.PostgresSchema + ".orders" }
func (c Catalogs) Payments() string  { return c.MySQLCatalog + "." + c.MySQLSchema + ".payments" }

func (c Catalogs) validate() error {
	return validateIdents(c.PostgresCatalog, c.PostgresSchema, c.MySQLCatalog, c.MySQLSchema)
}

// Client wraps a database/sql handle opened with the trino driver.
type Client struct {
	db       *sql.DB
	catalogs Catalogs
}

// New returns a Client. The catalog names are validated up front because
// they are spliced into every federated query.
func New(db *sql.DB, catalogs Catalogs) (*Client, error) {
	if db == nil {
		return nil, errors.New("trino db is required")
	}
	if err := catalogs.validate(); err != nil {
		return nil, err
	}
	return &Client{db: db, catalogs: catalogs}, nil
}

// Catalogs returns the configured mount points.
func (c *Client) Catalogs() Catalogs { return c.catalogs }

// DB exposes the underlying handle.
func (c *Client) DB() *sql.DB { return c.db }

// Ping runs SELECT 1 and checks the answer.
func (c *Client) Ping(ctx context.Context) error {
	var one int64
	if err := c.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("trino ping: %w", err)
	}
	if one != 1 {
		return fmt.Errorf("trino ping: unexpected result %d", one)
	}
	return nil
}

// CatalogStatus lists every catalog and reports whether it exposes at least
// one schema. A catalog whose SHOW SCHEMAS fails is reported as false rather
// than aborting the sweep.
func (c *Client) CatalogStatus(ctx context.Context) (map[string]bool, error) {
	catalogs, err := c.queryStrings(ctx, "SHOW CATALOGS")
	if err != nil {
		return nil, fmt.Errorf("show catalogs: %w", err)
	}

	status := make(map[string]bool, len(catalogs))
	for _, name := range catalogs {
		schemas, err := c.queryStrings(ctx, "SHOW SCHEMAS FROM "+quoteIdent(name))
		if err != nil {
			log.Warn().Err(err).Str("catalog", name).Msg("catalog unreachable")
			status[name] = false
			continue
		}
		status[name] = len(schemas) > 0
		log.Debug().Str("catalog", name).Int("schemas", len(schemas)).Msg("catalog ok")
	}
	return status, nil
}

// TableCount is a row count for one federated table. Rows is -1 when the
// table could not be read.
type TableCount struct {
	Table string
	Rows  int64
	Err   error
}

// TableCounts counts rows in the three seeded tables through Trino.
func (c *Client) TableCounts(ctx context.Context) []TableCount {
	tables := []string{c.catalogs.Customers(), c.catalogs.Orders(), c.catalogs.Payments()}
	counts := make([]TableCount, 0, len(tables))
	for _, table := range tables {
		tc := TableCount{Table: table}
		if err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&tc.Rows); err != nil {
			log.Warn().Err(err).Str("table", table).Msg("count failed")
			tc.Rows = -1
			tc.Err = err
		}
		counts = append(counts, tc)
	}
	return counts
}

// Tables lists the tables in catalog.schema.
func (c *Client) Tables(ctx context.Context, catalog, schema string) ([]string, error) {
	if err := validateIdents(catalog, schema); err != nil {
		return nil, err
	}
	return c.queryStrings(ctx, fmt.Sprintf("SHOW TABLES FROM %s.%s", catalog, schema))
}

// UnpaidOrders runs the cross-engine left join and returns the order IDs that
// have no payment, ascending.
func (c *Client) UnpaidOrders(ctx context.Context) ([]int64, error) {
	query := fmt.Sprintf(`SELECT o.order_id
FROM %s o
LEFT JOIN %s p ON o.order_id = p.order_id
WHERE p.payment_id IS NULL
ORDER BY o.order_id`, c.catalogs.Orders(), c.catalogs.Payments())

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("unpaid orders: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (c *Client) queryStrings(ctx context.Context, query string) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func validateIdents(names ...string) error {
	for _, n := range names {
		if !identPattern.MatchString(n) {
			return fmt.Errorf("%w: %q", ErrInvalidIdentifier, n)
		}
	}
	return nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
