package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"trino-federation-lab/internal/data"
	"trino-federation-lab/internal/db"
	"trino-federation-lab/internal/export"
	"trino-federation-lab/internal/federation"
	"trino-federation-lab/internal/schema"
)

const (
	domainAll      = "all"
	domainOrders   = "orders"
	domainPayments = "payments"

	pingAttempts = 30
	pingDelay    = 2 * time.Second

	icebergTable = "daily_analytics"
)

type options struct {
	domain     string
	skipSchema bool
	skipSeed   bool
	verify     bool
	federate   bool
	iceberg    bool
	export     bool
	debug      bool
}

func main() {
	var opts options
	flag.StringVar(&opts.domain, "domain", domainAll, "which seeder to run: all, orders or payments")
	flag.BoolVar(&opts.skipSchema, "skip-schema", false, "skip applying table migrations")
	flag.BoolVar(&opts.skipSeed, "skip-seed", false, "skip inserting fixture rows")
	flag.BoolVar(&opts.verify, "verify", true, "run integrity checks against the seeded tables")
	flag.BoolVar(&opts.federate, "federate", false, "query both domains through Trino and print daily analytics")
	flag.BoolVar(&opts.iceberg, "iceberg", false, "persist daily analytics into the Iceberg catalog (implies -federate)")
	flag.BoolVar(&opts.export, "export", false, "upload daily analytics to the report bucket (implies -federate)")
	flag.BoolVar(&opts.debug, "v", false, "debug logging")
	flag.Parse()

	setupLogging(opts.debug)

	switch opts.domain {
	case domainAll, domainOrders, domainPayments:
	default:
		log.Fatal().Str("domain", opts.domain).Msg("unknown domain")
	}
	if opts.iceberg || opts.export {
		opts.federate = true
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, db.FromEnv(), opts); err != nil {
		log.Fatal().Err(err).Msg("fedlab failed")
	}
}

func setupLogging(debug bool) {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
}

func run(ctx context.Context, cfg db.Config, opts options) error {
	var src data.Sources

	if opts.domain != domainPayments {
		gdb, err := connect(ctx, "postgres", func() (*gorm.DB, error) { return db.OpenPostgres(cfg.Postgres) })
		if err != nil {
			return err
		}
		src.Orders = gdb
	}
	if opts.domain != domainOrders {
		gdb, err := connect(ctx, "mysql", func() (*gorm.DB, error) { return db.OpenMySQL(cfg.MySQL) })
		if err != nil {
			return err
		}
		src.Payments = gdb
	}

	// The two engines share nothing, so each domain is prepared independently.
	g, gctx := errgroup.WithContext(ctx)
	if src.Orders != nil {
		g.Go(func() error {
			return prepare(gctx, src.Orders, schema.Postgres, data.SeedOrderDomain, opts)
		})
	}
	if src.Payments != nil {
		g.Go(func() error {
			return prepare(gctx, src.Payments, schema.MySQL, data.SeedPaymentDomain, opts)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if opts.verify {
		if src.Orders == nil || src.Payments == nil {
			log.Warn().Str("domain", opts.domain).Msg("integrity checks need both domains; skipping")
		} else {
			results := data.RunChecks(ctx, src)
			printCheckTable(os.Stdout, results)
			if !data.AllPassed(results) {
				return fmt.Errorf("integrity checks failed")
			}
		}
	}

	if opts.federate {
		return federate(ctx, cfg, opts)
	}
	return nil
}

func connect(ctx context.Context, name string, open func() (*gorm.DB, error)) (*gorm.DB, error) {
	gdb, err := db.Connect(ctx, name, open, pingAttempts, pingDelay)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", name, err)
	}
	return gdb, nil
}

type seeder func(context.Context, *gorm.DB) ([]data.SeedResult, error)

func prepare(ctx context.Context, gdb *gorm.DB, engine schema.Engine, seed seeder, opts options) error {
	if !opts.skipSchema {
		sqlDB, err := gdb.DB()
		if err != nil {
			return err
		}
		if err := schema.Apply(ctx, sqlDB, engine); err != nil {
			return fmt.Errorf("failed to migrate %s schema: %w", engine, err)
		}
	}

	if opts.skipSeed {
		log.Info().Str("engine", string(engine)).Msg("skip-seed enabled; reusing existing data")
		return nil
	}

	start := time.Now()
	if _, err := seed(ctx, gdb); err != nil {
		return fmt.Errorf("failed to seed %s: %w", engine, err)
	}
	log.Info().Str("engine", string(engine)).Dur("elapsed", time.Since(start)).Msg("fixtures ready")
	return nil
}

func federate(ctx context.Context, cfg db.Config, opts options) error {
	trinoDB, err := db.OpenTrino(cfg.Trino)
	if err != nil {
		return err
	}
	defer trinoDB.Close()

	if err := db.WaitForPing(ctx, "trino", trinoDB, pingAttempts, pingDelay); err != nil {
		return err
	}

	client, err := federation.New(trinoDB, federation.Catalogs{
		PostgresCatalog: cfg.Trino.PostgresCatalog,
		PostgresSchema:  cfg.Trino.PostgresSchema,
		MySQLCatalog:    cfg.Trino.MySQLCatalog,
		MySQLSchema:     cfg.Trino.MySQLSchema,
	})
	if err != nil {
		return err
	}
	if err := client.Ping(ctx); err != nil {
		return err
	}

	status, err := client.CatalogStatus(ctx)
	if err != nil {
		return err
	}
	for name, ok := range status {
		log.Info().Str("catalog", name).Bool("ok", ok).Msg("catalog status")
	}
	for _, tc := range client.TableCounts(ctx) {
		log.Info().Str("table", tc.Table).Int64("rows", tc.Rows).Msg("federated count")
	}

	unpaid, err := client.UnpaidOrders(ctx)
	if err != nil {
		return err
	}
	log.Info().Ints64("order_ids", unpaid).Msg("orders without payment")

	rows, err := client.BuildDailyAnalytics(ctx)
	if err != nil {
		return err
	}
	summary, err := federation.Summarize(rows)
	if err != nil {
		return err
	}
	printAnalyticsTable(os.Stdout, rows)
	log.Info().
		Str("revenue", summary.Revenue.Total.StringFixed(2)).
		Str("paid", summary.PaidAmount.Total.StringFixed(2)).
		Float64("avg_coverage", summary.Coverage.Average).
		Int("full_coverage_days", summary.Coverage.DaysWithFullCoverage).
		Msg("analytics summary")

	if opts.iceberg {
		lake, err := federation.NewLakehouse(client, cfg.Trino.IcebergCatalog, cfg.Trino.IcebergSchema, cfg.Trino.IcebergBucket)
		if err != nil {
			return err
		}
		res, err := lake.SaveDaily(ctx, icebergTable, rows)
		if err != nil {
			return fmt.Errorf("save to iceberg: %w", err)
		}
		log.Info().
			Str("table", res.Table).
			Int("rows", res.RowsInserted).
			Bool("verified", res.Verification.Passed).
			Msg("iceberg save complete")
	}

	if opts.export {
		exp, err := export.NewFromConfig(ctx, cfg.S3)
		if err != nil {
			return err
		}
		if err := exp.EnsureBucket(ctx); err != nil {
			return err
		}
		if _, err := exp.Upload(ctx, rows, summary); err != nil {
			return err
		}
	}
	return nil
}

func printCheckTable(w io.Writer, results []data.CheckResult) {
	table := tablewriter.NewWriter(w)
	table.Header("Type", "Check", "Description", "Want", "Got", "Took", "Status")
	for _, res := range results {
		status := "OK"
		switch {
		case res.Err != nil:
			status = "ERR: " + res.Err.Error()
		case !res.Passed:
			status = "FAIL"
		case res.Informational:
			status = "INFO"
		}
		_ = table.Append([]string{
			res.Type,
			res.Name,
			truncateText(res.Description, 40),
			res.Want,
			res.Got,
			res.Duration.Round(time.Microsecond).String(),
			status,
		})
	}
	_ = table.Render()
}

func printAnalyticsTable(w io.Writer, rows []federation.DailyAnalytics) {
	table := tablewriter.NewWriter(w)
	table.Header("Day", "Revenue", "Orders", "Payments", "Paid", "Coverage")
	for _, r := range rows {
		_ = table.Append([]string{
			r.Day.Format("2006-01-02"),
			r.Revenue.StringFixed(2),
			strconv.FormatInt(r.Orders, 10),
			strconv.FormatInt(r.Payments, 10),
			r.PaidAmount.StringFixed(2),
			fmt.Sprintf("%.1f%%", r.Coverage*100),
		})
	}
	_ = table.Render()
}

func truncateText(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	if limit > len(runes) {
		limit = len(runes)
	}
	return string(runes[:limit]) + "…"
}
