package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	_ "github.com/trinodb/trino-go-client/trino"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// MySQLConfig captures the connection parameters for the payment-domain MySQL instance.
type MySQLConfig struct {
	User     string
	Password string
	Host     string
	Port     string
	Database string
	Params   string
}

// DSN renders the go-sql-driver connection string.
func (c MySQLConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?%s",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.Database,
		c.Params,
	)
}

// PostgresConfig captures the connection parameters for the order-domain PostgreSQL instance.
type PostgresConfig struct {
	User     string
	Password string
	Host     string
	Port     string
	Database string
	SSLMode  string
}

// DSN renders a keyword/value connection string understood by pgx.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.Database,
		c.SSLMode,
	)
}

// TrinoConfig points at the coordinator plus the catalog/schema pairs the
// connectors are mounted under.
type TrinoConfig struct {
	Host            string
	Port            string
	User            string
	Catalog         string
	Schema          string
	PostgresCatalog string
	PostgresSchema  string
	MySQLCatalog    string
	MySQLSchema     string
	IcebergCatalog  string
	IcebergSchema   string
	IcebergBucket   string
}

// DSN renders the trino-go-client connection string.
func (c TrinoConfig) DSN() string {
	q := url.Values{}
	q.Set("catalog", c.Catalog)
	q.Set("schema", c.Schema)
	u := url.URL{
		Scheme:   "http",
		User:     url.User(c.User),
		Host:     c.Host + ":" + c.Port,
		RawQuery: q.Encode(),
	}
	return u.String()
}

// S3Config targets the MinIO (or S3) endpoint used for report exports.
type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
}

// Config groups every external endpoint the lab talks to.
type Config struct {
	Postgres PostgresConfig
	MySQL    MySQLConfig
	Trino    TrinoConfig
	S3       S3Config
}

// FromEnv populates a Config using sensible defaults that can be overridden via
// environment variables. A .env file in the working directory is loaded first
// when present; variables already set in the process environment win.
func FromEnv() Config {
	if err := godotenv.Load(); err == nil {
		log.Debug().Msg("loaded .env")
	}

	return Config{
		Postgres: PostgresConfig{
			User:     getEnv("POSTGRES_USER", "demo"),
			Password: getEnv("POSTGRES_PASSWORD", "demo"),
			Host:     getEnv("POSTGRES_HOST", "127.0.0.1"),
			Port:     getEnv("POSTGRES_PORT", "5432"),
			Database: getEnv("POSTGRES_DB", "demo_db"),
			SSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		},
		MySQL: MySQLConfig{
			User:     getEnv("MYSQL_USER", "demo"),
			Password: getEnv("MYSQL_PASSWORD", "demo"),
			Host:     getEnv("MYSQL_HOST", "127.0.0.1"),
			Port:     getEnv("MYSQL_PORT", "3306"),
			Database: getEnv("MYSQL_DATABASE", "demo_db"),
			Params:   getEnv("MYSQL_PARAMS", "charset=utf8mb4&parseTime=True&loc=UTC"),
		},
		Trino: TrinoConfig{
			Host:            getEnv("TRINO_HOST", "127.0.0.1"),
			Port:            getEnv("TRINO_PORT", "8080"),
			User:            getEnv("TRINO_USER", "trino"),
			Catalog:         getEnv("TRINO_CATALOG", "system"),
			Schema:          getEnv("TRINO_SCHEMA", "information_schema"),
			PostgresCatalog: getEnv("TRINO_POSTGRES_CATALOG", "postgresql"),
			PostgresSchema:  getEnv("TRINO_POSTGRES_SCHEMA", "public"),
			MySQLCatalog:    getEnv("TRINO_MYSQL_CATALOG", "mysql"),
			MySQLSchema:     getEnv("TRINO_MYSQL_SCHEMA", "demo_db"),
			IcebergCatalog:  getEnv("TRINO_ICEBERG_CATALOG", "iceberg"),
			IcebergSchema:   getEnv("TRINO_ICEBERG_SCHEMA", "analytics"),
			IcebergBucket:   getEnv("ICEBERG_BUCKET", "iceberg"),
		},
		S3: S3Config{
			Endpoint:  getEnv("S3_ENDPOINT", "http://127.0.0.1:9000"),
			Region:    getEnv("S3_REGION", "us-east-1"),
			AccessKey: getEnv("S3_ACCESS_KEY", "minioadmin"),
			SecretKey: getEnv("S3_SECRET_KEY", "minioadmin"),
			Bucket:    getEnv("S3_BUCKET", "reports"),
			Prefix:    getEnv("S3_PREFIX", "daily"),
		},
	}
}

// OpenPostgres returns a gorm DB for the order domain.
func OpenPostgres(cfg PostgresConfig) (*gorm.DB, error) {
	return open(postgres.Open(cfg.DSN()))
}

// OpenMySQL returns a gorm DB for the payment domain.
func OpenMySQL(cfg MySQLConfig) (*gorm.DB, error) {
	return open(mysql.Open(cfg.DSN()))
}

func open(dialector gorm.Dialector) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	}

	gdb, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return nil, err
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}

	sqlDB.SetConnMaxLifetime(5 * time.Minute)
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)

	return gdb, nil
}

// OpenTrino returns a database/sql handle backed by the Trino driver. The
// driver is lazy, so callers should Ping before relying on it.
func OpenTrino(cfg TrinoConfig) (*sql.DB, error) {
	sqlDB, err := sql.Open("trino", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open trino: %w", err)
	}
	sqlDB.SetConnMaxLifetime(5 * time.Minute)
	return sqlDB, nil
}

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// WaitForPing pings until the endpoint answers or attempts run out. Database
// containers accept TCP well before they accept queries.
func WaitForPing(ctx context.Context, name string, p Pinger, attempts int, delay time.Duration) error {
	return retry(ctx, name, attempts, delay, p.PingContext)
}

// Connect opens a gorm DB and pings it, retrying both steps until the server
// answers. A pool whose ping fails is closed before the next attempt.
func Connect(ctx context.Context, name string, open func() (*gorm.DB, error), attempts int, delay time.Duration) (*gorm.DB, error) {
	var gdb *gorm.DB
	err := retry(ctx, name, attempts, delay, func(ctx context.Context) error {
		candidate, err := open()
		if err != nil {
			return err
		}
		sqlDB, err := candidate.DB()
		if err != nil {
			return err
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			_ = sqlDB.Close()
			return err
		}
		gdb = candidate
		return nil
	})
	if err != nil {
		return nil, err
	}
	return gdb, nil
}

func retry(ctx context.Context, name string, attempts int, delay time.Duration, fn func(context.Context) error) error {
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(ctx); err == nil {
			log.Info().Str("target", name).Msg("connected")
			return nil
		}
		log.Warn().Err(err).Str("target", name).Int("attempt", i+1).Msg("connect failed")
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%s unreachable after %d attempts: %w", name, attempts, err)
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
