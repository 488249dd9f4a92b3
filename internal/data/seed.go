package data

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SeedResult reports what a seeder did to one table.
type SeedResult struct {
	Table    string
	Inserted int64
	Total    int64
}

// SeedOrderDomain inserts the fixture customers and orders. Rows whose key
// already exists are skipped, so the call can be repeated safely. Customers go
// first because orders.customer_id references them; a foreign-key or not-null
// violation aborts the whole transaction.
func SeedOrderDomain(ctx context.Context, db *gorm.DB) ([]SeedResult, error) {
	var results []SeedResult
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		customers, err := insertIgnoringConflicts(tx, &Customer{}, FixtureCustomers())
		if err != nil {
			return fmt.Errorf("seed customers: %w", err)
		}
		orders, err := insertIgnoringConflicts(tx, &Order{}, FixtureOrders())
		if err != nil {
			return fmt.Errorf("seed orders: %w", err)
		}
		results = []SeedResult{customers, orders}
		return nil
	})
	if err != nil {
		return nil, err
	}
	logResults("orders", results)
	return results, nil
}

// SeedPaymentDomain inserts the fixture payments, skipping existing rows. No
// order lookup happens here: the orders live in a different engine.
func SeedPaymentDomain(ctx context.Context, db *gorm.DB) ([]SeedResult, error) {
	payments, err := insertIgnoringConflicts(db.WithContext(ctx), &Payment{}, FixturePayments())
	if err != nil {
		return nil, fmt.Errorf("seed payments: %w", err)
	}
	results := []SeedResult{payments}
	logResults("payments", results)
	return results, nil
}

type tabler interface {
	TableName() string
}

func insertIgnoringConflicts[T any](db *gorm.DB, model tabler, rows []T) (SeedResult, error) {
	res := SeedResult{Table: model.TableName()}

	create := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows)
	if create.Error != nil {
		return res, create.Error
	}
	res.Inserted = create.RowsAffected

	if err := db.Model(model).Count(&res.Total).Error; err != nil {
		return res, fmt.Errorf("count %s: %w", res.Table, err)
	}
	return res, nil
}

func logResults(domain string, results []SeedResult) {
	for _, r := range results {
		log.Info().
			Str("domain", domain).
			Str("table", r.Table).
			Int64("inserted", r.Inserted).
			Int64("total", r.Total).
			Msg("seeded")
	}
}
