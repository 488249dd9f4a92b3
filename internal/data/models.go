package data

import (
	"time"

	"github.com/shopspring/decimal"
)

// Customer lives in the order-domain PostgreSQL database.
type Customer struct {
	CustomerID int64     `gorm:"column:customer_id;primaryKey;autoIncrement:false"`
	Name       string    `gorm:"column:customer_name;size:100;not null"`
	Email      *string   `gorm:"column:email;size:255"`
	CreatedAt  time.Time `gorm:"column:created_at;not null;default:CURRENT_TIMESTAMP"`
}

func (Customer) TableName() string { return "customers" }

// Order lives next to Customer; customer_id is a declared foreign key.
type Order struct {
	OrderID     int64           `gorm:"column:order_id;primaryKey;autoIncrement:false"`
	CustomerID  int64           `gorm:"column:customer_id;not null"`
	OrderTS     time.Time       `gorm:"column:order_ts;not null"`
	TotalAmount decimal.Decimal `gorm:"column:total_amount;type:decimal(10,2);not null"`
}

func (Order) TableName() string { return "orders" }

// PaymentMethod is the payment_method enum.
type PaymentMethod string

const (
	MethodCard         PaymentMethod = "card"
	MethodBankTransfer PaymentMethod = "bank_transfer"
	MethodPayPal       PaymentMethod = "paypal"
	MethodCash         PaymentMethod = "cash"
)

// Payment lives in the payment-domain MySQL database. OrderID points at an
// order in another engine and is not enforced by either database.
type Payment struct {
	PaymentID int64           `gorm:"column:payment_id;primaryKey;autoIncrement:false"`
	OrderID   int64           `gorm:"column:order_id;not null;index:idx_payments_order_id"`
	Amount    decimal.Decimal `gorm:"column:amount;type:decimal(10,2);not null"`
	PaidAt    time.Time       `gorm:"column:paid_at;not null;index:idx_payments_paid_at"`
	Method    PaymentMethod   `gorm:"column:payment_method;size:32;not null;default:card"`
}

func (Payment) TableName() string { return "payments" }
