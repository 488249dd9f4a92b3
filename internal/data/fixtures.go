package data

import (
	"time"

	"github.com/shopspring/decimal"
)

// UnpaidOrderID has no payment row on purpose; downstream joins must keep it.
const UnpaidOrderID int64 = 1008

func ts(value string) time.Time {
	t, err := time.Parse("2006-01-02 15:04:05.000", value)
	if err != nil {
		panic(err)
	}
	return t.UTC()
}

func amount(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func strPtr(s string) *string { return &s }

// FixtureCustomers returns the order-domain customer rows.
func FixtureCustomers() []Customer {
	return []Customer{
		{CustomerID: 1, Name: "Alice Johnson", Email: strPtr("alice.johnson@example.com")},
		{CustomerID: 2, Name: "Bob Smith", Email: strPtr("bob.smith@example.com")},
		{CustomerID: 3, Name: "Carol Martinez", Email: strPtr("carol.martinez@example.com")},
		{CustomerID: 4, Name: "David Lee"},
		{CustomerID: 5, Name: "Eva Novak", Email: strPtr("eva.novak@example.com")},
	}
}

// FixtureOrders returns the order-domain order rows. Every customer_id
// exists in FixtureCustomers.
func FixtureOrders() []Order {
	return []Order{
		{OrderID: 1001, CustomerID: 1, OrderTS: ts("2024-01-15 10:30:00.000"), TotalAmount: amount("150.00")},
		{OrderID: 1002, CustomerID: 2, OrderTS: ts("2024-01-15 14:20:00.000"), TotalAmount: amount("89.99")},
		{OrderID: 1003, CustomerID: 1, OrderTS: ts("2024-01-16 09:15:00.000"), TotalAmount: amount("200.00")},
		{OrderID: 1004, CustomerID: 3, OrderTS: ts("2024-01-16 16:45:00.000"), TotalAmount: amount("45.50")},
		{OrderID: 1005, CustomerID: 4, OrderTS: ts("2024-01-17 11:00:00.000"), TotalAmount: amount("320.00")},
		{OrderID: 1006, CustomerID: 5, OrderTS: ts("2024-01-17 13:30:00.000"), TotalAmount: amount("75.25")},
		{OrderID: 1007, CustomerID: 2, OrderTS: ts("2024-01-18 10:10:00.000"), TotalAmount: amount("130.00")},
		{OrderID: 1008, CustomerID: 3, OrderTS: ts("2024-01-18 15:40:00.000"), TotalAmount: amount("60.00")},
		{OrderID: 1009, CustomerID: 1, OrderTS: ts("2024-01-19 12:00:00.000"), TotalAmount: amount("220.50")},
		{OrderID: 1010, CustomerID: 5, OrderTS: ts("2024-01-19 17:25:00.000"), TotalAmount: amount("99.99")},
	}
}

// FixturePayments returns the payment-domain rows: one per order except
// UnpaidOrderID. Payment 9 settles order 1010 on the following day.
func FixturePayments() []Payment {
	return []Payment{
		{PaymentID: 1, OrderID: 1001, Amount: amount("150.00"), PaidAt: ts("2024-01-15 10:35:12.123"), Method: MethodCard},
		{PaymentID: 2, OrderID: 1002, Amount: amount("89.99"), PaidAt: ts("2024-01-15 14:25:45.456"), Method: MethodPayPal},
		{PaymentID: 3, OrderID: 1003, Amount: amount("200.00"), PaidAt: ts("2024-01-16 09:20:03.789"), Method: MethodCard},
		{PaymentID: 4, OrderID: 1004, Amount: amount("45.50"), PaidAt: ts("2024-01-16 16:50:30.001"), Method: MethodBankTransfer},
		{PaymentID: 5, OrderID: 1005, Amount: amount("320.00"), PaidAt: ts("2024-01-17 11:05:10.250"), Method: MethodCard},
		{PaymentID: 6, OrderID: 1006, Amount: amount("75.25"), PaidAt: ts("2024-01-17 13:35:55.500"), Method: MethodCash},
		{PaymentID: 7, OrderID: 1007, Amount: amount("130.00"), PaidAt: ts("2024-01-18 10:15:20.750"), Method: MethodCard},
		{PaymentID: 8, OrderID: 1009, Amount: amount("220.50"), PaidAt: ts("2024-01-19 12:05:40.999"), Method: MethodBankTransfer},
		{PaymentID: 9, OrderID: 1010, Amount: amount("99.99"), PaidAt: ts("2024-01-20 09:00:00.000"), Method: MethodPayPal},
	}
}
