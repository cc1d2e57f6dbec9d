package gateway

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Money represents a monetary amount in a specific currency. Amounts are
// decimal to avoid float rounding in fee arithmetic.
type Money struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// NewMoney creates a Money from a decimal string like "25.00".
func NewMoney(value, currency string) (Money, error) {
	amount, err := decimal.NewFromString(value)
	if err != nil {
		return Money{}, fmt.Errorf("invalid amount %q: %w", value, err)
	}

	m := Money{Amount: amount, Currency: currency}
	if err := m.Validate(); err != nil {
		return Money{}, err
	}

	return m, nil
}

// MoneyFromDecimal creates a Money from an already-parsed decimal amount.
func MoneyFromDecimal(amount decimal.Decimal, currency string) Money {
	return Money{Amount: amount, Currency: currency}
}

// MoneyFromFloat creates a Money from a float64 amount. Intended for request
// DTO conversion; internal arithmetic stays decimal.
func MoneyFromFloat(amount float64, currency string) Money {
	return Money{Amount: decimal.NewFromFloat(amount), Currency: currency}
}

// ZeroMoney returns a zero amount in the given currency.
func ZeroMoney(currency string) Money {
	return Money{Amount: decimal.Zero, Currency: currency}
}

// Validate checks that the amount is positive and the currency is a
// three-letter uppercase code.
func (m Money) Validate() error {
	if !m.Amount.IsPositive() {
		return fmt.Errorf("amount must be positive, got %s", m.Amount.String())
	}
	if !validCurrency(m.Currency) {
		return fmt.Errorf("invalid currency code %q", m.Currency)
	}
	return nil
}

// Add returns the sum of two amounts in the same currency.
func (m Money) Add(o Money) (Money, error) {
	if m.Currency != o.Currency {
		return Money{}, fmt.Errorf("currency mismatch: %s vs %s", m.Currency, o.Currency)
	}
	return Money{Amount: m.Amount.Add(o.Amount), Currency: m.Currency}, nil
}

// Sub returns the difference of two amounts in the same currency.
func (m Money) Sub(o Money) (Money, error) {
	if m.Currency != o.Currency {
		return Money{}, fmt.Errorf("currency mismatch: %s vs %s", m.Currency, o.Currency)
	}
	return Money{Amount: m.Amount.Sub(o.Amount), Currency: m.Currency}, nil
}

// Cmp compares two amounts in the same currency. Returns -1, 0 or 1.
func (m Money) Cmp(o Money) (int, error) {
	if m.Currency != o.Currency {
		return 0, fmt.Errorf("currency mismatch: %s vs %s", m.Currency, o.Currency)
	}
	return m.Amount.Cmp(o.Amount), nil
}

// Equal reports whether two Money values have the same currency and amount.
func (m Money) Equal(o Money) bool {
	return m.Currency == o.Currency && m.Amount.Equal(o.Amount)
}

// IsZero reports whether the amount is zero.
func (m Money) IsZero() bool {
	return m.Amount.IsZero()
}

// IsPositive reports whether the amount is greater than zero.
func (m Money) IsPositive() bool {
	return m.Amount.IsPositive()
}

// Float64 returns the amount as a float64 for response DTOs and metrics.
func (m Money) Float64() float64 {
	f, _ := m.Amount.Float64()
	return f
}

func (m Money) String() string {
	return m.Amount.StringFixed(2) + " " + m.Currency
}

func validCurrency(code string) bool {
	if len(code) != 3 {
		return false
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
