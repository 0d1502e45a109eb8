package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// MaxAmountScale is the number of fractional digits an amount may carry (NUMERIC(19,4)).
const MaxAmountScale = 4

// maxAmount is the largest value a NUMERIC(19,4) column holds.
var maxAmount = decimal.RequireFromString("999999999999999.9999")

// maxReferenceLen matches the reference_id column width.
const maxReferenceLen = 100

var (
	ErrInvalidAmount    = errors.New("amount must be positive, at most 999999999999999.9999, with at most 4 decimal places")
	ErrInvalidCurrency  = errors.New("currency must be an ISO 4217 code")
	ErrInvalidReference = errors.New("reference id is required and at most 100 characters")
)

// Payment is a monetary transaction. Status only moves through Next; the row is never deleted.
type Payment struct {
	ID          string
	OwnerID     string
	Amount      decimal.Decimal
	Currency    string
	ReferenceID string
	Status      Status
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Version     int64
}

// Clone returns a copy of p.
func (p *Payment) Clone() *Payment {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

// ValidateAmount rejects non-positive amounts, amounts above maxAmount, and amounts finer than MaxAmountScale.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() || amount.GreaterThan(maxAmount) {
		return ErrInvalidAmount
	}
	if !amount.Equal(amount.Truncate(MaxAmountScale)) {
		return ErrInvalidAmount
	}
	return nil
}

// NormalizeCurrency validates code as an ISO 4217 currency and returns it upper-cased.
func NormalizeCurrency(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 3 {
		return "", ErrInvalidCurrency
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return "", ErrInvalidCurrency
	}
	return unit.String(), nil
}

// NormalizeReference trims and length-checks a caller-supplied idempotency key.
func NormalizeReference(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" || len(ref) > maxReferenceLen {
		return "", ErrInvalidReference
	}
	return ref, nil
}
