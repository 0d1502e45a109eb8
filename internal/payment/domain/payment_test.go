package domain

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestValidateAmount(t *testing.T) {
	tests := []struct {
		in string
		ok bool
	}{
		{"1000.00", true},
		{"0.0001", true},
		{"0", false},
		{"-5", false},
		{"1.00001", false},
		{"999999999999999.9999", true},
		{"1000000000000000", false},
		{"1e20", false},
	}
	for _, tc := range tests {
		err := ValidateAmount(decimal.RequireFromString(tc.in))
		if (err == nil) != tc.ok {
			t.Errorf("ValidateAmount(%s) = %v, want ok=%v", tc.in, err, tc.ok)
		}
	}
}

func TestNormalizeCurrency(t *testing.T) {
	got, err := NormalizeCurrency(" usd ")
	if err != nil || got != "USD" {
		t.Errorf("NormalizeCurrency(usd) = %q, %v; want USD", got, err)
	}
	for _, bad := range []string{"", "US", "DOLLAR", "QQQ"} {
		if _, err := NormalizeCurrency(bad); err != ErrInvalidCurrency {
			t.Errorf("NormalizeCurrency(%q): want ErrInvalidCurrency, got %v", bad, err)
		}
	}
}

func TestNormalizeReference(t *testing.T) {
	if got, err := NormalizeReference("  R1 "); err != nil || got != "R1" {
		t.Errorf("NormalizeReference = %q, %v", got, err)
	}
	if _, err := NormalizeReference(""); err != ErrInvalidReference {
		t.Errorf("empty: want ErrInvalidReference, got %v", err)
	}
	if _, err := NormalizeReference(strings.Repeat("x", 101)); err != ErrInvalidReference {
		t.Errorf("too long: want ErrInvalidReference, got %v", err)
	}
}
