/*
Package generic provides the domain-agnostic core of the entitlement engine.

PURPOSE:
  This package contains the types and algorithms shared by every
  entitlement domain: money arithmetic, calendar dates, rate records, the
  rule lookup service and the confidence model. Whether auditing a pay
  statement or estimating a PCS travel claim, the same lookup and the same
  confidence cascade are used.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: An amount in integer minor units (cents)
  - Category: The rate-table key (BAH, BASEPAY, MALT, ...)
  - Conditions: The qualifiers a rate depends on (paygrade, years, location)
  - RateRecord: One immutable, published rate with its citation

DESIGN PRINCIPLES:
  1. Integer money: float64 never touches an amount. Percentages and
     fractional unit rates are decimal.Decimal and results are rounded to
     whole cents exactly once.
  2. Immutability: RateRecords are published by an ingestion process and
     are read-only here.
  3. Traceability: every rate carries an opaque citation string that is
     passed through to the caller untouched.

USAGE:
  bah := generic.Cents(195000)
  diff := generic.Cents(210000).Sub(bah) // 15000

  fica := generic.Cents(379590).MulRate(decimal.RequireFromString("0.062"))

SEE ALSO:
  - lookup.go: Rule lookup with documented fallback
  - store.go: RateStore collaborator interface
  - confidence.go: Shared high/medium/low cascade
*/
package generic

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Integer minor units
// =============================================================================

// Money is an amount in minor units (cents).
type Money int64

func Cents(n int64) Money { return Money(n) }

func (m Money) Add(o Money) Money        { return m + o }
func (m Money) Sub(o Money) Money        { return m - o }
func (m Money) Neg() Money               { return -m }
func (m Money) MulInt(n int64) Money     { return m * Money(n) }
func (m Money) IsZero() bool             { return m == 0 }
func (m Money) IsNegative() bool         { return m < 0 }
func (m Money) IsPositive() bool         { return m > 0 }
func (m Money) Int64() int64             { return int64(m) }
func (m Money) Decimal() decimal.Decimal { return decimal.NewFromInt(int64(m)) }
func (m Money) Abs() Money {
	if m < 0 {
		return -m
	}
	return m
}
func (m Money) Min(o Money) Money {
	if m < o {
		return m
	}
	return o
}

// MulRate multiplies by a decimal rate and rounds to whole minor units,
// half away from zero.
func (m Money) MulRate(rate decimal.Decimal) Money {
	return MoneyFromDecimal(m.Decimal().Mul(rate))
}

// MoneyFromDecimal rounds a decimal amount of minor units to Money.
func MoneyFromDecimal(d decimal.Decimal) Money {
	return Money(d.Round(0).IntPart())
}

// String renders dollars and cents, e.g. "$1,950.00" or "-$12.05".
func (m Money) String() string {
	sign := ""
	v := int64(m)
	if v < 0 {
		sign = "-"
		v = -v
	}
	dollars := v / 100
	cents := v % 100

	s := fmt.Sprintf("%d", dollars)
	for i := len(s) - 3; i > 0; i -= 3 {
		s = s[:i] + "," + s[i:]
	}
	return fmt.Sprintf("%s$%s.%02d", sign, s, cents)
}

// =============================================================================
// RATE TABLE KEYS
// =============================================================================

// Category identifies a rate table (e.g. "BAH", "BASEPAY", "MALT").
type Category string

// DependencyStatus qualifies rates that differ with and without dependents.
// The empty value matches both.
type DependencyStatus string

const (
	DependencyAny     DependencyStatus = ""
	WithDependents    DependencyStatus = "with"
	WithoutDependents DependencyStatus = "without"
)

// DependencyFor converts a has-dependents flag to a DependencyStatus.
func DependencyFor(hasDependents bool) DependencyStatus {
	if hasDependents {
		return WithDependents
	}
	return WithoutDependents
}

// Conditions are the qualifiers of a rate. On a RateRecord an empty field
// is a wildcard; on a query an empty field only matches wildcard records.
type Conditions struct {
	Paygrade     Paygrade         `json:"paygrade,omitempty"`
	YearsBracket *int             `json:"years_bracket,omitempty"`
	Location     string           `json:"location,omitempty"`
	Dependency   DependencyStatus `json:"dependency,omitempty"`
}

// Years returns a pointer suitable for Conditions.YearsBracket.
func Years(n int) *int { return &n }

// Matches reports whether a record with these conditions applies to query q.
func (c Conditions) Matches(q Conditions) bool {
	if c.Paygrade != "" && c.Paygrade != q.Paygrade {
		return false
	}
	if c.YearsBracket != nil && (q.YearsBracket == nil || *c.YearsBracket != *q.YearsBracket) {
		return false
	}
	if c.Location != "" && c.Location != q.Location {
		return false
	}
	if c.Dependency != DependencyAny && c.Dependency != q.Dependency {
		return false
	}
	return true
}

// Specificity counts the non-wildcard fields. Used to break ties between
// records published on the same date.
func (c Conditions) Specificity() int {
	n := 0
	if c.Paygrade != "" {
		n++
	}
	if c.YearsBracket != nil {
		n++
	}
	if c.Location != "" {
		n++
	}
	if c.Dependency != DependencyAny {
		n++
	}
	return n
}

func (c Conditions) String() string {
	years := "*"
	if c.YearsBracket != nil {
		years = fmt.Sprintf("%d", *c.YearsBracket)
	}
	return fmt.Sprintf("paygrade=%s years=%s location=%s dependency=%s",
		orAny(string(c.Paygrade)), years, orAny(c.Location), orAny(string(c.Dependency)))
}

func orAny(s string) string {
	if s == "" {
		return "*"
	}
	return s
}

// =============================================================================
// RATE RECORD - One published value
// =============================================================================

// RateRecord is an immutable published rate.
//
// Amount holds flat money values (a BAH rate, a DLA payment). Rate holds
// multipliers: a fraction for percentage rates (FICA 0.062) or minor units
// per unit for unit rates (18 cents per mile). Quantity holds non-money
// values such as pounds of weight allowance or a cap on nights.
type RateRecord struct {
	ID            string          `json:"id,omitempty"`
	Category      Category        `json:"category"`
	Conditions    Conditions      `json:"conditions"`
	Amount        Money           `json:"amount"`
	Rate          decimal.Decimal `json:"rate"`
	Quantity      int64           `json:"quantity,omitempty"`
	EffectiveDate Date            `json:"effective_date"`
	Citation      string          `json:"citation"`
}
