/*
expected.go - Expected-value builder

PURPOSE:
  Composes the full expected pay snapshot for a member profile by repeated
  rule lookups. The snapshot is what the comparator diffs the statement
  against.

DERIVATION:
  BASEPAY:       paygrade + years-of-service bracket
  BAH:           duty location (MHA) + paygrade + dependency
  BAS:           paygrade band (officer and enlisted rates differ)
  COLA:          location, only when a CONUS COLA is published there
  Special pays:  one table per profile flag
  FICA_SS/MED:   tax constant (fraction) x FICA taxable base
  Taxable base:  base pay, COLA and special pays; BAH and BAS are excluded

YEARS OF SERVICE:
  The bracket is the highest bracket <= actual years; brackets are never
  interpolated. If the pay table has no row at that bracket for the
  paygrade, the next lower bracket with a row is used, which is by
  definition the highest defined bracket for that grade.

MISSING RATES:
  A missing rate yields a zero line marked Missing. It never fails the
  build; the confidence scorer reads the markers.

PURITY:
  Build has no side effects. Against an unchanged rate table two calls with
  the same profile and date return identical snapshots, so callers may
  cache snapshots keyed by (profile, as-of) - see cache.go.
*/
package payaudit

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/garrison-ledger/entitlement-engine/generic"
)

// DefaultBrackets are the years-of-service columns of the DoD pay table.
var DefaultBrackets = []int{0, 2, 3, 4, 6, 8, 10, 12, 14, 16, 18, 20, 22, 24, 26, 28, 30, 32, 34, 36, 38, 40}

// SelectBracket returns the highest bracket <= years. brackets must be
// sorted ascending. ok is false when every bracket exceeds years.
func SelectBracket(years int, brackets []int) (bracket int, ok bool) {
	i := sort.SearchInts(brackets, years+1) // first bracket > years
	if i == 0 {
		return 0, false
	}
	return brackets[i-1], true
}

// ExpectedLine is one derived expectation and where it came from.
type ExpectedLine struct {
	Code        Code             `json:"code"`
	Section     Section          `json:"section"`
	Amount      generic.Money    `json:"amount"`
	Category    generic.Category `json:"category"`
	Rate        decimal.Decimal  `json:"rate"`
	Citation    string           `json:"citation,omitempty"`
	Approximate bool             `json:"approximate,omitempty"`
	Missing     bool             `json:"missing,omitempty"`
	Reason      string           `json:"reason,omitempty"`
}

// TaxableBase holds the wage sub-totals the tax lines are computed from.
type TaxableBase struct {
	FICA    generic.Money `json:"fica"`
	Federal generic.Money `json:"federal"`
}

// ExpectedSnapshot is the full expected pay for a profile on a date.
type ExpectedSnapshot struct {
	Profile             MemberProfile         `json:"profile"`
	AsOf                generic.Date          `json:"as_of"`
	YearsBracket        int                   `json:"years_bracket"`
	Lines               map[Code]ExpectedLine `json:"lines"`
	TaxableBase         TaxableBase           `json:"taxable_base"`
	LocationRateMissing bool                  `json:"location_rate_missing,omitempty"`
}

// Net is expected net pay over the derived lines only.
func (s ExpectedSnapshot) Net() generic.Money {
	var net generic.Money
	for _, l := range s.Lines {
		net += l.Section.NetEffect() * l.Amount
	}
	return net
}

// MissingCategories lists the categories that had no rate, sorted.
func (s ExpectedSnapshot) MissingCategories() []string {
	return s.collect(func(l ExpectedLine) bool { return l.Missing })
}

// ApproximateCategories lists the categories resolved by fallback, sorted.
func (s ExpectedSnapshot) ApproximateCategories() []string {
	return s.collect(func(l ExpectedLine) bool { return l.Approximate })
}

func (s ExpectedSnapshot) collect(pred func(ExpectedLine) bool) []string {
	var out []string
	for _, l := range s.Lines {
		if pred(l) {
			out = append(out, string(l.Category))
		}
	}
	sort.Strings(out)
	return out
}

// =============================================================================
// BUILDER
// =============================================================================

// SnapshotBuilder builds expected snapshots. Builder and CachedBuilder
// implement it.
type SnapshotBuilder interface {
	Build(ctx context.Context, profile MemberProfile, asOf generic.Date) (ExpectedSnapshot, error)
}

type Builder struct {
	Lookup   *generic.Lookup
	Brackets []int
}

func NewBuilder(lookup *generic.Lookup) *Builder {
	return &Builder{Lookup: lookup, Brackets: DefaultBrackets}
}

// Build derives the expected snapshot. Only an invalid profile is an error.
func (b *Builder) Build(ctx context.Context, profile MemberProfile, asOf generic.Date) (ExpectedSnapshot, error) {
	if err := profile.Validate(); err != nil {
		return ExpectedSnapshot{}, err
	}
	if asOf.IsZero() {
		return ExpectedSnapshot{}, &generic.InvalidInputError{Field: "as_of", Value: "", Reason: "required"}
	}

	snap := ExpectedSnapshot{
		Profile: profile,
		AsOf:    asOf,
		Lines:   make(map[Code]ExpectedLine),
	}

	b.basePay(ctx, &snap)
	b.housing(ctx, &snap)
	b.subsistence(ctx, &snap)
	b.cola(ctx, &snap)
	b.specialPays(ctx, &snap)
	b.taxes(ctx, &snap)

	return snap, nil
}

func (b *Builder) basePay(ctx context.Context, snap *ExpectedSnapshot) {
	info := Catalog[CodeBasePay]
	p := snap.Profile

	brackets := b.Brackets
	if len(brackets) == 0 {
		brackets = DefaultBrackets
	}
	bracket, ok := SelectBracket(p.YearsOfService, brackets)
	if !ok {
		snap.Lines[CodeBasePay] = missingLine(info, "no years-of-service bracket applies")
		return
	}

	// Step down from the selected bracket to the highest one the table defines.
	top := sort.SearchInts(brackets, bracket)
	for i := top; i >= 0; i-- {
		cond := generic.Conditions{Paygrade: p.Paygrade, YearsBracket: generic.Years(brackets[i])}
		res := b.Lookup.Resolve(ctx, info.Category, cond, snap.AsOf)
		if res.Missing && isStoreFailure(res.Err) {
			snap.Lines[CodeBasePay] = missingLine(info, "rate store unavailable")
			return
		}
		if res.Missing {
			continue
		}
		snap.YearsBracket = brackets[i]
		snap.Lines[CodeBasePay] = lineFrom(info, res, res.Record.Amount)
		return
	}
	snap.Lines[CodeBasePay] = missingLine(info, fmt.Sprintf("no base pay table row for %s", p.Paygrade))
}

func (b *Builder) housing(ctx context.Context, snap *ExpectedSnapshot) {
	info := Catalog[CodeBAH]
	p := snap.Profile

	if p.Location == "" {
		snap.LocationRateMissing = true
		snap.Lines[CodeBAH] = missingLine(info, "no duty location supplied")
		return
	}

	res := b.Lookup.Resolve(ctx, info.Category, generic.Conditions{
		Paygrade:   p.Paygrade,
		Location:   p.Location,
		Dependency: generic.DependencyFor(p.HasDependents),
	}, snap.AsOf)
	if res.Missing {
		snap.LocationRateMissing = true
		snap.Lines[CodeBAH] = missingLine(info, fmt.Sprintf("no published housing rate for location %s", p.Location))
		return
	}
	snap.Lines[CodeBAH] = lineFrom(info, res, res.Record.Amount)
}

func (b *Builder) subsistence(ctx context.Context, snap *ExpectedSnapshot) {
	info := Catalog[CodeBAS]
	res := b.Lookup.Resolve(ctx, info.Category, generic.Conditions{Paygrade: snap.Profile.Paygrade.Band()}, snap.AsOf)
	if res.Missing {
		snap.Lines[CodeBAS] = missingLine(info, "no published subsistence rate")
		return
	}
	snap.Lines[CodeBAS] = lineFrom(info, res, res.Record.Amount)
}

// cola adds a line only where a COLA is published; its absence is normal.
func (b *Builder) cola(ctx context.Context, snap *ExpectedSnapshot) {
	p := snap.Profile
	if p.Location == "" {
		return
	}
	info := Catalog[CodeCOLA]
	res := b.Lookup.Resolve(ctx, info.Category, generic.Conditions{
		Paygrade:   p.Paygrade,
		Location:   p.Location,
		Dependency: generic.DependencyFor(p.HasDependents),
	}, snap.AsOf)
	if res.Missing {
		return
	}
	snap.Lines[CodeCOLA] = lineFrom(info, res, res.Record.Amount)
}

func (b *Builder) specialPays(ctx context.Context, snap *ExpectedSnapshot) {
	for _, sp := range snap.Profile.SpecialPays {
		code := specialPayCodes[sp]
		info := Catalog[code]
		res := b.Lookup.Resolve(ctx, info.Category, generic.Conditions{Paygrade: snap.Profile.Paygrade}, snap.AsOf)
		if res.Missing {
			snap.Lines[code] = missingLine(info, fmt.Sprintf("no published %s rate", code))
			continue
		}
		snap.Lines[code] = lineFrom(info, res, res.Record.Amount)
	}
}

func (b *Builder) taxes(ctx context.Context, snap *ExpectedSnapshot) {
	var base generic.Money
	for _, l := range snap.Lines {
		if Catalog[l.Code].Taxable && !l.Missing {
			base += l.Amount
		}
	}
	snap.TaxableBase = TaxableBase{FICA: base, Federal: base}

	for _, code := range []Code{CodeFICASS, CodeFICAMed} {
		info := Catalog[code]
		res := b.Lookup.Resolve(ctx, info.Category, generic.Conditions{}, snap.AsOf)
		if res.Missing {
			snap.Lines[code] = missingLine(info, "tax constant unavailable")
			continue
		}
		snap.Lines[code] = lineFrom(info, res, base.MulRate(res.Record.Rate))
	}
}

func lineFrom(info CodeInfo, res generic.LookupResult, amount generic.Money) ExpectedLine {
	return ExpectedLine{
		Code:        info.Code,
		Section:     info.Section,
		Amount:      amount,
		Category:    info.Category,
		Rate:        res.Record.Rate,
		Citation:    res.Citation(),
		Approximate: res.Approximate,
	}
}

func missingLine(info CodeInfo, reason string) ExpectedLine {
	return ExpectedLine{
		Code:     info.Code,
		Section:  info.Section,
		Category: info.Category,
		Missing:  true,
		Reason:   reason,
	}
}

func isStoreFailure(err error) bool {
	return err != nil && !errors.Is(err, generic.ErrMissingRate)
}
