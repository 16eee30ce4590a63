package travel

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/garrison-ledger/entitlement-engine/generic"
)

// =============================================================================
// DLA - Flat by paygrade band and dependency
// =============================================================================

func (c *Calculator) dla(ctx context.Context, claim Claim) *Entitlement {
	res := c.lookup(ctx, CategoryDLA, generic.Conditions{
		Paygrade:   claim.Paygrade.Band(),
		Dependency: generic.DependencyFor(claim.HasDependents),
	}, claim.AsOf)

	e := newEntitlement(TypeDLA, res, "flat")
	e.Amount = res.Record.Amount
	e.RateUsed = res.Record.Amount.Decimal()
	return e
}

// =============================================================================
// MALT - Distance x official per-mile rate
// =============================================================================

func (c *Calculator) malt(ctx context.Context, claim Claim) *Entitlement {
	res := c.lookup(ctx, CategoryMALT, generic.Conditions{}, claim.AsOf)

	e := newEntitlement(TypeMALT, res, "cents/mile")
	e.RateUsed = res.Record.Rate
	e.Amount = generic.MoneyFromDecimal(decimal.NewFromInt(*claim.DistanceMiles).Mul(res.Record.Rate))
	return e
}

// =============================================================================
// PER DIEM - Travel days x locality rate
// =============================================================================

// TravelDaysFor derives authorized travel days from distance.
func TravelDaysFor(miles int64) int {
	if miles <= 0 {
		return 0
	}
	return int((miles + MilesPerTravelDay - 1) / MilesPerTravelDay)
}

func (c *Calculator) perDiem(ctx context.Context, claim Claim, days int, derived bool) *Entitlement {
	res := c.lookup(ctx, CategoryPerDiem, generic.Conditions{Location: claim.Destination}, claim.AsOf)
	standardRate(&res, claim.Destination)

	e := newEntitlement(TypePerDiem, res, "cents/day")
	e.Amount = res.Record.Amount.MulInt(int64(days))
	e.RateUsed = res.Record.Amount.Decimal()
	if res.Fallback == fallbackStandard || (claim.Destination == "" && !res.Missing) {
		e.Confidence.Downgrade(generic.Medium, fmt.Sprintf("no locality per diem for %s, standard CONUS rate used", orUnknown(claim.Destination)))
	}
	if derived {
		e.Notes = append(e.Notes, fmt.Sprintf("%d travel days derived from distance at %d miles/day", days, MilesPerTravelDay))
	}
	return e
}

// =============================================================================
// TLE - Capped nights per leg at min(cost, ceiling)
// =============================================================================

func (c *Calculator) tle(ctx context.Context, claim Claim) (*Entitlement, []LegReview) {
	capRes := c.lookup(ctx, CategoryTLEMaxNights, generic.Conditions{}, claim.AsOf)

	e := &Entitlement{Type: TypeTLE, Unit: "max nights/leg", Confidence: generic.NewConfidence(), Citation: capRes.Citation()}
	if capRes.Missing {
		e.Confidence.Downgrade(generic.Low, "TLE night cap unavailable, claimed nights not validated")
	}
	maxNights := int(capRes.Record.Quantity)

	var reviews []LegReview
	for _, leg := range claim.TLE {
		ceiling := c.lookup(ctx, CategoryTLECeiling, generic.Conditions{Location: leg.Location}, claim.AsOf)
		standardRate(&ceiling, leg.Location)

		review := LegReview{Location: leg.Location, ClaimedNights: leg.Nights, AllowedNights: leg.Nights}
		if !capRes.Missing && leg.Nights > maxNights {
			review.AllowedNights = maxNights
			review.ExcessNights = leg.Nights - maxNights
			review.RequiresApproval = true
		}

		review.NightlyRate = leg.NightlyCost
		switch {
		case ceiling.Missing:
			e.Confidence.Downgrade(generic.Low, fmt.Sprintf("no lodging ceiling for %s, claimed cost used", orUnknown(leg.Location)))
		case ceiling.Fallback == fallbackStandard:
			e.Confidence.Downgrade(generic.Medium, fmt.Sprintf("no lodging ceiling for %s, standard CONUS ceiling used", orUnknown(leg.Location)))
			review.NightlyRate = leg.NightlyCost.Min(ceiling.Record.Amount)
		default:
			e.Confidence.Merge(lookupConfidence(ceiling, CategoryTLECeiling))
			review.NightlyRate = leg.NightlyCost.Min(ceiling.Record.Amount)
		}
		review.Amount = review.NightlyRate.MulInt(int64(review.AllowedNights))

		if review.RequiresApproval {
			e.Notes = append(e.Notes, fmt.Sprintf("%s: %d nights exceed the %d-night cap and require approval",
				orUnknown(leg.Location), review.ExcessNights, maxNights))
		}
		if e.Citation == "" {
			e.Citation = ceiling.Citation()
		}
		e.Amount += review.Amount
		reviews = append(reviews, review)
	}

	e.RateUsed = decimal.NewFromInt(int64(maxNights))
	return e, reviews
}

// =============================================================================
// PPM - Weight allowance and reimbursement
// =============================================================================

// weightAllowance is min(base + dependents x increment, max). ok is false
// when any of the three rates is missing.
func (c *Calculator) weightAllowance(ctx context.Context, claim Claim) (allowance int64, conf generic.Confidence, ok bool) {
	conf = generic.NewConfidence()

	base := c.lookup(ctx, CategoryWeightBase, generic.Conditions{
		Paygrade:   claim.Paygrade,
		Dependency: generic.DependencyFor(claim.HasDependents),
	}, claim.AsOf)
	increment := c.lookup(ctx, CategoryWeightPerDependent, generic.Conditions{}, claim.AsOf)
	maximum := c.lookup(ctx, CategoryWeightMax, generic.Conditions{}, claim.AsOf)

	for _, r := range []struct {
		res generic.LookupResult
		cat generic.Category
	}{{base, CategoryWeightBase}, {increment, CategoryWeightPerDependent}, {maximum, CategoryWeightMax}} {
		conf.Merge(lookupConfidence(r.res, r.cat))
	}
	if base.Missing || increment.Missing || maximum.Missing {
		return 0, conf, false
	}

	allowance = base.Record.Quantity + int64(claim.DependentCount)*increment.Record.Quantity
	if allowance > maximum.Record.Quantity {
		allowance = maximum.Record.Quantity
	}
	return allowance, conf, true
}

func (c *Calculator) ppm(ctx context.Context, claim Claim) (*Entitlement, *WeightCheck) {
	actual := claim.PPM.ActualWeightLbs
	allowance, weightConf, ok := c.weightAllowance(ctx, claim)

	e := &Entitlement{Type: TypePPM, Confidence: weightConf}

	var check *WeightCheck
	reimbursable := actual
	if ok {
		wc := CheckWeight(allowance, actual)
		check = &wc
		reimbursable = wc.ReimbursableLbs
		if !wc.IsValid {
			e.Notes = append(e.Notes, fmt.Sprintf("%d lbs over the %d lb allowance are not reimbursable", wc.OverageLbs, allowance))
		}
	} else {
		e.Notes = append(e.Notes, "weight allowance unavailable, full weight assumed reimbursable")
	}

	if gcc := claim.PPM.GCC; gcc != nil {
		e.Unit = "gcc"
		e.RateUsed = gcc.Decimal()
		if actual > 0 {
			e.Amount = generic.MoneyFromDecimal(gcc.Decimal().Mul(decimal.NewFromInt(reimbursable)).Div(decimal.NewFromInt(actual)))
		}
		return e, check
	}

	res := c.lookup(ctx, CategoryPPMRate, generic.Conditions{}, claim.AsOf)
	e.Confidence.Merge(lookupConfidence(res, CategoryPPMRate))
	e.Confidence.Downgrade(generic.Medium, "no government constructed cost supplied, estimated from the per-cwt rate")
	e.Unit = "cents/cwt"
	e.RateUsed = res.Record.Rate
	e.Citation = res.Citation()
	e.Amount = generic.MoneyFromDecimal(decimal.NewFromInt(reimbursable).Mul(res.Record.Rate).Div(decimal.NewFromInt(100)))
	return e, check
}

// =============================================================================
// HELPERS
// =============================================================================

// fallbackStandard marks a location-keyed lookup answered by the
// location-independent (standard CONUS) record.
const fallbackStandard = "standard"

// standardRate marks res when a location query was answered by a record
// published for every location. The store treats an empty location as a
// wildcard, so the lookup itself reports such a hit as exact.
func standardRate(res *generic.LookupResult, location string) {
	if res.Missing || location == "" || res.Record.Conditions.Location != "" {
		return
	}
	res.Approximate = true
	res.Fallback = fallbackStandard
}

func newEntitlement(t EntitlementType, res generic.LookupResult, unit string) *Entitlement {
	return &Entitlement{
		Type:       t,
		Unit:       unit,
		Citation:   res.Citation(),
		Confidence: lookupConfidence(res, generic.Category(t)),
	}
}

func lookupConfidence(res generic.LookupResult, cat generic.Category) generic.Confidence {
	conf := generic.NewConfidence()
	switch {
	case res.Missing:
		conf.Downgrade(generic.Low, fmt.Sprintf("no published %s rate", cat))
	case res.Approximate && res.Fallback != fallbackStandard:
		conf.Downgrade(generic.Medium, fmt.Sprintf("%s rate approximated from the %s table", cat, res.Fallback))
	}
	return conf
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown location"
	}
	return s
}
