/*
Package travel estimates PCS travel entitlements from the regulation rate
table and the facts of a claim.

PURPOSE:
  A permanent change of station (PCS) move can carry five separate
  entitlements. Each is computed independently from the rule lookup
  service and carries its own amount, rate, citation and confidence; the
  estimate then aggregates them.

ENTITLEMENTS:
  DLA       Dislocation allowance: flat by (paygrade band, dependency)
  TLE       Temporary lodging: nights x min(cost, ceiling), capped per leg
  MALT      Mileage in lieu of transportation: miles x per-mile rate
  PER_DIEM  Travel days x locality daily rate
  PPM       Personally procured move: weight-capped against the
            government constructed cost (GCC)

CONFIDENCE:
  Two inputs, one model. Each entitlement downgrades from high as its
  lookups miss or fall back. Separately, the claim's supporting evidence
  earns an additive 0-100 factor score bucketed with LevelForScore. The
  estimate reports the lower of the two.

SEE ALSO:
  - calculator.go: Estimate and validation
  - entitlements.go: Per-entitlement rules
  - generic/lookup.go: Fallback chain and approximate marking
*/
package travel

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/garrison-ledger/entitlement-engine/generic"
)

// EntitlementType names a travel entitlement.
type EntitlementType string

const (
	TypeDLA     EntitlementType = "DLA"
	TypeTLE     EntitlementType = "TLE"
	TypeMALT    EntitlementType = "MALT"
	TypePerDiem EntitlementType = "PER_DIEM"
	TypePPM     EntitlementType = "PPM"
)

// Rate table categories used by the calculator.
const (
	CategoryDLA                generic.Category = "DLA"
	CategoryMALT               generic.Category = "MALT"
	CategoryPerDiem            generic.Category = "PER_DIEM"
	CategoryTLECeiling         generic.Category = "TLE_CEILING"
	CategoryTLEMaxNights       generic.Category = "TLE_MAX_NIGHTS"
	CategoryWeightBase         generic.Category = "WEIGHT_BASE"
	CategoryWeightPerDependent generic.Category = "WEIGHT_PER_DEPENDENT"
	CategoryWeightMax          generic.Category = "WEIGHT_MAX"
	CategoryPPMRate            generic.Category = "PPM_CWT"
)

// MilesPerTravelDay converts a driving distance into authorized travel days.
const MilesPerTravelDay = 350

// Entitlement is one computed travel entitlement.
type Entitlement struct {
	Type       EntitlementType    `json:"type"`
	Amount     generic.Money      `json:"amount"`
	RateUsed   decimal.Decimal    `json:"rate_used"`
	Unit       string             `json:"unit"`
	Citation   string             `json:"citation,omitempty"`
	Confidence generic.Confidence `json:"confidence"`
	Notes      []string           `json:"notes,omitempty"`
}

// =============================================================================
// CLAIM
// =============================================================================

// TLELeg is one stretch of temporary lodging, at the old or new station.
type TLELeg struct {
	Location    string        `json:"location"`
	Nights      int           `json:"nights"`
	NightlyCost generic.Money `json:"nightly_cost"`
}

// PPMClaim describes a self-move.
type PPMClaim struct {
	ActualWeightLbs int64 `json:"actual_weight_lbs"`
	// GCC is the government constructed cost for the move, when known.
	GCC *generic.Money `json:"gcc,omitempty"`
}

// Evidence records which supporting documents the claim has.
type Evidence struct {
	OrdersUploaded     bool `json:"orders_uploaded"`
	WeighTickets       bool `json:"weigh_tickets"`
	Receipts           bool `json:"receipts"`
	DependentsVerified bool `json:"dependents_verified"`
}

// Claim is the request-scoped set of facts for an estimate.
type Claim struct {
	Paygrade       generic.Paygrade `json:"paygrade"`
	HasDependents  bool             `json:"has_dependents"`
	DependentCount int              `json:"dependent_count"`
	Origin         string           `json:"origin"`
	Destination    string           `json:"destination"`
	DistanceMiles  *int64           `json:"distance_miles,omitempty"`
	TravelDays     *int             `json:"travel_days,omitempty"`
	DepartureDate  generic.Date     `json:"departure_date"`
	ArrivalDate    generic.Date     `json:"arrival_date"`
	AsOf           generic.Date     `json:"as_of"`
	TLE            []TLELeg         `json:"tle,omitempty"`
	PPM            *PPMClaim        `json:"ppm,omitempty"`
	Evidence       Evidence         `json:"evidence"`
}

// Validate normalizes the claim and rejects malformed facts. Nothing is
// defaulted: a negative quantity is an error, not a zero.
func (c *Claim) Validate() error {
	pg, err := generic.ParsePaygrade(string(c.Paygrade))
	if err != nil {
		return err
	}
	c.Paygrade = pg

	if c.AsOf.IsZero() {
		return invalid("as_of", "", "required")
	}
	if c.DependentCount < 0 {
		return invalid("dependent_count", c.DependentCount, "must not be negative")
	}
	if c.DependentCount > 0 && !c.HasDependents {
		return invalid("dependent_count", c.DependentCount, "dependents counted but has_dependents is false")
	}
	if c.DistanceMiles != nil && *c.DistanceMiles < 0 {
		return invalid("distance_miles", *c.DistanceMiles, "must not be negative")
	}
	if c.TravelDays != nil && *c.TravelDays < 0 {
		return invalid("travel_days", *c.TravelDays, "must not be negative")
	}

	if !c.DepartureDate.IsZero() && !c.ArrivalDate.IsZero() && !c.DepartureDate.BeforeOrEqual(c.ArrivalDate) {
		return invalid("arrival_date", c.ArrivalDate, "before departure_date")
	}

	c.Origin = normalizeLocation(c.Origin)
	c.Destination = normalizeLocation(c.Destination)

	for i := range c.TLE {
		leg := &c.TLE[i]
		if leg.Nights < 0 {
			return invalid("tle.nights", leg.Nights, "must not be negative")
		}
		if leg.NightlyCost.IsNegative() {
			return invalid("tle.nightly_cost", leg.NightlyCost, "must not be negative")
		}
		leg.Location = normalizeLocation(leg.Location)
	}

	if c.PPM != nil {
		if c.PPM.ActualWeightLbs < 0 {
			return invalid("ppm.actual_weight_lbs", c.PPM.ActualWeightLbs, "must not be negative")
		}
		if c.PPM.GCC != nil && c.PPM.GCC.IsNegative() {
			return invalid("ppm.gcc", *c.PPM.GCC, "must not be negative")
		}
	}
	return nil
}

// Days returns the per diem travel days the claim states. An explicit
// travel_days wins; otherwise departure and arrival dates count both end
// days. ok is false when neither is given.
func (c Claim) Days() (days int, ok bool) {
	if c.TravelDays != nil {
		return *c.TravelDays, true
	}
	if c.DepartureDate.IsZero() || c.ArrivalDate.IsZero() {
		return 0, false
	}
	return generic.DaysBetween(c.DepartureDate, c.ArrivalDate) + 1, true
}

func invalid(field string, value any, reason string) error {
	return &generic.InvalidInputError{Field: field, Value: value, Reason: reason}
}

func normalizeLocation(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// =============================================================================
// RESULTS
// =============================================================================

// WeightCheck compares a shipment weight against the allowance.
type WeightCheck struct {
	AllowanceLbs    int64 `json:"allowance_lbs"`
	ActualLbs       int64 `json:"actual_lbs"`
	ReimbursableLbs int64 `json:"reimbursable_lbs"`
	// OverageLbs is the non-reimbursable weight above the allowance.
	OverageLbs int64 `json:"overage_lbs"`
	IsValid    bool  `json:"is_valid"`
}

// CheckWeight reports whether actual fits the allowance and by how much it
// does not.
func CheckWeight(allowance, actual int64) WeightCheck {
	wc := WeightCheck{AllowanceLbs: allowance, ActualLbs: actual, ReimbursableLbs: actual, IsValid: true}
	if actual > allowance {
		wc.ReimbursableLbs = allowance
		wc.OverageLbs = actual - allowance
		wc.IsValid = false
	}
	return wc
}

// LegReview is the per-leg TLE outcome.
type LegReview struct {
	Location         string        `json:"location"`
	ClaimedNights    int           `json:"claimed_nights"`
	AllowedNights    int           `json:"allowed_nights"`
	ExcessNights     int           `json:"excess_nights"`
	RequiresApproval bool          `json:"requires_approval"`
	NightlyRate      generic.Money `json:"nightly_rate"`
	Amount           generic.Money `json:"amount"`
}

// Factor is one line of the evidence score.
type Factor struct {
	Name   string `json:"name"`
	Points int    `json:"points"`
	Met    bool   `json:"met"`
}

// Estimate aggregates every entitlement for a claim. An entitlement is nil
// when the claim gives nothing to compute it from.
type Estimate struct {
	DLA        *Entitlement       `json:"dla,omitempty"`
	TLE        *Entitlement       `json:"tle,omitempty"`
	MALT       *Entitlement       `json:"malt,omitempty"`
	PerDiem    *Entitlement       `json:"per_diem,omitempty"`
	PPM        *Entitlement       `json:"ppm,omitempty"`
	Weight     *WeightCheck       `json:"weight,omitempty"`
	TLELegs    []LegReview        `json:"tle_legs,omitempty"`
	Total      generic.Money      `json:"total"`
	Confidence generic.Confidence `json:"confidence"`
	Factors    []Factor           `json:"factors"`
	Score      int                `json:"score"`
	Notes      []string           `json:"notes,omitempty"`
}

// Entitlements returns the computed entitlements in a fixed order.
func (e Estimate) Entitlements() []*Entitlement {
	var out []*Entitlement
	for _, ent := range []*Entitlement{e.DLA, e.TLE, e.MALT, e.PerDiem, e.PPM} {
		if ent != nil {
			out = append(out, ent)
		}
	}
	return out
}
