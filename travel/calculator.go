package travel

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/garrison-ledger/entitlement-engine/generic"
)

// =============================================================================
// EVIDENCE FACTORS
// =============================================================================

// Factor points. They add up to 100.
const (
	PointsOrders             = 25
	PointsWeighTickets       = 20
	PointsReceipts           = 20
	PointsDistanceKnown      = 15
	PointsTravelDatesKnown   = 10
	PointsDependentsVerified = 10
)

// ScoreFactors computes the additive evidence score for a claim.
func ScoreFactors(claim Claim) ([]Factor, int) {
	_, datesKnown := claim.Days()
	factors := []Factor{
		{Name: "orders uploaded", Points: PointsOrders, Met: claim.Evidence.OrdersUploaded},
		{Name: "weigh tickets", Points: PointsWeighTickets, Met: claim.Evidence.WeighTickets},
		{Name: "receipts", Points: PointsReceipts, Met: claim.Evidence.Receipts},
		{Name: "distance known", Points: PointsDistanceKnown, Met: claim.DistanceMiles != nil},
		{Name: "travel dates known", Points: PointsTravelDatesKnown, Met: datesKnown},
		{Name: "dependents verified", Points: PointsDependentsVerified, Met: claim.Evidence.DependentsVerified},
	}
	score := 0
	for _, f := range factors {
		if f.Met {
			score += f.Points
		}
	}
	return factors, score
}

// =============================================================================
// CALCULATOR
// =============================================================================

// EstimateObserver receives per-estimate metrics.
type EstimateObserver interface {
	ObserveEstimate(level generic.Level, total generic.Money)
}

type Calculator struct {
	Lookup   *generic.Lookup
	Events   generic.EventRecorder
	Observer EstimateObserver
	Logger   *slog.Logger
}

func NewCalculator(lookup *generic.Lookup, logger *slog.Logger) *Calculator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Calculator{Lookup: lookup, Events: generic.NopRecorder{}, Logger: logger}
}

// Estimate computes every entitlement the claim supports. Only a malformed
// claim is an error; missing rates yield zero amounts at low confidence.
func (c *Calculator) Estimate(ctx context.Context, claim Claim) (Estimate, error) {
	if err := claim.Validate(); err != nil {
		return Estimate{}, err
	}

	var est Estimate
	est.DLA = c.dla(ctx, claim)

	if claim.DistanceMiles != nil {
		est.MALT = c.malt(ctx, claim)
	} else {
		est.Notes = append(est.Notes, "MALT not computed: distance unknown")
	}

	days, daysKnown := claim.Days()
	switch {
	case daysKnown:
		est.PerDiem = c.perDiem(ctx, claim, days, false)
	case claim.DistanceMiles != nil:
		est.PerDiem = c.perDiem(ctx, claim, TravelDaysFor(*claim.DistanceMiles), true)
	default:
		est.Notes = append(est.Notes, "per diem not computed: travel dates and distance unknown")
	}

	if len(claim.TLE) > 0 {
		est.TLE, est.TLELegs = c.tle(ctx, claim)
	}
	if claim.PPM != nil {
		est.PPM, est.Weight = c.ppm(ctx, claim)
	}

	est.Factors, est.Score = ScoreFactors(claim)

	est.Confidence = generic.NewConfidence()
	for _, e := range est.Entitlements() {
		est.Total += e.Amount
		est.Confidence.Merge(e.Confidence)
	}
	if level := generic.LevelForScore(est.Score); level != generic.High {
		est.Confidence.Downgrade(level, fmt.Sprintf("supporting evidence score %d/100", est.Score))
	}

	c.record(ctx, est)
	return est, nil
}

// lookup resolves a rate and reports misses as events.
func (c *Calculator) lookup(ctx context.Context, cat generic.Category, q generic.Conditions, asOf generic.Date) generic.LookupResult {
	res := c.Lookup.Resolve(ctx, cat, q, asOf)
	if res.Missing && c.Events != nil {
		props := map[string]any{"category": string(cat), "conditions": q.String(), "as_of": asOf.String()}
		if err := c.Events.RecordEvent(ctx, "rate_lookup_missing", props); err != nil {
			c.logger().DebugContext(ctx, "event dropped", "event", "rate_lookup_missing", "error", err)
		}
	}
	return res
}

func (c *Calculator) record(ctx context.Context, est Estimate) {
	c.logger().InfoContext(ctx, "travel estimated",
		"total", int64(est.Total),
		"confidence", est.Confidence.Level,
		"score", est.Score)

	if c.Observer != nil {
		c.Observer.ObserveEstimate(est.Confidence.Level, est.Total)
	}

	if c.Events == nil {
		return
	}
	types := make([]string, 0, 5)
	for _, e := range est.Entitlements() {
		types = append(types, string(e.Type))
	}
	props := map[string]any{
		"total":        int64(est.Total),
		"confidence":   string(est.Confidence.Level),
		"score":        est.Score,
		"entitlements": types,
	}
	if err := c.Events.RecordEvent(ctx, "travel_estimated", props); err != nil {
		c.logger().DebugContext(ctx, "event dropped", "event", "travel_estimated", "error", err)
	}
}

func (c *Calculator) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}
