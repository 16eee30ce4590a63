package payaudit

import (
	"fmt"
	"strings"

	"github.com/garrison-ledger/entitlement-engine/generic"
)

// Score rates how much the audit can be trusted. It is a deterministic
// cascade starting at high; each issue lowers the level to at most its own
// level and the lowest wins.
//
//	location rate unavailable     -> low
//	other rates missing           -> medium
//	rates resolved by fallback    -> medium
//	no actual net pay supplied    -> medium
//	no tax lines on the statement -> medium
func Score(expected ExpectedSnapshot, cmp Comparison, profile MemberProfile) generic.Confidence {
	c := generic.NewConfidence()

	if expected.LocationRateMissing {
		loc := profile.Location
		if loc == "" {
			loc = "unknown"
		}
		c.Downgrade(generic.Low, fmt.Sprintf("housing rate unavailable for location %s", loc))
	}

	var otherMissing []string
	for _, cat := range expected.MissingCategories() {
		if cat != string(Catalog[CodeBAH].Category) {
			otherMissing = append(otherMissing, cat)
		}
	}
	if len(otherMissing) > 0 {
		c.Downgrade(generic.Medium, "rates unavailable: "+strings.Join(otherMissing, ", "))
	}

	if approx := expected.ApproximateCategories(); len(approx) > 0 {
		c.Downgrade(generic.Medium, "rates approximated from a broader table: "+strings.Join(approx, ", "))
	}

	if !cmp.NetPaySupplied {
		c.Downgrade(generic.Medium, "actual net pay not supplied")
	}

	if !cmp.HasTaxLines {
		c.Downgrade(generic.Medium, "no tax lines on the statement")
	}

	return c
}
