/*
mask.go - Tier masking policy

PURPOSE:
  Controls how much of an audit a caller sees. The caller's subscription
  tier is resolved once per request into a TierPolicy value and threaded
  through explicitly; nothing here reads globals.

POLICIES:
  Unrestricted: full detail, exact amounts, history markers
  Restricted:   flags sorted critical -> warning -> info and capped,
                exact amounts replaced by a coarse range with direction,
                history markers stripped
  nil:          treated as Restricted (most restrictive view)

GUARANTEES:
  Mask is pure and total: it never errors and never mutates its input.
  Restricted visible flags are always a prefix of the severity-sorted
  full list, and HiddenFlagCount == total - visible.
*/
package payaudit

import (
	"sort"
	"strings"

	"github.com/garrison-ledger/entitlement-engine/generic"
)

// Tier is the caller's subscription tier.
type Tier string

const (
	TierRestricted   Tier = "restricted"
	TierUnrestricted Tier = "unrestricted"
)

// TierPolicy is resolved once per request from the caller's tier.
type TierPolicy struct {
	// MaxVisibleFlags caps visible flags; negative means no cap.
	MaxVisibleFlags    int
	ExposeExactAmounts bool
	AllowHistory       bool
}

// RestrictedFlagLimit is how many flags a restricted caller sees.
const RestrictedFlagLimit = 3

func UnrestrictedPolicy() *TierPolicy {
	return &TierPolicy{MaxVisibleFlags: -1, ExposeExactAmounts: true, AllowHistory: true}
}

func RestrictedPolicy() *TierPolicy {
	return &TierPolicy{MaxVisibleFlags: RestrictedFlagLimit}
}

// PolicyForTier maps a tier to its policy, ignoring case. Unknown tiers
// yield nil, which Mask treats as the most restrictive view.
func PolicyForTier(t Tier) *TierPolicy {
	switch Tier(strings.ToLower(strings.TrimSpace(string(t)))) {
	case TierUnrestricted:
		return UnrestrictedPolicy()
	case TierRestricted:
		return RestrictedPolicy()
	default:
		return nil
	}
}

// =============================================================================
// VARIANCE BUCKETS
// =============================================================================

const (
	RangeSmall  = "$0–50"
	RangeMedium = "$50–200"
	RangeLarge  = "$200+"

	DirectionOwed        = "may be owed"
	DirectionOverpayment = "possible overpayment"
	DirectionNone        = "no change"
)

// Bucket replaces an exact variance with a coarse range.
func Bucket(delta generic.Money) string {
	abs := delta.Abs()
	switch {
	case abs < 5000:
		return RangeSmall
	case abs < 20000:
		return RangeMedium
	default:
		return RangeLarge
	}
}

// Direction names the sign of a variance without its size.
func Direction(delta generic.Money) string {
	switch {
	case delta > 0:
		return DirectionOwed
	case delta < 0:
		return DirectionOverpayment
	default:
		return DirectionNone
	}
}

// =============================================================================
// MASKED RESULT
// =============================================================================

// MaskedFlag is the public view of a Flag. Exact amounts are nil when the
// policy hides them.
type MaskedFlag struct {
	Code        Code           `json:"code"`
	Section     Section        `json:"section"`
	Severity    Severity       `json:"severity"`
	Explanation string         `json:"explanation"`
	Expected    *generic.Money `json:"expected,omitempty"`
	Actual      *generic.Money `json:"actual,omitempty"`
	Delta       *generic.Money `json:"delta,omitempty"`
	Range       string         `json:"range,omitempty"`
	Direction   string         `json:"direction"`
}

// MaskedStep is the public view of a waterfall step.
type MaskedStep struct {
	Section   Section        `json:"section"`
	Delta     *generic.Money `json:"delta,omitempty"`
	Range     string         `json:"range,omitempty"`
	Direction string         `json:"direction"`
}

// MaskedResult is what leaves the engine.
type MaskedResult struct {
	AuditID         string             `json:"audit_id"`
	AsOf            generic.Date       `json:"as_of"`
	Restricted      bool               `json:"restricted"`
	Flags           []MaskedFlag       `json:"flags"`
	HiddenFlagCount int                `json:"hidden_flag_count"`
	Totals          *Totals            `json:"totals,omitempty"`
	NetVariance     MaskedStep         `json:"net_variance"`
	Waterfall       []MaskedStep       `json:"waterfall"`
	Confidence      generic.Confidence `json:"confidence"`
	History         []HistoryMarker    `json:"history,omitempty"`
}

// Mask projects a full result through policy.
func Mask(result AuditResult, policy *TierPolicy) MaskedResult {
	if policy == nil {
		policy = RestrictedPolicy()
	}

	flags := make([]Flag, len(result.Comparison.Flags))
	copy(flags, result.Comparison.Flags)

	restricted := !policy.ExposeExactAmounts || policy.MaxVisibleFlags >= 0 || !policy.AllowHistory
	if policy.MaxVisibleFlags >= 0 {
		sort.SliceStable(flags, func(i, j int) bool {
			return flags[i].Severity.rank() < flags[j].Severity.rank()
		})
	}

	visible := flags
	if policy.MaxVisibleFlags >= 0 && len(flags) > policy.MaxVisibleFlags {
		visible = flags[:policy.MaxVisibleFlags]
	}

	out := MaskedResult{
		AuditID:         result.ID,
		AsOf:            result.AsOf,
		Restricted:      restricted,
		Flags:           make([]MaskedFlag, 0, len(visible)),
		HiddenFlagCount: len(flags) - len(visible),
		NetVariance:     maskStep("", result.Comparison.Waterfall.Sum(), policy.ExposeExactAmounts),
		Waterfall:       make([]MaskedStep, 0, len(result.Comparison.Waterfall.Steps)),
		Confidence:      copyConfidence(result.Confidence),
	}

	for _, f := range visible {
		out.Flags = append(out.Flags, maskFlag(f, policy.ExposeExactAmounts))
	}
	for _, s := range result.Comparison.Waterfall.Steps {
		out.Waterfall = append(out.Waterfall, maskStep(s.Section, s.Delta, policy.ExposeExactAmounts))
	}

	if policy.ExposeExactAmounts {
		totals := result.Comparison.Totals
		totals.Sections = append([]SectionTotal(nil), totals.Sections...)
		out.Totals = &totals
	}

	if policy.AllowHistory && len(result.History) > 0 {
		out.History = append([]HistoryMarker(nil), result.History...)
	}
	return out
}

func maskFlag(f Flag, exact bool) MaskedFlag {
	mf := MaskedFlag{
		Code:        f.Code,
		Section:     f.Section,
		Severity:    f.Severity,
		Explanation: f.Explanation,
		Direction:   Direction(f.Delta),
	}
	if exact {
		expected, actual, delta := f.Expected, f.Actual, f.Delta
		mf.Expected, mf.Actual, mf.Delta = &expected, &actual, &delta
	} else {
		mf.Range = Bucket(f.Delta)
	}
	return mf
}

func maskStep(section Section, delta generic.Money, exact bool) MaskedStep {
	ms := MaskedStep{Section: section, Direction: Direction(delta)}
	if exact {
		d := delta
		ms.Delta = &d
	} else {
		ms.Range = Bucket(delta)
	}
	return ms
}

func copyConfidence(c generic.Confidence) generic.Confidence {
	return generic.Confidence{Level: c.Level, Reasons: append([]string{}, c.Reasons...)}
}
