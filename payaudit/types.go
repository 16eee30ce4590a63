// Package payaudit reconciles a member's pay statement against the pay the
// published rate tables say they should receive.
// It uses the generic engine for rate lookups, money and confidence.
package payaudit

import (
	"fmt"
	"strings"

	"github.com/garrison-ledger/entitlement-engine/generic"
)

// =============================================================================
// SECTIONS - Fixed order of the statement and of the variance waterfall
// =============================================================================

type Section string

const (
	SectionAllowance  Section = "ALLOWANCE"
	SectionTax        Section = "TAX"
	SectionDeduction  Section = "DEDUCTION"
	SectionAllotment  Section = "ALLOTMENT"
	SectionDebt       Section = "DEBT"
	SectionAdjustment Section = "ADJUSTMENT"
)

// SectionOrder is the waterfall order.
var SectionOrder = []Section{
	SectionAllowance,
	SectionTax,
	SectionDeduction,
	SectionAllotment,
	SectionDebt,
	SectionAdjustment,
}

// ParseSection accepts the section names case-insensitively, plus a few
// plural forms seen on statements.
func ParseSection(s string) (Section, error) {
	v := strings.ToUpper(strings.TrimSpace(s))
	for _, candidate := range []string{v, strings.TrimSuffix(v, "S"), strings.TrimSuffix(v, "ES")} {
		for _, sec := range SectionOrder {
			if string(sec) == candidate {
				return sec, nil
			}
		}
		if candidate == "ENTITLEMENT" {
			return SectionAllowance, nil
		}
	}
	return "", &generic.InvalidInputError{Field: "section", Value: s, Reason: "unknown section"}
}

// UnmarshalText accepts any spelling ParseSection does, so statement
// sections decode from JSON as "allowance", "Taxes" or "ENTITLEMENT".
func (s *Section) UnmarshalText(b []byte) error {
	sec, err := ParseSection(string(b))
	if err != nil {
		return err
	}
	*s = sec
	return nil
}

// NetEffect is +1 for sections that add to net pay and -1 for those that
// subtract from it.
func (s Section) NetEffect() generic.Money {
	switch s {
	case SectionAllowance, SectionAdjustment:
		return 1
	default:
		return -1
	}
}

func (s Section) index() int {
	for i, sec := range SectionOrder {
		if sec == s {
			return i
		}
	}
	return len(SectionOrder)
}

// =============================================================================
// LINE ITEMS
// =============================================================================

// LineItem is one line of a pay statement. Amounts are positive except
// adjustments, which carry their own sign.
type LineItem struct {
	Code    string        `json:"code"`
	Section Section       `json:"section"`
	Amount  generic.Money `json:"amount"`
}

// Validate rejects lines that cannot be reconciled.
func (l LineItem) Validate() error {
	if strings.TrimSpace(l.Code) == "" {
		return &generic.InvalidInputError{Field: "line.code", Value: l.Code, Reason: "required"}
	}
	if l.Section.index() == len(SectionOrder) {
		return &generic.InvalidInputError{Field: "line.section", Value: l.Section, Reason: "unknown section"}
	}
	if l.Amount.IsNegative() && l.Section != SectionAdjustment {
		return &generic.InvalidInputError{Field: "line.amount", Value: l.Amount, Reason: "negative amount outside adjustments"}
	}
	return nil
}

// =============================================================================
// MEMBER PROFILE
// =============================================================================

// SpecialPay is a special or incentive pay the member is flagged for.
type SpecialPay string

const (
	PaySDAP SpecialPay = "SDAP" // special duty assignment pay
	PayHDP  SpecialPay = "HDP"  // hardship duty pay
	PayFLPP SpecialPay = "FLPP" // foreign language proficiency pay
	PaySea  SpecialPay = "SEA"  // career sea pay
	PayJump SpecialPay = "JUMP" // parachute duty
	PayDive SpecialPay = "DIVE" // dive duty
	PayHFP  SpecialPay = "HFP"  // hostile fire / imminent danger pay
)

var knownSpecialPays = map[SpecialPay]bool{
	PaySDAP: true, PayHDP: true, PayFLPP: true, PaySea: true, PayJump: true, PayDive: true, PayHFP: true,
}

// MemberProfile is the request-scoped description of a member.
type MemberProfile struct {
	Paygrade       generic.Paygrade `json:"paygrade"`
	YearsOfService int              `json:"years_of_service"`
	Location       string           `json:"location"` // MHA code, e.g. "NC182"
	HasDependents  bool             `json:"has_dependents"`
	SpecialPays    []SpecialPay     `json:"special_pays,omitempty"`
}

// Validate normalizes the paygrade and rejects malformed profiles.
func (p *MemberProfile) Validate() error {
	pg, err := generic.ParsePaygrade(string(p.Paygrade))
	if err != nil {
		return err
	}
	p.Paygrade = pg
	if p.YearsOfService < 0 || p.YearsOfService > 60 {
		return &generic.InvalidInputError{Field: "years_of_service", Value: p.YearsOfService, Reason: "must be between 0 and 60"}
	}
	p.Location = strings.ToUpper(strings.TrimSpace(p.Location))
	for _, sp := range p.SpecialPays {
		if !knownSpecialPays[sp] {
			return &generic.InvalidInputError{Field: "special_pays", Value: sp, Reason: "unknown special pay"}
		}
	}
	return nil
}

// Key identifies the profile for snapshot caching.
func (p MemberProfile) Key() string {
	pays := make([]string, len(p.SpecialPays))
	for i, sp := range p.SpecialPays {
		pays[i] = string(sp)
	}
	return fmt.Sprintf("%s|%d|%s|%t|%s", p.Paygrade, p.YearsOfService, p.Location, p.HasDependents, strings.Join(pays, ","))
}

// =============================================================================
// RESULT TYPES
// =============================================================================

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityWarning:
		return 1
	default:
		return 2
	}
}

// Flag is one variance between the statement and the expected pay.
// Explanations never contain amounts; masking relies on that.
type Flag struct {
	Code        Code          `json:"code"`
	Section     Section       `json:"section"`
	Expected    generic.Money `json:"expected"`
	Actual      generic.Money `json:"actual"`
	Delta       generic.Money `json:"delta"`
	Severity    Severity      `json:"severity"`
	Explanation string        `json:"explanation"`
}

// WaterfallStep is the net-pay effect of one section.
type WaterfallStep struct {
	Section Section       `json:"section"`
	Delta   generic.Money `json:"delta"`
	Running generic.Money `json:"running"`
}

// Waterfall is the section-ordered breakdown of actual minus expected net pay.
type Waterfall struct {
	Steps []WaterfallStep `json:"steps"`
}

// Sum adds all steps.
func (w Waterfall) Sum() generic.Money {
	var total generic.Money
	for _, s := range w.Steps {
		total += s.Delta
	}
	return total
}

// SectionTotal compares one section.
type SectionTotal struct {
	Section  Section       `json:"section"`
	Expected generic.Money `json:"expected"`
	Actual   generic.Money `json:"actual"`
}

// Totals carries net pay on both sides and per-section totals.
type Totals struct {
	ExpectedNet generic.Money  `json:"expected_net"`
	ActualNet   generic.Money  `json:"actual_net"`
	Sections    []SectionTotal `json:"sections"`
}

// HistoryMarker points at a prior audit for the same member.
type HistoryMarker struct {
	AuditID   string        `json:"audit_id"`
	AsOf      generic.Date  `json:"as_of"`
	NetDelta  generic.Money `json:"net_delta"`
	FlagCount int           `json:"flag_count"`
}
