/*
compare.go - Comparator and variance waterfall

PURPOSE:
  Diffs the actual statement lines against the expected snapshot. Produces
  variance flags per code and a section-ordered waterfall explaining the
  gap between actual and expected net pay.

CODE CLASSES:
  Derived:      delta = actual - expected; flagged when |delta| > tolerance
  Elected:      accepted as reported; expected mirrors actual, no flag
  Unrecognized: info flag; expected mirrors actual like an elected code.
                Grouped per reported section, so the section's sign holds.

SEVERITY:
  present on one side only        -> critical
  amount mismatch                 -> warning
  expected side has no rate       -> warning
  unrecognized code               -> info

WATERFALL INVARIANT:
  sum(steps) == actual net pay - expected net pay

  Steps follow SectionOrder. A step is the net-pay effect of its section
  (allowances and adjustments add, the rest subtract). When the caller
  supplies an actual net pay that differs from what the lines add up to,
  the residual is folded into the Adjustments step and flagged as
  UNEXPLAINED, so the invariant holds for any input.
*/
package payaudit

import (
	"slices"
	"sort"

	"github.com/garrison-ledger/entitlement-engine/generic"
)

// Comparison is the comparator output.
type Comparison struct {
	Flags          []Flag    `json:"flags"`
	Waterfall      Waterfall `json:"waterfall"`
	Totals         Totals    `json:"totals"`
	NetPaySupplied bool      `json:"net_pay_supplied"`
	HasTaxLines    bool      `json:"has_tax_lines"`
	Unrecognized   []string  `json:"unrecognized,omitempty"`
}

type actualGroup struct {
	code       Code
	section    Section
	amount     generic.Money
	recognized bool
	kind       Kind
}

// lineKey identifies one reconciled line. Recognized codes always sit in
// their catalog section; unrecognized codes keep the section they were
// reported in, so the same code may appear once per section.
type lineKey struct {
	code    Code
	section Section
}

// Compare reconciles actual lines against expected. netPayActual may be nil.
// Lines must already be validated.
func Compare(expected ExpectedSnapshot, actual []LineItem, netPayActual *generic.Money) Comparison {
	groups := groupActual(actual)

	cmp := Comparison{Flags: []Flag{}}
	expectedBySection := make(map[Section]generic.Money)
	actualBySection := make(map[Section]generic.Money)

	for _, key := range unionKeys(expected, groups) {
		code, section := key.code, key.section
		exp, hasExp := expected.Lines[code]
		act, hasAct := groups[key]

		if hasAct && act.section == SectionTax {
			cmp.HasTaxLines = true
		}

		// Elected and unrecognized codes are taken as reported.
		if hasAct && (!act.recognized || act.kind == KindElected) {
			expectedBySection[section] += act.amount
			actualBySection[section] += act.amount
			if !act.recognized {
				if !slices.Contains(cmp.Unrecognized, string(code)) {
					cmp.Unrecognized = append(cmp.Unrecognized, string(code))
				}
				cmp.Flags = append(cmp.Flags, Flag{
					Code:        code,
					Section:     section,
					Expected:    act.amount,
					Actual:      act.amount,
					Severity:    SeverityInfo,
					Explanation: "Unrecognized line code; included as reported and not verified.",
				})
			}
			continue
		}

		var e, a generic.Money
		if hasExp {
			e = exp.Amount
		}
		if hasAct {
			a = act.amount
		}
		expectedBySection[section] += e
		actualBySection[section] += a

		if flag, ok := derivedFlag(code, section, exp, hasExp, a, hasAct); ok {
			cmp.Flags = append(cmp.Flags, flag)
		}
	}

	expectedNet, linesNet := net(expectedBySection), net(actualBySection)
	actualNet := linesNet
	if netPayActual != nil {
		cmp.NetPaySupplied = true
		actualNet = *netPayActual
	}
	residual := actualNet - linesNet

	var running generic.Money
	for _, sec := range SectionOrder {
		delta := sec.NetEffect() * (actualBySection[sec] - expectedBySection[sec])
		if sec == SectionAdjustment {
			delta += residual
		}
		running += delta
		cmp.Waterfall.Steps = append(cmp.Waterfall.Steps, WaterfallStep{Section: sec, Delta: delta, Running: running})
		cmp.Totals.Sections = append(cmp.Totals.Sections, SectionTotal{
			Section:  sec,
			Expected: expectedBySection[sec],
			Actual:   actualBySection[sec],
		})
	}

	if residual != 0 {
		cmp.Flags = append(cmp.Flags, Flag{
			Code:        CodeUnexplained,
			Section:     SectionAdjustment,
			Expected:    linesNet,
			Actual:      actualNet,
			Delta:       residual,
			Severity:    SeverityWarning,
			Explanation: "Reported net pay does not equal the sum of the statement lines.",
		})
	}

	cmp.Totals.ExpectedNet = expectedNet
	cmp.Totals.ActualNet = actualNet
	return cmp
}

func derivedFlag(code Code, section Section, exp ExpectedLine, hasExp bool, actual generic.Money, hasAct bool) (Flag, bool) {
	flag := Flag{Code: code, Section: section, Actual: actual}
	if hasExp {
		flag.Expected = exp.Amount
	}
	flag.Delta = flag.Actual - flag.Expected

	switch {
	case hasExp && exp.Missing:
		if !hasAct {
			return Flag{}, false
		}
		flag.Severity = SeverityWarning
		flag.Explanation = "No published rate was found for this line, so it could not be verified."
	case hasExp && !hasAct:
		if exp.Amount == 0 {
			return Flag{}, false
		}
		flag.Severity = SeverityCritical
		flag.Explanation = "Expected on the statement for this profile but not reported."
	case !hasExp && hasAct:
		flag.Severity = SeverityCritical
		flag.Explanation = "Reported on the statement but not expected for this profile."
	default:
		if flag.Delta.Abs() <= Catalog[code].Tolerance {
			return Flag{}, false
		}
		flag.Severity = SeverityWarning
		if flag.Delta > 0 {
			flag.Explanation = "Reported amount is higher than the published rate."
		} else {
			flag.Explanation = "Reported amount is lower than the published rate."
		}
	}
	return flag, true
}

func groupActual(lines []LineItem) map[lineKey]*actualGroup {
	groups := make(map[lineKey]*actualGroup)
	for _, l := range lines {
		n := Normalize(l.Code)
		key := lineKey{code: n.Code, section: l.Section}
		info, known := n.Info()
		if known {
			key.section = info.Section
		}
		g, ok := groups[key]
		if !ok {
			g = &actualGroup{code: n.Code, section: key.section, recognized: known, kind: info.Kind}
			groups[key] = g
		}
		g.amount += l.Amount
	}
	return groups
}

// unionKeys returns every line on either side in section order, then by code.
func unionKeys(expected ExpectedSnapshot, groups map[lineKey]*actualGroup) []lineKey {
	seen := make(map[lineKey]bool)
	keys := make([]lineKey, 0, len(expected.Lines)+len(groups))
	for code, l := range expected.Lines {
		key := lineKey{code: code, section: l.Section}
		seen[key] = true
		keys = append(keys, key)
	}
	for key := range groups {
		if !seen[key] {
			keys = append(keys, key)
		}
	}

	sort.Slice(keys, func(i, j int) bool {
		si, sj := keys[i].section.index(), keys[j].section.index()
		if si != sj {
			return si < sj
		}
		return keys[i].code < keys[j].code
	})
	return keys
}

func net(bySection map[Section]generic.Money) generic.Money {
	var total generic.Money
	for sec, amt := range bySection {
		total += sec.NetEffect() * amt
	}
	return total
}
