package payaudit_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/garrison-ledger/entitlement-engine/generic"
	"github.com/garrison-ledger/entitlement-engine/generic/store"
	"github.com/garrison-ledger/entitlement-engine/payaudit"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var asOf = generic.NewDate(2025, time.March, 1)

func flat(cat string, cond generic.Conditions, cents int64) generic.RateRecord {
	return generic.RateRecord{
		Category:      generic.Category(cat),
		Conditions:    cond,
		Amount:        generic.Cents(cents),
		EffectiveDate: generic.MustParseDate("2025-01-01"),
		Citation:      cat + " table 2025",
	}
}

func fraction(cat, rate string) generic.RateRecord {
	return generic.RateRecord{
		Category:      generic.Category(cat),
		Rate:          decimal.RequireFromString(rate),
		EffectiveDate: generic.MustParseDate("2025-01-01"),
		Citation:      cat + " 2025",
	}
}

func basePay(grade string, years int, cents int64) generic.RateRecord {
	return flat("BASEPAY", generic.Conditions{Paygrade: generic.Paygrade(grade), YearsBracket: generic.Years(years)}, cents)
}

// rateTable is the 2025 table for the scenario profile plus any extra rows.
func rateTable(extra ...generic.RateRecord) *store.Memory {
	records := []generic.RateRecord{
		basePay("E-5", 4, 352290),
		basePay("E-5", 6, 379590),
		basePay("E-5", 8, 397800),
		basePay("E-1", 0, 201780),
		basePay("E-1", 2, 201780),
		basePay("E-1", 4, 201780),
		flat("BAH", generic.Conditions{Paygrade: "E-5", Location: "NC182", Dependency: generic.WithDependents}, 195000),
		flat("BAH", generic.Conditions{Paygrade: "E-5", Location: "NC182", Dependency: generic.WithoutDependents}, 156000),
		flat("BAS", generic.Conditions{Paygrade: generic.BandSeniorEnlisted}, 46577),
		flat("BAS", generic.Conditions{Paygrade: generic.BandJuniorEnlisted}, 46577),
		fraction("FICA_SS", "0.062"),
		fraction("FICA_MED", "0.0145"),
	}
	return store.NewMemory(append(records, extra...)...)
}

func newBuilder() *payaudit.Builder {
	return payaudit.NewBuilder(generic.NewLookup(rateTable()))
}

func scenarioProfile() payaudit.MemberProfile {
	return payaudit.MemberProfile{Paygrade: "E-5", YearsOfService: 6, Location: "NC182", HasDependents: true}
}

// scenarioLines is a statement for scenarioProfile whose only variance is
// BAH reported at 2100.00 against a published 1950.00.
func scenarioLines() []payaudit.LineItem {
	return []payaudit.LineItem{
		{Code: "BASIC PAY", Section: payaudit.SectionAllowance, Amount: 379590},
		{Code: "BAH W/DEP", Section: payaudit.SectionAllowance, Amount: 210000},
		{Code: "BAS", Section: payaudit.SectionAllowance, Amount: 46577},
		{Code: "FICA-SOC SEC", Section: payaudit.SectionTax, Amount: 23535},
		{Code: "FICA-MEDICARE", Section: payaudit.SectionTax, Amount: 5504},
		{Code: "FED TAX", Section: payaudit.SectionTax, Amount: 30000},
	}
}

// scenarioNet is what scenarioLines add up to.
const scenarioNet = generic.Money(379590 + 210000 + 46577 - 23535 - 5504 - 30000)

func money(m generic.Money) *generic.Money { return &m }

func newAuditor(tier payaudit.TierResolver) *payaudit.Auditor {
	a := payaudit.NewAuditor(newBuilder(), tier, nil)
	a.NewID = func() string { return "audit-1" }
	return a
}

type MockHistory struct {
	mock.Mock
}

func (m *MockHistory) History(ctx context.Context, userID string, limit int) ([]payaudit.HistoryMarker, error) {
	args := m.Called(ctx, userID, limit)
	markers, _ := args.Get(0).([]payaudit.HistoryMarker)
	return markers, args.Error(1)
}

type MockTiers struct {
	mock.Mock
}

func (m *MockTiers) GetTier(ctx context.Context, userID string) (payaudit.Tier, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(payaudit.Tier), args.Error(1)
}

// =============================================================================
// BUILDER TESTS
// =============================================================================

func TestSelectBracket_HighestBracketNotAboveYears(t *testing.T) {
	b, ok := payaudit.SelectBracket(17, []int{16, 18})
	require.True(t, ok)
	assert.Equal(t, 16, b)

	b, ok = payaudit.SelectBracket(18, []int{16, 18})
	require.True(t, ok)
	assert.Equal(t, 18, b)

	_, ok = payaudit.SelectBracket(1, []int{2, 3})
	assert.False(t, ok)

	b, _ = payaudit.SelectBracket(45, payaudit.DefaultBrackets)
	assert.Equal(t, 40, b)
}

func TestBuilder_ScenarioSnapshot(t *testing.T) {
	// GIVEN: E-5, 6 years, dependents, stationed at NC182
	// WHEN: Building the expected snapshot
	// THEN: Every derived line resolves exactly from the table

	snap, err := newBuilder().Build(context.Background(), scenarioProfile(), asOf)
	require.NoError(t, err)

	assert.Equal(t, 6, snap.YearsBracket)
	assert.Equal(t, generic.Cents(379590), snap.Lines[payaudit.CodeBasePay].Amount)
	assert.Equal(t, generic.Cents(195000), snap.Lines[payaudit.CodeBAH].Amount)
	assert.Equal(t, generic.Cents(46577), snap.Lines[payaudit.CodeBAS].Amount)
	assert.Equal(t, generic.Cents(23535), snap.Lines[payaudit.CodeFICASS].Amount)
	assert.Equal(t, generic.Cents(5504), snap.Lines[payaudit.CodeFICAMed].Amount)
	assert.Equal(t, generic.Cents(379590), snap.TaxableBase.FICA)
	assert.Equal(t, "BAH table 2025", snap.Lines[payaudit.CodeBAH].Citation)
	assert.Empty(t, snap.MissingCategories())
	assert.Empty(t, snap.ApproximateCategories())
	assert.False(t, snap.LocationRateMissing)
}

func TestBuilder_IsIdempotent(t *testing.T) {
	b := newBuilder()
	first, err := b.Build(context.Background(), scenarioProfile(), asOf)
	require.NoError(t, err)
	second, err := b.Build(context.Background(), scenarioProfile(), asOf)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestBuilder_StepsDownToHighestDefinedBracket(t *testing.T) {
	// GIVEN: E-1 rows only go up to the 4-year bracket
	// WHEN: Building for an E-1 with 10 years
	// THEN: The 4-year row is used and it is not an approximation

	profile := payaudit.MemberProfile{Paygrade: "E1", YearsOfService: 10, Location: "NC182"}
	snap, err := newBuilder().Build(context.Background(), profile, asOf)
	require.NoError(t, err)

	assert.Equal(t, 4, snap.YearsBracket)
	line := snap.Lines[payaudit.CodeBasePay]
	assert.Equal(t, generic.Cents(201780), line.Amount)
	assert.False(t, line.Approximate)
	assert.False(t, line.Missing)
}

func TestBuilder_UnknownLocationMarksMissingNotError(t *testing.T) {
	profile := scenarioProfile()
	profile.Location = "ZZ999"

	snap, err := newBuilder().Build(context.Background(), profile, asOf)
	require.NoError(t, err)

	assert.True(t, snap.LocationRateMissing)
	assert.True(t, snap.Lines[payaudit.CodeBAH].Missing)
	assert.Equal(t, generic.Money(0), snap.Lines[payaudit.CodeBAH].Amount)
	assert.Equal(t, []string{"BAH"}, snap.MissingCategories())
}

func TestBuilder_SpecialPaysAndCOLA(t *testing.T) {
	// GIVEN: NC182 publishes a COLA and the member draws SDAP and HFP
	// WHEN: Building the expected snapshot
	// THEN: COLA and both special pays are derived and all three enter the
	//       FICA and federal taxable bases, while BAH and BAS stay out

	table := rateTable(
		flat("COLA", generic.Conditions{Paygrade: "E-5", Location: "NC182", Dependency: generic.WithDependents}, 4500),
		flat("SDAP", generic.Conditions{Paygrade: "E-5"}, 37500),
		flat("HFP", generic.Conditions{Paygrade: "E-5"}, 22500),
	)
	profile := scenarioProfile()
	profile.SpecialPays = []payaudit.SpecialPay{payaudit.PaySDAP, payaudit.PayHFP}

	snap, err := payaudit.NewBuilder(generic.NewLookup(table)).Build(context.Background(), profile, asOf)
	require.NoError(t, err)

	assert.Equal(t, generic.Cents(4500), snap.Lines[payaudit.CodeCOLA].Amount)
	assert.Equal(t, "COLA table 2025", snap.Lines[payaudit.CodeCOLA].Citation)
	assert.Equal(t, generic.Cents(37500), snap.Lines[payaudit.CodeSDAP].Amount)
	assert.Equal(t, generic.Cents(22500), snap.Lines[payaudit.CodeHFP].Amount)
	assert.NotContains(t, snap.Lines, payaudit.CodeDive)

	wantBase := generic.Cents(379590 + 4500 + 37500 + 22500)
	assert.Equal(t, wantBase, snap.TaxableBase.FICA)
	assert.Equal(t, wantBase, snap.TaxableBase.Federal)
	assert.Equal(t, generic.Cents(27534), snap.Lines[payaudit.CodeFICASS].Amount)  // 444090 x 6.2%
	assert.Equal(t, generic.Cents(6439), snap.Lines[payaudit.CodeFICAMed].Amount) // 444090 x 1.45%
	assert.Empty(t, snap.MissingCategories())
}

func TestBuilder_FlaggedSpecialPayWithoutTableIsMissing(t *testing.T) {
	profile := scenarioProfile()
	profile.SpecialPays = []payaudit.SpecialPay{payaudit.PayDive}

	snap, err := newBuilder().Build(context.Background(), profile, asOf)
	require.NoError(t, err)

	assert.True(t, snap.Lines[payaudit.CodeDive].Missing)
	assert.Equal(t, []string{"DIVE"}, snap.MissingCategories())
	assert.Equal(t, generic.Cents(379590), snap.TaxableBase.FICA)
}

func TestBuilder_RejectsInvalidProfile(t *testing.T) {
	_, err := newBuilder().Build(context.Background(), payaudit.MemberProfile{Paygrade: "X-9"}, asOf)
	require.Error(t, err)
	assert.True(t, errors.Is(err, generic.ErrInvalidInput))

	profile := scenarioProfile()
	profile.YearsOfService = -1
	_, err = newBuilder().Build(context.Background(), profile, asOf)
	assert.True(t, errors.Is(err, generic.ErrInvalidInput))
}

// =============================================================================
// COMPARATOR TESTS
// =============================================================================

func TestCompare_ScenarioFlagsBAHOverage(t *testing.T) {
	snap, err := newBuilder().Build(context.Background(), scenarioProfile(), asOf)
	require.NoError(t, err)

	cmp := payaudit.Compare(snap, scenarioLines(), money(scenarioNet))

	require.Len(t, cmp.Flags, 1)
	f := cmp.Flags[0]
	assert.Equal(t, payaudit.CodeBAH, f.Code)
	assert.Equal(t, generic.Cents(195000), f.Expected)
	assert.Equal(t, generic.Cents(210000), f.Actual)
	assert.Equal(t, generic.Cents(15000), f.Delta)
	assert.Equal(t, payaudit.SeverityWarning, f.Severity)
	assert.True(t, cmp.HasTaxLines)
	assert.True(t, cmp.NetPaySupplied)
}

func TestCompare_WaterfallSumsToNetVariance(t *testing.T) {
	snap, err := newBuilder().Build(context.Background(), scenarioProfile(), asOf)
	require.NoError(t, err)

	tests := []struct {
		name string
		net  *generic.Money
	}{
		{name: "net pay omitted", net: nil},
		{name: "net pay matches lines", net: money(scenarioNet)},
		{name: "net pay below lines", net: money(scenarioNet - 1234)},
		{name: "net pay above lines", net: money(scenarioNet + 99)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmp := payaudit.Compare(snap, scenarioLines(), tt.net)

			assert.Equal(t, cmp.Totals.ActualNet-cmp.Totals.ExpectedNet, cmp.Waterfall.Sum())
			require.Len(t, cmp.Waterfall.Steps, len(payaudit.SectionOrder))
			for i, step := range cmp.Waterfall.Steps {
				assert.Equal(t, payaudit.SectionOrder[i], step.Section)
			}
			last := cmp.Waterfall.Steps[len(cmp.Waterfall.Steps)-1]
			assert.Equal(t, cmp.Waterfall.Sum(), last.Running)
		})
	}
}

func TestCompare_ResidualIsFlaggedUnexplained(t *testing.T) {
	snap, err := newBuilder().Build(context.Background(), scenarioProfile(), asOf)
	require.NoError(t, err)

	cmp := payaudit.Compare(snap, scenarioLines(), money(scenarioNet-1234))

	var unexplained *payaudit.Flag
	for i := range cmp.Flags {
		if cmp.Flags[i].Code == payaudit.CodeUnexplained {
			unexplained = &cmp.Flags[i]
		}
	}
	require.NotNil(t, unexplained)
	assert.Equal(t, generic.Cents(-1234), unexplained.Delta)
	assert.Equal(t, payaudit.SeverityWarning, unexplained.Severity)
	assert.Equal(t, generic.Cents(15000-1234), cmp.Waterfall.Sum())
}

func TestCompare_SeverityRules(t *testing.T) {
	snap, err := newBuilder().Build(context.Background(), scenarioProfile(), asOf)
	require.NoError(t, err)

	lines := []payaudit.LineItem{
		{Code: "BASEPAY", Section: payaudit.SectionAllowance, Amount: 379590},
		// BAH omitted: expected only
		{Code: "BAS", Section: payaudit.SectionAllowance, Amount: 46577},
		{Code: "SEA PAY", Section: payaudit.SectionAllowance, Amount: 10000}, // actual only
		{Code: "FICA_SS", Section: payaudit.SectionTax, Amount: 23536},       // within tolerance
		{Code: "FICA_MED", Section: payaudit.SectionTax, Amount: 5504},
		{Code: "FITW", Section: payaudit.SectionTax, Amount: 1},             // elected, not verified
		{Code: "MYSTERY", Section: payaudit.SectionDeduction, Amount: 2500}, // unrecognized
	}
	cmp := payaudit.Compare(snap, lines, nil)

	bySeverity := map[payaudit.Code]payaudit.Severity{}
	for _, f := range cmp.Flags {
		bySeverity[f.Code] = f.Severity
	}
	assert.Equal(t, map[payaudit.Code]payaudit.Severity{
		payaudit.CodeBAH: payaudit.SeverityCritical,
		payaudit.CodeSea: payaudit.SeverityCritical,
		"MYSTERY":        payaudit.SeverityInfo,
	}, bySeverity)
	assert.Equal(t, []string{"MYSTERY"}, cmp.Unrecognized)
}

func TestCompare_UnflaggedSpecialPayIsCritical(t *testing.T) {
	// GIVEN: A profile with no special pay flags
	// WHEN: The statement reports SDAP anyway
	// THEN: SDAP is a critical flag with nothing expected

	snap, err := newBuilder().Build(context.Background(), scenarioProfile(), asOf)
	require.NoError(t, err)

	lines := append(scenarioLines(), payaudit.LineItem{Code: "Special Duty Pay", Section: payaudit.SectionAllowance, Amount: 37500})
	cmp := payaudit.Compare(snap, lines, nil)

	var sdap *payaudit.Flag
	for i := range cmp.Flags {
		if cmp.Flags[i].Code == payaudit.CodeSDAP {
			sdap = &cmp.Flags[i]
		}
	}
	require.NotNil(t, sdap)
	assert.Equal(t, payaudit.SeverityCritical, sdap.Severity)
	assert.Equal(t, payaudit.SectionAllowance, sdap.Section)
	assert.Equal(t, generic.Money(0), sdap.Expected)
	assert.Equal(t, generic.Cents(37500), sdap.Delta)
}

func TestCompare_UnrecognizedCodeKeepsReportedSectionSign(t *testing.T) {
	// GIVEN: An unknown code reported as a 100.00 credit and a 40.00 deduction
	// WHEN: Comparing with and without the statement's net pay
	// THEN: Each line keeps its own section's sign, so the lines add up to
	//       the statement net and nothing is UNEXPLAINED

	snap, err := newBuilder().Build(context.Background(), scenarioProfile(), asOf)
	require.NoError(t, err)

	lines := append(scenarioLines(),
		payaudit.LineItem{Code: "MISC", Section: payaudit.SectionAllowance, Amount: 10000},
		payaudit.LineItem{Code: "misc", Section: payaudit.SectionDeduction, Amount: 4000},
	)
	statementNet := scenarioNet + 10000 - 4000

	derived := payaudit.Compare(snap, lines, nil)
	assert.Equal(t, statementNet, derived.Totals.ActualNet)
	assert.Equal(t, generic.Cents(15000), derived.Waterfall.Sum())

	supplied := payaudit.Compare(snap, lines, money(statementNet))
	assert.Equal(t, generic.Cents(15000), supplied.Waterfall.Sum())
	assert.Equal(t, []string{"MISC"}, supplied.Unrecognized)

	sections := map[payaudit.Section]generic.Money{}
	for _, f := range supplied.Flags {
		assert.NotEqual(t, payaudit.CodeUnexplained, f.Code)
		if f.Code == "MISC" {
			assert.Equal(t, payaudit.SeverityInfo, f.Severity)
			sections[f.Section] = f.Actual
		}
	}
	assert.Equal(t, map[payaudit.Section]generic.Money{
		payaudit.SectionAllowance: 10000,
		payaudit.SectionDeduction: 4000,
	}, sections)
}

func TestCompare_ActualAgainstMissingRateIsWarning(t *testing.T) {
	profile := scenarioProfile()
	profile.Location = "ZZ999"
	snap, err := newBuilder().Build(context.Background(), profile, asOf)
	require.NoError(t, err)

	cmp := payaudit.Compare(snap, scenarioLines(), nil)

	require.NotEmpty(t, cmp.Flags)
	assert.Equal(t, payaudit.CodeBAH, cmp.Flags[0].Code)
	assert.Equal(t, payaudit.SeverityWarning, cmp.Flags[0].Severity)
}

// =============================================================================
// NORMALIZER TESTS
// =============================================================================

func TestNormalize_Synonyms(t *testing.T) {
	tests := []struct {
		raw  string
		want payaudit.Code
	}{
		{"Basic Pay", payaudit.CodeBasePay},
		{"bah w/dep", payaudit.CodeBAH},
		{"BAH-DIFF", payaudit.CodeBAH},
		{"Fed Tax", payaudit.CodeFITW},
		{"FICA-MEDICARE", payaudit.CodeFICAMed},
		{"tsp roth", payaudit.CodeTSPRoth},
		{"  sgli  ", payaudit.CodeSGLI},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			n := payaudit.Normalize(tt.raw)
			assert.True(t, n.Recognized)
			assert.Equal(t, tt.want, n.Code)
		})
	}

	n := payaudit.Normalize("mid month advance")
	assert.False(t, n.Recognized)
	assert.Equal(t, payaudit.Code("MID MONTH ADVANCE"), n.Code)
}

func TestParseSection(t *testing.T) {
	for raw, want := range map[string]payaudit.Section{
		"allowance":    payaudit.SectionAllowance,
		"Entitlements": payaudit.SectionAllowance,
		"TAXES":        payaudit.SectionTax,
		"deductions":   payaudit.SectionDeduction,
		"Adjustment":   payaudit.SectionAdjustment,
	} {
		got, err := payaudit.ParseSection(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}

	_, err := payaudit.ParseSection("bonus")
	assert.True(t, errors.Is(err, generic.ErrInvalidInput))
}

func TestLineItem_DecodesSectionSpellings(t *testing.T) {
	var lines []payaudit.LineItem
	body := `[
		{"code": "BAH", "section": "allowance", "amount": 1},
		{"code": "BAS", "section": "Allowances", "amount": 1},
		{"code": "COLA", "section": "ENTITLEMENT", "amount": 1},
		{"code": "FITW", "section": "taxes", "amount": 1}
	]`
	require.NoError(t, json.Unmarshal([]byte(body), &lines))

	got := make([]payaudit.Section, len(lines))
	for i, l := range lines {
		got[i] = l.Section
		assert.NoError(t, l.Validate())
	}
	assert.Equal(t, []payaudit.Section{
		payaudit.SectionAllowance, payaudit.SectionAllowance, payaudit.SectionAllowance, payaudit.SectionTax,
	}, got)

	err := json.Unmarshal([]byte(`[{"code": "X", "section": "bonus", "amount": 1}]`), &lines)
	assert.Error(t, err)
}

// =============================================================================
// CONFIDENCE TESTS
// =============================================================================

func TestScore_Cascade(t *testing.T) {
	b := newBuilder()
	ctx := context.Background()

	snap, err := b.Build(ctx, scenarioProfile(), asOf)
	require.NoError(t, err)

	c := payaudit.Score(snap, payaudit.Compare(snap, scenarioLines(), money(scenarioNet)), snap.Profile)
	assert.Equal(t, generic.High, c.Level)
	assert.Empty(t, c.Reasons)

	c = payaudit.Score(snap, payaudit.Compare(snap, scenarioLines(), nil), snap.Profile)
	assert.Equal(t, generic.Medium, c.Level)

	missing := scenarioProfile()
	missing.Location = "ZZ999"
	snap, err = b.Build(ctx, missing, asOf)
	require.NoError(t, err)
	c = payaudit.Score(snap, payaudit.Compare(snap, scenarioLines(), money(scenarioNet)), snap.Profile)
	assert.Equal(t, generic.Low, c.Level)
	assert.Contains(t, c.Reasons[0], "ZZ999")
}

func TestScore_BandFallbackIsMedium(t *testing.T) {
	// GIVEN: BAS only published per band and E-6 base pay only for the band
	mem := rateTable()
	require.NoError(t, mem.SaveRates(context.Background(), []generic.RateRecord{
		flat("BASEPAY", generic.Conditions{Paygrade: generic.BandSeniorEnlisted, YearsBracket: generic.Years(6)}, 400000),
		flat("BAH", generic.Conditions{Paygrade: "E-6", Location: "NC182", Dependency: generic.WithDependents}, 200000),
	}))
	b := payaudit.NewBuilder(generic.NewLookup(mem))

	profile := scenarioProfile()
	profile.Paygrade = "E-6"
	snap, err := b.Build(context.Background(), profile, asOf)
	require.NoError(t, err)

	assert.True(t, snap.Lines[payaudit.CodeBasePay].Approximate)
	c := payaudit.Score(snap, payaudit.Compare(snap, scenarioLines(), money(scenarioNet)), snap.Profile)
	assert.Equal(t, generic.Medium, c.Level)
}

// =============================================================================
// MASKING TESTS
// =============================================================================

func TestComputeAudit_RestrictedScenarioHidesExactAmounts(t *testing.T) {
	// GIVEN: The BAH overage scenario for a restricted caller
	// WHEN: Computing the audit
	// THEN: The variance is bucketed with a direction and no exact amount leaks

	auditor := newAuditor(payaudit.StaticTier(payaudit.TierRestricted))

	res, err := auditor.ComputeAudit(context.Background(), payaudit.AuditRequest{
		UserID:       "user-1",
		Profile:      scenarioProfile(),
		AsOf:         asOf,
		Lines:        scenarioLines(),
		NetPayActual: money(scenarioNet),
	})
	require.NoError(t, err)

	assert.True(t, res.Restricted)
	require.Len(t, res.Flags, 1)
	assert.Equal(t, payaudit.CodeBAH, res.Flags[0].Code)
	assert.Equal(t, payaudit.SeverityWarning, res.Flags[0].Severity)
	assert.Equal(t, payaudit.RangeMedium, res.Flags[0].Range)
	assert.Equal(t, payaudit.DirectionOwed, res.Flags[0].Direction)
	assert.Nil(t, res.Flags[0].Delta)
	assert.Nil(t, res.Totals)
	assert.Equal(t, payaudit.RangeMedium, res.NetVariance.Range)
	assert.Equal(t, generic.High, res.Confidence.Level)

	body, err := json.Marshal(res)
	require.NoError(t, err)
	assert.NotContains(t, string(body), "15000")
	assert.NotContains(t, string(body), "150.00")
	assert.NotContains(t, string(body), "195000")
}

func TestComputeAudit_UnrestrictedShowsExactAmounts(t *testing.T) {
	auditor := newAuditor(payaudit.StaticTier(payaudit.TierUnrestricted))

	res, err := auditor.ComputeAudit(context.Background(), payaudit.AuditRequest{
		Profile:      scenarioProfile(),
		AsOf:         asOf,
		Lines:        scenarioLines(),
		NetPayActual: money(scenarioNet),
	})
	require.NoError(t, err)

	assert.False(t, res.Restricted)
	require.Len(t, res.Flags, 1)
	require.NotNil(t, res.Flags[0].Delta)
	assert.Equal(t, generic.Cents(15000), *res.Flags[0].Delta)
	require.NotNil(t, res.NetVariance.Delta)
	assert.Equal(t, generic.Cents(15000), *res.NetVariance.Delta)
	require.NotNil(t, res.Totals)
	assert.Equal(t, scenarioNet, res.Totals.ActualNet)
}

func TestMask_RestrictedIsSeverityPrefixWithHiddenCount(t *testing.T) {
	result := payaudit.AuditResult{
		ID: "a",
		Comparison: payaudit.Comparison{Flags: []payaudit.Flag{
			{Code: "X1", Severity: payaudit.SeverityInfo},
			{Code: "BAH", Severity: payaudit.SeverityWarning, Delta: 15000},
			{Code: "X2", Severity: payaudit.SeverityInfo},
			{Code: "BASEPAY", Severity: payaudit.SeverityCritical, Delta: -379590},
			{Code: "BAS", Severity: payaudit.SeverityCritical, Delta: -46577},
		}},
	}

	full := payaudit.Mask(result, payaudit.UnrestrictedPolicy())
	restricted := payaudit.Mask(result, payaudit.RestrictedPolicy())

	require.Len(t, full.Flags, 5)
	assert.Equal(t, 0, full.HiddenFlagCount)

	require.Len(t, restricted.Flags, payaudit.RestrictedFlagLimit)
	assert.Equal(t, 2, restricted.HiddenFlagCount)
	assert.Equal(t, len(full.Flags), len(restricted.Flags)+restricted.HiddenFlagCount)

	codes := []payaudit.Code{}
	for _, f := range restricted.Flags {
		codes = append(codes, f.Code)
		assert.Empty(t, f.Expected)
	}
	assert.Equal(t, []payaudit.Code{"BASEPAY", "BAS", "BAH"}, codes)
	assert.Equal(t, payaudit.RangeLarge, restricted.Flags[0].Range)
	assert.Equal(t, payaudit.DirectionOverpayment, restricted.Flags[0].Direction)

	// Input is untouched.
	assert.Equal(t, payaudit.Code("X1"), result.Comparison.Flags[0].Code)
}

func TestMask_NilPolicyIsMostRestrictive(t *testing.T) {
	result := payaudit.AuditResult{
		ID: "a",
		Comparison: payaudit.Comparison{Flags: []payaudit.Flag{
			{Code: "BAH", Severity: payaudit.SeverityWarning, Delta: 4999},
		}},
		History: []payaudit.HistoryMarker{{AuditID: "old"}},
	}

	assert.Equal(t, payaudit.Mask(result, payaudit.RestrictedPolicy()), payaudit.Mask(result, nil))
	assert.Empty(t, payaudit.Mask(result, nil).History)
	assert.Equal(t, payaudit.RangeSmall, payaudit.Mask(result, nil).Flags[0].Range)
}

func TestBucketAndDirection(t *testing.T) {
	assert.Equal(t, payaudit.RangeSmall, payaudit.Bucket(0))
	assert.Equal(t, payaudit.RangeSmall, payaudit.Bucket(-4999))
	assert.Equal(t, payaudit.RangeMedium, payaudit.Bucket(5000))
	assert.Equal(t, payaudit.RangeMedium, payaudit.Bucket(19999))
	assert.Equal(t, payaudit.RangeLarge, payaudit.Bucket(-20000))

	assert.Equal(t, payaudit.DirectionOwed, payaudit.Direction(1))
	assert.Equal(t, payaudit.DirectionOverpayment, payaudit.Direction(-1))
	assert.Equal(t, payaudit.DirectionNone, payaudit.Direction(0))
}

// =============================================================================
// AUDITOR TESTS
// =============================================================================

func TestComputeAudit_TierFailureFallsBackToRestricted(t *testing.T) {
	tiers := new(MockTiers)
	tiers.On("GetTier", mock.Anything, "user-1").Return(payaudit.Tier(""), errors.New("subscription service down"))
	history := new(MockHistory)

	auditor := newAuditor(tiers)
	auditor.History = history

	res, err := auditor.ComputeAudit(context.Background(), payaudit.AuditRequest{
		UserID:  "user-1",
		Profile: scenarioProfile(),
		AsOf:    asOf,
		Lines:   scenarioLines(),
	})
	require.NoError(t, err)

	assert.True(t, res.Restricted)
	assert.Nil(t, res.Flags[0].Delta)
	tiers.AssertExpectations(t)
	history.AssertNotCalled(t, "History", mock.Anything, mock.Anything, mock.Anything)
}

func TestComputeAudit_UnknownTierFallsBackToRestricted(t *testing.T) {
	auditor := newAuditor(payaudit.StaticTier("platinum"))

	res, err := auditor.ComputeAudit(context.Background(), payaudit.AuditRequest{
		Profile: scenarioProfile(), AsOf: asOf, Lines: scenarioLines(),
	})
	require.NoError(t, err)
	assert.True(t, res.Restricted)
}

func TestPolicyForTier_IgnoresCase(t *testing.T) {
	for _, tier := range []payaudit.Tier{"unrestricted", "Unrestricted", " UNRESTRICTED "} {
		policy := payaudit.PolicyForTier(tier)
		require.NotNil(t, policy, tier)
		assert.True(t, policy.ExposeExactAmounts, tier)
	}

	restricted := payaudit.PolicyForTier("Restricted")
	require.NotNil(t, restricted)
	assert.False(t, restricted.ExposeExactAmounts)

	assert.Nil(t, payaudit.PolicyForTier("platinum"))
}

func TestComputeAudit_LogsUnrecognizedCodes(t *testing.T) {
	var buf bytes.Buffer
	auditor := newAuditor(payaudit.StaticTier(payaudit.TierRestricted))
	auditor.Logger = slog.New(slog.NewJSONHandler(&buf, nil))

	lines := append(scenarioLines(), payaudit.LineItem{Code: "MISC", Section: payaudit.SectionDeduction, Amount: 500})
	_, err := auditor.ComputeAudit(context.Background(), payaudit.AuditRequest{
		Profile: scenarioProfile(), AsOf: asOf, Lines: lines,
	})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"msg":"statement lines included as reported"`)
	assert.Contains(t, out, `"codes":["MISC"]`)
	assert.Contains(t, out, `"error":"`+generic.ErrUnrecognizedLineCode.Error()+`"`)
}

func TestComputeAudit_UnrestrictedIncludesHistory(t *testing.T) {
	markers := []payaudit.HistoryMarker{{AuditID: "prev", AsOf: generic.NewDate(2025, time.February, 1), NetDelta: 15000, FlagCount: 1}}
	history := new(MockHistory)
	history.On("History", mock.Anything, "user-1", payaudit.HistoryLimit).Return(markers, nil)

	auditor := newAuditor(payaudit.StaticTier(payaudit.TierUnrestricted))
	auditor.History = history

	res, err := auditor.ComputeAudit(context.Background(), payaudit.AuditRequest{
		UserID: "user-1", Profile: scenarioProfile(), AsOf: asOf, Lines: scenarioLines(),
	})
	require.NoError(t, err)

	assert.Equal(t, markers, res.History)
	history.AssertExpectations(t)
}

func TestComputeAudit_RejectsMalformedLines(t *testing.T) {
	auditor := newAuditor(payaudit.StaticTier(payaudit.TierUnrestricted))

	tests := []struct {
		name string
		line payaudit.LineItem
	}{
		{name: "negative allowance", line: payaudit.LineItem{Code: "BAH", Section: payaudit.SectionAllowance, Amount: -1}},
		{name: "empty code", line: payaudit.LineItem{Code: " ", Section: payaudit.SectionTax, Amount: 1}},
		{name: "unknown section", line: payaudit.LineItem{Code: "BAH", Section: "BONUS", Amount: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := auditor.ComputeAudit(context.Background(), payaudit.AuditRequest{
				Profile: scenarioProfile(), AsOf: asOf, Lines: []payaudit.LineItem{tt.line},
			})
			assert.True(t, errors.Is(err, generic.ErrInvalidInput))
		})
	}

	// Negative adjustments are legitimate.
	_, err := auditor.ComputeAudit(context.Background(), payaudit.AuditRequest{
		Profile: scenarioProfile(), AsOf: asOf,
		Lines: []payaudit.LineItem{{Code: "ADJ", Section: payaudit.SectionAdjustment, Amount: -5000}},
	})
	assert.NoError(t, err)
}

// =============================================================================
// CACHE TESTS
// =============================================================================

type countingBuilder struct {
	calls int
	next  payaudit.SnapshotBuilder
}

func (c *countingBuilder) Build(ctx context.Context, p payaudit.MemberProfile, d generic.Date) (payaudit.ExpectedSnapshot, error) {
	c.calls++
	return c.next.Build(ctx, p, d)
}

func TestCachedBuilder_ServesRepeatsFromCache(t *testing.T) {
	counter := &countingBuilder{next: newBuilder()}
	cached := &payaudit.CachedBuilder{Next: counter, Cache: payaudit.NewMemoryCache()}

	first, err := cached.Build(context.Background(), scenarioProfile(), asOf)
	require.NoError(t, err)

	// Equivalent profile spelled differently shares the cache entry.
	profile := scenarioProfile()
	profile.Paygrade = "e5"
	profile.Location = " nc182 "
	second, err := cached.Build(context.Background(), profile, asOf)
	require.NoError(t, err)

	assert.Equal(t, 1, counter.calls)
	assert.Equal(t, first, second)

	_, err = cached.Build(context.Background(), scenarioProfile(), generic.NewDate(2025, time.April, 1))
	require.NoError(t, err)
	assert.Equal(t, 2, counter.calls)
}
