package payaudit

import (
	"strings"
	"unicode"

	"github.com/garrison-ledger/entitlement-engine/generic"
)

// =============================================================================
// CANONICAL CODES
// =============================================================================

// Code is a canonical pay-statement line code.
type Code string

const (
	CodeBasePay Code = "BASEPAY"
	CodeBAH     Code = "BAH"
	CodeBAS     Code = "BAS"
	CodeCOLA    Code = "COLA"
	CodeSDAP    Code = "SDAP"
	CodeHDP     Code = "HDP"
	CodeFLPP    Code = "FLPP"
	CodeSea     Code = "SEA"
	CodeJump    Code = "JUMP"
	CodeDive    Code = "DIVE"
	CodeHFP     Code = "HFP"

	CodeFICASS  Code = "FICA_SS"
	CodeFICAMed Code = "FICA_MED"
	CodeFITW    Code = "FITW"
	CodeSITW    Code = "SITW"

	CodeTSP     Code = "TSP"
	CodeTSPRoth Code = "TSP_ROTH"
	CodeSGLI    Code = "SGLI"
	CodeDental  Code = "DENTAL"
	CodeAFRH    Code = "AFRH"

	CodeAllotment Code = "ALLOTMENT"
	CodeDebt      Code = "DEBT"
	CodeAdjust    Code = "ADJ"

	// CodeUnexplained carries the gap between a reported net pay and the lines.
	CodeUnexplained Code = "UNEXPLAINED"
)

// Kind says whether the engine can derive an expectation for a code.
type Kind int

const (
	// KindDerived codes are computed by the Builder from rate tables.
	KindDerived Kind = iota
	// KindElected codes depend on member elections (withholding, TSP,
	// allotments) and are accepted as reported.
	KindElected
)

// CodeInfo describes a canonical code.
type CodeInfo struct {
	Code      Code
	Section   Section
	Kind      Kind
	Category  generic.Category // rate table, for derived codes
	Tolerance generic.Money    // max |delta| that is not flagged
	Taxable   bool             // part of FICA and federal taxable wages
}

// TaxTolerance absorbs cent rounding on percentage-based tax lines.
const TaxTolerance generic.Money = 2

// Catalog is every canonical code the engine knows.
var Catalog = map[Code]CodeInfo{
	CodeBasePay: {Code: CodeBasePay, Section: SectionAllowance, Kind: KindDerived, Category: "BASEPAY", Taxable: true},
	CodeBAH:     {Code: CodeBAH, Section: SectionAllowance, Kind: KindDerived, Category: "BAH"},
	CodeBAS:     {Code: CodeBAS, Section: SectionAllowance, Kind: KindDerived, Category: "BAS"},
	CodeCOLA:    {Code: CodeCOLA, Section: SectionAllowance, Kind: KindDerived, Category: "COLA", Taxable: true},
	CodeSDAP:    {Code: CodeSDAP, Section: SectionAllowance, Kind: KindDerived, Category: "SDAP", Taxable: true},
	CodeHDP:     {Code: CodeHDP, Section: SectionAllowance, Kind: KindDerived, Category: "HDP", Taxable: true},
	CodeFLPP:    {Code: CodeFLPP, Section: SectionAllowance, Kind: KindDerived, Category: "FLPP", Taxable: true},
	CodeSea:     {Code: CodeSea, Section: SectionAllowance, Kind: KindDerived, Category: "SEA", Taxable: true},
	CodeJump:    {Code: CodeJump, Section: SectionAllowance, Kind: KindDerived, Category: "JUMP", Taxable: true},
	CodeDive:    {Code: CodeDive, Section: SectionAllowance, Kind: KindDerived, Category: "DIVE", Taxable: true},
	CodeHFP:     {Code: CodeHFP, Section: SectionAllowance, Kind: KindDerived, Category: "HFP", Taxable: true},

	CodeFICASS:  {Code: CodeFICASS, Section: SectionTax, Kind: KindDerived, Category: "FICA_SS", Tolerance: TaxTolerance},
	CodeFICAMed: {Code: CodeFICAMed, Section: SectionTax, Kind: KindDerived, Category: "FICA_MED", Tolerance: TaxTolerance},
	CodeFITW:    {Code: CodeFITW, Section: SectionTax, Kind: KindElected},
	CodeSITW:    {Code: CodeSITW, Section: SectionTax, Kind: KindElected},

	CodeTSP:     {Code: CodeTSP, Section: SectionDeduction, Kind: KindElected},
	CodeTSPRoth: {Code: CodeTSPRoth, Section: SectionDeduction, Kind: KindElected},
	CodeSGLI:    {Code: CodeSGLI, Section: SectionDeduction, Kind: KindElected},
	CodeDental:  {Code: CodeDental, Section: SectionDeduction, Kind: KindElected},
	CodeAFRH:    {Code: CodeAFRH, Section: SectionDeduction, Kind: KindElected},

	CodeAllotment: {Code: CodeAllotment, Section: SectionAllotment, Kind: KindElected},
	CodeDebt:      {Code: CodeDebt, Section: SectionDebt, Kind: KindElected},
	CodeAdjust:    {Code: CodeAdjust, Section: SectionAdjustment, Kind: KindElected},
}

// specialPayCodes maps profile flags to their line codes.
var specialPayCodes = map[SpecialPay]Code{
	PaySDAP: CodeSDAP,
	PayHDP:  CodeHDP,
	PayFLPP: CodeFLPP,
	PaySea:  CodeSea,
	PayJump: CodeJump,
	PayDive: CodeDive,
	PayHFP:  CodeHFP,
}

// synonyms are keyed by the squashed form (upper case, letters and digits only).
var synonyms = map[string]Code{
	"BASEPAY": CodeBasePay, "BASICPAY": CodeBasePay, "BP": CodeBasePay, "BASE": CodeBasePay, "MILPAY": CodeBasePay,

	"BAH": CodeBAH, "BAHWDEP": CodeBAH, "BAHWODEP": CodeBAH, "BAHDIFF": CodeBAH, "BAHWITH": CodeBAH,
	"BAHWITHOUT": CodeBAH, "BASICALLOWANCEFORHOUSING": CodeBAH, "BAHII": CodeBAH,

	"BAS": CodeBAS, "BASICALLOWANCEFORSUBSISTENCE": CodeBAS, "BASENL": CodeBAS, "BASOFF": CodeBAS,

	"COLA": CodeCOLA, "CONUSCOLA": CodeCOLA,

	"SDAP": CodeSDAP, "SPECIALDUTYPAY": CodeSDAP, "SDA": CodeSDAP,
	"HDP": CodeHDP, "HDPL": CodeHDP, "HARDSHIPDUTYPAY": CodeHDP,
	"FLPP": CodeFLPP, "FOREIGNLANGUAGEPAY": CodeFLPP,
	"SEA": CodeSea, "SEAPAY": CodeSea, "CAREERSEAPAY": CodeSea, "CSP": CodeSea,
	"JUMP": CodeJump, "JUMPPAY": CodeJump, "PARACHUTEPAY": CodeJump, "HDIPJUMP": CodeJump,
	"DIVE": CodeDive, "DIVEPAY": CodeDive, "HDIPDIVE": CodeDive,
	"HFP": CodeHFP, "IDP": CodeHFP, "HFPIDP": CodeHFP, "IMMINENTDANGERPAY": CodeHFP, "HOSTILEFIREPAY": CodeHFP,

	"FICASS": CodeFICASS, "FICASOCSEC": CodeFICASS, "SOCSEC": CodeFICASS, "SOCIALSECURITY": CodeFICASS,
	"OASDI": CodeFICASS, "FICA": CodeFICASS,
	"FICAMED": CodeFICAMed, "FICAMEDICARE": CodeFICAMed, "MEDICARE": CodeFICAMed, "MED": CodeFICAMed,
	"FITW": CodeFITW, "FEDTAX": CodeFITW, "FEDERALTAX": CodeFITW, "FEDWH": CodeFITW, "FED": CodeFITW,
	"SITW": CodeSITW, "STATETAX": CodeSITW, "STATEWH": CodeSITW, "STATE": CodeSITW,

	"TSP": CodeTSP, "TSPTRAD": CodeTSP, "TSPTRADITIONAL": CodeTSP,
	"TSPROTH": CodeTSPRoth, "ROTHTSP": CodeTSPRoth,
	"SGLI": CodeSGLI, "SGLIFAMILY": CodeSGLI, "FSGLI": CodeSGLI,
	"DENTAL": CodeDental, "TDP": CodeDental, "DENTALPLAN": CodeDental,
	"AFRH": CodeAFRH, "RETIREMENTHOME": CodeAFRH,

	"ALLOTMENT": CodeAllotment, "ALLOT": CodeAllotment, "DISCRETIONARYALLOTMENT": CodeAllotment,
	"DEBT": CodeDebt, "DEBTS": CodeDebt, "OVERPAYMENTRECOUP": CodeDebt,
	"ADJ": CodeAdjust, "ADJUSTMENT": CodeAdjust, "PRIORPERIODADJ": CodeAdjust,
}

// Normalized is the result of normalizing a raw code.
type Normalized struct {
	Code       Code
	Raw        string
	Recognized bool
}

// Info returns the catalog entry for a recognized code.
func (n Normalized) Info() (CodeInfo, bool) {
	if !n.Recognized {
		return CodeInfo{}, false
	}
	info, ok := Catalog[n.Code]
	return info, ok
}

// Normalize maps a free-form statement code to its canonical code. Unknown
// codes pass through upper-cased with Recognized false, so they are
// reported rather than dropped.
func Normalize(raw string) Normalized {
	trimmed := strings.ToUpper(strings.TrimSpace(raw))
	if code, ok := synonyms[squash(trimmed)]; ok {
		return Normalized{Code: code, Raw: raw, Recognized: true}
	}
	return Normalized{Code: Code(trimmed), Raw: raw, Recognized: false}
}

func squash(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	return b.String()
}
