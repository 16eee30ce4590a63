package generic

import "strings"

// =============================================================================
// PAYGRADE
// =============================================================================

// Paygrade is a normalized DoD paygrade ("E-5", "O-3E", "W-2").
type Paygrade string

// Bands group paygrades for tables published per band and for the lookup
// fallback chain.
const (
	BandJuniorEnlisted Paygrade = "E-JR" // E-1..E-4
	BandSeniorEnlisted Paygrade = "E-SR" // E-5..E-9
	BandWarrant        Paygrade = "W"    // W-1..W-5
	BandPriorEnlisted  Paygrade = "O-E"  // O-1E..O-3E
	BandCompanyGrade   Paygrade = "O-JR" // O-1..O-3
	BandFieldAndFlag   Paygrade = "O-SR" // O-4..O-10
)

var validGrades = map[Paygrade]Paygrade{
	"E-1": BandJuniorEnlisted, "E-2": BandJuniorEnlisted, "E-3": BandJuniorEnlisted, "E-4": BandJuniorEnlisted,
	"E-5": BandSeniorEnlisted, "E-6": BandSeniorEnlisted, "E-7": BandSeniorEnlisted, "E-8": BandSeniorEnlisted, "E-9": BandSeniorEnlisted,
	"W-1": BandWarrant, "W-2": BandWarrant, "W-3": BandWarrant, "W-4": BandWarrant, "W-5": BandWarrant,
	"O-1E": BandPriorEnlisted, "O-2E": BandPriorEnlisted, "O-3E": BandPriorEnlisted,
	"O-1": BandCompanyGrade, "O-2": BandCompanyGrade, "O-3": BandCompanyGrade,
	"O-4": BandFieldAndFlag, "O-5": BandFieldAndFlag, "O-6": BandFieldAndFlag, "O-7": BandFieldAndFlag,
	"O-8": BandFieldAndFlag, "O-9": BandFieldAndFlag, "O-10": BandFieldAndFlag,
}

// ParsePaygrade accepts "E5", "e-5", "E-5" and "O1E" style input.
// Unknown grades are an InvalidInputError.
func ParsePaygrade(s string) (Paygrade, error) {
	raw := strings.ToUpper(strings.TrimSpace(s))
	raw = strings.ReplaceAll(raw, " ", "")
	if len(raw) >= 2 && raw[1] != '-' {
		raw = raw[:1] + "-" + raw[1:]
	}
	p := Paygrade(raw)
	if _, ok := validGrades[p]; !ok {
		return "", &InvalidInputError{Field: "paygrade", Value: s, Reason: "unknown paygrade"}
	}
	return p, nil
}

// Band returns the paygrade band, or "" for an unknown grade.
func (p Paygrade) Band() Paygrade { return validGrades[p] }

func (p Paygrade) String() string { return string(p) }

var bands = map[Paygrade]bool{
	BandJuniorEnlisted: true, BandSeniorEnlisted: true, BandWarrant: true,
	BandPriorEnlisted: true, BandCompanyGrade: true, BandFieldAndFlag: true,
}

// IsBand reports whether p names a band rather than a grade.
func (p Paygrade) IsBand() bool { return bands[p] }

// ParseTableGrade accepts a paygrade or a band name. Rate tables published
// per band (BAS, DLA) key their records by band.
func ParseTableGrade(s string) (Paygrade, error) {
	if b := Paygrade(strings.ToUpper(strings.TrimSpace(s))); b.IsBand() {
		return b, nil
	}
	return ParsePaygrade(s)
}
