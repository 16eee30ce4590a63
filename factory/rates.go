/*
Package factory provides YAML to Go rate table conversion.

PURPOSE:
  Converts YAML rate table definitions into generic.RateRecord values. The
  published tables (pay, housing, travel) change every year; keeping them
  as data means a new table is a file change, not a code change.

WHY YAML?
  - Tables are long and mostly numbers; YAML keeps them readable
  - Reviewable diffs when a new year's rates are published
  - The same files seed the SQLite store and the in-memory store

YAML SCHEMA:
  tables:
    - category: BAH
      effective_date: "2025-01-01"
      citation: "DoD BAH rates, 2025"
      rates:
        - {paygrade: E-5, location: NC182, dependency: with, amount: 195000}
        - {paygrade: E-5, location: NC182, dependency: without, amount: 156000}
    - category: FICA_SS
      effective_date: "2025-01-01"
      citation: "26 U.S.C. 3101(a)"
      rates:
        - {rate: "0.062"}

  amount   money in cents
  rate     decimal string (fractions, or cents per unit)
  quantity non-money values (pounds, nights)
  An omitted condition is a wildcard. A row may override the table's
  effective_date and citation.

USAGE:
  records, err := factory.DefaultRateTables()
  mem := store.NewMemory(records...)

SEE ALSO:
  - tables/: The embedded rate tables
  - generic/types.go: RateRecord and Conditions
*/
package factory

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/garrison-ledger/entitlement-engine/generic"
)

//go:embed tables/*.yaml
var tables embed.FS

// =============================================================================
// YAML SCHEMA TYPES
// =============================================================================

// RateFileYAML is one file of rate tables.
type RateFileYAML struct {
	Tables []RateTableYAML `yaml:"tables"`
}

// RateTableYAML is one category published on one date.
type RateTableYAML struct {
	Category      string        `yaml:"category"`
	EffectiveDate string        `yaml:"effective_date"`
	Citation      string        `yaml:"citation"`
	Rates         []RateRowYAML `yaml:"rates"`
}

// RateRowYAML is one record of a table.
type RateRowYAML struct {
	Paygrade      string `yaml:"paygrade,omitempty"`
	Years         *int   `yaml:"years,omitempty"`
	Location      string `yaml:"location,omitempty"`
	Dependency    string `yaml:"dependency,omitempty"`
	Amount        *int64 `yaml:"amount,omitempty"`
	Rate          string `yaml:"rate,omitempty"`
	Quantity      *int64 `yaml:"quantity,omitempty"`
	EffectiveDate string `yaml:"effective_date,omitempty"`
	Citation      string `yaml:"citation,omitempty"`
}

// =============================================================================
// PARSING
// =============================================================================

// ParseRateTables converts one YAML document into records.
func ParseRateTables(data []byte) ([]generic.RateRecord, error) {
	var file RateFileYAML
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("invalid rate table YAML: %w", err)
	}

	var records []generic.RateRecord
	for i, table := range file.Tables {
		recs, err := parseTable(table)
		if err != nil {
			return nil, fmt.Errorf("table %d (%s): %w", i, table.Category, err)
		}
		records = append(records, recs...)
	}
	return records, nil
}

func parseTable(t RateTableYAML) ([]generic.RateRecord, error) {
	category := strings.ToUpper(strings.TrimSpace(t.Category))
	if category == "" {
		return nil, fmt.Errorf("category is required")
	}
	if len(t.Rates) == 0 {
		return nil, fmt.Errorf("no rates")
	}

	records := make([]generic.RateRecord, 0, len(t.Rates))
	for i, row := range t.Rates {
		rec, err := parseRow(generic.Category(category), t, row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		rec.ID = fmt.Sprintf("%s/%s/%d", category, rec.EffectiveDate, i)
		records = append(records, rec)
	}
	return records, nil
}

func parseRow(category generic.Category, t RateTableYAML, row RateRowYAML) (generic.RateRecord, error) {
	rec := generic.RateRecord{Category: category, Citation: t.Citation}

	effective := t.EffectiveDate
	if row.EffectiveDate != "" {
		effective = row.EffectiveDate
	}
	date, err := generic.ParseDate(effective)
	if err != nil {
		return rec, fmt.Errorf("effective_date: %w", err)
	}
	rec.EffectiveDate = date

	if row.Citation != "" {
		rec.Citation = row.Citation
	}
	if rec.Citation == "" {
		return rec, fmt.Errorf("citation is required")
	}

	if row.Paygrade != "" {
		pg, err := generic.ParseTableGrade(row.Paygrade)
		if err != nil {
			return rec, err
		}
		rec.Conditions.Paygrade = pg
	}
	if row.Years != nil {
		if *row.Years < 0 {
			return rec, fmt.Errorf("years must not be negative")
		}
		rec.Conditions.YearsBracket = generic.Years(*row.Years)
	}
	rec.Conditions.Location = strings.ToUpper(strings.TrimSpace(row.Location))

	switch strings.ToLower(row.Dependency) {
	case "":
		rec.Conditions.Dependency = generic.DependencyAny
	case "with":
		rec.Conditions.Dependency = generic.WithDependents
	case "without":
		rec.Conditions.Dependency = generic.WithoutDependents
	default:
		return rec, fmt.Errorf("unknown dependency %q", row.Dependency)
	}

	if row.Amount == nil && row.Rate == "" && row.Quantity == nil {
		return rec, fmt.Errorf("one of amount, rate or quantity is required")
	}
	if row.Amount != nil {
		rec.Amount = generic.Cents(*row.Amount)
	}
	if row.Rate != "" {
		r, err := decimal.NewFromString(row.Rate)
		if err != nil {
			return rec, fmt.Errorf("rate %q: %w", row.Rate, err)
		}
		rec.Rate = r
	}
	if row.Quantity != nil {
		rec.Quantity = *row.Quantity
	}
	return rec, nil
}

// =============================================================================
// EMBEDDED TABLES
// =============================================================================

// LoadRateTables parses every *.yaml file in dir of fsys, in name order.
func LoadRateTables(fsys fs.FS, dir string) ([]generic.RateRecord, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read rate tables: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".yaml") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var records []generic.RateRecord
	for _, name := range names {
		data, err := fs.ReadFile(fsys, path.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		recs, err := ParseRateTables(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		records = append(records, recs...)
	}
	return records, nil
}

// DefaultRateTables returns the tables compiled into the binary.
func DefaultRateTables() ([]generic.RateRecord, error) {
	return LoadRateTables(tables, "tables")
}
