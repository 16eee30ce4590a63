/*
lookup.go - Rule lookup service

PURPOSE:
  Resolves (category, conditions, as-of date) to a published rate and its
  citation. When the exact key is absent a documented fallback chain is
  tried and the result is marked approximate so confidence can be lowered.

FALLBACK CHAIN:
  1. Exact conditions as given
  2. Paygrade replaced by its band (E-5 -> E-SR)
  3. Paygrade replaced by the wildcard
  Location, years bracket and dependency are never widened: a BAH rate for
  the wrong MHA is worse than no rate at all.

NOT FOUND:
  A miss is never fatal. Find returns a Result with Missing set and a zero
  record; callers substitute zero and downgrade confidence. Resolve goes
  one step further and folds store failures into Missing as well, which is
  what the builders use.

EXAMPLE:
  lookup := generic.NewLookup(store)
  res := lookup.Resolve(ctx, "BAH", generic.Conditions{
      Paygrade:   "E-5",
      Location:   "NC182",
      Dependency: generic.WithDependents,
  }, asOf)
  if res.Missing { ... }
*/
package generic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// LookupResult is the outcome of a rule lookup.
type LookupResult struct {
	Record      RateRecord
	Approximate bool
	Missing     bool
	// Fallback describes which step of the chain matched ("exact", "band", "any").
	Fallback string
	// Err is set by Resolve when the store failed rather than missed.
	Err error
}

// Citation returns the record citation, or "" for a missing rate.
func (r LookupResult) Citation() string { return r.Record.Citation }

// Level is the confidence a single lookup supports on its own.
func (r LookupResult) Level() Level {
	switch {
	case r.Missing:
		return Low
	case r.Approximate:
		return Medium
	default:
		return High
	}
}

// Lookup is the rule lookup service.
type Lookup struct {
	Store    RateStore
	Logger   *slog.Logger
	Observer LookupObserver
}

func NewLookup(store RateStore) *Lookup {
	return &Lookup{Store: store, Logger: slog.Default()}
}

type fallbackStep struct {
	name       string
	conditions Conditions
}

func fallbackChain(q Conditions) []fallbackStep {
	steps := []fallbackStep{{name: "exact", conditions: q}}
	if q.Paygrade == "" {
		return steps
	}
	if band := q.Paygrade.Band(); band != "" && band != q.Paygrade {
		c := q
		c.Paygrade = band
		steps = append(steps, fallbackStep{name: "band", conditions: c})
	}
	c := q
	c.Paygrade = ""
	steps = append(steps, fallbackStep{name: "any", conditions: c})
	return steps
}

// Find walks the fallback chain. Store errors other than not-found are
// returned to the caller.
func (l *Lookup) Find(ctx context.Context, category Category, q Conditions, asOf Date) (LookupResult, error) {
	for i, step := range fallbackChain(q) {
		rec, err := l.Store.Query(ctx, category, step.conditions, asOf)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			l.observe(category, OutcomeError)
			return LookupResult{}, fmt.Errorf("lookup %s: %w", category, err)
		}
		res := LookupResult{Record: rec, Approximate: i > 0, Fallback: step.name}
		if res.Approximate {
			l.observe(category, OutcomeApproximate)
		} else {
			l.observe(category, OutcomeExact)
		}
		return res, nil
	}

	l.observe(category, OutcomeMissing)
	return LookupResult{
		Missing:  true,
		Fallback: "none",
		Err:      &MissingRateError{Category: category, Conditions: q, AsOf: asOf},
	}, nil
}

// Resolve is Find for callers that must not fail: store errors become a
// missing rate with Err set.
func (l *Lookup) Resolve(ctx context.Context, category Category, q Conditions, asOf Date) LookupResult {
	res, err := l.Find(ctx, category, q, asOf)
	if err != nil {
		l.logger().WarnContext(ctx, "rate lookup failed, treating as missing",
			"category", category, "conditions", q.String(), "as_of", asOf.String(), "error", err)
		return LookupResult{Missing: true, Fallback: "none", Err: err}
	}
	return res
}

func (l *Lookup) observe(category Category, outcome string) {
	if l.Observer != nil {
		l.Observer.ObserveLookup(category, outcome)
	}
}

func (l *Lookup) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.Default()
	}
	return l.Logger
}
