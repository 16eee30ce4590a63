// Package store provides RateStore implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/garrison-ledger/entitlement-engine/generic"
)

// =============================================================================
// MEMORY STORE - In-memory rate table (tests, embedded tables)
// =============================================================================

type Memory struct {
	mu    sync.RWMutex
	rates map[generic.Category][]generic.RateRecord
}

func NewMemory(records ...generic.RateRecord) *Memory {
	m := &Memory{rates: make(map[generic.Category][]generic.RateRecord)}
	m.add(records)
	return m
}

// SaveRates publishes records. Records are kept sorted newest first.
func (m *Memory) SaveRates(_ context.Context, records []generic.RateRecord) error {
	m.add(records)
	return nil
}

func (m *Memory) add(records []generic.RateRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range records {
		recs := m.rates[r.Category]

		// Binary search for insertion point, newest effective date first,
		// then most specific first.
		i := sort.Search(len(recs), func(i int) bool {
			return newer(r, recs[i])
		})

		recs = append(recs, generic.RateRecord{})
		copy(recs[i+1:], recs[i:])
		recs[i] = r
		m.rates[r.Category] = recs
	}
}

// newer reports whether a sorts before b.
func newer(a, b generic.RateRecord) bool {
	if !a.EffectiveDate.Equal(b.EffectiveDate) {
		return a.EffectiveDate.After(b.EffectiveDate)
	}
	return a.Conditions.Specificity() > b.Conditions.Specificity()
}

func (m *Memory) Query(_ context.Context, category generic.Category, q generic.Conditions, asOf generic.Date) (generic.RateRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, r := range m.rates[category] {
		if r.EffectiveDate.After(asOf) {
			continue
		}
		if r.Conditions.Matches(q) {
			return r, nil
		}
	}
	return generic.RateRecord{}, generic.ErrNotFound
}
