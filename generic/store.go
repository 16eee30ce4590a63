/*
store.go - Collaborator interfaces consumed by the engine

PURPOSE:
  Defines the boundary between the pure entitlement logic and the outside
  world. The engine only ever reads rates; ingestion of rate tables,
  subscription management and analytics live elsewhere.

KEY INTERFACES:
  RateStore:      Read-only, versioned rate table (Query)
  RateWriter:     Used by loaders and tests to publish records
  EventRecorder:  Fire-and-forget analytics sink (RecordEvent)
  LookupObserver: Optional metrics hook for lookup outcomes

READ-ONLY CONTRACT:
  From the engine's perspective the rate table is immutable. Concurrent
  reads need no coordination beyond what the implementation provides.

IMPLEMENTATIONS:
  - generic/store/memory.go: In-memory, used by tests and the embedded tables
  - store/sqlite/sqlite.go:  SQLite-backed rate table
  - retry.go:                Backoff decorator around any RateStore

SEE ALSO:
  - lookup.go: Fallback chain layered over RateStore
*/
package generic

import "context"

// =============================================================================
// RATE STORE - Read-only rate table
// =============================================================================

// RateStore answers rate queries.
//
// Query returns the record of category whose conditions match q (see
// Conditions.Matches) with the latest EffectiveDate on or before asOf.
// Ties on the date go to the more specific record. Returns ErrNotFound
// (possibly wrapped) when nothing matches.
type RateStore interface {
	Query(ctx context.Context, category Category, q Conditions, asOf Date) (RateRecord, error)
}

// RateWriter publishes records. Not used by the engine itself.
type RateWriter interface {
	SaveRates(ctx context.Context, records []RateRecord) error
}

// =============================================================================
// EVENTS & OBSERVERS
// =============================================================================

// EventRecorder receives analytics events. Implementations must not block
// the caller for long; use events.Async to decouple a slow sink.
type EventRecorder interface {
	RecordEvent(ctx context.Context, name string, properties map[string]any) error
}

// NopRecorder discards events.
type NopRecorder struct{}

func (NopRecorder) RecordEvent(context.Context, string, map[string]any) error { return nil }

// Lookup outcomes reported to a LookupObserver.
const (
	OutcomeExact       = "exact"
	OutcomeApproximate = "approximate"
	OutcomeMissing     = "missing"
	OutcomeError       = "error"
)

// LookupObserver is notified of each lookup outcome.
type LookupObserver interface {
	ObserveLookup(category Category, outcome string)
}
