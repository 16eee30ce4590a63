/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements the engine's collaborators on SQLite. In production, the same
  patterns apply to PostgreSQL - only minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  generic.RateStore:      Rate table queries (Query)
  generic.RateWriter:     Rate table loading (SaveRates)
  generic.EventRecorder:  Analytics sink (RecordEvent)
  payaudit.TierResolver:  Subscription tiers (GetTier)
  payaudit.HistorySource: Prior audits (History)
  payaudit.HistorySink:   Audit summaries (RecordAudit)

READ-ONLY RATES:
  From the engine's point of view the rates table is immutable. Records
  are published with SaveRates by the seeding step at start-up; a new
  year's table is new rows with a later effective_date, never an UPDATE.

KEY TABLES:
  rates:          Published rate records, one row per conditions + date
  subscriptions:  User tier
  audit_history:  One summary row per computed audit
  events:         Analytics events

INDEXES:
  - idx_rates_lookup: (category, effective_date), the hot path of Query

WILDCARDS:
  An empty paygrade/location/dependency or a NULL years_bracket is a
  wildcard on the record side. Query orders matches by effective_date and
  then by the number of non-wildcard columns, which is exactly the
  generic.RateStore contract.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. ":memory:" databases are limited to
  one connection since each connection would otherwise see its own,
  empty, database.

USAGE:
  store, err := sqlite.New("./data/engine.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  lookup := generic.NewLookup(generic.NewRetryingStore(store))

SEE ALSO:
  - generic/store.go: Interface definitions
  - generic/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/garrison-ledger/entitlement-engine/generic"
	"github.com/garrison-ledger/entitlement-engine/payaudit"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Published rates (read-only to the engine)
	CREATE TABLE IF NOT EXISTS rates (
		id TEXT PRIMARY KEY,
		category TEXT NOT NULL,
		paygrade TEXT NOT NULL DEFAULT '',
		years_bracket INTEGER,
		location TEXT NOT NULL DEFAULT '',
		dependency TEXT NOT NULL DEFAULT '',
		amount INTEGER NOT NULL DEFAULT 0,
		rate TEXT NOT NULL DEFAULT '0',
		quantity INTEGER NOT NULL DEFAULT 0,
		effective_date TEXT NOT NULL,
		citation TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_rates_lookup
		ON rates(category, effective_date);

	-- Subscription tier per user
	CREATE TABLE IF NOT EXISTS subscriptions (
		user_id TEXT PRIMARY KEY,
		tier TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- One summary per computed audit
	CREATE TABLE IF NOT EXISTS audit_history (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		as_of TEXT NOT NULL,
		net_delta INTEGER NOT NULL,
		flag_count INTEGER NOT NULL,
		confidence TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_history_user
		ON audit_history(user_id);

	-- Analytics events
	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		properties_json TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_name
		ON events(name);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// RATE STORE (generic.RateStore / generic.RateWriter)
// =============================================================================

// SaveRates publishes records in one transaction. Records without an ID
// get a generated one; an existing ID is replaced.
func (s *Store) SaveRates(ctx context.Context, records []generic.RateRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT OR REPLACE INTO rates
		(id, category, paygrade, years_bracket, location, dependency, amount, rate, quantity, effective_date, citation)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	for _, r := range records {
		id := r.ID
		if id == "" {
			id = uuid.NewString()
		}
		_, err := tx.ExecContext(ctx, query,
			id,
			string(r.Category),
			string(r.Conditions.Paygrade),
			nullYears(r.Conditions.YearsBracket),
			r.Conditions.Location,
			string(r.Conditions.Dependency),
			int64(r.Amount),
			r.Rate.String(),
			r.Quantity,
			r.EffectiveDate.String(),
			r.Citation,
		)
		if err != nil {
			return fmt.Errorf("failed to save rate %s: %w", id, err)
		}
	}

	return tx.Commit()
}

// Query returns the latest, most specific record matching q on or before
// asOf. Returns generic.ErrNotFound when nothing matches.
func (s *Store) Query(ctx context.Context, category generic.Category, q generic.Conditions, asOf generic.Date) (generic.RateRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, category, paygrade, years_bracket, location, dependency,
		       amount, rate, quantity, effective_date, citation
		FROM rates
		WHERE category = ?
		  AND effective_date <= ?
		  AND (paygrade = '' OR paygrade = ?)
		  AND (years_bracket IS NULL OR years_bracket = ?)
		  AND (location = '' OR location = ?)
		  AND (dependency = '' OR dependency = ?)
		ORDER BY effective_date DESC,
		         ((paygrade != '') + (years_bracket IS NOT NULL) + (location != '') + (dependency != '')) DESC
		LIMIT 1
	`

	row := s.db.QueryRowContext(ctx, query,
		string(category),
		asOf.String(),
		string(q.Paygrade),
		nullYears(q.YearsBracket),
		q.Location,
		string(q.Dependency),
	)

	rec, err := scanRate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return generic.RateRecord{}, generic.ErrNotFound
	}
	if err != nil {
		return generic.RateRecord{}, fmt.Errorf("%w: %v", generic.ErrRateStoreUnavailable, err)
	}
	return rec, nil
}

// CountRates returns the number of published records.
func (s *Store) CountRates(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rates`).Scan(&n)
	return n, err
}

func scanRate(row *sql.Row) (generic.RateRecord, error) {
	var (
		rec                   generic.RateRecord
		category, paygrade    string
		dependency, rate, eff string
		years                 sql.NullInt64
		amount                int64
	)

	err := row.Scan(&rec.ID, &category, &paygrade, &years, &rec.Conditions.Location, &dependency,
		&amount, &rate, &rec.Quantity, &eff, &rec.Citation)
	if err != nil {
		return rec, err
	}

	rec.Category = generic.Category(category)
	rec.Conditions.Paygrade = generic.Paygrade(paygrade)
	rec.Conditions.Dependency = generic.DependencyStatus(dependency)
	if years.Valid {
		rec.Conditions.YearsBracket = generic.Years(int(years.Int64))
	}
	rec.Amount = generic.Cents(amount)

	if rec.Rate, err = decimal.NewFromString(rate); err != nil {
		return rec, fmt.Errorf("corrupt rate %q on %s: %w", rate, rec.ID, err)
	}
	if rec.EffectiveDate, err = generic.ParseDate(eff); err != nil {
		return rec, fmt.Errorf("corrupt effective_date %q on %s: %w", eff, rec.ID, err)
	}
	return rec, nil
}

// =============================================================================
// SUBSCRIPTIONS (payaudit.TierResolver)
// =============================================================================

// GetTier returns the user's tier. Users without a subscription row are
// restricted.
func (s *Store) GetTier(ctx context.Context, userID string) (payaudit.Tier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var tier string
	err := s.db.QueryRowContext(ctx, `SELECT tier FROM subscriptions WHERE user_id = ?`, userID).Scan(&tier)
	if errors.Is(err, sql.ErrNoRows) {
		return payaudit.TierRestricted, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get tier: %w", err)
	}
	return payaudit.Tier(tier), nil
}

// SetTier creates or updates a user's subscription.
func (s *Store) SetTier(ctx context.Context, userID string, tier payaudit.Tier) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO subscriptions (user_id, tier, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET tier = excluded.tier, updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query, userID, string(tier), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to set tier: %w", err)
	}
	return nil
}

// =============================================================================
// AUDIT HISTORY (payaudit.HistorySource / payaudit.HistorySink)
// =============================================================================

// RecordAudit stores the summary of a completed audit.
func (s *Store) RecordAudit(ctx context.Context, userID string, result payaudit.AuditResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO audit_history (id, user_id, as_of, net_delta, flag_count, confidence, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		result.ID,
		userID,
		result.AsOf.String(),
		int64(result.Comparison.Waterfall.Sum()),
		len(result.Comparison.Flags),
		string(result.Confidence.Level),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to record audit: %w", err)
	}
	return nil
}

// History returns the user's most recent audits, newest first.
func (s *Store) History(ctx context.Context, userID string, limit int) ([]payaudit.HistoryMarker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, as_of, net_delta, flag_count
		FROM audit_history
		WHERE user_id = ?
		ORDER BY rowid DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit history: %w", err)
	}
	defer rows.Close()

	var markers []payaudit.HistoryMarker
	for rows.Next() {
		var (
			m     payaudit.HistoryMarker
			asOf  string
			delta int64
		)
		if err := rows.Scan(&m.AuditID, &asOf, &delta, &m.FlagCount); err != nil {
			return nil, err
		}
		if m.AsOf, err = generic.ParseDate(asOf); err != nil {
			return nil, fmt.Errorf("corrupt as_of on audit %s: %w", m.AuditID, err)
		}
		m.NetDelta = generic.Cents(delta)
		markers = append(markers, m)
	}
	return markers, rows.Err()
}

// =============================================================================
// EVENTS (generic.EventRecorder)
// =============================================================================

// Event is a stored analytics event.
type Event struct {
	ID         string
	Name       string
	Properties map[string]any
	CreatedAt  time.Time
}

// RecordEvent stores an analytics event.
func (s *Store) RecordEvent(ctx context.Context, name string, properties map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	propsJSON, err := json.Marshal(properties)
	if err != nil {
		return fmt.Errorf("failed to encode event properties: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO events (id, name, properties_json, created_at) VALUES (?, ?, ?, ?)`,
		uuid.NewString(), name, string(propsJSON), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

// Events returns stored events with the given name, oldest first.
func (s *Store) Events(ctx context.Context, name string) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, properties_json, created_at FROM events WHERE name = ? ORDER BY rowid`, name)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e                  Event
			propsJSON, created string
		)
		if err := rows.Scan(&e.ID, &e.Name, &propsJSON, &created); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(propsJSON), &e.Properties); err != nil {
			return nil, fmt.Errorf("corrupt properties on event %s: %w", e.ID, err)
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		events = append(events, e)
	}
	return events, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func nullYears(years *int) sql.NullInt64 {
	if years == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*years), Valid: true}
}
