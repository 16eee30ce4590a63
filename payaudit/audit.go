/*
audit.go - Pay audit orchestration

PURPOSE:
  Wires the audit path end to end:

    profile + actual lines
      -> Normalizer (inside Compare)
      -> Expected-Value Builder
      -> Comparator / waterfall
      -> Confidence Scorer
      -> Tier Masking Policy
      -> MaskedResult

COLLABORATORS:
  All collaborators are injected at process start; none are globals.
  TierResolver   resolves the caller's tier (failures -> most restrictive)
  HistorySource  prior audits for the caller (optional)
  HistorySink    persists an audit summary (optional, failures logged)
  EventRecorder  analytics, fire-and-forget (failures swallowed)

ERRORS:
  Only structurally invalid input fails ComputeAudit. Missing rates and
  collaborator failures are recovered and surface through confidence.
*/
package payaudit

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/garrison-ledger/entitlement-engine/generic"
)

// =============================================================================
// COLLABORATORS
// =============================================================================

// TierResolver returns the subscription tier for a user.
type TierResolver interface {
	GetTier(ctx context.Context, userID string) (Tier, error)
}

// StaticTier resolves every user to the same tier.
type StaticTier Tier

func (s StaticTier) GetTier(context.Context, string) (Tier, error) { return Tier(s), nil }

// HistorySource lists prior audits for a user, newest first.
type HistorySource interface {
	History(ctx context.Context, userID string, limit int) ([]HistoryMarker, error)
}

// HistorySink stores a summary of a completed audit.
type HistorySink interface {
	RecordAudit(ctx context.Context, userID string, result AuditResult) error
}

// AuditObserver receives per-audit metrics.
type AuditObserver interface {
	ObserveAudit(level generic.Level, flagsBySeverity map[string]int)
}

// =============================================================================
// REQUEST / RESULT
// =============================================================================

// AuditRequest is the input to ComputeAudit.
type AuditRequest struct {
	UserID       string
	Profile      MemberProfile
	AsOf         generic.Date
	Lines        []LineItem
	NetPayActual *generic.Money
}

// AuditResult is the full, unmasked audit.
type AuditResult struct {
	ID         string             `json:"id"`
	AsOf       generic.Date       `json:"as_of"`
	Profile    MemberProfile      `json:"profile"`
	Expected   ExpectedSnapshot   `json:"expected"`
	Comparison Comparison         `json:"comparison"`
	Confidence generic.Confidence `json:"confidence"`
	History    []HistoryMarker    `json:"history,omitempty"`
}

// HistoryLimit caps the history markers attached to a result.
const HistoryLimit = 6

// =============================================================================
// AUDITOR
// =============================================================================

type Auditor struct {
	Builder  SnapshotBuilder
	Tiers    TierResolver
	History  HistorySource
	Sink     HistorySink
	Events   generic.EventRecorder
	Observer AuditObserver
	Logger   *slog.Logger
	NewID    func() string
}

func NewAuditor(builder SnapshotBuilder, tiers TierResolver, logger *slog.Logger) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		Builder: builder,
		Tiers:   tiers,
		Events:  generic.NopRecorder{},
		Logger:  logger,
		NewID:   uuid.NewString,
	}
}

// ComputeAudit reconciles a statement and returns the tier-masked view.
func (a *Auditor) ComputeAudit(ctx context.Context, req AuditRequest) (MaskedResult, error) {
	policy := a.ResolvePolicy(ctx, req.UserID)

	result, err := a.Reconcile(ctx, req, policy)
	if err != nil {
		return MaskedResult{}, err
	}
	return Mask(result, policy), nil
}

// ResolvePolicy resolves the caller's tier once. Any failure yields nil,
// the most restrictive view.
func (a *Auditor) ResolvePolicy(ctx context.Context, userID string) *TierPolicy {
	if a.Tiers == nil {
		a.logger().WarnContext(ctx, "no tier resolver configured", "error", generic.ErrMaskingPolicyAbsent)
		return nil
	}
	tier, err := a.Tiers.GetTier(ctx, userID)
	if err != nil {
		a.logger().WarnContext(ctx, "tier resolution failed, using most restrictive view",
			"user_id", userID, "error", err)
		return nil
	}
	policy := PolicyForTier(tier)
	if policy == nil {
		a.logger().WarnContext(ctx, "unknown tier, using most restrictive view",
			"user_id", userID, "tier", tier, "error", generic.ErrMaskingPolicyAbsent)
	}
	return policy
}

// Reconcile produces the full, unmasked result.
func (a *Auditor) Reconcile(ctx context.Context, req AuditRequest, policy *TierPolicy) (AuditResult, error) {
	for _, l := range req.Lines {
		if err := l.Validate(); err != nil {
			return AuditResult{}, err
		}
	}
	if req.NetPayActual != nil && req.NetPayActual.IsNegative() {
		return AuditResult{}, &generic.InvalidInputError{Field: "net_pay_actual", Value: *req.NetPayActual, Reason: "must not be negative"}
	}

	expected, err := a.Builder.Build(ctx, req.Profile, req.AsOf)
	if err != nil {
		return AuditResult{}, err
	}

	cmp := Compare(expected, req.Lines, req.NetPayActual)
	result := AuditResult{
		ID:         a.newID(),
		AsOf:       req.AsOf,
		Profile:    expected.Profile,
		Expected:   expected,
		Comparison: cmp,
		Confidence: Score(expected, cmp, expected.Profile),
	}

	if policy != nil && policy.AllowHistory && a.History != nil && req.UserID != "" {
		history, err := a.History.History(ctx, req.UserID, HistoryLimit)
		if err != nil {
			a.logger().WarnContext(ctx, "audit history unavailable", "user_id", req.UserID, "error", err)
		} else {
			result.History = history
		}
	}

	a.record(ctx, req.UserID, result)
	return result, nil
}

func (a *Auditor) record(ctx context.Context, userID string, result AuditResult) {
	counts := map[string]int{}
	for _, f := range result.Comparison.Flags {
		counts[string(f.Severity)]++
	}

	a.logger().InfoContext(ctx, "audit computed",
		"audit_id", result.ID,
		"confidence", result.Confidence.Level,
		"flags", len(result.Comparison.Flags),
		"net_variance", int64(result.Comparison.Waterfall.Sum()))

	if codes := result.Comparison.Unrecognized; len(codes) > 0 {
		a.logger().InfoContext(ctx, "statement lines included as reported",
			"audit_id", result.ID,
			"codes", codes,
			"error", generic.ErrUnrecognizedLineCode)
	}

	if a.Observer != nil {
		a.Observer.ObserveAudit(result.Confidence.Level, counts)
	}

	if a.Sink != nil && userID != "" {
		if err := a.Sink.RecordAudit(ctx, userID, result); err != nil {
			a.logger().WarnContext(ctx, "failed to record audit history", "audit_id", result.ID, "error", err)
		}
	}

	if a.Events != nil {
		props := map[string]any{
			"audit_id":   result.ID,
			"confidence": string(result.Confidence.Level),
			"flags":      len(result.Comparison.Flags),
			"critical":   counts[string(SeverityCritical)],
		}
		if err := a.Events.RecordEvent(ctx, "audit_computed", props); err != nil {
			a.logger().DebugContext(ctx, "event dropped", "event", "audit_computed", "error", err)
		}
		for _, cat := range result.Expected.MissingCategories() {
			missing := map[string]any{"audit_id": result.ID, "category": cat, "as_of": result.AsOf.String()}
			if err := a.Events.RecordEvent(ctx, "rate_lookup_missing", missing); err != nil {
				a.logger().DebugContext(ctx, "event dropped", "event", "rate_lookup_missing", "error", err)
			}
		}
	}
}

func (a *Auditor) newID() string {
	if a.NewID == nil {
		return uuid.NewString()
	}
	return a.NewID()
}

func (a *Auditor) logger() *slog.Logger {
	if a.Logger == nil {
		return slog.Default()
	}
	return a.Logger
}
