/*
handlers.go - HTTP API handlers for the entitlement engine

PURPOSE:
  Exposes the pay audit, the travel calculator and the rule lookup over
  REST. Handles request decoding and error mapping, and delegates
  everything else to the domain packages.

ENDPOINTS:
  POST   /api/audits              Reconcile a pay statement (X-User-ID selects the tier)
  POST   /api/travel/estimate     Estimate PCS travel entitlements
  GET    /api/rates/{category}    Rule lookup passthrough with citation
  GET    /api/health              Liveness and store reachability

REQUEST FLOW:
  1. Decode JSON body (or query parameters)
  2. Default the as-of date to today when omitted
  3. Call the domain service
  4. Serialize response

ERROR HANDLING:
  - 400: Malformed JSON, invalid profile, claim or line item
  - 404: No rate for the requested category and conditions
  - 500: Store failures and anything unexpected
  Missing rates inside an audit or estimate are NOT errors: they surface
  as lowered confidence in a 200 response.

SECURITY NOTE:
  X-User-ID is trusted as given. Authentication belongs in front of this
  service.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/garrison-ledger/entitlement-engine/generic"
	"github.com/garrison-ledger/entitlement-engine/payaudit"
	"github.com/garrison-ledger/entitlement-engine/travel"
)

const maxBodyBytes = 1 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Auditor    *payaudit.Auditor
	Calculator *travel.Calculator
	Lookup     *generic.Lookup
	Checks     map[string]Pinger
	Logger     *slog.Logger

	// Today supplies the default as-of date.
	Today func() generic.Date
}

func NewHandler(auditor *payaudit.Auditor, calculator *travel.Calculator, lookup *generic.Lookup, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Auditor:    auditor,
		Calculator: calculator,
		Lookup:     lookup,
		Checks:     map[string]Pinger{},
		Logger:     logger,
		Today:      generic.Today,
	}
}

// =============================================================================
// AUDIT HANDLERS
// =============================================================================

// CreateAudit reconciles a pay statement and returns the masked result.
func (h *Handler) CreateAudit(w http.ResponseWriter, r *http.Request) {
	var req AuditRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.AsOf.IsZero() {
		req.AsOf = h.Today()
	}

	result, err := h.Auditor.ComputeAudit(r.Context(), payaudit.AuditRequest{
		UserID:       UserID(r.Context()),
		Profile:      req.Profile,
		AsOf:         req.AsOf,
		Lines:        req.Lines,
		NetPayActual: req.NetPayActual,
	})
	if err != nil {
		h.writeDomainError(w, r, "Failed to compute audit", err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// =============================================================================
// TRAVEL HANDLERS
// =============================================================================

// EstimateTravel computes the travel entitlement estimate for a claim.
func (h *Handler) EstimateTravel(w http.ResponseWriter, r *http.Request) {
	var claim travel.Claim
	if err := decodeJSON(w, r, &claim); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if claim.AsOf.IsZero() {
		claim.AsOf = h.Today()
	}

	est, err := h.Calculator.Estimate(r.Context(), claim)
	if err != nil {
		h.writeDomainError(w, r, "Failed to estimate travel entitlements", err)
		return
	}

	writeJSON(w, http.StatusOK, est)
}

// =============================================================================
// RATE HANDLERS
// =============================================================================

// GetRate runs the rule lookup for one category.
//
// Query parameters: paygrade, years, location, dependents (with|without),
// as_of. All optional; an omitted parameter only matches wildcard rows.
func (h *Handler) GetRate(w http.ResponseWriter, r *http.Request) {
	category := generic.Category(strings.ToUpper(chi.URLParam(r, "category")))

	q, asOf, err := h.rateQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid rate query", err)
		return
	}

	res, err := h.Lookup.Find(r.Context(), category, q, asOf)
	if err != nil {
		h.writeDomainError(w, r, "Rate lookup failed", err)
		return
	}
	if res.Missing {
		writeError(w, http.StatusNotFound, "Rate not found", res.Err)
		return
	}

	writeJSON(w, http.StatusOK, RateDTO{
		Category:    category,
		Query:       q,
		AsOf:        asOf,
		Record:      res.Record,
		Citation:    res.Citation(),
		Approximate: res.Approximate,
		Fallback:    res.Fallback,
		Confidence:  res.Level(),
	})
}

func (h *Handler) rateQuery(r *http.Request) (generic.Conditions, generic.Date, error) {
	params := r.URL.Query()
	var q generic.Conditions

	if v := params.Get("paygrade"); v != "" {
		pg, err := generic.ParseTableGrade(v)
		if err != nil {
			return q, generic.Date{}, err
		}
		q.Paygrade = pg
	}
	if v := params.Get("years"); v != "" {
		years, err := strconv.Atoi(v)
		if err != nil || years < 0 {
			return q, generic.Date{}, &generic.InvalidInputError{Field: "years", Value: v, Reason: "must be a non-negative integer"}
		}
		q.YearsBracket = generic.Years(years)
	}
	q.Location = strings.ToUpper(strings.TrimSpace(params.Get("location")))

	switch d := generic.DependencyStatus(strings.ToLower(params.Get("dependents"))); d {
	case generic.DependencyAny, generic.WithDependents, generic.WithoutDependents:
		q.Dependency = d
	default:
		return q, generic.Date{}, &generic.InvalidInputError{Field: "dependents", Value: d, Reason: "want with or without"}
	}

	asOf := h.Today()
	if v := params.Get("as_of"); v != "" {
		parsed, err := generic.ParseDate(v)
		if err != nil {
			return q, generic.Date{}, &generic.InvalidInputError{Field: "as_of", Value: v, Reason: "want YYYY-MM-DD"}
		}
		asOf = parsed
	}
	return q, asOf, nil
}

// =============================================================================
// HEALTH
// =============================================================================

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthDTO{Status: "ok", Checks: map[string]string{}}
	status := http.StatusOK

	for name, p := range h.Checks {
		if err := p.Ping(r.Context()); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}

	writeJSON(w, status, resp)
}

// =============================================================================
// HELPERS
// =============================================================================

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps engine errors onto HTTP statuses.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, message string, err error) {
	switch {
	case generic.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	case generic.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	default:
		h.Logger.ErrorContext(r.Context(), message, "error", err, "path", r.URL.Path)
		writeError(w, http.StatusInternalServerError, message, nil)
	}
}
