/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON structures for the HTTP surface. Domain types that already carry
  json tags (payaudit.MaskedResult, travel.Claim, travel.Estimate) are
  returned as-is; the types here cover request envelopes and the rate
  passthrough.

NAMING CONVENTION:
  - *Request: Request body types from clients
  - *DTO: Response types returned to clients

CONVENTIONS:
  - Dates are calendar dates ("2006-01-02")
  - Money is integer cents

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"github.com/garrison-ledger/entitlement-engine/generic"
	"github.com/garrison-ledger/entitlement-engine/payaudit"
)

// =============================================================================
// AUDIT
// =============================================================================

// AuditRequest is the body of POST /api/audits. The caller identity comes
// from the X-User-ID header, not the body.
type AuditRequest struct {
	Profile      payaudit.MemberProfile `json:"profile"`
	AsOf         generic.Date           `json:"as_of"`
	Lines        []payaudit.LineItem    `json:"lines"`
	NetPayActual *generic.Money         `json:"net_pay_actual,omitempty"`
}

// =============================================================================
// RATES
// =============================================================================

// RateDTO is the response of GET /api/rates/{category}.
type RateDTO struct {
	Category    generic.Category   `json:"category"`
	Query       generic.Conditions `json:"query"`
	AsOf        generic.Date       `json:"as_of"`
	Record      generic.RateRecord `json:"record"`
	Citation    string             `json:"citation"`
	Approximate bool               `json:"approximate"`
	Fallback    string             `json:"fallback"`
	Confidence  generic.Level      `json:"confidence"`
}

// =============================================================================
// HEALTH & ERRORS
// =============================================================================

type HealthDTO struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
