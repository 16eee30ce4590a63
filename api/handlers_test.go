/*
handlers_test.go - HTTP tests for the API surface

Tests for:
- Audit endpoint (tier masking through X-User-ID, input errors)
- Travel estimate endpoint
- Rate lookup passthrough (exact, band fallback, missing, bad query)
- Health, metrics mount and JSON 404s
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garrison-ledger/entitlement-engine/factory"
	"github.com/garrison-ledger/entitlement-engine/generic"
	"github.com/garrison-ledger/entitlement-engine/generic/store"
	"github.com/garrison-ledger/entitlement-engine/payaudit"
	"github.com/garrison-ledger/entitlement-engine/travel"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type tierMap map[string]payaudit.Tier

func (m tierMap) GetTier(_ context.Context, userID string) (payaudit.Tier, error) {
	if t, ok := m[userID]; ok {
		return t, nil
	}
	return payaudit.TierRestricted, nil
}

func newTestServer(t *testing.T) (*Handler, http.Handler) {
	t.Helper()

	records, err := factory.DefaultRateTables()
	require.NoError(t, err)
	lookup := generic.NewLookup(store.NewMemory(records...))

	tiers := tierMap{"paid-user": payaudit.TierUnrestricted}
	auditor := payaudit.NewAuditor(payaudit.NewBuilder(lookup), tiers, nil)
	auditor.NewID = func() string { return "audit-test" }

	h := NewHandler(auditor, travel.NewCalculator(lookup, nil), lookup, nil)
	h.Today = func() generic.Date { return generic.NewDate(2025, time.March, 1) }

	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("# metrics\n"))
	})
	return h, NewRouter(h, RouterOptions{Metrics: metrics})
}

func do(t *testing.T, router http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func money(m generic.Money) *generic.Money { return &m }

// bahScenario is an E-5 with 6 years at NC182 whose statement reports BAH
// at 2100.00 against a published 1950.00.
func bahScenario() AuditRequest {
	lines := []payaudit.LineItem{
		{Code: "BASIC PAY", Section: payaudit.SectionAllowance, Amount: 379590},
		{Code: "BAH W/DEP", Section: payaudit.SectionAllowance, Amount: 210000},
		{Code: "BAS", Section: payaudit.SectionAllowance, Amount: 46577},
		{Code: "FICA-SOC SEC", Section: payaudit.SectionTax, Amount: 23535},
		{Code: "FICA-MEDICARE", Section: payaudit.SectionTax, Amount: 5504},
		{Code: "FED TAX", Section: payaudit.SectionTax, Amount: 30000},
	}
	return AuditRequest{
		Profile:      payaudit.MemberProfile{Paygrade: "E-5", YearsOfService: 6, Location: "NC182", HasDependents: true},
		AsOf:         generic.NewDate(2025, time.March, 1),
		Lines:        lines,
		NetPayActual: money(379590 + 210000 + 46577 - 23535 - 5504 - 30000),
	}
}

// =============================================================================
// AUDIT ENDPOINT
// =============================================================================

func TestCreateAudit_RestrictedCallerSeesBucketsOnly(t *testing.T) {
	// GIVEN: The BAH overage scenario posted without a paid subscription
	// WHEN: Calling POST /api/audits
	// THEN: The flag is bucketed "$50–200", "may be owed", and 15000 never appears

	_, router := newTestServer(t)

	rec := do(t, router, http.MethodPost, "/api/audits", bahScenario(), map[string]string{UserIDHeader: "free-user"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotContains(t, rec.Body.String(), "15000")

	res := decode[payaudit.MaskedResult](t, rec)
	assert.Equal(t, "audit-test", res.AuditID)
	assert.True(t, res.Restricted)
	require.Len(t, res.Flags, 1)
	assert.Equal(t, payaudit.CodeBAH, res.Flags[0].Code)
	assert.Equal(t, payaudit.RangeMedium, res.Flags[0].Range)
	assert.Equal(t, payaudit.DirectionOwed, res.Flags[0].Direction)
	assert.Nil(t, res.Flags[0].Delta)
}

func TestCreateAudit_UnrestrictedCallerSeesExactDelta(t *testing.T) {
	_, router := newTestServer(t)

	rec := do(t, router, http.MethodPost, "/api/audits", bahScenario(), map[string]string{UserIDHeader: "paid-user"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	res := decode[payaudit.MaskedResult](t, rec)
	assert.False(t, res.Restricted)
	require.Len(t, res.Flags, 1)
	require.NotNil(t, res.Flags[0].Delta)
	assert.Equal(t, generic.Cents(15000), *res.Flags[0].Delta)
	assert.Equal(t, generic.High, res.Confidence.Level)
}

func TestCreateAudit_DefaultsAsOfToToday(t *testing.T) {
	_, router := newTestServer(t)

	req := bahScenario()
	req.AsOf = generic.Date{}
	rec := do(t, router, http.MethodPost, "/api/audits", req, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	res := decode[payaudit.MaskedResult](t, rec)
	assert.Equal(t, "2025-03-01", res.AsOf.String())
}

func TestCreateAudit_AcceptsSectionSpellings(t *testing.T) {
	// GIVEN: The BAH scenario with sections spelled as statements print them
	// WHEN: Calling POST /api/audits
	// THEN: The sections decode and the audit matches the canonical request

	_, router := newTestServer(t)

	body := `{
		"profile": {"paygrade": "E-5", "years_of_service": 6, "location": "NC182", "has_dependents": true},
		"as_of": "2025-03-01",
		"lines": [
			{"code": "BASIC PAY", "section": "allowance", "amount": 379590},
			{"code": "BAH W/DEP", "section": "Allowances", "amount": 210000},
			{"code": "BAS", "section": "ENTITLEMENT", "amount": 46577},
			{"code": "FICA-SOC SEC", "section": "taxes", "amount": 23535},
			{"code": "FICA-MEDICARE", "section": "Tax", "amount": 5504},
			{"code": "FED TAX", "section": "TAXES", "amount": 30000}
		],
		"net_pay_actual": 577128
	}`

	rec := do(t, router, http.MethodPost, "/api/audits", body, map[string]string{UserIDHeader: "paid-user"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	res := decode[payaudit.MaskedResult](t, rec)
	require.Len(t, res.Flags, 1)
	assert.Equal(t, payaudit.CodeBAH, res.Flags[0].Code)
	require.NotNil(t, res.Flags[0].Delta)
	assert.Equal(t, generic.Cents(15000), *res.Flags[0].Delta)
	assert.Equal(t, generic.High, res.Confidence.Level)

	rec = do(t, router, http.MethodPost, "/api/audits", `{"lines": [{"code": "X", "section": "bonus", "amount": 1}]}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateAudit_BadInputIs400(t *testing.T) {
	_, router := newTestServer(t)

	badGrade := bahScenario()
	badGrade.Profile.Paygrade = "Q-9"

	badLine := bahScenario()
	badLine.Lines = append(badLine.Lines, payaudit.LineItem{Code: "", Section: payaudit.SectionAllowance, Amount: 1})

	tests := []struct {
		name string
		body any
	}{
		{name: "malformed json", body: `{"profile": `},
		{name: "unknown paygrade", body: badGrade},
		{name: "line without code", body: badLine},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, router, http.MethodPost, "/api/audits", tt.body, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			errResp := decode[ErrorResponse](t, rec)
			assert.NotEmpty(t, errResp.Error)
			assert.NotEmpty(t, errResp.Details)
		})
	}
}

// =============================================================================
// TRAVEL ENDPOINT
// =============================================================================

func TestEstimateTravel_MALTAndDLA(t *testing.T) {
	// GIVEN: A 1200 mile PCS move under the 2025 tables (MALT 21 cents a mile)
	// WHEN: Calling POST /api/travel/estimate
	// THEN: MALT is 25200 cents and DLA comes from the senior enlisted band

	_, router := newTestServer(t)
	miles := int64(1200)

	claim := travel.Claim{
		Paygrade:       "E-5",
		HasDependents:  true,
		DependentCount: 2,
		Origin:         "NC182",
		Destination:    "CA038",
		DistanceMiles:  &miles,
		AsOf:           generic.NewDate(2025, time.March, 1),
		Evidence:       travel.Evidence{OrdersUploaded: true},
	}

	rec := do(t, router, http.MethodPost, "/api/travel/estimate", claim, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	est := decode[travel.Estimate](t, rec)
	require.NotNil(t, est.MALT)
	assert.Equal(t, generic.Cents(25200), est.MALT.Amount)
	require.NotNil(t, est.DLA)
	assert.Equal(t, generic.Cents(386200), est.DLA.Amount)
	assert.True(t, est.Total >= est.MALT.Amount+est.DLA.Amount)
}

func TestEstimateTravel_InvalidClaimIs400(t *testing.T) {
	_, router := newTestServer(t)
	miles := int64(-5)

	rec := do(t, router, http.MethodPost, "/api/travel/estimate", travel.Claim{Paygrade: "E-5", DistanceMiles: &miles}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// RATE ENDPOINT
// =============================================================================

func TestGetRate_ExactMatchWithCitation(t *testing.T) {
	_, router := newTestServer(t)

	rec := do(t, router, http.MethodGet, "/api/rates/bah?paygrade=e5&location=nc182&dependents=with&as_of=2025-03-01", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	dto := decode[RateDTO](t, rec)
	assert.Equal(t, generic.Category("BAH"), dto.Category)
	assert.Equal(t, generic.Cents(195000), dto.Record.Amount)
	assert.NotEmpty(t, dto.Citation)
	assert.False(t, dto.Approximate)
	assert.Equal(t, "exact", dto.Fallback)
	assert.Equal(t, generic.High, dto.Confidence)
}

func TestGetRate_BandFallbackIsApproximate(t *testing.T) {
	_, router := newTestServer(t)

	rec := do(t, router, http.MethodGet, "/api/rates/DLA?paygrade=E-6&dependents=with", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	dto := decode[RateDTO](t, rec)
	assert.Equal(t, generic.Cents(386200), dto.Record.Amount)
	assert.True(t, dto.Approximate)
	assert.Equal(t, "band", dto.Fallback)
	assert.Equal(t, generic.Medium, dto.Confidence)
}

func TestGetRate_ErrorStatuses(t *testing.T) {
	_, router := newTestServer(t)

	tests := []struct {
		name   string
		path   string
		status int
	}{
		{name: "unknown location", path: "/api/rates/BAH?paygrade=E-5&location=ZZ999&dependents=with", status: http.StatusNotFound},
		{name: "unknown category", path: "/api/rates/NOPE", status: http.StatusNotFound},
		{name: "bad paygrade", path: "/api/rates/BAH?paygrade=Z-1", status: http.StatusBadRequest},
		{name: "bad dependents", path: "/api/rates/BAH?dependents=maybe", status: http.StatusBadRequest},
		{name: "bad years", path: "/api/rates/BASEPAY?years=-2", status: http.StatusBadRequest},
		{name: "bad date", path: "/api/rates/BAH?as_of=03/01/2025", status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, router, http.MethodGet, tt.path, nil, nil)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decode[ErrorResponse](t, rec).Error)
		})
	}
}

// =============================================================================
// HEALTH, METRICS, ROUTING
// =============================================================================

func TestHealth(t *testing.T) {
	h, router := newTestServer(t)

	rec := do(t, router, http.MethodGet, "/api/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[HealthDTO](t, rec).Status)

	h.Checks["sqlite"] = PingFunc(func(context.Context) error { return errors.New("database is locked") })
	rec = do(t, router, http.MethodGet, "/api/health", nil, nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	health := decode[HealthDTO](t, rec)
	assert.Equal(t, "degraded", health.Status)
	assert.Equal(t, "database is locked", health.Checks["sqlite"])
}

func TestRouter_MetricsAndNotFound(t *testing.T) {
	_, router := newTestServer(t)

	rec := do(t, router, http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "# metrics")

	rec = do(t, router, http.MethodGet, "/api/employees", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Not found", decode[ErrorResponse](t, rec).Error)
}

func TestWithUserID(t *testing.T) {
	var seen string
	handler := WithUserID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UserID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(UserIDHeader, "  user-7 ")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "user-7", seen)

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Empty(t, seen)
}
