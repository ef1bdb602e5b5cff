package insurance_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"github.com/parametrix/insurance-engine/internal/insurance"
	"github.com/parametrix/insurance-engine/internal/model"
	"github.com/parametrix/insurance-engine/internal/store"
)

const expiry = int64(1_800_000_000)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// newTestEnv creates a test Service with in-memory store and chi router.
func newTestEnv(t *testing.T) (*insurance.Service, *store.MemoryStore, chi.Router) {
	t.Helper()
	ms := store.NewMemoryStore()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC))
	svc := insurance.NewService(ms, clock, nil)

	r := chi.NewRouter()
	r.Post("/api/v1/policies", svc.CreatePolicy)
	r.Get("/api/v1/policies", svc.ListPolicies)
	r.Get("/api/v1/policies/{policyID}", svc.GetPolicy)
	r.Post("/api/v1/policies/{policyID}/operators", svc.AddOperator)
	r.Post("/api/v1/policies/{policyID}/operators/remove", svc.RemoveOperator)
	r.Post("/api/v1/policies/{policyID}/minimum-premium", svc.SetMinimumPremium)
	r.Post("/api/v1/policies/{policyID}/forecast", svc.UpdateForecast)
	r.Get("/api/v1/policies/{policyID}/premium", svc.GetPremium)
	r.Post("/api/v1/policies/{policyID}/purchase", svc.Purchase)
	r.Get("/api/v1/policies/{policyID}/positions/{participantID}", svc.GetPosition)
	r.Post("/api/v1/policies/{policyID}/payouts", svc.Payout)
	r.Get("/api/v1/policies/{policyID}/settled", svc.IsSettled)
	r.Get("/api/v1/policies/{policyID}/events", svc.ListEvents)
	r.Post("/api/v1/policies/{policyID}/destroy", svc.Destroy)

	return svc, ms, r
}

// seedPolicy creates a test policy directly in the store.
func seedPolicy(t *testing.T, ms *store.MemoryStore) *model.Policy {
	t.Helper()
	policy := &model.Policy{
		ID:             "test-policy",
		Ticker:         "WXI-BERGEN01-TEMP-70-20270115-L",
		OwnerID:        "owner",
		Operators:      []string{"oracle"},
		Location:       "BERGEN01",
		Peril:          "TEMP",
		Condition:      d(70),
		Payoff:         model.PayoffLong,
		ExpirationTime: expiry,
		Forecast:       decimal.Zero,
		ForecastRisk:   decimal.Zero,
		MinimumPremium: d(5),
		Balance:        decimal.Zero,
		Status:         model.StatusOpen,
		CreatedAt:      time.Now().UTC(),
	}
	if err := ms.CreatePolicy(context.Background(), policy); err != nil {
		t.Fatalf("failed to seed policy: %v", err)
	}
	return policy
}

func doJSON(t *testing.T, router chi.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func pushForecast(t *testing.T, router chi.Router, caller string, at int64, value, risk float64) *httptest.ResponseRecorder {
	t.Helper()
	return doJSON(t, router, "POST", "/api/v1/policies/test-policy/forecast", insurance.ForecastRequest{
		CallerID: caller,
		Time:     at,
		Forecast: d(value),
		Risk:     d(risk),
	})
}

// --- Policy creation ---

func TestCreatePolicy(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := doJSON(t, router, "POST", "/api/v1/policies", insurance.CreatePolicyRequest{
		OwnerID:        "owner",
		Ticker:         "WXI-OSLO2-SNOW-120-20261201-S",
		MinimumPremium: d(3),
	})

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var p model.Policy
	json.Unmarshal(w.Body.Bytes(), &p)

	if p.ID == "" {
		t.Error("expected non-empty policy id")
	}
	if p.Location != "OSLO2" || p.Peril != "SNOW" {
		t.Errorf("unexpected terms: %s/%s", p.Location, p.Peril)
	}
	if p.Payoff != model.PayoffShort {
		t.Errorf("expected short payoff from -S suffix, got %s", p.Payoff)
	}
	if !p.Condition.Equal(d(120)) {
		t.Errorf("expected condition=120, got %s", p.Condition)
	}
	if p.Status != model.StatusOpen {
		t.Errorf("expected open status, got %s", p.Status)
	}
}

func TestCreatePolicy_InvalidTicker(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := doJSON(t, router, "POST", "/api/v1/policies", insurance.CreatePolicyRequest{
		OwnerID: "owner",
		Ticker:  "not-a-ticker",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestCreatePolicy_DuplicateTicker(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedPolicy(t, ms)

	w := doJSON(t, router, "POST", "/api/v1/policies", insurance.CreatePolicyRequest{
		OwnerID: "owner",
		Ticker:  "WXI-BERGEN01-TEMP-70-20270115-L",
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

// --- Forecast feed ---

func TestUpdateForecast_ByOperator(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedPolicy(t, ms)

	w := pushForecast(t, router, "oracle", expiry-1, 60, 10)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	p, _ := ms.GetPolicy(context.Background(), "test-policy")
	if p.ValuationTime != expiry-1 {
		t.Errorf("expected valuation_time=%d, got %d", expiry-1, p.ValuationTime)
	}
	if !p.Forecast.Equal(d(60)) {
		t.Errorf("expected forecast=60, got %s", p.Forecast)
	}
}

func TestUpdateForecast_Unauthorized(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedPolicy(t, ms)

	w := pushForecast(t, router, "stranger", expiry-1, 60, 10)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}

	p, _ := ms.GetPolicy(context.Background(), "test-policy")
	if p.ValuationTime != 0 {
		t.Error("forecast must not be recorded for unauthorized caller")
	}
}

func TestUpdateForecast_DerivesRiskFromPercentiles(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedPolicy(t, ms)

	body := map[string]any{
		"caller_id": "oracle",
		"time":      expiry - 1,
		"forecast":  "25",
		"percentiles": map[string]string{
			"percentile_25": "20",
			"percentile_50": "25",
			"percentile_75": "30",
		},
	}
	w := doJSON(t, router, "POST", "/api/v1/policies/test-policy/forecast", body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	p, _ := ms.GetPolicy(context.Background(), "test-policy")
	if !p.ForecastRisk.Equal(d(40)) {
		t.Errorf("expected derived risk=40, got %s", p.ForecastRisk)
	}
}

// --- Quoting and purchase ---

func TestGetPremium(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedPolicy(t, ms)
	pushForecast(t, router, "oracle", expiry-1, 60, 10)

	w := doJSON(t, router, "GET", "/api/v1/policies/test-policy/premium?notional=100", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]decimal.Decimal
	json.Unmarshal(w.Body.Bytes(), &resp)
	// 0 + 100*10/100 + 5 = 15
	if !resp["premium"].Equal(d(15)) {
		t.Errorf("expected premium=15, got %s", resp["premium"])
	}
}

func TestPurchase(t *testing.T) {
	_, _, router := purchaseEnv(t)

	w := doJSON(t, router, "POST", "/api/v1/policies/test-policy/purchase", insurance.PurchaseRequest{
		CallerID: "buyer",
		Notional: d(100),
		Payment:  d(15),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp insurance.PurchaseResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.EventID == "" {
		t.Error("expected non-empty event_id")
	}
	if !resp.Position.Notional.Equal(d(100)) {
		t.Errorf("expected position notional=100, got %s", resp.Position.Notional)
	}
	if !resp.Position.PremiumPaid.Equal(d(15)) {
		t.Errorf("expected premium_paid=15, got %s", resp.Position.PremiumPaid)
	}
}

// purchaseEnv returns a router with a seeded, activated policy.
func purchaseEnv(t *testing.T) (*store.MemoryStore, *model.Policy, chi.Router) {
	t.Helper()
	_, ms, router := newTestEnv(t)
	p := seedPolicy(t, ms)
	if w := pushForecast(t, router, "oracle", expiry-1, 60, 10); w.Code != http.StatusOK {
		t.Fatalf("failed to activate policy: %s", w.Body.String())
	}
	return ms, p, router
}

func TestPurchase_PremiumTooLow(t *testing.T) {
	ms, _, router := purchaseEnv(t)

	w := doJSON(t, router, "POST", "/api/v1/policies/test-policy/purchase", insurance.PurchaseRequest{
		CallerID: "buyer",
		Notional: d(100),
		Payment:  d(14),
	})
	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d: %s", w.Code, w.Body.String())
	}

	pos, _ := ms.GetPosition(context.Background(), "test-policy", "buyer")
	if !pos.Notional.IsZero() {
		t.Error("failed purchase must leave no position")
	}
}

func TestPurchase_BeforeForecast(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedPolicy(t, ms)

	w := doJSON(t, router, "POST", "/api/v1/policies/test-policy/purchase", insurance.PurchaseRequest{
		CallerID: "buyer",
		Notional: d(100),
		Payment:  d(1000),
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

func TestPurchase_UnknownPolicy(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := doJSON(t, router, "POST", "/api/v1/policies/nope/purchase", insurance.PurchaseRequest{
		CallerID: "buyer",
		Notional: d(100),
		Payment:  d(1000),
	})
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

// --- Settlement flow ---

func TestSettlementFlow(t *testing.T) {
	ms, _, router := purchaseEnv(t)

	w := doJSON(t, router, "POST", "/api/v1/policies/test-policy/purchase", insurance.PurchaseRequest{
		CallerID: "buyer",
		Notional: d(100),
		Payment:  d(2000),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("purchase failed: %s", w.Body.String())
	}

	// Valuation reaches expiry in the money.
	if w := pushForecast(t, router, "oracle", expiry, 85, 10); w.Code != http.StatusOK {
		t.Fatalf("forecast failed: %s", w.Body.String())
	}

	w = doJSON(t, router, "POST", "/api/v1/policies/test-policy/payouts", insurance.PayoutRequest{
		CallerID:      "owner",
		ParticipantID: "buyer",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("payout failed: %s", w.Body.String())
	}

	var resp insurance.PayoutResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if !resp.Paid {
		t.Error("expected paid=true")
	}
	if !resp.Amount.Equal(d(1500)) {
		t.Errorf("expected amount=1500, got %s", resp.Amount)
	}

	pos, _ := ms.GetPosition(context.Background(), "test-policy", "buyer")
	if !pos.Notional.IsZero() {
		t.Error("position must be cleared after payout")
	}

	// Settlement check by operator.
	w = doJSON(t, router, "GET", "/api/v1/policies/test-policy/settled?caller_id=oracle", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("settled check failed: %s", w.Body.String())
	}
	var settled map[string]bool
	json.Unmarshal(w.Body.Bytes(), &settled)
	if !settled["settled"] {
		t.Error("expected settled=true after payout")
	}

	// Audit trail: one purchase event, one payout event.
	w = doJSON(t, router, "GET", "/api/v1/policies/test-policy/events", nil)
	var events []model.Event
	json.Unmarshal(w.Body.Bytes(), &events)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Type != model.EventPurchase || events[1].Type != model.EventPayout {
		t.Errorf("unexpected event order: %s, %s", events[0].Type, events[1].Type)
	}

	// Destroy sweeps the residual (2000 in - 1500 out = 500).
	w = doJSON(t, router, "POST", "/api/v1/policies/test-policy/destroy", insurance.DestroyRequest{
		CallerID: "owner",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("destroy failed: %s", w.Body.String())
	}
	var destroyed map[string]decimal.Decimal
	json.Unmarshal(w.Body.Bytes(), &destroyed)
	if !destroyed["residual"].Equal(d(500)) {
		t.Errorf("expected residual=500, got %s", destroyed["residual"])
	}

	// Terminated policies reject further operations.
	w = doJSON(t, router, "POST", "/api/v1/policies/test-policy/purchase", insurance.PurchaseRequest{
		CallerID: "late",
		Notional: d(10),
		Payment:  d(1000),
	})
	if w.Code != http.StatusGone {
		t.Fatalf("expected 410 after destroy, got %d", w.Code)
	}
}

func TestPayout_WorthlessPositionClearedSilently(t *testing.T) {
	ms, _, router := purchaseEnv(t)

	doJSON(t, router, "POST", "/api/v1/policies/test-policy/purchase", insurance.PurchaseRequest{
		CallerID: "buyer",
		Notional: d(100),
		Payment:  d(2000),
	})
	pushForecast(t, router, "oracle", expiry, 65, 10)

	w := doJSON(t, router, "POST", "/api/v1/policies/test-policy/payouts", insurance.PayoutRequest{
		CallerID:      "owner",
		ParticipantID: "buyer",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("payout failed: %s", w.Body.String())
	}

	var resp insurance.PayoutResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Paid {
		t.Error("expected paid=false for out-of-the-money position")
	}

	pos, _ := ms.GetPosition(context.Background(), "test-policy", "buyer")
	if !pos.Notional.IsZero() {
		t.Error("position must still be cleared")
	}

	// No payout event recorded.
	w = doJSON(t, router, "GET", "/api/v1/policies/test-policy/events", nil)
	var events []model.Event
	json.Unmarshal(w.Body.Bytes(), &events)
	for _, ev := range events {
		if ev.Type == model.EventPayout {
			t.Error("no payout event expected for zero intrinsic value")
		}
	}
}

func TestPayout_NonOwner(t *testing.T) {
	_, _, router := purchaseEnv(t)
	pushForecast(t, router, "oracle", expiry, 85, 10)

	w := doJSON(t, router, "POST", "/api/v1/policies/test-policy/payouts", insurance.PayoutRequest{
		CallerID:      "oracle",
		ParticipantID: "buyer",
	})
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestDestroy_Unsettled(t *testing.T) {
	_, _, router := purchaseEnv(t)

	doJSON(t, router, "POST", "/api/v1/policies/test-policy/purchase", insurance.PurchaseRequest{
		CallerID: "buyer",
		Notional: d(100),
		Payment:  d(2000),
	})
	pushForecast(t, router, "oracle", expiry, 85, 10)

	w := doJSON(t, router, "POST", "/api/v1/policies/test-policy/destroy", insurance.DestroyRequest{
		CallerID: "owner",
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 while unsettled, got %d: %s", w.Code, w.Body.String())
	}
}

// --- Administration ---

func TestAddOperator_NonOwner(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedPolicy(t, ms)

	w := doJSON(t, router, "POST", "/api/v1/policies/test-policy/operators", insurance.OperatorRequest{
		CallerID:   "stranger",
		OperatorID: "accomplice",
	})
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}

	p, _ := ms.GetPolicy(context.Background(), "test-policy")
	if len(p.Operators) != 1 {
		t.Errorf("operator set must be unchanged, got %v", p.Operators)
	}
}

func TestOperatorLifecycle(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedPolicy(t, ms)

	w := doJSON(t, router, "POST", "/api/v1/policies/test-policy/operators", insurance.OperatorRequest{
		CallerID:   "owner",
		OperatorID: "newop",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("add operator failed: %s", w.Body.String())
	}

	// The new operator can push forecasts.
	if w := pushForecast(t, router, "newop", expiry-1, 60, 10); w.Code != http.StatusOK {
		t.Fatalf("expected new operator to push forecasts: %s", w.Body.String())
	}

	w = doJSON(t, router, "POST", "/api/v1/policies/test-policy/operators/remove", insurance.OperatorRequest{
		CallerID:   "owner",
		OperatorID: "newop",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("remove operator failed: %s", w.Body.String())
	}

	if w := pushForecast(t, router, "newop", expiry, 61, 10); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 after removal, got %d", w.Code)
	}

	p, _ := ms.GetPolicy(context.Background(), "test-policy")
	if len(p.Operators) != 1 || p.Operators[0] != "oracle" {
		t.Errorf("expected [oracle], got %v", p.Operators)
	}
}

func TestSetMinimumPremium_Zero(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedPolicy(t, ms)

	w := doJSON(t, router, "POST", "/api/v1/policies/test-policy/minimum-premium", insurance.MinimumPremiumRequest{
		CallerID: "owner",
		Amount:   d(0),
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for zero amount, got %d", w.Code)
	}
}

// --- Views ---

func TestGetPosition_ZeroForUnknownParticipant(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedPolicy(t, ms)

	w := doJSON(t, router, "GET", "/api/v1/policies/test-policy/positions/nobody", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var pos model.Position
	json.Unmarshal(w.Body.Bytes(), &pos)
	if !pos.Notional.IsZero() || !pos.PremiumPaid.IsZero() {
		t.Errorf("expected zero position, got %s/%s", pos.Notional, pos.PremiumPaid)
	}
}

func TestIsSettled_Unauthorized(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedPolicy(t, ms)

	w := doJSON(t, router, "GET", "/api/v1/policies/test-policy/settled?caller_id=stranger", nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestListPolicies_FilterByLocation(t *testing.T) {
	_, ms, router := newTestEnv(t)
	seedPolicy(t, ms)

	w := doJSON(t, router, "GET", "/api/v1/policies?location=BERGEN01", nil)
	var policies []model.Policy
	json.Unmarshal(w.Body.Bytes(), &policies)
	if len(policies) != 1 {
		t.Fatalf("expected 1 policy, got %d", len(policies))
	}

	w = doJSON(t, router, "GET", "/api/v1/policies?location=NOWHERE", nil)
	json.Unmarshal(w.Body.Bytes(), &policies)
	if len(policies) != 0 {
		t.Errorf("expected 0 policies, got %d", len(policies))
	}
}
