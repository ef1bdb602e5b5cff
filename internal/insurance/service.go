// Package insurance provides the HTTP handlers and business logic for
// creating policies, feeding forecasts, selling exposure, and settling
// positions.
//
// All monetary values use shopspring/decimal — never float64 for money.
package insurance

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"github.com/parametrix/insurance-engine/internal/access"
	"github.com/parametrix/insurance-engine/internal/contract"
	"github.com/parametrix/insurance-engine/internal/engine"
	"github.com/parametrix/insurance-engine/internal/forecast"
	"github.com/parametrix/insurance-engine/internal/metrics"
	"github.com/parametrix/insurance-engine/internal/model"
	"github.com/parametrix/insurance-engine/internal/store"
)

// Service handles policy operations. Uses a mutex for serialized mutation
// (single-instance): one operation completes fully — precondition checks,
// state writes, event append — before the next begins, which is what gives
// purchases and payouts their all-or-nothing semantics.
type Service struct {
	store store.Store
	clock clockwork.Clock
	mu    sync.Mutex
	hub   *Hub // optional WebSocket hub for real-time broadcasts
}

// NewService creates a new insurance service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(st store.Store, clock clockwork.Clock, hub *Hub) *Service {
	return &Service{
		store: st,
		clock: clock,
		hub:   hub,
	}
}

// --- Request/Response types ---

// CreatePolicyRequest is the JSON body for policy creation.
type CreatePolicyRequest struct {
	OwnerID string `json:"owner_id"`
	// Ticker encodes the immutable terms: WXI-{location}-{peril}-{strike}-{YYYYMMDD}-{L|S}
	Ticker         string          `json:"ticker"`
	MinimumPremium decimal.Decimal `json:"minimum_premium"` // optional, 0 = unset
}

// OperatorRequest is the JSON body for operator add/remove.
type OperatorRequest struct {
	CallerID   string `json:"caller_id"`
	OperatorID string `json:"operator_id"`
}

// MinimumPremiumRequest is the JSON body for POST .../minimum-premium.
type MinimumPremiumRequest struct {
	CallerID string          `json:"caller_id"`
	Amount   decimal.Decimal `json:"amount"`
}

// ForecastRequest is the JSON body for POST .../forecast. Risk may be given
// directly, or derived from NWS ensemble percentiles when omitted.
type ForecastRequest struct {
	CallerID    string                `json:"caller_id"`
	Time        int64                 `json:"time"`
	Forecast    decimal.Decimal       `json:"forecast"`
	Risk        decimal.Decimal       `json:"risk"`
	Percentiles *forecast.Percentiles `json:"percentiles,omitempty"`
}

// PurchaseRequest is the JSON body for POST .../purchase.
type PurchaseRequest struct {
	CallerID string          `json:"caller_id"`
	Notional decimal.Decimal `json:"notional"`
	Payment  decimal.Decimal `json:"payment"`
}

// PurchaseResponse is the JSON body returned from POST .../purchase.
type PurchaseResponse struct {
	EventID       string          `json:"event_id"`
	PolicyID      string          `json:"policy_id"`
	ParticipantID string          `json:"participant_id"`
	Notional      decimal.Decimal `json:"notional"`
	Payment       decimal.Decimal `json:"payment"`
	Position      PositionSummary `json:"position"`
}

// PositionSummary is the position snapshot included in purchase responses.
type PositionSummary struct {
	Notional    decimal.Decimal `json:"notional"`
	PremiumPaid decimal.Decimal `json:"premium_paid"`
}

// PayoutRequest is the JSON body for POST .../payouts.
type PayoutRequest struct {
	CallerID      string `json:"caller_id"`
	ParticipantID string `json:"participant_id"`
}

// PayoutResponse is the JSON body returned from POST .../payouts.
// Paid is false when the position was cleared at zero intrinsic value.
type PayoutResponse struct {
	PolicyID      string          `json:"policy_id"`
	ParticipantID string          `json:"participant_id"`
	Notional      decimal.Decimal `json:"notional"`
	Amount        decimal.Decimal `json:"amount"`
	Paid          bool            `json:"paid"`
}

// DestroyRequest is the JSON body for POST .../destroy.
type DestroyRequest struct {
	CallerID string `json:"caller_id"`
}

// --- HTTP Handlers ---

// CreatePolicy handles POST /api/v1/policies
func (s *Service) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	var req CreatePolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.OwnerID == "" {
		writeError(w, "owner_id is required", http.StatusBadRequest)
		return
	}
	if req.MinimumPremium.IsNegative() {
		writeError(w, "minimum_premium must not be negative", http.StatusBadRequest)
		return
	}

	// Validate ticker format and derive the immutable terms.
	terms, err := contract.ParseTicker(req.Ticker)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	policy := &model.Policy{
		ID:             uuid.New().String(),
		Ticker:         terms.Ticker,
		OwnerID:        req.OwnerID,
		Location:       terms.Location,
		Peril:          terms.Peril,
		Condition:      terms.Strike,
		Payoff:         terms.Payoff,
		ExpirationTime: terms.ExpiryDate.Unix(),
		Forecast:       decimal.Zero,
		ForecastRisk:   decimal.Zero,
		MinimumPremium: req.MinimumPremium,
		Balance:        decimal.Zero,
		Status:         model.StatusOpen,
		CreatedAt:      s.clock.Now().UTC(),
	}

	if err := s.store.CreatePolicy(r.Context(), policy); err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}

	metrics.ActivePolicies.Inc()
	slog.Info("policy created",
		"id", policy.ID,
		"ticker", policy.Ticker,
		"owner", policy.OwnerID,
		"payoff", policy.Payoff,
		"condition", policy.Condition.String(),
	)

	writeJSON(w, http.StatusCreated, policy)
}

// GetPolicy handles GET /api/v1/policies/{policyID}
func (s *Service) GetPolicy(w http.ResponseWriter, r *http.Request) {
	policyID := chi.URLParam(r, "policyID")

	policy, err := s.store.GetPolicy(r.Context(), policyID)
	if err != nil {
		writeError(w, "policy not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, policy)
}

// ListPolicies handles GET /api/v1/policies
// Returns all policies, optionally filtered by ?location=<code>.
func (s *Service) ListPolicies(w http.ResponseWriter, r *http.Request) {
	policies, err := s.store.ListPolicies(r.Context())
	if err != nil {
		writeError(w, "failed to list policies", http.StatusInternalServerError)
		return
	}
	if policies == nil {
		policies = []model.Policy{}
	}

	if loc := r.URL.Query().Get("location"); loc != "" {
		var filtered []model.Policy
		for _, p := range policies {
			if p.Location == loc {
				filtered = append(filtered, p)
			}
		}
		if filtered == nil {
			filtered = []model.Policy{}
		}
		policies = filtered
	}

	writeJSON(w, http.StatusOK, policies)
}

// AddOperator handles POST /api/v1/policies/{policyID}/operators
func (s *Service) AddOperator(w http.ResponseWriter, r *http.Request) {
	s.mutateOperators(w, r, true)
}

// RemoveOperator handles POST /api/v1/policies/{policyID}/operators/remove
func (s *Service) RemoveOperator(w http.ResponseWriter, r *http.Request) {
	s.mutateOperators(w, r, false)
}

func (s *Service) mutateOperators(w http.ResponseWriter, r *http.Request, add bool) {
	var req OperatorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.OperatorID == "" {
		writeError(w, "operator_id is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	s.mu.Lock()
	defer s.mu.Unlock()

	policy, eng, ok := s.loadEngine(w, r)
	if !ok {
		return
	}

	var err error
	if add {
		err = eng.AddOperator(policy, req.CallerID, req.OperatorID)
	} else {
		err = eng.RemoveOperator(policy, req.CallerID, req.OperatorID)
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}

	if err := s.store.UpdatePolicy(ctx, policy); err != nil {
		writeError(w, "failed to persist operator change", http.StatusInternalServerError)
		return
	}

	slog.Info("operator set changed",
		"policy", policy.ID,
		"operator", req.OperatorID,
		"granted", add,
	)

	writeJSON(w, http.StatusOK, map[string][]string{"operators": policy.Operators})
}

// SetMinimumPremium handles POST /api/v1/policies/{policyID}/minimum-premium
func (s *Service) SetMinimumPremium(w http.ResponseWriter, r *http.Request) {
	var req MinimumPremiumRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	s.mu.Lock()
	defer s.mu.Unlock()

	policy, eng, ok := s.loadEngine(w, r)
	if !ok {
		return
	}

	if err := eng.SetMinimumPremium(policy, req.CallerID, req.Amount); err != nil {
		writeEngineError(w, err)
		return
	}

	if err := s.store.UpdatePolicy(ctx, policy); err != nil {
		writeError(w, "failed to persist minimum premium", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"minimum_premium": policy.MinimumPremium})
}

// UpdateForecast handles POST /api/v1/policies/{policyID}/forecast
// The sole write path for external weather data; the caller is a trusted
// oracle client. The triple overwrites the previous observation whole.
func (s *Service) UpdateForecast(w http.ResponseWriter, r *http.Request) {
	var req ForecastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	risk := req.Risk
	if req.Percentiles != nil {
		derived, err := forecast.DeriveRisk(*req.Percentiles)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		risk = derived
	}
	if risk.IsNegative() {
		writeError(w, "risk must not be negative", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	s.mu.Lock()
	defer s.mu.Unlock()

	policy, eng, ok := s.loadEngine(w, r)
	if !ok {
		return
	}

	if err := eng.UpdateForecast(policy, req.CallerID, req.Time, req.Forecast, risk); err != nil {
		writeEngineError(w, err)
		return
	}

	if err := s.store.UpdatePolicy(ctx, policy); err != nil {
		writeError(w, "failed to persist forecast", http.StatusInternalServerError)
		return
	}

	metrics.ForecastUpdates.Inc()
	slog.Info("forecast updated",
		"policy", policy.ID,
		"valuation_time", req.Time,
		"forecast", req.Forecast.String(),
		"risk", risk.String(),
	)

	writeJSON(w, http.StatusOK, forecast.Observation{
		Time:  policy.ValuationTime,
		Value: policy.Forecast,
		Risk:  policy.ForecastRisk,
	})
}

// GetPremium handles GET /api/v1/policies/{policyID}/premium?notional=N
// Pure view: no state mutation, quotes against current forecast state.
func (s *Service) GetPremium(w http.ResponseWriter, r *http.Request) {
	notional, err := decimal.NewFromString(r.URL.Query().Get("notional"))
	if err != nil {
		writeError(w, "notional query parameter is required", http.StatusBadRequest)
		return
	}

	policy, eng, ok := s.loadEngine(w, r)
	if !ok {
		return
	}

	premium, err := eng.Quote(policy, notional)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{
		"notional": notional,
		"premium":  premium,
	})
}

// Purchase handles POST /api/v1/policies/{policyID}/purchase
// Sells notional exposure against the supplied payment. The full payment is
// retained; overpayment is margin against later risk changes, not refunded.
func (s *Service) Purchase(w http.ResponseWriter, r *http.Request) {
	var req PurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.CallerID == "" {
		writeError(w, "caller_id is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	// Serialize purchase execution.
	s.mu.Lock()
	defer s.mu.Unlock()

	policy, eng, ok := s.loadEngine(w, r)
	if !ok {
		return
	}

	pos, err := s.store.GetPosition(ctx, policy.ID, req.CallerID)
	if err != nil {
		writeError(w, "failed to load position", http.StatusInternalServerError)
		return
	}

	ev, err := eng.Purchase(policy, pos, req.CallerID, req.Notional, req.Payment)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	if err := s.store.UpsertPosition(ctx, pos); err != nil {
		writeError(w, "failed to record position", http.StatusInternalServerError)
		return
	}
	if err := s.store.UpdatePolicy(ctx, policy); err != nil {
		writeError(w, "failed to update policy state", http.StatusInternalServerError)
		return
	}
	if err := s.store.InsertEvent(ctx, ev); err != nil {
		writeError(w, "failed to record purchase", http.StatusInternalServerError)
		return
	}

	metrics.PurchasesTotal.WithLabelValues(policy.Payoff).Inc()
	slog.Info("purchase executed",
		"event_id", ev.ID,
		"policy", policy.ID,
		"participant", req.CallerID,
		"notional", req.Notional.String(),
		"payment", req.Payment.String(),
		"balance", policy.Balance.String(),
	)

	if s.hub != nil {
		s.hub.Broadcast(WSMessage{
			Type:          "purchase",
			PolicyID:      policy.ID,
			Ticker:        policy.Ticker,
			ParticipantID: req.CallerID,
			Notional:      req.Notional.String(),
			Amount:        req.Payment.String(),
		})
	}

	writeJSON(w, http.StatusOK, PurchaseResponse{
		EventID:       ev.ID,
		PolicyID:      policy.ID,
		ParticipantID: req.CallerID,
		Notional:      req.Notional,
		Payment:       req.Payment,
		Position: PositionSummary{
			Notional:    pos.Notional,
			PremiumPaid: pos.PremiumPaid,
		},
	})
}

// Payout handles POST /api/v1/policies/{policyID}/payouts
// Settles one participant: the notional is cleared unconditionally, funds
// move and an event is recorded only when the intrinsic value is positive.
// Full settlement is the owner iterating every participant.
func (s *Service) Payout(w http.ResponseWriter, r *http.Request) {
	var req PayoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ParticipantID == "" {
		writeError(w, "participant_id is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	s.mu.Lock()
	defer s.mu.Unlock()

	policy, eng, ok := s.loadEngine(w, r)
	if !ok {
		return
	}

	pos, err := s.store.GetPosition(ctx, policy.ID, req.ParticipantID)
	if err != nil {
		writeError(w, "failed to load position", http.StatusInternalServerError)
		return
	}
	notional := pos.Notional

	ev, err := eng.PayOut(policy, pos, req.CallerID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	if err := s.store.UpsertPosition(ctx, pos); err != nil {
		writeError(w, "failed to clear position", http.StatusInternalServerError)
		return
	}
	if err := s.store.UpdatePolicy(ctx, policy); err != nil {
		writeError(w, "failed to update policy state", http.StatusInternalServerError)
		return
	}

	resp := PayoutResponse{
		PolicyID:      policy.ID,
		ParticipantID: req.ParticipantID,
		Notional:      notional,
		Amount:        decimal.Zero,
		Paid:          false,
	}

	if ev != nil {
		if err := s.store.InsertEvent(ctx, ev); err != nil {
			writeError(w, "failed to record payout", http.StatusInternalServerError)
			return
		}
		resp.Amount = ev.Amount
		resp.Paid = true
		metrics.PayoutsTotal.WithLabelValues("paid").Inc()

		if s.hub != nil {
			s.hub.Broadcast(WSMessage{
				Type:          "payout",
				PolicyID:      policy.ID,
				Ticker:        policy.Ticker,
				ParticipantID: req.ParticipantID,
				Notional:      notional.String(),
				Amount:        ev.Amount.String(),
			})
		}
	} else {
		metrics.PayoutsTotal.WithLabelValues("worthless").Inc()
	}

	slog.Info("position settled",
		"policy", policy.ID,
		"participant", req.ParticipantID,
		"notional", notional.String(),
		"amount", resp.Amount.String(),
		"paid", resp.Paid,
	)

	writeJSON(w, http.StatusOK, resp)
}

// GetPosition handles GET /api/v1/policies/{policyID}/positions/{participantID}
func (s *Service) GetPosition(w http.ResponseWriter, r *http.Request) {
	policyID := chi.URLParam(r, "policyID")
	participantID := chi.URLParam(r, "participantID")

	ctx := r.Context()
	if _, err := s.store.GetPolicy(ctx, policyID); err != nil {
		writeError(w, "policy not found", http.StatusNotFound)
		return
	}

	pos, err := s.store.GetPosition(ctx, policyID, participantID)
	if err != nil {
		writeError(w, "failed to load position", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, pos)
}

// IsSettled handles GET /api/v1/policies/{policyID}/settled?caller_id=
// Owner-or-operator view: scans the full participant sequence.
func (s *Service) IsSettled(w http.ResponseWriter, r *http.Request) {
	caller := r.URL.Query().Get("caller_id")

	policy, eng, ok := s.loadEngine(w, r)
	if !ok {
		return
	}

	notionals, err := s.notionals(r, policy.ID)
	if err != nil {
		writeError(w, "failed to load positions", http.StatusInternalServerError)
		return
	}

	settled, err := eng.IsSettled(policy, caller, notionals)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"settled": settled})
}

// ListEvents handles GET /api/v1/policies/{policyID}/events
// Returns the policy's audit trail in execution order.
func (s *Service) ListEvents(w http.ResponseWriter, r *http.Request) {
	policyID := chi.URLParam(r, "policyID")

	ctx := r.Context()
	if _, err := s.store.GetPolicy(ctx, policyID); err != nil {
		writeError(w, "policy not found", http.StatusNotFound)
		return
	}

	events, err := s.store.ListEvents(ctx, policyID)
	if err != nil {
		writeError(w, "failed to list events", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []model.Event{}
	}

	writeJSON(w, http.StatusOK, events)
}

// Destroy handles POST /api/v1/policies/{policyID}/destroy
// Terminal: sweeps the residual balance to the owner and closes the policy.
func (s *Service) Destroy(w http.ResponseWriter, r *http.Request) {
	var req DestroyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	s.mu.Lock()
	defer s.mu.Unlock()

	policy, eng, ok := s.loadEngine(w, r)
	if !ok {
		return
	}

	notionals, err := s.notionals(r, policy.ID)
	if err != nil {
		writeError(w, "failed to load positions", http.StatusInternalServerError)
		return
	}

	residual, err := eng.Destroy(policy, req.CallerID, notionals)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	if err := s.store.UpdatePolicy(ctx, policy); err != nil {
		writeError(w, "failed to persist termination", http.StatusInternalServerError)
		return
	}

	metrics.ActivePolicies.Dec()
	slog.Info("policy destroyed",
		"policy", policy.ID,
		"owner", policy.OwnerID,
		"residual", residual.String(),
	)

	if s.hub != nil {
		s.hub.Broadcast(WSMessage{
			Type:     "destroyed",
			PolicyID: policy.ID,
			Ticker:   policy.Ticker,
			Amount:   residual.String(),
		})
	}

	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"residual": residual})
}

// --- Helpers ---

// loadEngine fetches the policy from the URL parameter and builds the
// engine for its payoff direction. Writes the error response itself and
// returns ok=false on failure.
func (s *Service) loadEngine(w http.ResponseWriter, r *http.Request) (*model.Policy, *engine.Engine, bool) {
	policyID := chi.URLParam(r, "policyID")

	policy, err := s.store.GetPolicy(r.Context(), policyID)
	if err != nil {
		writeError(w, "policy not found", http.StatusNotFound)
		return nil, nil, false
	}

	eng, err := engine.ForPolicy(policy, s.clock)
	if err != nil {
		writeError(w, "internal error: invalid policy configuration", http.StatusInternalServerError)
		return nil, nil, false
	}
	return policy, eng, true
}

// notionals loads the notional of every recorded position for a policy.
// Participants with no recorded position are simply absent; the zero value
// they map to is exactly their stored notional.
func (s *Service) notionals(r *http.Request, policyID string) (map[string]decimal.Decimal, error) {
	positions, err := s.store.ListPositions(r.Context(), policyID)
	if err != nil {
		return nil, err
	}
	notionals := make(map[string]decimal.Decimal, len(positions))
	for _, pos := range positions {
		notionals[pos.ParticipantID] = pos.Notional
	}
	return notionals, nil
}

// writeEngineError maps engine rejections to HTTP statuses and records the
// rejection metric.
func writeEngineError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	reason := "internal"

	switch {
	case errors.Is(err, access.ErrUnauthorized):
		status, reason = http.StatusForbidden, "unauthorized"
	case errors.Is(err, engine.ErrInvalidAmount):
		status, reason = http.StatusBadRequest, "invalid_amount"
	case errors.Is(err, engine.ErrPremiumTooLow):
		status, reason = http.StatusPaymentRequired, "premium_too_low"
	case errors.Is(err, engine.ErrContractNotActive):
		status, reason = http.StatusConflict, "contract_not_active"
	case errors.Is(err, engine.ErrContractExpired):
		status, reason = http.StatusConflict, "contract_expired"
	case errors.Is(err, engine.ErrContractStillActive):
		status, reason = http.StatusConflict, "contract_still_active"
	case errors.Is(err, engine.ErrPositionsNotSettled):
		status, reason = http.StatusConflict, "positions_not_settled"
	case errors.Is(err, engine.ErrTerminated):
		status, reason = http.StatusGone, "terminated"
	}

	metrics.RejectionsTotal.WithLabelValues(reason).Inc()
	writeError(w, err.Error(), status)
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
