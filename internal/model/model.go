// Package model defines the core domain types shared across the insurance
// engine. All monetary and weather values use shopspring/decimal — never
// float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Policy statuses. A policy is "open" from creation until destroyed;
// "terminated" is terminal and the row is kept for audit.
const (
	StatusOpen       = "open"
	StatusTerminated = "terminated"
)

// Payoff directions, fixed at policy creation.
const (
	PayoffLong  = "long"  // pays when the forecast exceeds the strike
	PayoffShort = "short" // pays when the strike exceeds the forecast
)

// Policy is one parametric insurance contract: a single-asset ledger with
// immutable terms, an externally fed forecast, and collateral custody.
type Policy struct {
	ID      string `json:"id" db:"id"`
	Ticker  string `json:"ticker" db:"ticker"`
	OwnerID string `json:"owner_id" db:"owner_id"`

	// Operators may push forecasts and run settlement checks. The owner is
	// implicitly privileged and never appears in this set.
	Operators []string `json:"operators" db:"operators"`

	// Immutable contract terms.
	Location       string          `json:"location" db:"location"`
	Peril          string          `json:"peril" db:"peril"`
	Condition      decimal.Decimal `json:"condition" db:"condition"` // strike value
	Payoff         string          `json:"payoff" db:"payoff"`       // "long" or "short"
	ExpirationTime int64           `json:"expiration_time" db:"expiration_time"`

	// Latest forecast observation; the triple is overwritten atomically.
	ValuationTime int64           `json:"valuation_time" db:"valuation_time"`
	Forecast      decimal.Decimal `json:"forecast" db:"forecast"`
	ForecastRisk  decimal.Decimal `json:"forecast_risk" db:"forecast_risk"` // percentage

	// MinimumPremium is the floor added to every quote. Zero means unset;
	// the owner must raise it above zero before sales are practical.
	MinimumPremium decimal.Decimal `json:"minimum_premium" db:"minimum_premium"`

	// Balance is the collateral held by the policy: premiums flow in,
	// payouts flow out, destroy sweeps the remainder to the owner.
	Balance decimal.Decimal `json:"balance" db:"balance"`

	// Participants is the append-only sequence of identities that have ever
	// held nonzero notional. Entries are never removed, even after payout.
	Participants []string `json:"participants" db:"participants"`

	Status    string    `json:"status" db:"status"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Terminated reports whether the policy has been destroyed.
func (p *Policy) Terminated() bool {
	return p.Status == StatusTerminated
}

// Position is one participant's holding in one policy.
// Notional is non-negative; PremiumPaid accumulates every contribution
// and is never reduced, including by payout.
type Position struct {
	PolicyID      string          `json:"policy_id" db:"policy_id"`
	ParticipantID string          `json:"participant_id" db:"participant_id"`
	Notional      decimal.Decimal `json:"notional" db:"notional"`
	PremiumPaid   decimal.Decimal `json:"premium_paid" db:"premium_paid"`
}

// Event types recorded in the audit ledger.
const (
	EventPurchase = "purchase"
	EventPayout   = "payout"
)

// Event is an immutable audit record, appended in operation execution order.
// Once created, events are never modified or deleted, and the JSON field
// order below is fixed for downstream compatibility.
type Event struct {
	ID            string          `json:"id" db:"id"`
	PolicyID      string          `json:"policy_id" db:"policy_id"`
	Type          string          `json:"type" db:"type"`
	ParticipantID string          `json:"participant_id" db:"participant_id"`
	Notional      decimal.Decimal `json:"notional" db:"notional"`
	Amount        decimal.Decimal `json:"amount" db:"amount"` // payment in, payout out
	Timestamp     time.Time       `json:"timestamp" db:"timestamp"`
}
