// Package engine implements the settlement core for parametric weather
// insurance: premium quoting, purchase, payout, and the lifecycle state
// machine (active → valuation-reached → settled → terminated).
//
// The engine is a pure function of (policy state, caller identity, supplied
// arguments): valuation time arrives with each forecast update, and wall
// clock reads are confined to event timestamps taken from the injected
// clock. Methods mutate the passed-in policy and position values only after
// every precondition holds, so a rejection leaves no partial state; callers
// persist the mutated values under their own serialization.
package engine

import (
	"errors"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"github.com/parametrix/insurance-engine/internal/access"
	"github.com/parametrix/insurance-engine/internal/model"
	"github.com/parametrix/insurance-engine/internal/payoff"
)

// Named rejections. Every failure is a precondition violation reported
// synchronously; nothing is retried internally.
var (
	// ErrInvalidAmount is returned for a non-positive notional or premium.
	ErrInvalidAmount = errors.New("engine: amount must be positive")

	// ErrPremiumTooLow is returned when the payment does not cover the
	// premium quoted against current state.
	ErrPremiumTooLow = errors.New("engine: payment below required premium")

	// ErrContractNotActive is returned for purchases before the first
	// forecast update (valuation time still zero).
	ErrContractNotActive = errors.New("engine: contract has not been activated by a forecast")

	// ErrContractExpired is returned for purchases after the valuation time
	// has passed expiration.
	ErrContractExpired = errors.New("engine: contract expired")

	// ErrContractStillActive is returned for payout or destroy before the
	// valuation time reaches expiration.
	ErrContractStillActive = errors.New("engine: valuation has not reached expiration")

	// ErrPositionsNotSettled is returned for destroy while any participant
	// still holds nonzero notional.
	ErrPositionsNotSettled = errors.New("engine: positions not settled")

	// ErrTerminated is returned for any operation on a destroyed policy.
	ErrTerminated = errors.New("engine: contract terminated")
)

// Engine evaluates settlement operations for one payoff direction. The
// intrinsic-value strategy is the single injection point; everything else
// is shared between directions. Stateless apart from the clock, so one
// Engine may serve any number of policies with the same direction.
type Engine struct {
	strategy payoff.Strategy
	clock    clockwork.Clock
}

// New creates an engine with the given payoff strategy and clock.
func New(strategy payoff.Strategy, clock clockwork.Clock) *Engine {
	return &Engine{strategy: strategy, clock: clock}
}

// ForPolicy creates an engine matching a policy's payoff direction.
func ForPolicy(p *model.Policy, clock clockwork.Clock) (*Engine, error) {
	strategy, err := payoff.ForDirection(p.Payoff)
	if err != nil {
		return nil, err
	}
	return New(strategy, clock), nil
}

// Strategy returns the injected intrinsic-value strategy.
func (e *Engine) Strategy() payoff.Strategy {
	return e.strategy
}

func guardOpen(p *model.Policy) error {
	if p.Terminated() {
		return ErrTerminated
	}
	return nil
}

// AddOperator grants id the operator role. Owner-only.
func (e *Engine) AddOperator(p *model.Policy, caller, id string) error {
	if err := guardOpen(p); err != nil {
		return err
	}
	ops, err := access.New(p.OwnerID, p.Operators).AddOperator(caller, id)
	if err != nil {
		return err
	}
	p.Operators = ops
	return nil
}

// RemoveOperator revokes id's operator role. Owner-only.
func (e *Engine) RemoveOperator(p *model.Policy, caller, id string) error {
	if err := guardOpen(p); err != nil {
		return err
	}
	ops, err := access.New(p.OwnerID, p.Operators).RemoveOperator(caller, id)
	if err != nil {
		return err
	}
	p.Operators = ops
	return nil
}

// SetMinimumPremium sets the floor added to every premium quote.
// Owner-only; the amount must be positive (zero is the unset default).
func (e *Engine) SetMinimumPremium(p *model.Policy, caller string, amount decimal.Decimal) error {
	if err := guardOpen(p); err != nil {
		return err
	}
	if err := access.New(p.OwnerID, p.Operators).RequireOwner(caller); err != nil {
		return err
	}
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	p.MinimumPremium = amount
	return nil
}

// UpdateForecast overwrites the (valuationTime, forecast, risk) triple.
// Owner-or-operator only. The time argument is not checked for monotonicity:
// the oracle client is trusted, and a backdated or future-dated valuation is
// accepted as supplied.
func (e *Engine) UpdateForecast(p *model.Policy, caller string, t int64, value, risk decimal.Decimal) error {
	if err := guardOpen(p); err != nil {
		return err
	}
	if err := access.New(p.OwnerID, p.Operators).RequireOwnerOrOperator(caller); err != nil {
		return err
	}
	p.ValuationTime = t
	p.Forecast = value
	p.ForecastRisk = risk
	return nil
}

// Quote returns the premium required for a notional against current state.
// Pure view: identical state and notional always quote identically.
func (e *Engine) Quote(p *model.Policy, notional decimal.Decimal) (decimal.Decimal, error) {
	if !notional.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	return payoff.Premium(e.strategy, notional, p.Forecast, p.Condition, p.ForecastRisk, p.MinimumPremium), nil
}

// Purchase buys notional exposure for the caller against the supplied
// payment. Preconditions, all-or-nothing:
//
//  1. the policy has received at least one forecast (activated),
//  2. the valuation time has not passed expiration,
//  3. notional is positive,
//  4. payment covers the premium quoted at call time.
//
// The entire payment is retained — overpayment is kept as margin against
// later risk changes, never refunded. First nonzero notional appends the
// caller to the participant sequence exactly once.
func (e *Engine) Purchase(p *model.Policy, pos *model.Position, caller string, notional, payment decimal.Decimal) (*model.Event, error) {
	if err := guardOpen(p); err != nil {
		return nil, err
	}
	if p.ValuationTime <= 0 {
		return nil, ErrContractNotActive
	}
	if p.ExpirationTime < p.ValuationTime {
		return nil, ErrContractExpired
	}
	if !notional.IsPositive() {
		return nil, ErrInvalidAmount
	}

	premium, err := e.Quote(p, notional)
	if err != nil {
		return nil, err
	}
	if payment.LessThan(premium) {
		return nil, ErrPremiumTooLow
	}

	if pos.Notional.IsZero() {
		p.Participants = append(p.Participants, caller)
	}
	pos.Notional = pos.Notional.Add(notional)
	pos.PremiumPaid = pos.PremiumPaid.Add(payment)
	p.Balance = p.Balance.Add(payment)

	return &model.Event{
		ID:            uuid.New().String(),
		PolicyID:      p.ID,
		Type:          model.EventPurchase,
		ParticipantID: caller,
		Notional:      notional,
		Amount:        payment,
		Timestamp:     e.clock.Now().UTC(),
	}, nil
}

// PayOut settles one participant's position. Owner-only; requires the
// valuation time to have reached expiration.
//
// The notional is zeroed BEFORE funds move — a reentrant caller can never
// observe a stale nonzero position during the transfer. Funds are disbursed
// and an event returned only when the intrinsic value is positive; a
// worthless position is cleared silently (nil event, nil error).
func (e *Engine) PayOut(p *model.Policy, pos *model.Position, caller string) (*model.Event, error) {
	if err := guardOpen(p); err != nil {
		return nil, err
	}
	if err := access.New(p.OwnerID, p.Operators).RequireOwner(caller); err != nil {
		return nil, err
	}
	if p.ValuationTime < p.ExpirationTime {
		return nil, ErrContractStillActive
	}

	notional := pos.Notional
	pos.Notional = decimal.Zero

	amount := e.strategy.IntrinsicValue(notional, p.Forecast, p.Condition)
	if !amount.IsPositive() {
		return nil, nil
	}

	p.Balance = p.Balance.Sub(amount)

	return &model.Event{
		ID:            uuid.New().String(),
		PolicyID:      p.ID,
		Type:          model.EventPayout,
		ParticipantID: pos.ParticipantID,
		Notional:      notional,
		Amount:        amount,
		Timestamp:     e.clock.Now().UTC(),
	}, nil
}

// IsSettled reports whether every participant's stored notional is zero.
// Owner-or-operator view; vacuously true with zero participants. The scan
// covers the full append-only participant sequence — paid-out entries stay
// on it and are re-checked at zero, which keeps the check idempotent.
func (e *Engine) IsSettled(p *model.Policy, caller string, notionals map[string]decimal.Decimal) (bool, error) {
	if err := access.New(p.OwnerID, p.Operators).RequireOwnerOrOperator(caller); err != nil {
		return false, err
	}
	for _, id := range p.Participants {
		if !notionals[id].IsZero() {
			return false, nil
		}
	}
	return true, nil
}

// Destroy terminates the policy, sweeping any residual balance to the
// owner. Owner-only; requires the valuation time to have reached expiration
// AND every position settled. Terminal: no operation succeeds afterwards.
// Returns the swept amount.
func (e *Engine) Destroy(p *model.Policy, caller string, notionals map[string]decimal.Decimal) (decimal.Decimal, error) {
	if err := guardOpen(p); err != nil {
		return decimal.Zero, err
	}
	if err := access.New(p.OwnerID, p.Operators).RequireOwner(caller); err != nil {
		return decimal.Zero, err
	}
	if p.ValuationTime < p.ExpirationTime {
		return decimal.Zero, ErrContractStillActive
	}
	settled, err := e.IsSettled(p, caller, notionals)
	if err != nil {
		return decimal.Zero, err
	}
	if !settled {
		return decimal.Zero, ErrPositionsNotSettled
	}

	residual := p.Balance
	p.Balance = decimal.Zero
	p.Status = model.StatusTerminated
	return residual, nil
}
