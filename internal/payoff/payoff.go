// Package payoff implements the intrinsic-value functions for parametric
// weather insurance and the premium formula built on top of them.
//
// A payoff strategy is a pure function of (notional, forecast, strike).
// The two concrete directions are:
//
//	long:  value = max(forecast - strike, 0) * notional
//	short: value = max(strike - forecast, 0) * notional
//
// Adding a payoff direction means adding a Strategy implementation here;
// nothing else in the engine changes.
//
// All values use shopspring/decimal — never float64 for money.
package payoff

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/parametrix/insurance-engine/internal/model"
)

// ErrUnknownDirection is returned for a payoff direction with no strategy.
var ErrUnknownDirection = errors.New("payoff: unknown payoff direction")

var hundred = decimal.NewFromInt(100)

// Strategy computes the deterministic payout for a notional under a given
// forecast and strike. Implementations are stateless and safe for
// concurrent use.
type Strategy interface {
	// IntrinsicValue returns the payout amount, never negative.
	IntrinsicValue(notional, forecast, strike decimal.Decimal) decimal.Decimal

	// Direction returns the direction label ("long" or "short").
	Direction() string
}

// ForDirection returns the strategy for a payoff direction label.
func ForDirection(direction string) (Strategy, error) {
	switch direction {
	case model.PayoffLong:
		return Long{}, nil
	case model.PayoffShort:
		return Short{}, nil
	default:
		return nil, ErrUnknownDirection
	}
}

// Long pays the amount by which the forecast exceeds the strike.
type Long struct{}

func (Long) IntrinsicValue(notional, forecast, strike decimal.Decimal) decimal.Decimal {
	edge := forecast.Sub(strike)
	if edge.IsNegative() {
		return decimal.Zero
	}
	return edge.Mul(notional)
}

func (Long) Direction() string { return model.PayoffLong }

// Short pays the amount by which the strike exceeds the forecast.
type Short struct{}

func (Short) IntrinsicValue(notional, forecast, strike decimal.Decimal) decimal.Decimal {
	edge := strike.Sub(forecast)
	if edge.IsNegative() {
		return decimal.Zero
	}
	return edge.Mul(notional)
}

func (Short) Direction() string { return model.PayoffShort }

// Premium returns the premium required for a notional:
//
//	premium = intrinsicValue(notional) + trunc(notional * riskPct / 100) + minimum
//
// The risk component is truncated toward zero, keeping quotes in whole
// units. Callers must reject non-positive notional before quoting.
func Premium(s Strategy, notional, forecast, strike, riskPct, minimum decimal.Decimal) decimal.Decimal {
	intrinsic := s.IntrinsicValue(notional, forecast, strike)
	riskLoad := notional.Mul(riskPct).Div(hundred).Truncate(0)
	return intrinsic.Add(riskLoad).Add(minimum)
}
