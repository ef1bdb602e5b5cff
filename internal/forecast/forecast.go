// Package forecast holds the engine's view of external weather data and the
// derivation of forecast risk from NWS probabilistic forecasts.
//
// Valuation time is always supplied by the oracle client, never read from a
// clock inside the engine, which keeps settlement deterministic and testable.
package forecast

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidPercentiles is returned when the percentile spread is
	// degenerate (P75 below P25).
	ErrInvalidPercentiles = errors.New("forecast: 75th percentile must not be below 25th percentile")
)

var (
	hundred = decimal.NewFromInt(100)

	// MinRisk and MaxRisk bound the derived risk percentage. A floor of 1%
	// keeps premiums nonzero even for sharp ensembles; 100% caps the
	// loading at the full notional.
	MinRisk = decimal.NewFromInt(1)
	MaxRisk = decimal.NewFromInt(100)
)

// Observation is one externally supplied forecast update. The whole triple
// overwrites the previous one atomically; no monotonicity is enforced on
// Time (the oracle client is trusted).
type Observation struct {
	Time  int64           `json:"time"`
	Value decimal.Decimal `json:"value"`
	Risk  decimal.Decimal `json:"risk"` // percentage
}

// Percentiles holds machine-readable NWS ensemble forecast percentiles
// (NDFD GRIB2 via NOAA NOMADS, or the weather.gov gridpoints API).
type Percentiles struct {
	P25 decimal.Decimal `json:"percentile_25"`
	P50 decimal.Decimal `json:"percentile_50"` // median
	P75 decimal.Decimal `json:"percentile_75"`
}

// DeriveRisk computes a forecast risk percentage from NWS ensemble
// percentiles. The interquartile range (IQR = P75 - P25) relative to the
// median measures forecast uncertainty:
//
//	risk = 100 * IQR / median
//
// For dry conditions (median <= 0) the absolute IQR is used directly.
// The result is truncated and clamped to [MinRisk, MaxRisk].
func DeriveRisk(p Percentiles) (decimal.Decimal, error) {
	iqr := p.P75.Sub(p.P25)
	if iqr.IsNegative() {
		return decimal.Zero, ErrInvalidPercentiles
	}

	var risk decimal.Decimal
	if p.P50.LessThanOrEqual(decimal.Zero) {
		risk = iqr.Truncate(0)
	} else {
		risk = iqr.Mul(hundred).Div(p.P50).Truncate(0)
	}

	if risk.LessThan(MinRisk) {
		return MinRisk, nil
	}
	if risk.GreaterThan(MaxRisk) {
		return MaxRisk, nil
	}
	return risk, nil
}
