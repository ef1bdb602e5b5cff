// Package contract handles weather insurance policy ticker parsing and
// validation. A ticker encodes the immutable contract terms — location,
// peril, strike, expiry, payoff direction — in a compact reference used by
// the catalog and reporting layers.
package contract

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/shopspring/decimal"

	"github.com/parametrix/insurance-engine/internal/model"
)

// Supported peril types.
const (
	PerilTemp   = "TEMP"
	PerilPrecip = "PRECIP"
	PerilWind   = "WIND"
	PerilSnow   = "SNOW"
)

var validPerils = map[string]bool{
	PerilTemp:   true,
	PerilPrecip: true,
	PerilWind:   true,
	PerilSnow:   true,
}

// tickerRegex matches: WXI-{location}-{peril}-{strike}-{YYYYMMDD}-{L|S}
// Example: WXI-BERGEN01-TEMP-70-20260815-L
// The strike is a signed fixed-point weather value; the trailing letter
// selects the payoff direction (L = long, S = short).
var tickerRegex = regexp.MustCompile(
	`^WXI-([A-Z0-9]+)-([A-Z]+)-(-?[0-9]+(?:\.[0-9]+)?)-(\d{8})-([LS])$`,
)

var (
	ErrInvalidTicker = errors.New("contract: invalid ticker format")
	ErrInvalidPeril  = errors.New("contract: unsupported peril type")
)

// Contract represents parsed immutable policy terms.
type Contract struct {
	Ticker     string          `json:"ticker"`
	Location   string          `json:"location"`
	Peril      string          `json:"peril"`
	Strike     decimal.Decimal `json:"strike"`
	ExpiryDate time.Time       `json:"expiry_date"`
	Payoff     string          `json:"payoff"` // "long" or "short"
}

// ParseTicker parses and validates a policy ticker string.
// Format: WXI-{location}-{peril}-{strike}-{YYYYMMDD}-{L|S}
func ParseTicker(ticker string) (*Contract, error) {
	matches := tickerRegex.FindStringSubmatch(ticker)
	if matches == nil {
		return nil, fmt.Errorf("%w: %s (expected WXI-{location}-{peril}-{strike}-{YYYYMMDD}-{L|S})",
			ErrInvalidTicker, ticker)
	}

	location := matches[1]
	peril := matches[2]
	strikeStr := matches[3]
	dateStr := matches[4]
	direction := matches[5]

	if !validPerils[peril] {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPeril, peril)
	}

	strike, err := decimal.NewFromString(strikeStr)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid strike %s", ErrInvalidTicker, strikeStr)
	}

	expiry, err := time.Parse("20060102", dateStr)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid date %s", ErrInvalidTicker, dateStr)
	}

	payoff := model.PayoffLong
	if direction == "S" {
		payoff = model.PayoffShort
	}

	return &Contract{
		Ticker:     ticker,
		Location:   location,
		Peril:      peril,
		Strike:     strike,
		ExpiryDate: expiry,
		Payoff:     payoff,
	}, nil
}
