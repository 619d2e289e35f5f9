package order

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/GoPolymarket/proxy-trader/internal/errclass"
)

// Venue price band for outcome shares.
var (
	priceFloor = decimal.RequireFromString("0.01")
	priceCeil  = decimal.RequireFromString("0.99")
)

// DefaultMinOrderSize is the venue's minimum share count per order.
var DefaultMinOrderSize = decimal.NewFromInt(5)

// DefaultTick is the venue's minimum price increment.
var DefaultTick = decimal.RequireFromString("0.01")

// Request describes one order as the caller states it. It is transient and
// never persisted.
type Request struct {
	MarketID    string
	Side        string // BUY or SELL
	AmountUSDC  decimal.Decimal
	LimitPrice  decimal.Decimal
	MarketOrder bool
}

// Normalized is the venue-ready form of a Request: price inside the band and
// on-tick, size derived from the quote-currency amount.
type Normalized struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// Normalize clamps the price to the venue band, rounds it to the tick, and
// derives the share size. Orders whose size falls below minSize are rejected
// before any network call.
func Normalize(req Request, tick, minSize decimal.Decimal) (Normalized, error) {
	if req.Side != "BUY" && req.Side != "SELL" {
		return Normalized{}, fmt.Errorf("order: invalid side %q", req.Side)
	}
	if !req.AmountUSDC.IsPositive() {
		return Normalized{}, fmt.Errorf("order: amount must be positive, got %s", req.AmountUSDC)
	}
	if tick.IsZero() || tick.IsNegative() {
		tick = DefaultTick
	}

	price := req.LimitPrice
	if price.LessThan(priceFloor) {
		price = priceFloor
	} else if price.GreaterThan(priceCeil) {
		price = priceCeil
	}
	// Snap to the tick grid, then re-clamp: rounding at the band edge can
	// step outside it for sub-cent ticks.
	price = price.Div(tick).Round(0).Mul(tick)
	if price.LessThan(priceFloor) {
		price = priceFloor
	} else if price.GreaterThan(priceCeil) {
		price = priceCeil
	}

	size := req.AmountUSDC.Div(price).Truncate(2)
	if size.LessThan(minSize) {
		return Normalized{}, errclass.Wrap(errclass.KindOrderTooSmall,
			fmt.Errorf("order: size %s below venue minimum %s", size, minSize))
	}
	return Normalized{Price: price, Size: size}, nil
}
