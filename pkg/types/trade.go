package types

import "time"

// Trade is an immutable fill record. One Trade is created per trade
// callback; a partially-filled order accumulates several. Trades are never
// mutated after creation.
type Trade struct {
	TradeID        string // exchange-assigned
	OrderID        int64
	GatewayOrderID string
	OrderBookID    string
	Side           Side
	PositionEffect PositionEffect
	Price          float64
	Quantity       int64
	Commission     float64
	CalendarTime   time.Time
	TradingTime    time.Time
}

// Instrument is contract metadata received once per session from the
// instrument query; effectively immutable afterwards.
type Instrument struct {
	OrderBookID      string
	Symbol           string // exchange symbol, e.g. "rb1910"
	Exchange         string
	Name             string
	Multiplier       float64 // contract multiplier (合约乘数)
	PriceTick        float64
	LongMarginRatio  float64
	ShortMarginRatio float64
	OpenDate         string // yyyymmdd
	ExpireDate       string // yyyymmdd
}

// MarginRatio returns the margin ratio for the given side, falling back to
// the long ratio when the short ratio is absent.
func (i *Instrument) MarginRatio(side Side) float64 {
	if side == SideSell && i.ShortMarginRatio > 0 {
		return i.ShortMarginRatio
	}
	return i.LongMarginRatio
}
