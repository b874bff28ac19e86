package account

import (
	"log"

	"github.com/yourusername/ctp-bridge/pkg/types"
)

// Lot is one parcel of today's holdings at its open price. Lots are kept in
// open-time order and consumed FIFO.
type Lot struct {
	Price    float64 `json:"price"`
	Quantity int64   `json:"quantity"`
}

// PositionSide holds one direction of a futures position. The old quantity
// is carried from prior sessions, priced at the previous settlement price;
// it only decreases during the session. Today's holdings are individual lots.
type PositionSide struct {
	OldQuantity     int64   `json:"old_quantity"`
	TodayLots       []Lot   `json:"today_lots"`
	OpenCost        float64 `json:"open_cost"`
	AvgOpenPrice    float64 `json:"avg_open_price"`
	TransactionCost float64 `json:"transaction_cost"`
	RealizedPnl     float64 `json:"realized_pnl"`
}

// TodayQuantity is the sum of today's lots.
func (s *PositionSide) TodayQuantity() int64 {
	var q int64
	for _, l := range s.TodayLots {
		q += l.Quantity
	}
	return q
}

// Quantity is old + today.
func (s *PositionSide) Quantity() int64 {
	return s.OldQuantity + s.TodayQuantity()
}

func (s *PositionSide) recomputeAvg(multiplier float64) {
	q := s.Quantity()
	if q == 0 || multiplier == 0 {
		s.AvgOpenPrice = 0
		return
	}
	s.AvgOpenPrice = s.OpenCost / (float64(q) * multiplier)
}

// Position tracks both directions of one instrument. CTP allows long and
// short positions to coexist on the same contract, so buy and sell are
// independent sides.
type Position struct {
	OrderBookID     string
	Multiplier      float64
	PrevSettlePrice float64
	LastPrice       float64

	longMarginRatio  float64
	shortMarginRatio float64

	Buy  PositionSide
	Sell PositionSide
}

// NewPosition creates an empty position for the instrument. A nil instrument
// (contract missing from the query) degrades to multiplier 1 so quantity
// accounting still works; money figures will be off and that is logged.
func NewPosition(orderBookID string, ins *types.Instrument) *Position {
	p := &Position{OrderBookID: orderBookID, Multiplier: 1}
	if ins == nil {
		log.Printf("[Account] no contract for %s, money figures degraded (缺少合约信息)", orderBookID)
		return p
	}
	p.Multiplier = ins.Multiplier
	p.longMarginRatio = ins.LongMarginRatio
	p.shortMarginRatio = ins.ShortMarginRatio
	return p
}

// ApplyTrade applies one fill. Opens append a today lot on the trade's own
// side; closes consume the opposite side's holdings — the old pool first
// (close-today skips it), then today's lots oldest-first.
func (p *Position) ApplyTrade(t *types.Trade) {
	switch t.PositionEffect {
	case types.EffectOpen:
		side := p.side(t.Side)
		side.TodayLots = append(side.TodayLots, Lot{Price: t.Price, Quantity: t.Quantity})
		side.OpenCost += t.Price * float64(t.Quantity) * p.Multiplier
		side.TransactionCost += t.Commission
		side.recomputeAvg(p.Multiplier)
	case types.EffectClose, types.EffectCloseToday:
		// a sell closes the long side, a buy closes the short side
		holding := p.side(t.Side.Opposite())
		sign := 1.0
		if t.Side == types.SideBuy {
			sign = -1.0
		}
		realized := p.consume(holding, t.PositionEffect == types.EffectCloseToday, t.Quantity, t.Price, sign)
		holding.RealizedPnl += realized
		holding.TransactionCost += t.Commission
		holding.recomputeAvg(p.Multiplier)
	}
}

func (p *Position) side(s types.Side) *PositionSide {
	if s == types.SideSell {
		return &p.Sell
	}
	return &p.Buy
}

// consume takes qty off the holding side and returns the realized pnl.
// sign is +1 when a sell closes longs, -1 when a buy closes shorts.
func (p *Position) consume(s *PositionSide, closeToday bool, qty int64, price, sign float64) float64 {
	remaining := qty
	var realized float64

	if !closeToday && s.OldQuantity > 0 {
		take := min64(s.OldQuantity, remaining)
		realized += sign * (price - p.PrevSettlePrice) * float64(take) * p.Multiplier
		s.OpenCost -= s.AvgOpenPrice * float64(take) * p.Multiplier
		s.OldQuantity -= take
		remaining -= take
	}

	for remaining > 0 && len(s.TodayLots) > 0 {
		l := &s.TodayLots[0]
		take := min64(l.Quantity, remaining)
		realized += sign * (price - l.Price) * float64(take) * p.Multiplier
		s.OpenCost -= l.Price * float64(take) * p.Multiplier
		l.Quantity -= take
		remaining -= take
		if l.Quantity == 0 {
			s.TodayLots = s.TodayLots[1:]
		}
	}

	if remaining > 0 {
		log.Printf("[Account] close of %d on %s exceeds holdings by %d, clamped", qty, p.OrderBookID, remaining)
	}
	return realized
}

// Margin values the position at the old pool's settlement price plus each
// today lot's open price.
func (p *Position) Margin() float64 {
	return p.sideMargin(&p.Buy, p.longMarginRatio) + p.sideMargin(&p.Sell, p.marginRatioShort())
}

func (p *Position) sideMargin(s *PositionSide, ratio float64) float64 {
	value := float64(s.OldQuantity) * p.PrevSettlePrice
	for _, l := range s.TodayLots {
		value += l.Price * float64(l.Quantity)
	}
	return value * p.Multiplier * ratio
}

func (p *Position) marginRatioShort() float64 {
	if p.shortMarginRatio > 0 {
		return p.shortMarginRatio
	}
	return p.longMarginRatio
}

// MarginRatio returns the ratio used for orders on the given side.
func (p *Position) MarginRatio(side types.Side) float64 {
	if side == types.SideSell {
		return p.marginRatioShort()
	}
	return p.longMarginRatio
}

// HoldingPnl marks both sides against the last known price. Zero until a
// tick has been seen.
func (p *Position) HoldingPnl() float64 {
	if p.LastPrice == 0 {
		return 0
	}
	long := (p.LastPrice - p.Buy.AvgOpenPrice) * float64(p.Buy.Quantity()) * p.Multiplier
	short := (p.Sell.AvgOpenPrice - p.LastPrice) * float64(p.Sell.Quantity()) * p.Multiplier
	return long + short
}

// RealizedPnl sums both sides.
func (p *Position) RealizedPnl() float64 {
	return p.Buy.RealizedPnl + p.Sell.RealizedPnl
}

// TransactionCost sums both sides.
func (p *Position) TransactionCost() float64 {
	return p.Buy.TransactionCost + p.Sell.TransactionCost
}

// Empty reports whether both sides are flat with no session history worth
// keeping.
func (p *Position) Empty() bool {
	return p.Buy.Quantity() == 0 && p.Sell.Quantity() == 0 &&
		p.RealizedPnl() == 0 && p.TransactionCost() == 0
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
