package account

import (
	"math"
	"testing"

	"github.com/yourusername/ctp-bridge/pkg/types"
)

const rbMultiplier = 10

func rbInstrument() *types.Instrument {
	return &types.Instrument{
		OrderBookID:      "RB1910",
		Symbol:           "rb1910",
		Exchange:         types.ExchangeSHFE,
		Multiplier:       rbMultiplier,
		LongMarginRatio:  0.1,
		ShortMarginRatio: 0.1,
	}
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func openTrade(side types.Side, price float64, qty int64) *types.Trade {
	return &types.Trade{OrderBookID: "RB1910", Side: side, PositionEffect: types.EffectOpen, Price: price, Quantity: qty}
}

func closeTrade(side types.Side, effect types.PositionEffect, price float64, qty int64) *types.Trade {
	return &types.Trade{OrderBookID: "RB1910", Side: side, PositionEffect: effect, Price: price, Quantity: qty}
}

func TestOpenAccumulatesLots(t *testing.T) {
	p := NewPosition("RB1910", rbInstrument())
	p.ApplyTrade(openTrade(types.SideBuy, 3800, 2))
	p.ApplyTrade(openTrade(types.SideBuy, 3810, 3))

	if got := p.Buy.Quantity(); got != 5 {
		t.Fatalf("quantity = %d, want 5", got)
	}
	if len(p.Buy.TodayLots) != 2 {
		t.Fatalf("lots = %v", p.Buy.TodayLots)
	}
	wantAvg := (3800.0*2 + 3810.0*3) / 5
	if !almostEqual(p.Buy.AvgOpenPrice, wantAvg) {
		t.Errorf("avg open = %f, want %f", p.Buy.AvgOpenPrice, wantAvg)
	}
}

func TestCloseTodayConsumesFIFO(t *testing.T) {
	p := NewPosition("RB1910", rbInstrument())
	p.ApplyTrade(openTrade(types.SideBuy, 3800, 2))
	p.ApplyTrade(openTrade(types.SideBuy, 3810, 3))
	p.ApplyTrade(closeTrade(types.SideSell, types.EffectCloseToday, 3900, 4))

	// 2@3800 then 2@3810 consumed
	want := (3900.0-3800.0)*2*rbMultiplier + (3900.0-3810.0)*2*rbMultiplier
	if !almostEqual(p.Buy.RealizedPnl, want) {
		t.Errorf("realized = %f, want %f", p.Buy.RealizedPnl, want)
	}
	if got := p.Buy.Quantity(); got != 1 {
		t.Errorf("residual quantity = %d, want 1", got)
	}
	if len(p.Buy.TodayLots) != 1 || p.Buy.TodayLots[0].Price != 3810 || p.Buy.TodayLots[0].Quantity != 1 {
		t.Errorf("residual lots = %v", p.Buy.TodayLots)
	}
}

func TestCloseConsumesOldPoolFirst(t *testing.T) {
	p := NewPosition("RB1910", rbInstrument())
	p.PrevSettlePrice = 3700
	p.Buy.OldQuantity = 5
	p.ApplyTrade(openTrade(types.SideBuy, 3800, 2))
	p.ApplyTrade(closeTrade(types.SideSell, types.EffectClose, 3750, 6))

	want := (3750.0-3700.0)*5*rbMultiplier + (3750.0-3800.0)*1*rbMultiplier
	if !almostEqual(p.Buy.RealizedPnl, want) {
		t.Errorf("realized = %f, want %f", p.Buy.RealizedPnl, want)
	}
	if p.Buy.OldQuantity != 0 {
		t.Errorf("old quantity = %d, want 0", p.Buy.OldQuantity)
	}
	if got := p.Buy.TodayQuantity(); got != 1 {
		t.Errorf("today quantity = %d, want 1", got)
	}
}

func TestCloseTodaySkipsOldPool(t *testing.T) {
	p := NewPosition("RB1910", rbInstrument())
	p.PrevSettlePrice = 3700
	p.Buy.OldQuantity = 5
	p.ApplyTrade(openTrade(types.SideBuy, 3800, 2))
	p.ApplyTrade(closeTrade(types.SideSell, types.EffectCloseToday, 3900, 2))

	if p.Buy.OldQuantity != 5 {
		t.Errorf("old quantity touched: %d", p.Buy.OldQuantity)
	}
	if got := p.Buy.TodayQuantity(); got != 0 {
		t.Errorf("today quantity = %d, want 0", got)
	}
}

func TestShortSidePnlSign(t *testing.T) {
	p := NewPosition("RB1910", rbInstrument())
	p.ApplyTrade(openTrade(types.SideSell, 3800, 3))
	p.ApplyTrade(closeTrade(types.SideBuy, types.EffectCloseToday, 3750, 3))

	// short opened at 3800 bought back at 3750: profit
	want := (3800.0 - 3750.0) * 3 * rbMultiplier
	if !almostEqual(p.Sell.RealizedPnl, want) {
		t.Errorf("realized = %f, want %f", p.Sell.RealizedPnl, want)
	}
	if got := p.Sell.Quantity(); got != 0 {
		t.Errorf("quantity = %d, want 0", got)
	}
}

func TestLotSplitInvariant(t *testing.T) {
	p := NewPosition("RB1910", rbInstrument())
	opened := int64(0)
	closed := int64(0)
	for _, step := range []struct {
		side   types.Side
		effect types.PositionEffect
		price  float64
		qty    int64
	}{
		{types.SideBuy, types.EffectOpen, 3800, 4},
		{types.SideBuy, types.EffectOpen, 3820, 3},
		{types.SideSell, types.EffectCloseToday, 3850, 2},
		{types.SideBuy, types.EffectOpen, 3790, 1},
		{types.SideSell, types.EffectCloseToday, 3810, 3},
	} {
		p.ApplyTrade(&types.Trade{OrderBookID: "RB1910", Side: step.side, PositionEffect: step.effect, Price: step.price, Quantity: step.qty})
		if step.effect == types.EffectOpen {
			opened += step.qty
		} else {
			closed += step.qty
		}
	}
	if got := p.Buy.TodayQuantity(); got != opened-closed {
		t.Errorf("today lots sum = %d, want %d", got, opened-closed)
	}
}

func TestCloseBeyondHoldingsClamped(t *testing.T) {
	p := NewPosition("RB1910", rbInstrument())
	p.ApplyTrade(openTrade(types.SideBuy, 3800, 2))
	p.ApplyTrade(closeTrade(types.SideSell, types.EffectCloseToday, 3900, 5))
	if got := p.Buy.Quantity(); got != 0 {
		t.Errorf("quantity = %d, want 0", got)
	}
	want := (3900.0 - 3800.0) * 2 * rbMultiplier
	if !almostEqual(p.Buy.RealizedPnl, want) {
		t.Errorf("realized = %f, want %f", p.Buy.RealizedPnl, want)
	}
}

func TestMarginValuation(t *testing.T) {
	p := NewPosition("RB1910", rbInstrument())
	p.PrevSettlePrice = 3700
	p.Buy.OldQuantity = 2
	p.ApplyTrade(openTrade(types.SideBuy, 3800, 1))

	want := (3700.0*2 + 3800.0*1) * rbMultiplier * 0.1
	if !almostEqual(p.Margin(), want) {
		t.Errorf("margin = %f, want %f", p.Margin(), want)
	}
}

func TestHoldingPnl(t *testing.T) {
	p := NewPosition("RB1910", rbInstrument())
	p.ApplyTrade(openTrade(types.SideBuy, 3800, 2))
	if p.HoldingPnl() != 0 {
		t.Error("holding pnl without a tick should be zero")
	}
	p.LastPrice = 3850
	want := (3850.0 - 3800.0) * 2 * rbMultiplier
	if !almostEqual(p.HoldingPnl(), want) {
		t.Errorf("holding pnl = %f, want %f", p.HoldingPnl(), want)
	}
}
