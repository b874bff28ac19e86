package account

import (
	"log"
	"sync"

	"github.com/yourusername/ctp-bridge/pkg/types"
)

// InstrumentProvider resolves contract metadata. *broker.Correlator
// satisfies it.
type InstrumentProvider interface {
	Instrument(orderBookID string) (*types.Instrument, bool)
}

// Account is the settled-cash ledger: previous settlement balance as the
// baseline, with today's realized pnl, transaction cost and margin applied
// on top. Holding pnl is reported separately and never folded into cash.
//
// Mutation happens on the execution goroutine; the mutex guards the
// read-only status API.
type Account struct {
	mu sync.RWMutex

	prevBalance float64
	positions   map[string]*Position
	frozen      map[string]float64 // gateway order id -> frozen margin
	ins         InstrumentProvider
}

func NewAccount(prevBalance float64, ins InstrumentProvider) *Account {
	return &Account{
		prevBalance: prevBalance,
		positions:   make(map[string]*Position),
		frozen:      make(map[string]float64),
		ins:         ins,
	}
}

// Position returns the position for the book id, creating an empty one on
// first touch.
func (a *Account) Position(orderBookID string) *Position {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.positionLocked(orderBookID)
}

func (a *Account) positionLocked(orderBookID string) *Position {
	if p, ok := a.positions[orderBookID]; ok {
		return p
	}
	var meta *types.Instrument
	if a.ins != nil {
		if m, ok := a.ins.Instrument(orderBookID); ok {
			meta = m
		}
	}
	p := NewPosition(orderBookID, meta)
	a.positions[orderBookID] = p
	return p
}

// ApplyTrade routes a fill into its position.
func (a *Account) ApplyTrade(t *types.Trade) {
	if t.OrderBookID == "" {
		log.Printf("[Account] trade %s has no order_book_id, skipped", t.TradeID)
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.positionLocked(t.OrderBookID).ApplyTrade(t)
}

// UpdatePrice marks a position against the latest tick.
func (a *Account) UpdatePrice(orderBookID string, last float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if p, ok := a.positions[orderBookID]; ok {
		p.LastPrice = last
	}
}

// FreezeOrder reserves margin for a working order's unfilled quantity.
// Called on acceptance and again after each fill; the entry is keyed by
// gateway id so historical orders from reconstruction share the same books.
func (a *Account) FreezeOrder(o *types.Order) {
	if o.GatewayOrderID == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	p := a.positionLocked(o.OrderBookID)
	unfilled := o.Quantity - o.FilledQuantity
	a.frozen[o.GatewayOrderID] = float64(unfilled) * o.Price * p.Multiplier * p.MarginRatio(o.Side)
}

// ReleaseOrder drops the reservation when the order reaches a terminal
// state.
func (a *Account) ReleaseOrder(o *types.Order) {
	if o.GatewayOrderID == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.frozen, o.GatewayOrderID)
}

func (a *Account) freezeRaw(gatewayOrderID string, amount float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.frozen[gatewayOrderID] = amount
}

// PrevBalance is the previous settlement equity (昨结算权益).
func (a *Account) PrevBalance() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.prevBalance
}

// FrozenMargin sums active reservations.
func (a *Account) FrozenMargin() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var sum float64
	for _, v := range a.frozen {
		sum += v
	}
	return sum
}

// RealizedPnl sums over positions.
func (a *Account) RealizedPnl() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var sum float64
	for _, p := range a.positions {
		sum += p.RealizedPnl()
	}
	return sum
}

// TransactionCost sums over positions.
func (a *Account) TransactionCost() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var sum float64
	for _, p := range a.positions {
		sum += p.TransactionCost()
	}
	return sum
}

// Margin sums over positions.
func (a *Account) Margin() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var sum float64
	for _, p := range a.positions {
		sum += p.Margin()
	}
	return sum
}

// HoldingPnl sums over positions; informational only.
func (a *Account) HoldingPnl() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var sum float64
	for _, p := range a.positions {
		sum += p.HoldingPnl()
	}
	return sum
}

// TotalCash is the settled-cash figure:
// prev balance + realized pnl - transaction cost - margin.
func (a *Account) TotalCash() float64 {
	return a.prevBalance + a.RealizedPnl() - a.TransactionCost() - a.Margin()
}

// Available is cash not reserved for working orders.
func (a *Account) Available() float64 {
	return a.TotalCash() - a.FrozenMargin()
}

// Positions snapshots the non-empty positions for the status API. The
// copies share nothing with live state, so they are safe to marshal while
// trading continues.
func (a *Account) Positions() map[string]Position {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string]Position, len(a.positions))
	for id, p := range a.positions {
		if p.Empty() {
			continue
		}
		cp := *p
		cp.Buy.TodayLots = append([]Lot(nil), p.Buy.TodayLots...)
		cp.Sell.TodayLots = append([]Lot(nil), p.Sell.TodayLots...)
		out[id] = cp
	}
	return out
}
