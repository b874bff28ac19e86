package broker

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/yourusername/ctp-bridge/pkg/event"
	"github.com/yourusername/ctp-bridge/pkg/gateway"
	"github.com/yourusername/ctp-bridge/pkg/types"
)

// Broker tracks every in-flight order from submission to its terminal
// state. All mutation happens on the execution goroutine (callbacks arrive
// through the event bridge), but the status API reads from its own
// goroutine, so the RWMutex guards the maps AND every field write on a
// tracked order; readers only ever see value copies taken under the lock.
type Broker struct {
	gw         gateway.Gateway
	bus        *event.Bus
	correlator *Correlator

	mu          sync.RWMutex
	orders      map[string]*types.Order // every order ever acked, by gateway id
	openOrders  map[string]*types.Order // working set, by gateway id
	lastUpdates map[string]*gateway.OrderUpdate
	seenTrades  map[string]bool

	inited     bool // account reconstruction complete
	histOrders []*gateway.OrderUpdate
	histTrades []*gateway.TradeUpdate
}

// New creates a broker publishing lifecycle events on bus.
func New(gw gateway.Gateway, bus *event.Bus, correlator *Correlator) *Broker {
	return &Broker{
		gw:          gw,
		bus:         bus,
		correlator:  correlator,
		orders:      make(map[string]*types.Order),
		openOrders:  make(map[string]*types.Order),
		lastUpdates: make(map[string]*gateway.OrderUpdate),
		seenTrades:  make(map[string]bool),
	}
}

// Correlator exposes the identifier maps.
func (b *Broker) Correlator() *Correlator {
	return b.correlator
}

func (b *Broker) publish(t event.Type, order *types.Order, trade *types.Trade) {
	b.bus.Publish(event.Event{Type: t, Time: order.CalendarTime, Order: order, Trade: trade})
}

// SubmitOrder publishes ORDER_PENDING_NEW optimistically, translates the
// order and sends it. Synchronous refusal (unknown instrument, counter
// reject) synthesizes a REJECTED transition locally; no callback will come.
// Fire-and-forget: the acknowledgement arrives via OnOrderUpdate.
func (b *Broker) SubmitOrder(ctx context.Context, order *types.Order) {
	b.publish(event.OrderPendingNew, order, nil)

	ins, ok := b.correlator.Instrument(order.OrderBookID)
	if !ok {
		order.MarkRejected(fmt.Sprintf("no contract exists whose order_book_id is %s", order.OrderBookID))
		log.Printf("[Broker] order %d rejected: %s", order.OrderID, order.Message)
		b.publish(event.OrderCreationReject, order, nil)
		return
	}

	req := &gateway.OrderRequest{
		Symbol:    ins.Symbol,
		Exchange:  ins.Exchange,
		Side:      order.Side,
		Offset:    order.PositionEffect,
		Type:      order.Type,
		Price:     order.Price,
		Volume:    order.Quantity,
		Reference: fmt.Sprintf("%d", order.OrderID),
	}

	gatewayID, err := b.gw.SendOrder(ctx, req)
	if err != nil {
		order.MarkRejected(fmt.Sprintf("order submission refused: %v", err))
		log.Printf("[Broker] order %d rejected: %s", order.OrderID, order.Message)
		b.publish(event.OrderCreationReject, order, nil)
		return
	}

	order.GatewayOrderID = gatewayID
	b.correlator.Register(order.OrderID, gatewayID)

	b.mu.Lock()
	b.orders[gatewayID] = order
	b.openOrders[gatewayID] = order
	b.mu.Unlock()
}

// CancelOrder requests cancellation. If the gateway has not yet assigned an
// id (cancel racing the submission ack) the cancel is rejected locally —
// sending a malformed cancel would be worse than refusing.
func (b *Broker) CancelOrder(ctx context.Context, order *types.Order) {
	gatewayID, ok := b.correlator.ResolveGatewayID(order.OrderID)
	if !ok {
		log.Printf("[Broker] cancel of order %d rejected: no gateway id yet", order.OrderID)
		b.publish(event.OrderCancellationReject, order, nil)
		return
	}

	req := &gateway.CancelRequest{GatewayOrderID: gatewayID}
	b.mu.Lock()
	order.MarkPendingCancel()
	if lu, ok := b.lastUpdates[gatewayID]; ok {
		req.Symbol = lu.Symbol
		req.Exchange = lu.Exchange
		req.FrontID = lu.FrontID
		req.SessionID = lu.SessionID
	}
	b.mu.Unlock()
	b.publish(event.OrderPendingCancel, order, nil)

	if req.Symbol == "" {
		if symbol, ok := b.correlator.ResolveSymbol(order.OrderBookID); ok {
			req.Symbol = symbol
		}
	}

	if err := b.gw.CancelOrder(ctx, req); err != nil {
		log.Printf("[Broker] cancel of order %d refused: %v", order.OrderID, err)
		b.mu.Lock()
		order.Status = types.StatusActive // still working at the exchange
		b.mu.Unlock()
		b.publish(event.OrderCancellationReject, order, nil)
	}
}

// OnOrderUpdate applies one order callback to the state machine. Duplicate
// deliveries (same status, same traded volume) are no-ops. Fills are not
// accounted here — the trade path owns quantity, so PART_TRADED/ALL_TRADED
// carry no mutation beyond working-set membership.
func (b *Broker) OnOrderUpdate(u *gateway.OrderUpdate) {
	if !b.markInitedOrBuffer(u, nil) {
		return
	}
	// the counter echoes transient submitting states; nothing to do yet
	if u.Status == types.GatewaySubmitting {
		return
	}

	b.mu.Lock()
	order, ok := b.orders[u.GatewayOrderID]
	if !ok {
		b.mu.Unlock()
		log.Printf("[Broker] order callback %s does not match local books, dropping", u.GatewayOrderID)
		return
	}
	if last, ok := b.lastUpdates[u.GatewayOrderID]; ok &&
		last.Status == u.Status && last.TradedVolume == u.TradedVolume {
		b.mu.Unlock()
		return
	}
	b.lastUpdates[u.GatewayOrderID] = u

	if order.IsFinal() {
		b.mu.Unlock()
		return
	}

	// state transitions happen under the lock; publishing waits until it is
	// released so bus handlers cannot re-enter the broker while it is held
	var out []event.Type
	if order.Status == types.StatusPendingNew {
		order.Activate()
		out = append(out, event.OrderCreationPass)
	}

	terminal := false
	switch u.Status {
	case types.GatewayRejected:
		order.MarkRejected(fmt.Sprintf("order %s rejected by counter: %s", u.GatewayOrderID, u.StatusMessage))
		out = append(out, event.OrderUnsolicitedUpdate)
		terminal = true
	case types.GatewayCancelled:
		solicited := order.Status == types.StatusPendingCancel
		order.MarkCancelled(fmt.Sprintf("order %s cancelled", u.GatewayOrderID))
		if solicited {
			out = append(out, event.OrderCancellationPass)
		} else {
			// exchange-initiated; the strategy did not ask for this
			out = append(out, event.OrderUnsolicitedUpdate)
		}
		terminal = true
	case types.GatewayNotTraded, types.GatewayPartTraded:
		b.openOrders[u.GatewayOrderID] = order
	case types.GatewayAllTraded:
		// quantity accounting and eviction happen on the trade path
	}
	if terminal {
		delete(b.openOrders, order.GatewayOrderID)
	}
	b.mu.Unlock()

	for _, t := range out {
		b.publish(t, order, nil)
	}
	if terminal {
		b.correlator.Unregister(order.OrderID)
	}
}

// OnTrade applies one fill callback. Duplicates are keyed out by
// (gateway order id, trade id). A trade racing ahead of its order ack gets
// a synthesized minimal order so the TRADE event still carries a valid
// order reference.
func (b *Broker) OnTrade(u *gateway.TradeUpdate) {
	if !b.markInitedOrBuffer(nil, u) {
		return
	}

	key := u.GatewayOrderID + "." + u.TradeID
	b.mu.Lock()
	if b.seenTrades[key] {
		b.mu.Unlock()
		return
	}
	b.seenTrades[key] = true
	order, ok := b.orders[u.GatewayOrderID]
	var fillErr error
	filled := false
	if ok {
		fillErr = order.Fill(u.Price, u.Volume)
		if order.Status == types.StatusFilled {
			delete(b.openOrders, order.GatewayOrderID)
			filled = true
		}
	}
	b.mu.Unlock()

	if !ok {
		order = b.synthesizeOrder(u)
		log.Printf("[Broker] trade %s arrived before order %s, synthesized order %d", u.TradeID, u.GatewayOrderID, order.OrderID)
	}
	if fillErr != nil {
		log.Printf("[Broker] %v", fillErr)
	}
	if filled {
		b.correlator.Unregister(order.OrderID)
	}

	orderBookID, _ := b.correlator.ResolveOrderBookID(u.Symbol)
	trade := &types.Trade{
		TradeID:        u.TradeID,
		OrderID:        order.OrderID,
		GatewayOrderID: u.GatewayOrderID,
		OrderBookID:    orderBookID,
		Side:           u.Side,
		PositionEffect: types.MakePositionEffect(u.Exchange, u.Offset),
		Price:          u.Price,
		Quantity:       u.Volume,
		CalendarTime:   u.TradeTime,
		TradingTime:    types.MakeTradingTime(u.TradeTime),
	}
	b.bus.Publish(event.Event{Type: event.TradeEvent, Time: u.TradeTime, Order: order, Trade: trade})
}

// synthesizeOrder builds the minimal order record implied by a trade whose
// order ack has not arrived yet.
func (b *Broker) synthesizeOrder(u *gateway.TradeUpdate) *types.Order {
	orderBookID, _ := b.correlator.ResolveOrderBookID(u.Symbol)
	order := types.NewOrder(
		orderBookID,
		u.Side,
		types.MakePositionEffect(u.Exchange, u.Offset),
		types.TypeLimit,
		u.Price,
		u.Volume,
		u.TradeTime,
	)
	order.GatewayOrderID = u.GatewayOrderID
	order.Activate()
	_ = order.Fill(u.Price, u.Volume)
	return order
}

// markInitedOrBuffer routes callbacks arriving before reconstruction
// finished into the history buffers. Returns false when the callback was
// buffered.
func (b *Broker) markInitedOrBuffer(ou *gateway.OrderUpdate, tu *gateway.TradeUpdate) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.inited {
		return true
	}
	if ou != nil {
		b.histOrders = append(b.histOrders, ou)
	}
	if tu != nil {
		b.histTrades = append(b.histTrades, tu)
	}
	return false
}

// MarkInited flips the broker into live mode and returns the callbacks
// buffered during reconstruction so the engine can feed them to the
// reconstruction engine.
func (b *Broker) MarkInited() (orders []*gateway.OrderUpdate, trades []*gateway.TradeUpdate) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inited = true
	orders, trades = b.histOrders, b.histTrades
	b.histOrders, b.histTrades = nil, nil
	return orders, trades
}

// OpenOrders returns a snapshot of the working set, optionally filtered by
// order book id. Value copies: the live records keep changing under the
// broker's lock and must not leak to other goroutines.
func (b *Broker) OpenOrders(orderBookID string) []types.Order {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]types.Order, 0, len(b.openOrders))
	for _, o := range b.openOrders {
		if orderBookID == "" || o.OrderBookID == orderBookID {
			out = append(out, *o)
		}
	}
	return out
}
