// Package broker owns in-flight orders: identifier correlation, the order
// lifecycle state machine driven by gateway callbacks, and the open-orders
// working set.
package broker

import (
	"log"
	"sync"

	"github.com/yourusername/ctp-bridge/pkg/types"
)

// Correlator maintains the bidirectional mappings between locally-generated
// and gateway-assigned order ids, and between exchange symbols and order
// book ids. Lookups return (v, ok) instead of failing hard: callbacks
// legitimately race ahead of local bookkeeping.
type Correlator struct {
	mu sync.RWMutex

	localToGateway map[int64]string
	gatewayToLocal map[string]int64

	symbolToBookID map[string]string
	bookIDToSymbol map[string]string
	instruments    map[string]*types.Instrument // by order book id
}

// NewCorrelator creates an empty correlator.
func NewCorrelator() *Correlator {
	return &Correlator{
		localToGateway: make(map[int64]string),
		gatewayToLocal: make(map[string]int64),
		symbolToBookID: make(map[string]string),
		bookIDToSymbol: make(map[string]string),
		instruments:    make(map[string]*types.Instrument),
	}
}

// Register records a local id <-> gateway id pair. Re-registering the same
// pair is a no-op; a conflicting pair is a programming error upstream,
// logged here, and the new mapping wins.
func (c *Correlator) Register(localID int64, gatewayID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.localToGateway[localID]; ok && prev != gatewayID {
		log.Printf("[Correlator] order %d remapped from %s to %s", localID, prev, gatewayID)
		delete(c.gatewayToLocal, prev)
	}
	c.localToGateway[localID] = gatewayID
	c.gatewayToLocal[gatewayID] = localID
}

// Unregister drops the mapping for a local order id, called when the order
// reaches a terminal state.
func (c *Correlator) Unregister(localID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gatewayID, ok := c.localToGateway[localID]; ok {
		delete(c.localToGateway, localID)
		delete(c.gatewayToLocal, gatewayID)
	}
}

// ResolveGatewayID returns the gateway id for a local order id.
func (c *Correlator) ResolveGatewayID(localID int64) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.localToGateway[localID]
	return id, ok
}

// ResolveLocalID returns the local order id for a gateway id.
func (c *Correlator) ResolveLocalID(gatewayID string) (int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.gatewayToLocal[gatewayID]
	return id, ok
}

// RegisterInstrument records contract metadata and the symbol mapping it
// implies. Effectively immutable for the session; duplicates overwrite.
func (c *Correlator) RegisterInstrument(ins *types.Instrument) {
	if ins.OrderBookID == "" {
		log.Printf("[Correlator] skipping contract %q: no order book id derivable", ins.Symbol)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.symbolToBookID[ins.Symbol] = ins.OrderBookID
	c.bookIDToSymbol[ins.OrderBookID] = ins.Symbol
	c.instruments[ins.OrderBookID] = ins
}

// Instrument returns the contract metadata for an order book id.
func (c *Correlator) Instrument(orderBookID string) (*types.Instrument, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ins, ok := c.instruments[orderBookID]
	return ins, ok
}

// ResolveOrderBookID maps an exchange symbol to the order book id. Falls
// back to the normalization heuristic when the symbol was never registered
// (e.g. a callback raced the contract query).
func (c *Correlator) ResolveOrderBookID(symbol string) (string, bool) {
	c.mu.RLock()
	id, ok := c.symbolToBookID[symbol]
	c.mu.RUnlock()
	if ok {
		return id, true
	}
	if derived := types.MakeOrderBookID(symbol); derived != "" {
		return derived, true
	}
	return "", false
}

// ResolveSymbol maps an order book id back to the exchange symbol.
func (c *Correlator) ResolveSymbol(orderBookID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.bookIDToSymbol[orderBookID]
	return s, ok
}

// Instruments returns a snapshot of all registered instruments.
func (c *Correlator) Instruments() []*types.Instrument {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*types.Instrument, 0, len(c.instruments))
	for _, ins := range c.instruments {
		out = append(out, ins)
	}
	return out
}
