// Package gateway is the boundary to the exchange counter process. It owns
// the transport, decodes and validates every callback payload, and paces
// outbound requests. Nothing in here touches trading state: callbacks only
// hand immutable records to whoever registered them.
package gateway

import (
	"context"
	"errors"
)

// ErrNotConnected is returned by operations on a closed or never-connected
// gateway.
var ErrNotConnected = errors.New("gateway not connected")

// Callbacks receive validated records on the transport's own goroutine.
// Implementations must not block and must not mutate trading state; the
// expected implementation enqueues onto the event bridge.
type Callbacks struct {
	OnOrder func(*OrderUpdate)
	OnTrade func(*TradeUpdate)
	OnTick  func(*TickRecord)
}

// Gateway is the exchange counter as seen by the bridge: fire-and-forget
// order flow plus the one-shot startup queries.
type Gateway interface {
	Connect(ctx context.Context) error
	Close() error

	// SendOrder returns the gateway-assigned order id, or an error on
	// synchronous refusal. The eventual status arrives via OnOrder.
	SendOrder(ctx context.Context, req *OrderRequest) (string, error)
	CancelOrder(ctx context.Context, req *CancelRequest) error
	Subscribe(ctx context.Context, req *SubscribeRequest) error

	// Startup queries, each executed once during initialization.
	QueryInstruments(ctx context.Context) ([]ContractRecord, error)
	QueryAccount(ctx context.Context) (*AccountRecord, error)
	QueryPositions(ctx context.Context) ([]PositionRecord, error)
	QueryOrders(ctx context.Context) ([]OrderUpdate, error)
	QueryTrades(ctx context.Context) ([]TradeUpdate, error)
}
