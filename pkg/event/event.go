// Package event carries events between the gateway callback goroutine and
// the single execution goroutine that owns all trading state, and exposes
// the domain event bus consumed by the execution environment.
package event

import (
	"sync"
	"time"

	"github.com/yourusername/ctp-bridge/pkg/gateway"
	"github.com/yourusername/ctp-bridge/pkg/types"
)

// Type enumerates all event kinds moving through the bridge and bus.
type Type int32

const (
	// Domain events published to the execution environment.
	OrderPendingNew Type = iota
	OrderCreationPass
	OrderCreationReject
	OrderPendingCancel
	OrderCancellationPass
	OrderCancellationReject
	OrderUnsolicitedUpdate
	TradeEvent

	// Gateway callbacks crossing the bridge.
	GatewayOrder
	GatewayTrade
	Tick

	// Housekeeping.
	BeforeTrading
	AfterTrading
	DoPersist
)

func (t Type) String() string {
	switch t {
	case OrderPendingNew:
		return "ORDER_PENDING_NEW"
	case OrderCreationPass:
		return "ORDER_CREATION_PASS"
	case OrderCreationReject:
		return "ORDER_CREATION_REJECT"
	case OrderPendingCancel:
		return "ORDER_PENDING_CANCEL"
	case OrderCancellationPass:
		return "ORDER_CANCELLATION_PASS"
	case OrderCancellationReject:
		return "ORDER_CANCELLATION_REJECT"
	case OrderUnsolicitedUpdate:
		return "ORDER_UNSOLICITED_UPDATE"
	case TradeEvent:
		return "TRADE"
	case GatewayOrder:
		return "GATEWAY_ORDER"
	case GatewayTrade:
		return "GATEWAY_TRADE"
	case Tick:
		return "TICK"
	case BeforeTrading:
		return "BEFORE_TRADING"
	case AfterTrading:
		return "AFTER_TRADING"
	case DoPersist:
		return "DO_PERSIST"
	}
	return "UNKNOWN"
}

// Event is a tagged union; exactly the payloads matching Type are set.
type Event struct {
	Type Type
	Time time.Time

	Order *types.Order
	Trade *types.Trade

	OrderUpdate *gateway.OrderUpdate
	TradeUpdate *gateway.TradeUpdate
	TickData    *gateway.TickRecord
}

// Handler consumes one event. Handlers run synchronously on the publishing
// goroutine, which for everything downstream of the bridge is the execution
// goroutine.
type Handler func(Event)

// Bus is the domain event bus surface towards the execution environment.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Type][]Handler
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[Type][]Handler)}
}

// Subscribe registers a handler for one event type.
func (b *Bus) Subscribe(t Type, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], h)
}

// Publish delivers the event to all handlers of its type, in subscription
// order.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	handlers := b.handlers[e.Type]
	b.mu.RUnlock()
	for _, h := range handlers {
		h(e)
	}
}
