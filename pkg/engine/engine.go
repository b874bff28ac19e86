// Package engine composes the bridge process: gateway, event bridge, order
// lifecycle tracking, ledger reconstruction and the status API, driven by a
// single execution goroutine.
package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/yourusername/ctp-bridge/pkg/account"
	"github.com/yourusername/ctp-bridge/pkg/broker"
	"github.com/yourusername/ctp-bridge/pkg/config"
	"github.com/yourusername/ctp-bridge/pkg/event"
	"github.com/yourusername/ctp-bridge/pkg/gateway"
	"github.com/yourusername/ctp-bridge/pkg/server"
	"github.com/yourusername/ctp-bridge/pkg/types"
)

// Engine owns every component of the bridge. All trading state is mutated
// on the goroutine running Run; the gateway's transport goroutines only
// enqueue onto the bridge.
type Engine struct {
	cfg *config.BridgeConfig
	loc *time.Location

	gw         gateway.Gateway
	bridge     *event.Bridge
	bus        *event.Bus
	correlator *broker.Correlator
	broker     *broker.Broker
	ledger     *account.Account
	phases     *event.PhasePublisher
	status     *server.Server

	mu          sync.RWMutex
	running     bool
	inited      bool
	lastPersist time.Time
}

// New creates an engine wired to a NATS gateway built from the config.
func New(cfg *config.BridgeConfig) (*Engine, error) {
	e, err := newEngine(cfg)
	if err != nil {
		return nil, err
	}
	e.gw = gateway.NewNATSGateway(&cfg.Gateway, e.Callbacks())
	e.broker = broker.New(e.gw, e.bus, e.correlator)
	return e, nil
}

// NewWithGateway creates an engine around an existing gateway. The caller
// is responsible for routing the gateway's callbacks through Callbacks().
func NewWithGateway(cfg *config.BridgeConfig, gw gateway.Gateway) (*Engine, error) {
	e, err := newEngine(cfg)
	if err != nil {
		return nil, err
	}
	e.gw = gw
	e.broker = broker.New(gw, e.bus, e.correlator)
	return e, nil
}

func newEngine(cfg *config.BridgeConfig) (*Engine, error) {
	loc, err := time.LoadLocation(cfg.Session.Timezone)
	if err != nil {
		return nil, fmt.Errorf("bad timezone %q: %w", cfg.Session.Timezone, err)
	}
	bus := event.NewBus()
	return &Engine{
		cfg:        cfg,
		loc:        loc,
		bus:        bus,
		bridge:     event.NewBridge(cfg.Bridge.QueueSize),
		correlator: broker.NewCorrelator(),
		phases:     event.NewPhasePublisher(bus, loc, cfg.Session.NightTrading),
	}, nil
}

// Callbacks returns the gateway callbacks. They run on the transport
// goroutine and only enqueue; blocking here applies backpressure to the
// counter connection rather than dropping events.
func (e *Engine) Callbacks() gateway.Callbacks {
	return gateway.Callbacks{
		OnOrder: func(u *gateway.OrderUpdate) {
			e.bridge.Put(event.Event{Type: event.GatewayOrder, Time: time.Now(), OrderUpdate: u})
		},
		OnTrade: func(u *gateway.TradeUpdate) {
			e.bridge.Put(event.Event{Type: event.GatewayTrade, Time: time.Now(), TradeUpdate: u})
		},
		OnTick: func(u *gateway.TickRecord) {
			e.bridge.Put(event.Event{Type: event.Tick, Time: u.Time, TickData: u})
		},
	}
}

// Bus exposes the domain event bus so the execution environment can
// subscribe before Init.
func (e *Engine) Bus() *event.Bus {
	return e.bus
}

// Init connects, runs the startup queries and reconstructs the ledger.
// Mandatory queries (instruments, account) escalate retry exhaustion to a
// fatal error; optional ones degrade to empty results.
func (e *Engine) Init(ctx context.Context) error {
	log.Printf("[Engine] Initializing (mode: %s)...", e.cfg.System.Mode)

	if err := e.gw.Connect(ctx); err != nil {
		return fmt.Errorf("gateway connect: %w", err)
	}

	retrier := gateway.QueryRetrier{
		Times:    e.cfg.Query.RetryTimes,
		Interval: e.cfg.Query.RetryInterval,
	}

	contracts, err := gateway.RetryQuery(ctx, retrier, "instruments", true, e.gw.QueryInstruments)
	if err != nil {
		return fmt.Errorf("instrument query: %w", err)
	}
	for i := range contracts {
		e.correlator.RegisterInstrument(contracts[i].Instrument())
	}
	log.Printf("[Engine] Registered %d contracts", len(e.correlator.Instruments()))

	acct, err := gateway.RetryQuery(ctx, retrier, "account", true, e.gw.QueryAccount)
	if err != nil {
		return fmt.Errorf("account query: %w", err)
	}

	positions, _ := gateway.RetryQuery(ctx, retrier, "positions", false, e.gw.QueryPositions)
	histOrders, _ := gateway.RetryQuery(ctx, retrier, "orders", false, e.gw.QueryOrders)
	histTrades, _ := gateway.RetryQuery(ctx, retrier, "trades", false, e.gw.QueryTrades)

	e.ledger = account.Rebuild(account.RebuildInput{
		Account:   acct,
		Positions: positions,
		Orders:    histOrders,
		Trades:    histTrades,
	}, e.correlator)
	log.Printf("[Engine] Ledger reconstructed: cash=%.2f frozen=%.2f positions=%d",
		e.ledger.TotalCash(), e.ledger.FrozenMargin(), len(e.ledger.Positions()))

	e.wireLedger()

	// callbacks that raced reconstruction now apply in arrival order
	bufOrders, bufTrades := e.broker.MarkInited()
	for _, u := range bufOrders {
		e.broker.OnOrderUpdate(u)
	}
	for _, u := range bufTrades {
		e.broker.OnTrade(u)
	}
	if len(bufOrders)+len(bufTrades) > 0 {
		log.Printf("[Engine] Replayed %d buffered order and %d trade callbacks", len(bufOrders), len(bufTrades))
	}

	if e.cfg.API.Enabled {
		e.status = server.NewServer(&e.cfg.API, e.broker, e.ledger, e.cfg.System.Mode)
		for _, t := range []event.Type{
			event.OrderPendingNew, event.OrderCreationPass, event.OrderCreationReject,
			event.OrderPendingCancel, event.OrderCancellationPass, event.OrderCancellationReject,
			event.OrderUnsolicitedUpdate, event.TradeEvent,
		} {
			e.bus.Subscribe(t, e.status.Hub().BroadcastEvent)
		}
		if err := e.status.Start(); err != nil {
			return fmt.Errorf("status server: %w", err)
		}
	}

	e.mu.Lock()
	e.inited = true
	e.lastPersist = time.Now()
	e.mu.Unlock()
	log.Println("[Engine] Initialization complete")
	return nil
}

// wireLedger subscribes the ledger's incremental maintenance to the
// lifecycle events the broker publishes.
func (e *Engine) wireLedger() {
	e.bus.Subscribe(event.TradeEvent, func(ev event.Event) {
		e.ledger.ApplyTrade(ev.Trade)
		if ev.Order == nil {
			return
		}
		if ev.Order.IsFinal() {
			e.ledger.ReleaseOrder(ev.Order)
		} else {
			e.ledger.FreezeOrder(ev.Order)
		}
	})
	e.bus.Subscribe(event.OrderCreationPass, func(ev event.Event) {
		e.ledger.FreezeOrder(ev.Order)
	})
	for _, t := range []event.Type{
		event.OrderCreationReject, event.OrderCancellationPass, event.OrderUnsolicitedUpdate,
	} {
		e.bus.Subscribe(t, func(ev event.Event) {
			if ev.Order != nil && ev.Order.IsFinal() {
				e.ledger.ReleaseOrder(ev.Order)
			}
		})
	}
}

// Run is the execution loop. It must be the only goroutine that dispatches
// into the broker. Returns when ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	if !e.inited {
		e.mu.Unlock()
		return fmt.Errorf("engine not initialized")
	}
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("engine already running")
	}
	e.running = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	log.Println("[Engine] Execution loop started")
	for {
		select {
		case <-ctx.Done():
			log.Println("[Engine] Execution loop stopped")
			return nil
		default:
		}

		events := e.bridge.Poll(e.cfg.Bridge.PollTimeout)
		now := time.Now().In(e.loc)

		if events == nil {
			// idle heartbeat: session phases and persistence run between
			// bursts, never in the middle of one
			e.phases.PublishIfNeeded(now)
			e.maybePersist(now)
			continue
		}

		for _, ev := range events {
			e.dispatch(ev)
		}
	}
}

func (e *Engine) dispatch(ev event.Event) {
	switch ev.Type {
	case event.GatewayOrder:
		e.broker.OnOrderUpdate(ev.OrderUpdate)
	case event.GatewayTrade:
		e.broker.OnTrade(ev.TradeUpdate)
	case event.Tick:
		if orderBookID, ok := e.correlator.ResolveOrderBookID(ev.TickData.Symbol); ok {
			e.ledger.UpdatePrice(orderBookID, ev.TickData.LastPrice)
		}
		e.bus.Publish(ev)
	case event.DoPersist:
		e.bus.Publish(ev)
	default:
		e.bus.Publish(ev)
	}
}

func (e *Engine) maybePersist(now time.Time) {
	interval := e.cfg.Bridge.PersistInterval
	if interval <= 0 {
		return
	}
	e.mu.Lock()
	due := now.Sub(e.lastPersist) >= interval
	if due {
		e.lastPersist = now
	}
	e.mu.Unlock()
	if due {
		// through the bridge so a slow consumer collapses the backlog; must
		// not block — this goroutine is the one draining the queue
		if !e.bridge.TryPut(event.Event{Type: event.DoPersist, Time: now}) {
			log.Printf("[Engine] persist trigger dropped, queue full")
		}
	}
}

// SubmitOrder is the fire-and-forget submission surface. Call from the
// execution goroutine only.
func (e *Engine) SubmitOrder(ctx context.Context, order *types.Order) {
	e.broker.SubmitOrder(ctx, order)
}

// CancelOrder requests cancellation of a previously submitted order. Call
// from the execution goroutine only.
func (e *Engine) CancelOrder(ctx context.Context, order *types.Order) {
	e.broker.CancelOrder(ctx, order)
}

// Subscribe subscribes market data for the given order book ids.
func (e *Engine) Subscribe(ctx context.Context, orderBookIDs ...string) error {
	for _, id := range orderBookIDs {
		symbol, ok := e.correlator.ResolveSymbol(id)
		if !ok {
			return fmt.Errorf("no contract exists whose order_book_id is %s", id)
		}
		ins, _ := e.correlator.Instrument(id)
		req := &gateway.SubscribeRequest{Symbol: symbol}
		if ins != nil {
			req.Exchange = ins.Exchange
		}
		if err := e.gw.Subscribe(ctx, req); err != nil {
			return fmt.Errorf("subscribe %s: %w", id, err)
		}
	}
	return nil
}

// Broker exposes the order tracker for status and tests.
func (e *Engine) Broker() *broker.Broker {
	return e.broker
}

// Ledger exposes the reconstructed account; nil before Init.
func (e *Engine) Ledger() *account.Account {
	return e.ledger
}

// Stop shuts everything down in reverse order.
func (e *Engine) Stop() {
	log.Println("[Engine] Stopping...")
	if e.status != nil {
		if err := e.status.Stop(); err != nil {
			log.Printf("[Engine] %v", err)
		}
	}
	if err := e.gw.Close(); err != nil {
		log.Printf("[Engine] Gateway close: %v", err)
	}
	log.Println("[Engine] Stopped")
}
