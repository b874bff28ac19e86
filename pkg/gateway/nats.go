package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"golang.org/x/time/rate"

	"github.com/yourusername/ctp-bridge/pkg/config"
)

// NATS subjects of the counter process. Request/reply carries the order
// flow and startup queries; the counter publishes callbacks on rtn.* and
// ticks per symbol on md.tick.<symbol>.
const (
	subjOrderSend   = "ctp.trade.order.send"
	subjOrderCancel = "ctp.trade.order.cancel"
	subjSubscribe   = "ctp.md.subscribe"

	subjQryInstruments = "ctp.query.instruments"
	subjQryAccount     = "ctp.query.account"
	subjQryPositions   = "ctp.query.positions"
	subjQryOrders      = "ctp.query.orders"
	subjQryTrades      = "ctp.query.trades"

	subjRtnOrder = "ctp.rtn.order"
	subjRtnTrade = "ctp.rtn.trade"
	subjTicks    = "ctp.md.tick.>"
)

// NATSGateway talks to the counter over NATS. Callback handlers run on the
// NATS delivery goroutine; their only job is to decode, validate and hand
// off.
type NATSGateway struct {
	cfg       *config.GatewayConfig
	callbacks Callbacks

	nc      *nats.Conn
	subs    []*nats.Subscription
	limiter *rate.Limiter

	session  string // session identity, embedded in client references
	orderSeq atomic.Int64

	mu        sync.RWMutex
	connected bool
}

// NewNATSGateway creates a gateway; Connect must be called before use.
func NewNATSGateway(cfg *config.GatewayConfig, callbacks Callbacks) *NATSGateway {
	return &NATSGateway{
		cfg:       cfg,
		callbacks: callbacks,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RequestRate), cfg.RequestBurst),
		session:   uuid.NewString()[:8],
	}
}

// Connect dials the counter with bounded linear-backoff retry and installs
// the callback subscriptions.
func (g *NATSGateway) Connect(ctx context.Context) error {
	var nc *nats.Conn
	var err error
	for attempt := 1; attempt <= g.cfg.ConnectRetries; attempt++ {
		nc, err = nats.Connect(g.cfg.NATSAddr,
			nats.Name("ctp-bridge-"+g.session),
			nats.MaxReconnects(-1),
		)
		if err == nil {
			break
		}
		log.Printf("[Gateway] connect attempt %d/%d failed: %v", attempt, g.cfg.ConnectRetries, err)
		if attempt == g.cfg.ConnectRetries {
			return fmt.Errorf("failed to connect to counter at %s: %w", g.cfg.NATSAddr, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(g.cfg.ConnectInterval * time.Duration(attempt)):
		}
	}

	g.mu.Lock()
	g.nc = nc
	g.connected = true
	g.mu.Unlock()

	if err := g.subscribeCallbacks(); err != nil {
		g.Close()
		return err
	}

	log.Printf("[Gateway] connected to counter: %s (session %s)", g.cfg.NATSAddr, g.session)
	return nil
}

func (g *NATSGateway) subscribeCallbacks() error {
	type sub struct {
		subject string
		handler nats.MsgHandler
	}
	subs := []sub{
		{subjRtnOrder, func(msg *nats.Msg) {
			u, err := DecodeOrderUpdate(msg.Data)
			if err != nil {
				log.Printf("[Gateway] dropping order callback: %v", err)
				return
			}
			if g.callbacks.OnOrder != nil {
				g.callbacks.OnOrder(u)
			}
		}},
		{subjRtnTrade, func(msg *nats.Msg) {
			u, err := DecodeTradeUpdate(msg.Data)
			if err != nil {
				log.Printf("[Gateway] dropping trade callback: %v", err)
				return
			}
			if g.callbacks.OnTrade != nil {
				g.callbacks.OnTrade(u)
			}
		}},
		{subjTicks, func(msg *nats.Msg) {
			t, err := DecodeTick(msg.Data)
			if err != nil {
				log.Printf("[Gateway] dropping tick: %v", err)
				return
			}
			if g.callbacks.OnTick != nil {
				g.callbacks.OnTick(t)
			}
		}},
	}
	for _, s := range subs {
		natsSub, err := g.nc.Subscribe(s.subject, s.handler)
		if err != nil {
			return fmt.Errorf("failed to subscribe %s: %w", s.subject, err)
		}
		g.subs = append(g.subs, natsSub)
	}
	return nil
}

// Close unsubscribes and drops the connection.
func (g *NATSGateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.connected = false
	for _, sub := range g.subs {
		sub.Unsubscribe()
	}
	g.subs = nil
	if g.nc != nil {
		g.nc.Close()
		g.nc = nil
	}
	return nil
}

// request performs one paced request/reply round trip, decoding the reply
// envelope into out (out may be nil for ack-only calls).
func (g *NATSGateway) request(ctx context.Context, subject string, payload interface{}, out interface{}) error {
	g.mu.RLock()
	nc := g.nc
	connected := g.connected
	g.mu.RUnlock()
	if !connected || nc == nil {
		return ErrNotConnected
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", subject, err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, g.cfg.RequestTimeout)
	defer cancel()

	msg, err := nc.RequestWithContext(reqCtx, subject, data)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", subject, err)
	}

	var rep reply
	if err := json.Unmarshal(msg.Data, &rep); err != nil {
		return fmt.Errorf("%s reply malformed: %w", subject, err)
	}
	if !rep.Success {
		return fmt.Errorf("%s refused: %s", subject, rep.Error)
	}
	if out != nil {
		if err := json.Unmarshal(rep.Data, out); err != nil {
			return fmt.Errorf("%s reply payload malformed: %w", subject, err)
		}
	}
	return nil
}

// SendOrder submits an order and returns the gateway-assigned id. A
// missing reference gets a session-scoped one so callbacks can always be
// correlated to this process.
func (g *NATSGateway) SendOrder(ctx context.Context, req *OrderRequest) (string, error) {
	if req.Reference == "" {
		req.Reference = fmt.Sprintf("%s-%06d", g.session, g.orderSeq.Add(1))
	}
	var resp struct {
		GatewayOrderID string `json:"gateway_order_id"`
	}
	if err := g.request(ctx, subjOrderSend, req, &resp); err != nil {
		return "", err
	}
	if resp.GatewayOrderID == "" {
		return "", fmt.Errorf("counter accepted order without assigning an id")
	}
	return resp.GatewayOrderID, nil
}

// CancelOrder requests cancellation of a previously acknowledged order.
func (g *NATSGateway) CancelOrder(ctx context.Context, req *CancelRequest) error {
	return g.request(ctx, subjOrderCancel, req, nil)
}

// Subscribe subscribes market data for one instrument.
func (g *NATSGateway) Subscribe(ctx context.Context, req *SubscribeRequest) error {
	return g.request(ctx, subjSubscribe, req, nil)
}

type investorRef struct {
	UserID   string `json:"user_id"`
	BrokerID string `json:"broker_id"`
}

func (g *NATSGateway) investor() investorRef {
	return investorRef{UserID: g.cfg.UserID, BrokerID: g.cfg.BrokerID}
}

// QueryInstruments fetches the tradable contract list.
func (g *NATSGateway) QueryInstruments(ctx context.Context) ([]ContractRecord, error) {
	var out []ContractRecord
	if err := g.request(ctx, subjQryInstruments, g.investor(), &out); err != nil {
		return nil, err
	}
	valid := out[:0]
	for i := range out {
		if err := out[i].Validate(); err != nil {
			log.Printf("[Gateway] dropping contract record: %v", err)
			continue
		}
		valid = append(valid, out[i])
	}
	return valid, nil
}

// QueryAccount fetches the account equity baseline.
func (g *NATSGateway) QueryAccount(ctx context.Context) (*AccountRecord, error) {
	var out AccountRecord
	if err := g.request(ctx, subjQryAccount, g.investor(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// QueryPositions fetches raw position records.
func (g *NATSGateway) QueryPositions(ctx context.Context) ([]PositionRecord, error) {
	var out []PositionRecord
	if err := g.request(ctx, subjQryPositions, g.investor(), &out); err != nil {
		return nil, err
	}
	valid := out[:0]
	for i := range out {
		if err := out[i].Validate(); err != nil {
			log.Printf("[Gateway] dropping position record: %v", err)
			continue
		}
		valid = append(valid, out[i])
	}
	return valid, nil
}

// QueryOrders fetches today's order history, including still-working orders.
func (g *NATSGateway) QueryOrders(ctx context.Context) ([]OrderUpdate, error) {
	var out []OrderUpdate
	if err := g.request(ctx, subjQryOrders, g.investor(), &out); err != nil {
		return nil, err
	}
	valid := out[:0]
	for i := range out {
		if err := out[i].Validate(); err != nil {
			log.Printf("[Gateway] dropping historical order: %v", err)
			continue
		}
		valid = append(valid, out[i])
	}
	return valid, nil
}

// QueryTrades fetches today's trade history.
func (g *NATSGateway) QueryTrades(ctx context.Context) ([]TradeUpdate, error) {
	var out []TradeUpdate
	if err := g.request(ctx, subjQryTrades, g.investor(), &out); err != nil {
		return nil, err
	}
	valid := out[:0]
	for i := range out {
		if err := out[i].Validate(); err != nil {
			log.Printf("[Gateway] dropping historical trade: %v", err)
			continue
		}
		valid = append(valid, out[i])
	}
	return valid, nil
}

var _ Gateway = (*NATSGateway)(nil)
