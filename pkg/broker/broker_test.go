package broker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/yourusername/ctp-bridge/pkg/event"
	"github.com/yourusername/ctp-bridge/pkg/gateway"
	"github.com/yourusername/ctp-bridge/pkg/types"
)

// fakeGateway implements gateway.Gateway for tests.
type fakeGateway struct {
	nextID    int
	sendErr   error
	cancelErr error
	sent      []*gateway.OrderRequest
	cancels   []*gateway.CancelRequest
}

func (f *fakeGateway) Connect(ctx context.Context) error { return nil }
func (f *fakeGateway) Close() error                      { return nil }

func (f *fakeGateway) SendOrder(ctx context.Context, req *gateway.OrderRequest) (string, error) {
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sent = append(f.sent, req)
	f.nextID++
	return "CTP." + string(rune('0'+f.nextID)), nil
}

func (f *fakeGateway) CancelOrder(ctx context.Context, req *gateway.CancelRequest) error {
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.cancels = append(f.cancels, req)
	return nil
}

func (f *fakeGateway) Subscribe(ctx context.Context, req *gateway.SubscribeRequest) error { return nil }
func (f *fakeGateway) QueryInstruments(ctx context.Context) ([]gateway.ContractRecord, error) {
	return nil, nil
}
func (f *fakeGateway) QueryAccount(ctx context.Context) (*gateway.AccountRecord, error) {
	return nil, nil
}
func (f *fakeGateway) QueryPositions(ctx context.Context) ([]gateway.PositionRecord, error) {
	return nil, nil
}
func (f *fakeGateway) QueryOrders(ctx context.Context) ([]gateway.OrderUpdate, error) {
	return nil, nil
}
func (f *fakeGateway) QueryTrades(ctx context.Context) ([]gateway.TradeUpdate, error) {
	return nil, nil
}

type recorder struct {
	events []event.Event
}

func (r *recorder) record(e event.Event) { r.events = append(r.events, e) }

func (r *recorder) types() []event.Type {
	out := make([]event.Type, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func newTestBroker(t *testing.T) (*Broker, *fakeGateway, *recorder) {
	t.Helper()
	gw := &fakeGateway{}
	bus := event.NewBus()
	rec := &recorder{}
	for _, typ := range []event.Type{
		event.OrderPendingNew, event.OrderCreationPass, event.OrderCreationReject,
		event.OrderPendingCancel, event.OrderCancellationPass, event.OrderCancellationReject,
		event.OrderUnsolicitedUpdate, event.TradeEvent,
	} {
		bus.Subscribe(typ, rec.record)
	}
	correlator := NewCorrelator()
	correlator.RegisterInstrument(&types.Instrument{
		OrderBookID:     "RB1910",
		Symbol:          "rb1910",
		Exchange:        types.ExchangeSHFE,
		Multiplier:      10,
		LongMarginRatio: 0.1,
	})
	b := New(gw, bus, correlator)
	b.MarkInited()
	return b, gw, rec
}

func submitOrder(t *testing.T, b *Broker, qty int64) *types.Order {
	t.Helper()
	o := types.NewOrder("RB1910", types.SideBuy, types.EffectOpen, types.TypeLimit, 3800, qty, time.Now())
	b.SubmitOrder(context.Background(), o)
	return o
}

func update(o *types.Order, status types.GatewayOrderStatus, traded int64) *gateway.OrderUpdate {
	return &gateway.OrderUpdate{
		GatewayOrderID: o.GatewayOrderID,
		Symbol:         "rb1910",
		Exchange:       types.ExchangeSHFE,
		Side:           o.Side,
		Offset:         o.PositionEffect,
		Status:         status,
		Price:          o.Price,
		TotalVolume:    o.Quantity,
		TradedVolume:   traded,
		OrderTime:      time.Now(),
		FrontID:        2,
		SessionID:      711,
	}
}

func tradeOf(o *types.Order, tradeID string, price float64, qty int64) *gateway.TradeUpdate {
	return &gateway.TradeUpdate{
		GatewayOrderID: o.GatewayOrderID,
		TradeID:        tradeID,
		Symbol:         "rb1910",
		Exchange:       types.ExchangeSHFE,
		Side:           o.Side,
		Offset:         o.PositionEffect,
		Price:          price,
		Volume:         qty,
		TradeTime:      time.Now(),
	}
}

func TestSubmitOrderHappyPath(t *testing.T) {
	b, gw, rec := newTestBroker(t)
	o := submitOrder(t, b, 10)

	if got := rec.types(); len(got) != 1 || got[0] != event.OrderPendingNew {
		t.Fatalf("events = %v, want [ORDER_PENDING_NEW]", got)
	}
	if o.GatewayOrderID == "" {
		t.Fatal("gateway id not assigned")
	}
	if gw.sent[0].Symbol != "rb1910" || gw.sent[0].Exchange != types.ExchangeSHFE {
		t.Errorf("request not translated: %+v", gw.sent[0])
	}
	if len(b.OpenOrders("")) != 1 {
		t.Errorf("open orders = %d, want 1", len(b.OpenOrders("")))
	}
	if id, ok := b.Correlator().ResolveGatewayID(o.OrderID); !ok || id != o.GatewayOrderID {
		t.Errorf("mapping not registered: %q %v", id, ok)
	}
}

func TestSubmitUnknownInstrumentRejectsLocally(t *testing.T) {
	b, gw, rec := newTestBroker(t)
	o := types.NewOrder("XX9999", types.SideBuy, types.EffectOpen, types.TypeLimit, 1, 1, time.Now())
	b.SubmitOrder(context.Background(), o)

	want := []event.Type{event.OrderPendingNew, event.OrderCreationReject}
	if got := rec.types(); len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("events = %v, want %v", got, want)
	}
	if o.Status != types.StatusRejected {
		t.Errorf("status = %s, want REJECTED", o.Status)
	}
	if len(gw.sent) != 0 {
		t.Error("request sent despite unresolvable instrument")
	}
}

func TestSubmitGatewayRefusal(t *testing.T) {
	b, gw, rec := newTestBroker(t)
	gw.sendErr = errors.New("front not connected")
	o := submitOrder(t, b, 10)

	if o.Status != types.StatusRejected {
		t.Errorf("status = %s, want REJECTED", o.Status)
	}
	if got := rec.types(); got[len(got)-1] != event.OrderCreationReject {
		t.Errorf("events = %v", got)
	}
}

func TestAckActivatesOnce(t *testing.T) {
	b, _, rec := newTestBroker(t)
	o := submitOrder(t, b, 10)
	rec.events = nil

	b.OnOrderUpdate(update(o, types.GatewayNotTraded, 0))
	if o.Status != types.StatusActive {
		t.Fatalf("status = %s, want ACTIVE", o.Status)
	}
	if got := rec.types(); len(got) != 1 || got[0] != event.OrderCreationPass {
		t.Fatalf("events = %v, want [ORDER_CREATION_PASS]", got)
	}

	// exact duplicate is a no-op
	b.OnOrderUpdate(update(o, types.GatewayNotTraded, 0))
	if got := rec.types(); len(got) != 1 {
		t.Errorf("duplicate ack re-published: %v", got)
	}
}

func TestSubmittingStatusIgnored(t *testing.T) {
	b, _, rec := newTestBroker(t)
	o := submitOrder(t, b, 10)
	rec.events = nil

	b.OnOrderUpdate(update(o, types.GatewaySubmitting, 0))
	if len(rec.events) != 0 || o.Status != types.StatusPendingNew {
		t.Errorf("submitting status not ignored: %v %s", rec.types(), o.Status)
	}
}

func TestRejectionAfterAcceptance(t *testing.T) {
	b, _, rec := newTestBroker(t)
	o := submitOrder(t, b, 10)
	b.OnOrderUpdate(update(o, types.GatewayNotTraded, 0))
	rec.events = nil

	b.OnOrderUpdate(update(o, types.GatewayRejected, 0))
	if got := rec.types(); len(got) != 1 || got[0] != event.OrderUnsolicitedUpdate {
		t.Fatalf("events = %v, want [ORDER_UNSOLICITED_UPDATE]", got)
	}
	if o.Status != types.StatusRejected {
		t.Errorf("status = %s", o.Status)
	}
	if len(b.OpenOrders("")) != 0 {
		t.Error("rejected order still in working set")
	}
}

func TestSolicitedVsUnsolicitedCancellation(t *testing.T) {
	// unsolicited: ACTIVE order cancelled by the exchange
	b, _, rec := newTestBroker(t)
	o := submitOrder(t, b, 10)
	b.OnOrderUpdate(update(o, types.GatewayNotTraded, 0))
	rec.events = nil
	b.OnOrderUpdate(update(o, types.GatewayCancelled, 0))
	if got := rec.types(); len(got) != 1 || got[0] != event.OrderUnsolicitedUpdate {
		t.Fatalf("unsolicited cancel events = %v, want [ORDER_UNSOLICITED_UPDATE]", got)
	}

	// solicited: PENDING_CANCEL order cancelled on request
	b2, _, rec2 := newTestBroker(t)
	o2 := submitOrder(t, b2, 10)
	b2.OnOrderUpdate(update(o2, types.GatewayNotTraded, 0))
	b2.CancelOrder(context.Background(), o2)
	rec2.events = nil
	b2.OnOrderUpdate(update(o2, types.GatewayCancelled, 0))
	if got := rec2.types(); len(got) != 1 || got[0] != event.OrderCancellationPass {
		t.Fatalf("solicited cancel events = %v, want [ORDER_CANCELLATION_PASS]", got)
	}
	if o2.Status != types.StatusCancelled {
		t.Errorf("status = %s", o2.Status)
	}
}

func TestCancelBeforeAckRejectedLocally(t *testing.T) {
	b, gw, rec := newTestBroker(t)
	gw.sendErr = nil
	o := types.NewOrder("RB1910", types.SideBuy, types.EffectOpen, types.TypeLimit, 3800, 10, time.Now())
	// never submitted -> no gateway id
	b.CancelOrder(context.Background(), o)
	if got := rec.types(); len(got) != 1 || got[0] != event.OrderCancellationReject {
		t.Fatalf("events = %v, want [ORDER_CANCELLATION_REJECT]", got)
	}
	if len(gw.cancels) != 0 {
		t.Error("malformed cancel sent to gateway")
	}
}

func TestCancelCarriesFrontSession(t *testing.T) {
	b, gw, _ := newTestBroker(t)
	o := submitOrder(t, b, 10)
	b.OnOrderUpdate(update(o, types.GatewayNotTraded, 0))
	b.CancelOrder(context.Background(), o)
	if len(gw.cancels) != 1 {
		t.Fatal("cancel not sent")
	}
	if gw.cancels[0].FrontID != 2 || gw.cancels[0].SessionID != 711 {
		t.Errorf("front/session not carried: %+v", gw.cancels[0])
	}
}

func TestFillLifecycleEndToEnd(t *testing.T) {
	b, _, rec := newTestBroker(t)
	o := submitOrder(t, b, 10)
	b.OnOrderUpdate(update(o, types.GatewayNotTraded, 0))
	rec.events = nil

	b.OnTrade(tradeOf(o, "T1", 3800, 4))
	if o.FilledQuantity != 4 {
		t.Fatalf("filled = %d, want 4", o.FilledQuantity)
	}
	b.OnTrade(tradeOf(o, "T2", 3810, 6))
	if o.FilledQuantity != 10 || o.Status != types.StatusFilled {
		t.Fatalf("filled = %d status = %s", o.FilledQuantity, o.Status)
	}

	got := rec.types()
	if len(got) != 2 || got[0] != event.TradeEvent || got[1] != event.TradeEvent {
		t.Fatalf("events = %v, want two TRADE", got)
	}
	if len(b.OpenOrders("")) != 0 {
		t.Error("filled order still in working set")
	}
	if _, ok := b.Correlator().ResolveGatewayID(o.OrderID); ok {
		t.Error("id mapping survived terminal state")
	}
	// trade payloads
	if rec.events[0].Trade.Quantity != 4 || rec.events[1].Trade.Quantity != 6 {
		t.Errorf("trade quantities wrong: %+v %+v", rec.events[0].Trade, rec.events[1].Trade)
	}
}

func TestDuplicateTradeIgnored(t *testing.T) {
	b, _, rec := newTestBroker(t)
	o := submitOrder(t, b, 10)
	b.OnOrderUpdate(update(o, types.GatewayNotTraded, 0))
	rec.events = nil

	tr := tradeOf(o, "T1", 3800, 4)
	b.OnTrade(tr)
	b.OnTrade(tr)
	if o.FilledQuantity != 4 {
		t.Errorf("filled = %d, duplicate counted", o.FilledQuantity)
	}
	if got := rec.types(); len(got) != 1 {
		t.Errorf("events = %v, duplicate published", got)
	}
}

func TestTradeBeforeOrderSynthesizes(t *testing.T) {
	b, _, rec := newTestBroker(t)
	tr := &gateway.TradeUpdate{
		GatewayOrderID: "CTP.999",
		TradeID:        "T9",
		Symbol:         "rb1910",
		Exchange:       types.ExchangeSHFE,
		Side:           types.SideSell,
		Offset:         types.EffectCloseToday,
		Price:          3790,
		Volume:         2,
		TradeTime:      time.Now(),
	}
	b.OnTrade(tr)

	if got := rec.types(); len(got) != 1 || got[0] != event.TradeEvent {
		t.Fatalf("events = %v, want [TRADE]", got)
	}
	e := rec.events[0]
	if e.Order == nil || e.Order.OrderBookID != "RB1910" {
		t.Fatalf("synthesized order missing or wrong: %+v", e.Order)
	}
	if e.Order.Status != types.StatusFilled || e.Order.FilledQuantity != 2 {
		t.Errorf("synthesized order state: %+v", e.Order)
	}
	if e.Trade.PositionEffect != types.EffectCloseToday {
		t.Errorf("position effect = %s", e.Trade.PositionEffect)
	}
}

func TestCallbacksBufferedBeforeInit(t *testing.T) {
	gw := &fakeGateway{}
	bus := event.NewBus()
	rec := &recorder{}
	bus.Subscribe(event.TradeEvent, rec.record)
	b := New(gw, bus, NewCorrelator())

	b.OnOrderUpdate(&gateway.OrderUpdate{GatewayOrderID: "CTP.1", Symbol: "rb1910", Side: types.SideBuy, Status: types.GatewayNotTraded, TotalVolume: 1})
	b.OnTrade(&gateway.TradeUpdate{GatewayOrderID: "CTP.1", TradeID: "T1", Symbol: "rb1910", Side: types.SideBuy, Price: 1, Volume: 1})
	if len(rec.events) != 0 {
		t.Fatal("events published before init")
	}

	orders, trades := b.MarkInited()
	if len(orders) != 1 || len(trades) != 1 {
		t.Errorf("buffered %d orders %d trades, want 1 each", len(orders), len(trades))
	}
}

// The status API walks the working set from its own goroutine while fill
// callbacks mutate the same orders. OpenOrders hands out value copies, so
// every snapshot must be internally consistent and the race detector must
// stay quiet.
func TestOpenOrdersSnapshotDuringFills(t *testing.T) {
	b, _, _ := newTestBroker(t)
	o := submitOrder(t, b, 1000)
	b.OnOrderUpdate(update(o, types.GatewayNotTraded, 0))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			for _, snap := range b.OpenOrders("") {
				if snap.FilledQuantity > snap.Quantity {
					t.Errorf("snapshot filled %d exceeds quantity %d", snap.FilledQuantity, snap.Quantity)
					return
				}
			}
		}
	}()

	for i := 0; i < 999; i++ {
		b.OnTrade(tradeOf(o, fmt.Sprintf("T%04d", i), 3800, 1))
	}
	<-done

	if o.FilledQuantity != 999 {
		t.Errorf("filled = %d, want 999", o.FilledQuantity)
	}
	if len(b.OpenOrders("")) != 1 {
		t.Errorf("order evicted before its final fill")
	}
}
