package types

import (
	"fmt"
	"sync/atomic"
	"time"
)

var orderIDSeq atomic.Int64

// NextOrderID returns a process-lifetime-unique, monotonic local order id.
func NextOrderID() int64 {
	return orderIDSeq.Add(1)
}

// Order is a single order tracked through its full lifecycle. The broker
// owns the record until it reaches a final status, after which it is handed
// to the execution environment's ledger for audit.
type Order struct {
	OrderID        int64
	GatewayOrderID string // assigned asynchronously on first ack, empty before
	OrderBookID    string
	Side           Side
	PositionEffect PositionEffect
	Type           OrderType
	Price          float64
	Quantity       int64
	FilledQuantity int64
	AvgFillPrice   float64
	Status         OrderStatus
	Message        string
	CalendarTime   time.Time
	TradingTime    time.Time
}

// NewOrder creates a PENDING_NEW order with a fresh local id.
func NewOrder(orderBookID string, side Side, effect PositionEffect, typ OrderType, price float64, quantity int64, now time.Time) *Order {
	return &Order{
		OrderID:        NextOrderID(),
		OrderBookID:    orderBookID,
		Side:           side,
		PositionEffect: effect,
		Type:           typ,
		Price:          price,
		Quantity:       quantity,
		Status:         StatusPendingNew,
		CalendarTime:   now,
		TradingTime:    MakeTradingTime(now),
	}
}

// UnfilledQuantity returns the quantity still working.
func (o *Order) UnfilledQuantity() int64 {
	return o.Quantity - o.FilledQuantity
}

// IsFinal reports whether the order reached a terminal status.
func (o *Order) IsFinal() bool {
	return o.Status.IsFinal()
}

// Activate moves PENDING_NEW -> ACTIVE on first gateway acknowledgement.
// A no-op in any other state.
func (o *Order) Activate() {
	if o.Status == StatusPendingNew {
		o.Status = StatusActive
	}
}

// MarkPendingCancel records a locally-requested cancellation. Final orders
// and orders already pending cancel are left untouched.
func (o *Order) MarkPendingCancel() {
	if !o.IsFinal() {
		o.Status = StatusPendingCancel
	}
}

// MarkCancelled moves the order to CANCELLED unless already final.
func (o *Order) MarkCancelled(message string) {
	if !o.IsFinal() {
		o.Status = StatusCancelled
		o.Message = message
	}
}

// MarkRejected moves the order to REJECTED unless already final.
func (o *Order) MarkRejected(message string) {
	if !o.IsFinal() {
		o.Status = StatusRejected
		o.Message = message
	}
}

// Fill accumulates a trade into the order. Filled quantity is monotonic and
// never exceeds the requested quantity; an overfill is surfaced as an error
// and the excess discarded. Reaching the requested quantity makes the order
// FILLED.
func (o *Order) Fill(price float64, quantity int64) error {
	if o.IsFinal() && o.Status != StatusFilled {
		return fmt.Errorf("order %d: fill on %s order", o.OrderID, o.Status)
	}
	remaining := o.Quantity - o.FilledQuantity
	var err error
	if quantity > remaining {
		err = fmt.Errorf("order %d: fill qty %d exceeds remaining %d", o.OrderID, quantity, remaining)
		quantity = remaining
	}
	if quantity > 0 {
		filled := o.FilledQuantity + quantity
		o.AvgFillPrice = (o.AvgFillPrice*float64(o.FilledQuantity) + price*float64(quantity)) / float64(filled)
		o.FilledQuantity = filled
	}
	if o.FilledQuantity >= o.Quantity {
		o.Status = StatusFilled
	}
	return err
}
