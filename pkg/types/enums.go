// Package types defines the domain model shared by the bridge: orders,
// trades, instruments and the enum spaces on both sides of the gateway
// boundary.
package types

// Side 买卖方向
type Side int32

const (
	SideBuy  Side = 1 // BUY
	SideSell Side = 2 // SELL
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "BUY"
	case SideSell:
		return "SELL"
	}
	return "UNKNOWN"
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// PositionEffect 开平标志
// CloseToday only exists on exchanges that settle today/yesterday lots
// separately (SHFE/INE); elsewhere it collapses into Close.
type PositionEffect int32

const (
	EffectOpen       PositionEffect = 0 // OPEN
	EffectClose      PositionEffect = 1 // CLOSE
	EffectCloseToday PositionEffect = 2 // CLOSE_TODAY
)

func (e PositionEffect) String() string {
	switch e {
	case EffectOpen:
		return "OPEN"
	case EffectClose:
		return "CLOSE"
	case EffectCloseToday:
		return "CLOSE_TODAY"
	}
	return "UNKNOWN"
}

// IsClose reports whether the effect closes an existing position.
func (e PositionEffect) IsClose() bool {
	return e == EffectClose || e == EffectCloseToday
}

// OrderType 订单类型
type OrderType int32

const (
	TypeLimit  OrderType = 0 // LIMIT
	TypeMarket OrderType = 1 // MARKET
)

func (t OrderType) String() string {
	switch t {
	case TypeLimit:
		return "LIMIT"
	case TypeMarket:
		return "MARKET"
	}
	return "UNKNOWN"
}

// OrderStatus is the local order state machine:
//
//	PENDING_NEW -> ACTIVE -> {FILLED, CANCELLED, REJECTED}
//	ACTIVE -> PENDING_CANCEL -> CANCELLED
//
// Transitions are monotonic; a final status never re-enters a non-final one.
type OrderStatus int32

const (
	StatusPendingNew    OrderStatus = 0 // PENDING_NEW
	StatusActive        OrderStatus = 1 // ACTIVE
	StatusPendingCancel OrderStatus = 2 // PENDING_CANCEL
	StatusFilled        OrderStatus = 3 // FILLED
	StatusCancelled     OrderStatus = 4 // CANCELLED
	StatusRejected      OrderStatus = 5 // REJECTED
)

func (s OrderStatus) String() string {
	switch s {
	case StatusPendingNew:
		return "PENDING_NEW"
	case StatusActive:
		return "ACTIVE"
	case StatusPendingCancel:
		return "PENDING_CANCEL"
	case StatusFilled:
		return "FILLED"
	case StatusCancelled:
		return "CANCELLED"
	case StatusRejected:
		return "REJECTED"
	}
	return "UNKNOWN"
}

// IsFinal reports whether the status is terminal.
func (s OrderStatus) IsFinal() bool {
	return s == StatusFilled || s == StatusCancelled || s == StatusRejected
}

// GatewayOrderStatus is the status space of counter order callbacks.
// 对应 CTP 报单状态回报
type GatewayOrderStatus int32

const (
	GatewaySubmitting GatewayOrderStatus = 0 // 提交中, not yet accepted by the exchange
	GatewayNotTraded  GatewayOrderStatus = 1 // 未成交
	GatewayPartTraded GatewayOrderStatus = 2 // 部分成交
	GatewayAllTraded  GatewayOrderStatus = 3 // 全部成交
	GatewayCancelled  GatewayOrderStatus = 4 // 已撤销
	GatewayRejected   GatewayOrderStatus = 5 // 已拒绝
	GatewayUnknown    GatewayOrderStatus = 6
)

func (s GatewayOrderStatus) String() string {
	switch s {
	case GatewaySubmitting:
		return "SUBMITTING"
	case GatewayNotTraded:
		return "NOT_TRADED"
	case GatewayPartTraded:
		return "PART_TRADED"
	case GatewayAllTraded:
		return "ALL_TRADED"
	case GatewayCancelled:
		return "CANCELLED"
	case GatewayRejected:
		return "REJECTED"
	}
	return "UNKNOWN"
}

// Working reports whether the callback status still occupies the book.
func (s GatewayOrderStatus) Working() bool {
	return s == GatewayNotTraded || s == GatewayPartTraded
}
