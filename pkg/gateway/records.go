package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/yourusername/ctp-bridge/pkg/types"
)

// Callback records. The counter process sends loosely-structured JSON; all
// of it is decoded and validated here at the boundary so nothing downstream
// ever sees a half-formed payload.

// OrderUpdate is an order status callback (报单回报).
type OrderUpdate struct {
	GatewayOrderID string                   `json:"gateway_order_id"`
	Symbol         string                   `json:"symbol"`
	Exchange       string                   `json:"exchange"`
	Side           types.Side               `json:"side"`
	Offset         types.PositionEffect     `json:"offset"`
	Status         types.GatewayOrderStatus `json:"status"`
	Price          float64                  `json:"price"`
	TotalVolume    int64                    `json:"total_volume"`
	TradedVolume   int64                    `json:"traded_volume"`
	OrderTime      time.Time                `json:"order_time"`
	CancelTime     time.Time                `json:"cancel_time,omitempty"`
	FrontID        int64                    `json:"front_id"`
	SessionID      int64                    `json:"session_id"`
	StatusMessage  string                   `json:"status_message,omitempty"`
}

// Validate rejects payloads the reconciliation core cannot act on.
func (u *OrderUpdate) Validate() error {
	if u.GatewayOrderID == "" {
		return fmt.Errorf("order update: missing gateway_order_id")
	}
	if u.Symbol == "" {
		return fmt.Errorf("order update %s: missing symbol", u.GatewayOrderID)
	}
	if u.Side != types.SideBuy && u.Side != types.SideSell {
		return fmt.Errorf("order update %s: bad side %d", u.GatewayOrderID, u.Side)
	}
	if u.TotalVolume <= 0 {
		return fmt.Errorf("order update %s: bad total volume %d", u.GatewayOrderID, u.TotalVolume)
	}
	if u.TradedVolume < 0 || u.TradedVolume > u.TotalVolume {
		return fmt.Errorf("order update %s: traded %d outside [0, %d]", u.GatewayOrderID, u.TradedVolume, u.TotalVolume)
	}
	return nil
}

// TradeUpdate is a fill callback (成交回报).
type TradeUpdate struct {
	GatewayOrderID string               `json:"gateway_order_id"`
	TradeID        string               `json:"trade_id"`
	Symbol         string               `json:"symbol"`
	Exchange       string               `json:"exchange"`
	Side           types.Side           `json:"side"`
	Offset         types.PositionEffect `json:"offset"`
	Price          float64              `json:"price"`
	Volume         int64                `json:"volume"`
	TradeTime      time.Time            `json:"trade_time"`
}

func (u *TradeUpdate) Validate() error {
	if u.TradeID == "" {
		return fmt.Errorf("trade update: missing trade_id")
	}
	if u.GatewayOrderID == "" {
		return fmt.Errorf("trade %s: missing gateway_order_id", u.TradeID)
	}
	if u.Symbol == "" {
		return fmt.Errorf("trade %s: missing symbol", u.TradeID)
	}
	if u.Side != types.SideBuy && u.Side != types.SideSell {
		return fmt.Errorf("trade %s: bad side %d", u.TradeID, u.Side)
	}
	if u.Volume <= 0 {
		return fmt.Errorf("trade %s: bad volume %d", u.TradeID, u.Volume)
	}
	if u.Price <= 0 {
		return fmt.Errorf("trade %s: bad price %f", u.TradeID, u.Price)
	}
	return nil
}

// PositionRecord is one row of the position query, one per
// instrument x direction; the counter may deliver several partial rows for
// the same key and they accumulate.
type PositionRecord struct {
	Symbol             string     `json:"symbol"`
	Exchange           string     `json:"exchange"`
	Direction          types.Side `json:"direction"` // buy = long, sell = short
	Position           int64      `json:"position"`
	YdPosition         int64      `json:"yd_position"`
	TodayPosition      int64      `json:"today_position"`
	OpenCost           float64    `json:"open_cost"`
	PositionCost       float64    `json:"position_cost"`
	CloseProfit        float64    `json:"close_profit"`
	PositionProfit     float64    `json:"position_profit"`
	Commission         float64    `json:"commission"`
	Margin             float64    `json:"margin"`
	PreSettlementPrice float64    `json:"pre_settlement_price"`
}

func (r *PositionRecord) Validate() error {
	if r.Symbol == "" {
		return fmt.Errorf("position record: missing symbol")
	}
	if r.Direction != types.SideBuy && r.Direction != types.SideSell {
		return fmt.Errorf("position record %s: bad direction %d", r.Symbol, r.Direction)
	}
	if r.Position < 0 {
		return fmt.Errorf("position record %s: negative position %d", r.Symbol, r.Position)
	}
	return nil
}

// AccountRecord is the account equity query result.
type AccountRecord struct {
	PrevBalance float64 `json:"prev_balance"` // 昨结算权益
	Balance     float64 `json:"balance"`
	Available   float64 `json:"available"`
	CurrMargin  float64 `json:"curr_margin"`
}

// ContractRecord is instrument metadata from the contract query.
type ContractRecord struct {
	Symbol           string  `json:"symbol"`
	Exchange         string  `json:"exchange"`
	Name             string  `json:"name"`
	Multiplier       float64 `json:"multiplier"`
	PriceTick        float64 `json:"price_tick"`
	LongMarginRatio  float64 `json:"long_margin_ratio"`
	ShortMarginRatio float64 `json:"short_margin_ratio"`
	OpenDate         string  `json:"open_date"`
	ExpireDate       string  `json:"expire_date"`
}

func (r *ContractRecord) Validate() error {
	if r.Symbol == "" {
		return fmt.Errorf("contract record: missing symbol")
	}
	if r.Multiplier <= 0 {
		return fmt.Errorf("contract record %s: bad multiplier %f", r.Symbol, r.Multiplier)
	}
	return nil
}

// Instrument converts the record to the domain instrument.
func (r *ContractRecord) Instrument() *types.Instrument {
	return &types.Instrument{
		OrderBookID:      types.MakeOrderBookID(r.Symbol),
		Symbol:           r.Symbol,
		Exchange:         r.Exchange,
		Name:             r.Name,
		Multiplier:       r.Multiplier,
		PriceTick:        r.PriceTick,
		LongMarginRatio:  r.LongMarginRatio,
		ShortMarginRatio: r.ShortMarginRatio,
		OpenDate:         r.OpenDate,
		ExpireDate:       r.ExpireDate,
	}
}

// TickRecord is a minimal market data snapshot. Full depth normalization is
// the market-data path's concern, not the reconciliation core's.
type TickRecord struct {
	Symbol    string    `json:"symbol"`
	Exchange  string    `json:"exchange"`
	LastPrice float64   `json:"last_price"`
	BidPrice  float64   `json:"bid_price"`
	BidVolume int64     `json:"bid_volume"`
	AskPrice  float64   `json:"ask_price"`
	AskVolume int64     `json:"ask_volume"`
	Volume    int64     `json:"volume"`
	Time      time.Time `json:"time"`
}

func (r *TickRecord) Validate() error {
	if r.Symbol == "" {
		return fmt.Errorf("tick: missing symbol")
	}
	return nil
}

// Outbound requests.

// OrderRequest is a submit-order request to the counter.
type OrderRequest struct {
	Symbol    string               `json:"symbol"`
	Exchange  string               `json:"exchange"`
	Side      types.Side           `json:"side"`
	Offset    types.PositionEffect `json:"offset"`
	Type      types.OrderType      `json:"type"`
	Price     float64              `json:"price"`
	Volume    int64                `json:"volume"`
	Reference string               `json:"reference"` // client order reference
}

// CancelRequest is a cancel-order request. Front/session identifiers come
// from the acknowledged order; the counter needs them to route the action.
type CancelRequest struct {
	GatewayOrderID string `json:"gateway_order_id"`
	Symbol         string `json:"symbol"`
	Exchange       string `json:"exchange"`
	FrontID        int64  `json:"front_id"`
	SessionID      int64  `json:"session_id"`
}

// SubscribeRequest subscribes to market data for one instrument.
type SubscribeRequest struct {
	Symbol   string `json:"symbol"`
	Exchange string `json:"exchange"`
}

// reply is the request/reply envelope used on every RPC subject.
type reply struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// decodeValidated unmarshals a callback payload and runs its validator.
func decodeValidated[T interface{ Validate() error }](data []byte, out T) error {
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("malformed payload: %w", err)
	}
	return out.Validate()
}

// DecodeOrderUpdate parses and validates an order callback payload.
func DecodeOrderUpdate(data []byte) (*OrderUpdate, error) {
	u := &OrderUpdate{}
	if err := decodeValidated(data, u); err != nil {
		return nil, err
	}
	return u, nil
}

// DecodeTradeUpdate parses and validates a trade callback payload.
func DecodeTradeUpdate(data []byte) (*TradeUpdate, error) {
	u := &TradeUpdate{}
	if err := decodeValidated(data, u); err != nil {
		return nil, err
	}
	return u, nil
}

// DecodeTick parses and validates a tick payload.
func DecodeTick(data []byte) (*TickRecord, error) {
	r := &TickRecord{}
	if err := decodeValidated(data, r); err != nil {
		return nil, err
	}
	return r, nil
}
