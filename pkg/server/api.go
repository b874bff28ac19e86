// Package server exposes the read-only status API: a handful of HTTP
// endpoints over the ledger and the open-order set, plus a websocket that
// streams order lifecycle events. Nothing in here mutates trading state.
package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/websocket"

	"github.com/yourusername/ctp-bridge/pkg/account"
	"github.com/yourusername/ctp-bridge/pkg/broker"
	"github.com/yourusername/ctp-bridge/pkg/config"
	"github.com/yourusername/ctp-bridge/pkg/types"
)

// Server provides the HTTP status API for the bridge process.
type Server struct {
	broker *broker.Broker
	ledger *account.Account
	mode   string

	hub    *Hub
	server *http.Server

	mu      sync.RWMutex
	running bool
	started time.Time
}

// APIResponse is the standard API response format
type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// OrderDetail is the wire form of one working order.
type OrderDetail struct {
	OrderID        int64   `json:"order_id"`
	GatewayOrderID string  `json:"gateway_order_id"`
	OrderBookID    string  `json:"order_book_id"`
	Side           string  `json:"side"`
	PositionEffect string  `json:"position_effect"`
	Status         string  `json:"status"`
	Price          float64 `json:"price"`
	Quantity       int64   `json:"quantity"`
	FilledQty      int64   `json:"filled_qty"`
	AvgFillPrice   float64 `json:"avg_fill_price"`
	CreateTime     string  `json:"create_time"`
	Message        string  `json:"message,omitempty"`
}

// AccountDetail is the wire form of the ledger summary.
type AccountDetail struct {
	PrevBalance     float64 `json:"prev_balance"`
	TotalCash       float64 `json:"total_cash"`
	Available       float64 `json:"available"`
	FrozenMargin    float64 `json:"frozen_margin"`
	Margin          float64 `json:"margin"`
	RealizedPnL     float64 `json:"realized_pnl"`
	HoldingPnL      float64 `json:"holding_pnl"`
	TransactionCost float64 `json:"transaction_cost"`
}

// NewServer creates the status API server.
func NewServer(cfg *config.APIConfig, brk *broker.Broker, ledger *account.Account, mode string) *Server {
	s := &Server{
		broker: brk,
		ledger: ledger,
		mode:   mode,
		hub:    NewHub(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/orders", s.handleOrders)
	mux.HandleFunc("/positions", s.handlePositions)
	mux.HandleFunc("/account", s.handleAccount)
	mux.Handle("/ws", websocket.Handler(s.hub.HandleWebSocket))

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s
}

// Hub exposes the websocket hub so the engine can wire it to the event bus.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start starts the HTTP server and websocket hub.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("status server already running")
	}
	s.running = true
	s.started = time.Now()
	s.mu.Unlock()

	s.hub.Start()

	log.Printf("[API] Starting status server on %s", s.server.Addr)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[API] Error starting server: %v", err)
		}
	}()
	return nil
}

// Stop stops the HTTP server and websocket hub.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.hub.Stop()
	if err := s.server.Close(); err != nil {
		return fmt.Errorf("failed to stop status server: %w", err)
	}
	log.Println("[API] Status server stopped")
	return nil
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.mu.RLock()
	uptime := time.Since(s.started).Round(time.Second).String()
	s.mu.RUnlock()

	s.sendSuccess(w, "Healthy", map[string]interface{}{
		"status": "ok",
		"mode":   s.mode,
		"uptime": uptime,
	})
}

// handleOrders handles GET /orders — the working set only.
func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	orderBookID := r.URL.Query().Get("order_book_id")

	open := s.broker.OpenOrders(orderBookID)
	details := make([]*OrderDetail, 0, len(open))
	for i := range open {
		details = append(details, orderDetail(&open[i]))
	}
	s.sendSuccess(w, "Open orders retrieved", details)
}

// handlePositions handles GET /positions
func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.sendSuccess(w, "Positions retrieved", s.ledger.Positions())
}

// handleAccount handles GET /account
func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	detail := &AccountDetail{
		PrevBalance:     s.ledger.PrevBalance(),
		TotalCash:       s.ledger.TotalCash(),
		Available:       s.ledger.Available(),
		FrozenMargin:    s.ledger.FrozenMargin(),
		Margin:          s.ledger.Margin(),
		RealizedPnL:     s.ledger.RealizedPnl(),
		HoldingPnL:      s.ledger.HoldingPnl(),
		TransactionCost: s.ledger.TransactionCost(),
	}
	s.sendSuccess(w, "Account retrieved", detail)
}

func orderDetail(o *types.Order) *OrderDetail {
	return &OrderDetail{
		OrderID:        o.OrderID,
		GatewayOrderID: o.GatewayOrderID,
		OrderBookID:    o.OrderBookID,
		Side:           o.Side.String(),
		PositionEffect: o.PositionEffect.String(),
		Status:         o.Status.String(),
		Price:          o.Price,
		Quantity:       o.Quantity,
		FilledQty:      o.FilledQuantity,
		AvgFillPrice:   o.AvgFillPrice,
		CreateTime:     o.CalendarTime.Format(time.RFC3339),
		Message:        o.Message,
	}
}

// sendSuccess sends a success response
func (s *Server) sendSuccess(w http.ResponseWriter, message string, data interface{}) {
	s.sendJSON(w, http.StatusOK, APIResponse{Success: true, Message: message, Data: data})
}

// sendError sends an error response
func (s *Server) sendError(w http.ResponseWriter, statusCode int, errorMsg string) {
	s.sendJSON(w, statusCode, APIResponse{Success: false, Error: errorMsg})
}

// sendJSON sends a JSON response
func (s *Server) sendJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[API] Error encoding response: %v", err)
	}
}
