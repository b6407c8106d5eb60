package models

import "time"

type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

type OrderType string

const (
	TypeMarket OrderType = "market"
	TypeLimit  OrderType = "limit"
	TypeStop   OrderType = "stop"
)

// OrderStatus is the order lifecycle state machine.
type OrderStatus string

const (
	StatusCreated         OrderStatus = "created"          // local only, before network call
	StatusSubmitted       OrderStatus = "submitted"        // request sent; retry boundary
	StatusAcknowledged    OrderStatus = "acknowledged"     // exchange accepted, exchange_ref assigned
	StatusRejected        OrderStatus = "rejected"         // exchange refused at submission
	StatusPartiallyFilled OrderStatus = "partially_filled" // re-entrant until filled == requested
	StatusFilled          OrderStatus = "filled"
	StatusCancelled       OrderStatus = "cancelled"
	StatusExpired         OrderStatus = "expired"
	StatusFailed          OrderStatus = "failed"
	StatusQuarantined     OrderStatus = "quarantined" // reconciliation conflict, held for review
)

// Terminal reports whether the status admits no further transitions.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusExpired, StatusFailed, StatusRejected:
		return true
	}
	return false
}

// Order is the mutable core entity, owned exclusively by the lifecycle
// tracker after creation.
type Order struct {
	ID                string
	AccountID         string
	ClientRef         string // idempotency key
	ExchangeRef       string // empty until acknowledged
	Venue             string
	Symbol            string
	Side              OrderSide
	Type              OrderType
	RequestedQuantity float64
	LimitPrice        float64 // 0 for market orders
	Status            OrderStatus
	FilledQuantity    float64
	AverageFillPrice  float64
	CancelRequested   bool // cooperative cancel intent, finalized by exchange event
	CreatedAt         time.Time
	UpdatedAt         time.Time
	TerminalAt        time.Time // zero until terminal
}

// Remaining returns the unfilled quantity.
func (o *Order) Remaining() float64 {
	r := o.RequestedQuantity - o.FilledQuantity
	if r < 0 {
		return 0
	}
	return r
}

// Fill is an append-only execution record against an order.
type Fill struct {
	OrderID          string
	Symbol           string
	Quantity         float64
	Price            float64
	Fee              float64
	FeeCurrency      string
	ExchangeTradeRef string // dedup key for idempotent replay
	ReceivedAt       time.Time
}

// OrderRequest is what the router hands to an exchange adapter.
type OrderRequest struct {
	AccountID  string    `json:"account_id"`
	ClientRef  string    `json:"client_ref" validate:"required"`
	Venue      string    `json:"venue" validate:"required"`
	Symbol     string    `json:"symbol" validate:"required"`
	Side       OrderSide `json:"side" validate:"oneof=buy sell"`
	Type       OrderType `json:"type" validate:"oneof=market limit stop"`
	Quantity   float64   `json:"quantity" validate:"gt=0"`
	LimitPrice float64   `json:"limit_price" validate:"gte=0"`
}

// RouteResult is the outcome of routing one decision across venues.
// Unplaced > 0 means the requested size could not be fully placed within
// slippage tolerance; the caller's policy decides what happens next.
type RouteResult struct {
	Requests              []OrderRequest
	Placed                float64
	Unplaced              float64
	InsufficientLiquidity bool
}

// OrderSnapshot is the exchange's view of an order, used for
// reconciliation polls.
type OrderSnapshot struct {
	ExchangeRef    string
	Status         OrderStatus
	FilledQuantity float64
	AsOf           time.Time
}

// Ack is an exchange acknowledgement of a submitted order.
type Ack struct {
	ClientRef   string
	ExchangeRef string
	Duplicate   bool // true when the exchange saw this client_ref before
	At          time.Time
}
