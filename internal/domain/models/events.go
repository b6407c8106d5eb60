package models

import "time"

// Event names emitted to the event sink. Delivery is one-way,
// at-least-once; consumers cannot influence core behavior.
const (
	EventSignalFused       = "signal_fused"
	EventOrderStateChanged = "order_state_changed"
	EventFillApplied       = "fill_applied"
	EventRiskRejected      = "risk_rejected"
)

// Event is the envelope published to the sink.
type Event struct {
	Name      string      `json:"name"`
	Key       string      `json:"key"` // partition key: symbol or order id
	Payload   interface{} `json:"payload"`
	EmittedAt time.Time   `json:"emitted_at"`
}

// OrderStateChange is the payload for order_state_changed events.
type OrderStateChange struct {
	OrderID   string      `json:"order_id"`
	ClientRef string      `json:"client_ref"`
	Symbol    string      `json:"symbol"`
	From      OrderStatus `json:"from"`
	To        OrderStatus `json:"to"`
	At        time.Time   `json:"at"`
}
