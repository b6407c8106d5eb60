package models

import "time"

// RiskOutcome is the validator's verdict on a fused signal.
type RiskOutcome string

const (
	OutcomeApproved RiskOutcome = "approved"
	OutcomeRejected RiskOutcome = "rejected"
)

// Reason codes for risk checks, recorded in the order checks run.
const (
	ReasonPositionSizeExceeded  = "position_size_exceeded"
	ReasonDailyLossExceeded     = "daily_loss_exceeded"
	ReasonCorrelationCap        = "correlation_cap_exceeded"
	ReasonInsufficientLiquidity = "insufficient_liquidity"
	ReasonHighVolatility        = "high_volatility_reduced"
	ReasonLowConfidence         = "low_confidence_reduced"
)

// RiskDecision is terminal once created; never mutated.
type RiskDecision struct {
	FusedSignal     *FusedSignal
	AccountID       string
	Outcome         RiskOutcome
	Reasons         []string // ordered list of checks that fired
	RecommendedSize float64
	EntryPrice      float64
	StopPrice       float64
	TakeProfitPrice float64
	MaxLossEstimate float64
	EvaluatedAt     time.Time
}

// Approved reports whether the decision allows an order.
func (d *RiskDecision) Approved() bool { return d.Outcome == OutcomeApproved }

// DecisionRecord is the flat audit row read back from storage.
type DecisionRecord struct {
	AccountID       string    `json:"account_id"`
	Symbol          string    `json:"symbol"`
	Timeframe       string    `json:"timeframe"`
	Direction       string    `json:"direction"`
	Confidence      float64   `json:"confidence"`
	Outcome         string    `json:"outcome"`
	Reasons         []string  `json:"reasons"`
	RecommendedSize float64   `json:"recommended_size"`
	EntryPrice      float64   `json:"entry_price"`
	StopPrice       float64   `json:"stop_price"`
	TakeProfit      float64   `json:"take_profit"`
	MaxLoss         float64   `json:"max_loss"`
	EvaluatedAt     time.Time `json:"evaluated_at"`
}
