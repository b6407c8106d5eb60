package models

import "time"

// Position is the aggregate holding for one (account, symbol) pair.
// Quantity may fall to zero but the record persists for history.
// Negative quantity is a short position.
type Position struct {
	AccountID         string
	Symbol            string
	Quantity          float64
	AverageEntryPrice float64
	RealizedPnL       float64
	UnrealizedPnL     float64 // recomputed on price ticks
	UpdatedAt         time.Time
}

// Notional returns the absolute position value at the given mark price.
func (p *Position) Notional(mark float64) float64 {
	n := p.Quantity * mark
	if n < 0 {
		return -n
	}
	return n
}

// AccountState is the read model the risk validator depends on.
// It is an explicit value passed per call; the core never writes it
// directly, it reads the position ledger's emitted events.
type AccountState struct {
	AccountID        string
	Equity           float64
	AvailableBalance float64
	Positions        []Position
	DailyRealizedPnL float64
	DailyUnrealized  float64
	AsOf             time.Time
}

// DailyLoss returns today's combined loss as a positive number,
// or 0 when the account is flat or up on the day.
func (a *AccountState) DailyLoss() float64 {
	total := a.DailyRealizedPnL + a.DailyUnrealized
	if total >= 0 {
		return 0
	}
	return -total
}
