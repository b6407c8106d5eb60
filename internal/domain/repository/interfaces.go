package repository

import (
	"context"
	"time"

	"TradePilot/internal/domain/models"
)

// ExchangeAdapter is the contract a trading venue presents to the core.
// Every call is idempotent-safe via the caller-supplied client_ref.
type ExchangeAdapter interface {
	Name() string
	PlaceOrder(ctx context.Context, req models.OrderRequest) (*models.Ack, error)
	CancelOrder(ctx context.Context, exchangeRef string) (*models.Ack, error)
	GetOrderStatus(ctx context.Context, exchangeRef string) (*models.OrderSnapshot, error)
	// StreamFills delivers fill events; restartable from a cursor on
	// reconnect. The channel closes only when ctx is done.
	StreamFills(ctx context.Context, cursor string) (<-chan *models.Fill, <-chan error)
}

// QuoteCache serves the router's most-recent cached quotes.
type QuoteCache interface {
	Get(ctx context.Context, venue, symbol string) (*models.Quote, bool)
	Put(ctx context.Context, q *models.Quote) error
}

// AccountStateProvider is the read model the risk validator depends on.
type AccountStateProvider interface {
	GetAccountState(ctx context.Context, accountID string) (*models.AccountState, error)
}

// OrderStore persists orders, fills, and decisions append-only for audit.
type OrderStore interface {
	Init(ctx context.Context) error
	SaveOrder(ctx context.Context, o *models.Order) error
	SaveFill(ctx context.Context, f *models.Fill) error
	SaveDecision(ctx context.Context, d *models.RiskDecision) error
	ListDecisions(ctx context.Context, symbol string, since time.Time, limit int) ([]models.DecisionRecord, error)
	Health(ctx context.Context) error
	Close() error
}

// EventSink receives core events, at-least-once, one-way.
type EventSink interface {
	Emit(ctx context.Context, e models.Event) error
	Close() error
}

// CandleSource provides OHLCV series for signal source adapters.
type CandleSource interface {
	GetLatestNCandles(ctx context.Context, symbol string, n int, tf Timeframe) ([]models.Candle, error)
}

// Metrics is the telemetry recorder used across the core.
type Metrics interface {
	RecordSignal(source, symbol string)
	RecordFusion(symbol string, actionable bool)
	RecordRiskDecision(outcome, reason string)
	RecordOrderState(status string)
	RecordFill(venue, symbol string)
	RecordError(kind string)
	RecordLastPrice(symbol string, price float64)
	RecordLatency(op string, seconds float64)
	RecordPosition(symbol string, qty float64)
}

// Clock abstracts time for deterministic tests of window logic.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
