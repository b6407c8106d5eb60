package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"TradePilot/internal/domain/models"
	drepo "TradePilot/internal/domain/repository"
	"TradePilot/pkg/clickhouse"
)

// tradeStoreSchema is the append-only audit schema. Order rows are one
// per state transition; replaying the table rebuilds any order's
// history.
var tradeStoreSchema = []string{
	`CREATE DATABASE IF NOT EXISTS tradepilot`,
	`CREATE TABLE IF NOT EXISTS tradepilot.orders (
		id String,
		account_id String,
		client_ref String,
		exchange_ref String,
		venue String,
		symbol String,
		side String,
		type String,
		status String,
		requested_qty Float64,
		limit_price Float64,
		filled_qty Float64,
		avg_fill_price Float64,
		cancel_requested UInt8,
		created_at DateTime64(6),
		updated_at DateTime64(6)
	) ENGINE=MergeTree ORDER BY (id, updated_at)`,
	`CREATE TABLE IF NOT EXISTS tradepilot.fills (
		order_id String,
		symbol String,
		quantity Float64,
		price Float64,
		fee Float64,
		fee_currency String,
		trade_ref String,
		received_at DateTime64(6)
	) ENGINE=MergeTree ORDER BY (order_id, received_at)`,
	`CREATE TABLE IF NOT EXISTS tradepilot.decisions (
		account_id String,
		symbol String,
		timeframe String,
		direction String,
		confidence Float64,
		outcome String,
		reasons String,
		recommended_size Float64,
		entry_price Float64,
		stop_price Float64,
		take_profit Float64,
		max_loss Float64,
		contributing String,
		evaluated_at DateTime64(6)
	) ENGINE=MergeTree ORDER BY (symbol, evaluated_at)`,
}

// TradeStore persists orders, fills, and risk decisions to ClickHouse.
type TradeStore struct {
	client *clickhouse.Client
}

// NewTradeStore creates a store over an existing client.
func NewTradeStore(client *clickhouse.Client) *TradeStore {
	return &TradeStore{client: client}
}

// Init ensures the schema exists; idempotent.
func (s *TradeStore) Init(ctx context.Context) error {
	return s.client.InitSchema(ctx, tradeStoreSchema)
}

// SaveOrder appends one order state row.
func (s *TradeStore) SaveOrder(ctx context.Context, o *models.Order) error {
	cancelRequested := uint8(0)
	if o.CancelRequested {
		cancelRequested = 1
	}
	_, err := s.client.DB().ExecContext(ctx,
		`INSERT INTO tradepilot.orders
		(id, account_id, client_ref, exchange_ref, venue, symbol, side, type, status,
		 requested_qty, limit_price, filled_qty, avg_fill_price, cancel_requested, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.AccountID, o.ClientRef, o.ExchangeRef, o.Venue, o.Symbol,
		string(o.Side), string(o.Type), string(o.Status),
		o.RequestedQuantity, o.LimitPrice, o.FilledQuantity, o.AverageFillPrice,
		cancelRequested, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order %s: %w", o.ID, err)
	}
	return nil
}

// SaveFill appends one fill row.
func (s *TradeStore) SaveFill(ctx context.Context, f *models.Fill) error {
	_, err := s.client.DB().ExecContext(ctx,
		`INSERT INTO tradepilot.fills
		(order_id, symbol, quantity, price, fee, fee_currency, trade_ref, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		f.OrderID, f.Symbol, f.Quantity, f.Price, f.Fee, f.FeeCurrency,
		f.ExchangeTradeRef, f.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("insert fill %s: %w", f.ExchangeTradeRef, err)
	}
	return nil
}

// SaveDecision appends one risk decision row with its contributing
// signals serialized for audit.
func (s *TradeStore) SaveDecision(ctx context.Context, d *models.RiskDecision) error {
	contributing, err := json.Marshal(d.FusedSignal.Contributing)
	if err != nil {
		return fmt.Errorf("marshal contributing: %w", err)
	}
	_, err = s.client.DB().ExecContext(ctx,
		`INSERT INTO tradepilot.decisions
		(account_id, symbol, timeframe, direction, confidence, outcome, reasons,
		 recommended_size, entry_price, stop_price, take_profit, max_loss, contributing, evaluated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.AccountID, d.FusedSignal.Symbol, d.FusedSignal.Timeframe,
		string(d.FusedSignal.Direction), d.FusedSignal.AggregateConfidence,
		string(d.Outcome), strings.Join(d.Reasons, ","),
		d.RecommendedSize, d.EntryPrice, d.StopPrice, d.TakeProfitPrice,
		d.MaxLossEstimate, string(contributing), d.EvaluatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert decision %s: %w", d.FusedSignal.Symbol, err)
	}
	return nil
}

// ListDecisions returns decision audit rows newest-first. Empty symbol
// matches all symbols.
func (s *TradeStore) ListDecisions(ctx context.Context, symbol string, since time.Time, limit int) ([]models.DecisionRecord, error) {
	query := `SELECT account_id, symbol, timeframe, direction, confidence, outcome, reasons,
		recommended_size, entry_price, stop_price, take_profit, max_loss, evaluated_at
		FROM tradepilot.decisions
		WHERE evaluated_at >= ?`
	args := []interface{}{since}
	if symbol != "" {
		query += ` AND symbol = ?`
		args = append(args, symbol)
	}
	query += ` ORDER BY evaluated_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	var out []models.DecisionRecord
	for rows.Next() {
		var (
			r       models.DecisionRecord
			reasons string
		)
		if err := rows.Scan(&r.AccountID, &r.Symbol, &r.Timeframe, &r.Direction,
			&r.Confidence, &r.Outcome, &reasons, &r.RecommendedSize,
			&r.EntryPrice, &r.StopPrice, &r.TakeProfit, &r.MaxLoss, &r.EvaluatedAt); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		if reasons != "" {
			r.Reasons = strings.Split(reasons, ",")
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate decisions: %w", err)
	}
	return out, nil
}

// Health pings the backing pool.
func (s *TradeStore) Health(ctx context.Context) error {
	return s.client.Health(ctx)
}

// Close closes the backing pool.
func (s *TradeStore) Close() error {
	return s.client.Close()
}

var _ drepo.OrderStore = (*TradeStore)(nil)

// CandleStore reads OHLCV series out of ClickHouse for the signal
// adapters.
type CandleStore struct {
	client *clickhouse.Client
}

// NewCandleStore creates a candle source over an existing client.
func NewCandleStore(client *clickhouse.Client) *CandleStore {
	return &CandleStore{client: client}
}

// candleSchema holds the raw candle table, written by the ingest side.
var candleSchema = []string{
	`CREATE DATABASE IF NOT EXISTS tradepilot`,
	`CREATE TABLE IF NOT EXISTS tradepilot.candles (
		symbol String,
		timeframe String,
		open_time DateTime64(3),
		open Float64,
		high Float64,
		low Float64,
		close Float64,
		volume Float64
	) ENGINE=MergeTree ORDER BY (symbol, timeframe, open_time)`,
}

// Init ensures the candle schema exists; idempotent.
func (s *CandleStore) Init(ctx context.Context) error {
	return s.client.InitSchema(ctx, candleSchema)
}

// GetLatestNCandles returns the most recent n candles oldest-first.
func (s *CandleStore) GetLatestNCandles(ctx context.Context, symbol string, n int, tf drepo.Timeframe) ([]models.Candle, error) {
	rows, err := s.client.DB().QueryContext(ctx,
		`SELECT open_time, open, high, low, close, volume
		 FROM tradepilot.candles
		 WHERE symbol = ? AND timeframe = ?
		 ORDER BY open_time DESC
		 LIMIT ?`,
		symbol, string(tf), n,
	)
	if err != nil {
		return nil, fmt.Errorf("query candles %s/%s: %w", symbol, tf, err)
	}
	defer rows.Close()

	var out []models.Candle
	for rows.Next() {
		var (
			c models.Candle
			t time.Time
		)
		if err := rows.Scan(&t, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		c.Symbol = symbol
		c.Bucket = t
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candles: %w", err)
	}

	// newest-first from the index, reverse to oldest-first
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

var _ drepo.CandleSource = (*CandleStore)(nil)
