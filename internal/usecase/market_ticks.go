package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"TradePilot/internal/domain/models"
	drepo "TradePilot/internal/domain/repository"
	"TradePilot/pkg/logger"
)

// marketTick is the wire format of one quote update on the ticks topic.
type marketTick struct {
	Venue     string  `json:"venue"`
	Symbol    string  `json:"symbol"`
	Bid       float64 `json:"bid"`
	Ask       float64 `json:"ask"`
	Last      float64 `json:"last"`
	Depth     float64 `json:"depth"`
	FeeRate   float64 `json:"fee_rate"`
	Volume24h float64 `json:"volume_24h"`
	Timestamp int64   `json:"timestamp"` // unix milliseconds
}

// MarkListener is notified after each accepted tick, e.g. the trade
// executor's protective-exit check.
type MarkListener interface {
	OnMark(ctx context.Context, symbol string, price float64)
}

// TickHandler consumes quote updates from the ticks topic into the
// quote cache and the position ledger's mark prices. It satisfies the
// kafka consumer's MessageHandler contract.
type TickHandler struct {
	topic    string
	quotes   drepo.QuoteCache
	ledger   *PositionLedger
	listener MarkListener
	metrics  drepo.Metrics
	logger   *logger.Logger
}

// NewTickHandler creates a handler bound to topic.
func NewTickHandler(topic string, quotes drepo.QuoteCache, ledger *PositionLedger, listener MarkListener, metrics drepo.Metrics, lgr *logger.Logger) *TickHandler {
	return &TickHandler{
		topic:    topic,
		quotes:   quotes,
		ledger:   ledger,
		listener: listener,
		metrics:  metrics,
		logger:   lgr,
	}
}

func (h *TickHandler) Topic() string { return h.topic }

// Handle parses one tick and updates downstream read models. Malformed
// ticks are dropped with a metric; returning the error would send
// market data to the DLQ for no benefit.
func (h *TickHandler) Handle(ctx context.Context, data []byte) error {
	var t marketTick
	if err := json.Unmarshal(data, &t); err != nil {
		h.metrics.RecordError("tick_unmarshal")
		h.logger.Warn("malformed tick dropped", logger.Error(err))
		return nil
	}
	if t.Symbol == "" || t.Venue == "" {
		h.metrics.RecordError("tick_invalid")
		return nil
	}
	if t.Bid < 0 || t.Ask < 0 || t.Last < 0 {
		h.metrics.RecordError("tick_invalid")
		return nil
	}

	q := &models.Quote{
		Venue:     t.Venue,
		Symbol:    t.Symbol,
		Bid:       t.Bid,
		Ask:       t.Ask,
		Last:      t.Last,
		Depth:     t.Depth,
		FeeRate:   t.FeeRate,
		Volume24h: t.Volume24h,
		AsOf:      time.UnixMilli(t.Timestamp),
	}
	if t.Timestamp == 0 {
		q.AsOf = time.Now()
	}

	if err := h.quotes.Put(ctx, q); err != nil {
		return fmt.Errorf("cache quote %s/%s: %w", t.Venue, t.Symbol, err)
	}

	if t.Last > 0 {
		if h.ledger != nil {
			h.ledger.MarkPrice(t.Symbol, t.Last)
		}
		if h.listener != nil {
			h.listener.OnMark(ctx, t.Symbol, t.Last)
		}
	}
	return nil
}
