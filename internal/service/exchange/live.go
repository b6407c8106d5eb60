package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"TradePilot/internal/domain/models"
	drepo "TradePilot/internal/domain/repository"
	phttp "TradePilot/pkg/http"
	"TradePilot/pkg/logger"
)

// LiveConfig holds connection settings for a REST+WebSocket venue.
type LiveConfig struct {
	Name           string
	BaseURL        string
	WebsocketURL   string
	APIKey         string
	ReconnectDelay time.Duration
	PingInterval   time.Duration
}

// Live is an exchange adapter speaking REST for order management and
// WebSocket for the fill stream.
type Live struct {
	cfg    LiveConfig
	client *phttp.Client
	logger *logger.Logger
}

// NewLive creates a live venue adapter.
func NewLive(cfg LiveConfig, client *phttp.Client, lgr *logger.Logger) *Live {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 2 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 15 * time.Second
	}
	return &Live{cfg: cfg, client: client, logger: lgr}
}

func (l *Live) Name() string { return l.cfg.Name }

type wirePlaceRequest struct {
	ClientRef  string  `json:"client_ref"`
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	Type       string  `json:"type"`
	Quantity   float64 `json:"quantity"`
	LimitPrice float64 `json:"limit_price,omitempty"`
}

type wireOrderResponse struct {
	ExchangeRef    string  `json:"exchange_ref"`
	ClientRef      string  `json:"client_ref"`
	Status         string  `json:"status"`
	FilledQuantity float64 `json:"filled_quantity"`
	Duplicate      bool    `json:"duplicate"`
	Timestamp      int64   `json:"timestamp"` // ms
}

// PlaceOrder submits via REST. 4xx responses are permanent, everything
// else transient and safe to retry under the same client_ref.
func (l *Live) PlaceOrder(ctx context.Context, req models.OrderRequest) (*models.Ack, error) {
	resp, err := l.do(ctx, &phttp.RequestOptions{
		Method:  phttp.MethodPost,
		URL:     l.cfg.BaseURL + "/v1/orders",
		Headers: l.headers(),
		Body: wirePlaceRequest{
			ClientRef:  req.ClientRef,
			Symbol:     req.Symbol,
			Side:       string(req.Side),
			Type:       string(req.Type),
			Quantity:   req.Quantity,
			LimitPrice: req.LimitPrice,
		},
	})
	if err != nil {
		return nil, err
	}
	return &models.Ack{
		ClientRef:   resp.ClientRef,
		ExchangeRef: resp.ExchangeRef,
		Duplicate:   resp.Duplicate,
		At:          time.UnixMilli(resp.Timestamp),
	}, nil
}

// CancelOrder requests cancellation of the unfilled remainder.
func (l *Live) CancelOrder(ctx context.Context, exchangeRef string) (*models.Ack, error) {
	resp, err := l.do(ctx, &phttp.RequestOptions{
		Method:  phttp.MethodDelete,
		URL:     fmt.Sprintf("%s/v1/orders/%s", l.cfg.BaseURL, exchangeRef),
		Headers: l.headers(),
	})
	if err != nil {
		return nil, err
	}
	return &models.Ack{
		ClientRef:   resp.ClientRef,
		ExchangeRef: resp.ExchangeRef,
		At:          time.UnixMilli(resp.Timestamp),
	}, nil
}

// do runs one REST call and maps failures onto the transient/permanent
// split: network errors and 5xx stay retryable, 4xx does not.
func (l *Live) do(ctx context.Context, opts *phttp.RequestOptions) (*wireOrderResponse, error) {
	resp, err := l.client.SendRequest(ctx, opts)
	if err != nil {
		return nil, &models.TransientExchangeError{Venue: l.cfg.Name, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, l.classifyStatus(resp.StatusCode)
	}
	var wire wireOrderResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, &models.TransientExchangeError{Venue: l.cfg.Name, Err: err}
	}
	return &wire, nil
}

// GetOrderStatus polls the venue's view of an order by exchange or
// client ref. A 404 means the venue never saw it: nil, nil.
func (l *Live) GetOrderStatus(ctx context.Context, ref string) (*models.OrderSnapshot, error) {
	resp, err := l.client.SendRequest(ctx, &phttp.RequestOptions{
		Method:  phttp.MethodGet,
		URL:     fmt.Sprintf("%s/v1/orders/%s", l.cfg.BaseURL, ref),
		Headers: l.headers(),
	})
	if err != nil {
		return nil, &models.TransientExchangeError{Venue: l.cfg.Name, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, l.classifyStatus(resp.StatusCode)
	}

	var wire wireOrderResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, &models.TransientExchangeError{Venue: l.cfg.Name, Err: err}
	}
	return &models.OrderSnapshot{
		ExchangeRef:    wire.ExchangeRef,
		Status:         models.OrderStatus(wire.Status),
		FilledQuantity: wire.FilledQuantity,
		AsOf:           time.UnixMilli(wire.Timestamp),
	}, nil
}

type wireFill struct {
	Type     string  `json:"type"`
	OrderRef string  `json:"order_ref"`
	Symbol   string  `json:"symbol"`
	Quantity float64 `json:"quantity"`
	Price    float64 `json:"price"`
	Fee      float64 `json:"fee"`
	FeeCcy   string  `json:"fee_currency"`
	TradeRef string  `json:"trade_ref"`
	Cursor   string  `json:"cursor"`
	T        int64   `json:"t"` // ms
}

// StreamFills connects the fill WebSocket, resuming from cursor, and
// reconnects on failure until ctx is done. Replayed fills after a
// reconnect are harmless: the tracker dedups by trade ref.
func (l *Live) StreamFills(ctx context.Context, cursor string) (<-chan *models.Fill, <-chan error) {
	fills := make(chan *models.Fill, 1024)
	errs := make(chan error, 1)

	go func() {
		defer close(fills)
		defer close(errs)
		for {
			if ctx.Err() != nil {
				return
			}
			next, err := l.streamOnce(ctx, cursor, fills)
			if err != nil && ctx.Err() == nil {
				l.logger.Warn("fill stream dropped, reconnecting",
					logger.String("venue", l.cfg.Name), logger.Error(err))
				select {
				case errs <- err:
				default:
				}
				select {
				case <-time.After(l.cfg.ReconnectDelay):
				case <-ctx.Done():
					return
				}
			}
			if next != "" {
				cursor = next
			}
		}
	}()
	return fills, errs
}

// streamOnce runs one WebSocket session, returning the last cursor seen.
func (l *Live) streamOnce(ctx context.Context, cursor string, fills chan<- *models.Fill) (string, error) {
	u := fmt.Sprintf("%s?token=%s", l.cfg.WebsocketURL, l.cfg.APIKey)
	if cursor != "" {
		u += "&cursor=" + cursor
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return cursor, fmt.Errorf("dial %s: %w", l.cfg.Name, err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(l.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = conn.WriteMessage(websocket.PingMessage, nil)
			}
		}
	}()

	for {
		if ctx.Err() != nil {
			return cursor, nil
		}
		_, b, err := conn.ReadMessage()
		if err != nil {
			return cursor, fmt.Errorf("read: %w", err)
		}
		var w wireFill
		if err := json.Unmarshal(b, &w); err != nil {
			continue // ignore non-fill frames
		}
		if w.Type != "fill" {
			continue
		}
		f := &models.Fill{
			OrderID:          w.OrderRef,
			Symbol:           w.Symbol,
			Quantity:         w.Quantity,
			Price:            w.Price,
			Fee:              w.Fee,
			FeeCurrency:      w.FeeCcy,
			ExchangeTradeRef: w.TradeRef,
			ReceivedAt:       time.UnixMilli(w.T),
		}
		select {
		case fills <- f:
		case <-ctx.Done():
			return cursor, nil
		}
		if w.Cursor != "" {
			cursor = w.Cursor
		}
	}
}

func (l *Live) headers() map[string]string {
	return map[string]string{"X-Api-Key": l.cfg.APIKey}
}

func (l *Live) classifyStatus(code int) error {
	if code >= 400 && code < 500 {
		return &models.PermanentExchangeError{Venue: l.cfg.Name, Reason: fmt.Sprintf("status %d", code)}
	}
	return &models.TransientExchangeError{Venue: l.cfg.Name, Err: fmt.Errorf("status %d", code)}
}

var _ drepo.ExchangeAdapter = (*Live)(nil)
