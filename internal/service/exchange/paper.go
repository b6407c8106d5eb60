package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"TradePilot/internal/domain/models"
	drepo "TradePilot/internal/domain/repository"
)

// PriceFn supplies the current trade price for a symbol.
type PriceFn func(ctx context.Context, symbol string) (float64, bool)

// Paper is an in-process venue for dry-run trading. Market orders fill
// immediately and fully at the current price plus a flat fee. Placement
// is idempotent on client_ref like a real venue.
type Paper struct {
	name    string
	feeRate float64
	priceOf PriceFn

	mu     sync.Mutex
	orders map[string]*paperOrder // client_ref -> order
	byRef  map[string]string     // exchange_ref -> client_ref
	fills  chan *models.Fill
	seq    int
}

type paperOrder struct {
	exchangeRef string
	req         models.OrderRequest
	status      models.OrderStatus
	filled      float64
	asOf        time.Time
}

// NewPaper creates a paper venue. feeRate defaults to 10 bps.
func NewPaper(name string, feeRate float64, priceOf PriceFn) *Paper {
	if feeRate <= 0 {
		feeRate = 0.001
	}
	return &Paper{
		name:    name,
		feeRate: feeRate,
		priceOf: priceOf,
		orders:  make(map[string]*paperOrder),
		byRef:   make(map[string]string),
		fills:   make(chan *models.Fill, 256),
	}
}

func (p *Paper) Name() string { return p.name }

// PlaceOrder accepts the order and emits its fill on the stream.
// A repeated client_ref returns the original acknowledgement marked as
// duplicate instead of placing again.
func (p *Paper) PlaceOrder(ctx context.Context, req models.OrderRequest) (*models.Ack, error) {
	p.mu.Lock()
	if existing, ok := p.orders[req.ClientRef]; ok {
		p.mu.Unlock()
		return &models.Ack{
			ClientRef:   req.ClientRef,
			ExchangeRef: existing.exchangeRef,
			Duplicate:   true,
			At:          time.Now(),
		}, nil
	}

	price, ok := p.priceOf(ctx, req.Symbol)
	if !ok || price <= 0 {
		p.mu.Unlock()
		return nil, &models.PermanentExchangeError{Venue: p.name, Reason: "no market price for " + req.Symbol}
	}
	if req.Type == models.TypeLimit && req.LimitPrice > 0 {
		price = req.LimitPrice
	}

	p.seq++
	o := &paperOrder{
		exchangeRef: fmt.Sprintf("paper-%d", p.seq),
		req:         req,
		status:      models.StatusFilled,
		filled:      req.Quantity,
		asOf:        time.Now(),
	}
	p.orders[req.ClientRef] = o
	p.byRef[o.exchangeRef] = req.ClientRef
	p.mu.Unlock()

	fill := &models.Fill{
		OrderID:          o.exchangeRef,
		Symbol:           req.Symbol,
		Quantity:         req.Quantity,
		Price:            price,
		Fee:              req.Quantity * price * p.feeRate,
		FeeCurrency:      "USD",
		ExchangeTradeRef: uuid.NewString(),
		ReceivedAt:       time.Now(),
	}
	select {
	case p.fills <- fill:
	default:
		// stream consumer stalled; deliver in-line so the fill survives
		go func() { p.fills <- fill }()
	}

	return &models.Ack{
		ClientRef:   req.ClientRef,
		ExchangeRef: o.exchangeRef,
		At:          o.asOf,
	}, nil
}

// CancelOrder succeeds only for orders with unfilled remainder, which a
// paper venue never has after placement.
func (p *Paper) CancelOrder(ctx context.Context, exchangeRef string) (*models.Ack, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	clientRef, ok := p.byRef[exchangeRef]
	if !ok {
		return nil, &models.PermanentExchangeError{Venue: p.name, Reason: "unknown order " + exchangeRef}
	}
	o := p.orders[clientRef]
	if o.status == models.StatusFilled {
		return nil, &models.PermanentExchangeError{Venue: p.name, Reason: "order already filled"}
	}
	o.status = models.StatusCancelled
	o.asOf = time.Now()
	return &models.Ack{ClientRef: clientRef, ExchangeRef: exchangeRef, At: o.asOf}, nil
}

// GetOrderStatus returns the venue's view, nil when the ref (exchange
// or client) was never seen.
func (p *Paper) GetOrderStatus(ctx context.Context, ref string) (*models.OrderSnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	clientRef, ok := p.byRef[ref]
	if !ok {
		if _, seen := p.orders[ref]; seen {
			clientRef = ref
		} else {
			return nil, nil
		}
	}
	o := p.orders[clientRef]
	return &models.OrderSnapshot{
		ExchangeRef:    o.exchangeRef,
		Status:         o.status,
		FilledQuantity: o.filled,
		AsOf:           o.asOf,
	}, nil
}

// StreamFills delivers fills; the paper venue has no cursor history, so
// cursor is ignored.
func (p *Paper) StreamFills(ctx context.Context, cursor string) (<-chan *models.Fill, <-chan error) {
	out := make(chan *models.Fill, 64)
	errs := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errs)
		for {
			select {
			case <-ctx.Done():
				return
			case f := <-p.fills:
				select {
				case out <- f:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, errs
}

var _ drepo.ExchangeAdapter = (*Paper)(nil)
