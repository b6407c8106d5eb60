package exchange

import (
	"context"
	"testing"
	"time"

	"TradePilot/internal/domain/models"
)

func priceAlways(p float64) PriceFn {
	return func(ctx context.Context, symbol string) (float64, bool) { return p, true }
}

func paperReq(clientRef string, qty float64) models.OrderRequest {
	return models.OrderRequest{
		AccountID: "acct-1",
		ClientRef: clientRef,
		Venue:     "paperx",
		Symbol:    "BTCUSDT",
		Side:      models.SideBuy,
		Type:      models.TypeMarket,
		Quantity:  qty,
	}
}

func TestPaperPlaceFillsImmediately(t *testing.T) {
	p := NewPaper("paperx", 0.001, priceAlways(100))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fills, _ := p.StreamFills(ctx, "")

	ack, err := p.PlaceOrder(ctx, paperReq("c1", 2))
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if ack.ExchangeRef == "" || ack.Duplicate {
		t.Fatalf("ack %+v", ack)
	}

	select {
	case f := <-fills:
		if f.Quantity != 2 || f.Price != 100 {
			t.Fatalf("fill %+v", f)
		}
		if f.Fee != 2*100*0.001 {
			t.Fatalf("fee %v", f.Fee)
		}
		if f.OrderID != ack.ExchangeRef {
			t.Fatalf("fill keyed by %s, want %s", f.OrderID, ack.ExchangeRef)
		}
	case <-time.After(time.Second):
		t.Fatalf("no fill delivered")
	}
}

func TestPaperDuplicateClientRef(t *testing.T) {
	p := NewPaper("paperx", 0, priceAlways(100))
	ctx := context.Background()

	first, err := p.PlaceOrder(ctx, paperReq("c1", 1))
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	second, err := p.PlaceOrder(ctx, paperReq("c1", 1))
	if err != nil {
		t.Fatalf("duplicate place: %v", err)
	}
	if !second.Duplicate {
		t.Fatalf("expected duplicate marker")
	}
	if second.ExchangeRef != first.ExchangeRef {
		t.Fatalf("duplicate must confirm the original ref")
	}
}

func TestPaperNoPriceIsPermanent(t *testing.T) {
	p := NewPaper("paperx", 0, func(ctx context.Context, symbol string) (float64, bool) { return 0, false })
	_, err := p.PlaceOrder(context.Background(), paperReq("c1", 1))
	if !models.IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestPaperLimitOrderFillsAtLimit(t *testing.T) {
	p := NewPaper("paperx", 0, priceAlways(100))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fills, _ := p.StreamFills(ctx, "")

	req := paperReq("c1", 1)
	req.Type = models.TypeLimit
	req.LimitPrice = 99
	if _, err := p.PlaceOrder(ctx, req); err != nil {
		t.Fatalf("place: %v", err)
	}

	select {
	case f := <-fills:
		if f.Price != 99 {
			t.Fatalf("limit fill price %v, want 99", f.Price)
		}
	case <-time.After(time.Second):
		t.Fatalf("no fill delivered")
	}
}

func TestPaperCancelFilledOrder(t *testing.T) {
	p := NewPaper("paperx", 0, priceAlways(100))
	ctx := context.Background()

	ack, _ := p.PlaceOrder(ctx, paperReq("c1", 1))
	if _, err := p.CancelOrder(ctx, ack.ExchangeRef); !models.IsPermanent(err) {
		t.Fatalf("cancelling a filled order must fail permanently, got %v", err)
	}
}

func TestPaperStatusUnknownRef(t *testing.T) {
	p := NewPaper("paperx", 0, priceAlways(100))
	snap, err := p.GetOrderStatus(context.Background(), "nope")
	if err != nil || snap != nil {
		t.Fatalf("unknown ref must be (nil, nil), got %v %v", snap, err)
	}
}

func TestPaperStatusByEitherRef(t *testing.T) {
	p := NewPaper("paperx", 0, priceAlways(100))
	ctx := context.Background()
	ack, _ := p.PlaceOrder(ctx, paperReq("c1", 1))

	byExchange, err := p.GetOrderStatus(ctx, ack.ExchangeRef)
	if err != nil || byExchange == nil {
		t.Fatalf("status by exchange ref: %v %v", byExchange, err)
	}
	byClient, err := p.GetOrderStatus(ctx, "c1")
	if err != nil || byClient == nil {
		t.Fatalf("status by client ref: %v %v", byClient, err)
	}
	if byExchange.FilledQuantity != 1 || byExchange.Status != models.StatusFilled {
		t.Fatalf("snapshot %+v", byExchange)
	}
}
