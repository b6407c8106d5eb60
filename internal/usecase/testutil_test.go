package usecase

import (
	"context"
	"sync"
	"time"

	"TradePilot/internal/domain/models"
	drepo "TradePilot/internal/domain/repository"
	"TradePilot/pkg/logger"
)

func testLogger() *logger.Logger {
	lgr, err := logger.New(&logger.Config{Level: "error", Format: "json", Output: "stderr"})
	if err != nil {
		panic(err)
	}
	return lgr
}

// nopMetrics satisfies the telemetry interface without a registry.
type nopMetrics struct{}

func (nopMetrics) RecordSignal(string, string)       {}
func (nopMetrics) RecordFusion(string, bool)         {}
func (nopMetrics) RecordRiskDecision(string, string) {}
func (nopMetrics) RecordOrderState(string)           {}
func (nopMetrics) RecordFill(string, string)         {}
func (nopMetrics) RecordError(string)                {}
func (nopMetrics) RecordLastPrice(string, float64)   {}
func (nopMetrics) RecordLatency(string, float64)     {}
func (nopMetrics) RecordPosition(string, float64)    {}

// memQuotes is an in-memory quote cache.
type memQuotes struct {
	mu sync.Mutex
	m  map[string]*models.Quote
}

func newMemQuotes() *memQuotes { return &memQuotes{m: make(map[string]*models.Quote)} }

func (c *memQuotes) Get(ctx context.Context, venue, symbol string) (*models.Quote, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	q, ok := c.m[venue+"|"+symbol]
	return q, ok
}

func (c *memQuotes) Put(ctx context.Context, q *models.Quote) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[q.Venue+"|"+q.Symbol] = q
	return nil
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// memStore records persisted rows for assertions.
type memStore struct {
	mu        sync.Mutex
	orders    []models.Order
	fills     []models.Fill
	decisions []models.RiskDecision
}

func (s *memStore) Init(ctx context.Context) error { return nil }

func (s *memStore) SaveOrder(ctx context.Context, o *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = append(s.orders, *o)
	return nil
}

func (s *memStore) SaveFill(ctx context.Context, f *models.Fill) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fills = append(s.fills, *f)
	return nil
}

func (s *memStore) SaveDecision(ctx context.Context, d *models.RiskDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions = append(s.decisions, *d)
	return nil
}

func (s *memStore) ListDecisions(ctx context.Context, symbol string, since time.Time, limit int) ([]models.DecisionRecord, error) {
	return nil, nil
}

func (s *memStore) Health(ctx context.Context) error { return nil }
func (s *memStore) Close() error                     { return nil }

// memSink captures emitted events.
type memSink struct {
	mu     sync.Mutex
	events []models.Event
}

func (s *memSink) Emit(ctx context.Context, e models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *memSink) Close() error { return nil }

func (s *memSink) named(name string) []models.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Event
	for _, e := range s.events {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

// fakeVenue is a scriptable exchange adapter.
type fakeVenue struct {
	name    string
	place   func(ctx context.Context, req models.OrderRequest) (*models.Ack, error)
	cancel  func(ctx context.Context, exchangeRef string) (*models.Ack, error)
	status  func(ctx context.Context, exchangeRef string) (*models.OrderSnapshot, error)
	fillCh  chan *models.Fill
	errCh   chan error
	mu      sync.Mutex
	cancels []string
}

func newFakeVenue(name string) *fakeVenue {
	return &fakeVenue{
		name:   name,
		fillCh: make(chan *models.Fill, 16),
		errCh:  make(chan error, 1),
	}
}

func (v *fakeVenue) Name() string { return v.name }

func (v *fakeVenue) PlaceOrder(ctx context.Context, req models.OrderRequest) (*models.Ack, error) {
	if v.place != nil {
		return v.place(ctx, req)
	}
	return &models.Ack{ClientRef: req.ClientRef, ExchangeRef: "ex-" + req.ClientRef, At: time.Now()}, nil
}

func (v *fakeVenue) CancelOrder(ctx context.Context, exchangeRef string) (*models.Ack, error) {
	v.mu.Lock()
	v.cancels = append(v.cancels, exchangeRef)
	v.mu.Unlock()
	if v.cancel != nil {
		return v.cancel(ctx, exchangeRef)
	}
	return &models.Ack{ExchangeRef: exchangeRef, At: time.Now()}, nil
}

func (v *fakeVenue) GetOrderStatus(ctx context.Context, exchangeRef string) (*models.OrderSnapshot, error) {
	if v.status != nil {
		return v.status(ctx, exchangeRef)
	}
	return nil, nil
}

func (v *fakeVenue) StreamFills(ctx context.Context, cursor string) (<-chan *models.Fill, <-chan error) {
	return v.fillCh, v.errCh
}

var _ drepo.ExchangeAdapter = (*fakeVenue)(nil)

func newTestTracker(venue *fakeVenue, store *memStore, sink *memSink, applier FillApplier) *OrderTracker {
	return NewOrderTracker(
		TrackerConfig{SubmitTimeout: time.Second, MaxRetries: 2, InitialBackoff: time.Millisecond},
		map[string]drepo.ExchangeAdapter{venue.name: venue},
		store, sink, applier, nopMetrics{}, testLogger(),
	)
}
