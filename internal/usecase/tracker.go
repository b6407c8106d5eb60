package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"TradePilot/internal/domain/models"
	drepo "TradePilot/internal/domain/repository"
	"TradePilot/pkg/logger"
)

// FillApplier receives validated fills, e.g. the position ledger.
type FillApplier interface {
	ApplyFill(ctx context.Context, accountID string, side models.OrderSide, f *models.Fill) (*models.Position, error)
}

// legalTransitions is the order state machine. Terminal states are
// absorbing; anything not listed is refused.
var legalTransitions = map[models.OrderStatus][]models.OrderStatus{
	models.StatusCreated:   {models.StatusSubmitted, models.StatusFailed},
	models.StatusSubmitted: {models.StatusAcknowledged, models.StatusRejected, models.StatusFailed, models.StatusQuarantined},
	models.StatusAcknowledged: {
		models.StatusPartiallyFilled, models.StatusFilled, models.StatusCancelled,
		models.StatusExpired, models.StatusFailed, models.StatusQuarantined,
	},
	models.StatusPartiallyFilled: {
		models.StatusPartiallyFilled, models.StatusFilled, models.StatusCancelled,
		models.StatusExpired, models.StatusFailed, models.StatusQuarantined,
	},
	models.StatusQuarantined: {models.StatusAcknowledged, models.StatusCancelled, models.StatusFailed},
}

// TrackerConfig bounds retries and submission timeouts.
type TrackerConfig struct {
	SubmitTimeout  time.Duration
	MaxRetries     uint64
	InitialBackoff time.Duration
	OrphanFillCap  int // buffered out-of-order fills per exchange ref
}

// OrderTracker owns the order/fill state machine. It is the single
// writer of any given order's state: all mutations to one order are
// serialized through a per-order lock while different orders proceed
// concurrently. Out-of-order exchange events are buffered and replayed
// once the prerequisite state is reached, never dropped.
type OrderTracker struct {
	cfg     TrackerConfig
	venues  map[string]drepo.ExchangeAdapter
	store   drepo.OrderStore
	sink    drepo.EventSink
	ledger  FillApplier
	metrics drepo.Metrics
	logger  *logger.Logger

	mu            sync.RWMutex
	orders        map[string]*trackedOrder
	byClientRef   map[string]string
	byExchangeRef map[string]string
	orphanFills   map[string][]*models.Fill // exchange ref -> fills seen before ack
}

type trackedOrder struct {
	mu           sync.Mutex
	order        *models.Order
	seenFills    map[string]struct{}
	pendingFills []*models.Fill // fills received while still submitted
}

// NewOrderTracker creates a tracker over the given venues.
func NewOrderTracker(cfg TrackerConfig, venues map[string]drepo.ExchangeAdapter, store drepo.OrderStore, sink drepo.EventSink, ledger FillApplier, metrics drepo.Metrics, lgr *logger.Logger) *OrderTracker {
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = 10 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 200 * time.Millisecond
	}
	if cfg.OrphanFillCap <= 0 {
		cfg.OrphanFillCap = 64
	}
	return &OrderTracker{
		cfg:           cfg,
		venues:        venues,
		store:         store,
		sink:          sink,
		ledger:        ledger,
		metrics:       metrics,
		logger:        lgr,
		orders:        make(map[string]*trackedOrder),
		byClientRef:   make(map[string]string),
		byExchangeRef: make(map[string]string),
		orphanFills:   make(map[string][]*models.Fill),
	}
}

// Create registers a new local order from a routed request.
func (t *OrderTracker) Create(ctx context.Context, req models.OrderRequest) (*models.Order, error) {
	now := time.Now()
	o := &models.Order{
		ID:                uuid.NewString(),
		AccountID:         req.AccountID,
		ClientRef:         req.ClientRef,
		Venue:             req.Venue,
		Symbol:            req.Symbol,
		Side:              req.Side,
		Type:              req.Type,
		RequestedQuantity: req.Quantity,
		LimitPrice:        req.LimitPrice,
		Status:            models.StatusCreated,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	t.mu.Lock()
	if existing, ok := t.byClientRef[o.ClientRef]; ok {
		t.mu.Unlock()
		return nil, fmt.Errorf("%w: client_ref %s already tracked as %s", models.ErrValidation, o.ClientRef, existing)
	}
	t.orders[o.ID] = &trackedOrder{order: o, seenFills: make(map[string]struct{})}
	t.byClientRef[o.ClientRef] = o.ID
	t.mu.Unlock()

	t.metrics.RecordOrderState(string(o.Status))
	if err := t.store.SaveOrder(ctx, o); err != nil {
		t.logger.Error("persist created order", logger.Error(err), logger.String("order_id", o.ID))
	}
	return o, nil
}

// Submit sends the order to its venue. The submitted state is the
// retry boundary: the idempotent client_ref means a duplicate-order
// response confirms the original rather than duplicating it. Timeouts
// trigger a reconciliation poll, not a blind retry.
func (t *OrderTracker) Submit(ctx context.Context, orderID string) error {
	to, err := t.tracked(orderID)
	if err != nil {
		return err
	}
	venue, ok := t.venues[to.order.Venue]
	if !ok {
		return fmt.Errorf("%w: unknown venue %s", models.ErrValidation, to.order.Venue)
	}

	to.mu.Lock()
	if to.order.Status != models.StatusCreated {
		to.mu.Unlock()
		return fmt.Errorf("submit %s: %w", orderID, models.ErrTerminalOrder)
	}
	t.transitionLocked(ctx, to, models.StatusSubmitted)
	req := models.OrderRequest{
		AccountID:  to.order.AccountID,
		ClientRef:  to.order.ClientRef,
		Venue:      to.order.Venue,
		Symbol:     to.order.Symbol,
		Side:       to.order.Side,
		Type:       to.order.Type,
		Quantity:   to.order.RequestedQuantity,
		LimitPrice: to.order.LimitPrice,
	}
	to.mu.Unlock()

	ack, err := t.placeWithRetry(ctx, venue, req)
	switch {
	case err == nil:
		t.applyAck(ctx, to, ack)
		return nil
	case models.IsPermanent(err):
		t.metrics.RecordError("submit_permanent")
		to.mu.Lock()
		t.transitionLocked(ctx, to, models.StatusRejected)
		to.mu.Unlock()
		return err
	default:
		// transient and retries exhausted: ask the exchange what it saw
		t.metrics.RecordError("submit_timeout")
		return t.reconcile(ctx, to, venue)
	}
}

func (t *OrderTracker) placeWithRetry(ctx context.Context, venue drepo.ExchangeAdapter, req models.OrderRequest) (*models.Ack, error) {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(t.cfg.InitialBackoff),
			backoff.WithMaxElapsedTime(t.cfg.SubmitTimeout),
		), t.cfg.MaxRetries),
		ctx,
	)

	var ack *models.Ack
	op := func() error {
		a, err := venue.PlaceOrder(ctx, req)
		if err != nil {
			if models.IsPermanent(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		ack = a
		return nil
	}
	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}
	return ack, nil
}

// applyAck moves a submitted order to acknowledged and replays any
// fills that raced ahead of the acknowledgement.
func (t *OrderTracker) applyAck(ctx context.Context, to *trackedOrder, ack *models.Ack) {
	to.mu.Lock()
	if to.order.Status.Terminal() {
		to.mu.Unlock()
		return
	}
	if ack.Duplicate {
		t.logger.Warn("duplicate submission confirmed original",
			logger.String("client_ref", to.order.ClientRef))
	}
	to.order.ExchangeRef = ack.ExchangeRef
	if to.order.Status == models.StatusSubmitted {
		t.transitionLocked(ctx, to, models.StatusAcknowledged)
	}
	cancelWanted := to.order.CancelRequested
	pending := to.pendingFills
	to.pendingFills = nil
	to.mu.Unlock()

	t.mu.Lock()
	t.byExchangeRef[ack.ExchangeRef] = to.order.ID
	orphans := t.orphanFills[ack.ExchangeRef]
	delete(t.orphanFills, ack.ExchangeRef)
	t.mu.Unlock()

	for _, f := range append(pending, orphans...) {
		if err := t.applyFill(ctx, to, f); err != nil {
			t.logger.Error("replay buffered fill", logger.Error(err), logger.String("order_id", to.order.ID))
		}
	}

	if cancelWanted {
		if err := t.sendCancel(ctx, to); err != nil {
			t.logger.Error("cancel after ack", logger.Error(err), logger.String("order_id", to.order.ID))
		}
	}
}

// IngestFill routes an exchange fill event to its order. Fills arriving
// before the acknowledgement are buffered against the exchange ref and
// replayed once it lands.
func (t *OrderTracker) IngestFill(ctx context.Context, f *models.Fill) error {
	t.mu.Lock()
	id := f.OrderID
	if _, ok := t.orders[id]; !ok {
		if mapped, ok2 := t.byExchangeRef[f.OrderID]; ok2 {
			id = mapped
		} else if mapped, ok2 := t.byClientRef[f.OrderID]; ok2 {
			id = mapped
		} else {
			// fill before ack: hold it, bounded
			buf := t.orphanFills[f.OrderID]
			if len(buf) >= t.cfg.OrphanFillCap {
				t.mu.Unlock()
				t.metrics.RecordError("orphan_fill_overflow")
				return fmt.Errorf("%w: orphan buffer full for %s", models.ErrUnknownOrder, f.OrderID)
			}
			t.orphanFills[f.OrderID] = append(buf, f)
			t.mu.Unlock()
			t.metrics.RecordError("fill_before_ack")
			return nil
		}
	}
	to := t.orders[id]
	t.mu.Unlock()

	return t.applyFill(ctx, to, f)
}

func (t *OrderTracker) applyFill(ctx context.Context, to *trackedOrder, f *models.Fill) error {
	to.mu.Lock()
	o := to.order

	if o.Status == models.StatusSubmitted {
		to.pendingFills = append(to.pendingFills, f)
		to.mu.Unlock()
		return nil
	}
	if o.Status.Terminal() || o.Status == models.StatusQuarantined {
		to.mu.Unlock()
		t.metrics.RecordError("fill_after_terminal")
		return fmt.Errorf("fill for %s: %w", o.ID, models.ErrTerminalOrder)
	}
	if _, seen := to.seenFills[f.ExchangeTradeRef]; seen {
		to.mu.Unlock()
		return nil // idempotent replay
	}
	if o.FilledQuantity+f.Quantity > o.RequestedQuantity+1e-9 {
		to.mu.Unlock()
		t.metrics.RecordError("fill_conservation")
		return fmt.Errorf("order %s: %w", o.ID, models.ErrFillExceedsOrder)
	}

	to.seenFills[f.ExchangeTradeRef] = struct{}{}
	prevQty := o.FilledQuantity
	o.AverageFillPrice = (o.AverageFillPrice*prevQty + f.Price*f.Quantity) / (prevQty + f.Quantity)
	o.FilledQuantity = prevQty + f.Quantity

	if o.Remaining() <= 1e-9 {
		t.transitionLocked(ctx, to, models.StatusFilled)
	} else {
		t.transitionLocked(ctx, to, models.StatusPartiallyFilled)
	}
	accountID, side := o.AccountID, o.Side
	fillCopy := *f
	fillCopy.OrderID = o.ID
	fillCopy.Symbol = o.Symbol
	to.mu.Unlock()

	t.metrics.RecordFill(o.Venue, o.Symbol)
	if err := t.store.SaveFill(ctx, &fillCopy); err != nil {
		t.logger.Error("persist fill", logger.Error(err), logger.String("trade_ref", f.ExchangeTradeRef))
	}
	if t.sink != nil {
		_ = t.sink.Emit(ctx, models.Event{
			Name:      models.EventFillApplied,
			Key:       o.ID,
			Payload:   fillCopy,
			EmittedAt: time.Now(),
		})
	}
	if t.ledger != nil {
		if _, err := t.ledger.ApplyFill(ctx, accountID, side, &fillCopy); err != nil {
			return fmt.Errorf("ledger apply: %w", err)
		}
	}
	return nil
}

// RequestCancel registers cancel intent. Cancellation is cooperative:
// it is finalized only when the exchange confirms, never assumed
// locally. A merely submitted order waits for its acknowledgement; for
// a partially filled order only the unfilled remainder is cancelled.
func (t *OrderTracker) RequestCancel(ctx context.Context, orderID string) error {
	to, err := t.tracked(orderID)
	if err != nil {
		return err
	}

	to.mu.Lock()
	o := to.order
	if o.Status.Terminal() {
		to.mu.Unlock()
		return fmt.Errorf("cancel %s: %w", orderID, models.ErrTerminalOrder)
	}
	if o.Status == models.StatusCreated {
		to.mu.Unlock()
		return fmt.Errorf("%w: cancel before submission", models.ErrValidation)
	}
	o.CancelRequested = true
	deferred := o.Status == models.StatusSubmitted
	to.mu.Unlock()

	if deferred {
		return nil // intent honored once acknowledged
	}
	return t.sendCancel(ctx, to)
}

func (t *OrderTracker) sendCancel(ctx context.Context, to *trackedOrder) error {
	venue, ok := t.venues[to.order.Venue]
	if !ok {
		return fmt.Errorf("%w: unknown venue %s", models.ErrValidation, to.order.Venue)
	}
	if _, err := venue.CancelOrder(ctx, to.order.ExchangeRef); err != nil {
		if models.IsPermanent(err) {
			return err
		}
		t.metrics.RecordError("cancel_transient")
		return err
	}
	return nil
}

// ApplySnapshot reconciles an exchange order snapshot against local
// state. Disagreement quarantines the order rather than guessing.
func (t *OrderTracker) ApplySnapshot(ctx context.Context, orderID string, snap *models.OrderSnapshot) error {
	to, err := t.tracked(orderID)
	if err != nil {
		return err
	}

	to.mu.Lock()
	defer to.mu.Unlock()
	o := to.order

	if o.Status.Terminal() {
		return nil
	}
	// The exchange can never have seen fewer fills than we recorded
	// from its own stream.
	if snap.FilledQuantity < o.FilledQuantity-1e-9 {
		t.transitionLocked(ctx, to, models.StatusQuarantined)
		t.metrics.RecordError("reconciliation_conflict")
		return fmt.Errorf("order %s: %w: exchange filled=%.8f local=%.8f",
			o.ID, models.ErrReconciliationConflict, snap.FilledQuantity, o.FilledQuantity)
	}

	switch snap.Status {
	case models.StatusCancelled, models.StatusExpired, models.StatusFailed:
		t.transitionLocked(ctx, to, snap.Status)
	case models.StatusAcknowledged:
		if o.Status == models.StatusSubmitted || o.Status == models.StatusQuarantined {
			o.ExchangeRef = snap.ExchangeRef
			t.transitionLocked(ctx, to, models.StatusAcknowledged)
		}
	}
	return nil
}

// reconcile polls order status after a submission timeout. An unknown
// order is safe to resubmit with the same client_ref.
func (t *OrderTracker) reconcile(ctx context.Context, to *trackedOrder, venue drepo.ExchangeAdapter) error {
	to.mu.Lock()
	ref := to.order.ExchangeRef
	if ref == "" {
		ref = to.order.ClientRef
	}
	id := to.order.ID
	to.mu.Unlock()

	snap, err := venue.GetOrderStatus(ctx, ref)
	if err != nil {
		to.mu.Lock()
		t.transitionLocked(ctx, to, models.StatusQuarantined)
		to.mu.Unlock()
		return fmt.Errorf("reconcile %s: %w", id, err)
	}
	if snap == nil {
		// never landed; the idempotent client_ref makes resubmission safe
		to.mu.Lock()
		t.transitionLocked(ctx, to, models.StatusFailed)
		to.mu.Unlock()
		return fmt.Errorf("reconcile %s: order unknown to venue", id)
	}
	if snap.ExchangeRef != "" {
		t.applyAck(ctx, to, &models.Ack{
			ClientRef:   to.order.ClientRef,
			ExchangeRef: snap.ExchangeRef,
			At:          snap.AsOf,
		})
	}
	return t.ApplySnapshot(ctx, id, snap)
}

// Get returns a copy of the order.
func (t *OrderTracker) Get(orderID string) (*models.Order, error) {
	to, err := t.tracked(orderID)
	if err != nil {
		return nil, err
	}
	to.mu.Lock()
	defer to.mu.Unlock()
	cp := *to.order
	return &cp, nil
}

func (t *OrderTracker) tracked(orderID string) (*trackedOrder, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	to, ok := t.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", orderID, models.ErrUnknownOrder)
	}
	return to, nil
}

// transitionLocked applies a state change under the per-order lock.
// Terminal states are absorbing and updated_at is strictly monotonic.
func (t *OrderTracker) transitionLocked(ctx context.Context, to *trackedOrder, next models.OrderStatus) {
	o := to.order
	if o.Status == next && next != models.StatusPartiallyFilled {
		return
	}
	if o.Status.Terminal() {
		t.metrics.RecordError("transition_from_terminal")
		return
	}
	if !transitionAllowed(o.Status, next) {
		t.metrics.RecordError("transition_illegal")
		t.logger.Error("illegal order transition",
			logger.String("order_id", o.ID),
			logger.String("from", string(o.Status)),
			logger.String("to", string(next)))
		return
	}

	from := o.Status
	now := time.Now()
	if !now.After(o.UpdatedAt) {
		now = o.UpdatedAt.Add(time.Nanosecond)
	}
	o.Status = next
	o.UpdatedAt = now
	if next.Terminal() {
		o.TerminalAt = now
	}

	t.metrics.RecordOrderState(string(next))
	cp := *o
	if err := t.store.SaveOrder(ctx, &cp); err != nil {
		t.logger.Error("persist order transition", logger.Error(err), logger.String("order_id", o.ID))
	}
	if t.sink != nil {
		_ = t.sink.Emit(ctx, models.Event{
			Name: models.EventOrderStateChanged,
			Key:  o.ID,
			Payload: models.OrderStateChange{
				OrderID:   o.ID,
				ClientRef: o.ClientRef,
				Symbol:    o.Symbol,
				From:      from,
				To:        next,
				At:        now,
			},
			EmittedAt: now,
		})
	}
}

func transitionAllowed(from, to models.OrderStatus) bool {
	for _, s := range legalTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
