package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"TradePilot/internal/domain/models"
)

func orderReq(clientRef string, qty float64) models.OrderRequest {
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

func fill(orderRef, tradeRef string, qty, price float64) *models.Fill {
	return &models.Fill{
		OrderID:          orderRef,
		Quantity:         qty,
		Price:            price,
		ExchangeTradeRef: tradeRef,
		ReceivedAt:       time.Now(),
	}
}

type recordingApplier struct {
	fills []models.Fill
}

func (a *recordingApplier) ApplyFill(ctx context.Context, accountID string, side models.OrderSide, f *models.Fill) (*models.Position, error) {
	a.fills = append(a.fills, *f)
	return &models.Position{AccountID: accountID, Symbol: f.Symbol}, nil
}

func TestSubmitAcknowledges(t *testing.T) {
	venue := newFakeVenue("paperx")
	store := &memStore{}
	sink := &memSink{}
	tr := newTestTracker(venue, store, sink, &recordingApplier{})
	ctx := context.Background()

	o, err := tr.Create(ctx, orderReq("ref-1", 2))
	require.NoError(t, err)
	require.Equal(t, models.StatusCreated, o.Status)

	require.NoError(t, tr.Submit(ctx, o.ID))

	got, err := tr.Get(o.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusAcknowledged, got.Status)
	require.Equal(t, "ex-ref-1", got.ExchangeRef)

	// created -> submitted -> acknowledged, each persisted
	require.Len(t, store.orders, 3)
	require.Len(t, sink.named(models.EventOrderStateChanged), 2)
}

func TestCreateDuplicateClientRef(t *testing.T) {
	venue := newFakeVenue("paperx")
	tr := newTestTracker(venue, &memStore{}, &memSink{}, nil)
	ctx := context.Background()

	_, err := tr.Create(ctx, orderReq("dup", 1))
	require.NoError(t, err)
	_, err = tr.Create(ctx, orderReq("dup", 1))
	require.ErrorIs(t, err, models.ErrValidation)
}

func TestPartialFillsAccumulate(t *testing.T) {
	venue := newFakeVenue("paperx")
	applier := &recordingApplier{}
	tr := newTestTracker(venue, &memStore{}, &memSink{}, applier)
	ctx := context.Background()

	o, _ := tr.Create(ctx, orderReq("ref-2", 3))
	require.NoError(t, tr.Submit(ctx, o.ID))

	require.NoError(t, tr.IngestFill(ctx, fill("ex-ref-2", "t1", 1, 100)))
	got, _ := tr.Get(o.ID)
	require.Equal(t, models.StatusPartiallyFilled, got.Status)
	require.InDelta(t, 1.0, got.FilledQuantity, 1e-9)

	require.NoError(t, tr.IngestFill(ctx, fill("ex-ref-2", "t2", 2, 106)))
	got, _ = tr.Get(o.ID)
	require.Equal(t, models.StatusFilled, got.Status)
	require.InDelta(t, 3.0, got.FilledQuantity, 1e-9)
	require.InDelta(t, 104.0, got.AverageFillPrice, 1e-9) // (100 + 2*106) / 3
	require.False(t, got.TerminalAt.IsZero())

	// ledger saw both fills with the order's symbol stamped on
	require.Len(t, applier.fills, 2)
	require.Equal(t, "BTCUSDT", applier.fills[0].Symbol)
}

func TestDuplicateTradeRefIdempotent(t *testing.T) {
	venue := newFakeVenue("paperx")
	applier := &recordingApplier{}
	tr := newTestTracker(venue, &memStore{}, &memSink{}, applier)
	ctx := context.Background()

	o, _ := tr.Create(ctx, orderReq("ref-3", 2))
	require.NoError(t, tr.Submit(ctx, o.ID))

	require.NoError(t, tr.IngestFill(ctx, fill("ex-ref-3", "t1", 1, 100)))
	require.NoError(t, tr.IngestFill(ctx, fill("ex-ref-3", "t1", 1, 100)))

	got, _ := tr.Get(o.ID)
	require.InDelta(t, 1.0, got.FilledQuantity, 1e-9)
	require.Len(t, applier.fills, 1)
}

func TestFillExceedsOrder(t *testing.T) {
	venue := newFakeVenue("paperx")
	tr := newTestTracker(venue, &memStore{}, &memSink{}, nil)
	ctx := context.Background()

	o, _ := tr.Create(ctx, orderReq("ref-4", 1))
	require.NoError(t, tr.Submit(ctx, o.ID))

	err := tr.IngestFill(ctx, fill("ex-ref-4", "t1", 2, 100))
	require.ErrorIs(t, err, models.ErrFillExceedsOrder)
}

func TestFillAfterTerminalRefused(t *testing.T) {
	venue := newFakeVenue("paperx")
	tr := newTestTracker(venue, &memStore{}, &memSink{}, nil)
	ctx := context.Background()

	o, _ := tr.Create(ctx, orderReq("ref-5", 1))
	require.NoError(t, tr.Submit(ctx, o.ID))
	require.NoError(t, tr.IngestFill(ctx, fill("ex-ref-5", "t1", 1, 100)))

	err := tr.IngestFill(ctx, fill("ex-ref-5", "t2", 1, 100))
	require.ErrorIs(t, err, models.ErrTerminalOrder)
}

func TestFillBeforeAckBuffered(t *testing.T) {
	venue := newFakeVenue("paperx")
	applier := &recordingApplier{}
	tr := newTestTracker(venue, &memStore{}, &memSink{}, applier)
	ctx := context.Background()

	// fill for an exchange ref nobody has seen yet
	require.NoError(t, tr.IngestFill(ctx, fill("ex-ref-6", "t1", 1, 100)))
	require.Empty(t, applier.fills)

	o, _ := tr.Create(ctx, orderReq("ref-6", 1))
	require.NoError(t, tr.Submit(ctx, o.ID))

	// buffered fill replayed on acknowledgement
	got, _ := tr.Get(o.ID)
	require.Equal(t, models.StatusFilled, got.Status)
	require.Len(t, applier.fills, 1)
}

func TestPermanentRejectionTerminal(t *testing.T) {
	venue := newFakeVenue("paperx")
	venue.place = func(ctx context.Context, req models.OrderRequest) (*models.Ack, error) {
		return nil, &models.PermanentExchangeError{Venue: "paperx", Reason: "insufficient funds"}
	}
	tr := newTestTracker(venue, &memStore{}, &memSink{}, nil)
	ctx := context.Background()

	o, _ := tr.Create(ctx, orderReq("ref-7", 1))
	err := tr.Submit(ctx, o.ID)
	require.Error(t, err)
	require.True(t, models.IsPermanent(err))

	got, _ := tr.Get(o.ID)
	require.Equal(t, models.StatusRejected, got.Status)
}

func TestTimeoutReconcileUnknownFails(t *testing.T) {
	venue := newFakeVenue("paperx")
	venue.place = func(ctx context.Context, req models.OrderRequest) (*models.Ack, error) {
		return nil, &models.TransientExchangeError{Venue: "paperx", Err: errors.New("timeout")}
	}
	// GetOrderStatus default returns (nil, nil): venue never saw it
	tr := newTestTracker(venue, &memStore{}, &memSink{}, nil)
	ctx := context.Background()

	o, _ := tr.Create(ctx, orderReq("ref-8", 1))
	require.Error(t, tr.Submit(ctx, o.ID))

	got, _ := tr.Get(o.ID)
	require.Equal(t, models.StatusFailed, got.Status)
}

func TestTimeoutReconcileErrorQuarantines(t *testing.T) {
	venue := newFakeVenue("paperx")
	venue.place = func(ctx context.Context, req models.OrderRequest) (*models.Ack, error) {
		return nil, &models.TransientExchangeError{Venue: "paperx", Err: errors.New("timeout")}
	}
	venue.status = func(ctx context.Context, exchangeRef string) (*models.OrderSnapshot, error) {
		return nil, errors.New("status endpoint down")
	}
	tr := newTestTracker(venue, &memStore{}, &memSink{}, nil)
	ctx := context.Background()

	o, _ := tr.Create(ctx, orderReq("ref-9", 1))
	require.Error(t, tr.Submit(ctx, o.ID))

	got, _ := tr.Get(o.ID)
	require.Equal(t, models.StatusQuarantined, got.Status)
}

func TestTimeoutReconcileRecoversAck(t *testing.T) {
	venue := newFakeVenue("paperx")
	venue.place = func(ctx context.Context, req models.OrderRequest) (*models.Ack, error) {
		return nil, &models.TransientExchangeError{Venue: "paperx", Err: errors.New("timeout")}
	}
	venue.status = func(ctx context.Context, exchangeRef string) (*models.OrderSnapshot, error) {
		return &models.OrderSnapshot{
			ExchangeRef: "ex-recovered",
			Status:      models.StatusAcknowledged,
			AsOf:        time.Now(),
		}, nil
	}
	tr := newTestTracker(venue, &memStore{}, &memSink{}, nil)
	ctx := context.Background()

	o, _ := tr.Create(ctx, orderReq("ref-10", 1))
	require.NoError(t, tr.Submit(ctx, o.ID))

	got, _ := tr.Get(o.ID)
	require.Equal(t, models.StatusAcknowledged, got.Status)
	require.Equal(t, "ex-recovered", got.ExchangeRef)
}

func TestCancelDeferredUntilAck(t *testing.T) {
	venue := newFakeVenue("paperx")
	store := &memStore{}
	tr := newTestTracker(venue, store, &memSink{}, nil)
	ctx := context.Background()

	o, _ := tr.Create(ctx, orderReq("ref-11", 1))

	// cancel while the place call is still in flight
	venue.place = func(ctx context.Context, req models.OrderRequest) (*models.Ack, error) {
		require.NoError(t, tr.RequestCancel(ctx, o.ID))
		return &models.Ack{ClientRef: req.ClientRef, ExchangeRef: "ex-ref-11", At: time.Now()}, nil
	}
	require.NoError(t, tr.Submit(ctx, o.ID))

	venue.mu.Lock()
	defer venue.mu.Unlock()
	require.Equal(t, []string{"ex-ref-11"}, venue.cancels)
}

func TestCancelBeforeSubmission(t *testing.T) {
	venue := newFakeVenue("paperx")
	tr := newTestTracker(venue, &memStore{}, &memSink{}, nil)
	ctx := context.Background()

	o, _ := tr.Create(ctx, orderReq("ref-12", 1))
	require.ErrorIs(t, tr.RequestCancel(ctx, o.ID), models.ErrValidation)
}

func TestCancelTerminalOrder(t *testing.T) {
	venue := newFakeVenue("paperx")
	tr := newTestTracker(venue, &memStore{}, &memSink{}, nil)
	ctx := context.Background()

	o, _ := tr.Create(ctx, orderReq("ref-13", 1))
	require.NoError(t, tr.Submit(ctx, o.ID))
	require.NoError(t, tr.IngestFill(ctx, fill("ex-ref-13", "t1", 1, 100)))

	require.ErrorIs(t, tr.RequestCancel(ctx, o.ID), models.ErrTerminalOrder)
}

func TestSnapshotConflictQuarantines(t *testing.T) {
	venue := newFakeVenue("paperx")
	tr := newTestTracker(venue, &memStore{}, &memSink{}, nil)
	ctx := context.Background()

	o, _ := tr.Create(ctx, orderReq("ref-14", 2))
	require.NoError(t, tr.Submit(ctx, o.ID))
	require.NoError(t, tr.IngestFill(ctx, fill("ex-ref-14", "t1", 1, 100)))

	// exchange claims fewer fills than its own stream delivered
	err := tr.ApplySnapshot(ctx, o.ID, &models.OrderSnapshot{
		ExchangeRef:    "ex-ref-14",
		Status:         models.StatusAcknowledged,
		FilledQuantity: 0,
		AsOf:           time.Now(),
	})
	require.ErrorIs(t, err, models.ErrReconciliationConflict)

	got, _ := tr.Get(o.ID)
	require.Equal(t, models.StatusQuarantined, got.Status)
}

func TestSnapshotFinalizesCancel(t *testing.T) {
	venue := newFakeVenue("paperx")
	tr := newTestTracker(venue, &memStore{}, &memSink{}, nil)
	ctx := context.Background()

	o, _ := tr.Create(ctx, orderReq("ref-15", 2))
	require.NoError(t, tr.Submit(ctx, o.ID))
	require.NoError(t, tr.IngestFill(ctx, fill("ex-ref-15", "t1", 1, 100)))
	require.NoError(t, tr.RequestCancel(ctx, o.ID))

	// cancel is finalized only by the exchange's confirmation
	got, _ := tr.Get(o.ID)
	require.Equal(t, models.StatusPartiallyFilled, got.Status)
	require.True(t, got.CancelRequested)

	require.NoError(t, tr.ApplySnapshot(ctx, o.ID, &models.OrderSnapshot{
		ExchangeRef:    "ex-ref-15",
		Status:         models.StatusCancelled,
		FilledQuantity: 1,
		AsOf:           time.Now(),
	}))
	got, _ = tr.Get(o.ID)
	require.Equal(t, models.StatusCancelled, got.Status)
}

func TestUpdatedAtMonotonic(t *testing.T) {
	venue := newFakeVenue("paperx")
	tr := newTestTracker(venue, &memStore{}, &memSink{}, nil)
	ctx := context.Background()

	o, _ := tr.Create(ctx, orderReq("ref-16", 3))
	require.NoError(t, tr.Submit(ctx, o.ID))

	prev, _ := tr.Get(o.ID)
	for i, ref := range []string{"t1", "t2", "t3"} {
		require.NoError(t, tr.IngestFill(ctx, fill("ex-ref-16", ref, 1, 100+float64(i))))
		got, _ := tr.Get(o.ID)
		require.True(t, got.UpdatedAt.After(prev.UpdatedAt),
			"updated_at must advance: %v -> %v", prev.UpdatedAt, got.UpdatedAt)
		prev = got
	}
}
