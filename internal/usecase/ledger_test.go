package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"TradePilot/internal/domain/models"
)

type adjustableClock struct{ t time.Time }

func (c *adjustableClock) Now() time.Time { return c.t }

func newTestLedger(clock *adjustableClock) *PositionLedger {
	l := NewPositionLedger(nopMetrics{}, testLogger(), clock)
	l.SeedAccount("acct-1", 10000, 10000)
	return l
}

func ledgerFill(tradeRef string, qty, price, fee float64) *models.Fill {
	return &models.Fill{
		OrderID:          "o1",
		Symbol:           "BTCUSDT",
		Quantity:         qty,
		Price:            price,
		Fee:              fee,
		ExchangeTradeRef: tradeRef,
		ReceivedAt:       time.Now(),
	}
}

func TestLedgerWeightedAverageEntry(t *testing.T) {
	clock := &adjustableClock{t: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	l := newTestLedger(clock)
	ctx := context.Background()

	p, err := l.ApplyFill(ctx, "acct-1", models.SideBuy, ledgerFill("t1", 1, 100, 0))
	require.NoError(t, err)
	require.InDelta(t, 100.0, p.AverageEntryPrice, 1e-9)

	p, err = l.ApplyFill(ctx, "acct-1", models.SideBuy, ledgerFill("t2", 1, 110, 0))
	require.NoError(t, err)
	require.InDelta(t, 2.0, p.Quantity, 1e-9)
	require.InDelta(t, 105.0, p.AverageEntryPrice, 1e-9)
}

func TestLedgerRealizedOnReduce(t *testing.T) {
	clock := &adjustableClock{t: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	l := newTestLedger(clock)
	ctx := context.Background()

	_, err := l.ApplyFill(ctx, "acct-1", models.SideBuy, ledgerFill("t1", 2, 100, 0))
	require.NoError(t, err)

	// sell 1 @ 120: realize (120-100)*1, average entry unchanged
	p, err := l.ApplyFill(ctx, "acct-1", models.SideSell, ledgerFill("t2", 1, 120, 0))
	require.NoError(t, err)
	require.InDelta(t, 1.0, p.Quantity, 1e-9)
	require.InDelta(t, 100.0, p.AverageEntryPrice, 1e-9)
	require.InDelta(t, 20.0, p.RealizedPnL, 1e-9)

	st, err := l.GetAccountState(ctx, "acct-1")
	require.NoError(t, err)
	require.InDelta(t, 20.0, st.DailyRealizedPnL, 1e-9)
	require.InDelta(t, 10020.0, st.Equity, 1e-9)
}

func TestLedgerFlipPosition(t *testing.T) {
	clock := &adjustableClock{t: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	l := newTestLedger(clock)
	ctx := context.Background()

	_, err := l.ApplyFill(ctx, "acct-1", models.SideBuy, ledgerFill("t1", 1, 100, 0))
	require.NoError(t, err)

	// sell 3 @ 90: close 1 long at -10, open 2 short at 90
	p, err := l.ApplyFill(ctx, "acct-1", models.SideSell, ledgerFill("t2", 3, 90, 0))
	require.NoError(t, err)
	require.InDelta(t, -2.0, p.Quantity, 1e-9)
	require.InDelta(t, 90.0, p.AverageEntryPrice, 1e-9)
	require.InDelta(t, -10.0, p.RealizedPnL, 1e-9)
}

func TestLedgerShortCoverRealizes(t *testing.T) {
	clock := &adjustableClock{t: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	l := newTestLedger(clock)
	ctx := context.Background()

	_, err := l.ApplyFill(ctx, "acct-1", models.SideSell, ledgerFill("t1", 2, 100, 0))
	require.NoError(t, err)

	p, err := l.ApplyFill(ctx, "acct-1", models.SideBuy, ledgerFill("t2", 2, 90, 0))
	require.NoError(t, err)
	require.InDelta(t, 0.0, p.Quantity, 1e-9)
	require.InDelta(t, 20.0, p.RealizedPnL, 1e-9)
}

func TestLedgerFeesSubtracted(t *testing.T) {
	clock := &adjustableClock{t: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	l := newTestLedger(clock)
	ctx := context.Background()

	p, err := l.ApplyFill(ctx, "acct-1", models.SideBuy, ledgerFill("t1", 1, 100, 0.5))
	require.NoError(t, err)
	require.InDelta(t, -0.5, p.RealizedPnL, 1e-9)

	st, _ := l.GetAccountState(ctx, "acct-1")
	require.InDelta(t, 9999.5, st.AvailableBalance, 1e-9)
}

func TestLedgerDuplicateTradeRefIgnored(t *testing.T) {
	clock := &adjustableClock{t: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	l := newTestLedger(clock)
	ctx := context.Background()

	_, err := l.ApplyFill(ctx, "acct-1", models.SideBuy, ledgerFill("t1", 1, 100, 0))
	require.NoError(t, err)
	p, err := l.ApplyFill(ctx, "acct-1", models.SideBuy, ledgerFill("t1", 1, 100, 0))
	require.NoError(t, err)
	require.InDelta(t, 1.0, p.Quantity, 1e-9)
}

func TestLedgerMarkPriceUnrealized(t *testing.T) {
	clock := &adjustableClock{t: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	l := newTestLedger(clock)
	ctx := context.Background()

	_, err := l.ApplyFill(ctx, "acct-1", models.SideBuy, ledgerFill("t1", 2, 100, 0))
	require.NoError(t, err)

	l.MarkPrice("BTCUSDT", 95)
	p := l.Position("acct-1", "BTCUSDT")
	require.NotNil(t, p)
	require.InDelta(t, -10.0, p.UnrealizedPnL, 1e-9)

	st, _ := l.GetAccountState(ctx, "acct-1")
	require.InDelta(t, -10.0, st.DailyUnrealized, 1e-9)
	require.InDelta(t, 10.0, st.DailyLoss(), 1e-9)
}

func TestLedgerDailyResetOnDateRoll(t *testing.T) {
	clock := &adjustableClock{t: time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC)}
	l := newTestLedger(clock)
	ctx := context.Background()

	_, err := l.ApplyFill(ctx, "acct-1", models.SideBuy, ledgerFill("t1", 1, 100, 0))
	require.NoError(t, err)
	_, err = l.ApplyFill(ctx, "acct-1", models.SideSell, ledgerFill("t2", 1, 80, 0))
	require.NoError(t, err)

	st, _ := l.GetAccountState(ctx, "acct-1")
	require.InDelta(t, -20.0, st.DailyRealizedPnL, 1e-9)

	// UTC midnight passes
	clock.t = clock.t.Add(2 * time.Hour)
	l.MarkPrice("BTCUSDT", 80)

	st, _ = l.GetAccountState(ctx, "acct-1")
	require.InDelta(t, 0.0, st.DailyRealizedPnL, 1e-9)
	// cumulative equity is untouched by the roll
	require.InDelta(t, 9980.0, st.Equity, 1e-9)
}

func TestLedgerRejectsBadFills(t *testing.T) {
	clock := &adjustableClock{t: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	l := newTestLedger(clock)
	ctx := context.Background()

	_, err := l.ApplyFill(ctx, "acct-1", models.SideBuy, ledgerFill("t1", 0, 100, 0))
	require.ErrorIs(t, err, models.ErrValidation)

	f := ledgerFill("t2", 1, 100, 0)
	f.Symbol = ""
	_, err = l.ApplyFill(ctx, "acct-1", models.SideBuy, f)
	require.ErrorIs(t, err, models.ErrValidation)
}

func TestLedgerUnknownAccount(t *testing.T) {
	clock := &adjustableClock{t: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	l := newTestLedger(clock)

	_, err := l.GetAccountState(context.Background(), "acct-ghost")
	require.ErrorIs(t, err, models.ErrUnknownAccount)
}
