package usecase

import (
	"context"
	"fmt"
	"sync"

	"TradePilot/internal/domain/models"
	drepo "TradePilot/internal/domain/repository"
	"TradePilot/pkg/logger"
	"TradePilot/pkg/util"
)

// PositionLedger maintains per-account positions from the fill stream.
// Average entry is quantity-weighted; reducing a position realizes P&L
// at the prior average; filling past flat flips the position with the
// excess opening at the fill price. Fill replay is idempotent via the
// exchange trade ref, so reconnect storms cannot double-count.
type PositionLedger struct {
	metrics drepo.Metrics
	logger  *logger.Logger
	clock   drepo.Clock

	mu        sync.RWMutex
	accounts  map[string]*accountBook
	seenRefs  map[string]struct{}
	dailyDate string // yyyy-mm-dd the daily counters belong to
}

type accountBook struct {
	equity        float64
	balance       float64
	positions     map[string]*models.Position
	dailyRealized float64
	marks         map[string]float64
}

// NewPositionLedger creates an empty ledger.
func NewPositionLedger(metrics drepo.Metrics, lgr *logger.Logger, clock drepo.Clock) *PositionLedger {
	if clock == nil {
		clock = drepo.SystemClock{}
	}
	return &PositionLedger{
		metrics:  metrics,
		logger:   lgr,
		clock:    clock,
		accounts: make(map[string]*accountBook),
		seenRefs: make(map[string]struct{}),
	}
}

// SeedAccount sets starting equity and balance for an account.
func (l *PositionLedger) SeedAccount(accountID string, equity, balance float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.bookLocked(accountID)
	b.equity = equity
	b.balance = balance
}

func (l *PositionLedger) bookLocked(accountID string) *accountBook {
	b, ok := l.accounts[accountID]
	if !ok {
		b = &accountBook{
			positions: make(map[string]*models.Position),
			marks:     make(map[string]float64),
		}
		l.accounts[accountID] = b
	}
	return b
}

// ApplyFill folds one fill into the account's position for the symbol
// carried on the fill's order. Replays of an already-seen trade ref
// return the current position unchanged.
func (l *PositionLedger) ApplyFill(ctx context.Context, accountID string, side models.OrderSide, f *models.Fill) (*models.Position, error) {
	if f.Quantity <= 0 {
		return nil, fmt.Errorf("%w: non-positive fill quantity", models.ErrValidation)
	}
	symbol := f.Symbol
	if symbol == "" {
		return nil, fmt.Errorf("%w: fill without symbol", models.ErrValidation)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollDayLocked()

	if _, seen := l.seenRefs[f.ExchangeTradeRef]; seen {
		b := l.bookLocked(accountID)
		if p, ok := b.positions[symbol]; ok {
			cp := *p
			return &cp, nil
		}
		return nil, fmt.Errorf("trade ref %s: %w", f.ExchangeTradeRef, models.ErrDuplicateTradeRef)
	}

	b := l.bookLocked(accountID)
	p, ok := b.positions[symbol]
	if !ok {
		p = &models.Position{AccountID: accountID, Symbol: symbol}
		b.positions[symbol] = p
	}

	signed := f.Quantity
	if side == models.SideSell {
		signed = -f.Quantity
	}

	realized := applySigned(p, signed, f.Price)
	realized -= f.Fee
	p.RealizedPnL += realized
	b.dailyRealized += realized
	b.balance += realized
	b.equity += realized
	p.UpdatedAt = l.clock.Now()

	l.seenRefs[f.ExchangeTradeRef] = struct{}{}
	l.metrics.RecordPosition(symbol, p.Quantity)

	if mark, ok := b.marks[symbol]; ok {
		p.UnrealizedPnL = p.Quantity * (mark - p.AverageEntryPrice)
	}

	cp := *p
	return &cp, nil
}

// applySigned mutates quantity and average entry, returning realized
// P&L from any reduced portion (fees excluded).
func applySigned(p *models.Position, qty, price float64) float64 {
	const eps = 1e-12

	// same direction or opening from flat: extend at weighted average
	if p.Quantity == 0 || (p.Quantity > 0) == (qty > 0) {
		total := p.Quantity + qty
		p.AverageEntryPrice = (p.AverageEntryPrice*abs(p.Quantity) + price*abs(qty)) / (abs(p.Quantity) + abs(qty))
		p.Quantity = total
		return 0
	}

	// opposite direction: reduce first
	reduce := abs(qty)
	if reduce >= abs(p.Quantity)-eps {
		// close fully, flip with the excess at the fill price
		closed := abs(p.Quantity)
		realized := realizedOnReduce(p, closed, price)
		excess := reduce - closed
		p.Quantity = 0
		p.AverageEntryPrice = 0
		if excess > eps {
			if qty > 0 {
				p.Quantity = excess
			} else {
				p.Quantity = -excess
			}
			p.AverageEntryPrice = price
		}
		return realized
	}

	realized := realizedOnReduce(p, reduce, price)
	if p.Quantity > 0 {
		p.Quantity -= reduce
	} else {
		p.Quantity += reduce
	}
	// average entry unchanged on partial reduction
	return realized
}

func realizedOnReduce(p *models.Position, qty, price float64) float64 {
	if p.Quantity > 0 {
		return qty * (price - p.AverageEntryPrice)
	}
	return qty * (p.AverageEntryPrice - price)
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

// MarkPrice updates unrealized P&L for every account holding symbol.
func (l *PositionLedger) MarkPrice(symbol string, price float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollDayLocked()
	for _, b := range l.accounts {
		b.marks[symbol] = price
		if p, ok := b.positions[symbol]; ok && p.Quantity != 0 {
			p.UnrealizedPnL = p.Quantity * (price - p.AverageEntryPrice)
		}
	}
	l.metrics.RecordLastPrice(symbol, price)
}

// GetAccountState snapshots the account as the risk validator's read
// model. The snapshot is a copy; mutating it does not touch the ledger.
func (l *PositionLedger) GetAccountState(ctx context.Context, accountID string) (*models.AccountState, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	b, ok := l.accounts[accountID]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", accountID, models.ErrUnknownAccount)
	}

	st := &models.AccountState{
		AccountID:        accountID,
		Equity:           b.equity,
		AvailableBalance: b.balance,
		DailyRealizedPnL: b.dailyRealized,
		AsOf:             l.clock.Now(),
	}
	for _, p := range b.positions {
		st.Positions = append(st.Positions, *p)
		st.DailyUnrealized += p.UnrealizedPnL
	}
	return st, nil
}

// Position returns a copy of one position, nil when flat and untracked.
func (l *PositionLedger) Position(accountID, symbol string) *models.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	b, ok := l.accounts[accountID]
	if !ok {
		return nil
	}
	p, ok := b.positions[symbol]
	if !ok {
		return nil
	}
	cp := *p
	return &cp
}

// rollDayLocked resets daily counters when the UTC date changes.
func (l *PositionLedger) rollDayLocked() {
	today := util.DayUTC(l.clock.Now())
	if l.dailyDate == today {
		return
	}
	if l.dailyDate != "" {
		for _, b := range l.accounts {
			b.dailyRealized = 0
		}
	}
	l.dailyDate = today
}

var _ drepo.AccountStateProvider = (*PositionLedger)(nil)
