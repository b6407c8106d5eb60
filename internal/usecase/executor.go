package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"TradePilot/internal/domain/models"
	drepo "TradePilot/internal/domain/repository"
	"TradePilot/pkg/logger"
)

// PartialPolicy decides what happens when routing cannot place the full
// recommended size within depth limits.
type PartialPolicy string

const (
	// PolicyRejectWhole drops the decision entirely; never trade a
	// fraction of what risk sizing approved.
	PolicyRejectWhole PartialPolicy = "reject_whole"
	// PolicyPlaceAvailable places the coverable portion.
	PolicyPlaceAvailable PartialPolicy = "place_available"
)

// ExecutorConfig wires the trade executor.
type ExecutorConfig struct {
	AccountID     string
	Policy        PartialPolicy
	TrailArm      float64 // profit fraction arming breakeven stop, default 0.10
	TrailLock     float64 // profit fraction locking gains, default 0.20
	BreakevenPad  float64 // stop pad above entry once armed, default 0.02
	LockedProfit  float64 // profit fraction kept once TrailLock hit, default 0.10
	SubmitTimeout time.Duration
}

func (c ExecutorConfig) withDefaults() ExecutorConfig {
	if c.Policy == "" {
		c.Policy = PolicyRejectWhole
	}
	if c.TrailArm <= 0 {
		c.TrailArm = 0.10
	}
	if c.TrailLock <= 0 {
		c.TrailLock = 0.20
	}
	if c.BreakevenPad <= 0 {
		c.BreakevenPad = 0.02
	}
	if c.LockedProfit <= 0 {
		c.LockedProfit = 0.10
	}
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = 15 * time.Second
	}
	return c
}

// exitPlan is the protective bracket kept against an open entry.
// Stops ratchet toward profit and never loosen.
type exitPlan struct {
	side       models.OrderSide
	entryPrice float64
	stopPrice  float64
	takeProfit float64
	closing    bool
}

// TradeExecutor drains fused signals through risk validation and
// routing into lifecycle-tracked orders, then babysits protective
// exits against price marks. One executor serves one account.
type TradeExecutor struct {
	cfg      ExecutorConfig
	accounts drepo.AccountStateProvider
	risk     *RiskValidator
	router   *OrderRouter
	tracker  *OrderTracker
	ledger   *PositionLedger
	store    drepo.OrderStore
	sink     drepo.EventSink
	metrics  drepo.Metrics
	logger   *logger.Logger

	mu    sync.Mutex
	exits map[string]*exitPlan // symbol -> active bracket
}

// NewTradeExecutor creates an executor for one account.
func NewTradeExecutor(cfg ExecutorConfig, accounts drepo.AccountStateProvider, risk *RiskValidator, router *OrderRouter, tracker *OrderTracker, ledger *PositionLedger, store drepo.OrderStore, sink drepo.EventSink, metrics drepo.Metrics, lgr *logger.Logger) *TradeExecutor {
	return &TradeExecutor{
		cfg:      cfg.withDefaults(),
		accounts: accounts,
		risk:     risk,
		router:   router,
		tracker:  tracker,
		ledger:   ledger,
		store:    store,
		sink:     sink,
		metrics:  metrics,
		logger:   lgr,
		exits:    make(map[string]*exitPlan),
	}
}

// Run consumes fused signals until the channel closes or ctx is done.
func (e *TradeExecutor) Run(ctx context.Context, fused <-chan *models.FusedSignal) {
	for {
		select {
		case <-ctx.Done():
			return
		case fs, ok := <-fused:
			if !ok {
				return
			}
			if err := e.Execute(ctx, fs); err != nil {
				e.logger.Error("execute fused signal",
					logger.Error(err), logger.String("symbol", fs.Symbol))
			}
		}
	}
}

// Execute runs one fused signal end to end: validate, route, place.
func (e *TradeExecutor) Execute(ctx context.Context, fused *models.FusedSignal) error {
	account, err := e.accounts.GetAccountState(ctx, e.cfg.AccountID)
	if err != nil {
		return fmt.Errorf("account state: %w", err)
	}

	decision := e.risk.Validate(ctx, fused, account)
	if err := e.store.SaveDecision(ctx, decision); err != nil {
		e.logger.Error("persist risk decision", logger.Error(err))
	}

	if !decision.Approved() {
		if e.sink != nil {
			_ = e.sink.Emit(ctx, models.Event{
				Name:      models.EventRiskRejected,
				Key:       fused.Symbol,
				Payload:   decision,
				EmittedAt: time.Now(),
			})
		}
		e.logger.Info("decision rejected",
			logger.String("symbol", fused.Symbol),
			logger.Any("reasons", decision.Reasons))
		return nil
	}

	route, err := e.router.Route(ctx, decision)
	if err != nil {
		return fmt.Errorf("route: %w", err)
	}
	if route.InsufficientLiquidity && e.cfg.Policy == PolicyRejectWhole {
		e.metrics.RecordError("route_rejected_whole")
		e.logger.Warn("insufficient depth, decision dropped",
			logger.String("symbol", fused.Symbol),
			logger.Any("unplaced", route.Unplaced))
		return nil
	}
	if len(route.Requests) == 0 {
		return nil
	}

	for i := range route.Requests {
		req := route.Requests[i]
		req.AccountID = e.cfg.AccountID
		o, err := e.tracker.Create(ctx, req)
		if err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		if err := e.submit(ctx, o.ID); err != nil {
			e.logger.Error("submit order", logger.Error(err), logger.String("order_id", o.ID))
		}
	}

	e.armExits(fused.Symbol, decision)
	return nil
}

func (e *TradeExecutor) submit(ctx context.Context, orderID string) error {
	sctx, cancel := context.WithTimeout(ctx, e.cfg.SubmitTimeout)
	defer cancel()
	return e.tracker.Submit(sctx, orderID)
}

// armExits installs the protective bracket for an entry. Re-arming the
// same symbol keeps the tighter stop.
func (e *TradeExecutor) armExits(symbol string, d *models.RiskDecision) {
	side := models.SideBuy
	if d.FusedSignal.Direction == models.DirectionSell {
		side = models.SideSell
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	plan, ok := e.exits[symbol]
	if !ok || plan.closing {
		e.exits[symbol] = &exitPlan{
			side:       side,
			entryPrice: d.EntryPrice,
			stopPrice:  d.StopPrice,
			takeProfit: d.TakeProfitPrice,
		}
		return
	}
	if tighter(side, d.StopPrice, plan.stopPrice) {
		plan.stopPrice = d.StopPrice
	}
}

// OnMark evaluates protective exits against a fresh price. Trailing
// rules ratchet the stop: past TrailArm profit the stop moves to
// breakeven plus a pad, past TrailLock it locks in gains.
func (e *TradeExecutor) OnMark(ctx context.Context, symbol string, price float64) {
	e.mu.Lock()
	plan, ok := e.exits[symbol]
	if !ok || plan.closing || price <= 0 {
		e.mu.Unlock()
		return
	}

	profit := (price - plan.entryPrice) / plan.entryPrice
	if plan.side == models.SideSell {
		profit = -profit
	}

	switch {
	case profit >= e.cfg.TrailLock:
		e.ratchet(plan, e.cfg.LockedProfit)
	case profit >= e.cfg.TrailArm:
		e.ratchet(plan, e.cfg.BreakevenPad)
	}

	exit := ""
	if plan.side == models.SideBuy {
		if price <= plan.stopPrice {
			exit = "stop_loss"
		} else if price >= plan.takeProfit {
			exit = "take_profit"
		}
	} else {
		if price >= plan.stopPrice {
			exit = "stop_loss"
		} else if price <= plan.takeProfit {
			exit = "take_profit"
		}
	}
	if exit == "" {
		e.mu.Unlock()
		return
	}
	plan.closing = true
	e.mu.Unlock()

	e.logger.Info("protective exit triggered",
		logger.String("symbol", symbol),
		logger.String("kind", exit),
		logger.Any("price", price))
	if err := e.closePosition(ctx, symbol); err != nil {
		e.logger.Error("close position", logger.Error(err), logger.String("symbol", symbol))
		e.mu.Lock()
		plan.closing = false // retry on the next mark
		e.mu.Unlock()
		return
	}
	e.mu.Lock()
	delete(e.exits, symbol)
	e.mu.Unlock()
}

// ratchet tightens the stop to entry*(1±lockFraction); stops only move
// in the protective direction.
func (e *TradeExecutor) ratchet(plan *exitPlan, lockFraction float64) {
	var candidate float64
	if plan.side == models.SideBuy {
		candidate = plan.entryPrice * (1 + lockFraction)
	} else {
		candidate = plan.entryPrice * (1 - lockFraction)
	}
	if tighter(plan.side, candidate, plan.stopPrice) {
		plan.stopPrice = candidate
	}
}

func tighter(side models.OrderSide, candidate, current float64) bool {
	if side == models.SideBuy {
		return candidate > current
	}
	return candidate < current
}

// closePosition flattens the ledger position with a market order on the
// best venue.
func (e *TradeExecutor) closePosition(ctx context.Context, symbol string) error {
	pos := e.ledger.Position(e.cfg.AccountID, symbol)
	if pos == nil || pos.Quantity == 0 {
		return nil
	}

	closeSide := models.SideSell
	qty := pos.Quantity
	if qty < 0 {
		closeSide = models.SideBuy
		qty = -qty
	}

	best, ok := e.router.BestVenue(ctx, symbol, closeSide)
	if !ok {
		return fmt.Errorf("close %s: %w", symbol, models.ErrInsufficientLiquidity)
	}

	o, err := e.tracker.Create(ctx, models.OrderRequest{
		AccountID: e.cfg.AccountID,
		ClientRef: fmt.Sprintf("close-%s-%d", symbol, time.Now().UnixNano()),
		Venue:     best,
		Symbol:    symbol,
		Side:      closeSide,
		Type:      models.TypeMarket,
		Quantity:  qty,
	})
	if err != nil {
		return err
	}
	return e.submit(ctx, o.ID)
}
