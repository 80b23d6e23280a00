package engine

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"settlement-core/internal/events"
	"settlement-core/internal/market"
	"settlement-core/internal/order"
	"settlement-core/pkg/logger"
	"settlement-core/pkg/money"
)

// AdvanceOpenOrders moves every open order of symbol forward by one candle:
// pending triggers are checked, active orders are offered to the fill
// emulator, and whatever filled or finalized is reconciled. A nil candle only
// settles orders that were finalized since the last pass. It reports whether
// symbol had open orders.
func (e *Engine) AdvanceOpenOrders(ctx context.Context, symbol string, candle *market.Candle) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.halted[symbol]; err != nil {
		return false, err
	}
	if candle != nil {
		if u, ok := e.prices.(priceUpdater); ok {
			u.Update(*candle)
		}
	}
	return e.advance(ctx, symbol, candle)
}

// advance walks a snapshot of the open IDs. Orders closed during the walk
// are skipped; orders opened during it wait for the next candle.
func (e *Engine) advance(ctx context.Context, symbol string, candle *market.Candle) (bool, error) {
	ids := e.book.OpenIDs(symbol)
	if len(ids) == 0 {
		return false, nil
	}
	for _, id := range ids {
		o, ok := e.book.Get(id)
		if !ok || !e.book.IsOpen(o) {
			continue
		}
		if err := e.step(ctx, o, candle); err != nil {
			return true, err
		}
	}
	return true, nil
}

func (e *Engine) step(ctx context.Context, o *order.Order, candle *market.Candle) error {
	f := e.activateAndTryFill(ctx, o, candle)

	var triggered *order.Order
	if !o.IsFinalized() && o.FillPct().IsPositive() && len(o.Attachments()) > 0 {
		for _, leg := range e.book.Children(o) {
			if !leg.IsFinalized() && triggeredBy(leg, candle) {
				triggered = leg
				break
			}
		}
		if triggered != nil {
			o.Cancel()
			e.log.DebugContext(ctx, "attachment triggered before parent filled",
				logger.NewField("order_id", o.ID()),
				logger.NewField("leg_id", triggered.ID()),
			)
		}
	}

	if err := e.settle(ctx, o, f, candle, triggered == nil); err != nil {
		return err
	}
	if triggered != nil && money.IsPositive(triggered.Quantity()) {
		return e.handOff(ctx, o, triggered, candle)
	}
	return nil
}

// settle reconciles what happened to o during this pass. Finalized orders
// are retired; when handOffLegs is set their attachments are handed off.
func (e *Engine) settle(ctx context.Context, o *order.Order, f order.Fill, candle *market.Candle, handOffLegs bool) error {
	if o.IsFinalized() {
		return e.finalize(ctx, o, f, candle, handOffLegs)
	}
	if f.Empty() {
		return nil
	}
	if err := e.reconcile(ctx, o, f, candle); err != nil {
		return err
	}
	e.publish(events.EventOrderPartiallyFilled, o, f, at(candle, o))
	return nil
}

func (e *Engine) finalize(ctx context.Context, o *order.Order, f order.Fill, candle *market.Candle, handOffLegs bool) error {
	e.book.Close(o)
	o.SetFeesPaid(e.fees.FeesOnTradedAmount(o))

	legs := e.book.Children(o)
	for _, leg := range legs {
		leg.CapQuantity(o.ExecutedQuantity())
	}

	if err := e.reconcile(ctx, o, f, candle); err != nil {
		return err
	}

	topic := events.EventOrderFilled
	if o.IsCancelled() {
		topic = events.EventOrderCancelled
	}
	e.log.DebugContext(ctx, "order finalized",
		logger.NewField("order_id", o.ID()),
		logger.NewField("status", string(o.Status())),
		logger.NewField("executed", o.ExecutedQuantity().String()),
		logger.NewField("fees_paid", o.FeesPaid().String()),
	)
	e.publish(topic, o, f, at(candle, o))

	// the end of a bracket: only one leg may execute
	if o.HasParent() {
		if _, ok := e.shared[o.ParentID()]; ok {
			delete(e.shared, o.ParentID())
			e.retireSiblings(ctx, o, candle)
		}
	}

	if !money.IsPositive(o.ExecutedQuantity()) {
		for _, leg := range legs {
			if e.book.IsOpen(leg) || leg.Settled() {
				continue
			}
			leg.Cancel()
			leg.MarkSettled()
			e.publish(events.EventOrderCancelled, leg, order.Fill{}, at(candle, leg))
		}
		return nil
	}

	if handOffLegs {
		for _, leg := range legs {
			if err := e.handOff(ctx, o, leg, candle); err != nil {
				return err
			}
		}
	}
	return nil
}

// retireSiblings cancels the other legs of o's parent. They share the pool o
// just settled against, so they are closed without touching the ledger.
func (e *Engine) retireSiblings(ctx context.Context, o *order.Order, candle *market.Candle) {
	parent, ok := e.book.Get(o.ParentID())
	if !ok {
		return
	}
	for _, sib := range e.book.Children(parent) {
		if sib.ID() == o.ID() || sib.Settled() {
			continue
		}
		sib.Cancel()
		e.book.Close(sib)
		sib.MarkSettled()
		e.log.DebugContext(ctx, "sibling leg retired",
			logger.NewField("order_id", sib.ID()),
			logger.NewField("winner_id", o.ID()),
		)
		e.publish(events.EventOrderCancelled, sib, order.Fill{}, at(candle, sib))
	}
}

// handOff opens leg against what parent executed. The first hand-off for a
// parent locks one pool sized for the most demanding leg; every leg then
// holds that same pool.
func (e *Engine) handOff(ctx context.Context, parent, leg *order.Order, candle *market.Candle) error {
	if !money.IsPositive(parent.ExecutedQuantity()) || leg.IsFinalized() || leg.Settled() || e.book.IsOpen(leg) {
		return nil
	}

	pool, ok := e.shared[parent.ID()]
	if !ok {
		var err error
		if pool, err = e.openPool(parent); err != nil {
			return e.halt(ctx, parent.Symbol(), parent, err)
		}
		e.shared[parent.ID()] = pool
	}

	leg.SetHeld(pool.amount)
	leg.SetTime(at(candle, parent))
	e.book.Open(leg)
	e.log.DebugContext(ctx, "leg handed off",
		logger.NewField("order_id", leg.ID()),
		logger.NewField("parent_id", parent.ID()),
		logger.NewField("pool", pool.amount.String()),
		logger.NewField("pool_symbol", pool.symbol),
	)

	f := e.activateAndTryFill(ctx, leg, candle)
	return e.settle(ctx, leg, f, candle, true)
}

func (e *Engine) openPool(parent *order.Order) (sharedPool, error) {
	var pool sharedPool
	for _, leg := range e.book.Children(parent) {
		if leg.IsFinalized() {
			continue
		}
		sym, amount := e.requirement(leg)
		if sym == "" {
			continue
		}
		pool.symbol = sym
		pool.amount = decimal.Max(pool.amount, amount)
	}
	if pool.symbol == "" {
		return pool, nil
	}

	pool.amount = decimal.Min(pool.amount, e.ledger.Balance(pool.symbol).Free)
	if money.IsPositive(pool.amount) {
		if err := e.ledger.Lock(pool.symbol, pool.amount); err != nil {
			return pool, errors.Wrapf(err, "lock bracket pool of order %d", parent.ID())
		}
	}
	return pool, nil
}

// requirement is what o must hold locked to execute in full.
func (e *Engine) requirement(o *order.Order) (string, decimal.Decimal) {
	maxFee := e.fees.FeesOnTotalOrderAmount(o)
	switch {
	case o.IsLongSell():
		return o.AssetsSymbol(), o.Quantity()
	case o.IsLongBuy():
		return o.FundsSymbol(), money.Add(o.TotalOrderAmount(), maxFee)
	case o.IsShortSell():
		return o.FundsSymbol(), money.Add(e.collateral(o.TotalOrderAmount()), maxFee)
	}
	return "", decimal.Zero
}

func (e *Engine) activateAndTryFill(ctx context.Context, o *order.Order, candle *market.Candle) order.Fill {
	if candle == nil || o.IsFinalized() {
		return order.Fill{}
	}
	if !o.IsActive() && triggeredBy(o, candle) {
		o.Activate()
		e.log.DebugContext(ctx, "order triggered", logger.NewField("order_id", o.ID()))
		e.publish(events.EventOrderActivated, o, order.Fill{}, candle.OpenTime)
	}
	if !o.IsActive() {
		return order.Fill{}
	}
	return e.fillWithinBudget(ctx, o, *candle)
}

// fillWithinBudget offers o to the emulator and keeps what it pays within
// reach of the ledger. A buy filled above what it holds plus free funds is
// cut to what it can afford and cancelled. A cover that cannot be paid for
// waits for a later candle.
func (e *Engine) fillWithinBudget(ctx context.Context, o *order.Order, c market.Candle) order.Fill {
	if !o.IsLongBuy() && !o.IsShortCover() {
		return e.emulator.Fill(o, c)
	}
	offered := e.emulator.Fill(o.Clone(), c)
	if offered.Empty() {
		return offered
	}

	budget := e.budget(o)
	qty := offered.Quantity
	cost := e.fillCost(o, qty, offered.Price, c.Close)
	if !cost.GreaterThan(budget) {
		return o.ApplyFill(qty, offered.Price)
	}
	if o.IsShortCover() {
		e.log.DebugContext(ctx, "cover deferred, fill exceeds funds",
			logger.NewField("order_id", o.ID()),
			logger.NewField("cost", cost.String()),
			logger.NewField("budget", budget.String()),
		)
		return order.Fill{}
	}

	for i := 0; i < 8 && cost.GreaterThan(budget) && money.IsPositive(qty); i++ {
		qty = money.Mul(money.Mul(qty, money.Div(budget, cost)), order.SafetyFactor)
		cost = e.fillCost(o, qty, offered.Price, c.Close)
	}
	var f order.Fill
	if money.IsPositive(qty) && !cost.GreaterThan(budget) {
		f = o.ApplyFill(qty, offered.Price)
	}
	o.Cancel()
	e.log.WarnContext(ctx, "buy cut short by available funds",
		logger.NewField("order_id", o.ID()),
		logger.NewField("offered", offered.Quantity.String()),
		logger.NewField("filled", f.Quantity.String()),
		logger.NewField("price", offered.Price.String()),
	)
	return f
}

// budget is what a fill of o may draw on: the funds it holds plus free funds
// for a buy, free funds plus the margin reserve for a cover.
func (e *Engine) budget(o *order.Order) decimal.Decimal {
	funds := e.ledger.Balance(o.FundsSymbol())
	if o.IsShortCover() {
		return money.Add(funds.Free, funds.MarginReserve(o.AssetsSymbol()))
	}
	return money.Add(o.Held(), funds.Free)
}

// fillCost is what filling qty at price takes out of the budget by the time
// o settles, fees on everything o traded included. A cover also owes the
// reserve the rest of the short needs at mark.
func (e *Engine) fillCost(o *order.Order, qty, price, mark decimal.Decimal) decimal.Decimal {
	trial := o.Clone()
	f := trial.ApplyFill(qty, price)
	cost := money.Add(f.Value(), e.fees.FeesOnTradedAmount(trial))
	if o.IsShortCover() {
		if left := money.Sub(e.ledger.Balance(o.AssetsSymbol()).Shorted, f.Quantity); money.IsPositive(left) {
			cost = money.Add(cost, e.account.ApplyMarginReserve(money.Mul(left, mark)))
		}
	}
	return cost
}

// triggeredBy reports whether candle satisfies the trigger of o. A stop-gain
// fires once the low reaches the trigger price, a stop-loss once the high
// falls to it.
func triggeredBy(o *order.Order, candle *market.Candle) bool {
	if candle == nil {
		return false
	}
	price := o.Price()
	if tp := o.TriggerPrice(); tp.Valid {
		price = tp.Decimal
	}
	switch o.TriggerCondition() {
	case order.TriggerStopGain:
		return candle.Low.GreaterThanOrEqual(price)
	case order.TriggerStopLoss:
		return candle.High.LessThanOrEqual(price)
	}
	return false
}

func at(candle *market.Candle, o *order.Order) time.Time {
	if candle != nil {
		return candle.OpenTime
	}
	return o.Time()
}
