package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"settlement-core/internal/account"
	"settlement-core/internal/balance"
	"settlement-core/internal/events"
	"settlement-core/internal/fees"
	"settlement-core/internal/fill"
	"settlement-core/internal/market"
	"settlement-core/internal/order"
	"settlement-core/pkg/logger"
	"settlement-core/pkg/money"
)

var (
	ErrUnknownOrder = errors.New("unknown order")

	// a resized order is only rechecked when it kept most of its target size
	closeEnough = decimal.RequireFromString("0.95")
	// long sells within this relative shortfall are trimmed to what is held
	sellTolerance = decimal.RequireFromString("0.00001")
)

// Engine executes orders for one account. Every command runs under a single
// mutex so balance mutations of the account never interleave.
type Engine struct {
	mu sync.Mutex

	id       string
	account  *account.Manager
	ledger   *balance.Ledger
	fees     fees.TradingFees
	emulator fill.Emulator
	prices   market.PriceSource
	bus      *events.Bus
	log      *logger.Logger

	book   *order.Book
	shared map[int64]sharedPool
	halted map[string]error
}

// New creates an engine. The account manager is required; a missing fee
// policy charges nothing and a missing emulator fills immediately.
func New(cfg Config) (*Engine, error) {
	if cfg.Account == nil {
		return nil, errors.New("engine: account manager is required")
	}
	if cfg.Fees == nil {
		cfg.Fees = fees.Zero
	}
	if cfg.Emulator == nil {
		cfg.Emulator = fill.Immediate{}
	}
	if cfg.Prices == nil {
		cfg.Prices = cfg.Account.Prices()
	}
	if cfg.Prices == nil {
		cfg.Prices = market.NewPriceCache()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}

	return &Engine{
		id:       cfg.AccountID,
		account:  cfg.Account,
		ledger:   cfg.Account.Ledger(),
		fees:     cfg.Fees,
		emulator: cfg.Emulator,
		prices:   cfg.Prices,
		bus:      cfg.Bus,
		log:      cfg.Logger.WithFields(logger.NewField("account", cfg.AccountID)),
		book:     order.NewBook(),
		shared:   make(map[int64]sharedPool),
		halted:   make(map[string]error),
	}, nil
}

func (e *Engine) AccountID() string { return e.id }

func (e *Engine) Account() *account.Manager { return e.account }

// ExecuteOrder admits req if the account can afford it, locks what the order
// consumes and opens it. A nil order with a nil error means the request was
// not admissible; errors are reserved for ledger faults and halted symbols.
// The engine may shrink the request's quantity, or fill in its price from the
// last close, before accepting it.
func (e *Engine) ExecuteOrder(ctx context.Context, req *order.Request) (*order.Order, error) {
	if req == nil {
		return nil, errors.New("nil order request")
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.halted[req.Symbol()]; err != nil {
		return nil, err
	}

	o, reason, err := e.admit(req)
	if err != nil {
		return nil, e.halt(ctx, req.Symbol(), nil, err)
	}
	if o == nil {
		e.reject(ctx, req, reason)
		return nil, nil
	}

	e.log.DebugContext(ctx, "order accepted",
		logger.NewField("order_id", o.ID()),
		logger.NewField("order", o.String()),
		logger.NewField("held", o.Held().String()),
		logger.NewField("attachments", len(o.Attachments())),
	)
	e.publish(events.EventOrderAccepted, o, order.Fill{}, o.Time())
	return o.Clone(), nil
}

// admit returns the opened order, or a rejection reason.
func (e *Engine) admit(req *order.Request) (*order.Order, string, error) {
	if req.IsCancelled() {
		return nil, "request cancelled", nil
	}
	asset, funds := req.AssetsSymbol(), req.FundsSymbol()

	if money.IsZero(req.Price()) {
		last, ok := e.prices.LastClose(req.Symbol())
		if !ok || money.IsZero(last) {
			return nil, "no price available for " + req.Symbol(), nil
		}
		req.SetPrice(last)
	}
	if !money.IsPositive(req.Quantity()) {
		return nil, "quantity is zero", nil
	}

	availFunds, availAssets := e.available(req)
	pool, pooled := e.shared[req.ParentOrderID()]
	if pooled {
		if req.IsBuy() {
			availFunds = pool.amount
		} else {
			availAssets = pool.amount
		}
	}

	notional := req.TotalOrderAmount()
	fee := e.fees.FeesOnOrder(req)
	hasFunds := money.AtLeast(money.Sub(availFunds, fee), notional)
	if !hasFunds && !req.IsLongSell() {
		maxAmount := money.Sub(decimal.Min(notional, availFunds), fee)
		if !money.IsPositive(maxAmount) {
			return nil, fmt.Sprintf("insufficient funds: %s %s available", availFunds, funds), nil
		}
		req.SetQuantity(money.Mul(money.Div(maxAmount, req.Price()), order.SafetyFactor))

		resized := req.TotalOrderAmount()
		if fee.LessThan(resized) && money.Div(resized, maxAmount).GreaterThan(closeEnough) {
			fee = e.fees.FeesOnOrder(req)
			notional = resized
			hasFunds = money.AtLeast(money.Sub(availFunds, fee), notional)
		}
	}

	var (
		held       decimal.Decimal
		lockSymbol string
	)
	switch {
	case req.IsLongBuy():
		if !hasFunds {
			return nil, fmt.Sprintf("insufficient funds: %s %s available for %s plus fees %s", availFunds, funds, notional, fee), nil
		}
		held, lockSymbol = money.Add(notional, fee), funds

	case req.IsLongSell():
		qty := req.Quantity()
		if money.Less(availAssets, qty) && money.IsPositive(availAssets) {
			shortfall := decimal.NewFromInt(1).Sub(availAssets.DivRound(qty, money.Scale+4))
			if shortfall.LessThan(sellTolerance) {
				req.SetQuantity(money.Mul(availAssets, order.SafetyFactor))
			}
		}
		if !money.AtLeast(availAssets, req.Quantity()) {
			return nil, fmt.Sprintf("insufficient assets: %s %s available", availAssets, asset), nil
		}
		held, lockSymbol = req.Quantity(), asset

	case req.IsShortSell():
		if !hasFunds {
			return nil, fmt.Sprintf("insufficient funds for margin: %s %s available", availFunds, funds), nil
		}
		held, lockSymbol = money.Add(e.collateral(notional), fee), funds

	case req.IsShortCover():
		if !hasFunds {
			return nil, fmt.Sprintf("insufficient funds to cover: %s %s available", availFunds, funds), nil
		}
	}

	if pooled {
		held = pool.amount
	} else if lockSymbol != "" && money.IsPositive(held) {
		if err := e.ledger.Lock(lockSymbol, held); err != nil {
			return nil, "", errors.Wrapf(err, "lock %s %s for %s", held, lockSymbol, req)
		}
	}

	o := order.New(req)
	o.SetHeld(held)
	if pooled {
		if parent, ok := e.book.Get(req.ParentOrderID()); ok {
			o.SetParent(parent.ID())
			parent.AddAttachment(o.ID())
		}
	}
	e.book.Open(o)

	for _, att := range req.Attachments() {
		child := order.New(att)
		child.SetParent(o.ID())
		o.AddAttachment(child.ID())
		e.book.Add(child)
	}
	return o, "", nil
}

// available returns the funds and assets a request may draw on. Covering a
// short may also spend the margin reserve; a short sale is measured against
// the quantity already shorted.
func (e *Engine) available(req *order.Request) (decimal.Decimal, decimal.Decimal) {
	funds := e.ledger.Balance(req.FundsSymbol())
	assets := e.ledger.Balance(req.AssetsSymbol())

	availFunds, availAssets := funds.Free, assets.Free
	if req.IsShort() {
		if req.IsBuy() {
			availFunds = money.Add(availFunds, funds.MarginReserve(req.AssetsSymbol()))
		} else {
			availAssets = assets.Shorted
		}
	}
	return availFunds, availAssets
}

// collateral is what a short of the given notional takes from free funds on
// top of the sale proceeds.
func (e *Engine) collateral(notional decimal.Decimal) decimal.Decimal {
	return money.Sub(e.account.ApplyMarginReserve(notional), notional)
}

func (e *Engine) reject(ctx context.Context, req *order.Request, reason string) {
	e.log.WarnContext(ctx, "order rejected",
		logger.NewField("request", req.String()),
		logger.NewField("reason", reason),
	)
	if e.bus != nil {
		e.bus.Publish(events.EventOrderRejected, events.RejectedEvent{
			AccountID: e.id,
			Request:   req.String(),
			Reason:    reason,
			At:        req.Time(),
		})
	}
}

// Cancel cancels an open order and settles it right away. Cancelling a
// FILLED order is a no-op reported as false.
func (e *Engine) Cancel(ctx context.Context, orderID int64) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, ok := e.book.Get(orderID)
	if !ok {
		return false, errors.Wrapf(ErrUnknownOrder, "order %d", orderID)
	}
	if err := e.halted[o.Symbol()]; err != nil {
		return false, err
	}
	if !o.Cancel() {
		return false, nil
	}

	e.log.DebugContext(ctx, "order cancelled", logger.NewField("order_id", o.ID()))
	if !e.book.IsOpen(o) {
		// a bracket leg that was never handed off holds nothing
		o.MarkSettled()
		e.publish(events.EventOrderCancelled, o, order.Fill{}, o.Time())
		return true, nil
	}
	if _, err := e.advance(ctx, o.Symbol(), nil); err != nil {
		return true, err
	}
	return true, nil
}

// SizedRequest builds a request sized from the account: buys and short sales
// take the allocation for the asset less fees, long sells dispose of every
// free unit and short covers buy back everything shorted. It returns nil when
// there is nothing to trade.
func (e *Engine) SizedRequest(assets, funds string, side order.Side, dir order.Direction, price decimal.Decimal, at time.Time) (*order.Request, error) {
	req, err := order.NewRequest(assets, funds, side, dir, at)
	if err != nil {
		return nil, err
	}
	if money.IsZero(price) {
		last, ok := e.prices.LastClose(req.Symbol())
		if !ok || money.IsZero(last) {
			return nil, nil
		}
		price = last
	}
	req.SetPrice(price)

	var qty decimal.Decimal
	switch {
	case req.IsLongBuy(), req.IsShortSell():
		amount := e.fees.TakeFee(e.account.AllocateFunds(assets, dir), req.Type(), side)
		qty = money.Mul(money.Div(amount, req.Price()), order.SafetyFactor)
	case req.IsLongSell():
		qty = e.ledger.Balance(assets).Free
	case req.IsShortCover():
		qty = e.ledger.Balance(assets).Shorted
	}
	if !money.IsPositive(qty) {
		return nil, nil
	}
	req.SetQuantity(qty)
	return req, nil
}

// Order returns a snapshot of the order with the given ID.
func (e *Engine) Order(id int64) (*order.Order, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.book.Get(id)
	if !ok {
		return nil, false
	}
	return o.Clone(), true
}

// OpenOrders returns snapshots of the open orders of symbol by ascending ID.
func (e *Engine) OpenOrders(symbol string) []*order.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	open := e.book.OpenOrders(symbol)
	out := make([]*order.Order, 0, len(open))
	for _, o := range open {
		out = append(out, o.Clone())
	}
	return out
}

func (e *Engine) Balance(symbol string) balance.Balance {
	return e.ledger.Balance(symbol)
}

func (e *Engine) Balances() map[string]balance.Balance {
	return e.ledger.Balances()
}

func (e *Engine) TotalHoldings() decimal.Decimal {
	return e.account.TotalHoldings()
}

// Holds returns, per symbol, what the open orders of the account hold
// locked. Legs sharing a bracket pool count it once, at the smallest amount
// any of them still holds.
func (e *Engine) Holds() map[string]decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[string]decimal.Decimal)
	pools := make(map[int64]decimal.Decimal)
	for _, sym := range e.book.Symbols() {
		for _, o := range e.book.OpenOrders(sym) {
			if o.HasParent() {
				if pool, ok := e.shared[o.ParentID()]; ok {
					if prev, seen := pools[o.ParentID()]; !seen || o.Held().LessThan(prev) {
						pools[o.ParentID()] = o.Held()
					}
					if _, ok := out[pool.symbol]; !ok && pool.symbol != "" {
						out[pool.symbol] = decimal.Zero
					}
					continue
				}
			}
			sym := heldSymbol(o)
			if sym == "" {
				continue
			}
			out[sym] = money.Add(out[sym], o.Held())
		}
	}
	for parent, held := range pools {
		if pool := e.shared[parent]; pool.symbol != "" {
			out[pool.symbol] = money.Add(out[pool.symbol], held)
		}
	}
	return out
}

// heldSymbol is the symbol an order holds locked, if any.
func heldSymbol(o *order.Order) string {
	switch {
	case o.IsLongSell():
		return o.AssetsSymbol()
	case o.IsLongBuy(), o.IsShortSell():
		return o.FundsSymbol()
	}
	return ""
}

// Halted returns the fault that halted symbol, or nil.
func (e *Engine) Halted(symbol string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.halted[symbol]
}

// halt marks symbol untrustworthy after a ledger fault.
func (e *Engine) halt(ctx context.Context, symbol string, o *order.Order, cause error) error {
	herr := &HaltError{Symbol: symbol, Cause: cause}
	e.halted[symbol] = herr

	fields := []logger.Field{logger.NewField("symbol", symbol)}
	if o != nil {
		fields = append(fields, logger.NewField("order", o.String()))
	}
	e.log.ErrorContext(ctx, cause, fields...)

	if e.bus != nil {
		var snap *order.Order
		if o != nil {
			snap = o.Clone()
		}
		e.bus.Publish(events.EventLedgerFault, events.OrderEvent{
			Topic:     events.EventLedgerFault,
			AccountID: e.id,
			Order:     snap,
			Err:       herr,
		})
	}
	return herr
}

func (e *Engine) publish(topic events.Event, o *order.Order, f order.Fill, at time.Time) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(topic, events.OrderEvent{
		Topic:     topic,
		AccountID: e.id,
		Order:     o.Clone(),
		Fill:      f,
		At:        at,
	})
}
