package engine

import (
	"context"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"settlement-core/internal/balance"
	"settlement-core/internal/market"
	"settlement-core/internal/order"
	"settlement-core/pkg/money"
)

// reconcile applies fill, and the final settlement of a finalized order, to
// the ledger in one transaction. A failure leaves the ledger untouched and
// halts the symbol. Settled orders are never reconciled again.
func (e *Engine) reconcile(ctx context.Context, o *order.Order, f order.Fill, candle *market.Candle) error {
	if o.Settled() {
		return nil
	}
	final := o.IsFinalized()

	s := &settlement{
		e:     e,
		o:     o,
		held:  o.Held(),
		close: e.markPrice(o, f, candle),
	}
	err := e.ledger.Update(func(tx *balance.Tx) error {
		s.tx = tx
		switch {
		case o.IsLongBuy():
			return s.longBuy(f, final)
		case o.IsLongSell():
			return s.longSell(f, final)
		case o.IsShortSell():
			return s.shortSell(f, final)
		case o.IsShortCover():
			return s.shortCover(f, final)
		}
		return nil
	})
	if err != nil {
		return e.halt(ctx, o.Symbol(), o, errors.Wrapf(err, "reconcile order %s with fill %s@%s", o, f.Quantity, f.Price))
	}

	o.SetHeld(s.held)
	if final {
		o.MarkSettled()
	}
	return nil
}

// markPrice is the close used to mark margin reserves.
func (e *Engine) markPrice(o *order.Order, f order.Fill, candle *market.Candle) decimal.Decimal {
	if candle != nil {
		return candle.Close
	}
	if last, ok := e.prices.LastClose(o.Symbol()); ok && money.IsPositive(last) {
		return last
	}
	return f.Price
}

// settlement is one reconciliation of one order. held tracks what the order
// still holds locked and is written back only if the transaction commits.
type settlement struct {
	e     *Engine
	o     *order.Order
	tx    *balance.Tx
	held  decimal.Decimal
	close decimal.Decimal
}

// Funds for the purchase were locked with the order; the bought assets are
// free as soon as they fill. Fees were reserved up front at their maximum.
func (s *settlement) longBuy(f order.Fill, final bool) error {
	funds, asset := s.o.FundsSymbol(), s.o.AssetsSymbol()
	if !f.Empty() {
		if err := s.tx.AddFree(asset, f.Quantity); err != nil {
			return err
		}
		if err := s.pay(funds, f.Value()); err != nil {
			return err
		}
	}
	if !final {
		return nil
	}
	if err := s.pay(funds, s.o.FeesPaid()); err != nil {
		return err
	}
	return s.releaseHeld(funds)
}

// Sold assets leave the locked balance; proceeds land in free funds with the
// fee taken out of them as they arrive.
func (s *settlement) longSell(f order.Fill, final bool) error {
	funds, asset := s.o.FundsSymbol(), s.o.AssetsSymbol()
	if !f.Empty() {
		value := f.Value()
		if err := s.tx.AddFree(funds, value); err != nil {
			return err
		}
		if err := s.pay(asset, f.Quantity); err != nil {
			return err
		}
		fee := s.e.fees.FeesOnAmount(value, s.o.Type(), s.o.Side())
		if err := s.tx.SubtractFree(funds, fee); err != nil {
			return err
		}
	}
	if !final {
		return nil
	}
	return s.releaseHeld(asset)
}

// A short sale moves its proceeds plus a slice of the locked collateral into
// the margin reserve, in proportion to the quantity filled.
func (s *settlement) shortSell(f order.Fill, final bool) error {
	funds, asset := s.o.FundsSymbol(), s.o.AssetsSymbol()
	if !f.Empty() {
		collateral := s.e.collateral(s.o.TotalOrderAmount())
		slice := money.Mul(money.Div(f.Quantity, s.o.Quantity()), collateral)
		if err := s.tx.AddMarginReserve(funds, asset, money.Add(slice, f.Value())); err != nil {
			return err
		}
		if err := s.pay(funds, slice); err != nil {
			return err
		}
		if err := s.tx.AddShorted(asset, f.Quantity); err != nil {
			return err
		}
	}
	if !final {
		return nil
	}
	if err := s.pay(funds, s.o.FeesPaid()); err != nil {
		return err
	}
	return s.releaseHeld(funds)
}

// Covering pays for the bought-back assets out of the margin reserve and
// marks what is left of the short to market. Buying more than is shorted
// closes the short and opens a long position with the remainder. Both parts
// are priced at this fill, not the order's average, so a cover filled over
// several candles pays what each slice cost.
func (s *settlement) shortCover(f order.Fill, final bool) error {
	funds, asset := s.o.FundsSymbol(), s.o.AssetsSymbol()
	if !f.Empty() {
		shorted := s.tx.Shorted(asset)
		if f.Quantity.GreaterThan(shorted) {
			remainder := money.Sub(f.Quantity, shorted)
			if err := s.tx.SubtractShorted(asset, shorted); err != nil {
				return err
			}
			if err := s.tx.MarkMarginReserve(funds, asset, money.Mul(shorted, f.Price), decimal.Zero); err != nil {
				return err
			}
			if err := s.tx.AddFree(asset, remainder); err != nil {
				return err
			}
			if err := s.tx.SubtractFree(funds, money.Mul(remainder, f.Price)); err != nil {
				return err
			}
		} else {
			if err := s.tx.SubtractShorted(asset, f.Quantity); err != nil {
				return err
			}
			if err := s.markToMarket(funds, asset, f.Value()); err != nil {
				return err
			}
		}
	}
	if !final {
		return nil
	}
	return s.tx.SubtractFree(funds, s.o.FeesPaid())
}

// markToMarket pays spent out of the reserve and resizes the reserve to what
// the remaining short requires at the mark price.
func (s *settlement) markToMarket(funds, asset string, spent decimal.Decimal) error {
	target := decimal.Zero
	if remaining := s.tx.Shorted(asset); money.IsPositive(remaining) {
		target = s.e.account.ApplyMarginReserve(money.Mul(remaining, s.close))
	}
	return s.tx.MarkMarginReserve(funds, asset, spent, target)
}

// pay spends amount of symbol out of what the order holds locked, taking any
// excess from free.
func (s *settlement) pay(symbol string, amount decimal.Decimal) error {
	if !money.IsPositive(amount) {
		return nil
	}
	take := decimal.Min(amount, s.held)
	if take.IsPositive() {
		if err := s.tx.SubtractLocked(symbol, take); err != nil {
			return err
		}
		s.held = money.Sub(s.held, take)
	}
	if rest := money.Sub(amount, take); rest.IsPositive() {
		return s.tx.SubtractFree(symbol, rest)
	}
	return nil
}

// releaseHeld returns everything the order still holds to free.
func (s *settlement) releaseHeld(symbol string) error {
	held := s.held
	s.held = decimal.Zero
	if !money.IsPositive(held) {
		return nil
	}
	return s.tx.Release(symbol, held)
}
