package engine

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"settlement-core/internal/account"
	"settlement-core/internal/events"
	"settlement-core/internal/fees"
	"settlement-core/internal/fill"
	"settlement-core/internal/market"
	"settlement-core/pkg/logger"
)

// ErrSymbolHalted is returned for any operation on a symbol whose ledger
// reconciliation failed. The account's balances for that symbol can no longer
// be trusted.
var ErrSymbolHalted = errors.New("symbol halted after ledger fault")

// HaltError carries the fault that halted a symbol. It matches ErrSymbolHalted
// with errors.Is and unwraps to the original fault.
type HaltError struct {
	Symbol string
	Cause  error
}

func (e *HaltError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrSymbolHalted, e.Symbol, e.Cause)
}

func (e *HaltError) Is(target error) bool { return target == ErrSymbolHalted }

func (e *HaltError) Unwrap() error { return e.Cause }

// Config holds the collaborators of an Engine.
type Config struct {
	AccountID string
	Account   *account.Manager
	Fees      fees.TradingFees
	Emulator  fill.Emulator
	Prices    market.PriceSource
	Bus       *events.Bus
	Logger    *logger.Logger
}

// sharedPool is what a filled bracket parent left locked for its legs. Every
// leg holds the whole pool; only one of them ever settles against it.
type sharedPool struct {
	symbol string
	amount decimal.Decimal
}

// priceUpdater is implemented by price sources the engine can feed.
type priceUpdater interface {
	Update(k market.Candle)
}
