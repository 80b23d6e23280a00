// Package engine provides the execution core of one simulated trading account.
// It admits order requests against the account's ledger, advances open orders
// on every candle and reconciles balances as orders fill, trigger and cancel.
// Callers outside the package should depend on the Service interface.
package engine

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"settlement-core/internal/balance"
	"settlement-core/internal/market"
	"settlement-core/internal/order"
)

// Service defines the operations a simulation driver performs on an account.
type Service interface {
	// Commands
	ExecuteOrder(ctx context.Context, req *order.Request) (*order.Order, error)
	AdvanceOpenOrders(ctx context.Context, symbol string, candle *market.Candle) (bool, error)
	Cancel(ctx context.Context, orderID int64) (bool, error)

	// Order sizing
	SizedRequest(assets, funds string, side order.Side, dir order.Direction, price decimal.Decimal, at time.Time) (*order.Request, error)

	// Queries
	Order(id int64) (*order.Order, bool)
	OpenOrders(symbol string) []*order.Order
	Balance(symbol string) balance.Balance
	Balances() map[string]balance.Balance
	TotalHoldings() decimal.Decimal
	Holds() map[string]decimal.Decimal
	Halted(symbol string) error
}

var _ Service = (*Engine)(nil)
