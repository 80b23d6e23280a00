package order

import (
	"github.com/shopspring/decimal"

	"settlement-core/pkg/money"
)

// Fill is the quantity executed since the previous fill attempt and the price
// it executed at. The zero value means nothing filled.
type Fill struct {
	Quantity decimal.Decimal
	Price    decimal.Decimal
}

// Empty reports whether no quantity was filled.
func (f Fill) Empty() bool { return !money.IsPositive(f.Quantity) }

// Value is the notional of the fill.
func (f Fill) Value() decimal.Decimal { return money.Mul(f.Quantity, f.Price) }
