package balance

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"settlement-core/pkg/money"
)

// Balance is what an account holds of one symbol. Margin reserves are kept on
// the funding symbol and keyed by the shorted asset.
type Balance struct {
	Symbol         string
	Free           decimal.Decimal
	Locked         decimal.Decimal
	Shorted        decimal.Decimal
	MarginReserves map[string]decimal.Decimal
}

// MarginReserve returns the reserve held against shorts of asset.
func (b Balance) MarginReserve(asset string) decimal.Decimal {
	return b.MarginReserves[asset]
}

// TotalMarginReserve sums the reserves held on this symbol.
func (b Balance) TotalMarginReserve() decimal.Decimal {
	total := decimal.Zero
	for _, r := range b.MarginReserves {
		total = money.Add(total, r)
	}
	return total
}

// Owned is free plus locked.
func (b Balance) Owned() decimal.Decimal {
	return money.Add(b.Free, b.Locked)
}

func (b Balance) IsEmpty() bool {
	return money.IsZero(b.Free) && money.IsZero(b.Locked) && money.IsZero(b.Shorted) && money.IsZero(b.TotalMarginReserve())
}

func (b Balance) clone() *Balance {
	c := b
	c.MarginReserves = make(map[string]decimal.Decimal, len(b.MarginReserves))
	for k, v := range b.MarginReserves {
		c.MarginReserves[k] = v
	}
	return &c
}

func (b Balance) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s{free=%s locked=%s", b.Symbol, b.Free, b.Locked)
	if !b.Shorted.IsZero() {
		fmt.Fprintf(&sb, " shorted=%s", b.Shorted)
	}
	assets := make([]string, 0, len(b.MarginReserves))
	for a, r := range b.MarginReserves {
		if !r.IsZero() {
			assets = append(assets, a)
		}
	}
	sort.Strings(assets)
	for _, a := range assets {
		fmt.Fprintf(&sb, " reserve[%s]=%s", a, b.MarginReserves[a])
	}
	sb.WriteString("}")
	return sb.String()
}
