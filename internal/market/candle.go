package market

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"settlement-core/pkg/money"
)

// Candle is one price tick for a symbol.
type Candle struct {
	Symbol   string
	OpenTime time.Time
	Open     decimal.Decimal
	High     decimal.Decimal
	Low      decimal.Decimal
	Close    decimal.Decimal
	Volume   decimal.Decimal
}

// Flat returns a candle whose open, high, low and close are all price.
func Flat(symbol string, at time.Time, price, volume decimal.Decimal) Candle {
	price = money.Round(price)
	return Candle{
		Symbol:   symbol,
		OpenTime: at,
		Open:     price,
		High:     price,
		Low:      price,
		Close:    price,
		Volume:   money.Round(volume),
	}
}

// Validate checks the OHLC ordering.
func (c Candle) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("candle without symbol at %s", c.OpenTime)
	}
	if c.Low.GreaterThan(c.High) {
		return fmt.Errorf("candle %s at %s: low %s above high %s", c.Symbol, c.OpenTime, c.Low, c.High)
	}
	for _, p := range []decimal.Decimal{c.Open, c.Close} {
		if p.LessThan(c.Low) || p.GreaterThan(c.High) {
			return fmt.Errorf("candle %s at %s: %s outside [%s, %s]", c.Symbol, c.OpenTime, p, c.Low, c.High)
		}
	}
	if c.Volume.IsNegative() {
		return fmt.Errorf("candle %s at %s: negative volume", c.Symbol, c.OpenTime)
	}
	return nil
}
