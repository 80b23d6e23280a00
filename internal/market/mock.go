package market

import (
	"math/rand"
	"time"

	"github.com/shopspring/decimal"

	"settlement-core/pkg/money"
)

// RandomWalk generates synthetic candles for local runs. The same Seed always
// yields the same series.
type RandomWalk struct {
	Symbol     string
	StartPrice float64
	Step       float64 // max relative move per candle, e.g. 0.01
	Volume     float64
	Interval   time.Duration
	Start      time.Time
	Seed       int64
}

// Generate returns n candles.
func (m RandomWalk) Generate(n int) []Candle {
	price := m.StartPrice
	if price <= 0 {
		price = 100.0
	}
	step := m.Step
	if step <= 0 {
		step = 0.01
	}
	interval := m.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	volume := m.Volume
	if volume <= 0 {
		volume = 1000
	}
	symbol := m.Symbol
	if symbol == "" {
		symbol = "BTCUSDT"
	}
	rng := rand.New(rand.NewSource(m.Seed))

	out := make([]Candle, 0, n)
	at := m.Start
	for i := 0; i < n; i++ {
		open := price
		price = price * (1 + (rng.Float64()*2-1)*step)
		if price <= 0 {
			price = open
		}
		high := max(open, price) * (1 + rng.Float64()*step/2)
		low := min(open, price) * (1 - rng.Float64()*step/2)

		out = append(out, Candle{
			Symbol:   symbol,
			OpenTime: at,
			Open:     money.FromFloat(open),
			High:     money.FromFloat(high),
			Low:      money.FromFloat(low),
			Close:    money.FromFloat(price),
			Volume:   money.FromFloat(volume * (0.5 + rng.Float64())),
		})
		at = at.Add(interval)
	}
	return out
}

// WithVolume returns c with its volume replaced.
func (c Candle) WithVolume(v decimal.Decimal) Candle {
	c.Volume = money.Round(v)
	return c
}
