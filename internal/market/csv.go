package market

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"settlement-core/pkg/money"
)

// LoadCSV reads candles for symbol from a file of
// open_time_ms,open,high,low,close,volume rows. A header row is skipped.
func LoadCSV(path, symbol string) ([]Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadCSV(f, symbol)
}

func ReadCSV(r io.Reader, symbol string) ([]Candle, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var candles []Candle
	line := 0
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("read candles line %d: %w", line, err)
		}
		if len(rec) < 6 {
			return nil, fmt.Errorf("read candles line %d: want 6 fields, got %d", line, len(rec))
		}
		openTime, err := strconv.ParseInt(strings.TrimSpace(rec[0]), 10, 64)
		if err != nil {
			if line == 1 {
				continue // header
			}
			return nil, fmt.Errorf("read candles line %d: open time: %w", line, err)
		}

		var vals [5]decimal.Decimal
		for i := range vals {
			v, err := decimal.NewFromString(strings.TrimSpace(rec[i+1]))
			if err != nil {
				return nil, fmt.Errorf("read candles line %d field %d: %w", line, i+2, err)
			}
			vals[i] = money.Round(v)
		}

		k := Candle{
			Symbol:   symbol,
			OpenTime: time.UnixMilli(openTime).UTC(),
			Open:     vals[0],
			High:     vals[1],
			Low:      vals[2],
			Close:    vals[3],
			Volume:   vals[4],
		}
		if err := k.Validate(); err != nil {
			return nil, fmt.Errorf("read candles line %d: %w", line, err)
		}
		candles = append(candles, k)
	}
	return candles, nil
}
