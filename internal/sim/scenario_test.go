package sim

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"settlement-core/internal/order"
	"settlement-core/pkg/money"
)

const sampleScenario = `
accounts:
  - id: alice
    balances:
      USDT: 100
    limits:
      max_amount_per_trade: 40
  - id: bob
    balances:
      USDT: "100"
orders:
  - account: alice
    at: 0
    assets: ADA
    funds: USDT
    side: BUY
    direction: LONG
    price: 1.0
    sized: true
    attach:
      - change_pct: -1
      - change_pct: 2
        type: LIMIT
  - account: bob
    at: 0
    assets: ADA
    funds: USDT
    side: BUY
    direction: LONG
    price: 0.5
    quantity: 10
    cancel_after: 2
  - account: bob
    at: 1
    assets: ADA
    funds: USDT
    side: SELL
    direction: LONG
    type: MARKET
    quantity: 5
    trigger:
      condition: STOP_LOSS
      price: 0.8
`

func TestParseScenario(t *testing.T) {
	sc, err := ParseScenario([]byte(sampleScenario))
	require.NoError(t, err)

	require.Len(t, sc.Accounts, 2)
	assert.Equal(t, "alice", sc.Accounts[0].ID)
	assert.True(t, sc.Accounts[0].Balances["USDT"].Equal(money.MustParse("100")))
	require.NotNil(t, sc.Accounts[0].Limits.MaxAmountPerTrade)
	assert.Equal(t, 40.0, *sc.Accounts[0].Limits.MaxAmountPerTrade)
	assert.True(t, sc.Accounts[1].Balances["USDT"].Equal(money.MustParse("100")))

	require.Len(t, sc.Orders, 3)
	assert.True(t, sc.Orders[0].Sized)
	assert.Equal(t, order.Limit, sc.Orders[0].Type, "type defaults to LIMIT")
	require.Len(t, sc.Orders[0].Attach, 2)
	assert.Equal(t, 2, sc.Orders[1].CancelAfter)
	require.NotNil(t, sc.Orders[2].Trigger)
	assert.Equal(t, order.TriggerStopLoss, sc.Orders[2].Trigger.Condition)
}

func TestParseScenarioRejectsInvalid(t *testing.T) {
	testCases := []struct {
		name string
		yaml string
	}{
		{name: "unknown field", yaml: "accounts: [{id: a, cash: 1}]"},
		{name: "missing account id", yaml: "accounts: [{balances: {USDT: 1}}]"},
		{name: "duplicate account", yaml: "accounts: [{id: a}, {id: a}]"},
		{name: "negative balance", yaml: "accounts: [{id: a, balances: {USDT: -1}}]"},
		{name: "unknown order account", yaml: "accounts: [{id: a}]\norders: [{account: b, assets: ADA, funds: USDT, side: BUY, direction: LONG, quantity: 1}]"},
		{name: "bad side", yaml: "accounts: [{id: a}]\norders: [{account: a, assets: ADA, funds: USDT, side: HOLD, direction: LONG, quantity: 1}]"},
		{name: "bad direction", yaml: "accounts: [{id: a}]\norders: [{account: a, assets: ADA, funds: USDT, side: BUY, direction: UP, quantity: 1}]"},
		{name: "no quantity", yaml: "accounts: [{id: a}]\norders: [{account: a, assets: ADA, funds: USDT, side: BUY, direction: LONG}]"},
		{name: "bad trigger", yaml: "accounts: [{id: a}]\norders: [{account: a, assets: ADA, funds: USDT, side: BUY, direction: LONG, quantity: 1, trigger: {condition: SOMETIME}}]"},
		{name: "zero attachment", yaml: "accounts: [{id: a}]\norders: [{account: a, assets: ADA, funds: USDT, side: BUY, direction: LONG, quantity: 1, attach: [{change_pct: 0}]}]"},
		{name: "negative cancel_after", yaml: "accounts: [{id: a}]\norders: [{account: a, assets: ADA, funds: USDT, side: BUY, direction: LONG, quantity: 1, cancel_after: -1}]"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tc.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadScenario(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleScenario), 0o644))

	sc, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Len(t, sc.Orders, 3)

	_, err = LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestOrderSpecBuild(t *testing.T) {
	sc, err := ParseScenario([]byte(sampleScenario))
	require.NoError(t, err)
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	eng, err := newEngine("bob")
	require.NoError(t, err)

	req, err := sc.Orders[1].Build(eng, money.MustParse("1"), at)
	require.NoError(t, err)
	require.NotNil(t, req)
	assert.True(t, req.Price().Equal(money.MustParse("0.5")))
	assert.True(t, req.Quantity().Equal(money.MustParse("10")))
	assert.Equal(t, at, req.Time())

	req, err = sc.Orders[2].Build(eng, money.MustParse("1.2"), at)
	require.NoError(t, err)
	assert.Equal(t, order.Market, req.Type())
	assert.True(t, req.Price().Equal(money.MustParse("1.2")), "last close when unpriced")
	assert.True(t, req.TriggerPrice().Decimal.Equal(money.MustParse("0.8")))
	assert.False(t, req.IsActive())

	// sized against an empty account: nothing to trade
	req, err = sc.Orders[0].Build(eng, money.MustParse("1"), at)
	require.NoError(t, err)
	assert.Nil(t, req)
}
