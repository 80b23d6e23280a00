package fees

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"settlement-core/internal/order"
	"settlement-core/pkg/money"
)

func TestPercentage(t *testing.T) {
	p := NewPercentage(0.1)

	testCases := []struct {
		name   string
		amount string
		want   string
	}{
		{name: "round notional", amount: "40", want: "0.04"},
		{name: "rounded to scale", amount: "39.956004", want: "0.039956"},
		{name: "zero", amount: "0", want: "0"},
		{name: "negative charges nothing", amount: "-5", want: "0"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := p.FeesOnAmount(money.MustParse(tc.amount), order.Limit, order.Buy)
			assert.True(t, got.Equal(money.MustParse(tc.want)), "got %s", got)
		})
	}

	assert.True(t, p.TakeFee(money.MustParse("40"), order.Limit, order.Buy).Equal(money.MustParse("39.96")))
}

func TestMakerTaker(t *testing.T) {
	p := Percentage{Maker: money.MustParse("0.1"), Taker: money.MustParse("0.2")}
	assert.True(t, p.FeesOnAmount(money.MustParse("100"), order.Limit, order.Sell).Equal(money.MustParse("0.1")))
	assert.True(t, p.FeesOnAmount(money.MustParse("100"), order.Market, order.Sell).Equal(money.MustParse("0.2")))
}

func TestOrderFees(t *testing.T) {
	p := NewPercentage(0.1)
	req, err := order.NewRequest("ADA", "USDT", order.Buy, order.Long, time.Now())
	require.NoError(t, err)
	req.SetPrice(money.MustParse("2"))
	req.SetQuantity(money.MustParse("50"))

	assert.True(t, p.FeesOnOrder(req).Equal(money.MustParse("0.1")))

	o := order.New(req)
	assert.True(t, p.FeesOnTotalOrderAmount(o).Equal(money.MustParse("0.1")))
	assert.True(t, p.FeesOnTradedAmount(o).IsZero())

	o.ApplyFill(money.MustParse("20"), money.MustParse("1.5"))
	assert.True(t, p.FeesOnTradedAmount(o).Equal(money.MustParse("0.03")))
	assert.True(t, Zero.FeesOnOrder(req).IsZero())
}
