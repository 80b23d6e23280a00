package balance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"settlement-core/pkg/money"
)

func TestLockRelease(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.SetFree("USDT", money.MustParse("100")))

	require.NoError(t, l.Lock("USDT", money.MustParse("39.99596")))
	b := l.Balance("USDT")
	assert.True(t, b.Free.Equal(money.MustParse("60.00404")))
	assert.True(t, b.Locked.Equal(money.MustParse("39.99596")))

	require.NoError(t, l.Release("USDT", money.MustParse("39.99596")))
	b = l.Balance("USDT")
	assert.True(t, b.Free.Equal(money.MustParse("100")))
	assert.True(t, b.Locked.IsZero())
}

func TestLockBeyondFreeFails(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.SetFree("USDT", money.MustParse("10")))

	err := l.Lock("USDT", money.MustParse("10.5"))
	require.ErrorIs(t, err, ErrNegativeBalance)

	b := l.Balance("USDT")
	assert.True(t, b.Free.Equal(money.MustParse("10")), "failed lock must not change free")
	assert.True(t, b.Locked.IsZero())
}

func TestResidueWithinEpsilonClampsToZero(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.SetFree("ADA", money.MustParse("1")))

	require.NoError(t, l.Update(func(tx *Tx) error {
		return tx.SubtractFree("ADA", money.MustParse("1.00000005"))
	}))
	assert.True(t, l.Balance("ADA").Free.IsZero())
	assert.False(t, l.Balance("ADA").Free.IsNegative())
}

func TestUpdateIsAtomic(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.SetFree("USDT", money.MustParse("50")))
	require.NoError(t, l.SetFree("ADA", money.MustParse("5")))

	err := l.Update(func(tx *Tx) error {
		if err := tx.AddFree("ADA", money.MustParse("10")); err != nil {
			return err
		}
		if err := tx.Lock("USDT", money.MustParse("20")); err != nil {
			return err
		}
		// reads see the writes made earlier in the same transaction
		assert.True(t, tx.Free("ADA").Equal(money.MustParse("15")))
		return tx.SubtractLocked("USDT", money.MustParse("30"))
	})
	require.ErrorIs(t, err, ErrNegativeBalance)

	assert.True(t, l.Balance("ADA").Free.Equal(money.MustParse("5")))
	assert.True(t, l.Balance("USDT").Free.Equal(money.MustParse("50")))
	assert.True(t, l.Balance("USDT").Locked.IsZero())
}

func TestMarginReserve(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.SetFree("USDT", money.MustParse("79.96")))

	require.NoError(t, l.Update(func(tx *Tx) error {
		return tx.AddMarginReserve("USDT", "ADA", money.MustParse("60"))
	}))
	assert.True(t, l.Balance("USDT").MarginReserve("ADA").Equal(money.MustParse("60")))

	testCases := []struct {
		name     string
		spent    string
		target   string
		wantFree string
		wantErr  bool
	}{
		{name: "cover part and re-mark", spent: "16", target: "24", wantFree: "99.96"},
		{name: "close out", spent: "32", target: "0", wantFree: "107.96"},
		{name: "loss beyond free", spent: "100", target: "50", wantErr: true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			before := l.Balances()
			err := l.Update(func(tx *Tx) error {
				return tx.MarkMarginReserve("USDT", "ADA", money.MustParse(tc.spent), money.MustParse(tc.target))
			})
			if tc.wantErr {
				require.ErrorIs(t, err, ErrNegativeBalance)
				assert.Equal(t, before["USDT"].String(), l.Balance("USDT").String())
				return
			}
			require.NoError(t, err)
			b := l.Balance("USDT")
			assert.True(t, b.Free.Equal(money.MustParse(tc.wantFree)), "free %s", b.Free)
			assert.True(t, b.MarginReserve("ADA").Equal(money.MustParse(tc.target)))

			// roll back for the next case
			require.NoError(t, l.Update(func(tx *Tx) error {
				return tx.MarkMarginReserve("USDT", "ADA", money.MustParse("0"), money.MustParse("60"))
			}))
			require.NoError(t, l.SetFree("USDT", money.MustParse("79.96")))
		})
	}
}

func TestBalancesSkipsEmpty(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.SetFree("USDT", money.MustParse("1")))
	require.NoError(t, l.SetFree("BNB", money.MustParse("0")))

	assert.Equal(t, []string{"USDT"}, l.Symbols())
	assert.Len(t, l.Balances(), 1)
}
