package chain

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDailyLimitRemaining(t *testing.T) {
	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	today := DayKeyOf(now)

	unlimited := &DailyLimit{Max: new(big.Int), Spent: big.NewInt(5), DayKey: today}
	require.True(t, unlimited.Unlimited())
	require.Nil(t, unlimited.Remaining(now))

	lim := &DailyLimit{Max: big.NewInt(100), Spent: big.NewInt(30), DayKey: today}
	require.Equal(t, int64(70), lim.Remaining(now).Int64())

	over := &DailyLimit{Max: big.NewInt(100), Spent: big.NewInt(130), DayKey: today}
	require.Zero(t, over.Remaining(now).Sign())

	// spent from an earlier day no longer counts
	stale := &DailyLimit{Max: big.NewInt(100), Spent: big.NewInt(100), DayKey: today - 1}
	require.Equal(t, int64(100), stale.Remaining(now).Int64())
}

func TestReceiptFee(t *testing.T) {
	r := &Receipt{GasUsed: 21000, EffectiveGasPrice: big.NewInt(3)}
	require.Equal(t, int64(63000), r.Fee().Int64())
	require.Zero(t, (&Receipt{GasUsed: 1}).Fee().Sign())
}

func TestMoveExists(t *testing.T) {
	require.False(t, (&Move{Amount: new(big.Int)}).Exists())
	require.True(t, (&Move{Amount: big.NewInt(1)}).Exists())
	require.True(t, (&Move{Amount: new(big.Int), Executed: true}).Exists())
}
