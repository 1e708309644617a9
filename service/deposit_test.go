package service_test

import (
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/omnibus_custody/apperr"
	"github.com/omnibus_custody/chain/chaintest"
	"github.com/omnibus_custody/model"
)

var depositor = common.HexToAddress("0x00000000000000000000000000000000000d0501")

func TestDepositSettle(t *testing.T) {
	e := newEnv(t)
	u := e.seedUser(t, "nina@example.com", ether(t, "0.5"))
	hash := e.chain.SendValue(depositor, chaintest.OmnibusAddress, ether(t, "1.25"), false)

	rec, err := e.deposits.Settle(t.Context(), u.ID, hash.Hex())
	require.NoError(t, err)
	require.Equal(t, model.DirectionIn, rec.Direction)
	require.Equal(t, ether(t, "0.5").String(), rec.BalanceBefore.String())
	require.Equal(t, ether(t, "1.75").String(), rec.BalanceAfter.String())
	require.Equal(t, ether(t, "1.75").String(), e.balanceOf(t, u.ID))

	_, err = e.deposits.Settle(t.Context(), u.ID, hash.Hex())
	requireCode(t, err, apperr.KindConflict, apperr.CodeDuplicateSettlement)
	require.Equal(t, ether(t, "1.75").String(), e.balanceOf(t, u.ID))
}

func TestConcurrentDepositSettleCreditsOnce(t *testing.T) {
	e := newEnv(t)
	u := e.seedUser(t, "oscar@example.com", new(big.Int))
	hash := e.chain.SendValue(depositor, chaintest.OmnibusAddress, ether(t, "2"), false)

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		ok, dupes int
		others    []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.deposits.Settle(t.Context(), u.ID, hash.Hex())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case apperr.CodeOf(err) == apperr.CodeDuplicateSettlement:
				dupes++
			default:
				others = append(others, err)
			}
		}()
	}
	wg.Wait()

	require.Empty(t, others)
	require.Equal(t, 1, ok)
	require.Equal(t, workers-1, dupes)
	require.Equal(t, ether(t, "2").String(), e.balanceOf(t, u.ID))

	rows, err := e.ledger.ListByUser(t.Context(), u.ID, "", 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestDepositSettleRejections(t *testing.T) {
	e := newEnv(t)
	ctx := t.Context()
	u := e.seedUser(t, "paul@example.com", new(big.Int))

	_, err := e.deposits.Settle(ctx, u.ID, "0xnothex")
	requireCode(t, err, apperr.KindValidation, apperr.CodeInvalidTxHash)

	_, err = e.deposits.Settle(ctx, u.ID, common.HexToHash("0xbeef").Hex())
	requireCode(t, err, apperr.KindNotFound, apperr.CodeTxNotFound)

	pending := e.chain.SendPending(depositor, chaintest.OmnibusAddress, ether(t, "1"))
	_, err = e.deposits.Settle(ctx, u.ID, pending.Hex())
	requireCode(t, err, apperr.KindValidation, apperr.CodeTxNotConfirmed)

	failed := e.chain.SendValue(depositor, chaintest.OmnibusAddress, ether(t, "1"), true)
	_, err = e.deposits.Settle(ctx, u.ID, failed.Hex())
	requireCode(t, err, apperr.KindValidation, apperr.CodeTxFailed)

	elsewhere := e.chain.SendValue(depositor, recipient, ether(t, "1"), false)
	_, err = e.deposits.Settle(ctx, u.ID, elsewhere.Hex())
	requireCode(t, err, apperr.KindValidation, apperr.CodeWrongRecipient)

	good := e.chain.SendValue(depositor, chaintest.OmnibusAddress, ether(t, "1"), false)
	_, err = e.deposits.Settle(ctx, "00000000-0000-0000-0000-000000000000", good.Hex())
	requireCode(t, err, apperr.KindNotFound, apperr.CodeUserNotFound)

	require.Equal(t, "0", e.balanceOf(t, u.ID))
}
