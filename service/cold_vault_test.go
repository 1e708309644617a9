package service_test

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/omnibus_custody/apperr"
	"github.com/omnibus_custody/chain"
	"github.com/omnibus_custody/chain/chaintest"
	"github.com/omnibus_custody/service"
)

func requestMove(t *testing.T, e *env, amount string) string {
	t.Helper()
	res, err := e.cold.RequestMove(t.Context(), amount)
	require.NoError(t, err)
	require.NotEmpty(t, res.MoveID)
	return res.MoveID
}

func TestColdMoveHappyPath(t *testing.T) {
	e := newEnv(t)
	ctx := t.Context()

	dep, err := e.cold.Deposit(ctx, "3")
	require.NoError(t, err)
	require.Equal(t, "3", dep.Amount)

	id := requestMove(t, e, "2")
	appr, err := e.cold.ApproveMove(ctx, id)
	require.NoError(t, err)
	require.Equal(t, service.LegSucceeded, appr.First)
	require.Equal(t, service.LegSucceeded, appr.Second)
	require.True(t, appr.ApprovedAdmin1)
	require.True(t, appr.ApprovedAdmin2)

	res, err := e.cold.ExecuteMove(ctx, id)
	require.NoError(t, err)
	require.True(t, res.Executed)
	require.Equal(t, "2", res.Amount)

	bal, err := e.cold.Balances(ctx)
	require.NoError(t, err)
	require.Equal(t, "12", bal.Omnibus)
	require.Equal(t, "1", bal.Cold)

	_, err = e.cold.ExecuteMove(ctx, id)
	requireCode(t, err, apperr.KindConflict, apperr.CodeAlreadyExecuted)
	_, err = e.cold.ApproveMove(ctx, id)
	requireCode(t, err, apperr.KindConflict, apperr.CodeAlreadyExecuted)
}

func TestColdApproveTwiceAbsorbsDuplicate(t *testing.T) {
	e := newEnv(t)
	ctx := t.Context()
	id := requestMove(t, e, "1")

	e.chain.FailNext("cold.approveMove/tss", &chain.Error{Op: "cold.approveMove", Code: chain.CodeRPC, Err: errors.New("timeout")})
	first, err := e.cold.ApproveMove(ctx, id)
	requireCode(t, err, apperr.KindPartialCompletion, apperr.CodeSecondApprovalFailed)
	require.NotNil(t, first)
	require.Equal(t, service.LegSucceeded, first.First)
	require.Equal(t, service.LegFailed, first.Second)
	require.True(t, first.ApprovedAdmin1)
	require.False(t, first.ApprovedAdmin2)

	second, err := e.cold.ApproveMove(ctx, id)
	require.NoError(t, err)
	require.Equal(t, service.LegAlreadyApproved, second.First)
	require.Equal(t, service.LegSucceeded, second.Second)
	require.True(t, second.ApprovedAdmin1)
	require.True(t, second.ApprovedAdmin2)

	third, err := e.cold.ApproveMove(ctx, id)
	require.NoError(t, err)
	require.Equal(t, service.LegAlreadyApproved, third.First)
	require.Equal(t, service.LegSkipped, third.Second)
}

func TestColdApproveFirstLegFailure(t *testing.T) {
	e := newEnv(t)
	id := requestMove(t, e, "1")

	e.chain.FailNext("cold.approveMove/owner", &chain.Error{Op: "cold.approveMove", Code: chain.CodeNotPrivileged, Revert: "OnlyAdmin1OrAdmin2"})
	res, err := e.cold.ApproveMove(t.Context(), id)
	requireCode(t, err, apperr.KindAuthorization, apperr.CodeNotPrivileged)
	require.Equal(t, service.LegFailed, res.First)
	require.Equal(t, service.LegSkipped, res.Second)
	require.Zero(t, e.chain.Calls("cold.approveMove/tss"))
}

func TestColdExecuteWithOneApprovalIsIncomplete(t *testing.T) {
	e := newEnv(t)
	ctx := t.Context()
	_, err := e.cold.Deposit(ctx, "1")
	require.NoError(t, err)
	id := requestMove(t, e, "1")

	_, err = e.chain.Cold.ApproveMove(ctx, chain.SeatOwner, common.HexToHash(id))
	require.NoError(t, err)

	_, err = e.cold.ExecuteMove(ctx, id)
	requireCode(t, err, apperr.KindConflict, apperr.CodeApprovalIncomplete)
	require.Zero(t, e.chain.Calls("cold.executeMove"))
}

func TestColdExecuteNotExecutable(t *testing.T) {
	e := newEnv(t)
	ctx := t.Context()
	id := requestMove(t, e, "5")
	_, err := e.cold.ApproveMove(ctx, id)
	require.NoError(t, err)

	// approved but the vault holds nothing
	_, err = e.cold.ExecuteMove(ctx, id)
	requireCode(t, err, apperr.KindConflict, apperr.CodeNotExecutable)

	_, err = e.cold.ExecuteMove(ctx, common.HexToHash("0x42").Hex())
	requireCode(t, err, apperr.KindNotFound, apperr.CodeMoveNotFound)
	_, err = e.cold.ApproveMove(ctx, common.HexToHash("0x42").Hex())
	requireCode(t, err, apperr.KindNotFound, apperr.CodeMoveNotFound)
	_, err = e.cold.ApproveMove(ctx, "42")
	requireCode(t, err, apperr.KindValidation, apperr.CodeInvalidMoveID)
}

func TestColdRequestMoveWithoutLog(t *testing.T) {
	e := newEnv(t)
	e.chain.Cold.DropMoveLog = true

	res, err := e.cold.RequestMove(t.Context(), "1")
	requireCode(t, err, apperr.KindPartialCompletion, apperr.CodeMoveIDUnavailable)
	require.NotEmpty(t, res.TxHash)
	require.Empty(t, res.MoveID)
	require.Contains(t, err.Error(), res.TxHash)
}

func TestColdDepositRejectsBadAmount(t *testing.T) {
	e := newEnv(t)
	_, err := e.cold.Deposit(t.Context(), "-2")
	requireCode(t, err, apperr.KindValidation, apperr.CodeInvalidAmount)
	require.Zero(t, e.chain.Calls("cold.adminDeposit"))

	bal, err := e.cold.Balances(t.Context())
	require.NoError(t, err)
	require.Equal(t, "0", bal.Cold)
	require.Equal(t, chaintest.OmnibusAddress, e.chain.Omnibus.Address())
}
