package repository_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/omnibus_custody/model"
	"github.com/omnibus_custody/repository"
	"github.com/omnibus_custody/repository/repotest"
)

func TestUserRepositoryNormalizesEmail(t *testing.T) {
	db := repotest.Open(t)
	ctx := t.Context()
	users := repository.NewUserRepository(db)

	u := &model.User{Email: "  Alice@Example.COM ", Password: "x"}
	require.NoError(t, users.Create(ctx, u))
	require.Equal(t, "alice@example.com", u.Email)
	require.NotEmpty(t, u.ID)
	require.Equal(t, model.UserActive, u.Status)
	require.Equal(t, model.RoleUser, u.Role)

	got, err := users.FindByEmail(ctx, "ALICE@example.com")
	require.NoError(t, err)
	require.Equal(t, u.ID, got.ID)

	require.ErrorIs(t, users.Create(ctx, &model.User{Email: "alice@example.com", Password: "y"}), repository.ErrDuplicate)

	_, err = users.FindByEmail(ctx, "nobody@example.com")
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestUserRepositoryUpdateStatus(t *testing.T) {
	db := repotest.Open(t)
	ctx := t.Context()
	u := repotest.SeedUser(t, db, "frozen@example.com", 0)
	users := repository.NewUserRepository(db)

	got, err := users.UpdateStatus(ctx, u.ID, model.UserFrozen)
	require.NoError(t, err)
	require.Equal(t, model.UserFrozen, got.Status)

	_, err = users.UpdateStatus(ctx, "missing", model.UserActive)
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestEventRepositoryIdempotentInsert(t *testing.T) {
	db := repotest.Open(t)
	ctx := t.Context()
	events := repository.NewEventRepository(db)

	ev := func() *model.DepositWithdrawEvent {
		return &model.DepositWithdrawEvent{
			Type:            model.EventDeposit,
			Amount:          model.WeiFromInt64(1000),
			Timestamp:       1700000000,
			TransactionHash: "0xabc",
		}
	}
	require.NoError(t, events.Create(ctx, ev()))
	require.ErrorIs(t, events.Create(ctx, ev()), repository.ErrDuplicate)

	exists, err := events.ExistsByHash(ctx, "0xabc")
	require.NoError(t, err)
	require.True(t, exists)

	n, err := events.Count(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	list, err := events.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Nil(t, list[0].Email)
}

func TestWhitelistRepository(t *testing.T) {
	db := repotest.Open(t)
	ctx := t.Context()
	u := repotest.SeedUser(t, db, "wl@example.com", 0)
	wl := repository.NewWhitelistRepository(db)

	addr := "0xAbCdEf0000000000000000000000000000000001"
	first, err := wl.Upsert(ctx, u.ID, addr)
	require.NoError(t, err)
	second, err := wl.Upsert(ctx, u.ID, addr)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	list, err := wl.List(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "0xabcdef0000000000000000000000000000000001", list[0].ToAddress)

	require.NoError(t, wl.Delete(ctx, u.ID, addr))
	require.ErrorIs(t, wl.Delete(ctx, u.ID, addr), repository.ErrNotFound)
}

func TestCheckpointRepository(t *testing.T) {
	db := repotest.Open(t)
	ctx := t.Context()
	cp := repository.NewCheckpointRepository(db)

	_, _, ok, err := cp.Last(ctx, "ethereum")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, cp.Save(ctx, "ethereum", 10, "0x10"))
	require.NoError(t, cp.Save(ctx, "ethereum", 10, "0x10"))
	require.NoError(t, cp.Save(ctx, "ethereum", 12, "0x12"))

	n, hash, ok, err := cp.Last(ctx, "ethereum")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(12), n)
	require.Equal(t, "0x12", hash)

	require.NoError(t, cp.Rewind(ctx, "ethereum", 10))
	n, _, _, err = cp.Last(ctx, "ethereum")
	require.NoError(t, err)
	require.Equal(t, uint64(10), n)
}
