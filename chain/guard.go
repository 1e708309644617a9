package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Guard is the PolicyGuard contract holding per-user whitelists and daily
// limits. All writes come from the owner seat.
type Guard struct {
	c    *Client
	addr common.Address
}

func (g *Guard) Address() common.Address { return g.addr }

func (g *Guard) SetUserWL(ctx context.Context, userKey common.Hash, to common.Address) (*Receipt, error) {
	return g.c.transact(ctx, "guard.setUserWL", SeatOwner, g.addr, guardABI, nil, "setUserWL", [32]byte(userKey), to)
}

func (g *Guard) UnsetUserWL(ctx context.Context, userKey common.Hash, to common.Address) (*Receipt, error) {
	return g.c.transact(ctx, "guard.unsetUserWL", SeatOwner, g.addr, guardABI, nil, "unsetUserWL", [32]byte(userKey), to)
}

func (g *Guard) SetUserDailyLimit(ctx context.Context, userKey common.Hash, max *big.Int) (*Receipt, error) {
	return g.c.transact(ctx, "guard.setUserDailyLimit", SeatOwner, g.addr, guardABI, nil, "setUserDailyLimit", [32]byte(userKey), max)
}

func (g *Guard) UserDailyLimit(ctx context.Context, userKey common.Hash) (*DailyLimit, error) {
	out, err := g.c.call(ctx, "guard.userDailyETH", g.addr, guardABI, "userDailyETH", [32]byte(userKey))
	if err != nil {
		return nil, err
	}
	return &DailyLimit{
		Max:    out[0].(*big.Int),
		Spent:  out[1].(*big.Int),
		DayKey: out[2].(*big.Int).Uint64(),
	}, nil
}
