package ingest

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/omnibus_custody/chain"
	"github.com/omnibus_custody/metrics"
	"github.com/omnibus_custody/model"
)

const DefaultKeyRefresh = 5 * time.Minute

type UserLister interface {
	List(ctx context.Context) ([]model.User, error)
}

// KeyCache maps user keys to emails. Each refresh builds a new map and swaps
// it in; readers never lock and a failed refresh keeps the last snapshot.
type KeyCache struct {
	users UserLister
	snap  atomic.Pointer[map[common.Hash]string]
	log   zerolog.Logger
}

func NewKeyCache(users UserLister, log zerolog.Logger) *KeyCache {
	c := &KeyCache{users: users, log: log.With().Str("component", "keycache").Logger()}
	empty := map[common.Hash]string{}
	c.snap.Store(&empty)
	return c
}

func (c *KeyCache) Refresh(ctx context.Context) error {
	list, err := c.users.List(ctx)
	if err != nil {
		return err
	}
	next := make(map[common.Hash]string, len(list))
	for _, u := range list {
		next[chain.UserKey(u.Email)] = chain.NormalizeEmail(u.Email)
	}
	c.snap.Store(&next)
	metrics.KeyCacheEntries.Set(float64(len(next)))
	c.log.Debug().Int("entries", len(next)).Msg("key cache refreshed")
	return nil
}

func (c *KeyCache) Lookup(key common.Hash) (string, bool) {
	email, ok := (*c.snap.Load())[key]
	return email, ok
}

func (c *KeyCache) Len() int {
	return len(*c.snap.Load())
}

// Run refreshes immediately and then every interval until ctx is done.
func (c *KeyCache) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultKeyRefresh
	}
	if err := c.Refresh(ctx); err != nil {
		c.log.Warn().Err(err).Msg("initial key cache refresh failed")
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Refresh(ctx); err != nil {
				c.log.Warn().Err(err).Msg("key cache refresh failed, keeping previous snapshot")
			}
		}
	}
}
