// Package cache is a read-through Redis cache for identity lookups. It is
// optional: a nil *Cache disables caching without branching at call sites.
//
// Writes follow a two-tier discipline. Mutations call Store, which
// unconditionally overwrites both lookup keys with the post-mutation record.
// Read misses call Fill, which writes with SETNX and so can never replace an
// entry a mutation has written: a reader racing a mutation either loses the
// SETNX (the fresh record stays) or fills first and is overwritten by the
// mutation's Store. Either order converges on the fresh record.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"veriledger/internal/identity/models"
	id "veriledger/pkg/domain"
)

type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func New(client *redis.Client, ttl time.Duration, logger *slog.Logger) *Cache {
	return &Cache{client: client, ttl: ttl, logger: logger}
}

func idKey(identityID id.IdentityID) string { return "identity:id:" + identityID.String() }

func walletKey(addr string) string { return "identity:wallet:" + addr }

// GetByID returns the cached record, if present. Redis errors degrade to a
// miss.
func (c *Cache) GetByID(ctx context.Context, identityID id.IdentityID) (*models.Identity, bool) {
	if c == nil {
		return nil, false
	}
	return c.get(ctx, idKey(identityID))
}

// GetByWallet returns the cached record for a canonical wallet address.
// Deactivated records are cached (they keep the wallet key occupied so a
// stale fill cannot resurrect the old holder) but never served here, matching
// the store's wallet lookup.
func (c *Cache) GetByWallet(ctx context.Context, addr string) (*models.Identity, bool) {
	if c == nil {
		return nil, false
	}
	ident, ok := c.get(ctx, walletKey(addr))
	if !ok || !ident.Active {
		return nil, false
	}
	return ident, true
}

// Store caches the record under both lookup keys, overwriting whatever is
// there. Only mutation paths call this, while they hold the registry mutex.
func (c *Cache) Store(ctx context.Context, ident *models.Identity) {
	if c == nil {
		return
	}
	payload, err := json.Marshal(ident)
	if err != nil {
		return
	}
	pipe := c.client.Pipeline()
	pipe.Set(ctx, idKey(ident.ID), payload, c.ttl)
	pipe.Set(ctx, walletKey(ident.WalletAddress), payload, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Debug("identity cache store failed", "error", err)
	}
}

// Fill caches the record under both lookup keys only where no entry exists.
// Read paths call this after a store round trip; SETNX keeps a slow reader
// from reinstating a record a concurrent mutation has already superseded.
func (c *Cache) Fill(ctx context.Context, ident *models.Identity) {
	if c == nil {
		return
	}
	payload, err := json.Marshal(ident)
	if err != nil {
		return
	}
	pipe := c.client.Pipeline()
	pipe.SetNX(ctx, idKey(ident.ID), payload, c.ttl)
	pipe.SetNX(ctx, walletKey(ident.WalletAddress), payload, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Debug("identity cache fill failed", "error", err)
	}
}

func (c *Cache) get(ctx context.Context, key string) (*models.Identity, bool) {
	payload, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	var ident models.Identity
	if err := json.Unmarshal(payload, &ident); err != nil {
		return nil, false
	}
	return &ident, true
}
