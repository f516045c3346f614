package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/MrWong99/earshot/internal/entity"
)

// missMarker is cached for names that resolved to no character.
const missMarker = "-"

// Characters resolves speaker names through an [entity.Store] and caches the
// resulting character ID, or the absence of one, in Redis.
type Characters struct {
	store entity.Store
	c     *Client
}

// NewCharacters returns a resolver over store. A disabled c makes every
// lookup go straight to the store.
func NewCharacters(store entity.Store, c *Client) *Characters {
	return &Characters{store: store, c: c}
}

// FindByName behaves like [entity.Store.FindByName]. Redis failures are
// logged and bypassed.
func (r *Characters) FindByName(ctx context.Context, name string) (entity.Character, error) {
	if !r.c.Enabled() {
		return r.store.FindByName(ctx, name)
	}

	key := characterKey(name)
	cacheOK := true
	val, err := r.c.rdb.Get(ctx, key).Result()
	switch {
	case err == nil && val == missMarker:
		return entity.Character{}, entity.ErrNotFound
	case err == nil:
		ch, gerr := r.store.Get(ctx, val)
		if gerr == nil {
			return ch, nil
		}
		slog.Debug("cache: stale character entry", "name", name, "id", val, "err", gerr)
	case errors.Is(err, redis.Nil):
	default:
		slog.Debug("cache: character lookup failed", "name", name, "err", err)
		cacheOK = false
	}

	ch, err := r.store.FindByName(ctx, name)
	marker := ch.ID
	switch {
	case errors.Is(err, entity.ErrNotFound):
		marker = missMarker
	case err != nil:
		return entity.Character{}, fmt.Errorf("cache: find character: %w", err)
	}
	if cacheOK {
		if serr := r.c.rdb.Set(ctx, key, marker, r.c.ttl).Err(); serr != nil {
			slog.Debug("cache: store character entry", "name", name, "err", serr)
		}
	}
	return ch, err
}

// Forget drops the cached lookup of name.
func (r *Characters) Forget(ctx context.Context, name string) error {
	if !r.c.Enabled() {
		return nil
	}
	if err := r.c.rdb.Del(ctx, characterKey(name)).Err(); err != nil {
		return fmt.Errorf("cache: forget character: %w", err)
	}
	return nil
}

func characterKey(name string) string {
	return keyPrefix + "character:" + strings.ToLower(strings.TrimSpace(name))
}
