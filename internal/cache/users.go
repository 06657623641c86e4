package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/Tyrowin/socialchat/internal/logger"
	"github.com/Tyrowin/socialchat/internal/messaging"
)

// DefaultUserTTL is used when NewUserCache is given a non-positive TTL.
const DefaultUserTTL = 10 * time.Minute

// UserCache is a read-through cache in front of a messaging.UserStore.
// Cache failures are logged and the lookup falls through to the store;
// unknown users are not cached.
type UserCache struct {
	next  messaging.UserStore
	cache Cache
	ttl   time.Duration
}

var _ messaging.UserStore = (*UserCache)(nil)

// NewUserCache wraps next with c.
func NewUserCache(next messaging.UserStore, c Cache, ttl time.Duration) *UserCache {
	if ttl <= 0 {
		ttl = DefaultUserTTL
	}
	return &UserCache{next: next, cache: c, ttl: ttl}
}

func userKey(username string) string {
	return "socialchat:user:" + strings.ToLower(username)
}

// FindByUsername implements messaging.UserStore.
func (u *UserCache) FindByUsername(ctx context.Context, username string) (messaging.User, error) {
	key := userKey(username)

	raw, err := u.cache.Get(ctx, key)
	switch {
	case err == nil:
		var user messaging.User
		if jerr := json.Unmarshal([]byte(raw), &user); jerr == nil {
			return user, nil
		}
		logger.Warn("user_cache_corrupt_entry", "key", key)
	case !errors.Is(err, ErrMiss):
		logger.Warn("user_cache_get_failed", "key", key, "error", err)
	}

	user, err := u.next.FindByUsername(ctx, username)
	if err != nil {
		return messaging.User{}, err
	}

	if data, jerr := json.Marshal(user); jerr == nil {
		if serr := u.cache.Set(ctx, key, string(data), u.ttl); serr != nil {
			logger.Warn("user_cache_set_failed", "key", key, "error", serr)
		}
	}
	return user, nil
}

// Invalidate drops the cached entry for username.
func (u *UserCache) Invalidate(ctx context.Context, username string) error {
	_, err := u.cache.Del(ctx, userKey(username))
	return err
}
