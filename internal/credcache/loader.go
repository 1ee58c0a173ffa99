package credcache

import (
	"context"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"
)

// LoginFunc performs a fresh login and reports how long the artifact may be reused.
type LoginFunc func(ctx context.Context) (Artifact, time.Duration, error)

// Loader serves cached artifacts and collapses concurrent logins for one server.
type Loader struct {
	cache Cache
	group singleflight.Group
}

func NewLoader(cache Cache) *Loader {
	if cache == nil {
		cache = NewMemory()
	}
	return &Loader{cache: cache}
}

// Obtain returns the cached artifact for serverID, logging in on a miss.
// The cache is re-checked inside the flight so a caller that lost the race
// to a concurrent login reuses its result.
func (l *Loader) Obtain(ctx context.Context, serverID uint, login LoginFunc) (Artifact, error) {
	if a, ok := l.cache.Get(ctx, serverID); ok {
		return a, nil
	}

	key := strconv.FormatUint(uint64(serverID), 10)
	v, err, _ := l.group.Do(key, func() (interface{}, error) {
		if a, ok := l.cache.Get(ctx, serverID); ok {
			return a, nil
		}
		a, ttl, err := login(ctx)
		if err != nil {
			return Artifact{}, err
		}
		l.cache.Put(ctx, serverID, a, ttl)
		return a, nil
	})
	if err != nil {
		return Artifact{}, err
	}
	return v.(Artifact), nil
}

// Invalidate drops the artifact for serverID.
func (l *Loader) Invalidate(ctx context.Context, serverID uint) {
	l.cache.Invalidate(ctx, serverID)
}
