package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
)

// CallbackGuard holds a short lease per payment reference so one gateway
// delivery is processed at a time, across instances when Redis backs it.
type CallbackGuard interface {
	Acquire(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string)
}

type redisCallbackGuard struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func (g *redisCallbackGuard) Acquire(ctx context.Context, key string) (bool, error) {
	return g.client.SetNX(ctx, g.prefix+":"+key, "1", g.ttl).Result()
}

func (g *redisCallbackGuard) Release(ctx context.Context, key string) {
	_ = g.client.Del(ctx, g.prefix+":"+key).Err()
}

type memoryCallbackGuard struct {
	mu     sync.Mutex
	held   map[string]time.Time
	ttl    time.Duration
	nextGC time.Time
}

func newMemoryCallbackGuard(ttl time.Duration) *memoryCallbackGuard {
	return &memoryCallbackGuard{
		held:   make(map[string]time.Time),
		ttl:    ttl,
		nextGC: time.Now().Add(ttl),
	}
}

func (g *memoryCallbackGuard) Acquire(_ context.Context, key string) (bool, error) {
	now := time.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	if exp, ok := g.held[key]; ok && exp.After(now) {
		return false, nil
	}
	g.held[key] = now.Add(g.ttl)

	if now.After(g.nextGC) {
		for k, exp := range g.held {
			if exp.Before(now) {
				delete(g.held, k)
			}
		}
		g.nextGC = now.Add(g.ttl)
	}
	return true, nil
}

func (g *memoryCallbackGuard) Release(_ context.Context, key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.held, key)
}

// NewCallbackGuard builds a Redis guard and falls back to in-memory on failure.
func NewCallbackGuard(addr, pass string, db int, ttl time.Duration) (CallbackGuard, error) {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if addr == "" {
		return newMemoryCallbackGuard(ttl), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: pass,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return newMemoryCallbackGuard(ttl), err
	}

	return &redisCallbackGuard{
		client: client,
		prefix: "pay:callback",
		ttl:    ttl,
	}, nil
}

// KeyFunc extracts the payment reference of a callback request. Empty means no guard.
type KeyFunc func(c echo.Context) string

// QueryKey reads the reference from a query parameter.
func QueryKey(param string) KeyFunc {
	return func(c echo.Context) string {
		return c.QueryParam(param)
	}
}

// BodyKey reads the reference from a top-level JSON body field and restores the body.
func BodyKey(field string) KeyFunc {
	return func(c echo.Context) string {
		req := c.Request()
		if req.Body == nil {
			return ""
		}
		raw, err := io.ReadAll(req.Body)
		if err != nil {
			return ""
		}
		req.Body = io.NopCloser(bytes.NewBuffer(raw))

		var payload map[string]interface{}
		if err := json.Unmarshal(raw, &payload); err != nil {
			return ""
		}
		switch v := payload[field].(type) {
		case string:
			return v
		case float64:
			return fmt.Sprintf("%.0f", v)
		}
		return ""
	}
}

// CallbackLock lets one delivery per reference through at a time. Concurrent
// duplicates get 409 so the gateway retries later.
func CallbackLock(guard CallbackGuard, key KeyFunc) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if guard == nil {
				return next(c)
			}
			ref := key(c)
			if ref == "" {
				return next(c)
			}

			ctx := c.Request().Context()
			ok, err := guard.Acquire(ctx, ref)
			if err != nil {
				return next(c)
			}
			if !ok {
				return c.JSON(http.StatusConflict, map[string]string{"status": "processing"})
			}
			defer guard.Release(context.Background(), ref)

			return next(c)
		}
	}
}
