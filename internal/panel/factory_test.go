package panel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resellbot/internal/credcache"
	"resellbot/internal/models"
)

func TestNewSelectsFamily(t *testing.T) {
	for _, kind := range []models.PanelType{models.PanelCookieSession, models.PanelBearerToken, models.PanelAPIKey} {
		a, err := New(models.Server{PanelType: kind, BaseURL: "http://panel"}, Options{})
		require.NoError(t, err)
		assert.Equal(t, kind, a.Kind())
	}

	_, err := New(models.Server{PanelType: "wireguard"}, Options{})
	assert.Error(t, err)
}

func TestRegistryRebuildsOnServerChange(t *testing.T) {
	cache := credcache.NewMemory()
	reg := NewRegistry(Options{Loader: credcache.NewLoader(cache)})
	ctx := context.Background()

	srv := &models.Server{ID: 1, PanelType: models.PanelBearerToken, BaseURL: "http://a", UpdatedAt: time.Unix(100, 0)}
	first, err := reg.For(srv)
	require.NoError(t, err)
	again, err := reg.For(srv)
	require.NoError(t, err)
	assert.Same(t, first, again)

	cache.Put(ctx, 1, credcache.Artifact{Token: "old"}, time.Hour)
	srv.UpdatedAt = time.Unix(200, 0)
	rebuilt, err := reg.For(srv)
	require.NoError(t, err)
	assert.NotSame(t, first, rebuilt)

	_, ok := cache.Get(ctx, 1)
	assert.False(t, ok, "credential dropped with the stale adapter")
}
