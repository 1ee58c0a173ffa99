package panel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"resellbot/internal/models"
)

// New builds the adapter for server's panel family.
func New(server models.Server, opts Options) (Adapter, error) {
	switch server.PanelType {
	case models.PanelCookieSession:
		return NewCookieSessionAdapter(server, opts), nil
	case models.PanelBearerToken:
		return NewBearerTokenAdapter(server, opts), nil
	case models.PanelAPIKey:
		return NewAPIKeyAdapter(server, opts), nil
	default:
		return nil, fmt.Errorf("unsupported panel type: %q", server.PanelType)
	}
}

type registryEntry struct {
	updatedAt time.Time
	adapter   Adapter
}

// Registry hands out one adapter per server and rebuilds it when the server
// record changes. Adapters share the registry's credential loader.
type Registry struct {
	opts    Options
	mu      sync.Mutex
	entries map[uint]registryEntry
}

func NewRegistry(opts Options) *Registry {
	return &Registry{
		opts:    opts.withDefaults(),
		entries: make(map[uint]registryEntry),
	}
}

// For returns the adapter for server. A changed UpdatedAt drops the cached
// credential too, since the connection details may have changed.
func (r *Registry) For(server *models.Server) (Adapter, error) {
	if server == nil {
		return nil, fmt.Errorf("server is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[server.ID]; ok {
		if e.updatedAt.Equal(server.UpdatedAt) {
			return e.adapter, nil
		}
		r.opts.Loader.Invalidate(context.Background(), server.ID)
	}

	a, err := New(*server, r.opts)
	if err != nil {
		return nil, err
	}
	r.entries[server.ID] = registryEntry{updatedAt: server.UpdatedAt, adapter: a}
	return a, nil
}

// Forget drops the adapter and credential for serverID.
func (r *Registry) Forget(serverID uint) {
	r.mu.Lock()
	delete(r.entries, serverID)
	r.mu.Unlock()
	r.opts.Loader.Invalidate(context.Background(), serverID)
}
