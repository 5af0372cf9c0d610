package panel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Factory caches one authenticated Client per server id, re-authenticating
// lazily on first use: every public operation auto-authenticates on first
// call per session.
type Factory struct {
	log *slog.Logger

	mu      sync.Mutex
	clients map[int64]*Client
}

// NewFactory creates an empty panel client cache.
func NewFactory(log *slog.Logger) *Factory {
	return &Factory{log: log, clients: make(map[int64]*Client)}
}

// Get returns the authenticated Client for serverID, constructing and
// logging in on first use.
func (f *Factory) Get(ctx context.Context, serverID int64, host string, creds Credentials) (*Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if c, ok := f.clients[serverID]; ok {
		return c, nil
	}

	endpoint, err := NewEndpoint(host)
	if err != nil {
		return nil, err
	}

	client := New(endpoint, creds, f.log)
	if err := client.Authenticate(ctx); err != nil {
		return nil, fmt.Errorf("authenticating with server %d: %w", serverID, err)
	}

	f.clients[serverID] = client
	return client, nil
}

// Invalidate drops a cached client, forcing re-authentication on next Get —
// used after a panel call fails with an auth-shaped error.
func (f *Factory) Invalidate(serverID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.clients, serverID)
}
