package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/ephyr-control/ephyrsub/internal/domain"
	"github.com/ephyr-control/ephyrsub/internal/graphql"
)

var (
	// ErrNotBuilt is returned by Execute before the first Rebuild.
	ErrNotBuilt = fmt.Errorf("%w: registry not built, call Rebuild first", domain.ErrConnection)
	// ErrNoClient is returned when no client serves the operation's surface.
	ErrNoClient = fmt.Errorf("%w: no client for api surface", domain.ErrConnection)
	// ErrSurfaceMismatch is returned by a client asked to run another surface's operation.
	ErrSurfaceMismatch = errors.New("api surface does not match client")
)

// RequestClient runs one-shot queries and mutations against one surface.
type RequestClient interface {
	Execute(ctx context.Context, op graphql.Operation, vars map[string]any) (json.RawMessage, error)
}

// Factory builds a client for a surface from the current connection details.
type Factory func(surface graphql.Surface, details domain.ConnectionDetails) RequestClient

// Registry keeps exactly one RequestClient per API surface of an instance.
// Rebuild swaps all of them at once; old clients are dropped, never reused.
type Registry struct {
	factory  Factory
	surfaces []graphql.Surface

	mu      sync.RWMutex
	clients map[graphql.Surface]RequestClient
}

// New creates an unbuilt registry for the given surfaces (all when empty).
func New(factory Factory, surfaces ...graphql.Surface) *Registry {
	if len(surfaces) == 0 {
		surfaces = graphql.AllSurfaces()
	}
	return &Registry{
		factory:  factory,
		surfaces: surfaces,
	}
}

// Rebuild replaces every surface client using the new connection details.
func (r *Registry) Rebuild(details domain.ConnectionDetails) {
	clients := make(map[graphql.Surface]RequestClient, len(r.surfaces))
	for _, s := range r.surfaces {
		clients[s] = r.factory(s, details)
	}

	r.mu.Lock()
	r.clients = clients
	r.mu.Unlock()
}

// Built reports whether Rebuild has run at least once.
func (r *Registry) Built() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.clients != nil
}

// Execute routes op to the client of its surface. It never retries.
func (r *Registry) Execute(ctx context.Context, op graphql.Operation, vars map[string]any) (json.RawMessage, error) {
	r.mu.RLock()
	clients := r.clients
	r.mu.RUnlock()

	if clients == nil {
		return nil, ErrNotBuilt
	}
	client, ok := clients[op.Surface]
	if !ok {
		return nil, fmt.Errorf("%w %s", ErrNoClient, op.Surface)
	}
	return client.Execute(ctx, op, vars)
}
