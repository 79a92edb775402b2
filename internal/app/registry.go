package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/wisplabs/wisp/internal/core"
)

// Registry binds live connection ids to their transport endpoints. Room
// membership stores only ConnIDs; fanout resolves the actual connections
// through the registry.
type Registry struct {
	mu    sync.RWMutex
	conns map[core.ConnID]core.SignalConnection
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[core.ConnID]core.SignalConnection)}
}

func (r *Registry) Bind(id core.ConnID, conn core.SignalConnection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[id] = conn
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Msg("bound connection")
}

func (r *Registry) Unbind(id core.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, id)
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Msg("unbound connection")
}

func (r *Registry) Get(id core.ConnID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[id]
	return conn, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
