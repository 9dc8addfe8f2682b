package push

import "sync"

// Deps are the collaborators shared by all coordinators of a registry.
type Deps struct {
	Workers WorkerResolver
	Local   LocalStore
	API     APIClient
	Options SubscribeOptions
}

// Registry hands out one coordinator per (clientURL, storageKey) pair, so
// concurrent callers always observe the same state machine. Its lifetime is
// owned by the hosting session; tests construct a fresh registry per case.
type Registry struct {
	mu           sync.Mutex
	deps         Deps
	coordinators map[string]*Coordinator
}

// NewRegistry creates an empty registry over the given collaborators.
func NewRegistry(deps Deps) *Registry {
	return &Registry{
		deps:         deps,
		coordinators: make(map[string]*Coordinator),
	}
}

// Coordinator returns the coordinator for the pair, creating it on first use.
func (r *Registry) Coordinator(clientURL, storageKey string) *Coordinator {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := clientURL + ";" + storageKey
	c, ok := r.coordinators[key]
	if !ok {
		c = NewCoordinator(clientURL, storageKey, r.deps.Options, r.deps.Workers, r.deps.Local, r.deps.API)
		r.coordinators[key] = c
	}
	return c
}
