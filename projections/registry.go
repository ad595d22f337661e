package projections

import (
	"fmt"
	"sync"

	"github.com/AntonStoeckl/eventstore-projections-go/eventstore"
)

// Registry creates and caches one Repository per schema version.
// It is created once, passed to its users and closed explicitly; a closed Registry and all
// repositories created by it return ErrRegistryClosed.
type Registry struct {
	backend Backend
	states  indexStateStore
	opts    options

	mu           sync.Mutex
	repositories map[string]*Repository
	closed       bool
}

// NewRegistry creates a Registry storing documents in backend and index lifecycle state in kv.
func NewRegistry(backend Backend, kv eventstore.KeyValueStore, opts ...Option) *Registry {
	return &Registry{
		backend:      backend,
		states:       indexStateStore{kv: kv},
		opts:         buildOptions(opts),
		repositories: make(map[string]*Repository),
	}
}

// Repository returns the repository of the schema, creating it on first use.
func (r *Registry) Repository(schema DocumentSchema) (*Repository, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRegistryClosed
	}

	if schema.Hash() == "" {
		return nil, fmt.Errorf("%w: schema %q was not created with NewDocumentSchema", ErrSchemaConfiguration, schema.Name)
	}

	if repository, ok := r.repositories[schema.Hash()]; ok {
		return repository, nil
	}

	repository := &Repository{
		schema:    schema,
		indexName: IndexName(schema),
		backend:   r.backend,
		states:    r.states,
		registry:  r,
		opts:      &r.opts,
	}

	r.repositories[schema.Hash()] = repository

	return repository, nil
}

// Close releases all cached repositories. Closing twice is a no-op.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	r.repositories = make(map[string]*Repository)

	return nil
}

func (r *Registry) checkOpen() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRegistryClosed
	}

	return nil
}
