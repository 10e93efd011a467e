// Package memory implements a data store that lives entirely in process
// memory.
//
// It provides the same optimistic-concurrency semantics as the durable
// providers and is intended for tests and examples.
package memory

import (
	"context"
	"sync"

	"github.com/perdure/perdure/persistence"
)

// Provider is an implementation of persistence.Provider that opens
// in-memory data stores.
type Provider struct {
	m      sync.Mutex
	stores map[string]*dataStore
}

// Open returns the data store for the given application key.
//
// Opening the same key twice returns the same store, so that concurrent
// workers in one process observe each other's writes, as they would
// against a shared external store.
func (p *Provider) Open(ctx context.Context, key string) (persistence.DataStore, error) {
	p.m.Lock()
	defer p.m.Unlock()

	if p.stores == nil {
		p.stores = map[string]*dataStore{}
	}

	if ds, ok := p.stores[key]; ok {
		return ds, nil
	}

	ds := newDataStore()
	p.stores[key] = ds

	return ds, nil
}
