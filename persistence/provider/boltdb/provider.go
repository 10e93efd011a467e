// Package boltdb implements a durable data store using BoltDB.
package boltdb

import (
	"context"
	"os"
	"sync"

	"github.com/dogmatiq/linger"
	"github.com/perdure/perdure/persistence"
	"go.etcd.io/bbolt"
)

// FileProvider is an implementation of persistence.Provider that opens a
// BoltDB database file.
type FileProvider struct {
	// Path is the path to the BoltDB database file.
	Path string

	// Mode is the file mode for the database file. If it is zero, 0600 is
	// used.
	Mode os.FileMode

	// Options is the BoltDB options for the database. If it is nil,
	// bbolt.DefaultOptions is used.
	Options *bbolt.Options

	m      sync.Mutex
	db     *bbolt.DB
	stores map[string]*dataStore
}

// Open returns the data store for the given application key.
func (p *FileProvider) Open(ctx context.Context, key string) (persistence.DataStore, error) {
	p.m.Lock()
	defer p.m.Unlock()

	if ds, ok := p.stores[key]; ok {
		return ds, nil
	}

	if p.db == nil {
		mode := p.Mode
		if mode == 0 {
			mode = 0600
		}

		opts := p.Options
		if timeout, ok := linger.FromContextDeadline(ctx); ok {
			if opts == nil {
				opts = &bbolt.Options{}
			}

			if opts.Timeout == 0 || timeout < opts.Timeout {
				opts.Timeout = timeout
			}
		}

		db, err := bbolt.Open(p.Path, mode, opts)
		if err != nil {
			return nil, err
		}

		p.db = db
	}

	ds := &dataStore{
		db:  p.db,
		key: []byte(key),
	}

	if p.stores == nil {
		p.stores = map[string]*dataStore{}
	}
	p.stores[key] = ds

	return ds, nil
}

// Close closes the underlying database.
func (p *FileProvider) Close() error {
	p.m.Lock()
	defer p.m.Unlock()

	if p.db == nil {
		return nil
	}

	db := p.db
	p.db = nil
	p.stores = nil

	return db.Close()
}
