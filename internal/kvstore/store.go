// Package kvstore is the key-value backend contract the list store adapter is
// built on, with drivers for an in-process map, CouchDB, MongoDB and SQLite.
//
// The contract is deliberately poor: whole-value get, set and delete keyed by
// string. There is no compare-and-swap and no field-level patch; callers do
// read-modify-write of complete records.
package kvstore

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = errors.New("key not found")

// Store is a key-value backend. Values are opaque JSON documents.
type Store interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases the backend connection.
	Close(ctx context.Context) error
}

// Drivers understood by Open.
const (
	DriverMemory  = "memory"
	DriverCouchDB = "couchdb"
	DriverMongo   = "mongo"
	DriverSQLite  = "sqlite"
)

// Options selects and configures a driver.
type Options struct {
	Driver string

	CouchURL      string
	CouchDatabase string

	MongoURI        string
	MongoDatabase   string
	MongoCollection string

	SQLitePath string
}

// Open connects to the backend named by opts.Driver.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Driver {
	case "", DriverMemory:
		return NewMemory(), nil
	case DriverCouchDB:
		return NewCouchDB(ctx, opts.CouchURL, opts.CouchDatabase)
	case DriverMongo:
		return NewMongo(ctx, opts.MongoURI, opts.MongoDatabase, opts.MongoCollection)
	case DriverSQLite:
		return NewSQLite(ctx, opts.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
}
