// Database: a registry of named datastores behind one dispatch façade.
//
// Each datastore is registered under a name and resolved back out with its
// concrete type via the generic free functions. The registry stores the
// instances type-erased; Resolve re-asserts the (K, D) pair, so asking for
// a registered name with the wrong types fails the same way as an unknown
// name. The package-level operation wrappers exist so callers holding only
// a *Database can reach any datastore in one call. They cover Insert,
// Remove, Subscribe, Lookup, LookupByIndex, LookupByTag, FetchView and
// Search; the other datastore methods have no wrapper and are called on
// the value Resolve returns.
package quire

import (
	"cmp"
	"context"
	"io"
	"sync"
)

// Database holds named datastores and caches. Registration is typically
// done once at startup; resolution is concurrent-safe throughout.
type Database struct {
	mu     sync.RWMutex
	stores map[string]any
}

// NewDatabase returns an empty registry.
func NewDatabase() *Database {
	return &Database{stores: make(map[string]any)}
}

// RegisterStore adds a datastore under name. Returns ErrStoreExists when
// the name is taken.
func RegisterStore[K cmp.Ordered, D Document[K]](db *Database, name string, ds *Datastore[K, D]) error {
	return db.register(name, ds)
}

// RegisterCache adds a volatile TTL cache under name.
func RegisterCache[K comparable, V any](db *Database, name string, c *Cache[K, V]) error {
	return db.register(name, c)
}

func (db *Database) register(name string, v any) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, taken := db.stores[name]; taken {
		return ErrStoreExists
	}
	db.stores[name] = v
	return nil
}

// Resolve returns the datastore registered under name with the requested
// key and document types.
func Resolve[K cmp.Ordered, D Document[K]](db *Database, name string) (*Datastore[K, D], error) {
	db.mu.RLock()
	v, ok := db.stores[name]
	db.mu.RUnlock()
	if !ok {
		return nil, ErrStoreNotFound
	}
	ds, ok := v.(*Datastore[K, D])
	if !ok {
		return nil, ErrStoreNotFound
	}
	return ds, nil
}

// ResolveCache returns the cache registered under name with the requested
// types.
func ResolveCache[K comparable, V any](db *Database, name string) (*Cache[K, V], error) {
	db.mu.RLock()
	v, ok := db.stores[name]
	db.mu.RUnlock()
	if !ok {
		return nil, ErrStoreNotFound
	}
	c, ok := v.(*Cache[K, V])
	if !ok {
		return nil, ErrStoreNotFound
	}
	return c, nil
}

// Close shuts down every registered datastore and cache and empties the
// registry.
func (db *Database) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	var first error
	for name, v := range db.stores {
		if c, ok := v.(io.Closer); ok {
			if err := c.Close(); err != nil && first == nil {
				first = err
			}
		}
		delete(db.stores, name)
	}
	return first
}

// Dispatch façade. Each wrapper resolves by (name, K, D) and forwards.

// Insert stores doc under key in the named datastore.
func Insert[K cmp.Ordered, D Document[K]](ctx context.Context, db *Database, name string, key K, doc D) error {
	ds, err := Resolve[K, D](db, name)
	if err != nil {
		return err
	}
	return ds.Insert(ctx, key, doc)
}

// Remove deletes key from the named datastore.
func Remove[K cmp.Ordered, D Document[K]](ctx context.Context, db *Database, name string, key K) error {
	ds, err := Resolve[K, D](db, name)
	if err != nil {
		return err
	}
	return ds.Remove(ctx, key)
}

// Subscribe registers sink with the named datastore's router.
func Subscribe[K cmp.Ordered, D Document[K]](ctx context.Context, db *Database, name string, sink chan<- Event[K, D]) error {
	ds, err := Resolve[K, D](db, name)
	if err != nil {
		return err
	}
	return ds.Subscribe(ctx, sink)
}

// Lookup returns the document bound to key in the named datastore.
func Lookup[K cmp.Ordered, D Document[K]](db *Database, name string, key K) (D, error) {
	ds, err := Resolve[K, D](db, name)
	if err != nil {
		var zero D
		return zero, err
	}
	return ds.Lookup(key)
}

// LookupByIndex resolves a unique index string in the named datastore.
func LookupByIndex[K cmp.Ordered, D Document[K]](db *Database, name, indexKey string) (D, error) {
	ds, err := Resolve[K, D](db, name)
	if err != nil {
		var zero D
		return zero, err
	}
	return ds.LookupByIndex(indexKey)
}

// LookupByTag returns the documents tagged with tag in the named datastore.
func LookupByTag[K cmp.Ordered, D Document[K]](db *Database, name, tag string) ([]D, error) {
	ds, err := Resolve[K, D](db, name)
	if err != nil {
		return nil, err
	}
	return ds.LookupByTag(tag), nil
}

// FetchView returns the members of the named view.
func FetchView[K cmp.Ordered, D Document[K]](db *Database, name, view string) ([]D, error) {
	ds, err := Resolve[K, D](db, name)
	if err != nil {
		return nil, err
	}
	return ds.FetchView(view), nil
}

// Search runs a full-text query against the named datastore.
func Search[K cmp.Ordered, D Document[K]](db *Database, name, query string) ([]D, error) {
	ds, err := Resolve[K, D](db, name)
	if err != nil {
		return nil, err
	}
	return ds.Search(query), nil
}
