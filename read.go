// Read operations.
//
// All reads are non-blocking at the map-shard level and never mutate.
// Secondary lookups (tags, views, search) re-check each candidate key
// against the primary map, so a set entry observed mid-write resolves to
// the documents that actually exist at read time.
//
// The iterators are weakly consistent: entries may appear, disappear, or
// repeat under concurrent mutation, but every yielded entry is internally
// consistent.
package quire

import (
	"iter"
	"slices"
)

// Lookup returns the document bound to key.
func (ds *Datastore[K, D]) Lookup(key K) (D, error) {
	if doc, ok := ds.primary.Get(key); ok {
		return doc, nil
	}
	var zero D
	return zero, ErrNotFound
}

// Gets returns the documents for the given keys in input order, silently
// skipping keys that are absent.
func (ds *Datastore[K, D]) Gets(keys []K) []D {
	out := make([]D, 0, len(keys))
	for _, key := range keys {
		if doc, ok := ds.primary.Get(key); ok {
			out = append(out, doc)
		}
	}
	return out
}

// LookupByIndex resolves a unique index string to its document.
func (ds *Datastore[K, D]) LookupByIndex(indexKey string) (D, error) {
	if key, ok := ds.index.Get(indexKey); ok {
		if doc, ok := ds.primary.Get(key); ok {
			return doc, nil
		}
	}
	var zero D
	return zero, ErrNotFound
}

// LookupByTag returns every document currently tagged with tag.
func (ds *Datastore[K, D]) LookupByTag(tag string) []D {
	set, ok := ds.tags.Get(tag)
	if !ok {
		return nil
	}
	return ds.resolve(set.keys())
}

// FetchView returns every document that is a member of the named view.
func (ds *Datastore[K, D]) FetchView(view string) []D {
	set, ok := ds.views.Get(view)
	if !ok {
		return nil
	}
	return ds.resolve(set.keys())
}

// Range returns the documents whose key lies in [from, to], in key order.
// The field argument is accepted for API compatibility and ignored; the
// range is always over the primary key.
func (ds *Datastore[K, D]) Range(field string, from, to K) []D {
	_ = field

	var keys []K
	for tuple := range ds.primary.IterBuffered() {
		if tuple.Key >= from && tuple.Key <= to {
			keys = append(keys, tuple.Key)
		}
	}
	slices.Sort(keys)
	return ds.resolve(keys)
}

// Iter yields every (key, document) pair.
func (ds *Datastore[K, D]) Iter() iter.Seq2[K, D] {
	return func(yield func(K, D) bool) {
		for tuple := range ds.primary.IterBuffered() {
			if !yield(tuple.Key, tuple.Val) {
				return
			}
		}
	}
}

// IterIndex yields every (index string, key) pair.
func (ds *Datastore[K, D]) IterIndex() iter.Seq2[string, K] {
	return func(yield func(string, K) bool) {
		for tuple := range ds.index.IterBuffered() {
			if !yield(tuple.Key, tuple.Val) {
				return
			}
		}
	}
}

// IterTags yields every (tag, member keys) pair.
func (ds *Datastore[K, D]) IterTags() iter.Seq2[string, []K] {
	return func(yield func(string, []K) bool) {
		for tuple := range ds.tags.IterBuffered() {
			if !yield(tuple.Key, tuple.Val.keys()) {
				return
			}
		}
	}
}

// resolve maps keys to their current documents, dropping keys that no
// longer exist in the primary.
func (ds *Datastore[K, D]) resolve(keys []K) []D {
	out := make([]D, 0, len(keys))
	for _, key := range keys {
		if doc, ok := ds.primary.Get(key); ok {
			out = append(out, doc)
		}
	}
	return out
}
