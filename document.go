// Document capability bundle.
//
// A datastore learns everything it needs about a document type through the
// Document interface: the unique index string, the tag set, materialised
// view membership, and the searchable text. All four must be pure functions
// of the document value: the engine calls them on both the old and new
// value during a write to diff the secondary structures, and again during
// recovery to rebuild them.
package quire

import "cmp"

// Document supplies the secondary access paths for a stored value.
// Implementations must be serialisable with encoding/json tags, since the
// paged log persists documents in their JSON form.
type Document[K cmp.Ordered] interface {
	// UniqueIndex returns the document's unique index string, or "" when
	// the document is not indexed. Index strings are unique across the
	// datastore; a collision is resolved last-writer-wins.
	UniqueIndex() string

	// Tags returns the document's tag strings. A key appears in the tag
	// map under every returned tag.
	Tags() []string

	// Views returns (view-name, member) pairs. Only pairs with a true
	// value place the key in the named view.
	Views() map[string]bool

	// SearchText returns the text indexed for full-text search, or ""
	// when there is nothing to index.
	SearchText() string
}

// tagSet converts the Tags slice to a set, deduplicating repeated tags.
func tagSet[K cmp.Ordered](d Document[K]) map[string]struct{} {
	tags := d.Tags()
	if len(tags) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		set[t] = struct{}{}
	}
	return set
}

// viewSet reduces the Views map to the set of views the document is a
// member of.
func viewSet[K cmp.Ordered](d Document[K]) map[string]struct{} {
	views := d.Views()
	if len(views) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(views))
	for v, member := range views {
		if member {
			set[v] = struct{}{}
		}
	}
	return set
}
