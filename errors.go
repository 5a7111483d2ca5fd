// Package quire provides an embeddable in-process document store with
// secondary indexes, materialised views, full-text search, and optional
// durability through a paged write-ahead log.
//
// Each Datastore is a concurrent keyed collection of documents. Mutations
// are appended to the log before memory is touched, so a crashed process
// recovers its full state by replaying pages on the next Open. Every
// successful mutation is also fanned out to subscribers as an Event.
package quire

import "errors"

// Sentinel errors returned by datastore operations.
var (
	// ErrNotFound is returned when a key or unique index entry does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrStoreNotFound is returned when a Database holds no datastore with
	// the requested name and type.
	ErrStoreNotFound = errors.New("datastore not found")

	// ErrStoreExists is returned when registering a datastore under a name
	// that is already taken.
	ErrStoreExists = errors.New("datastore already registered")

	// ErrClosed is returned when operating on a closed datastore. Once the
	// log or router service task has stopped, every subsequent write fails
	// with this error.
	ErrClosed = errors.New("datastore is closed")

	// ErrCorruptRecord is returned when a log frame cannot be decoded.
	ErrCorruptRecord = errors.New("corrupt log record")

	// ErrEndOfLog is returned by getPage when the requested page index is
	// beyond the last page. It is a sentinel, not a failure.
	ErrEndOfLog = errors.New("no more pages")

	// ErrTornWrite is returned when a frame ends mid-payload. Recovery
	// treats it as a clean truncation point.
	ErrTornWrite = errors.New("torn frame at end of page")

	// ErrDecompress is returned when a compressed payload cannot be restored.
	ErrDecompress = errors.New("decompression failed")

	// ErrInvalidOptions is returned by Open when the Options bundle is
	// incomplete or inconsistent.
	ErrInvalidOptions = errors.New("invalid options")

	// ErrInMemoryOnly is returned by operations that require a disk log
	// when the datastore was opened with InMemoryOnly.
	ErrInMemoryOnly = errors.New("datastore has no disk log")
)
