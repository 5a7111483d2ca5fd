// Log compaction.
//
// The log records every mutation ever made, so update and remove churn
// grows it without bound. Compact rewrites it as a minimal snapshot: one
// Insert record per live key, framed into a fresh page sequence in a
// scratch directory, then atomically swapped in by the log service while
// all writers are blocked. Replaying the compacted log yields exactly the
// current memory state, so the log-authority invariant is preserved.
package quire

import (
	"os"

	"github.com/pkg/errors"
)

// Compact rewrites the paged log to a snapshot of the current state.
// Writers block for the duration; readers are unaffected. Returns
// ErrInMemoryOnly when the datastore has no disk log.
func (ds *Datastore[K, D]) Compact() error {
	if ds.closed.Load() {
		return ErrClosed
	}
	if ds.log == nil {
		return ErrInMemoryOnly
	}

	ds.compactMu.Lock()
	defer ds.compactMu.Unlock()

	tmp := ds.log.dir + ".compact"
	if err := os.RemoveAll(tmp); err != nil {
		return errors.Wrap(err, "clear scratch directory")
	}
	if err := os.MkdirAll(tmp, 0o755); err != nil {
		return errors.Wrap(err, "create scratch directory")
	}

	if err := ds.writeSnapshot(tmp); err != nil {
		os.RemoveAll(tmp)
		return err
	}

	if err := ds.log.swap(tmp); err != nil {
		os.RemoveAll(tmp)
		return err
	}

	ds.metrics.compactions.Inc()
	return nil
}

// writeSnapshot frames one Insert per live key into fresh pages under
// dir, honouring the configured page size.
func (ds *Datastore[K, D]) writeSnapshot(dir string) error {
	pageIdx := 1
	f, err := os.OpenFile(pagePath(dir, pageIdx), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errors.Wrap(err, "create snapshot page")
	}
	var off int64

	for tuple := range ds.primary.IterBuffered() {
		doc := tuple.Val
		payload, err := encodeRecord[K, D](OpInsert, tuple.Key, &doc, ds.opts.CompressThreshold)
		if err != nil {
			f.Close()
			return err
		}
		framed := frame(payload)

		if off > 0 && off+int64(len(framed)) > ds.opts.TotalPageSize {
			if err := closeSynced(f); err != nil {
				return err
			}
			pageIdx++
			if f, err = os.OpenFile(pagePath(dir, pageIdx), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err != nil {
				return errors.Wrapf(err, "create snapshot page %d", pageIdx)
			}
			off = 0
		}

		if _, err := f.Write(framed); err != nil {
			f.Close()
			return errors.Wrapf(err, "write snapshot page %d", pageIdx)
		}
		off += int64(len(framed))
	}

	return closeSynced(f)
}

func closeSynced(f *os.File) error {
	if err := f.Sync(); err != nil {
		f.Close()
		return errors.Wrap(err, "fsync snapshot page")
	}
	return errors.Wrap(f.Close(), "close snapshot page")
}
