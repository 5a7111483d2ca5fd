// Write path: Insert, Remove, and secondary structure maintenance.
//
// Both mutations follow the same sequence: serialise the record, append it
// to the log and wait for the durability ack, apply to the primary map
// under the key's shard lock, diff the secondary structures, then dispatch
// the event. A failed append leaves memory untouched, so the log never
// lags memory; the event goes out last, so subscribers never observe a
// mutation before it is durable and applied.
//
// Secondary updates run outside the primary map's shard lock, under a
// per-key write stripe that keeps the diff order equal to the primary
// transition order. Readers can see a transient state (a tag entry for a
// key whose document just changed) but never an inconsistent one, because
// each secondary entry is checked against the primary at read time.
package quire

import (
	"cmp"
	"context"
	"sync"

	"go.uber.org/zap"
)

// Insert binds key to doc, replacing any previous document. With
// DiskCopies the mutation is durable before memory changes; on any append
// error memory is untouched and the error is returned.
func (ds *Datastore[K, D]) Insert(ctx context.Context, key K, doc D) error {
	if ds.closed.Load() {
		return ErrClosed
	}
	ds.compactMu.RLock()
	defer ds.compactMu.RUnlock()

	if ds.log != nil {
		payload, err := encodeRecord[K, D](OpInsert, key, &doc, ds.opts.CompressThreshold)
		if err != nil {
			return err
		}
		if err := ds.log.append(ctx, payload); err != nil {
			return err
		}
	}

	lock := ds.keyLock(key)
	lock.Lock()
	old := ds.storeInsert(key, doc)
	ds.updateSecondaries(key, old, &doc)
	lock.Unlock()

	ds.metrics.eventsDispatched.Inc()
	return ds.router.dispatch(ctx, Event[K, D]{Kind: EventQuery, Op: OpInsert, Key: key, Doc: &doc})
}

// Remove deletes key and clears every secondary entry derived from its
// document. Removing an absent key is not an error; the removal is still
// logged and dispatched, mirroring the log's replay semantics.
func (ds *Datastore[K, D]) Remove(ctx context.Context, key K) error {
	if ds.closed.Load() {
		return ErrClosed
	}
	ds.compactMu.RLock()
	defer ds.compactMu.RUnlock()

	if ds.log != nil {
		payload, err := encodeRecord[K, D](OpRemove, key, nil, ds.opts.CompressThreshold)
		if err != nil {
			return err
		}
		if err := ds.log.append(ctx, payload); err != nil {
			return err
		}
	}

	lock := ds.keyLock(key)
	lock.Lock()
	if old := ds.storeRemove(key); old != nil {
		ds.updateSecondaries(key, old, nil)
	}
	lock.Unlock()

	ds.metrics.eventsDispatched.Inc()
	return ds.router.dispatch(ctx, Event[K, D]{Kind: EventQuery, Op: OpRemove, Key: key})
}

// keyLock returns the write-lock stripe for a key. Mutations to one key
// always apply, primary swap and secondary diff together, under the
// same stripe, in a single linear order.
func (ds *Datastore[K, D]) keyLock(key K) *sync.Mutex {
	return &ds.writeLocks[ds.shard(key)%uint32(len(ds.writeLocks))]
}

// storeInsert replaces the primary entry under the key's shard lock and
// returns the previous document, if any.
func (ds *Datastore[K, D]) storeInsert(key K, doc D) *D {
	var old *D
	ds.primary.Upsert(key, doc, func(exist bool, cur D, next D) D {
		if exist {
			prev := cur
			old = &prev
		}
		return next
	})
	return old
}

// storeRemove deletes the primary entry under the key's shard lock and
// returns the removed document, if any.
func (ds *Datastore[K, D]) storeRemove(key K) *D {
	var old *D
	ds.primary.RemoveCb(key, func(_ K, cur D, exists bool) bool {
		if exists {
			prev := cur
			old = &prev
		}
		return exists
	})
	return old
}

// updateSecondaries diffs the old and new documents into the index, tag,
// view, and full-text structures. Either document may be nil (fresh
// insert, removal). The same diff serves the live path and recovery.
func (ds *Datastore[K, D]) updateSecondaries(key K, oldDoc, newDoc *D) {
	ds.updateIndex(key, oldDoc, newDoc)

	oldTags, newTags := docSets[K, D](oldDoc, newDoc, tagSet[K])
	for t := range oldTags {
		if _, keep := newTags[t]; !keep {
			setRemove(ds.tags, t, key)
		}
	}
	for t := range newTags {
		if _, had := oldTags[t]; !had {
			setAdd(ds.tags, t, key)
		}
	}

	oldViews, newViews := docSets[K, D](oldDoc, newDoc, viewSet[K])
	for v := range oldViews {
		if _, keep := newViews[v]; !keep {
			setRemove(ds.views, v, key)
		}
	}
	for v := range newViews {
		if _, had := oldViews[v]; !had {
			setAdd(ds.views, v, key)
		}
	}

	if ds.fts != nil {
		ds.fts.update(key, docText[K, D](oldDoc), docText[K, D](newDoc))
	}
}

// updateIndex moves the unique index entry from the old string to the new
// one. The old entry is removed only while it still points at this key,
// so a later writer that overwrote it is left alone. A collision on the
// new string resolves last-writer-wins.
func (ds *Datastore[K, D]) updateIndex(key K, oldDoc, newDoc *D) {
	var oldIdx, newIdx string
	if oldDoc != nil {
		oldIdx = (*oldDoc).UniqueIndex()
	}
	if newDoc != nil {
		newIdx = (*newDoc).UniqueIndex()
	}
	if oldIdx == newIdx && oldIdx == "" {
		return
	}

	if oldIdx != "" && oldIdx != newIdx {
		ds.index.RemoveCb(oldIdx, func(_ string, cur K, exists bool) bool {
			return exists && cur == key
		})
	}

	if newIdx != "" {
		var displaced *K
		ds.index.Upsert(newIdx, key, func(exist bool, cur K, next K) K {
			if exist && cur != key {
				prev := cur
				displaced = &prev
			}
			return next
		})
		if displaced != nil {
			ds.logger.Warn("unique index collision, last writer wins",
				zap.String("index", newIdx),
				zap.Any("displaced_key", *displaced),
				zap.Any("key", key))
		}
	}
}

// docSets derives a string set from each side of a document transition.
func docSets[K cmp.Ordered, D Document[K]](oldDoc, newDoc *D, derive func(Document[K]) map[string]struct{}) (o, n map[string]struct{}) {
	if oldDoc != nil {
		o = derive(*oldDoc)
	}
	if newDoc != nil {
		n = derive(*newDoc)
	}
	return o, n
}

// docText extracts the searchable text, tolerating a nil document.
func docText[K cmp.Ordered, D Document[K]](doc *D) string {
	if doc == nil {
		return ""
	}
	return (*doc).SearchText()
}
