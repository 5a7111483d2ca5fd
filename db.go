// Datastore type and lifecycle operations.
//
// A Datastore is a typed, concurrent keyed collection of documents with
// four secondary access paths: a unique index, a tag inverted index, named
// materialised views, and an optional full-text index. With DiskCopies it
// wraps a paged write-ahead log and rebuilds its memory from the log on
// Open; every successful mutation is fanned out to subscribers through the
// broadcast router.
package quire

import (
	"cmp"
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"

	cmap "github.com/orcaman/concurrent-map/v2"
	"go.uber.org/zap"
)

// Datastore is a keyed document collection. All methods are safe for
// concurrent use; reads never block writes to other keys.
type Datastore[K cmp.Ordered, D Document[K]] struct {
	primary cmap.ConcurrentMap[K, D]
	index   cmap.ConcurrentMap[string, K]
	tags    cmap.ConcurrentMap[string, *keySet[K]]
	views   cmap.ConcurrentMap[string, *keySet[K]]
	fts     *textIndex[K] // nil when search is disabled

	log    *pagedLog // nil for InMemoryOnly
	router *router[K, D]

	opts    Options
	logger  *zap.Logger
	metrics *storeMetrics

	closed atomic.Bool

	// shard hashes keys for the primary map and the write-lock stripes.
	shard func(K) uint32

	// writeLocks linearises mutations per key stripe: the primary swap
	// and the secondary diff for one key always apply in the same order,
	// so two writers racing on a key cannot leave a stale index, tag, or
	// posting entry behind. Writes to keys in different stripes proceed
	// independently.
	writeLocks []sync.Mutex

	// compactMu is held read-side by every write and write-side by
	// Compact and Close, which need the log quiescent.
	compactMu sync.RWMutex
}

// Open creates a datastore from an Options bundle. With DiskCopies the
// page directory Path/StorageName is created if needed, locked against
// other processes, and replayed into memory before Open returns.
func Open[K cmp.Ordered, D Document[K]](opts Options) (*Datastore[K, D], error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if opts.StorageName != "" {
		logger = logger.With(zap.String("storage", opts.StorageName))
	}
	metrics := newStoreMetrics(opts.Metrics, opts.StorageName)

	shard := shardFunc[K](opts.HashAlgorithm)
	ds := &Datastore[K, D]{
		primary:    cmap.NewWithCustomShardingFunction[K, D](shard),
		index:      cmap.NewWithCustomShardingFunction[string, K](shardFunc[string](opts.HashAlgorithm)),
		tags:       cmap.NewWithCustomShardingFunction[string, *keySet[K]](shardFunc[string](opts.HashAlgorithm)),
		views:      cmap.NewWithCustomShardingFunction[string, *keySet[K]](shardFunc[string](opts.HashAlgorithm)),
		opts:       opts,
		logger:     logger,
		metrics:    metrics,
		shard:      shard,
		writeLocks: make([]sync.Mutex, 128),
	}
	if !opts.DisableSearch {
		ds.fts = newTextIndex[K](opts.HashAlgorithm)
	}
	ds.router = newRouter[K, D](opts.RouterQueue, opts.SlowSubscriberTimeout, logger, metrics)

	if opts.SType == DiskCopies {
		dir := filepath.Join(opts.Path, opts.StorageName)
		log, err := openPagedLog(dir, opts.TotalPageSize, opts.AppendQueue, logger, metrics)
		if err != nil {
			ds.router.close()
			return nil, err
		}
		ds.log = log
		ds.recoverFromLog()
	}

	return ds, nil
}

// Subscribe registers a sink for mutation events. The sink first receives
// an EventSubscribed marker, then one EventQuery per mutation dispatched
// after admission. The caller owns the channel; closing it is how a
// subscriber leaves (the router drops it on the next delivery), or call
// Unsubscribe for an immediate, orderly exit.
func (ds *Datastore[K, D]) Subscribe(ctx context.Context, sink chan<- Event[K, D]) error {
	if ds.closed.Load() {
		return ErrClosed
	}
	return ds.router.register(ctx, sink)
}

// Unsubscribe removes a previously subscribed sink. Events already fanned
// out to the sink remain readable from it.
func (ds *Datastore[K, D]) Unsubscribe(ctx context.Context, sink chan<- Event[K, D]) error {
	if ds.closed.Load() {
		return ErrClosed
	}
	return ds.router.unregister(ctx, sink)
}

// Close stops the log and router services. In-flight writes finish first;
// writes submitted afterwards fail with ErrClosed. Close is idempotent.
func (ds *Datastore[K, D]) Close() error {
	if ds.closed.Swap(true) {
		return nil
	}

	// Wait for in-flight writes before stopping the services they use.
	ds.compactMu.Lock()
	defer ds.compactMu.Unlock()

	if ds.log != nil {
		ds.log.close()
	}
	ds.router.close()
	return nil
}
