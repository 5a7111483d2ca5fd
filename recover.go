// Recovery: rebuilding memory from the paged log at Open time.
//
// The loader drains pages in order, decodes each record, and applies it
// through the same primitives as the live write path, but without
// re-appending to the log and without dispatching events. Given a log,
// recovery is deterministic: the final state equals the state produced by
// applying the same record sequence live.
//
// Recovery prefers availability over strictness. A torn final frame is the
// normal footprint of a crash mid-append and stops replay at the last
// intact record; a corrupt record or an unreadable page stops replay the
// same way, with a warning, and the datastore opens with everything
// applied up to that point.
package quire

import (
	"io"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// recoverFromLog replays the page sequence into memory. Runs inside Open,
// before the datastore is visible to any caller.
func (ds *Datastore[K, D]) recoverFromLog() {
	recovered := 0
	defer func() {
		ds.metrics.recordsRecovered.Add(float64(recovered))
		if recovered > 0 {
			ds.logger.Info("replayed log into memory", zap.Int("records", recovered))
		}
	}()

	for n := 1; ; n++ {
		page, err := ds.log.getPage(n)
		if err != nil {
			if !errors.Is(err, ErrEndOfLog) {
				ds.metrics.recoveryTruncated.Inc()
				ds.logger.Warn("recovery stopped: unreadable page",
					zap.Int("page", n), zap.Error(err))
			}
			return
		}

		ok := ds.replayPage(page, n, &recovered)
		page.Close()
		if !ok {
			return
		}
	}
}

// replayPage applies every intact record of one page. Returns false when
// replay must stop (torn or corrupt tail).
func (ds *Datastore[K, D]) replayPage(page *pageReader, n int, recovered *int) bool {
	for {
		payload, err := page.Next()
		if err == io.EOF {
			return true
		}
		if err != nil {
			ds.metrics.recoveryTruncated.Inc()
			ds.logger.Warn("recovery stopped at damaged record",
				zap.Int("page", n), zap.Int("applied", *recovered), zap.Error(err))
			return false
		}

		op, key, doc, err := decodeRecord[K, D](payload)
		if err != nil {
			ds.metrics.recoveryTruncated.Inc()
			ds.logger.Warn("recovery stopped at undecodable record",
				zap.Int("page", n), zap.Int("applied", *recovered), zap.Error(err))
			return false
		}

		ds.applyRecovered(op, key, doc)
		*recovered++
	}
}

// applyRecovered applies one decoded record to memory, bypassing the log
// and the router.
func (ds *Datastore[K, D]) applyRecovered(op Operation, key K, doc *D) {
	switch op {
	case OpInsert:
		old := ds.storeInsert(key, *doc)
		ds.updateSecondaries(key, old, doc)
	case OpRemove:
		if old := ds.storeRemove(key); old != nil {
			ds.updateSecondaries(key, old, nil)
		}
	}
}
