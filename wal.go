// Paged write-ahead log service.
//
// A single goroutine owns the write handle and serialises every append:
// callers submit (payload, reply) pairs over a bounded channel and block
// until the record is on disk and fsynced. Page rotation happens inside
// the same goroutine, so no writer ever observes a half-opened page.
//
// Reads take a separate path: openPageReader works on the files directly
// and never touches the writer state. The page directory is flocked for
// the lifetime of the log, so the only writers are in this process.
package quire

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type appendReq struct {
	payload []byte
	reply   chan error
}

type swapReq struct {
	tmpDir string
	reply  chan error
}

// pagedLog is the durable, ordered append log. All fields below the
// channels are owned by the service goroutine once run starts.
type pagedLog struct {
	dir      string
	pageSize int64
	logger   *zap.Logger
	metrics  *storeMetrics
	lock     *dirLock

	reqs    chan appendReq
	swaps   chan swapReq
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once

	f       *os.File
	pageIdx int
	pageOff int64
}

// openPagedLog prepares the page directory, takes the directory lock,
// positions the writer at the tail of the last page, and starts the
// service goroutine.
func openPagedLog(dir string, pageSize int64, queue int, logger *zap.Logger, metrics *storeMetrics) (*pagedLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create page directory")
	}

	lock, err := acquireDirLock(dir)
	if err != nil {
		return nil, errors.Wrap(err, "lock page directory")
	}

	last, err := lastPageIndex(dir)
	if err != nil {
		lock.release()
		return nil, err
	}
	if last == 0 {
		last = 1
	}

	f, err := os.OpenFile(pagePath(dir, last), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		lock.release()
		return nil, errors.Wrapf(err, "open page %d", last)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		lock.release()
		return nil, errors.Wrap(err, "stat tail page")
	}

	l := &pagedLog{
		dir:      dir,
		pageSize: pageSize,
		logger:   logger,
		metrics:  metrics,
		lock:     lock,
		reqs:     make(chan appendReq, queue),
		swaps:    make(chan swapReq),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
		f:        f,
		pageIdx:  last,
		pageOff:  info.Size(),
	}
	go l.run()
	return l, nil
}

// run is the service loop. It exits when close is called, syncing and
// closing the tail page on the way out.
func (l *pagedLog) run() {
	defer close(l.stopped)
	for {
		select {
		case req := <-l.reqs:
			req.reply <- l.writeRecord(req.payload)
		case req := <-l.swaps:
			req.reply <- l.swapPages(req.tmpDir)
		case <-l.done:
			l.f.Sync()
			l.f.Close()
			return
		}
	}
}

// append blocks until the payload is durable. The context applies to
// queueing and to waiting for the ack; a record may still become durable
// after the caller gives up, in which case recovery realises it later.
func (l *pagedLog) append(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	req := appendReq{payload: payload, reply: make(chan error, 1)}
	select {
	case l.reqs <- req:
	case <-l.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-l.stopped:
		// The service exited with this request still queued.
		select {
		case err := <-req.reply:
			return err
		default:
			return ErrClosed
		}
	}
}

// writeRecord frames, writes, and fsyncs one record, rotating to the next
// page first when the frame would not fit. Runs on the service goroutine.
func (l *pagedLog) writeRecord(payload []byte) error {
	framed := frame(payload)

	// A record larger than a whole page still gets written, alone on its
	// own page, since records cannot span pages.
	if l.pageOff > 0 && l.pageOff+int64(len(framed)) > l.pageSize {
		if err := l.rotate(); err != nil {
			l.metrics.appendErrors.Inc()
			return err
		}
	}

	if _, err := l.f.Write(framed); err != nil {
		l.metrics.appendErrors.Inc()
		return errors.Wrapf(err, "append to page %d", l.pageIdx)
	}
	if err := l.f.Sync(); err != nil {
		l.metrics.appendErrors.Inc()
		return errors.Wrapf(err, "fsync page %d", l.pageIdx)
	}

	l.pageOff += int64(len(framed))
	l.metrics.appends.Inc()
	l.metrics.bytesWritten.Add(float64(len(framed)))
	return nil
}

// rotate seals the current page and opens the next one.
func (l *pagedLog) rotate() error {
	if err := l.f.Sync(); err != nil {
		return errors.Wrapf(err, "fsync page %d before rotation", l.pageIdx)
	}
	if err := l.f.Close(); err != nil {
		return errors.Wrapf(err, "close page %d", l.pageIdx)
	}

	next := l.pageIdx + 1
	f, err := os.OpenFile(pagePath(l.dir, next), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errors.Wrapf(err, "open page %d", next)
	}

	l.f = f
	l.pageIdx = next
	l.pageOff = 0
	l.metrics.pageRotations.Inc()
	return nil
}

// getPage opens page n for reading. Returns ErrEndOfLog past the tail.
func (l *pagedLog) getPage(n int) (*pageReader, error) {
	return openPageReader(l.dir, n, l.pageSize)
}

// swap replaces the live pages with the compacted set in tmpDir. Called
// by Compact with all writers blocked; the request is serviced by the
// writer goroutine because it owns the open file handle.
func (l *pagedLog) swap(tmpDir string) error {
	req := swapReq{tmpDir: tmpDir, reply: make(chan error, 1)}
	select {
	case l.swaps <- req:
	case <-l.done:
		return ErrClosed
	}
	select {
	case err := <-req.reply:
		return err
	case <-l.stopped:
		return ErrClosed
	}
}

// swapPages runs on the service goroutine: close the tail, delete the old
// pages, move the compacted pages in, and reopen the new tail.
func (l *pagedLog) swapPages(tmpDir string) error {
	if err := l.f.Sync(); err != nil {
		return errors.Wrap(err, "fsync before swap")
	}
	if err := l.f.Close(); err != nil {
		return errors.Wrap(err, "close tail before swap")
	}

	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return errors.Wrap(err, "read page directory")
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), pagePrefix) {
			if err := os.Remove(filepath.Join(l.dir, e.Name())); err != nil {
				l.logger.Warn("failed to delete old page",
					zap.String("page", e.Name()), zap.Error(err))
			}
		}
	}

	tmpEntries, err := os.ReadDir(tmpDir)
	if err != nil {
		return errors.Wrap(err, "read compacted pages")
	}
	for _, e := range tmpEntries {
		if !strings.HasPrefix(e.Name(), pagePrefix) {
			continue
		}
		src := filepath.Join(tmpDir, e.Name())
		dst := filepath.Join(l.dir, e.Name())
		if err := os.Rename(src, dst); err != nil {
			return errors.Wrapf(err, "install compacted page %s", e.Name())
		}
	}
	os.RemoveAll(tmpDir)

	last, err := lastPageIndex(l.dir)
	if err != nil {
		return err
	}
	if last == 0 {
		last = 1
	}
	f, err := os.OpenFile(pagePath(l.dir, last), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errors.Wrapf(err, "reopen page %d", last)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return errors.Wrap(err, "stat new tail page")
	}

	l.f = f
	l.pageIdx = last
	l.pageOff = info.Size()
	return nil
}

// close stops the service and releases the directory lock. Idempotent.
func (l *pagedLog) close() {
	l.once.Do(func() {
		close(l.done)
		<-l.stopped
		l.lock.release()
	})
}
