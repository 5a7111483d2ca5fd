// OS-level locking of the page directory.
//
// A datastore holds an exclusive flock on a LOCK file inside its page
// directory for as long as it is open. A second process opening the same
// directory blocks in Open until the first releases it, so two writers can
// never interleave appends into one log.
package quire

import (
	"os"
	"path/filepath"
	"sync"
)

const lockFileName = "LOCK"

// dirLock holds the lock file handle. The mutex serialises the flock
// syscall against release so Close cannot invalidate the fd mid-syscall.
type dirLock struct {
	mu sync.Mutex
	f  *os.File
}

// acquireDirLock creates (if needed) and exclusively locks dir/LOCK.
func acquireDirLock(dir string) (*dirLock, error) {
	f, err := os.OpenFile(filepath.Join(dir, lockFileName), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	l := &dirLock{f: f}
	if err := l.lock(); err != nil {
		f.Close()
		return nil, err
	}
	return l, nil
}

// release unlocks and closes the lock file. Safe to call more than once.
func (l *dirLock) release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.unlock()
	l.f.Close()
	l.f = nil
	return err
}
