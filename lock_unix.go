//go:build unix || linux || darwin

// flock(2) implementation for Unix platforms.
// Both methods are called with l.mu held or before the lock is shared.
package quire

import "syscall"

func (l *dirLock) lock() error {
	// Blocking flock, no LOCK_NB, so Open waits for the other process.
	return syscall.Flock(int(l.f.Fd()), syscall.LOCK_EX)
}

func (l *dirLock) unlock() error {
	return syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
}
