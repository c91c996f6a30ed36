//go:build !windows
// +build !windows

package fileutil

import (
	"fmt"
	"os"
	"syscall"
)

// FlockExclusive takes an exclusive advisory lock on f. The lock lives as
// long as the file descriptor; the daemon holds it for its whole lifetime to
// keep a second instance from adopting the same PID file. With nonBlocking
// set the call fails immediately when another process holds the lock.
func FlockExclusive(f *os.File, nonBlocking bool) error {
	flags := syscall.LOCK_EX
	if nonBlocking {
		flags |= syscall.LOCK_NB
	}
	if err := syscall.Flock(int(f.Fd()), flags); err != nil {
		return fmt.Errorf("failed to acquire exclusive lock: %w", err)
	}
	return nil
}
