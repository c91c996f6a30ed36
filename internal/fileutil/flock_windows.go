//go:build windows
// +build windows

package fileutil

import (
	"fmt"
	"os"
	"syscall"
	"unsafe"
)

var (
	modkernel32    = syscall.NewLazyDLL("kernel32.dll")
	procLockFileEx = modkernel32.NewProc("LockFileEx")
)

const (
	winLockfileExclusiveLock   = 0x00000002
	winLockfileFailImmediately = 0x00000001
)

// FlockExclusive takes an exclusive lock on the first byte of f via
// LockFileEx. The lock lives as long as the handle; the daemon holds it for
// its whole lifetime to keep a second instance from adopting the same PID
// file. With nonBlocking set the call fails immediately when another process
// holds the lock.
func FlockExclusive(f *os.File, nonBlocking bool) error {
	flags := uintptr(winLockfileExclusiveLock)
	if nonBlocking {
		flags |= winLockfileFailImmediately
	}
	var overlapped syscall.Overlapped
	ret, _, err := procLockFileEx.Call(
		f.Fd(),
		flags,
		0,
		1,
		0,
		uintptr(unsafe.Pointer(&overlapped)),
	)
	if ret == 0 {
		return fmt.Errorf("failed to acquire exclusive lock: %w", err)
	}
	return nil
}
