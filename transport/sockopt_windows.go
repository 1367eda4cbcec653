//go:build windows

package transport

import "syscall"

// setSockoptInt sets an integer socket option on Windows.
func setSockoptInt(fd uintptr, level, opt, value int) error {
	return syscall.SetsockoptInt(syscall.Handle(fd), level, opt, value)
}

