//go:build !windows

package transport

import "syscall"

// setSockoptInt sets an integer socket option on Unix-like systems.
func setSockoptInt(fd uintptr, level, opt, value int) error {
	return syscall.SetsockoptInt(int(fd), level, opt, value)
}
