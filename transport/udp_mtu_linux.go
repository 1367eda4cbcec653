//go:build linux

package transport

import (
	"net"
	"syscall"
)

// getMTU queries the path MTU for conn via IP_MTU on Linux.
func getMTU(conn *net.UDPConn) (uint, error) {
	rawConn, err := conn.SyscallConn()
	if err != nil {
		return defaultMTU, nil
	}

	var mtu int
	var getErr error
	err = rawConn.Control(func(fd uintptr) {
		mtu, getErr = syscall.GetsockoptInt(int(fd), syscall.IPPROTO_IP, syscall.IP_MTU)
	})

	if err != nil || getErr != nil || mtu <= 0 {
		return defaultMTU, nil
	}
	return uint(mtu), nil
}
