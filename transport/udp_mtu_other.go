//go:build !linux

package transport

import "net"

// getMTU returns defaultMTU on platforms where IP_MTU is unavailable.
func getMTU(conn *net.UDPConn) (uint, error) {
	return defaultMTU, nil
}
