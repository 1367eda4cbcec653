package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"time"
)

// maxDatagramSize bounds a single UDP read; larger payloads must be
// fragmented by the wire package before Send.
const maxDatagramSize = 64 * 1024

// defaultMTU is returned by detectMTU when the platform offers no way
// to query the path MTU, or the query fails.
const defaultMTU = 1400

// Bind opens a UDP socket bound to port on all interfaces, with
// SO_REUSEADDR set so a restarted process can rebind promptly.
func Bind(port uint16) (*net.UDPConn, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			if err := c.Control(func(fd uintptr) {
				sockErr = setSockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
			}); err != nil {
				return err
			}
			return sockErr
		},
	}

	addr := &net.UDPAddr{IP: net.IPv4zero, Port: int(port)}
	conn, err := lc.ListenPacket(context.Background(), "udp", addr.String())
	if err != nil {
		return nil, err
	}
	udpConn, ok := conn.(*net.UDPConn)
	if !ok {
		conn.Close()
		return nil, errors.New("transport: listener is not a UDP connection")
	}
	return udpConn, nil
}

// Connect opens a UDP socket connected to host:port, so Send can use
// Write instead of WriteToUDP.
func Connect(host string, port uint16) (*net.UDPConn, error) {
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, fmt.Sprintf("%d", port)))
	if err != nil {
		return nil, err
	}
	return net.DialUDP("udp", nil, addr)
}

// writeDatagram writes data to addr (or via the connected peer when
// addr is nil), treating any deadline-exceeded error as ErrWouldBlock.
func writeDatagram(conn *net.UDPConn, data []byte, addr *net.UDPAddr, deadline time.Duration) error {
	if deadline > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(deadline)); err != nil {
			return err
		}
		defer conn.SetWriteDeadline(time.Time{})
	}

	var err error
	if addr == nil {
		_, err = conn.Write(data)
	} else {
		_, err = conn.WriteToUDP(data, addr)
	}
	if err != nil {
		if os.IsTimeout(err) {
			return ErrWouldBlock
		}
		return err
	}
	return nil
}

// readDatagram reads one datagram, returning ErrWouldBlock if none is
// available within deadline. deadline == 0 polls without blocking, so
// ReceiveBatch can drain a socket and return promptly once it's empty.
func readDatagram(conn *net.UDPConn, deadline time.Duration) ([]byte, *net.UDPAddr, error) {
	readBy := time.Now()
	if deadline > 0 {
		readBy = readBy.Add(deadline)
	}
	if err := conn.SetReadDeadline(readBy); err != nil {
		return nil, nil, err
	}

	buf := make([]byte, maxDatagramSize)
	n, addr, err := conn.ReadFromUDP(buf)
	if err != nil {
		if os.IsTimeout(err) {
			return nil, nil, ErrWouldBlock
		}
		return nil, nil, err
	}
	return buf[:n], addr, nil
}

// detectMTU reports the path MTU for conn where the platform exposes
// one (see udp_mtu_linux.go / udp_mtu_other.go), falling back to
// defaultMTU otherwise.
func detectMTU(conn *net.UDPConn) int {
	mtu, err := getMTU(conn)
	if err != nil || mtu == 0 {
		return defaultMTU
	}
	return int(mtu)
}
