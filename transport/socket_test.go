package transport

import (
	"testing"
	"time"
)

func TestReadDatagramNonBlockingWhenEmpty(t *testing.T) {
	conn := bindLoopback(t)
	defer conn.Close()

	start := time.Now()
	_, _, err := readDatagram(conn, 0)
	elapsed := time.Since(start)

	if err != ErrWouldBlock {
		t.Fatalf("readDatagram on empty socket = %v, want ErrWouldBlock", err)
	}
	if elapsed > 200*time.Millisecond {
		t.Fatalf("readDatagram with deadline 0 took %v, want an immediate, non-blocking poll", elapsed)
	}
}
