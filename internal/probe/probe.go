// Package probe checks whether ports still accept connections.
package probe

import (
	"context"
	"net"
	"strconv"
	"time"
)

// DialTimeout bounds a single connection attempt.
const DialTimeout = 500 * time.Millisecond

// DefaultHost is dialled when no host is given. It resolves to both loopback
// families.
const DefaultHost = "localhost"

// Accepting reports whether something accepts TCP connections on host:port.
func Accepting(ctx context.Context, host string, port int) bool {
	if host == "" {
		host = DefaultHost
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	d := net.Dialer{Timeout: DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// WaitReleased polls ports until none accepts connections or timeout elapses.
// It returns the ports that were still accepting at the end, in input order.
func WaitReleased(ctx context.Context, host string, ports []int, timeout, interval time.Duration) []int {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	busy := ports
	for {
		var still []int
		for _, port := range busy {
			if Accepting(ctx, host, port) {
				still = append(still, port)
			}
		}
		// Dials fail once the deadline passes, so this round proves nothing.
		if ctx.Err() != nil {
			return busy
		}
		busy = still
		if len(busy) == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return busy
		case <-time.After(interval):
		}
	}
}
