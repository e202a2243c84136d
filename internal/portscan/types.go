// Package portscan builds a snapshot of the host socket table and maps local
// ports to the processes that own them.
package portscan

import (
	"context"
	"errors"
	"fmt"
	"slices"
)

// ErrEnumeration marks a failure to read the socket table as a whole.
var ErrEnumeration = errors.New("socket table enumeration failed")

// ErrUnattributed marks a port held by sockets whose owning process could not
// be identified, usually because its /proc/<pid>/fd was not readable.
var ErrUnattributed = errors.New("socket owner not visible")

// Proto is a socket family.
type Proto string

const (
	TCP Proto = "tcp"
	UDP Proto = "udp"
)

// StateListen is the state name reported for listening TCP sockets.
const StateListen = "LISTEN"

// Socket is one entry of the socket table.
type Socket struct {
	Proto Proto
	Port  int    // local port
	State string // e.g. LISTEN, ESTABLISHED; empty when unknown
	Inode uint64 // zero when the platform does not expose it
	PID   int    // zero when the owner could not be attributed
}

// Filter selects which sockets a scan reports.
type Filter struct {
	Protocols  []Proto // defaults to TCP only
	ListenOnly bool    // only TCP sockets in LISTEN state
}

func (f Filter) protocols() []Proto {
	if len(f.Protocols) == 0 {
		return []Proto{TCP}
	}
	return f.Protocols
}

func (f Filter) wants(proto Proto) bool {
	return slices.Contains(f.protocols(), proto)
}

func (f Filter) keep(s Socket) bool {
	if !f.wants(s.Proto) {
		return false
	}
	if f.ListenOnly && s.Proto == TCP && s.State != StateListen {
		return false
	}
	return true
}

// Scan reads the socket table of the host. Errors wrap ErrEnumeration.
func Scan(ctx context.Context, f Filter) (*Table, error) {
	sockets, err := scan(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEnumeration, err)
	}
	return NewTable(sockets), nil
}

// Scanner is the host socket table source.
type Scanner struct{}

// Scan implements the resolver used by the reaper.
func (Scanner) Scan(ctx context.Context, f Filter) (*Table, error) {
	return Scan(ctx, f)
}
