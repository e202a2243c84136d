package portscan

import (
	"slices"
	"sort"
)

// Table is a point-in-time view of the socket table keyed by local port.
type Table struct {
	sockets      []Socket
	owners       map[int][]int
	unattributed map[int]int
}

// NewTable indexes sockets by port.
func NewTable(sockets []Socket) *Table {
	t := &Table{
		sockets:      sockets,
		owners:       make(map[int][]int),
		unattributed: make(map[int]int),
	}

	for _, s := range sockets {
		if s.PID <= 0 {
			t.unattributed[s.Port]++
			continue
		}
		pids := t.owners[s.Port]
		if !slices.Contains(pids, s.PID) {
			t.owners[s.Port] = append(pids, s.PID)
		}
	}

	for port := range t.owners {
		sort.Ints(t.owners[port])
	}

	return t
}

// Owners returns the sorted PIDs holding port. The slice must not be modified.
func (t *Table) Owners(port int) []int {
	return t.owners[port]
}

// Unattributed returns the number of sockets on port without a known owner.
func (t *Table) Unattributed(port int) int {
	return t.unattributed[port]
}

// Ports returns every port with at least one attributed owner, ascending.
func (t *Table) Ports() []int {
	ports := make([]int, 0, len(t.owners))
	for port := range t.owners {
		ports = append(ports, port)
	}
	sort.Ints(ports)
	return ports
}

// Sockets returns the raw scan result.
func (t *Table) Sockets() []Socket {
	return t.sockets
}
