//go:build !linux && !darwin

package portscan

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v4/net"
)

func scan(ctx context.Context, f Filter) ([]Socket, error) {
	var sockets []Socket

	for _, proto := range f.protocols() {
		conns, err := net.ConnectionsWithContext(ctx, string(proto))
		if err != nil {
			return nil, fmt.Errorf("listing %s connections: %w", proto, err)
		}
		for _, s := range fromConnections(conns, proto) {
			if f.keep(s) {
				sockets = append(sockets, s)
			}
		}
	}

	return sockets, nil
}
