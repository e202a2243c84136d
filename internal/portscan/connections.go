package portscan

import (
	"github.com/shirou/gopsutil/v4/net"
)

// fromConnections converts gopsutil connection stats for one protocol.
func fromConnections(conns []net.ConnectionStat, proto Proto) []Socket {
	sockets := make([]Socket, 0, len(conns))
	for _, c := range conns {
		sockets = append(sockets, Socket{
			Proto: proto,
			Port:  int(c.Laddr.Port),
			State: c.Status,
			PID:   int(c.Pid),
		})
	}
	return sockets
}
