package portscan

import (
	"bufio"
	"bytes"
	"strconv"
	"strings"
)

// lsofArgs returns the lsof invocation for one protocol.
// Output format with -F pnT: p<pid>\nn<address>\nTST=<state>\n...
func lsofArgs(proto Proto, listenOnly bool) []string {
	args := []string{"-nP", "-i" + strings.ToUpper(string(proto))}
	if listenOnly && proto == TCP {
		args = append(args, "-sTCP:LISTEN")
	}
	return append(args, "-F", "pnT")
}

// parseLsof parses lsof field output. Each n line opens a socket record that
// following T lines annotate with its state.
func parseLsof(output []byte, proto Proto) ([]Socket, error) {
	var sockets []Socket
	var currentPID int

	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) < 2 {
			continue
		}

		prefix := line[0]
		value := line[1:]

		switch prefix {
		case 'p':
			pid, err := strconv.Atoi(value)
			if err == nil {
				currentPID = pid
			}
		case 'n':
			port := parsePort(value)
			if port >= 0 && currentPID > 0 {
				sockets = append(sockets, Socket{
					Proto: proto,
					Port:  port,
					PID:   currentPID,
				})
			}
		case 'T':
			state, ok := strings.CutPrefix(value, "ST=")
			if ok && len(sockets) > 0 {
				sockets[len(sockets)-1].State = state
			}
		}
	}

	return sockets, scanner.Err()
}

// parsePort extracts the local port from an lsof address.
// Handles: "127.0.0.1:3000", "*:3000", "[::1]:3000" and connected sockets
// such as "127.0.0.1:3000->127.0.0.1:51234". Returns -1 when no port is found.
func parsePort(addr string) int {
	local, _, _ := strings.Cut(addr, "->")

	// Find the last colon (handles IPv6 addresses with colons)
	idx := strings.LastIndex(local, ":")
	if idx == -1 {
		return -1
	}

	portStr := local[idx+1:]

	// Remove any trailing info (like (LISTEN))
	if parenIdx := strings.Index(portStr, "("); parenIdx != -1 {
		portStr = portStr[:parenIdx]
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return -1
	}

	return port
}
