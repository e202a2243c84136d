package portscan

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// tcpStates maps the hex state column of /proc/net/tcp to its name.
var tcpStates = map[string]string{
	"01": "ESTABLISHED",
	"02": "SYN_SENT",
	"03": "SYN_RECV",
	"04": "FIN_WAIT1",
	"05": "FIN_WAIT2",
	"06": "TIME_WAIT",
	"07": "CLOSE",
	"08": "CLOSE_WAIT",
	"09": "LAST_ACK",
	"0A": StateListen,
	"0B": "CLOSING",
}

// procNetFiles lists the /proc/net tables per protocol. The first file of each
// family is required, the IPv6 table is optional.
var procNetFiles = map[Proto][]string{
	TCP: {"tcp", "tcp6"},
	UDP: {"udp", "udp6"},
}

// scanProc builds the socket list from a procfs mount rooted at root.
func scanProc(ctx context.Context, root string, f Filter) ([]Socket, error) {
	var sockets []Socket

	for _, proto := range f.protocols() {
		for i, name := range procNetFiles[proto] {
			path := filepath.Join(root, "net", name)
			found, err := parseProcNetFile(path, proto)
			if err != nil {
				if i > 0 && errors.Is(err, os.ErrNotExist) {
					continue // IPv6 disabled
				}
				return nil, err
			}
			for _, s := range found {
				if f.keep(s) {
					sockets = append(sockets, s)
				}
			}
		}
	}

	inodes := make(map[uint64]struct{}, len(sockets))
	for _, s := range sockets {
		inodes[s.Inode] = struct{}{}
	}

	owners, err := mapInodesToPIDs(ctx, root, inodes)
	if err != nil {
		return nil, fmt.Errorf("failed to map inodes to PIDs: %w", err)
	}

	// A socket shared across fork is reported once per owning process.
	result := make([]Socket, 0, len(sockets))
	for _, s := range sockets {
		pids := owners[s.Inode]
		if len(pids) == 0 {
			result = append(result, s)
			continue
		}
		for _, pid := range pids {
			owned := s
			owned.PID = pid
			result = append(result, owned)
		}
	}

	return result, nil
}

func parseProcNetFile(path string, proto Proto) ([]Socket, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	sockets, err := parseProcNet(file, proto)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return sockets, nil
}

// parseProcNet parses the body of /proc/net/{tcp,tcp6,udp,udp6}.
// Sockets without an inode (TIME_WAIT and friends) have no owner and are
// dropped.
func parseProcNet(r io.Reader, proto Proto) ([]Socket, error) {
	var sockets []Socket
	scanner := bufio.NewScanner(r)

	// Skip header line
	if !scanner.Scan() {
		return nil, scanner.Err()
	}

	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 10 {
			continue
		}

		// Local address (field 1): "0100007F:1F90" = 127.0.0.1:8080
		localAddr := fields[1]
		idx := strings.LastIndex(localAddr, ":")
		if idx == -1 {
			continue
		}
		port, err := strconv.ParseUint(localAddr[idx+1:], 16, 16)
		if err != nil {
			continue
		}

		inode, err := strconv.ParseUint(fields[9], 10, 64)
		if err != nil || inode == 0 {
			continue
		}

		state := fields[3]
		if proto == TCP {
			if name, ok := tcpStates[state]; ok {
				state = name
			}
		}

		sockets = append(sockets, Socket{
			Proto: proto,
			Port:  int(port),
			State: state,
			Inode: inode,
		})
	}

	return sockets, scanner.Err()
}

// mapInodesToPIDs scans <root>/<pid>/fd for socket links to the given inodes.
// Processes whose fd directory cannot be read are skipped.
func mapInodesToPIDs(ctx context.Context, root string, inodes map[uint64]struct{}) (map[uint64][]int, error) {
	result := make(map[uint64][]int)
	if len(inodes) == 0 {
		return result, nil
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		pid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue // Not a PID directory
		}

		fdDir := filepath.Join(root, entry.Name(), "fd")
		fdEntries, err := os.ReadDir(fdDir)
		if err != nil {
			continue // Exited or permission denied
		}

		for _, fdEntry := range fdEntries {
			link, err := os.Readlink(filepath.Join(fdDir, fdEntry.Name()))
			if err != nil {
				continue
			}

			inode, ok := socketInode(link)
			if !ok {
				continue
			}
			if _, wanted := inodes[inode]; !wanted {
				continue
			}

			pids := result[inode]
			if len(pids) == 0 || pids[len(pids)-1] != pid {
				result[inode] = append(pids, pid)
			}
		}
	}

	return result, nil
}

// socketInode extracts the inode from a "socket:[12345]" link target.
func socketInode(link string) (uint64, bool) {
	rest, ok := strings.CutPrefix(link, "socket:[")
	if !ok {
		return 0, false
	}
	rest, ok = strings.CutSuffix(rest, "]")
	if !ok {
		return 0, false
	}
	inode, err := strconv.ParseUint(rest, 10, 64)
	if err != nil {
		return 0, false
	}
	return inode, true
}
