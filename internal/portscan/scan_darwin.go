//go:build darwin

package portscan

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
)

func scan(ctx context.Context, f Filter) ([]Socket, error) {
	var sockets []Socket

	for _, proto := range f.protocols() {
		cmd := exec.CommandContext(ctx, "lsof", lsofArgs(proto, f.ListenOnly)...)
		output, err := cmd.Output()
		if err != nil {
			// lsof exits 1 when nothing matched.
			var exitErr *exec.ExitError
			if !errors.As(err, &exitErr) || exitErr.ExitCode() != 1 || len(output) > 0 {
				return nil, fmt.Errorf("lsof failed: %w", err)
			}
		}

		found, err := parseLsof(output, proto)
		if err != nil {
			return nil, fmt.Errorf("failed to parse lsof output: %w", err)
		}
		for _, s := range found {
			if f.keep(s) {
				sockets = append(sockets, s)
			}
		}
	}

	return sockets, nil
}
