//go:build linux

package portscan

import "context"

func scan(ctx context.Context, f Filter) ([]Socket, error) {
	return scanProc(ctx, "/proc", f)
}
