// Package proc terminates processes by PID.
package proc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

var (
	// ErrPermission is returned when the caller may not signal the process.
	ErrPermission = errors.New("permission denied")
	// ErrProcessGone is returned when the process exited before it was signalled.
	ErrProcessGone = errors.New("process no longer exists")
)

// DefaultPollInterval is how often an escalating Terminate checks whether the
// process has exited.
const DefaultPollInterval = 50 * time.Millisecond

// Terminator sends termination signals through gopsutil process handles.
type Terminator struct {
	// Grace, when positive, makes a graceful Terminate escalate to SIGKILL if
	// the process is still running after this long.
	Grace time.Duration
	// PollInterval defaults to DefaultPollInterval.
	PollInterval time.Duration
}

// Terminate sends SIGKILL to pid when force is set and SIGTERM otherwise.
func (t *Terminator) Terminate(ctx context.Context, pid int, force bool) error {
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return classify(pid, err)
	}

	if force {
		if err := p.KillWithContext(ctx); err != nil {
			return classify(pid, err)
		}
		return nil
	}

	if err := p.TerminateWithContext(ctx); err != nil {
		return classify(pid, err)
	}

	if t.Grace <= 0 {
		return nil
	}
	return t.escalate(ctx, p)
}

// escalate waits up to Grace for p to exit and kills it otherwise.
func (t *Terminator) escalate(ctx context.Context, p *process.Process) error {
	interval := t.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	deadline := time.NewTimer(t.Grace)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if running, err := p.IsRunningWithContext(ctx); err == nil && !running {
				return nil
			}
		case <-deadline.C:
			if err := p.KillWithContext(ctx); err != nil {
				if err := classify(int(p.Pid), err); !errors.Is(err, ErrProcessGone) {
					return err
				}
			}
			return nil
		}
	}
}

// Name returns the executable name of pid, or "" if it cannot be read.
func Name(ctx context.Context, pid int) string {
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return ""
	}
	name, err := p.NameWithContext(ctx)
	if err != nil {
		return ""
	}
	return name
}

func classify(pid int, err error) error {
	switch {
	case errors.Is(err, process.ErrorProcessNotRunning), isGone(err):
		return fmt.Errorf("pid %d: %w", pid, ErrProcessGone)
	case isPermission(err):
		return fmt.Errorf("pid %d: %w: %w", pid, ErrPermission, err)
	default:
		return fmt.Errorf("pid %d: %w", pid, err)
	}
}
