// Package reaper terminates the processes that hold a set of ports.
//
// A run takes one snapshot of the socket table, then handles every port
// independently on a bounded pool of goroutines. Failures on one port are
// recorded in that port's Outcome and never stop the others; only a failure
// to read the socket table aborts the run.
package reaper

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"portreaper/internal/portscan"
	"portreaper/internal/proc"
)

// ErrNoProcess reports that no process holds a port.
var ErrNoProcess = errors.New("no process found on port")

// DefaultConcurrency bounds the per-port workers when Options.Concurrency is
// not positive.
const DefaultConcurrency = 16

// Resolver produces a snapshot of the socket table.
type Resolver interface {
	Scan(ctx context.Context, f portscan.Filter) (*portscan.Table, error)
}

// Terminator signals a single process.
type Terminator interface {
	Terminate(ctx context.Context, pid int, force bool) error
}

// Options tunes a run.
type Options struct {
	Force       bool // SIGKILL instead of SIGTERM
	Silent      bool // no notice for ports without an owner
	DryRun      bool // resolve owners, signal nothing
	Concurrency int
	Filter      portscan.Filter
}

// Reaper kills the owners of ports.
type Reaper struct {
	resolver   Resolver
	terminator Terminator
	opts       Options
	logger     zerolog.Logger
	protected  map[int]bool
}

// New returns a Reaper. The calling process and PIDs 0 and 1 are never
// signalled.
func New(resolver Resolver, terminator Terminator, opts Options, logger zerolog.Logger) *Reaper {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	return &Reaper{
		resolver:   resolver,
		terminator: terminator,
		opts:       opts,
		logger:     logger,
		protected:  map[int]bool{0: true, 1: true, os.Getpid(): true},
	}
}

// Reap terminates every process holding one of ports. The returned error is
// non-nil only when the socket table could not be read; per-port results are
// in the Report.
func (r *Reaper) Reap(ctx context.Context, ports []int) (*Report, error) {
	table, err := r.resolver.Scan(ctx, r.opts.Filter)
	if err != nil {
		if !errors.Is(err, portscan.ErrEnumeration) {
			err = fmt.Errorf("%w: %w", portscan.ErrEnumeration, err)
		}
		return nil, err
	}

	outcomes := make([]Outcome, len(ports))

	var g errgroup.Group
	g.SetLimit(r.opts.Concurrency)

	for i, port := range ports {
		if err := ctx.Err(); err != nil {
			outcomes[i] = Outcome{Port: port, Status: StatusFailed, Err: fmt.Errorf("port %d: %w", port, err)}
			r.logOutcome(outcomes[i])
			continue
		}
		i, port := i, port
		g.Go(func() error {
			outcomes[i] = r.reapPort(ctx, port, table.Owners(port), table.Unattributed(port))
			r.logOutcome(outcomes[i])
			return nil
		})
	}

	_ = g.Wait()

	return newReport(outcomes), nil
}

func (r *Reaper) reapPort(ctx context.Context, port int, owners []int, unattributed int) Outcome {
	out := Outcome{Port: port}
	for _, pid := range owners {
		if !r.protected[pid] {
			out.PIDs = append(out.PIDs, pid)
		}
	}

	// Sockets exist but their owner is hidden from us.
	if len(out.PIDs) == 0 && unattributed > 0 {
		out.Status = StatusFailed
		out.Err = fmt.Errorf("port %d: %w (%d sockets): %w", port, portscan.ErrUnattributed, unattributed, proc.ErrPermission)
		return out
	}

	if len(out.PIDs) == 0 {
		out.Status = StatusNotFound
		out.Err = fmt.Errorf("port %d: %w", port, ErrNoProcess)
		return out
	}

	if r.opts.DryRun {
		out.Status = StatusDryRun
		return out
	}

	var errs []error
	for _, pid := range out.PIDs {
		err := r.terminator.Terminate(ctx, pid, r.opts.Force)
		if err == nil || errors.Is(err, proc.ErrProcessGone) {
			continue
		}
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		out.Status = StatusFailed
		out.Err = fmt.Errorf("port %d: %w", port, errors.Join(errs...))
		return out
	}

	out.Status = StatusKilled
	return out
}

func (r *Reaper) logOutcome(o Outcome) {
	switch o.Status {
	case StatusKilled:
		r.logger.Info().Int("port", o.Port).Ints("pids", o.PIDs).Bool("force", r.opts.Force).Msg("terminated")
	case StatusDryRun:
		r.logger.Info().Int("port", o.Port).Ints("pids", o.PIDs).Msg("would terminate")
	case StatusNotFound:
		if !r.opts.Silent {
			r.logger.Warn().Int("port", o.Port).Msg("no process found")
		}
	case StatusFailed:
		r.logger.Warn().Int("port", o.Port).Ints("pids", o.PIDs).Err(o.Err).Msg("termination failed")
	}
}
