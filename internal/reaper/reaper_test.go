package reaper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portreaper/internal/portscan"
	"portreaper/internal/portspec"
	"portreaper/internal/proc"
)

type fakeResolver struct {
	sockets []portscan.Socket
	err     error
	filter  portscan.Filter
}

func (f *fakeResolver) Scan(_ context.Context, filter portscan.Filter) (*portscan.Table, error) {
	f.filter = filter
	if f.err != nil {
		return nil, f.err
	}
	return portscan.NewTable(f.sockets), nil
}

type call struct {
	pid   int
	force bool
}

type fakeTerminator struct {
	mu       sync.Mutex
	calls    []call
	failures map[int]error
	delay    time.Duration

	inflight    atomic.Int32
	maxInflight atomic.Int32
}

func (f *fakeTerminator) Terminate(_ context.Context, pid int, force bool) error {
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		cur := f.maxInflight.Load()
		if n <= cur || f.maxInflight.CompareAndSwap(cur, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{pid: pid, force: force})
	return f.failures[pid]
}

func (f *fakeTerminator) pids() map[int]bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := make(map[int]bool)
	for _, c := range f.calls {
		seen[c.pid] = true
	}
	return seen
}

func listener(port, pid int) portscan.Socket {
	return portscan.Socket{Proto: portscan.TCP, Port: port, State: portscan.StateListen, PID: pid}
}

func TestReapKillsOwners(t *testing.T) {
	resolver := &fakeResolver{sockets: []portscan.Socket{
		listener(8001, 101),
		listener(8002, 102),
		listener(8002, 103),
		listener(9500, 104),
	}}
	term := &fakeTerminator{}

	r := New(resolver, term, Options{Force: true, Silent: true}, zerolog.Nop())
	report, err := r.Reap(context.Background(), portspec.Range{From: 8000, To: 8005}.Ports())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Count(StatusKilled))
	assert.Equal(t, 3, report.Count(StatusNotFound))
	assert.Equal(t, map[int]bool{101: true, 102: true, 103: true}, term.pids())
	for _, c := range term.calls {
		assert.True(t, c.force)
	}

	o, ok := report.Outcome(8002)
	require.True(t, ok)
	assert.Equal(t, StatusKilled, o.Status)
	assert.Equal(t, []int{102, 103}, o.PIDs)

	o, ok = report.Outcome(8000)
	require.True(t, ok)
	assert.ErrorIs(t, o.Err, ErrNoProcess)

	_, ok = report.Outcome(9500)
	assert.False(t, ok)
}

func TestReapRangeBounds(t *testing.T) {
	resolver := &fakeResolver{sockets: []portscan.Socket{listener(8123, 1123), listener(8999, 1999)}}

	term := &fakeTerminator{}
	r := New(resolver, term, Options{Force: true, Silent: true}, zerolog.Nop())
	_, err := r.Reap(context.Background(), portspec.Range{From: 8000, To: 8500}.Ports())
	require.NoError(t, err)
	assert.Equal(t, map[int]bool{1123: true}, term.pids())

	term = &fakeTerminator{}
	r = New(resolver, term, Options{Force: true, Silent: true}, zerolog.Nop())
	_, err = r.Reap(context.Background(), portspec.Range{From: 8000, To: 9000}.Ports())
	require.NoError(t, err)
	assert.Equal(t, map[int]bool{1123: true, 1999: true}, term.pids())
}

func TestReapIsolatesPartialFailure(t *testing.T) {
	var sockets []portscan.Socket
	for port := 8000; port < 8020; port++ {
		sockets = append(sockets, listener(port, port+10000))
	}
	resolver := &fakeResolver{sockets: sockets}
	term := &fakeTerminator{failures: map[int]error{
		18007: fmt.Errorf("pid 18007: %w", proc.ErrPermission),
	}}

	r := New(resolver, term, Options{Force: true, Silent: true, Concurrency: 4}, zerolog.Nop())
	report, err := r.Reap(context.Background(), portspec.Range{From: 8000, To: 8020}.Ports())
	require.NoError(t, err)

	assert.Len(t, term.pids(), 20, "every port must be attempted")
	assert.Equal(t, 19, report.Count(StatusKilled))

	failed := report.Matching(StatusFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, 8007, failed[0].Port)
	assert.ErrorIs(t, failed[0].Err, proc.ErrPermission)
}

func TestReapTreatsVanishedProcessAsKilled(t *testing.T) {
	resolver := &fakeResolver{sockets: []portscan.Socket{listener(8000, 42)}}
	term := &fakeTerminator{failures: map[int]error{42: fmt.Errorf("pid 42: %w", proc.ErrProcessGone)}}

	report, err := New(resolver, term, Options{}, zerolog.Nop()).Reap(context.Background(), []int{8000})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Count(StatusKilled))
}

func TestReapEnumerationFailureIsFatal(t *testing.T) {
	resolver := &fakeResolver{err: errors.New("open /proc/net/tcp: permission denied")}
	term := &fakeTerminator{}

	report, err := New(resolver, term, Options{}, zerolog.Nop()).Reap(context.Background(), []int{8000, 8001})
	require.ErrorIs(t, err, portscan.ErrEnumeration)
	assert.Nil(t, report)
	assert.Empty(t, term.pids())
}

func TestReapDryRun(t *testing.T) {
	resolver := &fakeResolver{sockets: []portscan.Socket{listener(8000, 42)}}
	term := &fakeTerminator{}

	report, err := New(resolver, term, Options{DryRun: true}, zerolog.Nop()).Reap(context.Background(), []int{8000, 8001})
	require.NoError(t, err)
	assert.Empty(t, term.pids())

	o, _ := report.Outcome(8000)
	assert.Equal(t, StatusDryRun, o.Status)
	assert.Equal(t, []int{42}, o.PIDs)
}

func TestReapSkipsProtectedPIDs(t *testing.T) {
	resolver := &fakeResolver{sockets: []portscan.Socket{
		listener(8000, os.Getpid()),
		listener(8001, 1),
		listener(8001, 77),
	}}
	term := &fakeTerminator{}

	report, err := New(resolver, term, Options{}, zerolog.Nop()).Reap(context.Background(), []int{8000, 8001})
	require.NoError(t, err)
	assert.Equal(t, map[int]bool{77: true}, term.pids())

	o, _ := report.Outcome(8000)
	assert.Equal(t, StatusNotFound, o.Status)
}

func TestReapPassesOptions(t *testing.T) {
	resolver := &fakeResolver{sockets: []portscan.Socket{listener(8000, 42)}}
	term := &fakeTerminator{}
	filter := portscan.Filter{Protocols: []portscan.Proto{portscan.TCP, portscan.UDP}, ListenOnly: true}

	_, err := New(resolver, term, Options{Force: false, Filter: filter}, zerolog.Nop()).Reap(context.Background(), []int{8000})
	require.NoError(t, err)
	assert.Equal(t, filter, resolver.filter)
	require.Len(t, term.calls, 1)
	assert.False(t, term.calls[0].force)
}

func TestReapBoundsConcurrency(t *testing.T) {
	var sockets []portscan.Socket
	for port := 8000; port < 8030; port++ {
		sockets = append(sockets, listener(port, port))
	}
	term := &fakeTerminator{delay: 5 * time.Millisecond}

	r := New(&fakeResolver{sockets: sockets}, term, Options{Concurrency: 3}, zerolog.Nop())
	_, err := r.Reap(context.Background(), portspec.Range{From: 8000, To: 8030}.Ports())
	require.NoError(t, err)

	assert.LessOrEqual(t, term.maxInflight.Load(), int32(3))
	assert.Len(t, term.pids(), 30)
}

func TestReapCancelledContext(t *testing.T) {
	var buf bytes.Buffer
	resolver := &fakeResolver{sockets: []portscan.Socket{listener(8000, 42)}}
	term := &fakeTerminator{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := New(resolver, term, Options{Silent: true}, zerolog.New(&buf)).Reap(ctx, []int{8000, 8001})
	require.NoError(t, err)
	assert.Empty(t, term.pids())
	assert.Equal(t, 2, report.Count(StatusFailed))

	o, _ := report.Outcome(8001)
	assert.ErrorIs(t, o.Err, context.Canceled)
	assert.Equal(t, 2, bytes.Count(buf.Bytes(), []byte("termination failed")))
}

func TestReapReportsHiddenOwners(t *testing.T) {
	var buf bytes.Buffer
	resolver := &fakeResolver{sockets: []portscan.Socket{
		{Proto: portscan.TCP, Port: 8000, State: portscan.StateListen, Inode: 99},
	}}
	term := &fakeTerminator{}

	report, err := New(resolver, term, Options{Silent: true}, zerolog.New(&buf)).Reap(context.Background(), []int{8000, 8001})
	require.NoError(t, err)
	assert.Empty(t, term.pids())

	o, _ := report.Outcome(8000)
	assert.Equal(t, StatusFailed, o.Status)
	assert.ErrorIs(t, o.Err, portscan.ErrUnattributed)
	assert.ErrorIs(t, o.Err, proc.ErrPermission)

	o, _ = report.Outcome(8001)
	assert.Equal(t, StatusNotFound, o.Status)

	assert.Contains(t, buf.String(), "termination failed")
	assert.Contains(t, buf.String(), `"port":8000`)
	assert.NotContains(t, buf.String(), `"port":8001`)
}

func TestReapKillsVisibleOwnerDespiteHiddenSockets(t *testing.T) {
	resolver := &fakeResolver{sockets: []portscan.Socket{
		{Proto: portscan.TCP, Port: 8000, State: "ESTABLISHED", Inode: 98},
		listener(8000, 42),
	}}
	term := &fakeTerminator{}

	report, err := New(resolver, term, Options{}, zerolog.Nop()).Reap(context.Background(), []int{8000})
	require.NoError(t, err)
	assert.Equal(t, map[int]bool{42: true}, term.pids())
	assert.Equal(t, 1, report.Count(StatusKilled))
}

func TestReapSilentSuppressesNotFound(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	resolver := &fakeResolver{}

	_, err := New(resolver, &fakeTerminator{}, Options{Silent: true}, logger).Reap(context.Background(), []int{8000})
	require.NoError(t, err)
	assert.Empty(t, buf.String())

	_, err = New(resolver, &fakeTerminator{}, Options{Silent: false}, logger).Reap(context.Background(), []int{8000, 8001})
	require.NoError(t, err)
	assert.Equal(t, 2, bytes.Count(buf.Bytes(), []byte("no process found")))
}

func TestReapLogsFailuresEvenWhenSilent(t *testing.T) {
	var buf bytes.Buffer
	resolver := &fakeResolver{sockets: []portscan.Socket{listener(8000, 42)}}
	term := &fakeTerminator{failures: map[int]error{42: proc.ErrPermission}}

	_, err := New(resolver, term, Options{Silent: true}, zerolog.New(&buf)).Reap(context.Background(), []int{8000})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "termination failed")
	assert.Contains(t, buf.String(), `"port":8000`)
}

func TestReapIsIdempotent(t *testing.T) {
	resolver := &fakeResolver{sockets: []portscan.Socket{listener(8000, 42)}}
	term := &fakeTerminator{}
	r := New(resolver, term, Options{Silent: true}, zerolog.Nop())

	_, err := r.Reap(context.Background(), []int{8000})
	require.NoError(t, err)

	resolver.sockets = nil
	report, err := r.Reap(context.Background(), []int{8000})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Count(StatusNotFound))
	assert.Zero(t, report.Count(StatusFailed))
}
