package streamcli

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/smazurov/agentexec/internal/process"
)

var testPolicy = process.Policy{
	Timeout:     10 * time.Second,
	GraceWindow: 500 * time.Millisecond,
}

func newTestClient(opts ClientOptions) *Client {
	if opts.Policy == (process.Policy{}) {
		opts.Policy = testPolicy
	}
	if opts.Logger == nil {
		opts.Logger = testLogger()
	}
	return New(opts)
}

func shell(script string) Options {
	return Options{Path: "/bin/sh", Args: []string{"-c", script}}
}

func drain(t *testing.T, seq func(func(Record, error) bool)) ([]Record, []error) {
	t.Helper()
	var recs []Record
	var errs []error
	seq(func(rec Record, err error) bool {
		if err != nil {
			errs = append(errs, err)
		} else {
			recs = append(recs, rec)
		}
		return true
	})
	return recs, errs
}

func TestRunYieldsRecords(t *testing.T) {
	c := newTestClient(ClientOptions{})
	recs, errs := drain(t, c.Run(context.Background(), shell(
		`printf '{"type":"system"}\n{"type":"assistant","text":"hi"}\n'`)))

	require.Empty(t, errs)
	require.Len(t, recs, 2)
	assert.Equal(t, "system", recs[0].Type)
	assert.Equal(t, "hi", recs[1].Get("text").String())
}

func TestRunJoinsRecordSplitAcrossLines(t *testing.T) {
	c := newTestClient(ClientOptions{})
	recs, errs := drain(t, c.Run(context.Background(), shell(
		`printf '{"type":"assistant","text":"a\nb"}\n'`)))

	require.Empty(t, errs)
	require.Len(t, recs, 1)
	assert.Equal(t, "ab", recs[0].Get("text").String())
}

func TestRunDropsTruncatedUnknownTail(t *testing.T) {
	c := newTestClient(ClientOptions{})
	recs, errs := drain(t, c.Run(context.Background(), shell(`printf '{"type":"a"}\n{"typ'`)))

	require.Empty(t, errs)
	require.Len(t, recs, 1)
	assert.Equal(t, "a", recs[0].Type)
}

func TestRunSalvagesAssistantTail(t *testing.T) {
	c := newTestClient(ClientOptions{})
	recs, errs := drain(t, c.Run(context.Background(), shell(`printf '{"type":"assistant","text":"unfinis'`)))

	require.Empty(t, errs)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Partial)
	assert.Equal(t, "assistant", recs[0].Type)
}

func TestRunExitError(t *testing.T) {
	c := newTestClient(ClientOptions{})
	recs, errs := drain(t, c.Run(context.Background(), shell(
		`printf '{"type":"a"}\n'; echo boom >&2; exit 2`)))

	require.Len(t, recs, 1)
	require.Len(t, errs, 1)
	var exitErr *ExitError
	require.ErrorAs(t, errs[0], &exitErr)
	assert.Equal(t, 2, exitErr.Code)
	assert.Contains(t, exitErr.Stderr, "boom")
}

func TestRunSpawnFailure(t *testing.T) {
	c := newTestClient(ClientOptions{})
	recs, errs := drain(t, c.Run(context.Background(), Options{Path: "/nonexistent/agent"}))

	assert.Empty(t, recs)
	require.Len(t, errs, 1)
}

func TestRunTimeout(t *testing.T) {
	c := newTestClient(ClientOptions{Policy: process.Policy{
		Timeout:     200 * time.Millisecond,
		GraceWindow: 200 * time.Millisecond,
	}})

	start := time.Now()
	_, errs := drain(t, c.Run(context.Background(), shell(`exec sleep 30`)))

	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrTimeout)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRunParentCancel(t *testing.T) {
	c := newTestClient(ClientOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	_, errs := drain(t, c.Run(ctx, shell(`exec sleep 30`)))

	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], context.Canceled)
	assert.False(t, errors.Is(errs[0], ErrTimeout))
}

func TestRunConsumerBreakTearsDown(t *testing.T) {
	reg := process.NewRegistry(process.RegistryOptions{GraceWindow: 500 * time.Millisecond, Logger: testLogger()})
	defer reg.Close()
	c := newTestClient(ClientOptions{Registry: reg})

	var pid int
	for rec, err := range c.Run(context.Background(), shell(`printf '{"type":"a"}\n'; exec sleep 30`)) {
		require.NoError(t, err)
		assert.Equal(t, "a", rec.Type)
		infos := reg.List()
		require.Len(t, infos, 1)
		pid = infos[0].PID
		break
	}

	assert.Equal(t, 0, reg.Count())
	require.NotZero(t, pid)
	assert.ErrorIs(t, unix.Kill(pid, 0), unix.ESRCH)
}

func TestRunZeroGraceKillsForcefully(t *testing.T) {
	c := newTestClient(ClientOptions{Policy: process.Policy{Timeout: 10 * time.Second}})
	assert.Zero(t, c.Policy().GraceWindow)

	start := time.Now()
	for range c.Run(context.Background(), shell(`trap "" TERM; printf '{"type":"a"}\n'; while :; do sleep 0.05; done`)) {
		break
	}
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestRunHeartbeatFailureIsOnlyReported(t *testing.T) {
	var probes atomic.Int32
	c := newTestClient(ClientOptions{
		Policy: process.Policy{
			Timeout:           10 * time.Second,
			GraceWindow:       500 * time.Millisecond,
			HeartbeatInterval: 20 * time.Millisecond,
		},
		Probe: func(int) error {
			probes.Add(1)
			return errors.New("probe failed")
		},
	})

	recs, errs := drain(t, c.Run(context.Background(), shell(`sleep 0.3; printf '{"type":"done"}\n'`)))

	require.Empty(t, errs)
	require.Len(t, recs, 1)
	assert.Equal(t, int32(1), probes.Load(), "probe stops after the first failure")
}

func TestRunPassesEnvAndStdin(t *testing.T) {
	c := newTestClient(ClientOptions{})
	opts := shell(`read line; printf '{"type":"echo","line":"%s","env":"%s"}\n' "$line" "$AGENT_MODE"`)
	opts.Env = []string{"AGENT_MODE=print"}
	opts.Stdin = strings.NewReader("hello\n")

	recs, errs := drain(t, c.Run(context.Background(), opts))

	require.Empty(t, errs)
	require.Len(t, recs, 1)
	assert.Equal(t, "hello", recs[0].Get("line").String())
	assert.Equal(t, "print", recs[0].Get("env").String())
}
