package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smazurov/agentexec/internal/process"
	"github.com/smazurov/agentexec/internal/streamcli"
)

func TestRunExecStreamsOutput(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	var out bytes.Buffer
	res, err := runExec(context.Background(), &out, execOptions{
		Dir:      dir,
		Shell:    "/bin/sh",
		Command:  "echo first; cd sub; echo second; (exit 3)",
		Throttle: 10 * time.Millisecond,
		Grace:    time.Second,
	})
	require.NoError(t, err)

	assert.Equal(t, "first\nsecond\n", out.String())
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, filepath.Join(dir, "sub"), res.Directory)
	assert.Equal(t, 3, exitCode(res))
}

func TestRunExecCancelAborts(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	res, err := runExec(ctx, &bytes.Buffer{}, execOptions{
		Dir:      t.TempDir(),
		Command:  "sleep 30",
		Throttle: 10 * time.Millisecond,
		Grace:    time.Second,
	})
	require.NoError(t, err)

	assert.True(t, res.Aborted)
	assert.Equal(t, 130, exitCode(res))
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestRunExecEmptyCommand(t *testing.T) {
	_, err := runExec(context.Background(), &bytes.Buffer{}, execOptions{Dir: t.TempDir(), Command: "  "})
	assert.ErrorIs(t, err, process.ErrEmptyCommand)
}

func TestExecGraceDefaultsToRegistryWindow(t *testing.T) {
	t.Setenv("WSL_DISTRO_NAME", "Ubuntu")

	d, err := execGrace("")
	require.NoError(t, err)
	assert.Equal(t, process.DefaultGraceWindow, d)

	d, err = execGrace("250ms")
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, d)

	_, err = execGrace("soon")
	assert.Error(t, err)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, exitCode(process.Result{}))
	assert.Equal(t, 1, exitCode(process.Result{ExitCode: -1, Signal: "SIGKILL"}))
	assert.Equal(t, 130, exitCode(process.Result{ExitCode: -1, Aborted: true}))
}

func newStreamClient() *streamcli.Client {
	return streamcli.New(streamcli.ClientOptions{
		Policy: process.Policy{Timeout: 10 * time.Second, GraceWindow: time.Second},
	})
}

func shellRecords(script string) streamcli.Options {
	return streamcli.Options{Path: "/bin/sh", Args: []string{"-c", script}}
}

func TestRunStreamPrintsRecords(t *testing.T) {
	script := `printf '%s\n' '{"type":"system","id":1}' '{"type":"assistant","message":{"text":"hi"}}' 'not json'`

	var out bytes.Buffer
	err := runStream(context.Background(), &out, newStreamClient(), shellRecords(script), recordPrinter{})
	require.NoError(t, err)
	assert.Equal(t, "{\"type\":\"system\",\"id\":1}\n{\"type\":\"assistant\",\"message\":{\"text\":\"hi\"}}\n", out.String())
}

func TestRunStreamFiltersAndSelectsField(t *testing.T) {
	script := `printf '%s\n' '{"type":"system"}' '{"type":"assistant","message":{"text":"hi"}}' '{"type":"assistant"}'`

	var out bytes.Buffer
	printer := recordPrinter{types: []string{"assistant"}, field: "message.text"}
	err := runStream(context.Background(), &out, newStreamClient(), shellRecords(script), printer)
	require.NoError(t, err)
	assert.Equal(t, "hi\n", out.String())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("closed") }

func TestRunStreamWriteFailureStops(t *testing.T) {
	script := `echo '{"type":"a"}'; sleep 30`

	start := time.Now()
	err := runStream(context.Background(), failingWriter{}, newStreamClient(), shellRecords(script), recordPrinter{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "write record")
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestStreamExitCode(t *testing.T) {
	var reported []string
	report := func(msg string, _ ...any) { reported = append(reported, msg) }

	assert.Equal(t, 0, streamExitCode(nil, report))
	assert.Equal(t, 7, streamExitCode(&streamcli.ExitError{Code: 7}, report))
	assert.Equal(t, 1, streamExitCode(&streamcli.ExitError{Code: -1, Signal: "SIGKILL"}, report))
	assert.Equal(t, 124, streamExitCode(fmt.Errorf("%w after 1s", streamcli.ErrTimeout), report))
	assert.Equal(t, 130, streamExitCode(context.Canceled, report))
	assert.Equal(t, 1, streamExitCode(errors.New("boom"), report))
	assert.Len(t, reported, 4)
}
