package execute

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExecutor() *Executor {
	return &Executor{BaseEnv: os.Environ()}
}

func TestExecute_CapturesStdout(t *testing.T) {
	ex := newTestExecutor()
	res, err := ex.Execute(context.Background(), "echo hello", Spec{Dir: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "hello\n", string(res.Stdout))
	assert.Empty(t, res.Stderr)
}

func TestExecute_CapturesStderrSeparately(t *testing.T) {
	ex := newTestExecutor()
	res, err := ex.Execute(context.Background(), "echo oops 1>&2", Spec{Dir: t.TempDir()})
	require.NoError(t, err)
	assert.Empty(t, res.Stdout)
	assert.Equal(t, "oops\n", string(res.Stderr))
}

func TestExecute_ReportsChildExitCode(t *testing.T) {
	ex := newTestExecutor()
	res, err := ex.Execute(context.Background(), "exit 7", Spec{Dir: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, 7, res.ExitCode)
}

func TestExecute_InheritsHostEnvironment(t *testing.T) {
	t.Setenv("RUNBOOK_TEST_HOST_VAR", "from-host")

	ex := &Executor{BaseEnv: os.Environ()}
	res, err := ex.Execute(context.Background(), "echo $RUNBOOK_TEST_HOST_VAR", Spec{Dir: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, "from-host\n", string(res.Stdout))
}

func TestExecute_OverlayWinsOverHost(t *testing.T) {
	t.Setenv("RUNBOOK_TEST_HOST_VAR", "from-host")

	ex := &Executor{BaseEnv: os.Environ()}
	res, err := ex.Execute(context.Background(), "echo $RUNBOOK_TEST_HOST_VAR", Spec{
		Dir: t.TempDir(),
		Env: map[string]string{"RUNBOOK_TEST_HOST_VAR": "from-manifest"},
	})
	require.NoError(t, err)
	assert.Equal(t, "from-manifest\n", string(res.Stdout))
}

func TestExecute_RunsInWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "marker.txt"), []byte("x"), 0o644))

	ex := newTestExecutor()
	res, err := ex.Execute(context.Background(), "ls marker.txt", Spec{Dir: dir})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "marker.txt\n", string(res.Stdout))
}

func TestExecute_MirrorsToLiveWriters(t *testing.T) {
	var live bytes.Buffer
	ex := &Executor{BaseEnv: os.Environ(), Stdout: &live}

	res, err := ex.Execute(context.Background(), "echo mirrored", Spec{Dir: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, "mirrored\n", string(res.Stdout))
	assert.Equal(t, "mirrored\n", live.String())
}

func TestExecute_CancellationKillsProcessGroup(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ex := newTestExecutor()

	errCh := make(chan error, 1)
	go func() {
		_, err := ex.Execute(ctx, "sleep 30", Spec{Dir: t.TempDir()})
		errCh <- err
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("command was not reaped after cancellation")
	}
}

func TestExecute_RejectsMissingInputs(t *testing.T) {
	ex := newTestExecutor()
	_, err := ex.Execute(context.Background(), "", Spec{Dir: t.TempDir()})
	assert.Error(t, err)

	_, err = ex.Execute(context.Background(), "true", Spec{})
	assert.Error(t, err)
}

func TestMergeEnv_AppendsOverlaySorted(t *testing.T) {
	got := mergeEnv([]string{"A=1"}, map[string]string{"Z": "26", "B": "2"})
	assert.Equal(t, []string{"A=1", "B=2", "Z=26"}, got)

	base := []string{"A=1"}
	assert.Equal(t, base, mergeEnv(base, nil))
}
