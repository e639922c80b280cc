// Package execute runs a single manifest command line in a shell and reports
// its exit status.
package execute

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sort"
	"syscall"
	"time"
)

// Result is the outcome of one command line.
type Result struct {
	// Stdout and Stderr are the captured streams. When the executor is given
	// live writers the output is mirrored to them as well.
	Stdout []byte
	Stderr []byte

	// ExitCode is the child's exit code. 0 is success.
	ExitCode int

	// Duration is wall-clock time from start to reap.
	Duration time.Duration
}

// Spec describes the environment of one command line.
type Spec struct {
	// Dir is the working directory. Required.
	Dir string

	// Env is the environment overlay. Keys are applied on top of BaseEnv in
	// sorted order, so later-sorted keys never shadow nondeterministically.
	Env map[string]string
}

// Executor runs command lines via `sh -c`.
//
// The wrapped toolchain owns everything about the command's behavior: the
// child inherits BaseEnv (normally the host environment) so that PATH, HOME,
// and toolchain configuration pass through untouched. Only the manifest's
// explicit overlays are added on top.
type Executor struct {
	// BaseEnv is the inherited environment, normally os.Environ().
	BaseEnv []string

	// Stdout and Stderr, when non-nil, receive the child's output live in
	// addition to the captured copy.
	Stdout io.Writer
	Stderr io.Writer
}

// Execute runs one command line and waits for it.
//
// The child is placed in its own process group so that cancellation kills the
// whole tree, not just the shell. A non-nil error means the command could not
// be run at all; a failing command is reported through Result.ExitCode.
func (e *Executor) Execute(ctx context.Context, command string, spec Spec) (*Result, error) {
	if command == "" {
		return nil, fmt.Errorf("command is empty")
	}
	if spec.Dir == "" {
		return nil, fmt.Errorf("working directory is required")
	}

	// Cancellation is handled below via the process group, not CommandContext:
	// killing only the shell would orphan the toolchain it spawned.
	cmd := exec.Command("sh", "-c", command)
	cmd.Dir = spec.Dir
	cmd.Env = mergeEnv(e.BaseEnv, spec.Env)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if e.Stdout != nil {
		cmd.Stdout = io.MultiWriter(&stdout, e.Stdout)
	}
	if e.Stderr != nil {
		cmd.Stderr = io.MultiWriter(&stderr, e.Stderr)
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start command: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	var waitErr error
	select {
	case <-ctx.Done():
		// Kill the whole process group, then reap.
		if cmd.Process != nil {
			_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}
		<-done
		return nil, fmt.Errorf("execution cancelled: %w", ctx.Err())
	case waitErr = <-done:
	}

	exitCode := 0
	if waitErr != nil {
		exitErr, ok := waitErr.(*exec.ExitError)
		if !ok {
			return nil, fmt.Errorf("run command: %w", waitErr)
		}
		exitCode = exitErr.ExitCode()
	}

	return &Result{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		ExitCode: exitCode,
		Duration: time.Since(start),
	}, nil
}

// mergeEnv appends the overlay to base in sorted key order.
//
// exec uses the last occurrence of a duplicated key, so appending the overlay
// after base makes manifest values win over host values.
func mergeEnv(base []string, overlay map[string]string) []string {
	if len(overlay) == 0 {
		return base
	}
	keys := make([]string, 0, len(overlay))
	for k := range overlay {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	merged := make([]string, 0, len(base)+len(keys))
	merged = append(merged, base...)
	for _, k := range keys {
		merged = append(merged, k+"="+overlay[k])
	}
	return merged
}
