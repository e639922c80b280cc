// Package cli wires the runbook command tree and maps every outcome to a
// semantic exit code at the process boundary.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"runbook/internal/execute"
	"runbook/internal/graph"
	"runbook/internal/logx"
	"runbook/internal/manifest"
	"runbook/internal/runner"
	"runbook/internal/state"
)

// app carries the flag values and lazily loaded manifest shared by the
// commands of one invocation.
type app struct {
	file    string
	jobs    int
	force   bool
	dryRun  bool
	verbose bool
	quiet   bool

	stdout *os.File
	stderr *os.File
}

// Main is the process entrypoint used by cmd/runbook. It runs the command
// tree and returns the process exit code; panics surface as internal errors
// rather than crashes so the terminal is never left with a stack trace from
// a task runner.
func Main(ctx context.Context, args []string) (code int) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "runbook: internal error: %v\n", r)
			code = ExitInternalError
		}
	}()

	a := &app{stdout: os.Stdout, stderr: os.Stderr}
	root := a.newRootCmd()
	root.SetArgs(args)

	if err := root.ExecuteContext(ctx); err != nil {
		var taskErr *taskFailedError
		if errors.As(err, &taskErr) {
			// The wrapped tool already printed its diagnostics.
			return taskErr.ExitCode
		}
		fmt.Fprintf(os.Stderr, "runbook: %v\n", err)
		return ExitCode(err)
	}
	return ExitSuccess
}

// taskFailedError propagates a failed task's own exit code through cobra.
type taskFailedError struct {
	Task     string
	ExitCode int
}

func (e *taskFailedError) Error() string {
	return fmt.Sprintf("task %q failed with exit code %d", e.Task, e.ExitCode)
}

func (a *app) newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "runbook [task]...",
		Short: "runbook runs the named tasks from runbook.yaml",
		Long: `runbook is a task runner: it maps the short task names (and aliases)
declared in runbook.yaml to the commands they wrap, and executes them.

Tasks run sequentially by default; dependencies between tasks run first.
Exit codes of the wrapped tools pass through unchanged.`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := ""
			if a.verbose {
				level = "debug"
			} else if a.quiet {
				level = "error"
			}
			logx.Configure(logx.Config{Level: level})
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}
			return a.runTargets(cmd.Context(), args)
		},
	}

	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return invalidf("%v", err)
	})

	pf := root.PersistentFlags()
	pf.StringVarP(&a.file, "file", "f", manifest.DefaultFileName, "manifest path")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")
	pf.BoolVarP(&a.quiet, "quiet", "q", false, "errors only")

	rf := root.Flags()
	rf.IntVarP(&a.jobs, "jobs", "j", 1, "run independent tasks with up to N workers")
	rf.BoolVar(&a.force, "force", false, "ignore fingerprints and always execute")
	rf.BoolVar(&a.dryRun, "dry-run", false, "print commands without executing")

	root.AddCommand(a.newListCmd())
	root.AddCommand(a.newValidateCmd())
	root.AddCommand(a.newInitCmd())
	root.AddCommand(a.newWatchCmd())
	return root
}

// loadManifest loads and validates the manifest and resolves the project
// root (the manifest's directory, absolute).
func (a *app) loadManifest() (*manifest.Manifest, string, error) {
	abs, err := filepath.Abs(a.file)
	if err != nil {
		return nil, "", manifestErrf("resolve manifest path: %v", err)
	}
	m, err := manifest.Load(abs)
	if err != nil {
		if errors.Is(err, manifest.ErrNotFound) {
			return nil, "", manifestErrf("no manifest at %s (run `runbook init` to create one)", abs)
		}
		return nil, "", manifestErrf("%v", err)
	}
	return m, filepath.Dir(abs), nil
}

// resolveTargets maps CLI arguments to task names via names-then-aliases
// lookup.
func resolveTargets(m *manifest.Manifest, args []string) ([]string, error) {
	targets := make([]string, 0, len(args))
	for _, arg := range args {
		t, ok := m.Lookup(arg)
		if !ok {
			return nil, invalidf("unknown task %q (try `runbook list`)", arg)
		}
		targets = append(targets, t.Name)
	}
	return targets, nil
}

// newRunner builds the orchestration runner for a loaded manifest.
func (a *app) newRunner(m *manifest.Manifest, workDir string, opts runner.Options) (*runner.Runner, error) {
	store, err := state.NewStore(workDir)
	if err != nil {
		return nil, err
	}
	exec := &execute.Executor{
		BaseEnv: os.Environ(),
		Stdout:  a.stdout,
		Stderr:  a.stderr,
	}
	return runner.New(m, workDir, exec, store, logx.WithComponent("runner"), opts)
}

// runTargets is the root command body: load, resolve, execute, map outcome.
func (a *app) runTargets(ctx context.Context, args []string) error {
	m, workDir, err := a.loadManifest()
	if err != nil {
		return err
	}
	targets, err := resolveTargets(m, args)
	if err != nil {
		return err
	}

	r, err := a.newRunner(m, workDir, runner.Options{
		Jobs:   a.jobs,
		Force:  a.force,
		DryRun: a.dryRun,
	})
	if err != nil {
		if errors.Is(err, graph.ErrInvalidGraph) || errors.Is(err, graph.ErrCycleFound) {
			return manifestErrf("%v", err)
		}
		return err
	}

	report, err := r.Run(ctx, targets)
	if err != nil {
		return err
	}
	return reportOutcome(report)
}

// reportOutcome translates a report into the process outcome: nil on
// success, the failed task's own exit code on failure.
func reportOutcome(report *graph.Report) error {
	if report == nil {
		return fmt.Errorf("nil report")
	}
	if !report.Failed() {
		return nil
	}
	failed := report.FirstFailed()
	code := report.ExitCodes[failed]
	if code == 0 {
		code = 1
	}
	return &taskFailedError{Task: failed, ExitCode: code}
}
