// Package runner orchestrates a runbook invocation: it resolves targets,
// schedules the task graph, checks freshness, executes commands, and records
// run state.
package runner

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"runbook/internal/execute"
	"runbook/internal/fingerprint"
	"runbook/internal/graph"
	"runbook/internal/manifest"
	"runbook/internal/state"
)

// Options configure one invocation.
type Options struct {
	// Jobs is the worker count; values above 1 select parallel execution.
	Jobs int

	// Force bypasses fingerprint freshness and always executes.
	Force bool

	// DryRun prints the commands that would run without executing them.
	DryRun bool

	// Mode is recorded in the run history ("serial", "parallel", "watch").
	// Empty selects automatically from Jobs.
	Mode string
}

// Runner executes validated manifest tasks in a project directory.
type Runner struct {
	Manifest *manifest.Manifest
	Graph    *graph.Graph
	WorkDir  string

	Store    *state.Store
	Exec     *execute.Executor
	Resolver *fingerprint.Resolver

	Log zerolog.Logger

	opts Options

	runID string

	mu           sync.Mutex
	fingerprints map[string]fingerprint.Fingerprint
}

// nodeRunner adapts Runner to graph.TaskRunner without exporting the
// per-node methods on the orchestration surface.
type nodeRunner struct {
	r *Runner
}

// New creates a Runner for a validated manifest rooted at workDir. workDir
// must be absolute.
func New(m *manifest.Manifest, workDir string, exec *execute.Executor, store *state.Store, log zerolog.Logger, opts Options) (*Runner, error) {
	if m == nil {
		return nil, fmt.Errorf("nil manifest")
	}
	if !filepath.IsAbs(workDir) {
		return nil, fmt.Errorf("workDir must be absolute (got %q)", workDir)
	}
	if exec == nil {
		return nil, fmt.Errorf("nil executor")
	}
	if store == nil {
		return nil, fmt.Errorf("nil store")
	}

	g, err := graph.FromManifest(m)
	if err != nil {
		return nil, err
	}

	return &Runner{
		Manifest:     m,
		Graph:        g,
		WorkDir:      workDir,
		Store:        store,
		Exec:         exec,
		Resolver:     fingerprint.NewResolver(workDir),
		Log:          log,
		opts:         opts,
		fingerprints: make(map[string]fingerprint.Fingerprint),
	}, nil
}

// Run executes the named targets and persists a run record.
//
// The returned report is non-nil whenever execution reached a terminal state,
// including task failures; the error covers infrastructure failures only.
func (r *Runner) Run(ctx context.Context, targets []string) (*graph.Report, error) {
	if len(targets) == 0 {
		return nil, fmt.Errorf("no targets")
	}

	exec, err := graph.NewExecutor(r.Graph, nodeRunner{r: r}, targets)
	if err != nil {
		return nil, err
	}

	runID := state.NewRunID()
	r.runID = runID
	start := time.Now().UTC()
	mode := r.mode()

	var report *graph.Report
	if mode == "parallel" {
		report, err = exec.RunParallel(ctx, r.opts.Jobs)
	} else {
		report, err = exec.RunSerial(ctx)
	}
	if err != nil {
		return nil, err
	}

	// Run history is best-effort: a read-only checkout must not break runs.
	if saveErr := r.saveRun(runID, start, mode, report); saveErr != nil {
		r.Log.Warn().Err(saveErr).Msg("run record not persisted")
	}
	return report, nil
}

func (r *Runner) mode() string {
	if r.opts.Mode != "" {
		return r.opts.Mode
	}
	if r.opts.Jobs > 1 {
		return "parallel"
	}
	return "serial"
}

func (r *Runner) saveRun(runID string, start time.Time, mode string, report *graph.Report) error {
	status := "succeeded"
	if report.Failed() {
		status = "failed"
	}
	tasks := make(map[string]state.TaskRecord, len(report.FinalState))
	for name, st := range report.FinalState {
		tasks[name] = state.TaskRecord{
			State:      string(st),
			ExitCode:   report.ExitCodes[name],
			DurationMS: report.Durations[name].Milliseconds(),
		}
	}
	return r.Store.SaveRun(state.Run{
		RunID:     runID,
		StartTime: start,
		Targets:   report.Targets,
		Mode:      mode,
		Status:    status,
		Tasks:     tasks,
	})
}

// UpToDate reports whether the task's current fingerprint matches the one
// recorded by the last successful run. Tasks without sources are never up to
// date; resolution errors count as stale.
func (r *Runner) UpToDate(task *manifest.Task) bool {
	if task == nil || len(task.Sources) == 0 {
		return false
	}
	fp, err := r.currentFingerprint(task)
	if err != nil {
		return false
	}
	rec, ok := r.Store.LoadFingerprint(task.Name)
	return ok && rec.Fingerprint == fp.String()
}

// Probe implements graph.TaskRunner: a task is fresh when it declares sources
// and its current fingerprint matches the one recorded by the last successful
// run. Force and dry-run disable freshness.
func (n nodeRunner) Probe(ctx context.Context, task *manifest.Task) (*graph.NodeResult, bool, error) {
	r := n.r
	if task == nil {
		return nil, false, fmt.Errorf("nil task")
	}
	if r.opts.Force || r.opts.DryRun || len(task.Sources) == 0 {
		return nil, false, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	fp, err := r.computeFingerprint(task)
	if err != nil {
		// Resolution failures count as stale, same as UpToDate: running the
		// task surfaces the real problem, aborting the run would hide it.
		r.Log.Warn().Err(err).Str("task", task.Name).Msg("fingerprint unavailable, running")
		return nil, false, nil
	}

	rec, ok := r.Store.LoadFingerprint(task.Name)
	if !ok || rec.Fingerprint != fp.String() {
		return nil, false, nil
	}

	r.Log.Debug().Str("task", task.Name).Msg("up to date")
	return &graph.NodeResult{ExitCode: 0, Fresh: true}, true, nil
}

// Run implements graph.TaskRunner: it executes the task's commands in order,
// stopping at the first non-zero exit, and records the fingerprint on
// success.
func (n nodeRunner) Run(ctx context.Context, task *manifest.Task) (*graph.NodeResult, error) {
	r := n.r
	if task == nil {
		return nil, fmt.Errorf("nil task")
	}

	dir := r.WorkDir
	if task.Dir != "" {
		dir = filepath.Join(r.WorkDir, task.Dir)
	}
	env := r.taskEnv(task)

	if r.opts.DryRun {
		for _, c := range task.Cmds {
			r.Log.Info().Str("task", task.Name).Str("cmd", c).Msg("dry run")
		}
		return &graph.NodeResult{ExitCode: 0}, nil
	}

	start := time.Now()
	for _, c := range task.Cmds {
		r.Log.Debug().Str("task", task.Name).Str("cmd", c).Msg("exec")
		res, err := r.Exec.Execute(ctx, c, execute.Spec{Dir: dir, Env: env})
		if err != nil {
			return nil, err
		}
		if res.ExitCode != 0 {
			r.Log.Error().Str("task", task.Name).Str("cmd", c).Int("exit_code", res.ExitCode).Msg("task failed")
			return &graph.NodeResult{ExitCode: res.ExitCode, Duration: time.Since(start)}, nil
		}
	}
	duration := time.Since(start)

	if len(task.Sources) > 0 {
		if err := r.recordFingerprint(task); err != nil {
			// Losing a fingerprint only costs one redundant rerun.
			r.Log.Warn().Err(err).Str("task", task.Name).Msg("fingerprint not persisted")
		}
	}

	r.Log.Info().Str("task", task.Name).Dur("duration", duration).Msg("task done")
	return &graph.NodeResult{ExitCode: 0, Duration: duration}, nil
}

// taskEnv merges the manifest-level overlay with the task-level overlay.
func (r *Runner) taskEnv(task *manifest.Task) map[string]string {
	if len(r.Manifest.Env) == 0 && len(task.Env) == 0 {
		return nil
	}
	env := make(map[string]string, len(r.Manifest.Env)+len(task.Env))
	for k, v := range r.Manifest.Env {
		env[k] = v
	}
	for k, v := range task.Env {
		env[k] = v
	}
	return env
}

// computeFingerprint computes (and memoizes per invocation) a task's
// fingerprint. Sources are re-resolved at record time by recordFingerprint,
// so the memo only spans the probe phase.
func (r *Runner) computeFingerprint(task *manifest.Task) (fingerprint.Fingerprint, error) {
	r.mu.Lock()
	if fp, ok := r.fingerprints[task.Name]; ok {
		r.mu.Unlock()
		return fp, nil
	}
	r.mu.Unlock()

	fp, err := r.currentFingerprint(task)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	r.fingerprints[task.Name] = fp
	r.mu.Unlock()
	return fp, nil
}

// currentFingerprint resolves sources and hashes the task's identity.
func (r *Runner) currentFingerprint(task *manifest.Task) (fingerprint.Fingerprint, error) {
	sources, err := r.Resolver.Resolve(task.Sources)
	if err != nil {
		return "", fmt.Errorf("resolving sources for %q: %w", task.Name, err)
	}
	dir := r.WorkDir
	if task.Dir != "" {
		dir = filepath.Join(r.WorkDir, task.Dir)
	}
	return fingerprint.Compute(fingerprint.Input{
		WorkDir:   dir,
		Cmds:      task.Cmds,
		Env:       r.taskEnv(task),
		Generates: task.Generates,
		Sources:   sources,
	}), nil
}

// recordFingerprint re-resolves sources after execution (the task may have
// reformatted them, as fmt does) and persists the result.
func (r *Runner) recordFingerprint(task *manifest.Task) error {
	fp, err := r.currentFingerprint(task)
	if err != nil {
		return err
	}
	return r.Store.SaveFingerprint(state.FingerprintRecord{
		Task:        task.Name,
		Fingerprint: fp.String(),
		RunID:       r.runID,
		When:        time.Now().UTC(),
	})
}
