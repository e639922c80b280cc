package graph

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"runbook/internal/manifest"
)

// NodeResult is the outcome of executing (or freshness-probing) one node.
type NodeResult struct {
	// ExitCode is the task's exit code: the first non-zero command exit, or 0.
	ExitCode int

	// Duration is the wall-clock task duration. Zero for fresh nodes.
	Duration time.Duration

	// Fresh is true when the node was satisfied by its recorded fingerprint.
	Fresh bool
}

// TaskRunner executes a single task.
//
// A non-zero NodeResult.ExitCode is a task failure; a non-nil error is an
// infrastructure failure (the command could not be run at all).
type TaskRunner interface {
	// Probe checks whether the task is up to date. When fresh is true the
	// result must be non-nil with Fresh set.
	Probe(ctx context.Context, task *manifest.Task) (result *NodeResult, fresh bool, err error)

	Run(ctx context.Context, task *manifest.Task) (*NodeResult, error)
}

// Report is the deterministic summary of a graph execution attempt.
type Report struct {
	// Targets are the requested task names, in request order.
	Targets []string

	// FinalState is the terminal state of each scheduled node.
	FinalState ExecutionState

	// Order lists the tasks that actually started, in start order.
	Order []string

	// ExitCodes and Durations record per-node results for executed nodes.
	ExitCodes map[string]int
	Durations map[string]time.Duration
}

// Failed reports whether any node failed.
func (r *Report) Failed() bool {
	if r == nil {
		return true
	}
	for _, st := range r.FinalState {
		if st == TaskFailed {
			return true
		}
	}
	return false
}

// FirstFailed returns the lexically first failed node name, or "".
func (r *Report) FirstFailed() string {
	if r == nil {
		return ""
	}
	names := make([]string, 0, len(r.FinalState))
	for n, st := range r.FinalState {
		if st == TaskFailed {
			names = append(names, n)
		}
	}
	if len(names) == 0 {
		return ""
	}
	sort.Strings(names)
	return names[0]
}

// Executor executes the subset of a Graph needed for a set of targets.
type Executor struct {
	Graph    *Graph
	Runner   TaskRunner
	required map[string]struct{}
	targets  []string

	mu    sync.Mutex
	state ExecutionState
}

// NewExecutor creates an executor with every required node set to PENDING.
func NewExecutor(g *Graph, runner TaskRunner, targets []string) (*Executor, error) {
	if g == nil {
		return nil, fmt.Errorf("nil graph")
	}
	if runner == nil {
		return nil, fmt.Errorf("nil runner")
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("no targets")
	}

	required, err := g.Required(targets)
	if err != nil {
		return nil, err
	}

	state := make(ExecutionState, len(required))
	for name := range required {
		state[name] = TaskPending
	}

	return &Executor{
		Graph:    g,
		Runner:   runner,
		required: required,
		targets:  append([]string(nil), targets...),
		state:    state,
	}, nil
}

// StateSnapshot returns a copy of the current execution state.
func (e *Executor) StateSnapshot() ExecutionState {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp := make(ExecutionState, len(e.state))
	for k, v := range e.state {
		cp[k] = v
	}
	return cp
}

// RunSerial executes the required nodes one at a time.
//
// Determinism: all state mutations are guarded by a single mutex, the
// scheduler is polled after every terminal transition, and the next task is
// always the first element of the scheduler's ordered list.
func (e *Executor) RunSerial(ctx context.Context) (*Report, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	order := make([]string, 0, len(e.state))
	exitCodes := make(map[string]int, len(e.state))
	durations := make(map[string]time.Duration, len(e.state))

	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("execution cancelled: %w", err)
		}

		e.mu.Lock()
		ready := ReadyTasks(e.Graph, e.state, e.required)

		if len(ready) == 0 {
			allTerminal := true
			for _, st := range e.state {
				if !IsTerminal(st) {
					allTerminal = false
					break
				}
			}
			e.mu.Unlock()

			if allTerminal {
				return &Report{
					Targets:    e.targets,
					FinalState: e.StateSnapshot(),
					Order:      order,
					ExitCodes:  exitCodes,
					Durations:  durations,
				}, nil
			}
			return nil, fmt.Errorf("no ready tasks but graph not finished")
		}

		next := ready[0]
		task := e.Graph.nodesByName[next].Task

		probeRes, fresh, err := e.Runner.Probe(ctx, task)
		if err != nil {
			e.mu.Unlock()
			return nil, fmt.Errorf("probing %q: %w", next, err)
		}
		if fresh {
			if probeRes == nil {
				e.mu.Unlock()
				return nil, fmt.Errorf("probing %q: nil result", next)
			}
			if err := Transition(e.state, next, TaskPending, TaskFresh); err != nil {
				e.mu.Unlock()
				return nil, err
			}
			exitCodes[next] = probeRes.ExitCode
			e.mu.Unlock()
			continue
		}

		if err := Transition(e.state, next, TaskPending, TaskRunning); err != nil {
			e.mu.Unlock()
			return nil, err
		}
		e.mu.Unlock()

		// Execute outside the lock.
		runRes, err := e.Runner.Run(ctx, task)
		if err != nil {
			return nil, fmt.Errorf("executing %q: %w", next, err)
		}
		if runRes == nil {
			return nil, fmt.Errorf("executing %q: nil result", next)
		}

		e.mu.Lock()
		order = append(order, next)
		exitCodes[next] = runRes.ExitCode
		durations[next] = runRes.Duration

		if runRes.ExitCode == 0 {
			if err := Transition(e.state, next, TaskRunning, TaskDone); err != nil {
				e.mu.Unlock()
				return nil, err
			}
			e.mu.Unlock()
			continue
		}

		if err := FailAndPropagate(e.Graph, e.state, next); err != nil {
			e.mu.Unlock()
			return nil, err
		}
		e.mu.Unlock()
	}
}

type workItem struct {
	name string
	task *manifest.Task
}

type workResult struct {
	name   string
	result *NodeResult
	err    error
}

// RunParallel executes required nodes with up to `concurrency` workers.
//
// Determinism strategy:
//   - depth-staged dispatch: tasks start in increasing topological depth
//   - within the same depth: lexical order by task name
//
// State reads/writes are synchronized by e.mu; execution happens outside it.
func (e *Executor) RunParallel(ctx context.Context, concurrency int) (*Report, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if concurrency <= 0 {
		return nil, fmt.Errorf("concurrency must be > 0")
	}

	maxDepth := 0
	byDepth := make(map[int][]string)
	for _, n := range e.Graph.nodes {
		if _, need := e.required[n.Name]; !need {
			continue
		}
		d := e.Graph.depth[n.canonicalIndex]
		byDepth[d] = append(byDepth[d], n.Name)
		if d > maxDepth {
			maxDepth = d
		}
	}
	for d := range byDepth {
		sort.Strings(byDepth[d])
	}

	workCh := make(chan workItem, concurrency)
	doneCh := make(chan workResult, concurrency)

	var wg sync.WaitGroup
	var stopOnce sync.Once
	stopWorkers := func() {
		stopOnce.Do(func() {
			close(workCh)
			wg.Wait()
		})
	}
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for w := range workCh {
				res, err := e.Runner.Run(ctx, w.task)
				doneCh <- workResult{name: w.name, result: res, err: err}
			}
		}()
	}

	order := make([]string, 0, len(e.state))
	exitCodes := make(map[string]int, len(e.state))
	durations := make(map[string]time.Duration, len(e.state))
	inFlight := 0

	depsSatisfied := func(idx int) bool {
		for _, p := range e.Graph.incoming[idx] {
			if !IsSuccessful(e.state[e.Graph.nodes[p].Name]) {
				return false
			}
		}
		return true
	}

	for depth := 0; depth <= maxDepth; depth++ {
		names := byDepth[depth]
		nextToStart := 0

		for {
			e.mu.Lock()
			for inFlight < concurrency && nextToStart < len(names) {
				name := names[nextToStart]
				node := e.Graph.nodesByName[name]
				st := e.state[name]

				// Already terminal (e.g. skipped by an earlier failure).
				if IsTerminal(st) {
					nextToStart++
					continue
				}
				if st != TaskPending {
					e.mu.Unlock()
					stopWorkers()
					return nil, fmt.Errorf("unexpected non-pending state for %q: %s", name, st)
				}
				if !depsSatisfied(node.canonicalIndex) {
					e.mu.Unlock()
					stopWorkers()
					return nil, fmt.Errorf("task %q at depth %d is pending but dependencies are not successful", name, depth)
				}

				res, fresh, err := e.Runner.Probe(ctx, node.Task)
				if err != nil {
					e.mu.Unlock()
					stopWorkers()
					return nil, fmt.Errorf("probing %q: %w", name, err)
				}
				if fresh {
					if res == nil {
						e.mu.Unlock()
						stopWorkers()
						return nil, fmt.Errorf("probing %q: nil result", name)
					}
					if err := Transition(e.state, name, TaskPending, TaskFresh); err != nil {
						e.mu.Unlock()
						stopWorkers()
						return nil, err
					}
					exitCodes[name] = res.ExitCode
					nextToStart++
					continue
				}

				if err := Transition(e.state, name, TaskPending, TaskRunning); err != nil {
					e.mu.Unlock()
					stopWorkers()
					return nil, err
				}
				order = append(order, name)
				inFlight++
				nextToStart++
				workCh <- workItem{name: name, task: node.Task}
			}

			stageDone := nextToStart >= len(names) && inFlight == 0
			e.mu.Unlock()
			if stageDone {
				break
			}

			select {
			case <-ctx.Done():
				stopWorkers()
				return nil, fmt.Errorf("execution cancelled: %w", ctx.Err())
			case r := <-doneCh:
				if r.err != nil {
					stopWorkers()
					return nil, fmt.Errorf("executing %q: %w", r.name, r.err)
				}
				if r.result == nil {
					stopWorkers()
					return nil, fmt.Errorf("executing %q: nil result", r.name)
				}

				e.mu.Lock()
				if cur := e.state[r.name]; cur != TaskRunning {
					e.mu.Unlock()
					stopWorkers()
					return nil, fmt.Errorf("completion for %q but state is %s", r.name, cur)
				}

				exitCodes[r.name] = r.result.ExitCode
				durations[r.name] = r.result.Duration

				if r.result.ExitCode == 0 {
					if err := Transition(e.state, r.name, TaskRunning, TaskDone); err != nil {
						e.mu.Unlock()
						stopWorkers()
						return nil, err
					}
				} else {
					if err := FailAndPropagate(e.Graph, e.state, r.name); err != nil {
						e.mu.Unlock()
						stopWorkers()
						return nil, err
					}
				}
				inFlight--
				e.mu.Unlock()
			}
		}
	}

	stopWorkers()

	return &Report{
		Targets:    e.targets,
		FinalState: e.StateSnapshot(),
		Order:      order,
		ExitCodes:  exitCodes,
		Durations:  durations,
	}, nil
}
