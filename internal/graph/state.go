package graph

import (
	"container/heap"
	"fmt"
	"sort"
)

// TaskState is the runtime execution state of a node. The graph itself is
// immutable; state lives in a separate map per execution attempt.
type TaskState string

const (
	TaskPending TaskState = "PENDING"
	TaskRunning TaskState = "RUNNING"
	TaskDone    TaskState = "DONE"
	TaskFailed  TaskState = "FAILED"
	TaskSkipped TaskState = "SKIPPED"

	// TaskFresh marks an up-to-date node whose fingerprint matched the last
	// successful run; it satisfies dependencies without executing.
	TaskFresh TaskState = "FRESH"
)

// IsTerminal reports whether the state is terminal.
func IsTerminal(s TaskState) bool {
	switch s {
	case TaskDone, TaskFailed, TaskSkipped, TaskFresh:
		return true
	default:
		return false
	}
}

// IsSuccessful reports whether the state satisfies dependencies.
func IsSuccessful(s TaskState) bool {
	switch s {
	case TaskDone, TaskFresh:
		return true
	default:
		return false
	}
}

// ExecutionState maps task name to its current TaskState.
//
// It is a plain map so the scheduler can stay a pure function over it.
type ExecutionState map[string]TaskState

// ReadyTasks returns the deterministically ordered task names eligible to run.
//
// A task is ready iff it is PENDING, it is in the required set, and all its
// dependencies are DONE or FRESH. The result is sorted by (topological depth
// asc, name asc). The function is pure.
func ReadyTasks(g *Graph, state ExecutionState, required map[string]struct{}) []string {
	if g == nil {
		return nil
	}

	ready := make([]string, 0)
	for _, node := range g.nodes {
		if _, need := required[node.Name]; !need {
			continue
		}
		if st, ok := state[node.Name]; !ok || st != TaskPending {
			continue
		}

		depsOK := true
		for _, parentIdx := range g.incoming[node.canonicalIndex] {
			pst, ok := state[g.nodes[parentIdx].Name]
			if !ok || !IsSuccessful(pst) {
				depsOK = false
				break
			}
		}
		if depsOK {
			ready = append(ready, node.Name)
		}
	}

	sort.Slice(ready, func(i, j int) bool {
		a, b := ready[i], ready[j]
		ad, _ := g.Depth(a)
		bd, _ := g.Depth(b)
		if ad != bd {
			return ad < bd
		}
		return a < b
	})
	return ready
}

// Transition performs an atomic validated transition for a single task.
//
// The caller supplies the expected prior state to make races observable. The
// state map is mutated only when the transition is valid.
func Transition(state ExecutionState, taskName string, from, to TaskState) error {
	cur, ok := state[taskName]
	if !ok {
		return fmt.Errorf("unknown task in state: %q", taskName)
	}
	if cur != from {
		return fmt.Errorf("invalid transition for %q: expected %s, got %s", taskName, from, cur)
	}
	if !allowedTransition(from, to) {
		return fmt.Errorf("disallowed transition for %q: %s -> %s", taskName, from, to)
	}
	state[taskName] = to
	return nil
}

func allowedTransition(from, to TaskState) bool {
	switch from {
	case TaskPending:
		return to == TaskRunning || to == TaskFresh || to == TaskSkipped
	case TaskRunning:
		return to == TaskDone || to == TaskFailed
	default:
		return false
	}
}

// FailAndPropagate transitions taskName from RUNNING to FAILED and
// transitively marks all downstream dependents SKIPPED.
//
// The skipped set is defined purely by reachability, traversed in canonical
// index order. A RUNNING downstream node is an invariant violation: it means
// a dependent started before its dependency finished.
func FailAndPropagate(g *Graph, state ExecutionState, taskName string) error {
	if g == nil {
		return fmt.Errorf("nil graph")
	}
	node, ok := g.nodesByName[taskName]
	if !ok {
		return fmt.Errorf("unknown task: %q", taskName)
	}

	cur, ok := state[taskName]
	if !ok {
		return fmt.Errorf("unknown task in state: %q", taskName)
	}
	if cur != TaskRunning && cur != TaskFailed {
		return fmt.Errorf("cannot fail %q from state %s", taskName, cur)
	}
	if cur == TaskRunning {
		state[taskName] = TaskFailed
	}

	start := node.canonicalIndex
	visited := make([]bool, len(g.nodes))
	visited[start] = true

	hq := &intMinHeap{}
	heap.Init(hq)
	for _, d := range g.outgoing[start] {
		heap.Push(hq, d)
	}

	for hq.Len() > 0 {
		u := heap.Pop(hq).(int)
		if visited[u] {
			continue
		}
		visited[u] = true

		name := g.nodes[u].Name
		st, ok := state[name]
		if !ok {
			// Not part of this execution attempt; nothing to skip.
			continue
		}

		switch st {
		case TaskPending:
			state[name] = TaskSkipped
		case TaskRunning:
			return fmt.Errorf("invariant violation: downstream task %q is RUNNING during failure propagation", name)
		default:
			// Terminal already. Leave unchanged.
		}

		for _, v := range g.outgoing[u] {
			if !visited[v] {
				heap.Push(hq, v)
			}
		}
	}
	return nil
}
