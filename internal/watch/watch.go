// Package watch re-runs a task when its source files change.
package watch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultDebounce collapses the burst of events an editor save produces.
const DefaultDebounce = 300 * time.Millisecond

// Debounce turns a noisy event stream into single triggers: after each
// received event it waits for the stream to stay quiet for `quiet` before
// emitting one trigger. It runs until in is closed or ctx is done.
//
// Debounce is a pure stream transformer so the collapse behavior is testable
// without a filesystem.
func Debounce(ctx context.Context, in <-chan struct{}, quiet time.Duration) <-chan struct{} {
	out := make(chan struct{})
	go func() {
		defer close(out)
		var timer *time.Timer
		var timerC <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-in:
				if !ok {
					return
				}
				if timer == nil {
					timer = time.NewTimer(quiet)
					timerC = timer.C
					continue
				}
				if !timer.Stop() {
					<-timerC
				}
				timer.Reset(quiet)
			case <-timerC:
				timer = nil
				timerC = nil
				select {
				case out <- struct{}{}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// Roots derives the directories to watch from source glob patterns: each
// pattern is cut at its first metacharacter and the remaining literal prefix
// is resolved to a directory. Duplicates and nested roots collapse.
func Roots(baseDir string, patterns []string) []string {
	seen := make(map[string]struct{})
	var roots []string
	for _, p := range patterns {
		root := literalPrefix(p)
		if !filepath.IsAbs(root) {
			root = filepath.Join(baseDir, root)
		}
		if info, err := os.Stat(root); err != nil || !info.IsDir() {
			root = filepath.Dir(root)
		}
		if _, dup := seen[root]; dup {
			continue
		}
		seen[root] = struct{}{}
		roots = append(roots, root)
	}
	return roots
}

// literalPrefix returns the pattern's leading path segments that contain no
// glob metacharacters.
func literalPrefix(pattern string) string {
	sep := string(filepath.Separator)
	pattern = filepath.ToSlash(pattern)
	parts := strings.Split(pattern, "/")
	var kept []string
	for _, part := range parts {
		if strings.ContainsAny(part, "*?[") {
			break
		}
		kept = append(kept, part)
	}
	if len(kept) == 0 {
		return "."
	}
	return strings.Join(kept, sep)
}

// Watcher re-runs a callback whenever files matching its source patterns
// change.
type Watcher struct {
	baseDir  string
	patterns []string
	roots    []string
	debounce time.Duration
	log      zerolog.Logger
}

// New creates a Watcher for the source patterns of one task, rooted at the
// project directory.
//
// Watch roots span the literal prefixes of the patterns, but an event only
// triggers when its path matches one of the patterns: a root like the project
// directory (from a `Cargo.toml` pattern) must not turn the task's own output
// tree into a re-run trigger.
func New(baseDir string, patterns []string, debounce time.Duration, log zerolog.Logger) (*Watcher, error) {
	roots := Roots(baseDir, patterns)
	if len(roots) == 0 {
		return nil, fmt.Errorf("no directories to watch")
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		baseDir:  baseDir,
		patterns: patterns,
		roots:    roots,
		debounce: debounce,
		log:      log,
	}, nil
}

// matches reports whether an event path (absolute) matches any source
// pattern.
func (w *Watcher) matches(name string) bool {
	rel, err := filepath.Rel(w.baseDir, name)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	abs := filepath.ToSlash(name)
	for _, p := range w.patterns {
		candidate := rel
		if filepath.IsAbs(p) {
			candidate = abs
		}
		if matchPattern(filepath.ToSlash(p), candidate) {
			return true
		}
	}
	return false
}

// matchPattern matches a slash path against one source pattern, with the
// same `**` semantics as the fingerprint resolver: the doublestar spans any
// number of directories (including zero), and a trailing `**` matches
// everything under its prefix.
func matchPattern(pattern, rel string) bool {
	parts := strings.Split(pattern, "/")
	star := -1
	for i, p := range parts {
		if p == "**" {
			star = i
			break
		}
	}
	if star < 0 {
		ok, err := path.Match(pattern, rel)
		return err == nil && ok
	}

	prefix := strings.Join(parts[:star], "/")
	if prefix != "" {
		if rel != prefix && !strings.HasPrefix(rel, prefix+"/") {
			return false
		}
		rel = strings.TrimPrefix(strings.TrimPrefix(rel, prefix), "/")
	}

	rest := strings.Join(parts[star+1:], "/")
	if rest == "" {
		return rel != ""
	}

	// The rest matches relative to any directory depth under the prefix.
	segs := strings.Split(rel, "/")
	restDepth := strings.Count(rest, "/") + 1
	if len(segs) < restDepth {
		return false
	}
	tail := strings.Join(segs[len(segs)-restDepth:], "/")
	ok, err := path.Match(rest, tail)
	return err == nil && ok
}

// Run invokes fn once immediately, then once per debounced change burst,
// until ctx is cancelled. An invocation still running when the next burst
// lands is cancelled and reaped first. Errors from fn are logged, not fatal:
// a broken build must keep the watch loop alive.
func (w *Watcher) Run(ctx context.Context, fn func(context.Context) error) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() {
		_ = fsw.Close()
	}()

	for _, root := range w.roots {
		if err := addRecursive(fsw, root); err != nil {
			return err
		}
		w.log.Debug().Str("dir", root).Msg("watching")
	}

	raw := make(chan struct{}, 1)
	go func() {
		defer close(raw)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				// New directories must be picked up mid-run.
				if ev.Op.Has(fsnotify.Create) {
					if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
						_ = addRecursive(fsw, ev.Name)
						continue
					}
				}
				// Only source changes trigger; the task's own outputs
				// (cargo writing target/) must not restart it.
				if !w.matches(ev.Name) {
					continue
				}
				select {
				case raw <- struct{}{}:
				default:
				}
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				w.log.Warn().Err(err).Msg("watch error")
			}
		}
	}()

	triggers := Debounce(ctx, raw, w.debounce)

	// The callback runs in its own goroutine with a per-iteration context so
	// a change can cancel a still-running task (a dev server never exits on
	// its own) before the re-run.
	done := make(chan error, 1)
	start := func(runCtx context.Context) {
		go func() {
			done <- fn(runCtx)
		}()
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer func() { cancelRun() }()
	start(runCtx)
	running := true

	stop := func() {
		cancelRun()
		if running {
			<-done
			running = false
		}
	}

	for {
		select {
		case <-ctx.Done():
			stop()
			return nil
		case err := <-done:
			running = false
			if err != nil && !errors.Is(err, context.Canceled) {
				w.log.Error().Err(err).Msg("run failed")
			}
		case _, ok := <-triggers:
			if !ok {
				stop()
				return nil
			}
			w.log.Info().Msg("change detected, re-running")
			stop()
			runCtx, cancelRun = context.WithCancel(ctx)
			start(runCtx)
			running = true
		}
	}
}

// addRecursive watches dir and every directory below it, skipping the state
// directory so run records don't trigger re-runs.
func addRecursive(fsw *fsnotify.Watcher, dir string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !info.IsDir() {
			return nil
		}
		base := filepath.Base(path)
		if base == ".runbook" || base == ".git" {
			return filepath.SkipDir
		}
		if err := fsw.Add(path); err != nil {
			return fmt.Errorf("watch %q: %w", path, err)
		}
		return nil
	})
}
