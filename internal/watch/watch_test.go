package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebounce_CollapsesBurstIntoOneTrigger(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in := make(chan struct{})
	out := Debounce(ctx, in, 200*time.Millisecond)

	for i := 0; i < 10; i++ {
		in <- struct{}{}
		time.Sleep(5 * time.Millisecond)
	}

	select {
	case <-out:
	case <-time.After(2 * time.Second):
		t.Fatal("expected one trigger after the burst went quiet")
	}

	// No second trigger without new input.
	select {
	case <-out:
		t.Fatal("unexpected extra trigger")
	case <-time.After(400 * time.Millisecond):
	}
}

func TestDebounce_SeparatedEventsTriggerSeparately(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in := make(chan struct{})
	out := Debounce(ctx, in, 20*time.Millisecond)

	for i := 0; i < 2; i++ {
		in <- struct{}{}
		select {
		case <-out:
		case <-time.After(2 * time.Second):
			t.Fatalf("expected trigger %d", i+1)
		}
	}
}

func TestDebounce_ClosesWithInput(t *testing.T) {
	in := make(chan struct{})
	out := Debounce(context.Background(), in, 10*time.Millisecond)
	close(in)

	select {
	case _, ok := <-out:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("output not closed after input closed")
	}
}

func TestLiteralPrefix(t *testing.T) {
	cases := map[string]string{
		"src/**/*.rs":    "src",
		"Cargo.toml":     "Cargo.toml",
		"*.rs":           ".",
		"assets/img/*":   filepath.Join("assets", "img"),
		"a/b[0-9]/c.txt": "a",
	}
	for pattern, want := range cases {
		assert.Equal(t, want, literalPrefix(pattern), "pattern %q", pattern)
	}
}

func TestRoots_CollapsesToExistingDirectories(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src", "game"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Cargo.toml"), []byte("x"), 0o644))

	roots := Roots(dir, []string{"src/**/*.rs", "src/*.rs", "Cargo.toml"})

	// Both src patterns share one root; the file pattern resolves to its
	// parent directory.
	assert.Equal(t, []string{filepath.Join(dir, "src"), dir}, roots)
}

func TestWatcher_RunsImmediatelyAndOnChange(t *testing.T) {
	dir := t.TempDir()

	w, err := New(dir, []string{"*.rs"}, 50*time.Millisecond, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var runs atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx, func(context.Context) error {
			runs.Add(1)
			return nil
		})
	}()

	// The first run happens without any event.
	require.Eventually(t, func() bool { return runs.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.rs"), []byte("fn main() {}"), 0o644))
	require.Eventually(t, func() bool { return runs.Load() >= 2 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop on cancellation")
	}
}

func TestWatcher_SurvivesCallbackErrors(t *testing.T) {
	dir := t.TempDir()

	w, err := New(dir, []string{"*.rs"}, 50*time.Millisecond, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var runs atomic.Int32
	go func() {
		_ = w.Run(ctx, func(context.Context) error {
			runs.Add(1)
			return assert.AnError
		})
	}()

	require.Eventually(t, func() bool { return runs.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.rs"), []byte("x"), 0o644))
	require.Eventually(t, func() bool { return runs.Load() >= 2 }, 5*time.Second, 10*time.Millisecond)
}

func TestWatcher_CancelsRunningTaskOnChange(t *testing.T) {
	dir := t.TempDir()

	w, err := New(dir, []string{"*.rs"}, 50*time.Millisecond, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var starts, cancelled atomic.Int32
	done := make(chan error, 1)
	go func() {
		// The callback never returns on its own, like a dev server.
		done <- w.Run(ctx, func(runCtx context.Context) error {
			starts.Add(1)
			<-runCtx.Done()
			cancelled.Add(1)
			return runCtx.Err()
		})
	}()

	require.Eventually(t, func() bool { return starts.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.rs"), []byte("x"), 0o644))
	require.Eventually(t, func() bool {
		return cancelled.Load() >= 1 && starts.Load() >= 2
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop on cancellation")
	}
}

func TestWatcher_IgnoresTaskOutputWrites(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "target", "debug"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Cargo.toml"), []byte("[package]"), 0o644))

	// Cargo.toml pulls the project root into the watch set; a build-like
	// callback that writes under target/ must still not re-trigger itself.
	w, err := New(dir, []string{"src/**/*.rs", "Cargo.toml"}, 50*time.Millisecond, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var runs atomic.Int32
	go func() {
		_ = w.Run(ctx, func(context.Context) error {
			n := runs.Add(1)
			artifact := filepath.Join(dir, "target", "debug", fmt.Sprintf("artifact-%d", n))
			return os.WriteFile(artifact, []byte("bin"), 0o644)
		})
	}()

	require.Eventually(t, func() bool { return runs.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	// Quiet period: output writes alone cause no further runs.
	time.Sleep(500 * time.Millisecond)
	assert.Equal(t, int32(1), runs.Load(), "re-triggered on its own output")

	// A real source change still re-runs.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "main.rs"), []byte("fn main() {}"), 0o644))
	require.Eventually(t, func() bool { return runs.Load() == 2 }, 5*time.Second, 10*time.Millisecond)

	time.Sleep(500 * time.Millisecond)
	assert.Equal(t, int32(2), runs.Load(), "re-triggered on its own output")
}

func TestMatchPattern(t *testing.T) {
	cases := []struct {
		pattern string
		rel     string
		want    bool
	}{
		{"Cargo.toml", "Cargo.toml", true},
		{"Cargo.toml", "Cargo.lock", false},
		{"Cargo.toml", "target/Cargo.toml", false},
		{"*.rs", "main.rs", true},
		{"*.rs", "src/main.rs", false},
		{"src/**/*.rs", "src/main.rs", true},
		{"src/**/*.rs", "src/game/player.rs", true},
		{"src/**/*.rs", "src/game/deep/enemy.rs", true},
		{"src/**/*.rs", "src/notes.txt", false},
		{"src/**/*.rs", "target/debug/app", false},
		{"src/**/*.rs", "srcother/main.rs", false},
		{"assets/**", "assets/a.png", true},
		{"assets/**", "assets/deep/b.ogg", true},
		{"assets/**", "assets", false},
		{"assets/**", "target/a.png", false},
		{"**/*.rs", "any/depth/file.rs", true},
		{"**/*.rs", "file.rs", true},
		{"**/*.rs", "file.txt", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, matchPattern(tc.pattern, tc.rel), "pattern %q path %q", tc.pattern, tc.rel)
	}
}

func TestNew_RequiresPatterns(t *testing.T) {
	_, err := New(t.TempDir(), nil, 0, zerolog.Nop())
	assert.Error(t, err)
}
