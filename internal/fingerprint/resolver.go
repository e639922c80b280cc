// Package fingerprint decides whether a task is up to date.
//
// A fingerprint is a stable identity for "this task, over these sources, with
// these commands". When the fingerprint recorded by the last successful run
// matches the current one, re-running the task cannot change anything and it
// is skipped as fresh.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// SourceFile is one resolved source with its content digest.
//
// Identity is content-based: file metadata (mtime, permissions) never
// contributes, so checkouts and touch(1) do not invalidate tasks.
type SourceFile struct {
	// Path is the slash-normalized path of the file.
	Path string

	// Digest is the hex sha256 of the file content.
	Digest string
}

// SourceSet is a deterministically ordered set of resolved sources.
type SourceSet struct {
	Files []SourceFile
}

// Resolver expands source glob patterns into a SourceSet.
//
// Expansion rules:
//   - patterns support doublestar-free filepath.Glob syntax plus a trailing
//     "**" segment handled by a recursive walk
//   - the expansion is de-duplicated and strictly sorted
//   - directories are skipped; only files contribute
type Resolver struct {
	// BaseDir anchors relative patterns. Required, absolute.
	BaseDir string
}

// NewResolver creates a Resolver rooted at baseDir.
func NewResolver(baseDir string) *Resolver {
	return &Resolver{BaseDir: baseDir}
}

// Resolve expands all patterns and digests the matched files.
func (r *Resolver) Resolve(patterns []string) (*SourceSet, error) {
	if len(patterns) == 0 {
		return &SourceSet{Files: []SourceFile{}}, nil
	}

	pathSet := make(map[string]struct{})
	for _, pattern := range patterns {
		matches, err := r.expand(pattern)
		if err != nil {
			return nil, fmt.Errorf("expanding pattern %q: %w", pattern, err)
		}
		for _, m := range matches {
			pathSet[m] = struct{}{}
		}
	}

	// Sort explicitly; never rely on OS directory ordering.
	paths := make([]string, 0, len(pathSet))
	for p := range pathSet {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	files := make([]SourceFile, 0, len(paths))
	for _, p := range paths {
		digest, err := digestFile(filepath.FromSlash(p))
		if err != nil {
			return nil, fmt.Errorf("hashing source %q: %w", p, err)
		}
		files = append(files, SourceFile{Path: p, Digest: digest})
	}
	return &SourceSet{Files: files}, nil
}

// expand resolves one pattern to slash-normalized file paths.
func (r *Resolver) expand(pattern string) ([]string, error) {
	full := pattern
	if !filepath.IsAbs(full) {
		full = filepath.Join(r.BaseDir, full)
	}

	var matches []string
	var err error
	if prefix, rest, ok := splitDoublestar(full); ok {
		matches, err = walkDoublestar(prefix, rest)
	} else {
		matches, err = filepath.Glob(full)
	}
	if err != nil {
		return nil, err
	}

	// A literal path with no metacharacters matches itself when it exists.
	if len(matches) == 0 && !hasGlobChar(pattern) {
		if _, statErr := os.Stat(full); statErr == nil {
			matches = []string{full}
		}
	}

	out := make([]string, 0, len(matches))
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			return nil, fmt.Errorf("stat %q: %w", m, err)
		}
		if info.IsDir() {
			continue
		}
		out = append(out, filepath.ToSlash(m))
	}
	return out, nil
}

// splitDoublestar splits a pattern at its first "**" segment.
func splitDoublestar(pattern string) (prefix, rest string, ok bool) {
	sep := string(filepath.Separator)
	parts := strings.Split(pattern, sep)
	for i, p := range parts {
		if p == "**" {
			return strings.Join(parts[:i], sep), strings.Join(parts[i+1:], sep), true
		}
	}
	return "", "", false
}

// walkDoublestar matches "** / rest" by walking every directory under prefix
// and globbing rest inside each of them.
func walkDoublestar(prefix, rest string) ([]string, error) {
	if prefix == "" {
		prefix = "."
	}
	var out []string
	err := filepath.Walk(prefix, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !info.IsDir() {
			return nil
		}
		if rest == "" {
			return nil
		}
		matches, gerr := filepath.Glob(filepath.Join(path, rest))
		if gerr != nil {
			return gerr
		}
		out = append(out, matches...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if rest == "" {
		// "dir/**" means every file under dir.
		err = filepath.Walk(prefix, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				if os.IsNotExist(err) {
					return nil
				}
				return err
			}
			if info.IsDir() {
				return nil
			}
			out = append(out, path)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func hasGlobChar(pattern string) bool {
	for _, c := range pattern {
		switch c {
		case '*', '?', '[', ']':
			return true
		}
	}
	return false
}

func digestFile(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
