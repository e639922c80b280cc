package fingerprint

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"sort"
)

// Fingerprint is the stable identity of a task execution's inputs.
type Fingerprint string

// String returns the hex form of the fingerprint.
func (f Fingerprint) String() string { return string(f) }

// Input collects every component that contributes to a task's identity.
//
// Any change to any component must produce a different fingerprint; nothing
// machine-specific or time-dependent may contribute.
type Input struct {
	// WorkDir is the task's working directory identity.
	WorkDir string

	// Cmds is the ordered command list.
	Cmds []string

	// Env is the task's environment overlay (manifest-level merged with
	// task-level). The host environment is deliberately excluded: it is
	// delegated to the wrapped toolchain and not part of task identity.
	Env map[string]string

	// Generates is the list of declared output paths.
	Generates []string

	// Sources is the resolved, sorted source set.
	Sources *SourceSet
}

// Compute produces the fingerprint for the given input.
//
// Every component is length-prefixed before hashing so that concatenation is
// unambiguous, and every unordered collection is sorted first.
func Compute(in Input) Fingerprint {
	h := sha256.New()

	writeField := func(data []byte) {
		var length [8]byte
		binary.BigEndian.PutUint64(length[:], uint64(len(data)))
		h.Write(length[:])
		h.Write(data)
	}
	writeCount := func(n int) {
		var count [8]byte
		binary.BigEndian.PutUint64(count[:], uint64(n))
		h.Write(count[:])
	}

	writeField([]byte(in.WorkDir))

	writeCount(len(in.Cmds))
	for _, c := range in.Cmds {
		writeField([]byte(c))
	}

	envKeys := make([]string, 0, len(in.Env))
	for k := range in.Env {
		envKeys = append(envKeys, k)
	}
	sort.Strings(envKeys)
	writeCount(len(envKeys))
	for _, k := range envKeys {
		writeField([]byte(k))
		writeField([]byte(in.Env[k]))
	}

	generates := make([]string, len(in.Generates))
	copy(generates, in.Generates)
	sort.Strings(generates)
	writeCount(len(generates))
	for _, g := range generates {
		writeField([]byte(g))
	}

	n := 0
	if in.Sources != nil {
		n = len(in.Sources.Files)
	}
	writeCount(n)
	if in.Sources != nil {
		for _, f := range in.Sources.Files {
			writeField([]byte(f.Path))
			writeField([]byte(f.Digest))
		}
	}

	sum := h.Sum(nil)
	return Fingerprint(hex.EncodeToString(sum))
}
