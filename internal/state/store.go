package state

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"
)

// StateDirName is the directory created in the project root.
const StateDirName = ".runbook"

// Store provides persistent storage under:
//
//	<baseDir>/.runbook/runs/<run-id>/run.json
//	<baseDir>/.runbook/fingerprints/<task>.json
//
// All writes are atomic and durable (pending file, fsync, rename). Reads of
// corrupt or missing records degrade to a miss, never to a failed run.
type Store struct {
	baseDir string
}

// NewStore creates a Store rooted at the project directory.
func NewStore(baseDir string) (*Store, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, errors.New("baseDir is required")
	}
	return &Store{baseDir: baseDir}, nil
}

// NewRunID returns a fresh run identifier.
func NewRunID() string { return uuid.NewString() }

func (s *Store) runsRootDir() string {
	return filepath.Join(s.baseDir, StateDirName, "runs")
}

func (s *Store) runDir(runID string) string {
	return filepath.Join(s.runsRootDir(), runID)
}

func (s *Store) runPath(runID string) string {
	return filepath.Join(s.runDir(runID), "run.json")
}

func (s *Store) fingerprintsDir() string {
	return filepath.Join(s.baseDir, StateDirName, "fingerprints")
}

func (s *Store) fingerprintPath(task string) string {
	// Task names are validated to [A-Za-z0-9_-]+ so they are safe file names.
	return filepath.Join(s.fingerprintsDir(), task+".json")
}

// SaveRun persists a run record.
func (s *Store) SaveRun(run Run) error {
	if err := run.Validate(); err != nil {
		return fmt.Errorf("invalid run: %w", err)
	}
	if err := os.MkdirAll(s.runDir(run.RunID), 0o755); err != nil {
		return fmt.Errorf("ensure run dir: %w", err)
	}
	data, err := marshalStable(run)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	if err := renameio.WriteFile(s.runPath(run.RunID), data, 0o644); err != nil {
		return fmt.Errorf("write run: %w", err)
	}
	return nil
}

// LoadRun loads a run record. ok is false when the record is missing or
// unreadable.
func (s *Store) LoadRun(runID string) (Run, bool) {
	var run Run
	if strings.TrimSpace(runID) == "" {
		return Run{}, false
	}
	if err := readJSONStrict(s.runPath(runID), &run); err != nil {
		return Run{}, false
	}
	if run.Validate() != nil {
		return Run{}, false
	}
	return run, true
}

// ListRunIDs returns all run ids present on disk, sorted lexicographically.
func (s *Store) ListRunIDs() ([]string, error) {
	if s == nil {
		return nil, errors.New("nil Store")
	}
	entries, err := os.ReadDir(s.runsRootDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := strings.TrimSpace(e.Name())
		if name == "" {
			continue
		}
		ids = append(ids, name)
	}
	sort.Strings(ids)
	return ids, nil
}

// SaveFingerprint records a task's fingerprint after a successful run.
func (s *Store) SaveFingerprint(rec FingerprintRecord) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("invalid fingerprint record: %w", err)
	}
	if err := os.MkdirAll(s.fingerprintsDir(), 0o755); err != nil {
		return fmt.Errorf("ensure fingerprints dir: %w", err)
	}
	data, err := marshalStable(rec)
	if err != nil {
		return fmt.Errorf("marshal fingerprint record: %w", err)
	}
	if err := renameio.WriteFile(s.fingerprintPath(rec.Task), data, 0o644); err != nil {
		return fmt.Errorf("write fingerprint record: %w", err)
	}
	return nil
}

// LoadFingerprint loads a task's recorded fingerprint. ok is false on a miss
// or an unreadable record.
func (s *Store) LoadFingerprint(task string) (FingerprintRecord, bool) {
	var rec FingerprintRecord
	if strings.TrimSpace(task) == "" {
		return FingerprintRecord{}, false
	}
	if err := readJSONStrict(s.fingerprintPath(task), &rec); err != nil {
		return FingerprintRecord{}, false
	}
	if rec.Validate() != nil || rec.Task != task {
		return FingerprintRecord{}, false
	}
	return rec, true
}

// DropFingerprint forgets a task's recorded fingerprint. Removing a missing
// record is not an error.
func (s *Store) DropFingerprint(task string) error {
	if strings.TrimSpace(task) == "" {
		return errors.New("task is required")
	}
	err := os.Remove(s.fingerprintPath(task))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// marshalStable produces deterministic, indented JSON.
func marshalStable(v any) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}

// readJSONStrict reads one JSON value and rejects unknown fields and trailing
// data, so a truncated or hand-edited record is treated as corrupt.
func readJSONStrict(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	var trailing any
	if err := dec.Decode(&trailing); err == nil {
		return errors.New("trailing data")
	}
	return nil
}
