package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

var (
	// ErrInvalidManifest wraps all validation failures.
	ErrInvalidManifest = errors.New("invalid manifest")

	// ErrNotFound is returned when the manifest file does not exist.
	ErrNotFound = errors.New("manifest not found")
)

// ManifestError carries a validation failure with a stable message.
type ManifestError struct {
	Kind error
	Msg  string
}

func (e *ManifestError) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
}

func (e *ManifestError) Unwrap() error { return e.Kind }

func invalidf(format string, args ...any) error {
	return &ManifestError{Kind: ErrInvalidManifest, Msg: fmt.Sprintf(format, args...)}
}

// Load reads, parses, and validates the manifest at path.
//
// Decoding is strict: unknown fields and trailing documents are rejected so a
// typo in a field name fails loudly instead of silently dropping a setting.
func Load(path string) (*Manifest, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return Parse(b)
}

// Parse parses and validates a manifest document.
func Parse(b []byte) (*Manifest, error) {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	var m Manifest
	if err := dec.Decode(&m); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, invalidf("empty document")
		}
		return nil, invalidf("parse yaml: %v", err)
	}

	// A second document in the same file is almost always an accident.
	var extra any
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		if err == nil {
			return nil, invalidf("multiple yaml documents")
		}
		return nil, invalidf("parse yaml: %v", err)
	}

	for name, t := range m.Tasks {
		if t == nil {
			return nil, invalidf("task %q has no body", name)
		}
		t.Name = name
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}
