// Package manifest defines the runbook manifest: a declarative map of short
// task names (and single-letter aliases) to the command lines they wrap.
//
// The manifest is the only configuration surface of the runner. Everything a
// task does is delegated to the wrapped toolchain; the manifest records what
// to invoke, never how the invoked tool behaves.
package manifest

import "sort"

// DefaultFileName is the manifest file looked up in the project root when no
// explicit path is given.
const DefaultFileName = "runbook.yaml"

// Task is a named set of command lines executed in order.
//
// Required: a non-empty Cmds list. Everything else is optional.
type Task struct {
	// Name is the manifest key for the task. It is filled in by the loader
	// and never read from the document body.
	Name string `yaml:"-"`

	// Aliases are short synonyms resolved identically to the task name.
	Aliases []string `yaml:"aliases,omitempty"`

	// Desc is a one-line description shown by `runbook list`.
	Desc string `yaml:"desc,omitempty"`

	// Cmds are the command lines, run sequentially via the shell.
	// The first non-zero exit stops the task.
	Cmds []string `yaml:"cmds"`

	// Deps names tasks that must complete successfully before this one runs.
	// Entries reference task names, never aliases.
	Deps []string `yaml:"deps,omitempty"`

	// Env is a per-task environment overlay applied on top of the host
	// environment and the manifest-level Env.
	Env map[string]string `yaml:"env,omitempty"`

	// Dir is the working directory for the task's commands, relative to the
	// project root. Empty means the project root itself.
	Dir string `yaml:"dir,omitempty"`

	// Sources are glob patterns whose content fingerprint decides whether
	// the task is up to date. A task without sources always runs.
	Sources []string `yaml:"sources,omitempty"`

	// Generates are the paths the task is expected to produce. They
	// contribute to the fingerprint but are otherwise informational.
	Generates []string `yaml:"generates,omitempty"`
}

// Manifest is a parsed, not-yet-validated runbook document.
type Manifest struct {
	// Version is the manifest schema version. Only "1" is accepted.
	Version string `yaml:"version,omitempty"`

	// Env is an environment overlay applied to every task.
	Env map[string]string `yaml:"env,omitempty"`

	// Tasks maps task name to definition.
	Tasks map[string]*Task `yaml:"tasks"`

	// aliasIndex maps alias to task name. Built by Validate.
	aliasIndex map[string]string
}

// Names returns all task names in sorted order.
func (m *Manifest) Names() []string {
	names := make([]string, 0, len(m.Tasks))
	for name := range m.Tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup resolves a CLI argument to a task, trying the task names first and
// the aliases second. The manifest must have been validated.
func (m *Manifest) Lookup(nameOrAlias string) (*Task, bool) {
	if t, ok := m.Tasks[nameOrAlias]; ok {
		return t, true
	}
	if name, ok := m.aliasIndex[nameOrAlias]; ok {
		return m.Tasks[name], true
	}
	return nil, false
}
