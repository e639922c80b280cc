package manifest

import "strings"

// nameOK reports whether a task name or alias is safe to use both on the
// command line and as a state file name.
func nameOK(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_':
		default:
			return false
		}
	}
	return true
}

// Validate checks the manifest's structural invariants and builds the alias
// index used by Lookup.
//
// Invariants:
//   - version, when present, is "1"
//   - every task name is non-empty and uses [A-Za-z0-9_-] only
//   - every alias is unique across all aliases and all task names
//   - every cmds list is non-empty and contains no blank command
//   - every deps entry references a declared task name
//
// Cycle detection over deps is owned by the graph package; Validate only
// checks referential integrity.
func (m *Manifest) Validate() error {
	if m == nil {
		return invalidf("nil manifest")
	}
	if m.Version != "" && m.Version != "1" {
		return invalidf("unsupported version %q (expected \"1\")", m.Version)
	}
	if len(m.Tasks) == 0 {
		return invalidf("no tasks defined")
	}

	for _, name := range m.Names() {
		if !nameOK(name) {
			return invalidf("task name %q: must match [A-Za-z0-9_-]+", name)
		}
	}

	aliasIndex := make(map[string]string)
	for _, name := range m.Names() {
		t := m.Tasks[name]

		for _, a := range t.Aliases {
			if !nameOK(a) {
				return invalidf("task %q alias %q: must match [A-Za-z0-9_-]+", name, a)
			}
			if _, clash := m.Tasks[a]; clash {
				return invalidf("task %q alias %q collides with a task name", name, a)
			}
			if owner, dup := aliasIndex[a]; dup {
				return invalidf("alias %q declared by both %q and %q", a, owner, name)
			}
			aliasIndex[a] = name
		}

		if len(t.Cmds) == 0 {
			return invalidf("task %q: cmds must not be empty", name)
		}
		for i, c := range t.Cmds {
			if strings.TrimSpace(c) == "" {
				return invalidf("task %q: cmds[%d] is blank", name, i)
			}
		}

		seenDeps := make(map[string]struct{}, len(t.Deps))
		for _, d := range t.Deps {
			if _, ok := m.Tasks[d]; !ok {
				if _, isAlias := aliasContains(m, d); isAlias {
					return invalidf("task %q dep %q references an alias; use the task name", name, d)
				}
				return invalidf("task %q dep %q references an unknown task", name, d)
			}
			if d == name {
				return invalidf("task %q depends on itself", name)
			}
			if _, dup := seenDeps[d]; dup {
				return invalidf("task %q: duplicate dep %q", name, d)
			}
			seenDeps[d] = struct{}{}
		}
	}

	m.aliasIndex = aliasIndex
	return nil
}

// aliasContains reports whether s is declared as an alias anywhere in the
// manifest, independent of the (possibly unbuilt) alias index.
func aliasContains(m *Manifest, s string) (string, bool) {
	for _, name := range m.Names() {
		for _, a := range m.Tasks[name].Aliases {
			if a == s {
				return name, true
			}
		}
	}
	return "", false
}
