// Package persistence implements the durable filesystem layout under
// <root>/.eaos/autonomy/: the canonical state snapshot, per-cycle report
// files, and the most-recent-report overwrite copy (spec.md §6.1). Writes
// are atomic (temp file + rename) and serialized against concurrent
// callers; failures are returned to the caller but are never fatal to
// live engine behavior (spec.md §4.2, §7).
package persistence

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

// ensureDir creates dir and all parents if they don't already exist.
func ensureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}

// ensureParentDir creates the parent directory of path.
func ensureParentDir(path string) error {
	return ensureDir(filepath.Dir(path))
}

// atomicWrite writes data to path via a temporary file in the same
// directory followed by a rename, so a crash mid-write never leaves a
// partially-written file at path.
func atomicWrite(path string, data []byte, perm os.FileMode) error {
	if err := ensureParentDir(path); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// resolveRoot expands a leading "~" to the user's home directory and
// expands any $VAR/${VAR} references, so a root directory passed on the
// command line (e.g. "~/.eaos-alt") resolves the same way a shell would
// expand it.
func resolveRoot(root string) string {
	if root == "" {
		return root
	}
	if root[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			switch {
			case len(root) == 1:
				root = home
			case strings.HasPrefix(root, "~/"):
				root = filepath.Join(home, root[2:])
			}
		}
	}
	return os.ExpandEnv(root)
}

// readFileOrEmpty reads path, returning (nil, nil) when it does not
// exist so callers can distinguish "fresh start" from a real read
// failure.
func readFileOrEmpty(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	return data, err
}

// marshalIndent renders v as indented JSON with a trailing newline,
// matching the on-disk style of the other persisted files in this
// layout.
func marshalIndent(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
