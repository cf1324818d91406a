// Package paths anchors the filesystem locations named in configuration:
// a leading ~ becomes the home directory and relative paths resolve
// against a root.
package paths

import (
	"os"
	"path/filepath"
	"strings"
)

// ExpandHome replaces a leading ~ with the user's home directory. Other
// paths, including "~user", are returned unchanged.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") || strings.HasPrefix(path, "~"+string(filepath.Separator)) {
		return filepath.Join(home, path[2:])
	}
	return path
}

// Under expands path and joins it onto root unless it is absolute.
// An empty path stays empty so optional settings remain unset.
func Under(root, path string) string {
	if path == "" {
		return ""
	}
	path = ExpandHome(path)
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(ExpandHome(root), path)
}
