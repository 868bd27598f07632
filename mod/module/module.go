// Package module defines the module.Version type along with support code.
package module

import (
	"fmt"
	"path/filepath"
	"strings"
)

// A Version identifies one release of a package by name and version.
type Version struct {
	Path    string `json:"path"`    // Package name, e.g. "intel-oneapi-mpi"
	Version string `json:"version"` // Version string, e.g. "2021.1.1"
}

// String returns "path@version", or just the path when the version is empty.
func (v Version) String() string {
	if v.Version == "" {
		return v.Path
	}
	return v.Path + "@" + v.Version
}

// Parse parses a "path@version" or "path" argument. The last '@' separates
// the version, so paths containing '@' keep everything before it.
func Parse(s string) Version {
	if i := strings.LastIndexByte(s, '@'); i >= 0 {
		return Version{Path: s[:i], Version: s[i+1:]}
	}
	return Version{Path: s}
}

// EscapePath returns the escaped form of the given module path as a valid
// file system path. It fails if the module path is invalid.
func EscapePath(path string) (escaped string, err error) {
	escaped, err = filepath.Localize(path)
	if err != nil {
		return "", fmt.Errorf("invalid module path %q: %w", path, err)
	}
	return escaped, nil
}
