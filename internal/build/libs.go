package build

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// isSharedLib reports whether name looks like a shared library:
// libfoo.so, libfoo.so.12.1 or libfoo.dylib.
func isSharedLib(name string) bool {
	return strings.HasSuffix(name, ".so") ||
		strings.Contains(name, ".so.") ||
		strings.HasSuffix(name, ".dylib")
}

// findLibs lists the shared libraries directly inside each of dirs. Missing
// directories are skipped. The result is sorted.
func findLibs(dirs []string) ([]string, error) {
	var libs []string
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.IsDir() || !isSharedLib(e.Name()) {
				continue
			}
			libs = append(libs, filepath.Join(dir, e.Name()))
		}
	}
	slices.Sort(libs)
	return libs, nil
}
