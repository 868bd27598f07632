package installer

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/goplus/lpm/internal/build"
)

// searchPaths returns the variables that let compilers and build tools
// find headers, libraries and pkg-config files of deps. Values already
// present in base are kept after the dependency paths.
func searchPaths(base func(string) string, deps []*build.Artifact) map[string]string {
	sep := string(os.PathListSeparator)
	lists := map[string][]string{}
	flags := map[string][]string{}
	prepend := func(key, value string) { lists[key] = append(lists[key], value) }
	flag := func(key, value string) { flags[key] = append(flags[key], value) }

	for _, a := range deps {
		includeDir := filepath.Join(a.Root, "include")
		libDir := filepath.Join(a.Root, "lib")
		pkgconfigDir := filepath.Join(libDir, "pkgconfig")

		prepend("CMAKE_PREFIX_PATH", a.Root)
		if isDir(pkgconfigDir) {
			prepend("PKG_CONFIG_PATH", pkgconfigDir)
		}
		if isDir(includeDir) {
			prepend("CMAKE_INCLUDE_PATH", includeDir)
		}
		if isDir(libDir) {
			prepend("CMAKE_LIBRARY_PATH", libDir)
		}
		if bin := filepath.Join(a.Root, "bin"); isDir(bin) {
			prepend("PATH", bin)
		}
		if runtime.GOOS == "windows" {
			if isDir(includeDir) {
				prepend("INCLUDE", includeDir)
			}
			if isDir(libDir) {
				prepend("LIB", libDir)
			}
			continue
		}
		if isDir(includeDir) {
			flag("CPPFLAGS", "-I"+includeDir)
		}
		for _, d := range a.LibDirs {
			flag("LDFLAGS", "-L"+d)
		}
		if len(a.LibDirs) == 0 && isDir(libDir) {
			flag("LDFLAGS", "-L"+libDir)
		}
	}

	out := make(map[string]string, len(lists)+len(flags))
	for k, v := range lists {
		if cur := base(k); cur != "" {
			v = append(v, cur)
		}
		out[k] = strings.Join(v, sep)
	}
	for k, v := range flags {
		if cur := base(k); cur != "" {
			v = append([]string{cur}, v...)
		}
		out[k] = strings.Join(v, " ")
	}
	return out
}

// environ returns the process environment for build commands: the node's
// environment context plus dependency search paths.
func environ(req *build.InstallRequest) []string {
	return req.Env.With(searchPaths(req.Env.Get, req.Deps)).Environ()
}

func isDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}
