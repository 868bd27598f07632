// Package recipe describes package recipes: where a release is fetched from,
// how it is patched and installed, what it depends on, and what it publishes
// to the packages that depend on it.
package recipe

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"

	"github.com/goplus/lpm/mod/module"
)

// DepType tags a dependency edge with the stage that needs it.
type DepType string

const (
	DepBuild DepType = "build" // needed only while building (e.g. patchelf)
	DepLink  DepType = "link"  // linked into the dependent
	DepRun   DepType = "run"   // needed at run time
)

// Valid reports whether t is a known dependency type.
func (t DepType) Valid() bool {
	switch t {
	case DepBuild, DepLink, DepRun:
		return true
	}
	return false
}

// Dependency is a reference from one spec to another package, by name and
// optional version range.
type Dependency struct {
	Name  string
	Range Range
	Type  DepType
}

func (d Dependency) String() string {
	if d.Range == "" {
		return d.Name
	}
	return d.Name + "@" + string(d.Range)
}

// ParseDependency parses "name" or "name@range". An empty typ means DepLink.
func ParseDependency(s string, typ DepType) (Dependency, error) {
	if typ == "" {
		typ = DepLink
	}
	if !typ.Valid() {
		return Dependency{}, fmt.Errorf("dependency %q: unknown type %q", s, typ)
	}
	mod := module.Parse(strings.TrimSpace(s))
	if err := checkName(mod.Path); err != nil {
		return Dependency{}, fmt.Errorf("dependency %q: %w", s, err)
	}
	r := Range(mod.Version)
	if err := r.Check(); err != nil {
		return Dependency{}, fmt.Errorf("dependency %q: %w", s, err)
	}
	return Dependency{Name: mod.Path, Range: r, Type: typ}, nil
}

// Source describes where a release comes from. Either URL or Git is set for
// packages that have a source; bundle packages have neither.
type Source struct {
	URL    string
	SHA256 string
	Expand bool // false stages the downloaded file without unpacking it
	Git    string
	Ref    string
}

// IsZero reports whether the spec has nothing to fetch.
func (s Source) IsZero() bool {
	return s.URL == "" && s.Git == ""
}

// Patch rewrites the runtime library search path of released binaries.
// Files are relative to the unpacked source tree; "${prefix}" in RPath
// expands to the install root.
type Patch struct {
	Files []string
	RPath string
}

// Install systems.
const (
	SystemCopy      = "copy"
	SystemScript    = "script"
	SystemCMake     = "cmake"
	SystemAutotools = "autotools"
)

// Install selects the install strategy.
type Install struct {
	System  string
	Command []string // script: argv, with ${archive}, ${src} and ${prefix} expanded
	Args    []string // cmake/autotools: extra configure arguments
}

// Spec is an immutable description of one package instance. Values are not
// modified after construction; consumers that need to keep a Spec take a
// Clone.
type Spec struct {
	Name        string
	Version     string
	Description string
	Homepage    string

	Variants  map[string]string
	Deps      []Dependency
	Provides  []string // virtual packages, "name" or "name@range"
	Platforms []string // empty means every platform

	Source  Source
	Patches []Patch
	Install Install

	Env      map[string]string // own build environment
	Exports  map[string]string // environment published to dependents
	Wrappers map[string]string // compiler-wrapper variable -> path relative to prefix
	Libs     []string          // library dirs relative to prefix
}

// Module returns the identity of s.
func (s *Spec) Module() module.Version {
	return module.Version{Path: s.Name, Version: s.Version}
}

// Key returns "name@version", the identity used for duplicate detection.
func (s *Spec) Key() string {
	return s.Module().String()
}

// VariantString returns the variants as sorted "k=v" pairs joined by ",".
func (s *Spec) VariantString() string {
	keys := slices.Sorted(maps.Keys(s.Variants))
	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = k + "=" + s.Variants[k]
	}
	return strings.Join(pairs, ",")
}

// VariantHash returns a short stable hash of the variants, used to namespace
// install roots.
func (s *Spec) VariantHash() string {
	sum := sha256.Sum256([]byte(s.VariantString()))
	return hex.EncodeToString(sum[:4])
}

// AppliesTo reports whether s can be built on platform.
func (s *Spec) AppliesTo(platform string) bool {
	return len(s.Platforms) == 0 || slices.Contains(s.Platforms, platform)
}

// Satisfies reports whether s can stand in for ref, either by name and
// version or through one of the virtual packages it provides.
func (s *Spec) Satisfies(ref Dependency) bool {
	if s.Name == ref.Name {
		return ref.Range.Contains(s.Version)
	}
	return s.provides(ref) != ""
}

// provides returns the provider entry matching ref, or "".
func (s *Spec) provides(ref Dependency) string {
	for _, p := range s.Provides {
		v := module.Parse(p)
		if v.Path == ref.Name && Range(v.Version).Intersects(ref.Range) {
			return p
		}
	}
	return ""
}

// Clone returns a deep copy of s.
func (s *Spec) Clone() *Spec {
	c := *s
	c.Variants = maps.Clone(s.Variants)
	c.Deps = slices.Clone(s.Deps)
	c.Provides = slices.Clone(s.Provides)
	c.Platforms = slices.Clone(s.Platforms)
	c.Patches = make([]Patch, len(s.Patches))
	for i, p := range s.Patches {
		c.Patches[i] = Patch{Files: slices.Clone(p.Files), RPath: p.RPath}
	}
	c.Install.Command = slices.Clone(s.Install.Command)
	c.Install.Args = slices.Clone(s.Install.Args)
	c.Env = maps.Clone(s.Env)
	c.Exports = maps.Clone(s.Exports)
	c.Wrappers = maps.Clone(s.Wrappers)
	c.Libs = slices.Clone(s.Libs)
	return &c
}

// SortSpecs sorts specs by name, then by version ascending.
func SortSpecs(specs []*Spec) {
	sort.SliceStable(specs, func(i, j int) bool {
		if specs[i].Name != specs[j].Name {
			return specs[i].Name < specs[j].Name
		}
		return Compare(specs[i].Version, specs[j].Version) < 0
	})
}

func checkName(name string) error {
	if name == "" {
		return fmt.Errorf("empty package name")
	}
	if strings.ContainsAny(name, " \t\n@:,") {
		return fmt.Errorf("invalid package name %q", name)
	}
	if _, err := module.EscapePath(name); err != nil {
		return err
	}
	return nil
}
