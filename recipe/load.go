package recipe

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Ext is the file extension of recipe files.
const Ext = ".toml"

// Recipe file layout. One file describes one package; each [[versions]]
// entry yields one Spec.
//
//	name = "intel-oneapi-mpi"
//	platforms = ["linux"]
//	provides = ["mpi@:3"]
//	libs = ["mpi/latest/lib"]
//
//	[[versions]]
//	version = "2021.1.1"
//	url = "https://example.com/l_mpi.tar.gz"
//	sha256 = "8b76..."
//
//	[[depends]]
//	spec = "patchelf"
//	type = "build"
type recipeFile struct {
	Name        string            `toml:"name"`
	Description string            `toml:"description"`
	Homepage    string            `toml:"homepage"`
	Platforms   []string          `toml:"platforms"`
	Provides    []string          `toml:"provides"`
	Libs        []string          `toml:"libs"`
	Variants    map[string]any    `toml:"variants"`
	Versions    []versionEntry    `toml:"versions"`
	Depends     []dependsEntry    `toml:"depends"`
	Patches     []patchEntry      `toml:"patch"`
	Install     installEntry      `toml:"install"`
	Env         map[string]string `toml:"env"`
	Exports     map[string]string `toml:"exports"`
	Wrappers    map[string]string `toml:"wrappers"`
}

type versionEntry struct {
	Version  string         `toml:"version"`
	URL      string         `toml:"url"`
	SHA256   string         `toml:"sha256"`
	Expand   *bool          `toml:"expand"`
	Git      string         `toml:"git"`
	Ref      string         `toml:"ref"`
	Variants map[string]any `toml:"variants"`
}

type dependsEntry struct {
	Spec string `toml:"spec"`
	Type string `toml:"type"`
}

type patchEntry struct {
	Files []string `toml:"files"`
	RPath string   `toml:"rpath"`
}

type installEntry struct {
	System  string   `toml:"system"`
	Command []string `toml:"command"`
	Args    []string `toml:"args"`
}

// Parse parses one recipe file. name is used in error messages only.
func Parse(name string, data []byte) ([]*Spec, error) {
	var f recipeFile
	dec := toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			return nil, fmt.Errorf("%s:%d:%d: %s", name, row, col, derr.Error())
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	specs, err := f.specs()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return specs, nil
}

// ParseFile reads and parses the recipe file at path.
func ParseFile(path string) ([]*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(path, data)
}

// LoadDir loads every recipe file under dir. Hidden directories such as
// .git are skipped. The result is ordered by SortSpecs.
func LoadDir(dir string) ([]*Spec, error) {
	var specs []*Spec
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) != Ext {
			return nil
		}
		s, err := ParseFile(path)
		if err != nil {
			return err
		}
		specs = append(specs, s...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	SortSpecs(specs)
	return specs, nil
}

func (f *recipeFile) specs() ([]*Spec, error) {
	if err := checkName(f.Name); err != nil {
		return nil, err
	}
	if len(f.Versions) == 0 {
		return nil, fmt.Errorf("package %s: no versions", f.Name)
	}
	for _, p := range f.Platforms {
		if strings.TrimSpace(p) == "" {
			return nil, fmt.Errorf("package %s: empty platform", f.Name)
		}
	}
	for _, p := range f.Provides {
		if _, err := ParseDependency(p, DepLink); err != nil {
			return nil, fmt.Errorf("package %s: provides: %w", f.Name, err)
		}
	}

	deps := make([]Dependency, 0, len(f.Depends))
	for _, d := range f.Depends {
		dep, err := ParseDependency(d.Spec, DepType(d.Type))
		if err != nil {
			return nil, fmt.Errorf("package %s: %w", f.Name, err)
		}
		deps = append(deps, dep)
	}

	patches := make([]Patch, 0, len(f.Patches))
	for i, p := range f.Patches {
		if len(p.Files) == 0 || p.RPath == "" {
			return nil, fmt.Errorf("package %s: patch #%d needs files and rpath", f.Name, i+1)
		}
		patches = append(patches, Patch{Files: p.Files, RPath: p.RPath})
	}

	install, err := f.install()
	if err != nil {
		return nil, err
	}

	variants, err := variantStrings(f.Variants)
	if err != nil {
		return nil, fmt.Errorf("package %s: %w", f.Name, err)
	}

	seen := make(map[string]bool, len(f.Versions))
	specs := make([]*Spec, 0, len(f.Versions))
	for _, v := range f.Versions {
		if err := checkVersion(v.Version); err != nil {
			return nil, fmt.Errorf("package %s: %w", f.Name, err)
		}
		if seen[v.Version] {
			return nil, fmt.Errorf("package %s: version %s declared twice", f.Name, v.Version)
		}
		seen[v.Version] = true
		if v.URL != "" && v.Git != "" {
			return nil, fmt.Errorf("package %s@%s: url and git are exclusive", f.Name, v.Version)
		}
		own, err := variantStrings(v.Variants)
		if err != nil {
			return nil, fmt.Errorf("package %s@%s: %w", f.Name, v.Version, err)
		}
		expand := true
		if v.Expand != nil {
			expand = *v.Expand
		}
		s := &Spec{
			Name:        f.Name,
			Version:     v.Version,
			Description: f.Description,
			Homepage:    f.Homepage,
			Variants:    merged(variants, own),
			Deps:        deps,
			Provides:    f.Provides,
			Platforms:   f.Platforms,
			Source: Source{
				URL:    v.URL,
				SHA256: v.SHA256,
				Expand: expand,
				Git:    v.Git,
				Ref:    v.Ref,
			},
			Patches:  patches,
			Install:  install,
			Env:      f.Env,
			Exports:  f.Exports,
			Wrappers: f.Wrappers,
			Libs:     f.Libs,
		}
		// Versions share the package-level slices and maps; clone so each
		// Spec owns its values.
		specs = append(specs, s.Clone())
	}
	return specs, nil
}

func (f *recipeFile) install() (Install, error) {
	in := Install{System: f.Install.System, Command: f.Install.Command, Args: f.Install.Args}
	if in.System == "" {
		in.System = SystemCopy
	}
	switch in.System {
	case SystemCopy, SystemCMake, SystemAutotools:
	case SystemScript:
		if len(in.Command) == 0 {
			return Install{}, fmt.Errorf("package %s: script install needs a command", f.Name)
		}
	default:
		return Install{}, fmt.Errorf("package %s: unknown install system %q", f.Name, in.System)
	}
	return in, nil
}

func variantStrings(m map[string]any) (map[string]string, error) {
	if len(m) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		switch v := v.(type) {
		case string:
			out[k] = v
		case bool:
			out[k] = strconv.FormatBool(v)
		case int64:
			out[k] = strconv.FormatInt(v, 10)
		default:
			return nil, fmt.Errorf("variant %s: unsupported value %v", k, v)
		}
	}
	return out, nil
}

func merged(base, over map[string]string) map[string]string {
	if len(over) == 0 {
		return base
	}
	out := make(map[string]string, len(base)+len(over))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range over {
		out[k] = v
	}
	return out
}
