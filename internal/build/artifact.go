package build

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goplus/lpm/mod/module"
	"github.com/goplus/lpm/recipe"
)

// Root directory layout:
//
//	root/
//	  <escaped>@<version>-<variant hash>/   # install root, owned by one node
//	    .lpm-install.json                   # Artifact record
//	    bin/ lib/ ...
//	  <escaped>@<version>-<variant hash>.lock
const recordFile = ".lpm-install.json"

// Artifact is the record of a successful install.
type Artifact struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Version     string            `json:"version"`
	Variants    map[string]string `json:"variants,omitempty"`
	Root        string            `json:"root"`
	Exports     map[string]string `json:"exports,omitempty"`
	Wrappers    map[string]string `json:"wrappers,omitempty"` // absolute paths
	Libs        []string          `json:"libs,omitempty"`     // absolute paths of shared libraries
	LibDirs     []string          `json:"lib_dirs,omitempty"`
	InstalledAt time.Time         `json:"installed_at"`
}

// InstallDir returns the install root of s under root.
func InstallDir(root string, s *recipe.Spec) (string, error) {
	escaped, err := module.EscapePath(s.Name)
	if err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s@%s-%s", escaped, s.Version, s.VariantHash())
	if !filepath.IsLocal(name) || strings.ContainsAny(s.Version, `/\`) {
		return "", fmt.Errorf("install root %q leaves %s", name, root)
	}
	return filepath.Join(root, name), nil
}

// LoadArtifact reads the record in an install root.
func LoadArtifact(dir string) (*Artifact, error) {
	data, err := os.ReadFile(filepath.Join(dir, recordFile))
	if err != nil {
		return nil, err
	}
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Join(dir, recordFile), err)
	}
	return &a, nil
}

func saveArtifact(dir string, a *Artifact) error {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, recordFile), data, 0o644)
}
