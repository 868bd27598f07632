// Package versions reads and writes plan files. A plan file records the
// package instances a build resolved to and the instances each of them
// depends on, so a later run can check that resolution has not drifted.
package versions

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/goplus/lpm/mod/module"
)

// Versions represents a plan file.
type Versions struct {
	Path         string                      `json:"path"` // Recipe source the plan was resolved from
	Dependencies map[string][]module.Version `json:"deps"` // Map of "name@version" to the instances it depends on
}

// Parse reads and parses a plan file from either provided data or a file path.
// If data is non-nil, it is used directly and the file parameter is ignored.
// Otherwise, the file is read from the provided path.
func Parse(file string, data []byte) (*Versions, error) {
	var reader io.Reader

	if data != nil {
		reader = bytes.NewBuffer(data)
	} else {
		f, err := os.Open(file)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		reader = f
	}

	var v Versions

	if err := json.NewDecoder(reader).Decode(&v); err != nil {
		return nil, err
	}

	return &v, nil
}

// Add records that id depends on deps. Deps are kept sorted so that equal
// plans encode identically.
func (v *Versions) Add(id string, deps ...module.Version) {
	if v.Dependencies == nil {
		v.Dependencies = make(map[string][]module.Version)
	}
	sorted := append([]module.Version{}, deps...)
	slices.SortFunc(sorted, func(a, b module.Version) int {
		return strings.Compare(a.String(), b.String())
	})
	v.Dependencies[id] = sorted
}

// Write encodes v as indented JSON.
func (v *Versions) Write(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Diff lists how other differs from v, one line per instance: "+id" for
// instances only other has, "-id" for instances only v has and "~id" for
// instances whose dependencies changed. Path is not compared.
func (v *Versions) Diff(other *Versions) []string {
	var lines []string
	for _, id := range slices.Sorted(maps.Keys(v.Dependencies)) {
		deps, ok := other.Dependencies[id]
		switch {
		case !ok:
			lines = append(lines, "-"+id)
		case !slices.Equal(v.Dependencies[id], deps):
			lines = append(lines, "~"+id)
		}
	}
	for _, id := range slices.Sorted(maps.Keys(other.Dependencies)) {
		if _, ok := v.Dependencies[id]; !ok {
			lines = append(lines, "+"+id)
		}
	}
	return lines
}

// Check returns an error describing the differences between want and got,
// or nil if they match.
func Check(want, got *Versions) error {
	diff := want.Diff(got)
	if len(diff) == 0 {
		return nil
	}
	return fmt.Errorf("plan changed: %s", strings.Join(diff, " "))
}
