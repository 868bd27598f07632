// Package env holds the environment context threaded into builds and the
// on-disk locations lpm works in.
package env

import (
	"maps"
	"os"
	"path/filepath"
	"slices"
)

// WorkDir returns the default lpm work directory under the user cache dir.
func WorkDir() (string, error) {
	userCacheDir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(userCacheDir, ".lpm"), nil
}

// Merge folds exports over base from left to right: a key present in a
// later mapping overrides the same key from an earlier one. Inputs are
// never modified.
func Merge(base map[string]string, exports ...map[string]string) map[string]string {
	n := len(base)
	for _, e := range exports {
		n += len(e)
	}
	out := make(map[string]string, n)
	maps.Copy(out, base)
	for _, e := range exports {
		maps.Copy(out, e)
	}
	return out
}

// Context is an immutable build environment. The zero value is empty.
type Context struct {
	vars map[string]string
}

// New returns a Context holding a copy of vars.
func New(vars map[string]string) Context {
	return Context{vars: maps.Clone(vars)}
}

// With returns a new Context with exports merged over c.
func (c Context) With(exports ...map[string]string) Context {
	return Context{vars: Merge(c.vars, exports...)}
}

// Get returns the value of key, or "".
func (c Context) Get(key string) string {
	return c.vars[key]
}

// Lookup returns the value of key and whether it is set.
func (c Context) Lookup(key string) (string, bool) {
	v, ok := c.vars[key]
	return v, ok
}

// Len returns the number of variables.
func (c Context) Len() int {
	return len(c.vars)
}

// Keys returns the variable names in sorted order.
func (c Context) Keys() []string {
	return slices.Sorted(maps.Keys(c.vars))
}

// Map returns a copy of the variables.
func (c Context) Map() map[string]string {
	if c.vars == nil {
		return map[string]string{}
	}
	return maps.Clone(c.vars)
}

// Environ returns the variables as sorted "key=value" strings, suitable
// for exec.Cmd.Env.
func (c Context) Environ() []string {
	keys := c.Keys()
	env := make([]string, len(keys))
	for i, k := range keys {
		env[i] = k + "=" + c.vars[k]
	}
	return env
}

// Expand replaces ${var} and $var in s with values from c. Unset
// variables expand to "".
func (c Context) Expand(s string) string {
	return os.Expand(s, c.Get)
}
