// Package installer implements the install strategies a recipe can select:
// copying the unpacked tree, running a script, or driving a CMake or
// Autotools build.
package installer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/goplus/lpm/internal/build"
	"github.com/goplus/lpm/recipe"
)

// Installer dispatches on the recipe's install system.
type Installer struct {
	cmake  string
	make   string
	output io.Writer
}

// Option configures an Installer.
type Option func(*Installer)

// WithCMake sets the cmake executable.
func WithCMake(path string) Option {
	return func(in *Installer) { in.cmake = path }
}

// WithMake sets the make executable.
func WithMake(path string) Option {
	return func(in *Installer) { in.make = path }
}

// WithOutput streams build tool output to w. Without it, output is kept
// and only reported when a command fails.
func WithOutput(w io.Writer) Option {
	return func(in *Installer) { in.output = w }
}

// New returns an Installer.
func New(opts ...Option) *Installer {
	in := &Installer{cmake: "cmake", make: "make"}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Install implements build.Installer.
func (in *Installer) Install(ctx context.Context, req *build.InstallRequest) error {
	switch sys := req.Spec.Install.System; sys {
	case "", recipe.SystemCopy:
		return in.copy(ctx, req)
	case recipe.SystemScript:
		return in.script(ctx, req)
	case recipe.SystemCMake:
		return in.cmakeBuild(ctx, req)
	case recipe.SystemAutotools:
		return in.autotools(ctx, req)
	default:
		return fmt.Errorf("unknown install system %q", sys)
	}
}

func (in *Installer) copy(ctx context.Context, req *build.InstallRequest) error {
	switch {
	case req.Src != "":
		return copyTree(ctx, req.Src, req.Prefix)
	case req.Archive != "":
		return copyTree(ctx, req.Archive, filepath.Join(req.Prefix, filepath.Base(req.Archive)))
	}
	return nil // bundle: nothing but exports
}

// script runs the recipe's command in the source tree. ${archive}, ${src}
// and ${prefix} expand to the request paths; other variables expand from
// the build environment.
func (in *Installer) script(ctx context.Context, req *build.InstallRequest) error {
	argv := req.Spec.Install.Command
	if len(argv) == 0 {
		return fmt.Errorf("script install: no command")
	}
	expand := func(k string) string {
		switch k {
		case "archive":
			return req.Archive
		case "src":
			return req.Src
		case "prefix":
			return req.Prefix
		}
		return req.Env.Get(k)
	}
	args := make([]string, len(argv))
	for i, a := range argv {
		args[i] = os.Expand(a, expand)
	}
	dir := req.Src
	if dir == "" {
		dir = req.Prefix
	}
	return in.run(ctx, dir, environ(req), args[0], args[1:]...)
}

// buildDir is a scratch directory next to the source tree, inside the
// executor's stage.
func buildDir(req *build.InstallRequest) (string, error) {
	if req.Src == "" {
		return "", fmt.Errorf("%s install needs a source tree", req.Spec.Install.System)
	}
	dir := filepath.Join(filepath.Dir(req.Src), "build")
	return dir, os.MkdirAll(dir, 0o755)
}

func (in *Installer) run(ctx context.Context, dir string, env []string, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = env

	var buf bytes.Buffer
	if in.output != nil {
		cmd.Stdout = in.output
		cmd.Stderr = in.output
	} else {
		cmd.Stdout = &buf
		cmd.Stderr = &buf
	}
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		msg := lastLines(buf.String(), 20)
		if msg != "" {
			return fmt.Errorf("%s: %w\n%s", filepath.Base(name), err, msg)
		}
		return fmt.Errorf("%s: %w", filepath.Base(name), err)
	}
	return nil
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
