// Package patchelf rewrites the runtime search path of ELF binaries by
// running the patchelf tool.
package patchelf

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Tool runs a patchelf executable.
type Tool struct {
	// Path is the patchelf executable; empty means "patchelf" from PATH.
	Path string
}

// Patch sets the RPATH of file to searchPath. A file whose RPATH already
// equals searchPath is left untouched, so patching twice yields the same
// bytes as patching once.
func (t Tool) Patch(ctx context.Context, file, searchPath string) error {
	cur, err := t.RPath(ctx, file)
	if err != nil {
		return err
	}
	if cur == searchPath {
		return nil
	}
	if _, err := t.output(ctx, "--set-rpath", searchPath, file); err != nil {
		return fmt.Errorf("set rpath of %s: %w", file, err)
	}
	return nil
}

// RPath returns the current RPATH of file.
func (t Tool) RPath(ctx context.Context, file string) (string, error) {
	out, err := t.output(ctx, "--print-rpath", file)
	if err != nil {
		return "", fmt.Errorf("read rpath of %s: %w", file, err)
	}
	return strings.TrimSpace(out), nil
}

func (t Tool) output(ctx context.Context, args ...string) (string, error) {
	path := t.Path
	if path == "" {
		path = "patchelf"
	}
	cmd := exec.CommandContext(ctx, path, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return "", fmt.Errorf("%s", msg)
		}
		return "", err
	}
	return stdout.String(), nil
}
