// Package recipestore keeps local checkouts of remote recipe repositories.
package recipestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goplus/lpm/internal/vcs"
)

// Store manages recipe repository checkouts under one directory. Each
// remote gets its own subdirectory, so several remotes can share a store.
type Store struct {
	dir string
	vcs vcs.VCS
}

// New creates a new Store rooted at dir that syncs through v.
func New(dir string, v vcs.VCS) *Store {
	return &Store{dir: dir, vcs: v}
}

// Sync brings the checkout of remote to ref and returns its directory.
// An empty ref means the remote HEAD.
func (s *Store) Sync(ctx context.Context, remote, ref string) (string, error) {
	if remote == "" {
		return "", errors.New("recipestore: empty remote")
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return "", err
	}
	dir := s.Dir(remote)
	if err := s.vcs.Sync(ctx, remote, ref, dir); err != nil {
		return "", fmt.Errorf("sync recipes %s: %w", remote, err)
	}
	return dir, nil
}

// Commit returns the commit hash the checkout of remote is at.
func (s *Store) Commit(ctx context.Context, remote string) (string, error) {
	commit, err := s.vcs.Latest(ctx, s.Dir(remote))
	if err != nil {
		return "", fmt.Errorf("recipes %s: %w", remote, err)
	}
	return commit, nil
}

// Dir returns the checkout directory of remote. The directory may not
// exist yet.
func (s *Store) Dir(remote string) string {
	return filepath.Join(s.dir, dirName(remote))
}

// dirName derives a readable, collision-free directory name from a remote
// URL: its last path element followed by a short hash of the whole URL.
func dirName(remote string) string {
	base := strings.TrimSuffix(strings.TrimRight(remote, "/"), ".git")
	if i := strings.LastIndexAny(base, "/:"); i >= 0 {
		base = base[i+1:]
	}
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, base)
	if base == "" || base == "." || base == ".." {
		base = "recipes"
	}
	sum := sha256.Sum256([]byte(remote))
	return base + "-" + hex.EncodeToString(sum[:4])
}
