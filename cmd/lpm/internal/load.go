package internal

import (
	"context"
	"fmt"

	"github.com/goplus/lpm/internal/ctxlog"
	"github.com/goplus/lpm/internal/graph"
	"github.com/goplus/lpm/internal/recipestore"
	"github.com/goplus/lpm/internal/vcs"
	"github.com/goplus/lpm/mod/module"
	"github.com/goplus/lpm/recipe"
)

// parseModuleArg parses a package argument in the form "name@range" or "name".
func parseModuleArg(arg string) (name, version string) {
	m := module.Parse(arg)
	return m.Path, m.Version
}

// gitVCS returns the git client configured for this run.
func gitVCS() vcs.VCS {
	return vcs.NewGitVCS(vcs.WithGitPath(cfg.Git))
}

// recipeDir returns the directory recipes are loaded from: the local
// recipes directory, or a fresh checkout of the configured recipe
// repository. source names where the recipes came from; for a repository
// it is the remote pinned to the checked out commit.
func recipeDir(ctx context.Context) (dir, source string, err error) {
	if cfg.RecipesRepo == "" {
		return cfg.Recipes, cfg.Recipes, nil
	}
	store := recipestore.New(cfg.RecipesCache, gitVCS())
	dir, err = store.Sync(ctx, cfg.RecipesRepo, cfg.RecipesRef)
	if err != nil {
		return "", "", err
	}
	commit, err := store.Commit(ctx, cfg.RecipesRepo)
	if err != nil {
		return "", "", err
	}
	ctxlog.FromContext(ctx).Debug("recipes synced", "remote", cfg.RecipesRepo, "ref", cfg.RecipesRef, "commit", commit, "dir", dir)
	return dir, cfg.RecipesRepo + "@" + commit, nil
}

// loadGraph loads the recipes in dir into a DAG. With targets, only the
// targets and what they depend on are kept.
func loadGraph(dir string, targets []string) (*graph.DAG, error) {
	specs, err := recipe.LoadDir(dir)
	if err != nil {
		return nil, err
	}
	dag, err := graph.Build(specs,
		graph.WithPlatform(cfg.Platform),
		graph.WithPlatformPolicy(cfg.Policy()),
	)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return dag, nil
	}
	ids := make([]string, 0, len(targets))
	for _, arg := range targets {
		name, version := parseModuleArg(arg)
		r := recipe.Range(version)
		if err := r.Check(); err != nil {
			return nil, fmt.Errorf("%s: %w", arg, err)
		}
		n, err := dag.Lookup(name, r)
		if err != nil {
			return nil, err
		}
		ids = append(ids, n.ID)
	}
	return dag.Select(ids...)
}
