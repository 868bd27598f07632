package installer

import (
	"context"
	"path/filepath"

	"github.com/goplus/lpm/internal/build"
)

// configureArgs returns the arguments of <src>/configure: --prefix first,
// then the recipe args.
func configureArgs(req *build.InstallRequest) []string {
	return append([]string{"--prefix=" + req.Prefix}, req.Spec.Install.Args...)
}

func (in *Installer) autotools(ctx context.Context, req *build.InstallRequest) error {
	dir, err := buildDir(req)
	if err != nil {
		return err
	}
	env := environ(req)
	if err := in.run(ctx, dir, env, filepath.Join(req.Src, "configure"), configureArgs(req)...); err != nil {
		return err
	}
	if err := in.run(ctx, dir, env, in.make); err != nil {
		return err
	}
	return in.run(ctx, dir, env, in.make, "install")
}
