package installer

import (
	"context"
	"sort"

	"github.com/goplus/lpm/internal/build"
)

// cmakeArgs builds the configure, build and install argument lists.
// Recipe variants become cache definitions; recipe args come last.
func cmakeArgs(req *build.InstallRequest, buildDir string) (configure, compile, install []string) {
	defines := map[string]string{
		"CMAKE_INSTALL_PREFIX:PATH": req.Prefix,
		"CMAKE_BUILD_TYPE:STRING":   "Release",
	}
	for k, v := range req.Spec.Variants {
		defines[k+":STRING"] = v
	}
	keys := make([]string, 0, len(defines))
	for k := range defines {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	configure = []string{"-S", req.Src, "-B", buildDir}
	for _, k := range keys {
		configure = append(configure, "-D"+k+"="+defines[k])
	}
	configure = append(configure, req.Spec.Install.Args...)
	compile = []string{"--build", buildDir, "--config", "Release"}
	install = []string{"--install", buildDir, "--prefix", req.Prefix}
	return configure, compile, install
}

func (in *Installer) cmakeBuild(ctx context.Context, req *build.InstallRequest) error {
	dir, err := buildDir(req)
	if err != nil {
		return err
	}
	env := environ(req)
	configure, compile, install := cmakeArgs(req, dir)
	for _, args := range [][]string{configure, compile, install} {
		if err := in.run(ctx, dir, env, in.cmake, args...); err != nil {
			return err
		}
	}
	return nil
}
