// Package build runs the per-node build lifecycle: fetch, verify, unpack,
// patch and install into an install root owned by the node.
package build

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"time"

	"github.com/goplus/lpm/internal/env"
	"github.com/goplus/lpm/internal/graph"
	"github.com/goplus/lpm/recipe"
)

// Fetcher downloads a source into dir and returns the local path of the
// downloaded file or checkout.
type Fetcher interface {
	Fetch(ctx context.Context, src recipe.Source, dir string) (string, error)
}

// Verifier checks a downloaded file against an expected digest. It stops
// with ctx's error once ctx is done.
type Verifier interface {
	Verify(ctx context.Context, path, digest string) error
}

// Unpacker extracts an archive, or copies a directory, into dst.
type Unpacker interface {
	Unpack(ctx context.Context, src, dst string) error
}

// Patcher sets the runtime library search path of a binary. Patching a
// file that already has searchPath must leave it unchanged.
type Patcher interface {
	Patch(ctx context.Context, file, searchPath string) error
}

// Installer writes a package into its install root.
type Installer interface {
	Install(ctx context.Context, req *InstallRequest) error
}

// InstallRequest is what an Installer gets to work with.
type InstallRequest struct {
	Spec    *recipe.Spec
	Archive string      // fetched file or checkout; empty for sourceless specs
	Src     string      // unpacked source tree; empty for sourceless specs
	Prefix  string      // install root, created empty
	Env     env.Context // the exact process environment for commands
	Deps    []*Artifact // direct dependencies in declaration order
}

// Options configures an Executor.
type Options struct {
	Root    string // parent directory of install roots
	WorkDir string // staging directory; defaults to os.TempDir()

	Fetcher   Fetcher
	Verifier  Verifier
	Unpacker  Unpacker
	Patcher   Patcher
	Installer Installer

	// PhaseTimeout bounds each phase when positive.
	PhaseTimeout time.Duration

	// Reuse returns an existing install record for the node instead of
	// building it again.
	Reuse bool

	// OnPhase is called as each phase starts.
	OnPhase func(ctx context.Context, node string, phase Phase)

	Now func() time.Time
}

// Executor builds single nodes. It is safe for concurrent use on distinct
// nodes.
type Executor struct {
	opts Options
}

// NewExecutor returns an Executor. Root and Installer are required; the
// other collaborators are only needed by specs that use them.
func NewExecutor(opts Options) (*Executor, error) {
	if opts.Root == "" {
		return nil, errors.New("build: no install root")
	}
	if opts.Installer == nil {
		return nil, errors.New("build: no installer")
	}
	if opts.WorkDir == "" {
		opts.WorkDir = os.TempDir()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Executor{opts: opts}, nil
}

// Execute runs the lifecycle of node with envCtx as its environment and
// deps as the artifacts of its direct dependencies. A failure is returned
// as a *PhaseError.
func (e *Executor) Execute(ctx context.Context, node *graph.Node, envCtx env.Context, deps []*Artifact) (*Artifact, error) {
	root, err := InstallDir(e.opts.Root, node.Spec)
	if err == nil {
		err = os.MkdirAll(e.opts.Root, 0o755)
	}
	if err != nil {
		return nil, &PhaseError{Node: node.ID, Phase: Installing, Err: err}
	}
	unlock, err := lockRoot(root)
	if err != nil {
		return nil, &PhaseError{Node: node.ID, Phase: Installing, Err: err}
	}
	defer unlock()

	// Checked after locking: another process may have just installed it.
	if e.opts.Reuse {
		if a, err := LoadArtifact(root); err == nil && a.ID == node.ID {
			return a, nil
		}
	}

	if err := os.MkdirAll(e.opts.WorkDir, 0o755); err != nil {
		return nil, &PhaseError{Node: node.ID, Phase: Fetching, Err: err}
	}
	stage, err := os.MkdirTemp(e.opts.WorkDir, "lpm-stage-")
	if err != nil {
		return nil, &PhaseError{Node: node.ID, Phase: Fetching, Err: err}
	}
	defer os.RemoveAll(stage)

	j := &job{
		Executor: e,
		node:     node,
		spec:     node.Spec,
		env:      envCtx,
		deps:     deps,
		root:     root,
		stage:    stage,
	}
	if !j.spec.Source.IsZero() {
		if err := j.run(ctx, Fetching, j.fetch); err != nil {
			return nil, err
		}
		if err := j.run(ctx, Verifying, j.verify); err != nil {
			return nil, err
		}
		if err := j.run(ctx, Unpacking, j.unpack); err != nil {
			return nil, err
		}
	}
	if err := j.run(ctx, Patching, j.patch); err != nil {
		return nil, err
	}
	if err := j.run(ctx, Installing, j.install); err != nil {
		return nil, err
	}
	return j.artifact, nil
}

// job is the state of one Execute call.
type job struct {
	*Executor
	node  *graph.Node
	spec  *recipe.Spec
	env   env.Context
	deps  []*Artifact
	root  string
	stage string

	archive  string
	src      string
	artifact *Artifact
}

// run runs one phase under the phase timeout and wraps its failure.
func (j *job) run(ctx context.Context, p Phase, fn func(context.Context) error) error {
	if j.opts.OnPhase != nil {
		j.opts.OnPhase(ctx, j.node.ID, p)
	}
	pctx, cancel := ctx, context.CancelFunc(func() {})
	if d := j.opts.PhaseTimeout; d > 0 {
		pctx, cancel = context.WithTimeoutCause(ctx, d, ErrTimeout)
	}
	defer cancel()

	err := fn(pctx)
	// A phase that ran past its own deadline fails even if the collaborator
	// ignored the context and finished anyway.
	if err == nil && ctx.Err() == nil && context.Cause(pctx) == ErrTimeout {
		err = pctx.Err()
	}
	if err == nil {
		return nil
	}
	if ctx.Err() == nil && pctx.Err() != nil && context.Cause(pctx) == ErrTimeout {
		err = fmt.Errorf("%w after %s: %w", ErrTimeout, j.opts.PhaseTimeout, err)
	}
	return &PhaseError{Node: j.node.ID, Phase: p, Err: err}
}

func (j *job) fetch(ctx context.Context) error {
	if j.opts.Fetcher == nil {
		return errors.New("no fetcher configured")
	}
	dir := filepath.Join(j.stage, "download")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	path, err := j.opts.Fetcher.Fetch(ctx, j.spec.Source, dir)
	if err != nil {
		return err
	}
	j.archive = path
	return nil
}

func (j *job) verify(ctx context.Context) error {
	src := j.spec.Source
	if src.URL == "" {
		return nil // git sources are pinned by ref
	}
	if src.SHA256 == "" {
		return fmt.Errorf("%s: no checksum", src.URL)
	}
	if j.opts.Verifier == nil {
		return errors.New("no verifier configured")
	}
	return j.opts.Verifier.Verify(ctx, j.archive, src.SHA256)
}

func (j *job) unpack(ctx context.Context) error {
	j.src = filepath.Join(j.stage, "src")
	if !j.spec.Source.Expand {
		return stageFile(ctx, j.archive, j.src)
	}
	if j.opts.Unpacker == nil {
		return errors.New("no unpacker configured")
	}
	return j.opts.Unpacker.Unpack(ctx, j.archive, j.src)
}

func (j *job) patch(ctx context.Context) error {
	if len(j.spec.Patches) == 0 {
		return nil
	}
	if j.opts.Patcher == nil {
		return errors.New("no patcher configured")
	}
	if j.src == "" {
		return errors.New("nothing to patch: spec has no source")
	}
	for _, p := range j.spec.Patches {
		rpath := j.expand(p.RPath)
		for _, f := range p.Files {
			if !filepath.IsLocal(f) {
				return fmt.Errorf("patch %s: path escapes the source tree", f)
			}
			if err := j.opts.Patcher.Patch(ctx, filepath.Join(j.src, f), rpath); err != nil {
				return fmt.Errorf("patch %s: %w", f, err)
			}
		}
	}
	return nil
}

func (j *job) install(ctx context.Context) error {
	if err := os.RemoveAll(j.root); err != nil {
		return err
	}
	if err := os.MkdirAll(j.root, 0o755); err != nil {
		return err
	}
	err := j.opts.Installer.Install(ctx, &InstallRequest{
		Spec:    j.spec,
		Archive: j.archive,
		Src:     j.src,
		Prefix:  j.root,
		Env:     j.env,
		Deps:    j.deps,
	})
	if err != nil {
		return err
	}

	exports := make(map[string]string, len(j.spec.Exports)+len(j.spec.Wrappers))
	for k, v := range j.spec.Exports {
		exports[k] = j.expand(v)
	}
	var wrappers map[string]string
	if len(j.spec.Wrappers) > 0 {
		wrappers = make(map[string]string, len(j.spec.Wrappers))
	}
	for k, rel := range j.spec.Wrappers {
		path := filepath.Join(j.root, rel)
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("wrapper %s: %w", k, err)
		}
		wrappers[k] = path
		exports[k] = path
	}

	libDirs := make([]string, len(j.spec.Libs))
	for i, d := range j.spec.Libs {
		libDirs[i] = filepath.Join(j.root, d)
	}
	libs, err := findLibs(libDirs)
	if err != nil {
		return err
	}

	a := &Artifact{
		ID:          j.node.ID,
		Name:        j.spec.Name,
		Version:     j.spec.Version,
		Variants:    maps.Clone(j.spec.Variants),
		Root:        j.root,
		Exports:     exports,
		Wrappers:    wrappers,
		Libs:        libs,
		LibDirs:     libDirs,
		InstalledAt: j.opts.Now(),
	}
	if err := saveArtifact(j.root, a); err != nil {
		return err
	}
	j.artifact = a
	return nil
}

// expand replaces ${prefix} with the install root and other variables with
// values from the environment context.
func (j *job) expand(s string) string {
	return os.Expand(s, func(k string) string {
		if k == "prefix" {
			return j.root
		}
		return j.env.Get(k)
	})
}

// stageFile places src into dir unchanged: a file keeps its name and mode,
// a directory is copied. Copying stops once ctx is done.
func stageFile(ctx context.Context, src, dir string) error {
	fi, err := os.Stat(src)
	if err != nil {
		return err
	}
	if fi.IsDir() {
		return os.CopyFS(dir, os.DirFS(src))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(filepath.Join(dir, filepath.Base(src)), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fi.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, ctxReader{ctx, in}); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// ctxReader fails reads once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (r ctxReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}
