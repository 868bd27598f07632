package build

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goplus/lpm/recipe"
)

// fakeFetcher writes a one-file archive named after the source.
type fakeFetcher struct {
	err   error
	block bool // wait for ctx to be done
	calls int
}

func (f *fakeFetcher) Fetch(ctx context.Context, src recipe.Source, dir string) (string, error) {
	f.calls++
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if f.err != nil {
		return "", f.err
	}
	if src.Git != "" {
		path := filepath.Join(dir, "checkout")
		return path, os.MkdirAll(path, 0o755)
	}
	path := filepath.Join(dir, filepath.Base(src.URL))
	return path, os.WriteFile(path, []byte("archive of "+src.URL), 0o644)
}

type fakeVerifier struct {
	err     error
	delay   time.Duration // sleeps without watching ctx
	digests []string
}

func (v *fakeVerifier) Verify(ctx context.Context, path, digest string) error {
	v.digests = append(v.digests, digest)
	time.Sleep(v.delay)
	return v.err
}

// fakeUnpacker lays out a small release tree.
type fakeUnpacker struct {
	err error
}

func (u *fakeUnpacker) Unpack(ctx context.Context, src, dst string) error {
	if u.err != nil {
		return u.err
	}
	files := map[string]string{
		"lib/liba.so":       "ELF a",
		"lib/liba.so.1":     "ELF a.1",
		"lib/README":        "docs",
		"bin/mpicc":         "#!/bin/sh\n",
		"lib/sub/libsub.so": "ELF sub",
	}
	for name, data := range files {
		path := filepath.Join(dst, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(data), 0o755); err != nil {
			return err
		}
	}
	return nil
}

type patchCall struct {
	file, searchPath string
}

type fakePatcher struct {
	err   error
	calls []patchCall
}

func (p *fakePatcher) Patch(ctx context.Context, file, searchPath string) error {
	p.calls = append(p.calls, patchCall{file, searchPath})
	if p.err != nil {
		return p.err
	}
	_, err := os.Stat(file)
	return err
}

// copyInstaller copies the source tree into the prefix.
type copyInstaller struct {
	mu    sync.Mutex
	err   error
	reqs  []InstallRequest
	extra map[string]string // files written under the prefix
}

func (c *copyInstaller) Install(ctx context.Context, req *InstallRequest) error {
	c.mu.Lock()
	c.reqs = append(c.reqs, *req)
	c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	if req.Src != "" {
		if err := os.CopyFS(req.Prefix, os.DirFS(req.Src)); err != nil {
			return err
		}
	}
	for name, data := range c.extra {
		path := filepath.Join(req.Prefix, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
			return err
		}
	}
	return nil
}

var errBoom = errors.New("boom")
