// Package fetch downloads release sources and verifies their digests.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/goplus/lpm/internal/vcs"
	"github.com/goplus/lpm/recipe"
)

// Transport fetches recipe sources over http(s), from local files and from
// git repositories.
type Transport struct {
	client *http.Client
	vcs    vcs.VCS
}

// Option configures a Transport.
type Option func(*Transport)

// WithHTTPClient sets the HTTP client used for http and https sources.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Transport) {
		t.client = c
	}
}

// WithVCS sets the version control backend used for git sources.
func WithVCS(v vcs.VCS) Option {
	return func(t *Transport) {
		t.vcs = v
	}
}

// NewTransport returns a Transport with a default HTTP client and git.
func NewTransport(opts ...Option) *Transport {
	t := &Transport{
		client: &http.Client{Timeout: 30 * time.Minute},
		vcs:    vcs.NewGitVCS(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Fetch places src into dir and returns the path of the downloaded file,
// or of the checkout directory for git sources.
func (t *Transport) Fetch(ctx context.Context, src recipe.Source, dir string) (string, error) {
	if src.Git != "" {
		dest := filepath.Join(dir, "checkout")
		if err := t.vcs.Sync(ctx, src.Git, src.Ref, dest); err != nil {
			return "", err
		}
		return dest, nil
	}
	if src.URL == "" {
		return "", errors.New("source has no url")
	}
	u, err := url.Parse(src.URL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http", "https":
		return t.download(ctx, u, dir)
	case "file":
		return copyFile(ctx, u.Path, dir)
	case "":
		return copyFile(ctx, src.URL, dir)
	}
	return "", fmt.Errorf("%s: unsupported scheme %q", src.URL, u.Scheme)
}

func (t *Transport) download(ctx context.Context, u *url.URL, dir string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("GET %s: %s", u, resp.Status)
	}

	name := path.Base(u.Path)
	if name == "/" || name == "." {
		name = "download"
	}
	dest := filepath.Join(dir, name)
	return dest, writeFile(dest, resp.Body, 0o644)
}

func copyFile(ctx context.Context, src, dir string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return "", err
	}
	if fi.IsDir() {
		return "", fmt.Errorf("%s is a directory", src)
	}
	dest := filepath.Join(dir, filepath.Base(src))
	return dest, writeFile(dest, f, fi.Mode().Perm())
}

func writeFile(dest string, r io.Reader, perm os.FileMode) error {
	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
