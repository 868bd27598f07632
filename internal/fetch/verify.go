package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrChecksumMismatch is returned when a file does not match its digest.
var ErrChecksumMismatch = errors.New("checksum mismatch")

// SHA256Verifier checks files against hex SHA-256 digests. Digests may
// carry a "sha256:" prefix and are compared case-insensitively.
type SHA256Verifier struct{}

func (SHA256Verifier) Verify(ctx context.Context, path, digest string) error {
	want := strings.ToLower(strings.TrimPrefix(digest, "sha256:"))
	if len(want) != sha256.Size*2 {
		return fmt.Errorf("malformed sha256 digest %q", digest)
	}
	if _, err := hex.DecodeString(want); err != nil {
		return fmt.Errorf("malformed sha256 digest %q", digest)
	}
	got, err := Sum(ctx, path)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("%w: %s: got %s, want %s", ErrChecksumMismatch, path, got, want)
	}
	return nil
}

// Sum returns the hex SHA-256 digest of the file at path. Hashing stops
// with ctx's error once ctx is done.
func Sum(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, ctxReader{ctx, f}); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
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
