// Package archive unpacks release archives into a source tree.
package archive

import (
	"archive/tar"
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Format is an archive format, recognised by file name.
type Format int

const (
	Raw Format = iota // not an archive; copied as is
	Tar
	TarGz
	TarZst
	Zip
)

var formatNames = [...]string{
	Raw:    "raw",
	Tar:    "tar",
	TarGz:  "tar.gz",
	TarZst: "tar.zst",
	Zip:    "zip",
}

func (f Format) String() string {
	if f >= 0 && int(f) < len(formatNames) {
		return formatNames[f]
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

// Detect returns the format of the archive named name.
func Detect(name string) Format {
	name = strings.ToLower(name)
	switch {
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		return TarGz
	case strings.HasSuffix(name, ".tar.zst"), strings.HasSuffix(name, ".tzst"):
		return TarZst
	case strings.HasSuffix(name, ".tar"):
		return Tar
	case strings.HasSuffix(name, ".zip"):
		return Zip
	}
	return Raw
}

// Unpacker extracts archives. The zero value strips a single top-level
// directory, the usual layout of release tarballs.
type Unpacker struct {
	KeepTopDir bool
}

// Unpack extracts src into dst, which must not exist yet. A directory src
// is copied without its .git metadata; a file that is not a recognised
// archive is copied into dst unchanged.
func (u Unpacker) Unpack(ctx context.Context, src, dst string) error {
	fi, err := os.Stat(src)
	if err != nil {
		return err
	}
	if fi.IsDir() {
		if err := os.CopyFS(dst, os.DirFS(src)); err != nil {
			return err
		}
		return os.RemoveAll(filepath.Join(dst, ".git"))
	}

	format := Detect(src)
	if format == Raw {
		return copyRaw(src, dst, fi.Mode().Perm())
	}

	tmp := dst + ".unpack"
	if err := os.RemoveAll(tmp); err != nil {
		return err
	}
	if err := os.MkdirAll(tmp, 0o755); err != nil {
		return err
	}
	defer os.RemoveAll(tmp)

	root, err := os.OpenRoot(tmp)
	if err != nil {
		return err
	}
	switch format {
	case Zip:
		err = extractZip(ctx, src, root)
	default:
		err = extractTarFile(ctx, src, root, format)
	}
	root.Close()
	if err != nil {
		return fmt.Errorf("unpack %s: %w", filepath.Base(src), err)
	}

	top := tmp
	if !u.KeepTopDir {
		top, err = topDir(tmp)
		if err != nil {
			return err
		}
	}
	return os.Rename(top, dst)
}

// topDir returns the only entry of dir if it is a directory, else dir.
func topDir(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	if len(entries) == 1 && entries[0].IsDir() {
		return filepath.Join(dir, entries[0].Name()), nil
	}
	return dir, nil
}

func copyRaw(src, dst string, perm os.FileMode) error {
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	return writeFile(filepath.Join(dst, filepath.Base(src)), in, perm)
}

func extractTarFile(ctx context.Context, src string, root *os.Root, format Format) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	var r io.Reader = f
	switch format {
	case TarGz:
		zr, err := gzip.NewReader(f)
		if err != nil {
			return err
		}
		defer zr.Close()
		r = zr
	case TarZst:
		zr, err := zstd.NewReader(f)
		if err != nil {
			return err
		}
		defer zr.Close()
		r = zr
	}
	return extractTar(ctx, tar.NewReader(r), root)
}

// extractTar writes the members of tr below root. Files and directories
// are created through root, so no member can be written through a link
// that leads out of it. Links are only created in directories reached
// without following another link.
func extractTar(ctx context.Context, tr *tar.Reader, root *os.Root) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		name, ok, err := localName(hdr.Name)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := mkdirAll(root, name); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := mkdirAll(root, filepath.Dir(name)); err != nil {
				return err
			}
			if err := writeRootFile(root, name, tr, hdr.FileInfo().Mode().Perm()); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if filepath.IsAbs(hdr.Linkname) || !filepath.IsLocal(filepath.Join(filepath.Dir(name), hdr.Linkname)) {
				return fmt.Errorf("%s: symlink to %s leaves the archive", hdr.Name, hdr.Linkname)
			}
			if err := linkParent(root, name); err != nil {
				return err
			}
			if err := os.Symlink(hdr.Linkname, filepath.Join(root.Name(), name)); err != nil {
				return err
			}
		case tar.TypeLink:
			old, ok, err := localName(hdr.Linkname)
			if err != nil || !ok {
				return fmt.Errorf("%s: bad hard link to %s", hdr.Name, hdr.Linkname)
			}
			// Lstat through root fails if old is only reachable through a
			// link that leaves it.
			if _, err := root.Lstat(old); err != nil {
				return fmt.Errorf("%s: hard link to %s: %w", hdr.Name, hdr.Linkname, err)
			}
			if err := linkParent(root, name); err != nil {
				return err
			}
			if err := os.Link(filepath.Join(root.Name(), old), filepath.Join(root.Name(), name)); err != nil {
				return err
			}
		}
	}
}

func extractZip(ctx context.Context, src string, root *os.Root) error {
	zr, err := zip.OpenReader(src)
	if err != nil {
		return err
	}
	defer zr.Close()
	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		name, ok, err := localName(f.Name)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if f.FileInfo().IsDir() {
			if err := mkdirAll(root, name); err != nil {
				return err
			}
			continue
		}
		if err := mkdirAll(root, filepath.Dir(name)); err != nil {
			return err
		}
		rc, err := f.Open()
		if err != nil {
			return err
		}
		err = writeRootFile(root, name, rc, f.Mode().Perm())
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// mkdirAll creates the local directory name and its parents below root.
func mkdirAll(root *os.Root, name string) error {
	if name == "." {
		return nil
	}
	dir := ""
	for _, elem := range strings.Split(name, string(filepath.Separator)) {
		dir = filepath.Join(dir, elem)
		if err := root.Mkdir(dir, 0o755); err != nil && !errors.Is(err, fs.ErrExist) {
			return err
		}
	}
	return nil
}

// linkParent creates the parent directories of the link name and checks
// that each of them is a real directory, not a link to one.
func linkParent(root *os.Root, name string) error {
	parent := filepath.Dir(name)
	if err := mkdirAll(root, parent); err != nil {
		return err
	}
	if parent == "." {
		return nil
	}
	dir := ""
	for _, elem := range strings.Split(parent, string(filepath.Separator)) {
		dir = filepath.Join(dir, elem)
		fi, err := root.Lstat(dir)
		if err != nil {
			return err
		}
		if !fi.IsDir() {
			return fmt.Errorf("%s: link below %s, which is not a directory", name, dir)
		}
	}
	return nil
}

func writeRootFile(root *os.Root, name string, r io.Reader, perm os.FileMode) error {
	if perm == 0 {
		perm = 0o644
	}
	out, err := root.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// localName converts an archive member name to a local relative path. ok
// is false for the archive root itself.
func localName(name string) (local string, ok bool, err error) {
	local = filepath.Clean(filepath.FromSlash(name))
	if local == "." {
		return "", false, nil
	}
	if !filepath.IsLocal(local) {
		return "", false, fmt.Errorf("%s: path leaves the archive", name)
	}
	return local, true, nil
}

func writeFile(path string, r io.Reader, perm os.FileMode) error {
	if perm == 0 {
		perm = 0o644
	}
	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
