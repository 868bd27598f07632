package archive

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type member struct {
	name, body, link string
	typ              byte
	mode             int64
}

func tarBytes(t *testing.T, members []member) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, m := range members {
		hdr := &tar.Header{Name: m.name, Typeflag: m.typ, Mode: m.mode, Linkname: m.link, Size: int64(len(m.body))}
		if hdr.Typeflag == 0 {
			hdr.Typeflag = tar.TypeReg
		}
		if hdr.Mode == 0 {
			hdr.Mode = 0o644
		}
		if hdr.Typeflag != tar.TypeReg {
			hdr.Size = 0
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if hdr.Typeflag == tar.TypeReg {
			_, err := tw.Write([]byte(m.body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	return buf.Bytes()
}

func writeArchive(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func compress(t *testing.T, format Format, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	var w io.WriteCloser
	switch format {
	case TarGz:
		w = gzip.NewWriter(&buf)
	case TarZst:
		zw, err := zstd.NewWriter(&buf)
		require.NoError(t, err)
		w = zw
	default:
		return data
	}
	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

var release = []member{
	{name: "mpi-2021.1.1/", typ: tar.TypeDir, mode: 0o755},
	{name: "mpi-2021.1.1/bin/mpicc", body: "#!/bin/sh\n", mode: 0o755},
	{name: "mpi-2021.1.1/lib/libmpi.so.12", body: "ELF"},
	{name: "mpi-2021.1.1/lib/libmpi.so", typ: tar.TypeSymlink, link: "libmpi.so.12"},
	{name: "mpi-2021.1.1/lib/libmpi_hard.so", typ: tar.TypeLink, link: "mpi-2021.1.1/lib/libmpi.so.12"},
}

func TestUnpack_Tarballs(t *testing.T) {
	tests := []struct {
		name   string
		format Format
	}{
		{"mpi.tar", Tar},
		{"mpi.tar.gz", TarGz},
		{"mpi.tgz", TarGz},
		{"mpi.tar.zst", TarZst},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.format, Detect(tt.name))
			src := writeArchive(t, tt.name, compress(t, tt.format, tarBytes(t, release)))
			dst := filepath.Join(t.TempDir(), "src")

			require.NoError(t, Unpacker{}.Unpack(context.Background(), src, dst))

			data, err := os.ReadFile(filepath.Join(dst, "lib", "libmpi.so"))
			require.NoError(t, err, "top-level directory is stripped and symlinks resolve")
			assert.Equal(t, "ELF", string(data))
			link, err := os.Readlink(filepath.Join(dst, "lib", "libmpi.so"))
			require.NoError(t, err)
			assert.Equal(t, "libmpi.so.12", link)
			assert.FileExists(t, filepath.Join(dst, "lib", "libmpi_hard.so"))

			fi, err := os.Stat(filepath.Join(dst, "bin", "mpicc"))
			require.NoError(t, err)
			assert.Equal(t, os.FileMode(0o755), fi.Mode().Perm())
			assert.NoDirExists(t, dst+".unpack")
		})
	}
}

func TestUnpack_KeepTopDir(t *testing.T) {
	src := writeArchive(t, "mpi.tar", tarBytes(t, release))
	dst := filepath.Join(t.TempDir(), "src")
	require.NoError(t, Unpacker{KeepTopDir: true}.Unpack(context.Background(), src, dst))
	assert.FileExists(t, filepath.Join(dst, "mpi-2021.1.1", "lib", "libmpi.so.12"))
}

func TestUnpack_SeveralTopEntries(t *testing.T) {
	src := writeArchive(t, "flat.tar.gz", compress(t, TarGz, tarBytes(t, []member{
		{name: "README", body: "hi"},
		{name: "lib/liba.so", body: "ELF"},
	})))
	dst := filepath.Join(t.TempDir(), "src")
	require.NoError(t, Unpacker{}.Unpack(context.Background(), src, dst))
	assert.FileExists(t, filepath.Join(dst, "README"))
	assert.FileExists(t, filepath.Join(dst, "lib", "liba.so"))
}

func TestUnpack_Zip(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("patchelf-0.17.2/bin/patchelf")
	require.NoError(t, err)
	_, err = w.Write([]byte("ELF"))
	require.NoError(t, err)
	_, err = zw.Create("patchelf-0.17.2/share/")
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	src := writeArchive(t, "patchelf.zip", buf.Bytes())
	dst := filepath.Join(t.TempDir(), "src")
	require.NoError(t, Unpacker{}.Unpack(context.Background(), src, dst))
	data, err := os.ReadFile(filepath.Join(dst, "bin", "patchelf"))
	require.NoError(t, err)
	assert.Equal(t, "ELF", string(data))
	assert.DirExists(t, filepath.Join(dst, "share"))
}

func TestUnpack_Raw(t *testing.T) {
	src := writeArchive(t, "l_mpi_offline.sh", []byte("#!/bin/sh\n"))
	dst := filepath.Join(t.TempDir(), "src")
	require.NoError(t, Unpacker{}.Unpack(context.Background(), src, dst))
	data, err := os.ReadFile(filepath.Join(dst, "l_mpi_offline.sh"))
	require.NoError(t, err)
	assert.Equal(t, "#!/bin/sh\n", string(data))
}

func TestUnpack_Directory(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, ".git"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, ".git", "HEAD"), []byte("ref"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "configure"), []byte("#!/bin/sh\n"), 0o755))

	dst := filepath.Join(t.TempDir(), "src")
	require.NoError(t, Unpacker{}.Unpack(context.Background(), src, dst))
	assert.FileExists(t, filepath.Join(dst, "configure"))
	assert.NoDirExists(t, filepath.Join(dst, ".git"))
}

func TestUnpack_Unsafe(t *testing.T) {
	tests := []struct {
		name    string
		members []member
	}{
		{"parent", []member{{name: "../evil", body: "x"}}},
		{"nested parent", []member{{name: "a/../../evil", body: "x"}}},
		{"absolute", []member{{name: "/etc/evil", body: "x"}}},
		{"symlink out", []member{{name: "a/link", typ: tar.TypeSymlink, link: "../../etc/passwd"}}},
		{"absolute symlink", []member{{name: "link", typ: tar.TypeSymlink, link: "/etc/passwd"}}},
		{"hard link out", []member{{name: "link", typ: tar.TypeLink, link: "../etc/passwd"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := writeArchive(t, "evil.tar", tarBytes(t, tt.members))
			parent := t.TempDir()
			err := Unpacker{}.Unpack(context.Background(), src, filepath.Join(parent, "src"))
			require.Error(t, err)
			entries, _ := os.ReadDir(parent)
			assert.Empty(t, entries, "nothing is left behind")
		})
	}
}

func TestUnpack_SymlinkThroughSymlink(t *testing.T) {
	// d/a points back at top, so d/a/s is created in top and its target,
	// which looks local from d/a, resolves two levels above the tree.
	members := []member{
		{name: "top/d/", typ: tar.TypeDir},
		{name: "top/d/a", typ: tar.TypeSymlink, link: ".."},
		{name: "top/d/a/s", typ: tar.TypeSymlink, link: "../../../outside.txt"},
		{name: "top/d/a/s", body: "pwned"},
	}
	src := writeArchive(t, "evil.tar", tarBytes(t, members))
	base := t.TempDir()
	stage := filepath.Join(base, "stage")
	require.NoError(t, os.Mkdir(stage, 0o755))

	err := Unpacker{}.Unpack(context.Background(), src, filepath.Join(stage, "src"))
	require.Error(t, err)
	assert.NoFileExists(t, filepath.Join(base, "outside.txt"))
	entries, _ := os.ReadDir(stage)
	assert.Empty(t, entries, "nothing is left behind")
}

func TestUnpack_WriteThroughInternalLink(t *testing.T) {
	// Files may still be written through links that stay in the tree.
	members := []member{
		{name: "top/d/", typ: tar.TypeDir},
		{name: "top/d/a", typ: tar.TypeSymlink, link: ".."},
		{name: "top/d/a/f", body: "inside"},
	}
	src := writeArchive(t, "ok.tar", tarBytes(t, members))
	dst := filepath.Join(t.TempDir(), "src")
	require.NoError(t, Unpacker{}.Unpack(context.Background(), src, dst))

	data, err := os.ReadFile(filepath.Join(dst, "f"))
	require.NoError(t, err)
	assert.Equal(t, "inside", string(data))
}

func TestUnpack_Cancelled(t *testing.T) {
	src := writeArchive(t, "mpi.tar", tarBytes(t, release))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Unpacker{}.Unpack(ctx, src, filepath.Join(t.TempDir(), "src"))
	require.ErrorIs(t, err, context.Canceled)
}

func TestUnpack_Corrupt(t *testing.T) {
	src := writeArchive(t, "bad.tar.gz", []byte("not gzip"))
	err := Unpacker{}.Unpack(context.Background(), src, filepath.Join(t.TempDir(), "src"))
	require.Error(t, err)
}

func TestDetect(t *testing.T) {
	for name, want := range map[string]Format{
		"a.TAR.GZ":  TarGz,
		"a.tzst":    TarZst,
		"a.zip":     Zip,
		"a.sh":      Raw,
		"a.tar.bz2": Raw,
	} {
		assert.Equal(t, want, Detect(name), name)
	}
	assert.Equal(t, "tar.zst", TarZst.String())
}
