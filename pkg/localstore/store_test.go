package localstore

import (
	"archive/tar"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"shardfs/pkg/fserrors"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	fsStore, err := NewFS(filepath.Join(t.TempDir(), "S1"))
	require.NoError(t, err)
	return map[string]Store{"fs": fsStore, "mem": NewMem()}
}

func TestStoreRoundTrip(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			for _, content := range [][]byte{{}, []byte("a\x00b\x00"), bytes.Repeat([]byte{0xfe}, 70_000)} {
				require.NoError(t, s.Write("docs/sub/file.c", content))
				got, err := s.Read("docs/sub/file.c")
				require.NoError(t, err)
				require.Equal(t, len(content), len(got))
				require.True(t, bytes.Equal(content, got))
			}
		})
	}
}

func TestDeleteTwiceIsNotFound(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Write("x.c", []byte("x")))
			require.NoError(t, s.Delete("x.c"))
			require.ErrorIs(t, s.Delete("x.c"), fserrors.ErrNotFound)

			_, err := s.Read("x.c")
			require.ErrorIs(t, err, fserrors.ErrNotFound)
		})
	}
}

func TestListIsSingleLevelAndFiltered(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			for _, p := range []string{"b.c", "a.c", "notes.txt", "sub/deep.c", "sub/deeper/z.c"} {
				require.NoError(t, s.Write(p, []byte(p)))
			}

			names, err := s.List("", "c")
			require.NoError(t, err)
			require.Equal(t, []string{"a.c", "b.c"}, names)

			names, err = s.List("sub", "c")
			require.NoError(t, err)
			require.Equal(t, []string{"deep.c"}, names)

			names, err = s.List("missing", "c")
			require.NoError(t, err)
			require.Empty(t, names)
		})
	}
}

func TestBuildArchive(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.BuildArchive("c")
			require.ErrorIs(t, err, fserrors.ErrNotFound)

			require.NoError(t, s.Write("a.c", []byte("A")))
			require.NoError(t, s.Write("sub/b.c", []byte("BB")))
			require.NoError(t, s.Write("sub/skip.txt", []byte("no")))

			raw, err := s.BuildArchive("c")
			require.NoError(t, err)

			got := map[string]string{}
			tr := tar.NewReader(bytes.NewReader(raw))
			for {
				hdr, err := tr.Next()
				if err == io.EOF {
					break
				}
				require.NoError(t, err)
				b, err := io.ReadAll(tr)
				require.NoError(t, err)
				got[hdr.Name] = string(b)
			}
			require.Equal(t, map[string]string{"a.c": "A", "sub/b.c": "BB"}, got)
		})
	}
}

func TestRejectsEscapingPaths(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.ErrorIs(t, s.Write("../evil.c", []byte("x")), fserrors.ErrMalformedPath)
			require.ErrorIs(t, s.Write("/abs.c", []byte("x")), fserrors.ErrMalformedPath)
		})
	}
}

func TestFSWriteLeavesNoTempFiles(t *testing.T) {
	root := filepath.Join(t.TempDir(), "S2")
	s, err := NewFS(root)
	require.NoError(t, err)

	require.NoError(t, s.Write("docs/a.pdf", []byte("one")))
	require.NoError(t, s.Write("docs/a.pdf", []byte("two")))

	entries, err := os.ReadDir(filepath.Join(root, "docs"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "a.pdf", entries[0].Name())

	got, err := s.Read("docs/a.pdf")
	require.NoError(t, err)
	require.Equal(t, "two", string(got))
}

func TestFSDeleteDirectoryIsNotFound(t *testing.T) {
	s, err := NewFS(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.Write("dir/a.c", nil))

	require.ErrorIs(t, s.Delete("dir"), fserrors.ErrNotFound)
	_, err = s.Read("dir")
	require.ErrorIs(t, err, fserrors.ErrNotFound)
}

func TestDotFileCarriesExtension(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Write("docs/.pdf", []byte("x")))
			require.NoError(t, s.Write("docs/a.pdf", []byte("y")))

			names, err := s.List("docs", "pdf")
			require.NoError(t, err)
			require.Equal(t, []string{".pdf", "a.pdf"}, names)
		})
	}
}
