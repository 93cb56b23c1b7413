package localstore

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// FSStore keeps files under a root directory.
type FSStore struct {
	root string
}

// NewFS creates the root directory if needed.
func NewFS(root string) (*FSStore, error) {
	if root == "" {
		return nil, fmt.Errorf("empty store root")
	}
	root = filepath.Clean(root)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create store root %s: %w", root, err)
	}
	return &FSStore{root: root}, nil
}

func (s *FSStore) Root() string { return s.root }

func (s *FSStore) full(rel string) (string, error) {
	rel, err := cleanRel(rel)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(rel)), nil
}

func (s *FSStore) Write(rel string, content []byte) error {
	p, err := s.full(rel)
	if err != nil {
		return err
	}
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return mapFSError(fmt.Errorf("create dirs for %s: %w", rel, err))
	}

	tmp, err := os.CreateTemp(dir, tempPrefix+"*.tmp")
	if err != nil {
		return mapFSError(fmt.Errorf("create temp for %s: %w", rel, err))
	}
	tmpName := tmp.Name()
	// on any failure the temp file goes, the target is untouched
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", rel, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", rel, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", rel, err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		return mapFSError(fmt.Errorf("rename %s: %w", rel, err))
	}
	committed = true
	return nil
}

func (s *FSStore) Read(rel string) ([]byte, error) {
	p, err := s.full(rel)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(p)
	if err != nil {
		return nil, mapFSError(err)
	}
	if !info.Mode().IsRegular() {
		return nil, errFileNotFound
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return nil, mapFSError(err)
	}
	return b, nil
}

func (s *FSStore) Delete(rel string) error {
	p, err := s.full(rel)
	if err != nil {
		return err
	}
	info, err := os.Lstat(p)
	if err != nil {
		return mapFSError(err)
	}
	if info.IsDir() {
		return errFileNotFound
	}
	return mapFSError(os.Remove(p))
}

func (s *FSStore) List(dir, ext string) ([]string, error) {
	p, err := s.full(dir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(p)
	if err != nil {
		if mapped := mapFSError(err); mapped == errFileNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if !e.Type().IsRegular() || !hasExt(e.Name(), ext) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (s *FSStore) BuildArchive(ext string) ([]byte, error) {
	var files []archiveFile
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() || !hasExt(d.Name(), ext) {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		files = append(files, archiveFile{name: filepath.ToSlash(rel), open: func() ([]byte, error) {
			return os.ReadFile(p)
		}})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", s.root, err)
	}
	return buildTar(ext, files)
}
