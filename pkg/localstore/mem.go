package localstore

import (
	"path"
	"strings"

	"github.com/zhangyunhao116/skipmap"
)

// MemStore keeps files in an ordered concurrent map keyed by relative path.
// Used by tests and by nodes started with an in-memory backend.
type MemStore struct {
	files *skipmap.FuncMap[string, []byte]
}

func NewMem() *MemStore {
	return &MemStore{
		files: skipmap.NewFunc[string, []byte](func(a, b string) bool {
			return a < b
		}),
	}
}

func (m *MemStore) Write(rel string, content []byte) error {
	rel, err := cleanRel(rel)
	if err != nil {
		return err
	}
	if rel == "" {
		return errFileNotFound
	}
	stored := make([]byte, len(content))
	copy(stored, content)
	m.files.Store(rel, stored)
	return nil
}

func (m *MemStore) Read(rel string) ([]byte, error) {
	v, ok := m.files.Load(rel)
	if !ok {
		return nil, errFileNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *MemStore) Delete(rel string) error {
	if _, ok := m.files.LoadAndDelete(rel); !ok {
		return errFileNotFound
	}
	return nil
}

func (m *MemStore) List(dir, ext string) ([]string, error) {
	dir, err := cleanRel(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	m.files.Range(func(key string, _ []byte) bool {
		if path.Dir(key) != orDot(dir) {
			return true
		}
		if name := path.Base(key); hasExt(name, ext) {
			names = append(names, name)
		}
		return true
	})
	// keys are path-ordered, so names within one directory are already sorted
	return names, nil
}

func (m *MemStore) BuildArchive(ext string) ([]byte, error) {
	var files []archiveFile
	m.files.Range(func(key string, v []byte) bool {
		if hasExt(path.Base(key), ext) {
			content := v
			files = append(files, archiveFile{name: key, open: func() ([]byte, error) { return content, nil }})
		}
		return true
	})
	return buildTar(ext, files)
}

// Len is the number of stored files.
func (m *MemStore) Len() int {
	return m.files.Len()
}

func orDot(dir string) string {
	dir = strings.TrimSuffix(dir, "/")
	if dir == "" {
		return "."
	}
	return dir
}
