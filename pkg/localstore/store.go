// Package localstore is the physical file storage behind a node: the
// router's own files and each storage node's files. Paths handed in are
// relative ("docs/report.pdf") and already validated by vpath.
package localstore

import (
	"errors"
	"io/fs"
	"path"
	"strings"

	"shardfs/pkg/fserrors"
)

// Store is the interface the core uses to reach files on disk.
type Store interface {
	// Write replaces the file at rel with content. Parent directories are
	// created. The replacement is atomic: readers see old or new content.
	Write(rel string, content []byte) error
	// Read returns the whole file, or a NotFound failure.
	Read(rel string) ([]byte, error)
	// Delete removes the file; NotFound or PermissionDenied failures.
	Delete(rel string) error
	// List returns the names of regular files directly inside dir whose
	// extension is ext, sorted. A missing directory lists as empty.
	List(dir, ext string) ([]string, error)
	// BuildArchive returns a tar stream of every file with extension ext.
	BuildArchive(ext string) ([]byte, error)
}

const tempPrefix = ".shardfs-"

var (
	errFileNotFound     = fserrors.Fail(fserrors.KindNotFound, "File not found")
	errPermissionDenied = fserrors.Fail(fserrors.KindPermissionDenied, "Permission denied")
)

// cleanRel rejects anything that would escape the store root.
func cleanRel(rel string) (string, error) {
	if rel == "" {
		return "", nil
	}
	if path.IsAbs(rel) || !fs.ValidPath(rel) {
		return "", fserrors.Fail(fserrors.KindMalformedPath, "invalid path %q", rel)
	}
	return rel, nil
}

func hasExt(name, ext string) bool {
	return !strings.HasPrefix(name, tempPrefix) && strings.HasSuffix(name, "."+ext)
}

// mapFSError turns os errors into the failure kinds relayed to clients.
func mapFSError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fs.ErrNotExist):
		return errFileNotFound
	case errors.Is(err, fs.ErrPermission):
		return errPermissionDenied
	default:
		return err
	}
}
