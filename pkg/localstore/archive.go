package localstore

import (
	"archive/tar"
	"bytes"
	"fmt"
	"time"

	"shardfs/pkg/fserrors"
)

type archiveFile struct {
	name string
	open func() ([]byte, error)
}

// buildTar packs files (already in walk order) into one tar stream.
func buildTar(ext string, files []archiveFile) ([]byte, error) {
	if len(files) == 0 {
		return nil, fserrors.Fail(fserrors.KindNotFound, "No .%s files found", ext)
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, f := range files {
		content, err := f.open()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f.name, err)
		}
		hdr := &tar.Header{
			Name:    f.name,
			Mode:    0o644,
			Size:    int64(len(content)),
			ModTime: time.Now(),
			Format:  tar.FormatPAX,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, fmt.Errorf("tar header %s: %w", f.name, err)
		}
		if _, err := tw.Write(content); err != nil {
			return nil, fmt.Errorf("tar write %s: %w", f.name, err)
		}
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("tar close: %w", err)
	}
	return buf.Bytes(), nil
}
