// Package vpath maps client-visible virtual paths onto the storage node
// that owns them. Everything here is pure string work; nothing touches the
// filesystem or the network.
package vpath

import (
	"fmt"
	"strings"

	"shardfs/pkg/fserrors"
)

const separator = "/"

// VirtualPath is a path rooted at a marker ("~S1", "~S2", ...). Segments
// never contain separators, and are never empty, "." or "..".
type VirtualPath struct {
	Root     string
	Segments []string
	// Dir marks a directory path. Its string form keeps the trailing separator.
	Dir bool
}

// Parse parses a file path such as "~S1/docs/report.pdf".
func Parse(root, s string) (VirtualPath, error) {
	p, err := parse(root, s)
	if err != nil {
		return VirtualPath{}, err
	}
	if p.Dir || len(p.Segments) == 0 {
		return VirtualPath{}, fmt.Errorf("%w: %q has no file name", fserrors.ErrMalformedPath, s)
	}
	if _, err := extension(p.Name()); err != nil {
		return VirtualPath{}, fmt.Errorf("%w: %q", err, s)
	}
	return p, nil
}

// ParseDir parses a directory path such as "~S1/docs/" or "~S1".
func ParseDir(root, s string) (VirtualPath, error) {
	p, err := parse(root, s)
	if err != nil {
		return VirtualPath{}, err
	}
	p.Dir = true
	return p, nil
}

func parse(root, s string) (VirtualPath, error) {
	if root == "" {
		return VirtualPath{}, fmt.Errorf("%w: empty root marker", fserrors.ErrMalformedPath)
	}
	if s == root {
		return VirtualPath{Root: root, Dir: true}, nil
	}
	rest, ok := strings.CutPrefix(s, root+separator)
	if !ok {
		return VirtualPath{}, fmt.Errorf("%w: %q must start with %s%s", fserrors.ErrMalformedPath, s, root, separator)
	}

	p := VirtualPath{Root: root}
	if rest == "" {
		p.Dir = true
		return p, nil
	}
	if strings.HasSuffix(rest, separator) {
		p.Dir = true
		rest = strings.TrimSuffix(rest, separator)
	}
	for _, seg := range strings.Split(rest, separator) {
		switch seg {
		case "", ".", "..":
			return VirtualPath{}, fmt.Errorf("%w: %q has an invalid segment %q", fserrors.ErrMalformedPath, s, seg)
		}
		p.Segments = append(p.Segments, seg)
	}
	return p, nil
}

// String renders the path back to its textual form. For any path accepted by
// Parse or ParseDir the result equals the input.
func (p VirtualPath) String() string {
	if len(p.Segments) == 0 {
		return p.Root + separator
	}
	s := p.Root + separator + strings.Join(p.Segments, separator)
	if p.Dir {
		s += separator
	}
	return s
}

// Rel is the path below the root marker, without leading separator.
func (p VirtualPath) Rel() string {
	return strings.Join(p.Segments, separator)
}

// Name is the last segment, or "" for a root directory.
func (p VirtualPath) Name() string {
	if len(p.Segments) == 0 {
		return ""
	}
	return p.Segments[len(p.Segments)-1]
}

// Ext returns the file extension without the dot.
func (p VirtualPath) Ext() string {
	ext, _ := extension(p.Name())
	return ext
}

// Rewrite returns the same logical path under another root marker.
func (p VirtualPath) Rewrite(root string) VirtualPath {
	segs := make([]string, len(p.Segments))
	copy(segs, p.Segments)
	return VirtualPath{Root: root, Segments: segs, Dir: p.Dir}
}

// Join appends a file name to a directory path.
func (p VirtualPath) Join(name string) (VirtualPath, error) {
	if !p.Dir {
		return VirtualPath{}, fmt.Errorf("%w: %q is not a directory", fserrors.ErrMalformedPath, p.String())
	}
	if name == "" || name == "." || name == ".." || strings.Contains(name, separator) {
		return VirtualPath{}, fmt.Errorf("%w: invalid file name %q", fserrors.ErrMalformedPath, name)
	}
	if _, err := extension(name); err != nil {
		return VirtualPath{}, fmt.Errorf("%w: %q", err, name)
	}
	joined := p.Rewrite(p.Root)
	joined.Segments = append(joined.Segments, name)
	joined.Dir = false
	return joined, nil
}

// extension returns what follows the last dot of name: "pdf" for ".pdf",
// "" for "notes.". Only a name without a dot is malformed; an empty
// extension is simply not routed anywhere.
func extension(name string) (string, error) {
	idx := strings.LastIndexByte(name, '.')
	if idx < 0 {
		return "", fmt.Errorf("%w: no file extension", fserrors.ErrMalformedPath)
	}
	return name[idx+1:], nil
}

// ExtOf returns the extension of a bare file name, or "".
func ExtOf(name string) string {
	ext, _ := extension(name)
	return ext
}
