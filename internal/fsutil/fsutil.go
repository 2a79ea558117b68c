package fsutil

import (
	"errors"
	"path"
	"path/filepath"
	"strings"
)

// ErrNotManaged is the only error the guard reports: the href escapes the
// root, names a hidden entry (or lies below one), or crosses a symlink that
// is not allowed.
var ErrNotManaged = errors.New("not managed or hidden")

// CleanRelPath takes a user path like "", ".", "/a/b", "a//b", "a/../b" and
// returns a safe, slash-based, no-leading-slash relative path ("" means root).
// Parent segments are collapsed before anything else looks at the path.
// Whitespace is part of a name and is kept.
func CleanRelPath(p string) string {
	if p == "" || p == "." || p == "/" {
		return ""
	}
	p = strings.ReplaceAll(p, "\\", "/")
	p = path.Clean("/" + p) // force absolute for stable cleaning
	p = strings.TrimPrefix(p, "/")
	if p == "." {
		return ""
	}
	return p
}

// JoinWithinRoot returns an absolute filesystem path under root for a given rel
// path. It rejects escapes (..).
func JoinWithinRoot(rootAbs string, rel string) (string, error) {
	rel = CleanRelPath(rel)
	if rel == "" {
		return filepath.Clean(rootAbs), nil
	}
	if strings.Contains(rel, "\x00") {
		return "", ErrNotManaged
	}
	abs := filepath.Join(rootAbs, filepath.FromSlash(rel))
	if !within(filepath.Clean(rootAbs), abs) {
		return "", ErrNotManaged
	}
	return abs, nil
}

// JoinRel joins a parent rel path and a child name.
func JoinRel(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}

// SplitRel splits rel into its parent rel path and base name.
// The root has no parent: SplitRel("") returns ("", "").
func SplitRel(rel string) (parent, name string) {
	rel = CleanRelPath(rel)
	if rel == "" {
		return "", ""
	}
	i := strings.LastIndexByte(rel, '/')
	if i < 0 {
		return "", rel
	}
	return rel[:i], rel[i+1:]
}

func within(root, p string) bool {
	return p == root || strings.HasPrefix(p, root+string(filepath.Separator))
}
