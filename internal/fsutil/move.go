package fsutil

import (
	"errors"
	"io"
	"io/fs"
	"os"
)

// ErrExists is returned when a move would replace an existing entry.
var ErrExists = errors.New("destination already exists")

// MoveNoReplace moves src to dst and never overwrites dst. It hardlinks and
// unlinks the source, which fails atomically if dst appears concurrently. If
// linking is not possible (cross-device, unsupported fs) it copies into a file
// created with O_EXCL.
func MoveNoReplace(src, dst string) error {
	err := os.Link(src, dst)
	if err == nil {
		_ = os.Remove(src)
		return nil
	}
	if errors.Is(err, fs.ErrExist) {
		return ErrExists
	}
	if err := copyFileExcl(src, dst); err != nil {
		return err
	}
	_ = os.Remove(src)
	return nil
}

func copyFileExcl(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return ErrExists
		}
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return err
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return err
	}
	return out.Close()
}

// RemoveTree deletes abs recursively. Unlike os.RemoveAll, a missing entry
// is an error.
func RemoveTree(abs string) error {
	if _, err := os.Lstat(abs); err != nil {
		return err
	}
	return os.RemoveAll(abs)
}
