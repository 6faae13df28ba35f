package fileutils

import (
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// WriteFileAtomic writes to a temporary file next to dest and moves it into
// place once complete. Missing parent directories are created.
func WriteFileAtomic(dest string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return errors.WithStack(err)
	}
	tmp := dest + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		os.Remove(tmp)
		return errors.WithStack(err)
	}
	if err := MoveFile(tmp, dest); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// MoveFile renames src to dst, falling back to copy and delete when they are
// on different filesystems. An existing dst is replaced.
func MoveFile(src, dst string) error {
	// Try a simple rename first
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}

	err = copyFile(src, dst)
	if err != nil {
		return errors.WithStack(err)
	}

	// Remove the source file only after successful copy
	err = os.Remove(src)
	if err != nil {
		os.Remove(dst)
		return errors.WithStack(err)
	}

	return nil
}

func copyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return errors.WithStack(err)
	}
	defer sourceFile.Close()

	sourceInfo, err := sourceFile.Stat()
	if err != nil {
		return errors.WithStack(err)
	}
	if sourceInfo.IsDir() {
		return errors.Errorf("%s is a directory", src)
	}

	destFile, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, sourceInfo.Mode().Perm())
	if err != nil {
		return errors.WithStack(err)
	}

	if _, err := io.Copy(destFile, sourceFile); err != nil {
		destFile.Close()
		return errors.WithStack(err)
	}

	return errors.WithStack(destFile.Close())
}

// Exists reports whether path names an existing file or directory.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
