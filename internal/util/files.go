package util

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// PathExists reports whether path exists.
func PathExists(path string) bool {
	_, err := os.Lstat(path)

	return err == nil
}

// IsDir reports whether path is a directory.
func IsDir(path string) bool {
	info, err := os.Stat(path)

	return err == nil && info.IsDir()
}

// JoinRoot returns path inside root.
func JoinRoot(root string, path string) string {
	if root == "" || root == "/" {
		return filepath.Clean(path)
	}

	return filepath.Join(root, path)
}

// CopyFile copies src to dst, creating the parent directory and keeping the file mode.
// It returns false without copying when dst exists and overwrite isn't set.
func CopyFile(src string, dst string, overwrite bool) (bool, error) {
	if !overwrite && PathExists(dst) {
		return false, nil
	}

	in, err := os.Open(src) //nolint:gosec
	if err != nil {
		return false, err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return false, err
	}

	if info.IsDir() {
		return false, fmt.Errorf("%q is a directory", src)
	}

	err = os.MkdirAll(filepath.Dir(dst), 0o755)
	if err != nil {
		return false, err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm()) //nolint:gosec
	if err != nil {
		return false, err
	}

	_, err = io.Copy(out, in)
	if err != nil {
		_ = out.Close()

		return false, err
	}

	err = out.Close()
	if err != nil {
		return false, err
	}

	return true, nil
}

// WriteFile writes content to path. It returns false without writing when path exists and
// overwrite isn't set.
func WriteFile(path string, content string, overwrite bool) (bool, error) {
	if !overwrite && PathExists(path) {
		return false, nil
	}

	err := os.WriteFile(path, []byte(content), 0o644) //nolint:gosec
	if err != nil {
		return false, err
	}

	return true, nil
}

// AppendFile appends content to path, creating the file if needed. The parent directory
// must exist.
func AppendFile(path string, content string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644) //nolint:gosec
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.WriteString(content)
	if err != nil {
		return err
	}

	return f.Close()
}

// ListDir returns the names of the entries of dir. A missing directory is empty.
func ListDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}

		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}

	return names, nil
}

// Sync flushes filesystem buffers.
func Sync() {
	unix.Sync()
}
