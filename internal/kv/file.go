package kv

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// File stores each namespace as a JSON file inside a directory.
type File struct {
	dir string
}

// NewFile creates a File store rooted at dir. The directory is created on
// first write.
func NewFile(dir string) *File {
	return &File{dir: dir}
}

func (f *File) path(namespace string) string {
	clean := filepath.Base(strings.ReplaceAll(namespace, string(os.PathSeparator), "_"))
	return filepath.Join(f.dir, clean+".json")
}

func (f *File) Get(namespace string) (string, bool, error) {
	data, err := os.ReadFile(f.path(namespace)) // #nosec G304 -- namespace is sanitized
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to read namespace %s: %w", namespace, err)
	}
	return string(data), true, nil
}

// Set writes through a temp file and rename so a crash never leaves a
// truncated snapshot behind.
func (f *File) Set(namespace, value string) error {
	if err := os.MkdirAll(f.dir, 0700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	target := f.path(namespace)
	tmp, err := os.CreateTemp(f.dir, filepath.Base(target)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.WriteString(value); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to write namespace %s: %w", namespace, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0600); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	return os.Rename(tmp.Name(), target)
}
