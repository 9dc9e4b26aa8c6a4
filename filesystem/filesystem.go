package filesystem

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

var (
	ErrFileNotFound  = fmt.Errorf("filesystem: file not found")
	ErrForbiddenPath = fmt.Errorf("filesystem: forbidden path")
	ErrReadFailed    = fmt.Errorf("filesystem: read failed")
	ErrInvalidPath   = fmt.Errorf("filesystem: invalid path")
)

// Filesystem gives access to files below a single root directory. Paths
// are slash separated and relative to the root; a single leading slash is
// ignored so request paths can be passed as-is.
type Filesystem interface {
	Root() string
	Resolve(path string) (string, error)

	// ReadFile returns the content of a text file.
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, content []byte) error

	FileExists(path string) (bool, error)
}

type localFileSystem struct {
	root string
}

func NewLocalFileSystem(root string) Filesystem {
	if root == "" {
		root = "."
	}

	return &localFileSystem{root: root}
}

func (filesystem *localFileSystem) Root() string {
	return filesystem.root
}

// Resolve maps path onto the root. Any "." or ".." segment is rejected so
// a resolved path can never leave the root.
func (filesystem *localFileSystem) Resolve(path string) (string, error) {
	relative := strings.TrimPrefix(path, "/")

	for _, segment := range strings.Split(relative, "/") {
		if segment == "." || segment == ".." || strings.Contains(segment, "..") {
			return "", fmt.Errorf("%w: %s", ErrForbiddenPath, path)
		}
		if strings.ContainsRune(segment, 0) || strings.ContainsRune(segment, '\\') {
			return "", fmt.Errorf("%w: %s", ErrInvalidPath, path)
		}
	}

	return filepath.Join(filesystem.root, filepath.FromSlash(relative)), nil
}

func (filesystem *localFileSystem) ReadFile(path string) ([]byte, error) {
	resolved, err := filesystem.Resolve(path)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(resolved)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			slog.Error("closing file error", "error", closeErr)
		}
	}()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrReadFailed, path, err)
	}

	if !utf8.Valid(content) {
		return nil, fmt.Errorf("%w: %s: not a text file", ErrReadFailed, path)
	}

	return content, nil
}

func (filesystem *localFileSystem) WriteFile(path string, content []byte) error {
	resolved, err := filesystem.Resolve(path)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return err
	}

	file, err := os.OpenFile(resolved, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			slog.Error("closing file error", "error", closeErr)
		}
	}()

	if _, err := file.Write(content); err != nil {
		return err
	}

	return file.Sync()
}

func (filesystem *localFileSystem) FileExists(path string) (bool, error) {
	resolved, err := filesystem.Resolve(path)
	if err != nil {
		return false, err
	}

	info, err := os.Stat(resolved)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}

	return !info.IsDir(), nil
}
