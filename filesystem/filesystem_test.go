package filesystem

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLocalFileSystem(t *testing.T) {
	tempDir := t.TempDir()
	fs := NewLocalFileSystem(tempDir)

	// Test WriteFile creates missing directories
	content := []byte("Hello, World!")
	if err := fs.WriteFile("docs/test.txt", content); err != nil {
		t.Errorf("WriteFile failed: %v", err)
	}

	// Test FileExists
	exists, err := fs.FileExists("/docs/test.txt")
	if err != nil {
		t.Errorf("FileExists failed: %v", err)
	}
	if !exists {
		t.Error("File should exist")
	}

	// Test ReadFile with a request style path
	readContent, err := fs.ReadFile("/docs/test.txt")
	if err != nil {
		t.Errorf("ReadFile failed: %v", err)
	}
	if string(readContent) != string(content) {
		t.Errorf("Expected %s, got %s", content, readContent)
	}

	// Test FileExists on a directory
	exists, err = fs.FileExists("/docs")
	if err != nil {
		t.Errorf("FileExists failed: %v", err)
	}
	if exists {
		t.Error("Directory should not count as a file")
	}

	// Test FileExists on a missing file
	exists, err = fs.FileExists("/missing.txt")
	if err != nil {
		t.Errorf("FileExists failed: %v", err)
	}
	if exists {
		t.Error("File should not exist")
	}
}

func TestResolve(t *testing.T) {
	fs := NewLocalFileSystem("/srv/www")

	resolved, err := fs.Resolve("/css/site.css")
	if err != nil {
		t.Fatal(err)
	}
	if expected := filepath.Join("/srv/www", "css", "site.css"); resolved != expected {
		t.Errorf("Expected %s, got %s", expected, resolved)
	}

	forbidden := []string{
		"/../etc/passwd",
		"/./secret",
		"/a/../../b",
		"/a/./b",
		"..",
		"/files/..hidden",
	}
	for _, path := range forbidden {
		if _, err := fs.Resolve(path); !errors.Is(err, ErrForbiddenPath) {
			t.Errorf("%s: expected ErrForbiddenPath, got %v", path, err)
		}
	}

	if _, err := fs.Resolve("/a\\b"); !errors.Is(err, ErrInvalidPath) {
		t.Errorf("expected ErrInvalidPath, got %v", err)
	}
}

func TestReadFileErrors(t *testing.T) {
	tempDir := t.TempDir()
	fs := NewLocalFileSystem(tempDir)

	if _, err := fs.ReadFile("/nope.html"); !errors.Is(err, ErrFileNotFound) {
		t.Errorf("expected ErrFileNotFound, got %v", err)
	}

	if err := os.Mkdir(filepath.Join(tempDir, "dir"), 0o755); err != nil {
		t.Fatal(err)
	}
	if _, err := fs.ReadFile("/dir"); !errors.Is(err, ErrReadFailed) {
		t.Errorf("expected ErrReadFailed for directory, got %v", err)
	}

	if err := os.WriteFile(filepath.Join(tempDir, "blob.bin"), []byte{0xff, 0xfe, 0x00}, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := fs.ReadFile("/blob.bin"); !errors.Is(err, ErrReadFailed) {
		t.Errorf("expected ErrReadFailed for binary file, got %v", err)
	}
}

func TestDefaultRoot(t *testing.T) {
	fs := NewLocalFileSystem("")

	if fs.Root() != "." {
		t.Errorf("Expected root ., got %s", fs.Root())
	}
}
