// Package dump persists raw request bytes for the dump-request mode.
package dump

import (
	"context"
	"path/filepath"

	"github.com/freekieb7/quarry/filesystem"
)

// DefaultPath is where FileSink writes when no path is configured.
const DefaultPath = "./request.binary"

// Sink stores the most recent raw request.
type Sink interface {
	Store(ctx context.Context, raw []byte) error
}

// FileSink overwrites a single local file with every request.
type FileSink struct {
	fs   filesystem.Filesystem
	name string
}

func NewFileSink(path string) *FileSink {
	if path == "" {
		path = DefaultPath
	}

	return &FileSink{
		fs:   filesystem.NewLocalFileSystem(filepath.Dir(path)),
		name: filepath.Base(path),
	}
}

func (sink *FileSink) Store(ctx context.Context, raw []byte) error {
	return sink.fs.WriteFile(sink.name, raw)
}
