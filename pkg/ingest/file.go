package ingest

import (
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
)

type osFile struct {
	path     string
	size     int64
	declared string
}

// OpenFile describes a file on disk; the declared type comes from its extension
func OpenFile(path string) (File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	return &osFile{
		path:     path,
		size:     info.Size(),
		declared: mime.TypeByExtension(filepath.Ext(path)),
	}, nil
}

func (f *osFile) Name() string                 { return filepath.Base(f.path) }
func (f *osFile) Size() int64                  { return f.size }
func (f *osFile) Type() string                 { return f.declared }
func (f *osFile) Open() (io.ReadCloser, error) { return os.Open(f.path) }
