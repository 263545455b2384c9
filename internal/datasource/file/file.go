// Package file provides the local-filesystem data source.
package file

import (
	"context"
	"io"
	"os"
)

// Local reads a dataset from a filesystem path.
type Local struct {
	Path string
}

func NewLocal(path string) *Local { return &Local{Path: path} }

// Open returns a reader over the file. The context is accepted for interface
// symmetry with remote sources; local opens do not block on it.
func (l *Local) Open(_ context.Context) (io.ReadCloser, error) {
	return os.Open(l.Path)
}
