package objectstore

import (
	"context"
	"io"
	"os"
	"path/filepath"

	apperrors "github.com/aaron-0406/lolo-cej-scraping/internal/errors"
)

// Filesystem is a Store backed by a local directory tree, one file
// per key (slashes become subdirectories). It is the reference
// implementation used in development and in tests; a production
// deployment swaps in a cloud-backed Store behind the same interface.
type Filesystem struct {
	root string
}

func NewFilesystem(root string) *Filesystem {
	return &Filesystem{root: root}
}

func (f *Filesystem) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	path := filepath.Join(f.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeObjectStoreFailure, "create object directory").WithDetails(key)
	}

	out, err := os.Create(path)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeObjectStoreFailure, "create object file").WithDetails(key)
	}
	defer out.Close()

	if _, err := io.Copy(out, r); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeObjectStoreFailure, "write object").WithDetails(key)
	}
	return nil
}

func (f *Filesystem) Delete(ctx context.Context, key string) error {
	path := filepath.Join(f.root, filepath.FromSlash(key))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return apperrors.Wrap(err, apperrors.ErrorTypeObjectStoreFailure, "delete object").WithDetails(key)
	}
	return nil
}
