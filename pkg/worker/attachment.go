package worker

import (
	"context"
	"os"
	"path/filepath"

	apperrors "github.com/aaron-0406/lolo-cej-scraping/internal/errors"
)

// fileNameOf returns localPath's base name, the OriginalName a
// FileAttachment is keyed on.
func fileNameOf(localPath string) string {
	return filepath.Base(localPath)
}

// extOf returns name's extension, including the leading dot, or "" if
// none.
func extOf(name string) string {
	return filepath.Ext(name)
}

func fileSize(localPath string) (int64, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// uploadAndCleanup streams localPath to the object store under key and
// removes the temporary download regardless of upload outcome.
func (w *Worker) uploadAndCleanup(ctx context.Context, localPath, key string, size int64) error {
	defer os.Remove(localPath)

	f, err := os.Open(localPath)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeObjectStoreFailure, "open downloaded attachment")
	}
	defer f.Close()

	return w.objects.Put(ctx, key, f, size)
}
