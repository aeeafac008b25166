// Package objectstore defines the blob storage boundary (spec §3, §6):
// the Worker's persist step uploads downloaded attachments here under
// key `{tenantPrefix}/{tenantId}/attachments/{uuid}.{ext}` and never
// touches a storage SDK directly.
package objectstore

import (
	"context"
	"io"
	"strconv"
)

// Store is the ObjectStore collaborator interface (spec §4.6 step
// 10c). No concrete cloud SDK (S3, GCS) appears anywhere in the
// retrieved example pack, so only a Filesystem reference
// implementation is provided here, grounded in stdlib `os` rather
// than a fabricated cloud client — see DESIGN.md.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, size int64) error
	Delete(ctx context.Context, key string) error
}

// Key builds the attachment object key spec §4.6 step 10c specifies.
func Key(tenantPrefix string, tenantID int64, uuid, ext string) string {
	return tenantPrefix + "/" + strconv.FormatInt(tenantID, 10) + "/attachments/" + uuid + ext
}
