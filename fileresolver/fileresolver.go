// Package fileresolver implements the File Resolver: reads blobs, extracts
// text, infers image MIME types, and memoises resolutions behind a
// content-addressed cache.
package fileresolver

import (
	"context"

	"golang.org/x/oauth2"
)

// ResolveContext carries provider-specific credentials needed to read a
// blob from its storage provider — e.g. a user access token for a
// corporate drive. Nil when the storage provider needs no per-request
// credential (e.g. local filesystem, S3 with ambient IAM).
type ResolveContext struct {
	Credential *oauth2.Token
}

// BlobStore is the external collaborator that actually reads bytes from a
// storage provider given a storage path.
type BlobStore interface {
	ReadBytes(ctx context.Context, storageProviderID, storagePath string, rc *ResolveContext) ([]byte, error)
}

// TextExtractor is the external collaborator that turns raw bytes into
// extracted text (PDF/DOCX/etc. parsing). Implementations may fail to
// parse a format they don't recognize.
type TextExtractor interface {
	ExtractText(ctx context.Context, filename string, data []byte) (string, error)
}
