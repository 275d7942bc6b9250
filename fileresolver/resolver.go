package fileresolver

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	"github.com/rivermint/chatforge/internal/cache"
	"github.com/rivermint/chatforge/store"
)

// defaultImageDownscaleThresholdBytes is the size above which an image is
// downscaled before base64 encoding, so oversized uploads don't silently
// blow past a provider's inline-image size limit.
const defaultImageDownscaleThresholdBytes = 4 * 1024 * 1024

const maxImageDimension = 2048

// FileLookup resolves a file id to its FileUpload row; *store.Store
// satisfies this directly.
type FileLookup interface {
	GetFileUpload(ctx context.Context, id string) (*store.FileUpload, error)
}

type cacheKey struct {
	fileID            string
	storageProviderID string
	storagePath       string
}

// Resolver is the File Resolver: reads blobs, extracts text, infers image
// MIME types, and memoises blob bytes and extracted text behind
// content-addressed caches keyed by file id + provider + storage path (spec §4.3 — a file's content is
// immutable post-upload, so the cache never needs invalidation).
type Resolver struct {
	files     FileLookup
	blobs     BlobStore
	extractor TextExtractor

	bytesCache *cache.LRUCache[cacheKey, []byte]
	textCache  *cache.LRUCache[cacheKey, string]

	downscaleThresholdBytes int
}

// Config sizes the Resolver's caches and image downscale threshold.
type Config struct {
	BytesCacheEntries int
	TextCacheEntries  int
	DownscaleThresholdBytes int
}

func New(files FileLookup, blobs BlobStore, extractor TextExtractor, cfg Config) *Resolver {
	bytesEntries := cfg.BytesCacheEntries
	if bytesEntries <= 0 {
		bytesEntries = 256
	}
	textEntries := cfg.TextCacheEntries
	if textEntries <= 0 {
		textEntries = 256
	}
	threshold := cfg.DownscaleThresholdBytes
	if threshold <= 0 {
		threshold = defaultImageDownscaleThresholdBytes
	}
	return &Resolver{
		files:                   files,
		blobs:                   blobs,
		extractor:               extractor,
		bytesCache:              cache.NewLRUCache[cacheKey, []byte](bytesEntries, 0),
		textCache:               cache.NewLRUCache[cacheKey, string](textEntries, 0),
		downscaleThresholdBytes: threshold,
	}
}

// ReadBytes fetches the raw blob for fileID, memoised by content-address.
func (r *Resolver) ReadBytes(ctx context.Context, fileID string, rc *ResolveContext) ([]byte, *store.FileUpload, error) {
	upload, err := r.files.GetFileUpload(ctx, fileID)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to look up file upload")
	}
	if upload == nil {
		return nil, nil, errors.Errorf("file not found: %s", fileID)
	}

	key := cacheKey{fileID: fileID, storageProviderID: upload.StorageProviderID, storagePath: upload.StoragePath}
	if data, ok := r.bytesCache.Get(key); ok {
		return data, upload, nil
	}

	data, err := r.blobs.ReadBytes(ctx, upload.StorageProviderID, upload.StoragePath, rc)
	if err != nil {
		return nil, upload, err
	}
	r.bytesCache.SetWithDefaultTTL(key, data)
	return data, upload, nil
}

// ExtractText strips NUL characters from extracted text — some databases
// reject them in text columns.
func (r *Resolver) ExtractText(ctx context.Context, filename string, data []byte) (string, error) {
	text, err := r.extractor.ExtractText(ctx, filename, data)
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(text, "\x00", ""), nil
}

const textPointerTemplate = `File:
file name: %s
file_id: erato_file_id:%s
File contents
---
%s
---`

const unparsablePlaceholder = "No file contents available as the file was not parseable."
const storageFailurePlaceholder = "Unable to retrieve file contents due to an unknown error."

// ResolveTextPointer turns a TextFilePointer into a Text content part,
// formatted per spec §4.3. Storage and parse failures degrade to a fixed
// placeholder string rather than propagating the error, so a single bad
// upload doesn't abort prompt composition for the whole turn.
func (r *Resolver) ResolveTextPointer(ctx context.Context, fileID string, rc *ResolveContext) (store.Text, error) {
	data, upload, err := r.ReadBytes(ctx, fileID, rc)
	if err != nil {
		filename := fileID
		if upload != nil {
			filename = upload.Filename
		}
		return store.Text{TextValue: fmt.Sprintf(textPointerTemplate, filename, fileID, storageFailurePlaceholder)}, nil
	}

	key := cacheKey{fileID: fileID, storageProviderID: upload.StorageProviderID, storagePath: upload.StoragePath}
	text, cached := r.textCache.Get(key)
	if !cached {
		text, err = r.ExtractText(ctx, upload.Filename, data)
		if err != nil {
			return store.Text{TextValue: fmt.Sprintf(textPointerTemplate, upload.Filename, fileID, unparsablePlaceholder)}, nil
		}
		r.textCache.SetWithDefaultTTL(key, text)
	}

	return store.Text{TextValue: fmt.Sprintf(textPointerTemplate, upload.Filename, fileID, text)}, nil
}

// ResolveImagePointer turns an ImageFilePointer into an Image content part,
// downscaling oversized images before base64 encoding so the payload
// doesn't exceed a provider's inline-image size limit.
func (r *Resolver) ResolveImagePointer(ctx context.Context, fileID string, rc *ResolveContext) (store.Image, error) {
	data, upload, err := r.ReadBytes(ctx, fileID, rc)
	if err != nil {
		return store.Image{}, err
	}

	mime := inferImageMIME(upload.Filename)
	if len(data) > r.downscaleThresholdBytes {
		if smaller, ok := downscale(data); ok {
			data = smaller
		}
	}
	return store.Image{MIME: mime, Base64: base64.StdEncoding.EncodeToString(data)}, nil
}

// downscale decodes a jpeg/png/gif image and re-encodes it capped to
// maxImageDimension on its longest side. Returns ok=false for any other
// format (e.g. svg, bmp, tiff), in which case the original bytes are kept
// as-is.
func downscale(data []byte) ([]byte, bool) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, false
	}

	bounds := img.Bounds()
	if bounds.Dx() <= maxImageDimension && bounds.Dy() <= maxImageDimension {
		return data, false
	}

	var resized image.Image
	if bounds.Dx() >= bounds.Dy() {
		resized = imaging.Resize(img, maxImageDimension, 0, imaging.Lanczos)
	} else {
		resized = imaging.Resize(img, 0, maxImageDimension, imaging.Lanczos)
	}

	var buf bytes.Buffer
	switch format {
	case "png":
		err = png.Encode(&buf, resized)
	case "gif":
		err = gif.Encode(&buf, resized, nil)
	case "jpeg":
		err = jpeg.Encode(&buf, resized, &jpeg.Options{Quality: 85})
	default:
		return nil, false
	}
	if err != nil {
		return nil, false
	}
	return buf.Bytes(), true
}
