package fileresolver

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rivermint/chatforge/store"
)

type fakeFiles struct {
	uploads map[string]*store.FileUpload
}

func (f *fakeFiles) GetFileUpload(ctx context.Context, id string) (*store.FileUpload, error) {
	return f.uploads[id], nil
}

type fakeBlobs struct {
	data map[string][]byte
	err  error
	gets int
}

func (f *fakeBlobs) ReadBytes(ctx context.Context, providerID, path string, rc *ResolveContext) ([]byte, error) {
	f.gets++
	if f.err != nil {
		return nil, f.err
	}
	return f.data[path], nil
}

type fakeExtractor struct {
	text string
	err  error
}

func (f *fakeExtractor) ExtractText(ctx context.Context, filename string, data []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

func newTestResolver(files *fakeFiles, blobs *fakeBlobs, extractor *fakeExtractor) *Resolver {
	return New(files, blobs, extractor, Config{})
}

func TestResolveTextPointerFormatsHeaderAndBody(t *testing.T) {
	files := &fakeFiles{uploads: map[string]*store.FileUpload{
		"f1": {ID: "f1", Filename: "notes.txt", StorageProviderID: "local", StoragePath: "notes.txt"},
	}}
	blobs := &fakeBlobs{data: map[string][]byte{"notes.txt": []byte("hello\x00world")}}
	extractor := &fakeExtractor{text: "hello\x00world"}
	r := newTestResolver(files, blobs, extractor)

	part, err := r.ResolveTextPointer(context.Background(), "f1", nil)
	require.NoError(t, err)
	assert.Contains(t, part.TextValue, "file name: notes.txt")
	assert.Contains(t, part.TextValue, "file_id: erato_file_id:f1")
	assert.Contains(t, part.TextValue, "helloworld")
	assert.NotContains(t, part.TextValue, "\x00")
}

func TestResolveTextPointerStorageFailureUsesPlaceholder(t *testing.T) {
	files := &fakeFiles{uploads: map[string]*store.FileUpload{
		"f1": {ID: "f1", Filename: "notes.txt", StorageProviderID: "local", StoragePath: "notes.txt"},
	}}
	blobs := &fakeBlobs{err: errors.New("boom")}
	extractor := &fakeExtractor{text: "unused"}
	r := newTestResolver(files, blobs, extractor)

	part, err := r.ResolveTextPointer(context.Background(), "f1", nil)
	require.NoError(t, err)
	assert.Contains(t, part.TextValue, storageFailurePlaceholder)
}

func TestResolveTextPointerParseFailureUsesPlaceholder(t *testing.T) {
	files := &fakeFiles{uploads: map[string]*store.FileUpload{
		"f1": {ID: "f1", Filename: "notes.bin", StorageProviderID: "local", StoragePath: "notes.bin"},
	}}
	blobs := &fakeBlobs{data: map[string][]byte{"notes.bin": []byte{0xff, 0xfe}}}
	extractor := &fakeExtractor{err: errors.New("unparsable format")}
	r := newTestResolver(files, blobs, extractor)

	part, err := r.ResolveTextPointer(context.Background(), "f1", nil)
	require.NoError(t, err)
	assert.Contains(t, part.TextValue, unparsablePlaceholder)
}

func TestReadBytesCachesByContentAddress(t *testing.T) {
	files := &fakeFiles{uploads: map[string]*store.FileUpload{
		"f1": {ID: "f1", Filename: "notes.txt", StorageProviderID: "local", StoragePath: "notes.txt"},
	}}
	blobs := &fakeBlobs{data: map[string][]byte{"notes.txt": []byte("hi")}}
	extractor := &fakeExtractor{text: "hi"}
	r := newTestResolver(files, blobs, extractor)

	_, _, err := r.ReadBytes(context.Background(), "f1", nil)
	require.NoError(t, err)
	_, _, err = r.ReadBytes(context.Background(), "f1", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, blobs.gets)
}

func TestResolveImagePointerInfersMIMEFromExtension(t *testing.T) {
	files := &fakeFiles{uploads: map[string]*store.FileUpload{
		"f1": {ID: "f1", Filename: "photo.png", StorageProviderID: "local", StoragePath: "photo.png"},
	}}
	blobs := &fakeBlobs{data: map[string][]byte{"photo.png": []byte("not-a-real-png")}}
	r := newTestResolver(files, blobs, &fakeExtractor{})

	part, err := r.ResolveImagePointer(context.Background(), "f1", nil)
	require.NoError(t, err)
	assert.Equal(t, "image/png", part.MIME)
	assert.NotEmpty(t, part.Base64)
}

func TestInferImageMIMETable(t *testing.T) {
	cases := map[string]string{
		"a.jpg": "image/jpeg", "a.jpeg": "image/jpeg", "a.png": "image/png",
		"a.gif": "image/gif", "a.webp": "image/webp", "a.bmp": "image/bmp",
		"a.svg": "image/svg+xml", "a.tiff": "image/tiff", "a.ico": "image/x-icon",
		"a.xyz": "application/octet-stream",
	}
	for filename, want := range cases {
		assert.Equal(t, want, inferImageMIME(filename), filename)
	}
}
