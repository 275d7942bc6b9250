// Package blobstore implements the local-disk BlobStore/BlobWriter external
// collaborator (spec §4.3: "BlobStore interface is the external
// collaborator") for the file_storage_providers.<id>.kind == "local" case.
// No example repo in the retrieved pack wires an S3/GCS SDK for blob bytes,
// so this stays on the standard library rather than inventing a dependency
// the corpus never reached for.
package blobstore

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/rivermint/chatforge/config"
	"github.com/rivermint/chatforge/fileresolver"
	"github.com/rivermint/chatforge/internal/idgen"
)

// LocalDisk stores each provider's blobs under that provider's configured
// base_path, at the storage path recorded for the file.
type LocalDisk struct {
	providers map[string]config.FileStorageConfig
}

// New builds a LocalDisk over the file_storage_providers entries. Only
// entries of kind "local" can be read or written; the others are rejected
// when used.
func New(providers map[string]config.FileStorageConfig) *LocalDisk {
	return &LocalDisk{providers: providers}
}

func (d *LocalDisk) resolvePath(storageProviderID, storagePath string) (string, error) {
	cfg, ok := d.providers[storageProviderID]
	if !ok {
		return "", errors.Errorf("unknown file storage provider %q", storageProviderID)
	}
	if cfg.Kind != "local" {
		return "", errors.Errorf("file storage provider %q is kind %q, not supported by the local blob store", storageProviderID, cfg.Kind)
	}
	return filepath.Join(cfg.BasePath, storagePath), nil
}

// ReadBytes implements fileresolver.BlobStore.
func (d *LocalDisk) ReadBytes(_ context.Context, storageProviderID, storagePath string, _ *fileresolver.ResolveContext) ([]byte, error) {
	fullPath, err := d.resolvePath(storageProviderID, storagePath)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, errors.Wrapf(err, "read blob %s/%s", storageProviderID, storagePath)
	}
	return data, nil
}

// WriteBytes implements generation.BlobWriter: persists newly generated
// bytes (image-generation mode) under a fresh path namespaced by filename.
func (d *LocalDisk) WriteBytes(_ context.Context, storageProviderID, filename string, data []byte) (string, error) {
	cfg, ok := d.providers[storageProviderID]
	if !ok {
		return "", errors.Errorf("unknown file storage provider %q", storageProviderID)
	}
	if cfg.Kind != "local" {
		return "", errors.Errorf("file storage provider %q is kind %q, not supported by the local blob store", storageProviderID, cfg.Kind)
	}

	storagePath := filepath.Join(time.Now().UTC().Format("20060102"), idgen.NewShortID()+"_"+filename)
	fullPath := filepath.Join(cfg.BasePath, storagePath)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o770); err != nil {
		return "", errors.Wrapf(err, "mkdir for blob %s", storagePath)
	}
	if err := os.WriteFile(fullPath, data, 0o660); err != nil {
		return "", errors.Wrapf(err, "write blob %s", storagePath)
	}
	return storagePath, nil
}
