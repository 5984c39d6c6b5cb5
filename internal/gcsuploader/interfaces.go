package gcsuploader

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"

	"github.com/M-Abdullah-Amjad/filer-pak/internal/filing"
	"github.com/M-Abdullah-Amjad/filer-pak/internal/gcs"
)

// Re-export interface from shared package.
type StorageService = gcs.StorageService

// GCSStorageService keeps payment proofs in one Google Cloud Storage bucket.
// It holds a shared client; call Close when done.
type GCSStorageService struct {
	client *storage.Client
	bucket string
}

// NewGCSStorageService creates a storage service for bucket. It assumes
// Application Default Credentials are configured.
func NewGCSStorageService(ctx context.Context, bucket string) (*GCSStorageService, error) {
	if bucket == "" {
		return nil, fmt.Errorf("NewGCSStorageService: bucket is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("NewGCSStorageService: create storage client: %w", err)
	}
	return &GCSStorageService{client: client, bucket: bucket}, nil
}

// Close closes the storage client.
func (s *GCSStorageService) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// resolve parses uri and refuses objects outside the service bucket.
func (s *GCSStorageService) resolve(uri string) (gcs.ObjectRef, error) {
	ref, err := gcs.ParseURI(uri)
	if err != nil {
		return gcs.ObjectRef{}, err
	}
	if ref.Bucket != s.bucket {
		return gcs.ObjectRef{}, fmt.Errorf("object %s is outside bucket %s", uri, s.bucket)
	}
	return ref, nil
}

var (
	_ gcs.StorageService     = (*GCSStorageService)(nil)
	_ filing.DocumentLocator = (*GCSStorageService)(nil)
)
