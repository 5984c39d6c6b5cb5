package gcsuploader

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"

	"github.com/M-Abdullah-Amjad/filer-pak/internal/domain"
	"github.com/M-Abdullah-Amjad/filer-pak/internal/gcs"
)

// Fetch downloads the bytes behind a gs:// URI in the service bucket. Missing
// objects give a NOT_FOUND error.
func (s *GCSStorageService) Fetch(ctx context.Context, uri string) ([]byte, error) {
	ref, err := s.resolve(uri)
	if err != nil {
		return nil, domain.Validation("Fetch", "%v", err)
	}

	rc, err := s.client.Bucket(ref.Bucket).Object(ref.Object).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, domain.NewError(domain.CodeNotFound, "Fetch", "proof document %s not found", uri)
	}
	if err != nil {
		return nil, fmt.Errorf("Fetch: reading object %s/%s: %w", ref.Bucket, ref.Object, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, gcs.MaxProofSize+1))
	if err != nil {
		return nil, fmt.Errorf("Fetch: reading bytes: %w", err)
	}
	if len(data) > gcs.MaxProofSize {
		return nil, domain.Validation("Fetch", "object %s exceeds %d bytes", uri, gcs.MaxProofSize)
	}
	return data, nil
}

// Exists implements filing.DocumentLocator. References that do not parse or
// point outside the bucket do not exist.
func (s *GCSStorageService) Exists(ctx context.Context, uri string) (bool, error) {
	ref, err := s.resolve(uri)
	if err != nil {
		return false, nil
	}
	_, err = s.client.Bucket(ref.Bucket).Object(ref.Object).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("Exists: reading attrs of %s: %w", uri, err)
	}
	return true, nil
}
