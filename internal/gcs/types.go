// Package gcs describes payment proof documents held in cloud storage.
package gcs

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/M-Abdullah-Amjad/filer-pak/internal/domain"
)

// MaxProofSize is the largest accepted payment proof upload.
const MaxProofSize = 5 << 20

// proofContentTypes are the accepted payment proof formats.
var proofContentTypes = map[string]bool{
	"image/jpeg":      true,
	"image/jpg":       true,
	"image/png":       true,
	"application/pdf": true,
}

// StorageService provides an interface for proof document storage.
type StorageService interface {
	// UploadProof stores a proof for a filing and returns its gs:// URI.
	UploadProof(ctx context.Context, userID, filingID, filename, contentType string, r io.Reader) (string, error)

	// Fetch downloads the bytes behind a gs:// URI.
	Fetch(ctx context.Context, uri string) ([]byte, error)

	// Exists reports whether a gs:// URI names a stored object.
	Exists(ctx context.Context, uri string) (bool, error)
}

// ObjectRef names one object in a bucket.
type ObjectRef struct {
	Bucket string
	Object string
}

// ParseURI splits a gs://bucket/path URI.
func ParseURI(uri string) (ObjectRef, error) {
	if !strings.HasPrefix(uri, "gs://") {
		return ObjectRef{}, fmt.Errorf("ParseURI: invalid GCS URI: %s", uri)
	}
	parts := strings.SplitN(strings.TrimPrefix(uri, "gs://"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return ObjectRef{}, fmt.Errorf("ParseURI: invalid GCS URI (no object path): %s", uri)
	}
	return ObjectRef{Bucket: parts[0], Object: parts[1]}, nil
}

// URI returns the gs:// form of the reference.
func (r ObjectRef) URI() string {
	return "gs://" + r.Bucket + "/" + r.Object
}

// Filename returns the last path element of the object.
// e.g., "gs://bucket/proofs/u1/f1/cpr.pdf" → "cpr.pdf"
func (r ObjectRef) Filename() string {
	return path.Base(r.Object)
}

// ProofObjectName lays out proof objects per user and filing. The prefix
// keeps re-uploads of the same file name distinct.
func ProofObjectName(userID, filingID, prefix, filename string) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "proof"
	}
	return path.Join("proofs", userID, filingID, prefix+"-"+name)
}

// ValidateProof checks the format and size of an upload.
func ValidateProof(contentType string, size int64) error {
	const op = "ValidateProof"
	ct := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	if !proofContentTypes[ct] {
		return domain.Validation(op, "unsupported file type %q: only JPEG, PNG and PDF files are allowed", contentType)
	}
	if size <= 0 {
		return domain.Validation(op, "proof file is empty")
	}
	if size > MaxProofSize {
		return domain.Validation(op, "proof file is %d bytes, the limit is %d", size, MaxProofSize)
	}
	return nil
}
