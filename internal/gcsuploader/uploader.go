package gcsuploader

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/M-Abdullah-Amjad/filer-pak/internal/gcs"
	"github.com/M-Abdullah-Amjad/filer-pak/internal/logger"
)

// uploadTimeout bounds a single proof upload.
const uploadTimeout = 2 * time.Minute

// UploadProof stores a payment proof under proofs/<user>/<filing>/ and
// returns its gs:// URI. At most gcs.MaxProofSize bytes are accepted.
func (s *GCSStorageService) UploadProof(ctx context.Context, userID, filingID, filename, contentType string, r io.Reader) (string, error) {
	ref := gcs.ObjectRef{
		Bucket: s.bucket,
		Object: gcs.ProofObjectName(userID, filingID, uuid.NewString()[:8], filename),
	}

	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	w := s.client.Bucket(ref.Bucket).Object(ref.Object).NewWriter(ctx)
	w.ContentType = contentType
	w.Metadata = map[string]string{"user_id": userID, "filing_id": filingID}

	n, err := io.Copy(w, io.LimitReader(r, gcs.MaxProofSize+1))
	if err != nil {
		_ = w.Close()
		return "", fmt.Errorf("UploadProof: copy file to GCS writer: %w", err)
	}
	if n > gcs.MaxProofSize {
		// Cancelling before Close abandons the partial object.
		cancel()
		_ = w.Close()
		return "", fmt.Errorf("UploadProof: proof exceeds %d bytes", gcs.MaxProofSize)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("UploadProof: finalize upload: %w", err)
	}

	log := logger.FromContext(ctx)
	log.Info().
		Str("filing_id", filingID).
		Str("uri", ref.URI()).
		Int64("bytes", n).
		Msg("payment proof uploaded")
	return ref.URI(), nil
}
