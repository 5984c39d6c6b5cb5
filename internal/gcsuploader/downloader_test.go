package gcsuploader

import (
	"context"
	"testing"
)

func TestResolve(t *testing.T) {
	s := &GCSStorageService{bucket: "proofs"}

	ref, err := s.resolve("gs://proofs/u1/f1/cpr.pdf")
	if err != nil {
		t.Fatalf("resolve() failed: %v", err)
	}
	if ref.Object != "u1/f1/cpr.pdf" {
		t.Errorf("Object = %q, want %q", ref.Object, "u1/f1/cpr.pdf")
	}

	for _, uri := range []string{"gs://other/u1/cpr.pdf", "https://example.com/cpr.pdf", "gs://proofs"} {
		if _, err := s.resolve(uri); err == nil {
			t.Errorf("resolve(%q) should fail", uri)
		}
	}
}

func TestExists_ForeignReference(t *testing.T) {
	s := &GCSStorageService{bucket: "proofs"}

	ok, err := s.Exists(context.Background(), "gs://someone-else/cpr.pdf")
	if err != nil {
		t.Fatalf("Exists() failed: %v", err)
	}
	if ok {
		t.Error("a reference outside the bucket should not exist")
	}
}

func TestNewGCSStorageService_RequiresBucket(t *testing.T) {
	if _, err := NewGCSStorageService(context.Background(), ""); err == nil {
		t.Error("expected an error for an empty bucket")
	}
}
