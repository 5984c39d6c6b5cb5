package main

import (
	"testing"

	infraBQ "github.com/M-Abdullah-Amjad/filer-pak/internal/infra/bigquery"
)

func TestPendingMigrations(t *testing.T) {
	all := []infraBQ.Migration{
		{Version: 1, Name: "init", Checksum: "a"},
		{Version: 2, Name: "filings", Checksum: "b"},
		{Version: 3, Name: "records", Checksum: "c"},
	}

	pending, err := pendingMigrations(all, []AppliedMigration{
		{Version: 1, Checksum: "a"},
		{Version: 2},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pending) != 1 || pending[0].Version != 3 {
		t.Fatalf("pending = %+v, want only version 3", pending)
	}

	pending, err = pendingMigrations(all, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pending) != 3 {
		t.Errorf("fresh dataset: got %d pending, want 3", len(pending))
	}
}

func TestPendingMigrations_ChecksumDrift(t *testing.T) {
	all := []infraBQ.Migration{{Version: 1, Name: "init", Checksum: "new"}}
	if _, err := pendingMigrations(all, []AppliedMigration{{Version: 1, Checksum: "old"}}); err == nil {
		t.Error("expected an error for a changed migration")
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	migrations, err := infraBQ.Migrations("proj", "tax")
	if err != nil {
		t.Fatalf("reading embedded migrations: %v", err)
	}
	if len(migrations) == 0 {
		t.Fatal("no embedded migrations")
	}
	for i, m := range migrations {
		if m.Version != i+1 {
			t.Errorf("migration %d has version %d, want contiguous versions", i, m.Version)
		}
	}
}
