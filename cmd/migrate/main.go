package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/M-Abdullah-Amjad/filer-pak/internal/config"
	infraBQ "github.com/M-Abdullah-Amjad/filer-pak/internal/infra/bigquery"
)

// AppliedMigration represents a migration that has already been applied
type AppliedMigration struct {
	Version   int
	Name      string
	AppliedAt time.Time
	Checksum  string
	AppliedBy string
}

var (
	envFile   = flag.String("env", ".env", "Path to a .env file (ignored when missing)")
	projectID = flag.String("project", "", "GCP project ID (defaults to GCP_PROJECT)")
	datasetID = flag.String("dataset", "", "BigQuery dataset ID (defaults to BQ_DATASET)")
	appliedBy = flag.String("applied-by", "migrate-cli", "Name of the tool applying migrations")
	dryRun    = flag.Bool("dry-run", false, "List pending migrations without applying them")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	ds := infraBQ.Dataset{ProjectID: cfg.GCPProject, DatasetID: cfg.BQDataset}
	if *projectID != "" {
		ds.ProjectID = *projectID
	}
	if *datasetID != "" {
		ds.DatasetID = *datasetID
	}
	if err := ds.Validate(); err != nil {
		log.Fatalf("Error: %v. Use -project/-dataset or GCP_PROJECT/BQ_DATASET.", err)
	}

	ctx := context.Background()
	client, err := bigquery.NewClient(ctx, ds.ProjectID)
	if err != nil {
		log.Fatalf("Failed to create BigQuery client: %v", err)
	}
	defer client.Close()

	log.Printf("Connected to BigQuery project: %s, dataset: %s", ds.ProjectID, ds.DatasetID)

	migrations, err := infraBQ.Migrations(ds.ProjectID, ds.DatasetID)
	if err != nil {
		log.Fatalf("Failed to read migrations: %v", err)
	}
	log.Printf("Found %d migration files", len(migrations))

	applied, err := getAppliedMigrations(ctx, client, ds)
	if err != nil {
		log.Fatalf("Failed to get applied migrations: %v", err)
	}
	log.Printf("Found %d already applied migrations", len(applied))

	pending, err := pendingMigrations(migrations, applied)
	if err != nil {
		log.Fatalf("Refusing to migrate: %v", err)
	}

	for _, m := range pending {
		if *dryRun {
			log.Printf("  [PENDING] %04d_%s", m.Version, m.Name)
			continue
		}
		log.Printf("  [RUN]  %04d_%s", m.Version, m.Name)
		if err := runStatement(ctx, client.Query(m.SQL)); err != nil {
			log.Fatalf("Failed to execute migration %04d_%s: %v", m.Version, m.Name, err)
		}
		if err := recordMigration(ctx, client, ds, m); err != nil {
			log.Fatalf("Failed to record migration %04d_%s: %v", m.Version, m.Name, err)
		}
		log.Printf("  [OK]   %04d_%s", m.Version, m.Name)
	}

	switch {
	case len(pending) == 0:
		log.Println("No new migrations to apply. Database is up to date.")
	case *dryRun:
		log.Printf("%d migration(s) pending", len(pending))
	default:
		log.Printf("Successfully applied %d migration(s)", len(pending))
	}
}

// pendingMigrations returns the migrations not yet applied, in order. An
// applied migration whose file changed since it ran is an error.
func pendingMigrations(all []infraBQ.Migration, applied []AppliedMigration) ([]infraBQ.Migration, error) {
	byVersion := make(map[int]AppliedMigration, len(applied))
	for _, am := range applied {
		byVersion[am.Version] = am
	}

	var pending []infraBQ.Migration
	for _, m := range all {
		am, ok := byVersion[m.Version]
		if !ok {
			pending = append(pending, m)
			continue
		}
		if am.Checksum != "" && am.Checksum != m.Checksum {
			return nil, fmt.Errorf("migration %04d_%s changed after it was applied (checksum %s, file %s)",
				m.Version, m.Name, am.Checksum, m.Checksum)
		}
	}
	return pending, nil
}

// getAppliedMigrations retrieves the list of already applied migrations
func getAppliedMigrations(ctx context.Context, client *bigquery.Client, ds infraBQ.Dataset) ([]AppliedMigration, error) {
	q := client.Query(`
		SELECT version, name, applied_at, checksum, applied_by
		FROM ` + ds.Table("schema_migrations") + `
		ORDER BY version ASC
	`)
	it, err := q.Read(ctx)
	if err != nil {
		// If table doesn't exist yet, return empty list
		if strings.Contains(err.Error(), "Not found") {
			return nil, nil
		}
		return nil, fmt.Errorf("reading applied migrations: %w", err)
	}

	var applied []AppliedMigration
	for {
		var row struct {
			Version   int64
			Name      string
			AppliedAt time.Time
			Checksum  bigquery.NullString
			AppliedBy bigquery.NullString
		}
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterating results: %w", err)
		}
		applied = append(applied, AppliedMigration{
			Version:   int(row.Version),
			Name:      row.Name,
			AppliedAt: row.AppliedAt,
			Checksum:  row.Checksum.StringVal,
			AppliedBy: row.AppliedBy.StringVal,
		})
	}
	return applied, nil
}

// recordMigration records a successfully applied migration in schema_migrations
func recordMigration(ctx context.Context, client *bigquery.Client, ds infraBQ.Dataset, m infraBQ.Migration) error {
	q := client.Query(`
		INSERT INTO ` + ds.Table("schema_migrations") + `
		(version, name, applied_at, checksum, applied_by)
		VALUES (@version, @name, CURRENT_TIMESTAMP(), @checksum, @applied_by)
	`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "version", Value: m.Version},
		{Name: "name", Value: m.Name},
		{Name: "checksum", Value: m.Checksum},
		{Name: "applied_by", Value: *appliedBy},
	}
	return runStatement(ctx, q)
}

func runStatement(ctx context.Context, q *bigquery.Query) error {
	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("running query: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("job error: %w", err)
	}
	return nil
}
