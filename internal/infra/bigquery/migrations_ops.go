package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

// EnsureDatasetWithClient creates the dataset when it does not exist.
func EnsureDatasetWithClient(ctx context.Context, client *bigquery.Client, projectID, datasetID, location string) error {
	ds := client.DatasetInProject(projectID, datasetID)
	_, err := ds.Metadata(ctx)
	if err == nil {
		return nil
	}
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) || gerr.Code != http.StatusNotFound {
		return fmt.Errorf("EnsureDatasetWithClient: reading metadata: %w", err)
	}
	if err := ds.Create(ctx, &bigquery.DatasetMetadata{Location: location}); err != nil {
		return fmt.Errorf("EnsureDatasetWithClient: creating dataset: %w", err)
	}
	return nil
}

// EnsureSchemaMigrationsTableWithClient creates schema_migrations if needed.
func EnsureSchemaMigrationsTableWithClient(ctx context.Context, client *bigquery.Client, projectID, datasetID string) error {
	sql := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS `+"`%s.%s.schema_migrations`"+` (
			version       INT64 NOT NULL,
			name          STRING NOT NULL,
			applied_at    TIMESTAMP NOT NULL,
			checksum      STRING,
			applied_by    STRING
		)
	`, projectID, datasetID)

	if err := runJob(ctx, client.Query(sql)); err != nil {
		return fmt.Errorf("EnsureSchemaMigrationsTableWithClient: %w", err)
	}
	return nil
}

// AppliedMigrationsWithClient lists applied migrations by version.
func AppliedMigrationsWithClient(ctx context.Context, client *bigquery.Client, projectID, datasetID string) ([]AppliedMigration, error) {
	sql := fmt.Sprintf(`
		SELECT version, name, applied_at, checksum, applied_by
		FROM `+"`%s.%s.schema_migrations`"+`
		ORDER BY version ASC
	`, projectID, datasetID)

	it, err := client.Query(sql).Read(ctx)
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("AppliedMigrationsWithClient: reading query: %w", err)
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
			return nil, fmt.Errorf("AppliedMigrationsWithClient: iterating: %w", err)
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

// ApplyMigrationWithClient runs m and records it in schema_migrations.
func ApplyMigrationWithClient(ctx context.Context, client *bigquery.Client, projectID, datasetID string, m Migration, appliedBy string) error {
	if err := runJob(ctx, client.Query(m.SQL)); err != nil {
		return fmt.Errorf("ApplyMigrationWithClient: %04d_%s: %w", m.Version, m.Name, err)
	}

	sql := fmt.Sprintf(`
		INSERT INTO `+"`%s.%s.schema_migrations`"+`
		(version, name, applied_at, checksum, applied_by)
		VALUES (@version, @name, CURRENT_TIMESTAMP(), @checksum, @applied_by)
	`, projectID, datasetID)

	q := client.Query(sql)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "version", Value: m.Version},
		{Name: "name", Value: m.Name},
		{Name: "checksum", Value: m.Checksum},
		{Name: "applied_by", Value: appliedBy},
	}
	if err := runJob(ctx, q); err != nil {
		return fmt.Errorf("ApplyMigrationWithClient: recording %04d_%s: %w", m.Version, m.Name, err)
	}
	return nil
}

func runJob(ctx context.Context, q *bigquery.Query) error {
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
