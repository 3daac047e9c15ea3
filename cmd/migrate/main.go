// Command migrate applies the journal's BigQuery schema migrations and,
// optionally, writes the ledger header row.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/finance-assistant/internal/config"
	infra "github.com/dvloznov/finance-assistant/internal/infra/bigquery"
	"github.com/dvloznov/finance-assistant/internal/ledger"
	"github.com/dvloznov/finance-assistant/internal/logger"
	"github.com/rs/zerolog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var (
		projectID = flag.String("project", cfg.Journal.ProjectID, "GCP project ID (defaults to journal.project_id)")
		datasetID = flag.String("dataset", cfg.Journal.Dataset, "BigQuery dataset ID")
		location  = flag.String("location", "EU", "Dataset location used when the dataset is created")
		appliedBy = flag.String("applied-by", "migrate-cli", "Name of the tool applying migrations")
		dryRun    = flag.Bool("dry-run", false, "List pending migrations without applying them")
		header    = flag.Bool("sheet-header", false, "Also write the ledger header row when it is missing")
	)
	flag.Parse()

	log := logger.New()
	ctx := logger.WithContext(context.Background(), log)

	if *projectID == "" {
		log.Fatal().Msg("-project is required (or set journal.project_id)")
	}

	if *header {
		if err := ensureSheetHeader(ctx, cfg); err != nil {
			log.Fatal().Err(err).Msg("Failed to ensure ledger header")
		}
		log.Info().Str("sheet", cfg.Sheets.SheetName).Msg("Ledger header present")
	}

	client, err := bigquery.NewClient(ctx, *projectID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create BigQuery client")
	}
	defer client.Close()

	if err := run(ctx, client, log, *projectID, *datasetID, *location, *appliedBy, *dryRun); err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}
}

func run(ctx context.Context, client *bigquery.Client, log zerolog.Logger, projectID, datasetID, location, appliedBy string, dryRun bool) error {
	log.Info().Str("project", projectID).Str("dataset", datasetID).Msg("Connected to BigQuery")

	if err := infra.EnsureDatasetWithClient(ctx, client, projectID, datasetID, location); err != nil {
		return err
	}
	if err := infra.EnsureSchemaMigrationsTableWithClient(ctx, client, projectID, datasetID); err != nil {
		return err
	}

	all, err := infra.LoadMigrations(infra.Migrations(), projectID, datasetID)
	if err != nil {
		return err
	}
	applied, err := infra.AppliedMigrationsWithClient(ctx, client, projectID, datasetID)
	if err != nil {
		return err
	}
	if err := verifyChecksums(all, applied); err != nil {
		return err
	}

	pending := infra.Pending(all, applied)
	log.Info().Int("found", len(all)).Int("applied", len(applied)).Int("pending", len(pending)).Msg("Loaded migrations")

	for _, m := range pending {
		if dryRun {
			log.Info().Msgf("  [PENDING] %04d_%s", m.Version, m.Name)
			continue
		}
		log.Info().Msgf("  [RUN]  %04d_%s", m.Version, m.Name)
		if err := infra.ApplyMigrationWithClient(ctx, client, projectID, datasetID, m, appliedBy); err != nil {
			return fmt.Errorf("run: %04d_%s: %w", m.Version, m.Name, err)
		}
		log.Info().Msgf("  [OK]   %04d_%s", m.Version, m.Name)
	}

	if len(pending) == 0 {
		log.Info().Msg("No new migrations to apply. Dataset is up to date.")
	}
	return nil
}

// verifyChecksums fails when an applied migration file has since changed.
func verifyChecksums(all []infra.Migration, applied []infra.AppliedMigration) error {
	byVersion := make(map[int]infra.Migration, len(all))
	for _, m := range all {
		byVersion[m.Version] = m
	}
	for _, a := range applied {
		m, ok := byVersion[a.Version]
		if !ok || a.Checksum == "" {
			continue
		}
		if m.Checksum != a.Checksum {
			return fmt.Errorf("verifyChecksums: %04d_%s was modified after it was applied", m.Version, m.Name)
		}
	}
	return nil
}

func ensureSheetHeader(ctx context.Context, cfg config.Config) error {
	if cfg.Sheets.SpreadsheetID == "" {
		return fmt.Errorf("ensureSheetHeader: sheets.spreadsheet_id is not set")
	}
	store, err := ledger.NewSheetsStore(ctx, cfg.Sheets.SpreadsheetID, cfg.Sheets.SheetName, cfg.Sheets.CredentialsFile)
	if err != nil {
		return err
	}
	return store.EnsureHeader(ctx)
}
