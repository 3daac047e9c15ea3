// Package app builds the assistant's services from configuration and owns
// their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dvloznov/finance-assistant/internal/analytics"
	"github.com/dvloznov/finance-assistant/internal/backup"
	"github.com/dvloznov/finance-assistant/internal/bot"
	"github.com/dvloznov/finance-assistant/internal/config"
	"github.com/dvloznov/finance-assistant/internal/contextstore"
	"github.com/dvloznov/finance-assistant/internal/gcsuploader"
	infra "github.com/dvloznov/finance-assistant/internal/infra/bigquery"
	"github.com/dvloznov/finance-assistant/internal/intent"
	"github.com/dvloznov/finance-assistant/internal/journal"
	"github.com/dvloznov/finance-assistant/internal/ledger"
	"github.com/dvloznov/finance-assistant/internal/logger"
	"github.com/dvloznov/finance-assistant/internal/nlu"
	"github.com/dvloznov/finance-assistant/internal/params"
	"github.com/dvloznov/finance-assistant/internal/retry"
	"github.com/rs/zerolog"
)

// App holds every long-lived service. Build it with New and release it with
// Close.
type App struct {
	Config config.Config
	Log    zerolog.Logger

	Store      ledger.Store
	Cache      *ledger.Cache
	Contexts   *contextstore.Store
	Mutator    *ledger.Mutator
	Classifier *intent.Classifier
	Resolver   *intent.Resolver
	Engine     *analytics.Engine
	Extractor  *params.Extractor
	Backups    *backup.Service
	Gemini     *nlu.GeminiClient
	Service    *bot.Service

	// Operations is nil unless the journal is enabled.
	Operations *infra.BigQueryOperationRepository

	closers []io.Closer
}

// New connects to the external services and wires the core. Connections are
// attempted with retry.Startup; exhaustion aborts.
func New(ctx context.Context, cfg config.Config, log zerolog.Logger) (*App, error) {
	ctx = logger.WithContext(ctx, log)
	a := &App{Config: cfg, Log: log}
	loc := cfg.Location()

	var sheets *ledger.SheetsStore
	err := retry.Do(ctx, retry.Startup, "connect ledger", func(ctx context.Context) error {
		s, err := ledger.NewSheetsStore(ctx, cfg.Sheets.SpreadsheetID, cfg.Sheets.SheetName, cfg.Sheets.CredentialsFile)
		if err != nil {
			return err
		}
		if err := s.EnsureHeader(ctx); err != nil {
			return err
		}
		sheets = s
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("New: %w", err)
	}
	a.Store = sheets
	a.Cache = ledger.NewCache(sheets, cfg.Cache.TTL)

	contexts := contextstore.New(cfg.Context.File)
	if err := contexts.Load(); err != nil {
		return nil, fmt.Errorf("New: %w", err)
	}
	a.Contexts = contexts

	var j ledger.Journal = journal.Noop{}
	if cfg.Journal.ProjectID != "" {
		table := infra.Table{ProjectID: cfg.Journal.ProjectID, DatasetID: cfg.Journal.Dataset, TableID: cfg.Journal.Table}
		err := retry.Do(ctx, retry.Startup, "connect journal", func(ctx context.Context) error {
			repo, err := infra.NewBigQueryOperationRepository(ctx, table)
			if err != nil {
				return err
			}
			a.Operations = repo
			return nil
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("New: %w", err)
		}
		a.closers = append(a.closers, a.Operations)
		j = journal.New(a.Operations)
		log.Info().Str("table", table.String()).Msg("Operation journal enabled")
	}

	a.Mutator = ledger.NewMutator(sheets, a.Cache, a.Contexts,
		ledger.WithJournal(j),
		ledger.WithLocation(loc),
		ledger.WithLogger(log),
	)

	err = retry.Do(ctx, retry.Startup, "connect nlu", func(ctx context.Context) error {
		g, err := nlu.NewGeminiClient(ctx, cfg.Gemini.APIKey, cfg.Gemini.Model, cfg.Gemini.Temperature)
		if err != nil {
			return err
		}
		a.Gemini = g
		return nil
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("New: %w", err)
	}

	a.Classifier = intent.NewClassifier(a.Gemini)
	a.Resolver = intent.NewResolver(a.Classifier, a.Mutator, a.Contexts)
	a.Engine = analytics.NewEngine(analytics.WithLocation(loc))

	a.Extractor = params.NewExtractor()
	if cfg.Names.File != "" {
		if err := a.Extractor.LoadNames(cfg.Names.File); err != nil {
			a.Close()
			return nil, fmt.Errorf("New: %w", err)
		}
	}

	sinks, err := a.backupSinks(ctx)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("New: %w", err)
	}
	a.Backups = backup.NewService(a.Cache, loc, sinks...)

	a.Service, err = bot.New(bot.Deps{
		AllowedUsers: cfg.Access.AllowedUsers,
		Resolver:     a.Resolver,
		Classifier:   a.Classifier,
		Mutator:      a.Mutator,
		Snapshots:    a.Cache,
		Contexts:     a.Contexts,
		Engine:       a.Engine,
		Extractor:    a.Extractor,
		Backups:      a.Backups,
		Transcriber:  a.Gemini,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("New: %w", err)
	}
	return a, nil
}

func (a *App) backupSinks(ctx context.Context) ([]backup.Sink, error) {
	var sinks []backup.Sink
	if a.Config.Backup.Dir != "" {
		sinks = append(sinks, backup.DirSink{Dir: a.Config.Backup.Dir})
	}
	if a.Config.Backup.Bucket != "" {
		uploader, err := gcsuploader.New(ctx)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, uploader)
		sinks = append(sinks, backup.GCSSink{Uploader: uploader, Bucket: a.Config.Backup.Bucket})
	}
	return sinks, nil
}

// Close flushes the context store and releases every client.
func (a *App) Close() error {
	var errs []error
	if a.Contexts != nil {
		if err := a.Contexts.Flush(); err != nil {
			errs = append(errs, fmt.Errorf("Close: flushing context: %w", err))
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, fmt.Errorf("Close: %w", err))
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
