package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/dvloznov/finance-assistant/internal/app"
	"github.com/dvloznov/finance-assistant/internal/backup"
	"github.com/dvloznov/finance-assistant/internal/config"
	"github.com/dvloznov/finance-assistant/internal/domain"
	"github.com/dvloznov/finance-assistant/internal/gcsuploader"
	"github.com/dvloznov/finance-assistant/internal/intent"
	"github.com/dvloznov/finance-assistant/internal/logger"
	"github.com/dvloznov/finance-assistant/internal/params"
	"github.com/rs/zerolog"
)

func main() {
	log := logger.New()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "classify":
		runClassify(log)
	case "analytics":
		runAnalytics(log)
	case "search":
		runSearch(log)
	case "history":
		runHistory(log)
	case "backup":
		runBackup(log)
	case "backup-fetch":
		runBackupFetch(log)
	case "journal":
		runJournal(log)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Finance Assistant CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  classify      Show how an utterance would be understood, without writing")
	fmt.Println("  analytics     Print the analytics report for a period")
	fmt.Println("  search        Search the ledger")
	fmt.Println("  history       Print a user's context and the latest records")
	fmt.Println("  backup        Export the ledger to the configured sinks and a local file")
	fmt.Println("  backup-fetch  Download a backup from GCS and summarize it")
	fmt.Println("  journal       List a user's journaled operations")
	fmt.Println("  help          Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

// connect loads configuration and builds the core for the operator.
func connect(log zerolog.Logger) (context.Context, context.CancelFunc, *app.App) {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if err := cfg.Validate(config.TargetCLI); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	if len(cfg.Access.AllowedUsers) == 0 {
		// The boundary service refuses an empty allow-list; the operator is trusted.
		cfg.Access.AllowedUsers = []string{"cli"}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	ctx = logger.WithContext(ctx, log)

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		cancel()
		log.Fatal().Err(err).Msg("Failed to initialize")
	}
	return ctx, cancel, a
}

func runClassify(log zerolog.Logger) {
	fs := flag.NewFlagSet("classify", flag.ExitOnError)
	user := fs.String("user", "cli", "User whose context is sent along")
	fs.Parse(os.Args[2:])

	text := strings.Join(fs.Args(), " ")
	if text == "" {
		log.Fatal().Msg("Error: utterance text is required")
	}

	ctx, cancel, a := connect(log)
	defer cancel()
	defer a.Close()

	fmt.Println(describeIntent(a.Classifier.Classify(ctx, text, a.Contexts.Get(*user))))
}

func runAnalytics(log zerolog.Logger) {
	fs := flag.NewFlagSet("analytics", flag.ExitOnError)
	period := fs.String("period", "", "Period: неделя, месяц, a month name, or empty for 30 days")
	fs.Parse(os.Args[2:])

	ctx, cancel, a := connect(log)
	defer cancel()
	defer a.Close()

	fmt.Println(a.Service.Analytics(ctx, "cli", params.ParsePeriod(*period)).Text)
}

func runSearch(log zerolog.Logger) {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	fs.Parse(os.Args[2:])

	query := strings.Join(fs.Args(), " ")
	if query == "" {
		log.Fatal().Msg("Error: search query is required")
	}

	ctx, cancel, a := connect(log)
	defer cancel()
	defer a.Close()

	fmt.Println(a.Service.Search(ctx, "cli", query).Text)
}

func runHistory(log zerolog.Logger) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	user := fs.String("user", "", "User identifier (required)")
	fs.Parse(os.Args[2:])

	if *user == "" {
		log.Fatal().Msg("Error: --user is required")
	}

	ctx, cancel, a := connect(log)
	defer cancel()
	defer a.Close()

	fmt.Println(a.Service.History(ctx, *user).Text)
}

func runBackup(log zerolog.Logger) {
	fs := flag.NewFlagSet("backup", flag.ExitOnError)
	out := fs.String("out", ".", "Directory to write the backup file to")
	fs.Parse(os.Args[2:])

	ctx, cancel, a := connect(log)
	defer cancel()
	defer a.Close()

	b, stored, err := a.Backups.Create(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Backup failed")
	}
	path := filepath.Join(*out, b.Name)
	if err := os.WriteFile(path, b.Data, 0o644); err != nil {
		log.Fatal().Err(err).Str("path", path).Msg("Failed to write backup")
	}

	fmt.Printf("Backup written: %s (%d records)\n", path, b.Document.RecordCount)
	for _, loc := range stored {
		fmt.Printf("Stored: %s\n", loc)
	}
}

func runBackupFetch(log zerolog.Logger) {
	fs := flag.NewFlagSet("backup-fetch", flag.ExitOnError)
	uri := fs.String("gcs-uri", "", "GCS URI of the backup (gs://bucket/object)")
	out := fs.String("out", "", "Optional file to save the backup to")
	fs.Parse(os.Args[2:])

	if *uri == "" {
		log.Fatal().Msg("Error: --gcs-uri is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	uploader, err := gcsuploader.New(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create GCS client")
	}
	defer uploader.Close()

	data, err := uploader.Download(ctx, *uri)
	if err != nil {
		log.Fatal().Err(err).Msg("Download failed")
	}
	doc, err := backup.Decode(data)
	if err != nil {
		log.Fatal().Err(err).Msg("Not a backup document")
	}
	if *out != "" {
		if err := os.WriteFile(*out, data, 0o644); err != nil {
			log.Fatal().Err(err).Msg("Failed to save backup")
		}
	}

	fmt.Printf("Created: %s\nRecords: %d\n", doc.Created, doc.RecordCount)
}

func runJournal(log zerolog.Logger) {
	fs := flag.NewFlagSet("journal", flag.ExitOnError)
	user := fs.String("user", "", "User identifier (required)")
	limit := fs.Int("limit", 20, "Maximum number of operations")
	fs.Parse(os.Args[2:])

	if *user == "" {
		log.Fatal().Msg("Error: --user is required")
	}

	ctx, cancel, a := connect(log)
	defer cancel()
	defer a.Close()

	if a.Operations == nil {
		log.Fatal().Msg("Operation journal is disabled (journal.project_id is not set)")
	}
	rows, err := a.Operations.ListRecentOperations(ctx, *user, *limit)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list operations")
	}

	fmt.Printf("%-20s %-7s %5s  %s\n", "TIME", "ACTION", "ROW", "DESCRIPTION")
	for _, r := range rows {
		fmt.Printf("%-20s %-7s %5d  %s\n", r.CreatedTS.Format("2006-01-02 15:04:05"), r.Action, r.RowIndex, r.Description.StringVal)
	}
}

// describeIntent renders a classification result for the operator.
func describeIntent(in intent.Intent) string {
	switch v := in.(type) {
	case intent.VoiceCommand:
		return fmt.Sprintf("command: %s %s", v.Command, v.RawParams)
	case intent.FinanceCandidate:
		return fmt.Sprintf("finance: %s | %s | %s | %s | confidence %.2f",
			v.OperationType, v.Category, v.Description, domain.FormatAmount(v.Amount), v.Confidence)
	case intent.Clarification:
		if len(v.Suggestions) == 0 {
			return "clarification: " + v.Message
		}
		return fmt.Sprintf("clarification: %s (%s)", v.Message, strings.Join(v.Suggestions, "; "))
	default:
		return fmt.Sprintf("unknown intent %T", in)
	}
}
