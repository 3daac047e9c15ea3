package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dvloznov/finance-assistant/internal/domain"
	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	Matrix   MatrixConfig
	Sheets   SheetsConfig
	Gemini   GeminiConfig
	Access   AccessConfig
	Context  ContextConfig
	Cache    CacheConfig
	Backup   BackupConfig
	Journal  JournalConfig
	Names    NamesConfig
	Log      LogConfig
	API      APIConfig
	Workers  int
	Timezone string
}

// MatrixConfig holds chat transport credentials.
type MatrixConfig struct {
	Homeserver  string
	UserID      string `mapstructure:"user_id"`
	AccessToken string `mapstructure:"access_token"`
	// SyncFile persists the sync position so restarts do not replay history.
	SyncFile    string `mapstructure:"sync_file"`
}

// SheetsConfig points at the remote ledger.
type SheetsConfig struct {
	SpreadsheetID   string `mapstructure:"spreadsheet_id"`
	SheetName       string `mapstructure:"sheet_name"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

// GeminiConfig holds NLU settings.
type GeminiConfig struct {
	APIKey      string `mapstructure:"api_key"`
	Model       string
	Temperature float32
}

// AccessConfig is the allow-list of chat user identifiers.
type AccessConfig struct {
	AllowedUsers []string `mapstructure:"allowed_users"`
}

// ContextConfig locates the durable per-user context file.
type ContextConfig struct {
	File string
}

// CacheConfig controls the ledger snapshot lifetime.
type CacheConfig struct {
	TTL time.Duration
}

// BackupConfig lists optional backup destinations.
type BackupConfig struct {
	Dir    string
	Bucket string
}

// JournalConfig enables the BigQuery operation journal when ProjectID is set.
type JournalConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Dataset   string
	Table     string
}

// NamesConfig points at an optional YAML dictionary of name forms.
type NamesConfig struct {
	File string
}

// LogConfig controls logging.
type LogConfig struct {
	Level string
	File  string
}

// APIConfig controls the HTTP boundary.
type APIConfig struct {
	Port string
}

// Target selects which credentials Validate requires.
type Target int

const (
	// TargetBot needs the chat transport on top of the core.
	TargetBot Target = iota
	// TargetAPI serves HTTP and needs only the core.
	TargetAPI
	// TargetCLI runs operator commands against the core.
	TargetCLI
)

// Load reads configuration from file and env. Env var overrides use prefix FINBOT_.
func Load() (Config, error) {
	v := viper.New()

	v.SetDefault("matrix.sync_file", "matrix_sync.json")
	v.SetDefault("sheets.sheet_name", "Sheet1")
	v.SetDefault("sheets.credentials_file", "credentials.json")
	v.SetDefault("gemini.model", "gemini-2.5-flash")
	v.SetDefault("gemini.temperature", 0.2)
	v.SetDefault("context.file", "user_context.json")
	v.SetDefault("cache.ttl", 5*time.Minute)
	v.SetDefault("backup.dir", "backups")
	v.SetDefault("journal.dataset", "finance_assistant")
	v.SetDefault("journal.table", "operations")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "bot.log")
	v.SetDefault("api.port", "8080")
	v.SetDefault("workers", 4)
	v.SetDefault("timezone", "Europe/Moscow")

	// Keys with no default must still be known to Unmarshal for env overrides.
	for _, key := range []string{
		"matrix.homeserver", "matrix.user_id", "matrix.access_token",
		"sheets.spreadsheet_id", "gemini.api_key", "access.allowed_users",
		"backup.bucket", "journal.project_id", "names.file",
	} {
		v.SetDefault(key, "")
	}

	v.SetConfigType("yaml")
	if cfgPath := os.Getenv("FINBOT_CONFIG"); cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("FINBOT")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("Load: reading config: %v: %w", err, domain.ErrConfiguration)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("Load: unmarshal config: %v: %w", err, domain.ErrConfiguration)
	}
	c.Access.AllowedUsers = splitList(v.GetStringSlice("access.allowed_users"))
	return c, nil
}

// Validate reports every missing setting the target needs.
func (c Config) Validate(target Target) error {
	var missing []string
	if c.Sheets.SpreadsheetID == "" {
		missing = append(missing, "sheets.spreadsheet_id")
	}
	if c.Sheets.CredentialsFile == "" {
		missing = append(missing, "sheets.credentials_file")
	}
	if c.Gemini.APIKey == "" {
		missing = append(missing, "gemini.api_key")
	}
	if target != TargetCLI && len(c.Access.AllowedUsers) == 0 {
		missing = append(missing, "access.allowed_users")
	}
	if target == TargetBot {
		if c.Matrix.Homeserver == "" {
			missing = append(missing, "matrix.homeserver")
		}
		if c.Matrix.UserID == "" {
			missing = append(missing, "matrix.user_id")
		}
		if c.Matrix.AccessToken == "" {
			missing = append(missing, "matrix.access_token")
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("Validate: missing %s: %w", strings.Join(missing, ", "), domain.ErrConfiguration)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("Validate: timezone %q: %v: %w", c.Timezone, err, domain.ErrConfiguration)
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("Validate: cache.ttl must be positive: %w", domain.ErrConfiguration)
	}
	return nil
}

// Location returns the business timezone. Validate must have passed.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// splitList accepts both YAML lists and comma-separated env values.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
