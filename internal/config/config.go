package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/reggiezhang/dayone2-to-evernote/internal/parser"
)

// AppName names the config directory and the default store directory
const AppName = "dayone2-to-evernote"

// NotebookDateFormat is the date layout used in default notebook names
const NotebookDateFormat = "Mon Jan 02 2006"

// Config holds all application configuration
type Config struct {
	JournalPath    string         `mapstructure:"journal_path" validate:"required,dir"`
	JournalFile    string         `mapstructure:"journal_file"`
	Notebook       string         `mapstructure:"notebook"`
	SourceName     string         `mapstructure:"source_name"`
	After          string         `mapstructure:"after"`
	Reset          bool           `mapstructure:"reset"`
	DryRun         bool           `mapstructure:"dry_run"`
	Store          StoreConfig    `mapstructure:"store"`
	State          StateConfig    `mapstructure:"state"`
	Database       DatabaseConfig `mapstructure:"database"`
	Sync           SyncConfig     `mapstructure:"sync"`
	Log            LogConfig      `mapstructure:"log"`
	IgnorePatterns []string       `mapstructure:"ignore_patterns"`
}

// StoreConfig selects the note store
type StoreConfig struct {
	DSN          string `mapstructure:"dsn" validate:"required"`
	Token        string `mapstructure:"token"`
	TimeoutSec   int    `mapstructure:"timeout_sec" validate:"min=0"`
	MaxRetries   int    `mapstructure:"max_retries" validate:"min=0,max=10"`
	RetryDelayMs int    `mapstructure:"retry_delay_ms" validate:"min=0"`
}

// StateConfig selects where sync state is kept
type StateConfig struct {
	Backend string `mapstructure:"backend" validate:"oneof=file sqlite memory"`
}

// DatabaseConfig holds PostgreSQL connection settings for the postgres note store
type DatabaseConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port" validate:"omitempty,min=1,max=65535"`
	User        string `mapstructure:"user"`
	Password    string `mapstructure:"password"`
	Database    string `mapstructure:"database"`
	Schema      string `mapstructure:"schema"` // Optional: derived from journal name if not specified
	SSLMode     string `mapstructure:"sslmode"`
	MaxConns    int32  `mapstructure:"max_conns" validate:"min=0"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
}

// SyncConfig holds sync behavior settings
type SyncConfig struct {
	MarkerTag         string `mapstructure:"marker_tag" validate:"required"`
	Workers           int    `mapstructure:"workers" validate:"min=1,max=16"`
	DebounceMs        int    `mapstructure:"debounce_ms" validate:"min=0"`
	RetryAttempts     int    `mapstructure:"retry_attempts" validate:"min=0,max=10"`
	RetryDelayMs      int    `mapstructure:"retry_delay_ms" validate:"min=0"`
	SkipMissingPhotos bool   `mapstructure:"skip_missing_photos"`
}

// LogConfig controls where logs go
type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" validate:"min=0"`
	MaxBackups int    `mapstructure:"max_backups" validate:"min=0"`
	MaxAgeDays int    `mapstructure:"max_age_days" validate:"min=0"`
}

// Configured reports whether enough is set to build a connection string
func (d *DatabaseConfig) Configured() bool {
	return d.Host != "" && d.Database != ""
}

// ConnectionString returns the PostgreSQL connection string
func (d *DatabaseConfig) ConnectionString() string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}
	port := d.Port
	if port == 0 {
		port = 5432
	}
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     fmt.Sprintf("%s:%d", d.Host, port),
		Path:     "/" + d.Database,
		RawQuery: "sslmode=" + url.QueryEscape(sslMode),
	}
	return u.String()
}

// AfterTime parses the after cutoff. It returns nil when no cutoff is set.
func (c *Config) AfterTime() (*time.Time, error) {
	if strings.TrimSpace(c.After) == "" {
		return nil, nil
	}
	t, err := parser.ParseTimestamp(c.After)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// DefaultNotebook returns "<source>: <date>", e.g. "Dayone: Tue May 10 2016"
func DefaultNotebook(source string, now time.Time) string {
	if source == "" {
		source = "Dayone"
	}
	return source + ": " + now.Format(NotebookDateFormat)
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		SourceName: "Dayone",
		Store: StoreConfig{
			DSN:          filepath.Join(getConfigDir(), "notes"),
			TimeoutSec:   30,
			MaxRetries:   3,
			RetryDelayMs: 500,
		},
		State: StateConfig{
			Backend: "file",
		},
		Database: DatabaseConfig{
			Port:     5432,
			SSLMode:  "require",
			MaxConns: 10,
		},
		Sync: SyncConfig{
			MarkerTag:    "dayone",
			Workers:      1,
			DebounceMs:   2000,
			RetryDelayMs: 1000,
		},
		Log: LogConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		IgnorePatterns: []string{
			".dayone2-to-evernote/**",
			".git/**",
			"**/.DS_Store",
			"**/*.tmp",
			"**/*~",
		},
	}
}

// flagKeys maps command line flags to configuration keys
var flagKeys = map[string]string{
	"journal-file":  "journal_file",
	"notebook":      "notebook",
	"after":         "after",
	"reset":         "reset",
	"dry-run":       "dry_run",
	"store":         "store.dsn",
	"state-backend": "state.backend",
	"workers":       "sync.workers",
	"log-file":      "log.file",
}

// Load reads configuration from file, environment and the given flags.
// A non-empty journalPath overrides journal_path from every other source.
func Load(configPath, journalPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	// Set defaults
	defaults := DefaultConfig()
	v.SetDefault("journal_path", "")
	v.SetDefault("journal_file", "")
	v.SetDefault("notebook", "")
	v.SetDefault("after", "")
	v.SetDefault("reset", false)
	v.SetDefault("dry_run", false)
	v.SetDefault("source_name", defaults.SourceName)
	v.SetDefault("store.dsn", defaults.Store.DSN)
	v.SetDefault("store.token", "")
	v.SetDefault("store.timeout_sec", defaults.Store.TimeoutSec)
	v.SetDefault("store.max_retries", defaults.Store.MaxRetries)
	v.SetDefault("store.retry_delay_ms", defaults.Store.RetryDelayMs)
	v.SetDefault("state.backend", defaults.State.Backend)
	v.SetDefault("database.port", defaults.Database.Port)
	v.SetDefault("database.sslmode", defaults.Database.SSLMode)
	v.SetDefault("database.max_conns", defaults.Database.MaxConns)
	v.SetDefault("sync.marker_tag", defaults.Sync.MarkerTag)
	v.SetDefault("sync.workers", defaults.Sync.Workers)
	v.SetDefault("sync.debounce_ms", defaults.Sync.DebounceMs)
	v.SetDefault("sync.retry_attempts", defaults.Sync.RetryAttempts)
	v.SetDefault("sync.retry_delay_ms", defaults.Sync.RetryDelayMs)
	v.SetDefault("sync.skip_missing_photos", false)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", defaults.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", defaults.Log.MaxBackups)
	v.SetDefault("log.max_age_days", defaults.Log.MaxAgeDays)
	v.SetDefault("ignore_patterns", defaults.IgnorePatterns)

	// Configure config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Search for config in standard locations
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(getConfigDir())
	}

	// Enable environment variable substitution
	v.AutomaticEnv()
	v.SetEnvPrefix("DO2EN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is okay, everything has a default or a flag
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}
	if journalPath != "" {
		v.Set("journal_path", journalPath)
	}

	// Unmarshal into struct
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Expand environment variables in secrets
	cfg.Database.Password = os.ExpandEnv(cfg.Database.Password)
	cfg.Store.Token = os.ExpandEnv(cfg.Store.Token)

	// Expand paths
	cfg.JournalPath = expandPath(cfg.JournalPath)
	if !strings.Contains(cfg.Store.DSN, "://") {
		cfg.Store.DSN = expandPath(cfg.Store.DSN)
	}
	cfg.Log.File = expandPath(cfg.Log.File)

	// Derive schema name from journal folder if not specified
	if cfg.Database.Schema == "" {
		cfg.Database.Schema = SanitizeIdentifier(filepath.Base(cfg.JournalPath))
	}

	if cfg.Notebook == "" {
		cfg.Notebook = DefaultNotebook(cfg.SourceName, time.Now())
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks cfg against its validation tags
func Validate(cfg *Config) error {
	validate := validator.New()

	// Register custom validation for directory existence
	validate.RegisterValidation("dir", func(fl validator.FieldLevel) bool {
		path := fl.Field().String()
		if path == "" {
			return false
		}
		info, err := os.Stat(path)
		if err != nil {
			return false
		}
		return info.IsDir()
	})

	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	if _, err := cfg.AfterTime(); err != nil {
		return fmt.Errorf("config validation failed: after: %w", err)
	}
	return nil
}

// getConfigDir returns the appropriate config directory for the OS
func getConfigDir() string {
	switch runtime.GOOS {
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, AppName)
		}
		return filepath.Join(os.Getenv("USERPROFILE"), ".config", AppName)
	default:
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			return filepath.Join(xdgConfig, AppName)
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", AppName)
	}
}

// ConfigDir returns the directory searched for config.yaml, creating it if needed
func ConfigDir() (string, error) {
	dir := getConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	return dir, nil
}

// expandPath expands ~ and environment variables in a path
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, path[1:])
	}
	return os.ExpandEnv(path)
}

// SanitizeIdentifier converts a journal name into a valid PostgreSQL identifier (schema name)
// Rules:
// - Lowercase only
// - Starts with letter or underscore
// - Contains only letters, digits, underscores
// - Spaces, hyphens and dots become underscores
// - Max 63 characters (PostgreSQL limit)
func SanitizeIdentifier(name string) string {
	name = strings.ToLower(name)

	name = strings.NewReplacer(" ", "_", "-", "_", ".", "_").Replace(name)

	// Remove any character that isn't alphanumeric or underscore
	name = nonIdentChars.ReplaceAllString(name, "")

	name = repeatedUnderscores.ReplaceAllString(name, "_")
	name = strings.Trim(name, "_")

	// Ensure it starts with a letter
	if len(name) == 0 {
		name = "journal"
	} else if unicode.IsDigit(rune(name[0])) {
		name = "journal_" + name
	}

	// PostgreSQL max identifier length is 63 characters
	if len(name) > 63 {
		name = name[:63]
		name = strings.TrimRight(name, "_")
	}

	return name
}

var (
	nonIdentChars       = regexp.MustCompile(`[^a-z0-9_]`)
	repeatedUnderscores = regexp.MustCompile(`_+`)
)
