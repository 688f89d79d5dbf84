// Package config loads catalogsync's runtime configuration.
//
// Sources, lowest precedence first:
//
//  1. built-in defaults
//  2. a config file: --config, or catalogsync.{yaml,toml,json} in the working
//     directory or $HOME/.config/catalogsync
//  3. a .env file in the working directory (never overrides variables that
//     are already set)
//  4. environment variables: CATALOGSYNC_<KEY> with dots replaced by
//     underscores, plus DATABASE_URL and AZURE_STORAGE_CONNECTION_STRING
//  5. command-line flags bound through LoadOptions.Flags
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/steveyegge/catalogsync/internal/catalog/assets"
	"github.com/steveyegge/catalogsync/internal/catalog/daemon"
	"github.com/steveyegge/catalogsync/internal/logging"
)

// EnvPrefix prefixes every catalogsync environment variable.
const EnvPrefix = "CATALOGSYNC"

// Config holds all runtime settings.
type Config struct {
	DatabaseURL string         `mapstructure:"database_url"`
	StateFile   string         `mapstructure:"state_file"`
	Feed        FeedConfig     `mapstructure:"feed"`
	Assets      AssetsConfig   `mapstructure:"assets"`
	Store       StoreConfig    `mapstructure:"store"`
	Sync        SyncConfig     `mapstructure:"sync"`
	Schedule    ScheduleConfig `mapstructure:"schedule"`
	HTTP        HTTPConfig     `mapstructure:"http"`
	Lookup      LookupConfig   `mapstructure:"lookup"`
	Log         LogConfig      `mapstructure:"log"`
}

// FeedConfig locates the product feed.
type FeedConfig struct {
	Path string `mapstructure:"path"`
	// AssetRoot is where image files named by the feed live
	// (default: the feed's directory).
	AssetRoot string `mapstructure:"asset_root"`
}

// AssetsConfig selects the asset store.
type AssetsConfig struct {
	Backend          string        `mapstructure:"backend"`
	Dir              string        `mapstructure:"dir"`
	BaseURL          string        `mapstructure:"base_url"`
	Container        string        `mapstructure:"container"`
	ConnectionString string        `mapstructure:"connection_string"`
	Timeout          time.Duration `mapstructure:"timeout"`
}

// StoreConfig tunes the record store.
type StoreConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxOpenConns int           `mapstructure:"max_open_conns"`
}

// SyncConfig tunes reconciliation.
type SyncConfig struct {
	UploadConcurrency int `mapstructure:"upload_concurrency"`
}

// ScheduleConfig configures the daemon.
type ScheduleConfig struct {
	DailyRunTime string        `mapstructure:"daily_run_time"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// Location is an IANA zone name; empty or "Local" means the host zone.
	Location   string        `mapstructure:"location"`
	RunOnStart bool          `mapstructure:"run_on_start"`
	WatchFeed  bool          `mapstructure:"watch_feed"`
	Debounce   time.Duration `mapstructure:"debounce"`
}

// HTTPConfig configures the dashboard listener.
type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

// LookupConfig tunes the lookup cache.
type LookupConfig struct {
	CacheSize int           `mapstructure:"cache_size"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// LoadOptions controls where Load looks.
type LoadOptions struct {
	// ConfigFile is an explicit config file; it must exist.
	ConfigFile string

	// EnvFile is a dotenv file to read (default ".env"; missing is fine).
	EnvFile string

	// SearchPaths replaces the default config file search path.
	SearchPaths []string

	// Flags maps config keys to command-line flags that override them
	// when set.
	Flags map[string]*pflag.Flag
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database_url", "file:.catalogsync/catalog.db")
	v.SetDefault("state_file", ".catalogsync/state.toml")

	v.SetDefault("feed.path", "products.xml")
	v.SetDefault("feed.asset_root", "")

	v.SetDefault("assets.backend", assets.BackendFS)
	v.SetDefault("assets.dir", ".catalogsync/assets")
	v.SetDefault("assets.base_url", "/assets")
	v.SetDefault("assets.container", assets.DefaultContainer)
	v.SetDefault("assets.connection_string", "")
	v.SetDefault("assets.timeout", 30*time.Second)

	v.SetDefault("store.timeout", 10*time.Second)
	v.SetDefault("store.max_open_conns", 10)

	v.SetDefault("sync.upload_concurrency", 4)

	v.SetDefault("schedule.daily_run_time", "01:00")
	v.SetDefault("schedule.poll_interval", time.Second)
	v.SetDefault("schedule.location", "Local")
	v.SetDefault("schedule.run_on_start", false)
	v.SetDefault("schedule.watch_feed", false)
	v.SetDefault("schedule.debounce", 500*time.Millisecond)

	v.SetDefault("http.addr", ":8501")

	v.SetDefault("lookup.cache_size", 256)
	v.SetDefault("lookup.cache_ttl", 5*time.Minute)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
}

// Load reads and validates the configuration.
func Load(opts LoadOptions) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if err := readConfigFile(v, opts); err != nil {
		return nil, err
	}

	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if err := loadDotEnv(envFile); err != nil {
		return nil, err
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("database_url", EnvPrefix+"_DATABASE_URL", "DATABASE_URL"); err != nil {
		return nil, fmt.Errorf("failed to bind env: %w", err)
	}
	if err := v.BindEnv("assets.connection_string", EnvPrefix+"_ASSETS_CONNECTION_STRING", "AZURE_STORAGE_CONNECTION_STRING"); err != nil {
		return nil, fmt.Errorf("failed to bind env: %w", err)
	}

	for key, flag := range opts.Flags {
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return nil, fmt.Errorf("failed to bind flag %s: %w", flag.Name, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func readConfigFile(v *viper.Viper, opts LoadOptions) error {
	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", opts.ConfigFile, err)
		}
		return nil
	}

	v.SetConfigName("catalogsync")
	paths := opts.SearchPaths
	if paths == nil {
		paths = []string{".", "$HOME/.config/catalogsync"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// loadDotEnv exports the variables of a dotenv file that are not already set.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}

	env := viper.New()
	env.SetConfigFile(path)
	env.SetConfigType("env")
	if err := env.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read env file %s: %w", path, err)
	}

	for _, key := range env.AllKeys() {
		name := strings.ToUpper(key)
		if _, set := os.LookupEnv(name); set {
			continue
		}
		if err := os.Setenv(name, env.GetString(key)); err != nil {
			return fmt.Errorf("failed to export %s: %w", name, err)
		}
	}
	return nil
}

// Validate checks settings that would otherwise fail later at runtime.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.DatabaseURL) == "" {
		errs = append(errs, fmt.Errorf("database_url is required"))
	}
	if strings.TrimSpace(c.Feed.Path) == "" {
		errs = append(errs, fmt.Errorf("feed.path is required"))
	}

	switch c.Assets.Backend {
	case assets.BackendFS:
		if c.Assets.Dir == "" {
			errs = append(errs, fmt.Errorf("assets.dir is required for the fs backend"))
		}
	case assets.BackendAzure:
		if c.Assets.ConnectionString == "" {
			errs = append(errs, fmt.Errorf("assets.connection_string (or AZURE_STORAGE_CONNECTION_STRING) is required for the azure backend"))
		}
		if c.Assets.Container == "" {
			errs = append(errs, fmt.Errorf("assets.container is required for the azure backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("assets.backend must be %q or %q, got %q", assets.BackendFS, assets.BackendAzure, c.Assets.Backend))
	}

	if c.Sync.UploadConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("sync.upload_concurrency must be positive, got %d", c.Sync.UploadConcurrency))
	}
	if _, err := daemon.ParseDailyTime(c.Schedule.DailyRunTime); err != nil {
		errs = append(errs, fmt.Errorf("schedule.daily_run_time: %w", err))
	}
	if c.Schedule.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("schedule.poll_interval must be positive"))
	}
	if _, err := c.ScheduleLocation(); err != nil {
		errs = append(errs, err)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.Log.Format != logging.FormatText && c.Log.Format != logging.FormatJSON {
		errs = append(errs, fmt.Errorf("log.format must be %q or %q, got %q", logging.FormatText, logging.FormatJSON, c.Log.Format))
	}

	return errors.Join(errs...)
}

// ScheduleLocation resolves Schedule.Location.
func (c *Config) ScheduleLocation() (*time.Location, error) {
	switch c.Schedule.Location {
	case "", "Local", "local":
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Schedule.Location)
	if err != nil {
		return nil, fmt.Errorf("schedule.location: %w", err)
	}
	return loc, nil
}

// AssetRoot returns the directory image files are read from.
func (c *Config) AssetRoot() string {
	if c.Feed.AssetRoot != "" {
		return c.Feed.AssetRoot
	}
	return filepath.Dir(c.Feed.Path)
}

// LoggingOptions converts the log settings for logging.New.
func (c *Config) LoggingOptions() logging.Options {
	return logging.Options{
		Level:      c.Log.Level,
		Format:     c.Log.Format,
		File:       c.Log.File,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
	}
}

// AssetOptions converts the asset settings for assets.New.
func (c *Config) AssetOptions() assets.Options {
	return assets.Options{
		Backend:          c.Assets.Backend,
		Dir:              c.Assets.Dir,
		BaseURL:          c.Assets.BaseURL,
		Container:        c.Assets.Container,
		ConnectionString: c.Assets.ConnectionString,
		Timeout:          c.Assets.Timeout,
	}
}

// DaemonConfig converts the schedule settings for daemon.NewWithConfig.
// The logger is left for the caller to set.
func (c *Config) DaemonConfig() (*daemon.Config, error) {
	loc, err := c.ScheduleLocation()
	if err != nil {
		return nil, err
	}
	return &daemon.Config{
		DailyRunTime:     c.Schedule.DailyRunTime,
		PollInterval:     c.Schedule.PollInterval,
		Location:         loc,
		RunOnStart:       c.Schedule.RunOnStart,
		WatchFeed:        c.Schedule.WatchFeed,
		DebounceInterval: c.Schedule.Debounce,
		StateFile:        c.StateFile,
	}, nil
}
