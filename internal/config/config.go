package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// SourceConfig describes a single calendar source.
type SourceConfig struct {
	// Type selects the adapter: "ics" or "api".
	Type string `yaml:"type" json:"type"`
	// ID is an internal identifier used for logging and id-qualification.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label.
	Name string `yaml:"name" json:"name"`
	// Owner is the person events from this source are attributed to,
	// unless the source supplies a per-event owner itself.
	Owner string `yaml:"owner" json:"owner"`
	// URL is the feed or API endpoint.
	URL string `yaml:"url" json:"url"`
	// Token is the bearer token for "api" sources. It is seeded into the
	// auth-token slot at startup so other processes share it.
	Token string `yaml:"token,omitempty" json:"token,omitempty"`
}

// GeneratorConfig configures the remote text-generation endpoint.
type GeneratorConfig struct {
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	APIKey   string `yaml:"api_key,omitempty" json:"api_key,omitempty"`
	Model    string `yaml:"model" json:"model"`
	// Temperature and MaxTokens are fixed per deployment, not per call.
	Temperature float64 `yaml:"temperature" json:"temperature"`
	MaxTokens   int     `yaml:"max_tokens" json:"max_tokens"`
}

// WeatherConfig holds the fixed coordinates used by the default locator.
type WeatherConfig struct {
	Latitude  float64 `yaml:"latitude" json:"latitude"`
	Longitude float64 `yaml:"longitude" json:"longitude"`
}

// BudgetConfig holds the character budgets for each summary variant.
type BudgetConfig struct {
	Today      int `yaml:"today" json:"today"`
	WeekMedium int `yaml:"week_medium" json:"week_medium"`
	WeekLarge  int `yaml:"week_large" json:"week_large"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the display API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the display API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone used as canonical display zone.
	Timezone string `yaml:"timezone" json:"timezone"`

	// WeekStart controls which weekday opens the calendar week:
	// "monday" (default) or "sunday".
	WeekStart string `yaml:"week_start" json:"week_start"`

	// RefreshCron is a cron-style schedule string for periodic refresh.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// RefreshIntervalMinutes is the needs-refresh threshold: a scheduled
	// cycle is skipped while the last successful refresh is younger.
	RefreshIntervalMinutes int `yaml:"refresh_interval_minutes" json:"refresh_interval_minutes"`

	// HorizonDays is the number of future days to aggregate.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`

	// DBPath is the slot-cache database file shared with display processes.
	DBPath string `yaml:"db_path" json:"db_path"`

	// CacheDir is the on-disk HTTP cache for ICS sources.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// PrimaryOwner is always ordered first in summaries.
	PrimaryOwner string `yaml:"primary_owner" json:"primary_owner"`

	Sources []SourceConfig `yaml:"sources" json:"sources"`

	Generator GeneratorConfig `yaml:"generator" json:"generator"`
	Weather   WeatherConfig   `yaml:"weather" json:"weather"`
	Budgets   BudgetConfig    `yaml:"budgets" json:"budgets"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:                 "127.0.0.1:8080",
		Timezone:               "Asia/Seoul",
		WeekStart:              "monday",
		RefreshCron:            "*/15 * * * *",
		RefreshIntervalMinutes: 30,
		HorizonDays:            7,
		DBPath:                 "./var/glancecal.db",
		CacheDir:               "./var/ics-cache",
		Sources:                []SourceConfig{},
		Generator: GeneratorConfig{
			Endpoint:    "https://api.openai.com/v1/chat/completions",
			Model:       "gpt-4o-mini",
			Temperature: 0.4,
			MaxTokens:   300,
		},
		Weather: WeatherConfig{
			Latitude:  37.5665,
			Longitude: 126.9780,
		},
		Budgets: BudgetConfig{
			Today:      200,
			WeekMedium: 250,
			WeekLarge:  400,
		},
		BasicAuth: nil,
	}
}

// Normalize fills in missing/zero values with defaults so partially-filled
// configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()

	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	switch c.WeekStart {
	case "monday", "sunday":
	default:
		c.WeekStart = "monday"
	}
	if c.RefreshCron == "" {
		c.RefreshCron = def.RefreshCron
	}
	if c.RefreshIntervalMinutes <= 0 {
		c.RefreshIntervalMinutes = def.RefreshIntervalMinutes
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = def.HorizonDays
	}
	if c.DBPath == "" {
		c.DBPath = def.DBPath
	}
	if c.CacheDir == "" {
		c.CacheDir = def.CacheDir
	}
	if c.Sources == nil {
		c.Sources = []SourceConfig{}
	}
	if c.Generator.Endpoint == "" {
		c.Generator.Endpoint = def.Generator.Endpoint
	}
	if c.Generator.Model == "" {
		c.Generator.Model = def.Generator.Model
	}
	if c.Generator.Temperature <= 0 {
		c.Generator.Temperature = def.Generator.Temperature
	}
	if c.Generator.MaxTokens <= 0 {
		c.Generator.MaxTokens = def.Generator.MaxTokens
	}
	if c.Weather.Latitude == 0 && c.Weather.Longitude == 0 {
		c.Weather = def.Weather
	}
	if c.Budgets.Today <= 0 {
		c.Budgets.Today = def.Budgets.Today
	}
	if c.Budgets.WeekMedium <= 0 {
		c.Budgets.WeekMedium = def.Budgets.WeekMedium
	}
	if c.Budgets.WeekLarge <= 0 {
		c.Budgets.WeekLarge = def.Budgets.WeekLarge
	}
}

// Load loads configuration from the given YAML path.
//
// If the file does not exist, a default config is written there (0600) and
// returned; otherwise the file is read, unmarshalled and normalized.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the configuration atomically (temp file + rename) with 0600
// permissions, creating the parent directory if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".glancecal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}

// Save is a convenience method that delegates to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
