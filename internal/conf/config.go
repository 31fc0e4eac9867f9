// Package conf loads and validates the application configuration through
// viper and exposes it as a typed Settings tree.
package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// MainSettings holds process-wide options.
type MainSettings struct {
	Name    string `yaml:"name"`    // node name reported in logs and alerts
	DataDir string `yaml:"datadir"` // base directory for db, buckets, image cache
	LogDir  string `yaml:"logdir"`  // directory for per-service log files
}

// DatabaseSettings selects and configures the durable store.
type DatabaseSettings struct {
	SQLite struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"sqlite"`
}

// ProviderSettings configures one external data-source client.
type ProviderSettings struct {
	Enabled   bool    `yaml:"enabled"`
	Endpoint  string  `yaml:"endpoint"`  // override base URL, empty = default
	APIKey    string  `yaml:"apikey"`    // only eBird requires one
	RateLimit float64 `yaml:"ratelimit"` // requests per second
	Timeout   int     `yaml:"timeout"`   // per-request timeout in seconds
}

// EnrichmentSettings configures the species enrichment coordinator.
type EnrichmentSettings struct {
	GBIF       ProviderSettings `yaml:"gbif"`
	Wikimedia  ProviderSettings `yaml:"wikimedia"`
	EBird      ProviderSettings `yaml:"ebird"`
	ImageCache struct {
		Enabled bool   `yaml:"enabled"`
		Dir     string `yaml:"dir"`
	} `yaml:"imagecache"`
	Retry struct {
		Attempts  int     `yaml:"attempts"`
		BaseDelay float64 `yaml:"basedelay"` // seconds
		MaxDelay  float64 `yaml:"maxdelay"`  // seconds
		Jitter    float64 `yaml:"jitter"`
	} `yaml:"retry"`
}

// AlertRuleSettings describes one rule instance built by the engine.
type AlertRuleSettings struct {
	Type     string   `yaml:"type"` // rare_species, first_detection, first_return
	Enabled  bool     `yaml:"enabled"`
	Species  []string `yaml:"species"` // rare_species only
	Period   string   `yaml:"period"`  // first_return only, e.g. "2 months"
	Severity string   `yaml:"severity"`
}

// AlertSettings configures the alert rule engine.
type AlertSettings struct {
	Enabled bool                `yaml:"enabled"`
	Rules   []AlertRuleSettings `yaml:"rules"`
}

// ChannelSettings describes one notification delivery channel.
type ChannelSettings struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"` // email, telegram, mqtt
	Enabled    bool   `yaml:"enabled"`
	Realtime   bool   `yaml:"realtime"`
	Digest     bool   `yaml:"digest"`
	DigestTime string `yaml:"digesttime"` // "HH:MM", required when Digest is true

	// shoutrrr channels (email, telegram)
	URL string `yaml:"url"` // shoutrrr service URL with credentials

	// mqtt channel
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// NotificationSettings configures delivery and summary accumulation.
type NotificationSettings struct {
	Enabled    bool              `yaml:"enabled"`
	Channels   []ChannelSettings `yaml:"channels"`
	Retention  string            `yaml:"retention"`  // e.g. "30 days"
	BucketFile string            `yaml:"bucketfile"` // summary bucket JSON path
}

// Settings is the root of the configuration tree.
type Settings struct {
	Main         MainSettings         `yaml:"main"`
	Database     DatabaseSettings     `yaml:"database"`
	Enrichment   EnrichmentSettings   `yaml:"enrichment"`
	Alerts       AlertSettings        `yaml:"alerts"`
	Notification NotificationSettings `yaml:"notification"`
}

var (
	settingsInstance *Settings
	once             sync.Once
	settingsMutex    sync.RWMutex
)

// Load reads the configuration from disk, applies defaults, validates it
// and stores it as the package singleton.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}
	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}
	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}
	settingsInstance = settings
	return settingsInstance, nil
}

func initViper() error {
	viper.SetConfigType("yaml")
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}
	viper.SetConfigName("config")

	setDefaultConfig()

	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !asConfigFileNotFound(err, &configFileNotFoundError) {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// No config file found, run with defaults.
	}
	return nil
}

func asConfigFileNotFound(err error, target *viper.ConfigFileNotFoundError) bool {
	cfnf, ok := err.(viper.ConfigFileNotFoundError)
	if ok {
		*target = cfnf
	}
	return ok
}

// GetDefaultConfigPaths returns the directories searched for config.yaml.
func GetDefaultConfigPaths() ([]string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("error fetching user home directory: %w", err)
	}
	return []string{
		".",
		filepath.Join(homeDir, ".config", "birdsong-go"),
	}, nil
}

func setDefaultConfig() {
	viper.SetDefault("main.name", "BirdSong-Go")
	viper.SetDefault("main.datadir", "data")
	viper.SetDefault("main.logdir", "logs")

	viper.SetDefault("database.sqlite.enabled", true)
	viper.SetDefault("database.sqlite.path", "data/birdsong.db")

	viper.SetDefault("enrichment.gbif.enabled", true)
	viper.SetDefault("enrichment.gbif.ratelimit", 2.0)
	viper.SetDefault("enrichment.gbif.timeout", 10)
	viper.SetDefault("enrichment.wikimedia.enabled", true)
	viper.SetDefault("enrichment.wikimedia.ratelimit", 2.0)
	viper.SetDefault("enrichment.wikimedia.timeout", 10)
	viper.SetDefault("enrichment.ebird.enabled", false)
	viper.SetDefault("enrichment.ebird.ratelimit", 1.0)
	viper.SetDefault("enrichment.ebird.timeout", 15)
	viper.SetDefault("enrichment.imagecache.enabled", false)
	viper.SetDefault("enrichment.imagecache.dir", "data/images")
	viper.SetDefault("enrichment.retry.attempts", 3)
	viper.SetDefault("enrichment.retry.basedelay", 0.5)
	viper.SetDefault("enrichment.retry.maxdelay", 8.0)
	viper.SetDefault("enrichment.retry.jitter", 0.2)

	viper.SetDefault("alerts.enabled", true)

	viper.SetDefault("notification.enabled", true)
	viper.SetDefault("notification.retention", "30 days")
	viper.SetDefault("notification.bucketfile", "data/summaries.json")
}

// ValidateSettings fails fast on malformed configuration so a broken
// subsystem never initializes half-way.
func ValidateSettings(s *Settings) error {
	if s.Database.SQLite.Enabled && s.Database.SQLite.Path == "" {
		return fmt.Errorf("database.sqlite.path is required when sqlite is enabled")
	}
	if s.Enrichment.EBird.Enabled && s.Enrichment.EBird.APIKey == "" {
		return fmt.Errorf("enrichment.ebird.apikey is required when ebird is enabled")
	}
	for i := range s.Alerts.Rules {
		r := &s.Alerts.Rules[i]
		switch r.Type {
		case "rare_species", "first_detection", "first_return":
		default:
			return fmt.Errorf("alerts.rules[%d]: unknown rule type %q", i, r.Type)
		}
		if r.Type == "first_return" && r.Enabled {
			if _, err := ParsePeriod(r.Period); err != nil {
				return fmt.Errorf("alerts.rules[%d]: %w", i, err)
			}
		}
	}
	if _, err := ParsePeriod(s.Notification.Retention); err != nil {
		return fmt.Errorf("notification.retention: %w", err)
	}
	seen := make(map[string]bool, len(s.Notification.Channels))
	for i := range s.Notification.Channels {
		c := &s.Notification.Channels[i]
		if c.Name == "" {
			return fmt.Errorf("notification.channels[%d]: name is required", i)
		}
		if seen[c.Name] {
			return fmt.Errorf("notification.channels[%d]: duplicate channel name %q", i, c.Name)
		}
		seen[c.Name] = true
		switch c.Type {
		case "email", "telegram", "mqtt":
		default:
			return fmt.Errorf("notification.channels[%d]: unknown channel type %q", i, c.Type)
		}
		if c.Digest {
			if _, err := ParseClock(c.DigestTime); err != nil {
				return fmt.Errorf("notification.channels[%d]: %w", i, err)
			}
		}
	}
	return nil
}

// Setting returns the singleton settings instance, loading it on first use.
func Setting() *Settings {
	once.Do(func() {
		if settingsInstance == nil {
			if _, err := Load(); err != nil {
				panic(fmt.Sprintf("error loading settings: %v", err))
			}
		}
	})
	return GetSettings()
}

// GetSettings returns the current settings instance without triggering a load.
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// SetSettings replaces the singleton, used by tests and by commands that
// build settings programmatically.
func SetSettings(s *Settings) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()
	settingsInstance = s
}

// SaveSettings writes the settings as YAML to the given path.
func SaveSettings(s *Settings, path string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("error marshaling settings to yaml: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("error creating config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}
	return nil
}
