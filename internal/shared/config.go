package shared

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	LogLevel     string             `toml:"log_level"`
	Database     DatabaseConfig     `toml:"database"`
	Server       ServerConfig       `toml:"server"`
	Storage      StorageConfig      `toml:"storage"`
	Tools        ToolsConfig        `toml:"tools"`
	Jobs         JobsConfig         `toml:"jobs"`
	Integrations IntegrationsConfig `toml:"integrations"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StorageConfig locates the directories the pipelines write into.
type StorageConfig struct {
	ExportDir  string `toml:"export_dir"`
	WorkingDir string `toml:"working_dir"`
	PreviewDir string `toml:"preview_dir"`
	TempDir    string `toml:"temp_dir"`
}

// ToolsConfig names the external binaries used for rendering and metadata.
type ToolsConfig struct {
	RawTherapee string `toml:"rawtherapee"`
	ExifTool    string `toml:"exiftool"`
	JPEGQuality int    `toml:"jpeg_quality"`
}

// JobsConfig tunes the import and export pipelines.
type JobsConfig struct {
	StackThreshold int  `toml:"stack_threshold"`
	HashBits       int  `toml:"hash_bits"`
	WriteManifest  bool `toml:"write_manifest"`
}

// IntegrationsConfig contains per-provider settings.
type IntegrationsConfig struct {
	Google GoogleConfig `toml:"google"`
	Immich ImmichConfig `toml:"immich"`
}

// GoogleConfig contains Google Photos OAuth credentials and write tuning.
type GoogleConfig struct {
	ClientID            string  `toml:"client_id"`
	ClientSecret        string  `toml:"client_secret"`
	RedirectURI         string  `toml:"redirect_uri"`
	TokenPath           string  `toml:"token_path"`
	MaxConcurrentWrites int     `toml:"max_concurrent_writes"`
	RequestsPerSecond   float64 `toml:"requests_per_second"`
	CreateBatchSize     int     `toml:"create_batch_size"`
	CreateBatchWaitMS   int     `toml:"create_batch_wait_ms"`
	AddBatchSize        int     `toml:"add_batch_size"`
	AddBatchWaitMS      int     `toml:"add_batch_wait_ms"`
}

// ImmichConfig contains the self-hosted Immich endpoint and key.
type ImmichConfig struct {
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"api_key"`
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
// Environment overrides are applied after parsing.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	config.ApplyEnv()
	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// ApplyEnv overrides secrets and paths from the environment when set.
func (c *Config) ApplyEnv() {
	envString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}

	envString("GOOGLE_CLIENT_ID", &c.Integrations.Google.ClientID)
	envString("GOOGLE_CLIENT_SECRET", &c.Integrations.Google.ClientSecret)
	envString("GOOGLE_REDIRECT_URI", &c.Integrations.Google.RedirectURI)
	envString("IMMICH_BASE_URL", &c.Integrations.Immich.BaseURL)
	envString("IMMICH_API_KEY", &c.Integrations.Immich.APIKey)
	envString("EXPORT_DIR", &c.Storage.ExportDir)
	envString("DARKROOM_LOG_LEVEL", &c.LogLevel)

	if v, ok := os.LookupEnv("GOOGLE_MAX_CONCURRENT_WRITES"); ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Integrations.Google.MaxConcurrentWrites = n
		}
	}
}

// Validate reports configuration that would prevent the pipelines from running.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("%w: database.path is required", ErrInvalidConfig)
	}
	if c.Storage.ExportDir == "" {
		return fmt.Errorf("%w: storage.export_dir is required", ErrInvalidConfig)
	}
	if c.Tools.JPEGQuality < 1 || c.Tools.JPEGQuality > 100 {
		return fmt.Errorf("%w: tools.jpeg_quality must be within 1-100, got %d", ErrInvalidConfig, c.Tools.JPEGQuality)
	}
	return nil
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s: %w", path, err)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
