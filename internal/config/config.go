package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SQUARECROP_"

// Config holds the application configuration
type Config struct {
	View    ViewConfig    `yaml:"view"`
	Output  OutputConfig  `yaml:"output"`
	Export  ExportConfig  `yaml:"export"`
	Intake  IntakeConfig  `yaml:"intake"`
	Server  ServerConfig  `yaml:"server"`
	Suggest SuggestConfig `yaml:"suggest"`
	Log     LogConfig     `yaml:"log"`
}

// ViewConfig holds the editor geometry
type ViewConfig struct {
	ContainerWidth  float64 `yaml:"container_width"`
	ContainerHeight float64 `yaml:"container_height"`
	MinCropSize     float64 `yaml:"min_crop_size"`
	CropRatio       float64 `yaml:"crop_ratio"`
}

// OutputConfig holds configuration for cropped output
type OutputConfig struct {
	Format      string `yaml:"format"`
	Quality     int    `yaml:"quality"`
	Lossless    bool   `yaml:"lossless"`
	DefaultName string `yaml:"default_name"`
}

// ExportConfig holds where exported crops go
type ExportConfig struct {
	Dir         string        `yaml:"dir"`
	FallbackDir string        `yaml:"fallback_dir"`
	Overwrite   bool          `yaml:"overwrite"`
	Delay       time.Duration `yaml:"delay"`
}

// IntakeConfig holds configuration for batch uploads
type IntakeConfig struct {
	MaxConcurrency int `yaml:"max_concurrency"`
	MinImageSize   int `yaml:"min_image_size"`
}

// ServerConfig holds the HTTP server settings
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Suggestion backends
const (
	SuggestNone      = "none"
	SuggestSmartcrop = "smartcrop"
	SuggestOllama    = "ollama"
	SuggestLlamacpp  = "llamacpp"
)

// SuggestConfig selects how crop suggestions are made
type SuggestConfig struct {
	Backend  string  `yaml:"backend"`
	URL      string  `yaml:"url"`
	Model    string  `yaml:"model"`
	SendSize int     `yaml:"send_size"`
	Zoom     float64 `yaml:"zoom"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		View: ViewConfig{
			ContainerWidth:  600,
			ContainerHeight: 400,
			MinCropSize:     50,
			CropRatio:       0.6,
		},
		Output: OutputConfig{
			Format:      "jpeg",
			Quality:     90,
			DefaultName: "cropped-image",
		},
		Export: ExportConfig{
			Dir:         "",
			FallbackDir: "./output",
			Delay:       100 * time.Millisecond,
		},
		Intake: IntakeConfig{
			MinImageSize: 1,
		},
		Server: ServerConfig{
			Addr:            ":8080",
			MaxUploadBytes:  64 << 20,
			ShutdownTimeout: 5 * time.Second,
		},
		Suggest: SuggestConfig{
			Backend:  SuggestSmartcrop,
			URL:      "http://localhost:11434",
			Model:    "openbmb/minicpm-v4.5",
			SendSize: 1024,
			Zoom:     1,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// LoadFromFile loads configuration from a YAML file. Keys missing from the
// file keep their default values.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// Load reads filename when it exists, falls back to defaults when it does
// not, then applies environment overrides and validates.
func Load(filename string) (*Config, error) {
	config := Default()
	if filename != "" {
		loaded, err := LoadFromFile(filename)
		switch {
		case err == nil:
			config = loaded
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, err
		}
	}
	if err := config.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ApplyEnv overrides settings from SQUARECROP_* variables read through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		if v, ok := lookup(EnvPrefix + key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(EnvPrefix + key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = d
		}
	}

	str("ADDR", &c.Server.Addr)
	str("EXPORT_DIR", &c.Export.Dir)
	str("FALLBACK_DIR", &c.Export.FallbackDir)
	dur("EXPORT_DELAY", &c.Export.Delay)
	str("OUTPUT_FORMAT", &c.Output.Format)
	num("OUTPUT_QUALITY", &c.Output.Quality)
	str("SUGGEST_BACKEND", &c.Suggest.Backend)
	str("OLLAMA_URL", &c.Suggest.URL)
	str("SUGGEST_URL", &c.Suggest.URL)
	str("MODEL", &c.Suggest.Model)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FILE", &c.Log.File)

	return errors.Join(errs...)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.View.ContainerWidth <= 0 || c.View.ContainerHeight <= 0 {
		return fmt.Errorf("view.container_width and view.container_height must be positive")
	}

	if c.View.MinCropSize <= 0 {
		return fmt.Errorf("view.min_crop_size must be positive")
	}

	if c.View.CropRatio <= 0 || c.View.CropRatio > 1 {
		return fmt.Errorf("view.crop_ratio must be in (0, 1]")
	}

	switch strings.ToLower(c.Output.Format) {
	case "jpeg", "jpg", "png", "webp":
	default:
		return fmt.Errorf("output.format must be one of jpeg, png, webp")
	}

	if c.Output.Quality < 1 || c.Output.Quality > 100 {
		return fmt.Errorf("output.quality must be between 1 and 100")
	}

	if c.Export.Delay < 0 {
		return fmt.Errorf("export.delay must not be negative")
	}

	if c.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("server.max_upload_bytes must be positive")
	}

	switch c.Suggest.Backend {
	case SuggestNone, SuggestSmartcrop:
	case SuggestOllama, SuggestLlamacpp:
		if c.Suggest.URL == "" || c.Suggest.Model == "" {
			return fmt.Errorf("suggest.url and suggest.model are required for the %s backend", c.Suggest.Backend)
		}
	default:
		return fmt.Errorf("suggest.backend must be one of none, smartcrop, ollama, llamacpp")
	}

	if c.Suggest.Zoom < 0 || c.Suggest.Zoom > 1 {
		return fmt.Errorf("suggest.zoom must be between 0 and 1")
	}

	return nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.yaml"
	}
	return filepath.Join(home, ".config", "squarecrop", "config.yaml")
}
