package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/menta2k/photo-editor/pkg/overlay"
)

// EnvPrefix is prepended to environment overrides, e.g. PHOTOEDITOR_OUTPUT_DIR
const EnvPrefix = "PHOTOEDITOR"

// Config holds the application configuration
type Config struct {
	Source SourceConfig `json:"source" mapstructure:"source"`
	Editor EditorConfig `json:"editor" mapstructure:"editor"`
	Output OutputConfig `json:"output" mapstructure:"output"`
	Vision VisionConfig `json:"vision" mapstructure:"vision"`
	Log    LogConfig    `json:"log" mapstructure:"log"`
}

// SourceConfig holds configuration for loading images
type SourceConfig struct {
	SupportedFormats   []string `json:"supported_formats" mapstructure:"supported_formats" validate:"min=1,dive,required"`
	AutoOrient         bool     `json:"auto_orient" mapstructure:"auto_orient"`
	HTTPTimeoutSeconds int      `json:"http_timeout_seconds" mapstructure:"http_timeout_seconds" validate:"gte=1"`
	MaxBytes           int64    `json:"max_bytes" mapstructure:"max_bytes" validate:"gte=1"`
}

// EditorConfig holds configuration for edit sessions
type EditorConfig struct {
	PreviewMaxSize   int     `json:"preview_max_size" mapstructure:"preview_max_size" validate:"gte=0"`
	DefaultFontSize  float64 `json:"default_font_size" mapstructure:"default_font_size" validate:"gt=0"`
	DefaultTextColor string  `json:"default_text_color" mapstructure:"default_text_color" validate:"required"`
	FontPath         string  `json:"font_path" mapstructure:"font_path"`
}

// OutputConfig holds configuration for saved images
type OutputConfig struct {
	Dir    string `json:"dir" mapstructure:"dir" validate:"required"`
	Format string `json:"format" mapstructure:"format" validate:"oneof=png webp"`
	Prefix string `json:"prefix" mapstructure:"prefix"`
}

// VisionConfig holds configuration for model-backed crop suggestions
type VisionConfig struct {
	Backend       string  `json:"backend" mapstructure:"backend" validate:"oneof=none ollama llamacpp"`
	URL           string  `json:"url" mapstructure:"url" validate:"omitempty,url"`
	Model         string  `json:"model" mapstructure:"model"`
	SendSize      int     `json:"send_size" mapstructure:"send_size" validate:"gte=0"`
	SendQuality   int     `json:"send_quality" mapstructure:"send_quality" validate:"gte=1,lte=100"`
	MinConfidence float64 `json:"min_confidence" mapstructure:"min_confidence" validate:"gte=0,lte=1"`
	Square        bool    `json:"square" mapstructure:"square"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `json:"level" mapstructure:"level" validate:"oneof=trace debug info warn warning error"`
	Format string `json:"format" mapstructure:"format" validate:"oneof=text json"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Source: SourceConfig{
			SupportedFormats:   []string{"jpeg", "png", "gif", "webp", "bmp", "tiff"},
			AutoOrient:         true,
			HTTPTimeoutSeconds: 30,
			MaxBytes:           64 << 20,
		},
		Editor: EditorConfig{
			PreviewMaxSize:   1024,
			DefaultFontSize:  14,
			DefaultTextColor: "black",
		},
		Output: OutputConfig{
			Dir:    "./output",
			Format: "png",
		},
		Vision: VisionConfig{
			Backend:       "none",
			URL:           "http://localhost:11434",
			Model:         "qwen2.5vl:7b",
			SendSize:      1024,
			SendQuality:   85,
			MinConfidence: 0.2,
			Square:        true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadFromFile loads configuration from a JSON, YAML or TOML file, with
// PHOTOEDITOR_* environment variables taking precedence. An empty filename
// loads the defaults and environment only.
func LoadFromFile(filename string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if filename != "" {
		v.SetConfigFile(filename)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("source.supported_formats", d.Source.SupportedFormats)
	v.SetDefault("source.auto_orient", d.Source.AutoOrient)
	v.SetDefault("source.http_timeout_seconds", d.Source.HTTPTimeoutSeconds)
	v.SetDefault("source.max_bytes", d.Source.MaxBytes)

	v.SetDefault("editor.preview_max_size", d.Editor.PreviewMaxSize)
	v.SetDefault("editor.default_font_size", d.Editor.DefaultFontSize)
	v.SetDefault("editor.default_text_color", d.Editor.DefaultTextColor)
	v.SetDefault("editor.font_path", d.Editor.FontPath)

	v.SetDefault("output.dir", d.Output.Dir)
	v.SetDefault("output.format", d.Output.Format)
	v.SetDefault("output.prefix", d.Output.Prefix)

	v.SetDefault("vision.backend", d.Vision.Backend)
	v.SetDefault("vision.url", d.Vision.URL)
	v.SetDefault("vision.model", d.Vision.Model)
	v.SetDefault("vision.send_size", d.Vision.SendSize)
	v.SetDefault("vision.send_quality", d.Vision.SendQuality)
	v.SetDefault("vision.min_confidence", d.Vision.MinConfidence)
	v.SetDefault("vision.square", d.Vision.Square)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// SaveToFile saves configuration to a JSON file
func (c *Config) SaveToFile(filename string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if _, err := overlay.ParseColor(c.Editor.DefaultTextColor); err != nil {
		return fmt.Errorf("editor.default_text_color: %w", err)
	}

	if c.Vision.Backend != "none" {
		if c.Vision.URL == "" {
			return fmt.Errorf("vision.url is required for the %s backend", c.Vision.Backend)
		}
		if c.Vision.Model == "" {
			return fmt.Errorf("vision.model is required for the %s backend", c.Vision.Backend)
		}
	}

	return nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "photo-editor", "config.json")
}
