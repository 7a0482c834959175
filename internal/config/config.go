package config

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/tyxk8160/mathtag"
)

const (
	// ConfigFileName is the name of the config file looked up in the working directory
	ConfigFileName = "mathtag.yaml"

	// Version tracks the config file version for future migrations
	Version = "1.0"
)

// Config represents the mathtag configuration
type Config struct {
	// ExcludedTags are elements whose subtrees are never rewritten
	ExcludedTags []string `yaml:"excluded_tags" validate:"dive,htmltag"`

	// InlineTag and BlockTag are the custom elements emitted for math spans
	InlineTag string `yaml:"inline_tag" validate:"required,customelement"`
	BlockTag  string `yaml:"block_tag" validate:"required,customelement,nefield=InlineTag"`

	// Class is an optional class attribute added to every math element
	Class string `yaml:"class,omitempty"`

	// Minify enables HTML minification of written output
	Minify bool `yaml:"minify,omitempty"`

	// Encoding forces an input encoding label instead of sniffing it
	Encoding string `yaml:"encoding,omitempty"`

	Build BuildConfig `yaml:"build"`
	Serve ServeConfig `yaml:"serve"`
	Log   LogConfig   `yaml:"log"`

	Version string `yaml:"version,omitempty"`
}

// BuildConfig configures directory builds
type BuildConfig struct {
	Input   string `yaml:"input" validate:"required"`
	Output  string `yaml:"output,omitempty"` // Empty rewrites files in place
	Workers int    `yaml:"workers" validate:"min=1,max=256"`
	Cache   string `yaml:"cache,omitempty"` // SQLite path, empty disables caching
}

// ServeConfig configures the preview server
type ServeConfig struct {
	Addr string `yaml:"addr" validate:"required,hostname_port"`
	Root string `yaml:"root" validate:"required"`
}

// LogConfig configures logging
type LogConfig struct {
	Level       string `yaml:"level" validate:"oneof=debug info warn error"`
	Development bool   `yaml:"development,omitempty"`
}

// DefaultConfig returns a new Config with default values
func DefaultConfig() *Config {
	return &Config{
		ExcludedTags: append([]string(nil), mathtag.DefaultExcludedTags...),
		InlineTag:    mathtag.DefaultInlineTag,
		BlockTag:     mathtag.DefaultBlockTag,
		Build: BuildConfig{
			Input:   ".",
			Workers: 4,
			Cache:   ".mathtag/cache.db",
		},
		Serve: ServeConfig{
			Addr: "localhost:8080",
			Root: ".",
		},
		Log: LogConfig{
			Level: "info",
		},
		Version: Version,
	}
}

// LoadConfig loads the configuration from path.
// If the file doesn't exist, returns a default config.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		path = ConfigFileName
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Unmarshal over the defaults so omitted fields keep them
	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.normalize()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}

	return config, nil
}

// SaveConfig writes the configuration to path
func SaveConfig(path string, config *Config) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func (c *Config) normalize() {
	for i, tag := range c.ExcludedTags {
		c.ExcludedTags[i] = strings.ToLower(strings.TrimSpace(tag))
	}
	c.InlineTag = strings.ToLower(strings.TrimSpace(c.InlineTag))
	c.BlockTag = strings.ToLower(strings.TrimSpace(c.BlockTag))
	if c.Version == "" {
		c.Version = Version
	}
}

// Options converts the configuration into rewriter options
func (c *Config) Options(logger *zap.Logger) []mathtag.Option {
	return []mathtag.Option{
		mathtag.WithExcludedTags(c.ExcludedTags...),
		mathtag.WithTags(c.InlineTag, c.BlockTag),
		mathtag.WithClass(c.Class),
		mathtag.WithMinify(c.Minify),
		mathtag.WithLogger(logger),
	}
}

// Fingerprint identifies the settings that affect rewritten output. Cached
// build results are only reused when the fingerprint matches.
func (c *Config) Fingerprint() string {
	h := sha256.New()
	fmt.Fprintf(h, "excluded=%s\n", strings.Join(c.ExcludedTags, ","))
	fmt.Fprintf(h, "inline=%s\nblock=%s\nclass=%s\n", c.InlineTag, c.BlockTag, c.Class)
	fmt.Fprintf(h, "minify=%t\nencoding=%s\n", c.Minify, c.Encoding)
	return hex.EncodeToString(h.Sum(nil))
}

var (
	htmlTagPattern       = regexp.MustCompile(`^[a-z][a-z0-9]*(-[a-z0-9]+)*$`)
	customElementPattern = regexp.MustCompile(`^[a-z][a-z0-9]*(-[a-z0-9]+)+$`)
)

func newValidator() *validator.Validate {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterValidation("htmltag", func(fl validator.FieldLevel) bool {
		return htmlTagPattern.MatchString(fl.Field().String())
	})
	validate.RegisterValidation("customelement", func(fl validator.FieldLevel) bool {
		return customElementPattern.MatchString(fl.Field().String())
	})
	return validate
}

// Validate checks the configuration and returns a MultiError describing
// every invalid field
func (c *Config) Validate() error {
	err := newValidator().Struct(c)
	if err == nil {
		return nil
	}

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err
	}
	return toMultiError(validationErrs)
}
