package mathtag

import (
	"strings"

	"go.uber.org/zap"
)

const (
	// DefaultInlineTag is the element emitted for $...$ spans
	DefaultInlineTag = "i-math"
	// DefaultBlockTag is the element emitted for $$...$$ spans
	DefaultBlockTag = "tex-math"
)

// DefaultExcludedTags are verbatim containers whose subtrees are never scanned
var DefaultExcludedTags = []string{"code", "pre"}

// Config holds rewriter configuration
type Config struct {
	ExcludedTags []string
	InlineTag    string
	BlockTag     string
	Class        string // Optional class attribute set on every math element
	Minify       bool   // Minify rendered output
	Logger       *zap.Logger
}

// Option is a functional option for configuring a Rewriter
type Option func(*Config)

// WithExcludedTags replaces the excluded tag set
func WithExcludedTags(tags ...string) Option {
	return func(c *Config) {
		c.ExcludedTags = tags
	}
}

// WithTags sets the element names used for inline and block math
func WithTags(inline, block string) Option {
	return func(c *Config) {
		if inline != "" {
			c.InlineTag = inline
		}
		if block != "" {
			c.BlockTag = block
		}
	}
}

// WithClass adds a class attribute to every emitted math element
func WithClass(class string) Option {
	return func(c *Config) {
		c.Class = class
	}
}

// WithMinify enables HTML minification of rendered output
func WithMinify(enabled bool) Option {
	return func(c *Config) {
		c.Minify = enabled
	}
}

// WithLogger sets the logger used for debug output
func WithLogger(logger *zap.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

func defaultConfig() Config {
	return Config{
		ExcludedTags: append([]string(nil), DefaultExcludedTags...),
		InlineTag:    DefaultInlineTag,
		BlockTag:     DefaultBlockTag,
		Logger:       zap.NewNop(),
	}
}

// excludedSet builds the lookup set. The output tags are always part of it so
// rewritten math content is never scanned again.
func (c Config) excludedSet() map[string]bool {
	set := make(map[string]bool, len(c.ExcludedTags)+2)
	for _, tag := range c.ExcludedTags {
		set[strings.ToLower(tag)] = true
	}
	set[strings.ToLower(c.InlineTag)] = true
	set[strings.ToLower(c.BlockTag)] = true
	return set
}
