package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/tyxk8160/mathtag"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.InlineTag != mathtag.DefaultInlineTag {
		t.Errorf("Expected inline tag %q, got %q", mathtag.DefaultInlineTag, config.InlineTag)
	}
	if config.BlockTag != mathtag.DefaultBlockTag {
		t.Errorf("Expected block tag %q, got %q", mathtag.DefaultBlockTag, config.BlockTag)
	}
	if len(config.ExcludedTags) != 2 {
		t.Errorf("Expected 2 excluded tags, got %v", config.ExcludedTags)
	}
	if err := config.Validate(); err != nil {
		t.Errorf("Expected default config to be valid, got %v", err)
	}
}

func TestLoadConfig_Missing(t *testing.T) {
	config, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if config.Build.Workers != 4 {
		t.Errorf("Expected default workers, got %d", config.Build.Workers)
	}
}

func TestLoadConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mathtag.yaml")
	content := `
excluded_tags: [CODE, pre, kbd]
inline_tag: tex-inline
block_tag: tex-display
class: math
minify: true
build:
  input: docs
  output: public
  workers: 8
serve:
  addr: 127.0.0.1:9000
log:
  level: debug
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if config.ExcludedTags[0] != "code" || len(config.ExcludedTags) != 3 {
		t.Errorf("Expected normalized excluded tags, got %v", config.ExcludedTags)
	}
	if config.InlineTag != "tex-inline" || config.BlockTag != "tex-display" {
		t.Errorf("Unexpected tags: %s %s", config.InlineTag, config.BlockTag)
	}
	if !config.Minify || config.Class != "math" {
		t.Error("Expected minify and class to be set")
	}
	if config.Build.Workers != 8 || config.Build.Output != "public" {
		t.Errorf("Unexpected build config: %+v", config.Build)
	}
	// Fields absent from the file keep their defaults
	if config.Build.Cache != ".mathtag/cache.db" {
		t.Errorf("Expected default cache path, got %q", config.Build.Cache)
	}
	if config.Serve.Root != "." || config.Serve.Addr != "127.0.0.1:9000" {
		t.Errorf("Unexpected serve config: %+v", config.Serve)
	}
	if config.Log.Level != "debug" {
		t.Errorf("Expected debug level, got %s", config.Log.Level)
	}
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mathtag.yaml")
	if err := os.WriteFile(path, []byte("inline_tag: [oops"), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	if _, err := LoadConfig(path); err == nil {
		t.Error("Expected parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"inline tag without hyphen", func(c *Config) { c.InlineTag = "math" }, "InlineTag"},
		{"block tag missing", func(c *Config) { c.BlockTag = "" }, "BlockTag"},
		{"same tags", func(c *Config) { c.BlockTag = c.InlineTag }, "BlockTag"},
		{"bad excluded tag", func(c *Config) { c.ExcludedTags = []string{"pre", "<code>"} }, "ExcludedTags[1]"},
		{"zero workers", func(c *Config) { c.Build.Workers = 0 }, "Build.Workers"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "Log.Level"},
		{"bad address", func(c *Config) { c.Serve.Addr = "nowhere" }, "Serve.Addr"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)

			err := config.Validate()
			var multi MultiError
			if !errors.As(err, &multi) {
				t.Fatalf("Expected MultiError, got %v", err)
			}
			if !multi.Has(tt.field) {
				t.Errorf("Expected error for %s, got %v", tt.field, multi)
			}
		})
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "mathtag.yaml")
	config := DefaultConfig()
	config.Class = "katex"
	config.Build.Workers = 2

	if err := SaveConfig(path, config); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if loaded.Class != "katex" || loaded.Build.Workers != 2 {
		t.Errorf("Unexpected loaded config: %+v", loaded)
	}
}

func TestFingerprint(t *testing.T) {
	a := DefaultConfig()
	b := DefaultConfig()
	if a.Fingerprint() != b.Fingerprint() {
		t.Error("Expected equal configs to share a fingerprint")
	}

	b.Build.Workers = 16
	if a.Fingerprint() != b.Fingerprint() {
		t.Error("Expected build settings not to affect the fingerprint")
	}

	b.Class = "math"
	if a.Fingerprint() == b.Fingerprint() {
		t.Error("Expected class to change the fingerprint")
	}
}

func TestOptionsApply(t *testing.T) {
	config := DefaultConfig()
	config.InlineTag = "tex-inline"
	config.Class = "m"

	rw := mathtag.New(config.Options(nil)...)
	out, _, err := rw.ProcessFragment("<p>$x$</p>")
	if err != nil {
		t.Fatalf("ProcessFragment failed: %v", err)
	}
	if out != `<p><tex-inline class="m">x</tex-inline></p>` {
		t.Errorf("Unexpected output: %s", out)
	}
}
