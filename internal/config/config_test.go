package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/Faultbox/morphfit/pkg/fit"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	// Test fitting defaults
	if cfg.Fitting.Neighbors != 16 {
		t.Errorf("expected 16 neighbors, got %d", cfg.Fitting.Neighbors)
	}
	if cfg.Fitting.SurfaceRadius != 0.1 {
		t.Errorf("expected surface radius 0.1, got %v", cfg.Fitting.SurfaceRadius)
	}
	if cfg.Fitting.ThresholdRatio != 32 {
		t.Errorf("expected threshold ratio 32, got %v", cfg.Fitting.ThresholdRatio)
	}
	if !cfg.Fitting.Reverse {
		t.Error("expected reverse refinement to be enabled by default")
	}

	// Test morphing defaults
	if cfg.Morphing.LibraryDir != "library" {
		t.Errorf("expected library dir 'library', got %s", cfg.Morphing.LibraryDir)
	}

	// Test logging defaults
	if cfg.Logging.Level != "info" {
		t.Errorf("expected log level 'info', got %s", cfg.Logging.Level)
	}
	if cfg.Logging.LogFile != "" {
		t.Errorf("expected empty log file, got %s", cfg.Logging.LogFile)
	}
}

func TestFitParams(t *testing.T) {
	cfg := Default()
	if p := cfg.FitParams(); p.Neighbors != fit.DefaultNeighbors || !p.Surface || !p.Reverse {
		t.Errorf("default config must map to default params, got %+v", p)
	}

	cfg.Fitting.Neighbors = 8
	cfg.Fitting.Workers = 2
	cfg.Fitting.Reverse = false
	p := cfg.FitParams()
	if p.Neighbors != 8 || p.Workers != 2 || p.Reverse {
		t.Errorf("unexpected params %+v", p)
	}
}

func TestLoadFromFile(t *testing.T) {
	// Create temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
fitting:
  neighbors: 12
  surface_radius: 0.25
  threshold_ratio: 16
  dist_epsilon: 1e-8
  workers: 4
  reverse: false

morphing:
  library_dir: "/data/human"
  basis: "female"

logging:
  level: "debug"
  log_file: "morphfit.log"
`

	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	// Load config
	cfg := Default()
	if err := loadFromFile(cfg, configPath); err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	// Verify values were loaded
	if cfg.Fitting.Neighbors != 12 {
		t.Errorf("expected 12 neighbors, got %d", cfg.Fitting.Neighbors)
	}
	if cfg.Fitting.SurfaceRadius != 0.25 {
		t.Errorf("expected surface radius 0.25, got %v", cfg.Fitting.SurfaceRadius)
	}
	if cfg.Fitting.ThresholdRatio != 16 {
		t.Errorf("expected threshold ratio 16, got %v", cfg.Fitting.ThresholdRatio)
	}
	if cfg.Fitting.DistEpsilon != 1e-8 {
		t.Errorf("expected dist epsilon 1e-8, got %v", cfg.Fitting.DistEpsilon)
	}
	if cfg.Fitting.Workers != 4 {
		t.Errorf("expected 4 workers, got %d", cfg.Fitting.Workers)
	}
	if cfg.Fitting.Reverse {
		t.Error("expected reverse to be false")
	}

	if cfg.Morphing.LibraryDir != "/data/human" {
		t.Errorf("expected library dir /data/human, got %s", cfg.Morphing.LibraryDir)
	}
	if cfg.Morphing.Basis != "female" {
		t.Errorf("expected basis 'female', got %s", cfg.Morphing.Basis)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level 'debug', got %s", cfg.Logging.Level)
	}
	if cfg.Logging.LogFile != "morphfit.log" {
		t.Errorf("expected log file 'morphfit.log', got %s", cfg.Logging.LogFile)
	}
}

func TestLoadFromFilePartial(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("fitting:\n  workers: 3\n"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg := Default()
	if err := loadFromFile(cfg, configPath); err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	// Unset keys keep their defaults
	if cfg.Fitting.Neighbors != 16 || !cfg.Fitting.Reverse {
		t.Errorf("expected defaults to survive partial file, got %+v", cfg.Fitting)
	}
	if cfg.Fitting.Workers != 3 {
		t.Errorf("expected 3 workers, got %d", cfg.Fitting.Workers)
	}
}

func TestLoadFromFileInvalid(t *testing.T) {
	// Create temporary config file with invalid YAML
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	invalidYAML := `
fitting:
  neighbors: not a number
  invalid syntax here
`

	if err := os.WriteFile(configPath, []byte(invalidYAML), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	// Try to load - should error
	cfg := Default()
	err := loadFromFile(cfg, configPath)
	if err == nil {
		t.Error("expected error loading invalid YAML, got nil")
	}
}

func TestLoadFromFileMissing(t *testing.T) {
	cfg := Default()
	err := loadFromFile(cfg, "/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("expected error loading missing file, got nil")
	}
}

func TestConfigDir(t *testing.T) {
	dir := ConfigDir()

	// Just verify it returns a non-empty path
	// Actual path depends on OS
	if dir == "" {
		t.Error("ConfigDir returned empty string")
	}

	// Verify path is absolute
	if !filepath.IsAbs(dir) {
		t.Errorf("ConfigDir should return absolute path, got %s", dir)
	}
}

func TestFindConfigFile(t *testing.T) {
	// Save current directory
	origDir, _ := os.Getwd()
	defer os.Chdir(origDir)

	// Isolate from any user config
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())

	// Create temp directory and change to it
	tmpDir := t.TempDir()
	os.Chdir(tmpDir)

	// No config file exists - should return empty
	path := findConfigFile()
	if path != "" {
		t.Errorf("expected empty path when no config exists, got %s", path)
	}

	// Create config.yaml in current directory
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("fitting:\n  workers: 2\n"), 0644); err != nil {
		t.Fatalf("failed to create test config: %v", err)
	}

	// Should find it now
	path = findConfigFile()
	if path == "" {
		t.Error("expected to find config.yaml in current directory")
	}
}

func TestApplyFlags(t *testing.T) {
	tests := []struct {
		name   string
		args   []string
		verify func(*Config)
	}{
		{
			name: "debug flag",
			args: []string{"-debug"},
			verify: func(cfg *Config) {
				if cfg.Logging.Level != "debug" {
					t.Errorf("expected log level 'debug', got %s", cfg.Logging.Level)
				}
			},
		},
		{
			name: "library and basis flags",
			args: []string{"-library", "/tmp/lib", "-basis", "tall"},
			verify: func(cfg *Config) {
				if cfg.Morphing.LibraryDir != "/tmp/lib" {
					t.Errorf("expected library /tmp/lib, got %s", cfg.Morphing.LibraryDir)
				}
				if cfg.Morphing.Basis != "tall" {
					t.Errorf("expected basis tall, got %s", cfg.Morphing.Basis)
				}
			},
		},
		{
			name: "fitting flags",
			args: []string{"-workers", "6", "-neighbors", "8", "-radius", "0.5", "-no-reverse"},
			verify: func(cfg *Config) {
				if cfg.Fitting.Workers != 6 || cfg.Fitting.Neighbors != 8 {
					t.Errorf("unexpected fitting config %+v", cfg.Fitting)
				}
				if cfg.Fitting.SurfaceRadius != 0.5 {
					t.Errorf("expected radius 0.5, got %v", cfg.Fitting.SurfaceRadius)
				}
				if cfg.Fitting.Reverse {
					t.Error("expected reverse to be disabled with no-reverse flag")
				}
			},
		},
		{
			name: "no flags",
			args: nil,
			verify: func(cfg *Config) {
				if *cfg != *Default() {
					t.Errorf("expected defaults without flags, got %+v", cfg)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := flag.NewFlagSet("test", flag.ContinueOnError)
			flags := RegisterFlags(fs)
			if err := fs.Parse(tt.args); err != nil {
				t.Fatalf("parsing flags: %v", err)
			}

			// Apply flags to default config
			cfg := Default()
			flags.apply(cfg)

			// Verify
			tt.verify(cfg)
		})
	}
}

func TestLoadPriority(t *testing.T) {
	// Create temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
fitting:
  workers: 2
  neighbors: 10
`

	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	// Set flag to override config file
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	flags := RegisterFlags(fs)
	if err := fs.Parse([]string{"-config", configPath, "-workers", "8"}); err != nil {
		t.Fatalf("parsing flags: %v", err)
	}

	// Load config
	cfg, err := Load(flags)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	// Workers should be from flag (8), not file (2)
	if cfg.Fitting.Workers != 8 {
		t.Errorf("expected 8 workers from flag, got %d", cfg.Fitting.Workers)
	}

	// Neighbors should be from file (10) since no flag override
	if cfg.Fitting.Neighbors != 10 {
		t.Errorf("expected 10 neighbors from file, got %d", cfg.Fitting.Neighbors)
	}
}

func TestSaveTo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := Default()
	cfg.Fitting.Workers = 5
	if err := cfg.SaveTo(path); err != nil {
		t.Fatalf("SaveTo failed: %v", err)
	}

	loaded := Default()
	if err := loadFromFile(loaded, path); err != nil {
		t.Fatalf("failed to reload saved config: %v", err)
	}
	if *loaded != *cfg {
		t.Errorf("expected %+v after reload, got %+v", cfg, loaded)
	}
}

func TestSave(t *testing.T) {
	// Isolate from any user config
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv("APPDATA", t.TempDir())

	cfg := Default()
	cfg.Morphing.Basis = "tall"
	if err := cfg.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded := Default()
	if err := loadFromFile(loaded, UserPath()); err != nil {
		t.Fatalf("failed to reload saved config: %v", err)
	}
	if loaded.Morphing.Basis != "tall" {
		t.Errorf("expected basis tall, got %s", loaded.Morphing.Basis)
	}
	if _, err := os.Stat(UserPath() + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary file left behind")
	}
}
