// Package config handles morphfit configuration loading and management.
package config

import "github.com/Faultbox/morphfit/pkg/fit"

// Config holds all tool settings.
type Config struct {
	Fitting  FittingConfig  `yaml:"fitting"`
	Morphing MorphingConfig `yaml:"morphing"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// FittingConfig holds binding parameters.
type FittingConfig struct {
	Neighbors      int     `yaml:"neighbors"`       // Nearest source vertices per row
	SurfaceRadius  float64 `yaml:"surface_radius"`  // Surface projection cutoff
	ThresholdRatio float64 `yaml:"threshold_ratio"` // Drop entries below rowMax/ratio
	DistEpsilon    float64 `yaml:"dist_epsilon"`    // Squared distance floor
	Workers        int     `yaml:"workers"`         // 0 = GOMAXPROCS
	Reverse        bool    `yaml:"reverse"`         // Project source back onto target
}

// MorphingConfig holds character library settings.
type MorphingConfig struct {
	LibraryDir string `yaml:"library_dir"`
	Basis      string `yaml:"basis"` // Overrides the library default basis
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogFile string `yaml:"log_file"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Fitting: FittingConfig{
			Neighbors:      fit.DefaultNeighbors,
			SurfaceRadius:  fit.DefaultSurfaceRadius,
			ThresholdRatio: fit.DefaultThresholdRatio,
			DistEpsilon:    fit.DefaultDistEpsilon,
			Workers:        0,
			Reverse:        true,
		},
		Morphing: MorphingConfig{
			LibraryDir: "library",
		},
		Logging: LoggingConfig{
			Level:   "info",
			LogFile: "",
		},
	}
}

// FitParams returns the binding parameters described by the config.
func (c *Config) FitParams() fit.Params {
	p := fit.DefaultParams()
	p.Neighbors = c.Fitting.Neighbors
	p.SurfaceRadius = c.Fitting.SurfaceRadius
	p.ThresholdRatio = c.Fitting.ThresholdRatio
	p.DistEpsilon = c.Fitting.DistEpsilon
	p.Workers = c.Fitting.Workers
	p.Reverse = c.Fitting.Reverse
	return p
}
