package config

import "flag"

// Flags holds the command-line overrides shared by all subcommands.
type Flags struct {
	Config    *string
	Debug     *bool
	LogFile   *string
	Library   *string
	Basis     *string
	Workers   *int
	Neighbors *int
	Radius    *float64
	NoReverse *bool
}

// RegisterFlags adds the shared flags to fs.
func RegisterFlags(fs *flag.FlagSet) *Flags {
	return &Flags{
		Config:    fs.String("config", "", "Path to config file"),
		Debug:     fs.Bool("debug", false, "Enable debug logging"),
		LogFile:   fs.String("log-file", "", "Also log to this file"),
		Library:   fs.String("library", "", "Character library directory"),
		Basis:     fs.String("basis", "", "Initial basis shape"),
		Workers:   fs.Int("workers", 0, "Binding worker count"),
		Neighbors: fs.Int("neighbors", 0, "Nearest source vertices per row"),
		Radius:    fs.Float64("radius", 0, "Surface projection radius"),
		NoReverse: fs.Bool("no-reverse", false, "Disable reverse refinement"),
	}
}

// ConfigPath returns the explicit config path if provided via -config.
func (f *Flags) ConfigPath() string {
	if f == nil {
		return ""
	}
	return *f.Config
}

// apply applies CLI flag overrides to the config.
func (f *Flags) apply(cfg *Config) {
	if f == nil {
		return
	}
	if *f.Debug {
		cfg.Logging.Level = "debug"
	}
	if *f.LogFile != "" {
		cfg.Logging.LogFile = *f.LogFile
	}
	if *f.Library != "" {
		cfg.Morphing.LibraryDir = *f.Library
	}
	if *f.Basis != "" {
		cfg.Morphing.Basis = *f.Basis
	}
	if *f.Workers > 0 {
		cfg.Fitting.Workers = *f.Workers
	}
	if *f.Neighbors > 0 {
		cfg.Fitting.Neighbors = *f.Neighbors
	}
	if *f.Radius > 0 {
		cfg.Fitting.SurfaceRadius = *f.Radius
	}
	if *f.NoReverse {
		cfg.Fitting.Reverse = false
	}
}
