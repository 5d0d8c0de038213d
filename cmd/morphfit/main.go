// morphfit is a CLI utility for shaping characters and fitting assets to them.
package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/Faultbox/morphfit/internal/config"
	"github.com/Faultbox/morphfit/internal/logger"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "info":
		cmdInfo(args)
	case "morph":
		cmdMorph(args)
	case "bind":
		cmdBind(args)
	case "fit":
		cmdFit(args)
	case "transfer":
		cmdTransfer(args)
	case "config":
		cmdConfig(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`morphfit - character morphing and asset fitting utility

Usage:
  morphfit <command> [options]

Commands:
  info                                   Show library, controls and mesh
  morph -o <out> [name=value ...]        Write the character diff as a morph file
  bind -o <out.bind> <body> <asset>      Compute and save a binding
  fit -o <dir> <asset>... [name=value]   Fit assets onto the shaped character
  transfer -o <out.npz> <body> <asset> <weights.npz>
                                         Transfer a weight map onto an asset
  config [-save path]                    Print or save the effective config

Shared options:
  -config, -library, -basis, -workers, -neighbors, -radius, -no-reverse,
  -debug, -log-file

Examples:
  morphfit info -library ./human
  morphfit morph -library ./human -o belly belly=0.5 height=-0.2
  morphfit bind -rigger -o joints.bind body.glb skeleton.glb
  morphfit fit -library ./human -o fitted shirt.glb belly=0.5
  morphfit transfer -o shirt_weights.npz body.glb shirt.glb body_weights.npz`)
}

// setup loads the config for a parsed subcommand and initializes logging.
func setup(flags *config.Flags) *config.Config {
	cfg, err := config.Load(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.Logging.Level, cfg.Logging.LogFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	logger.Debug("config loaded",
		zap.String("library", cfg.Morphing.LibraryDir),
		zap.Int("workers", cfg.Fitting.Workers))
	return cfg
}

// fatal reports err and exits. Buffered log entries are flushed first.
func fatal(err error) {
	logger.Sync()
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

// usage prints a one-line usage message and exits.
func usage(line string) {
	fmt.Fprintln(os.Stderr, "Usage: morphfit "+line)
	os.Exit(1)
}

func newFlagSet(name string) (*flag.FlagSet, *config.Flags) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	return fs, config.RegisterFlags(fs)
}
