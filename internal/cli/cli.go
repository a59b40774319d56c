// Package cli parses command-line arguments into a runnable configuration.
package cli

import (
	"flag"
	"fmt"
	"io"
	"strings"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// Config is the fully parsed CLI configuration.
type Config struct {
	ManifestPaths      []string
	LogFormat          string
	LogLevel           string
	EnvAllowlist       []string
	Snapshot           bool
	MaxExpansionDepth  int
	MaxExpansionPasses int
	MaxResolvePasses   int
	MaxDiscoveryPasses int
}

// Parse processes command-line arguments. It returns a populated Config,
// a boolean indicating the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*Config, bool, error) {
	flagSet := flag.NewFlagSet("manifold", flag.ContinueOnError)
	flagSet.SetOutput(output)

	flagSet.Usage = func() {
		fmt.Fprint(output, `
Manifold - a declarative resource runtime.

Usage:
  manifold [options] [MANIFEST_PATH ...]

Arguments:
  MANIFEST_PATH
    Paths to manifest files (.yaml, .yml, .json) or directories
    containing them.

Options:
`)
		flagSet.PrintDefaults()
	}

	manifestFlag := flagSet.String("manifest", "", "Path to a manifest file or directory.")
	mFlag := flagSet.String("m", "", "Path to a manifest file or directory (shorthand).")
	logFormatFlag := flagSet.String("log-format", "json", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	envAllowFlag := flagSet.String("env-allow", "", "Comma-separated environment variables exposed to expressions.")
	snapshotFlag := flagSet.Bool("snapshot", false, "Dump a registry snapshot to stdout after boot.")
	expansionDepthFlag := flagSet.Int("max-expansion-depth", 10, "Maximum recursive template nesting depth.")
	expansionPassesFlag := flagSet.Int("max-expansion-passes", 10, "Maximum template expansion passes.")
	resolvePassesFlag := flagSet.Int("max-resolve-passes", 5, "Maximum registry-wide expression resolution passes.")
	discoveryPassesFlag := flagSet.Int("max-discovery-passes", 10, "Maximum controller discovery passes.")

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	var paths []string
	if *manifestFlag != "" {
		paths = append(paths, *manifestFlag)
	}
	if *mFlag != "" {
		paths = append(paths, *mFlag)
	}
	paths = append(paths, flagSet.Args()...)

	if len(paths) == 0 {
		flagSet.Usage()
		return nil, true, nil
	}

	logFormat := strings.ToLower(*logFormatFlag)
	if logFormat != "text" && logFormat != "json" {
		return nil, false, &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
	}

	logLevel := strings.ToLower(*logLevelFlag)
	switch logLevel {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return nil, false, &ExitError{Code: 2, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}

	var envAllow []string
	if *envAllowFlag != "" {
		for _, name := range strings.Split(*envAllowFlag, ",") {
			if name = strings.TrimSpace(name); name != "" {
				envAllow = append(envAllow, name)
			}
		}
	}

	return &Config{
		ManifestPaths:      paths,
		LogFormat:          logFormat,
		LogLevel:           logLevel,
		EnvAllowlist:       envAllow,
		Snapshot:           *snapshotFlag,
		MaxExpansionDepth:  *expansionDepthFlag,
		MaxExpansionPasses: *expansionPassesFlag,
		MaxResolvePasses:   *resolvePassesFlag,
		MaxDiscoveryPasses: *discoveryPassesFlag,
	}, false, nil
}
