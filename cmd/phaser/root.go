package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jpsweeney97/phaser/internal/config"
	"github.com/jpsweeney97/phaser/internal/phaserr"
	"github.com/jpsweeney97/phaser/internal/store"
)

var (
	// Global flags
	projectRoot string
	format      string
	verbose     bool
)

// rootCmd is the base command when phaser is invoked without a subcommand.
var rootCmd = &cobra.Command{
	Use:   "phaser",
	Short: "Audit-automation toolchain for phased code changes",
	Long: `phaser turns a human-authored audit document into a reproducible
sequence of code changes, with sandboxed execution, contract enforcement,
negotiation, reverse audit, and cross-run analytics.

Core commands:
  validate, prepare, execute   audit lifecycle
  simulate, branches           sandboxed execution
  contracts, check, enforce    contract enforcement
  negotiate                    non-destructive phase editing
  diff, reverse, replay        manifest-driven analysis
  analytics                    execution history`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and translates errors into the process exit
// code taxonomy (§7): 2 usage, 1 validation/expected failure, 3 internal.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(phaserr.CategoryOf(err).ExitCode())
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&projectRoot, "project", "", "Project root (default: current directory)")
	rootCmd.PersistentFlags().StringVarP(&format, "format", "f", "table", "Output format (table, json, yaml, markdown)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose diagnostics")
}

// GetProjectRoot returns the --project flag value as given, or the current
// working directory when the flag is unset. A relative flag value is not made
// absolute.
func GetProjectRoot() (string, error) {
	dir := projectRoot
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", phaserr.Wrap(phaserr.Resource, err)
		}
		return wd, nil
	}
	return dir, nil
}

// GetFormat returns the --format flag value unchanged.
func GetFormat() string { return format }

// VerbosePrintf writes to stderr only when --verbose is set.
func VerbosePrintf(format string, args ...interface{}) {
	if verbose {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// openStore resolves the project root and opens its Store, the pattern every
// subcommand that touches persisted state starts with.
func openStore() (*store.Store, string, error) {
	root, err := GetProjectRoot()
	if err != nil {
		return nil, "", err
	}
	s, err := store.Open(root)
	if err != nil {
		return nil, "", err
	}
	return s, root, nil
}

// loadConfig reads .phaser/config.yaml, deep-merged over defaults.
func loadConfig(s *store.Store) (*config.Config, error) {
	var m map[string]interface{}
	found, err := s.ReadYAML(&m, "config.yaml")
	if err != nil {
		return nil, err
	}
	if !found {
		return config.Default(), nil
	}
	return config.FromMap(m)
}
