// Package main is the claimbridge command line.
//
// serve runs the background router behind an HTTP/websocket front and can
// drive a portal tab in a managed browser. run performs a single automated
// pass against the portal. save posts one submission record with the
// retrying save service.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/entrhq/claimbridge/pkg/config"
	"github.com/entrhq/claimbridge/pkg/logging"
)

const version = "0.1.0"

var (
	configPath string
	envFile    string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "claimbridge",
	Short: "Carry case payloads into the claims portal and save what it returns",
	Long: `claimbridge relays a case payload from a frontend into a portal tab,
walks the portal's login, contact-details and documents pages, and saves the
resulting submission to the records endpoint.

Settings are read from ~/.claimbridge/config.json (or --config) and may be
overridden with CLAIMBRIDGE_* environment variables, including ones placed
in a .env file.

Examples:
  claimbridge serve --listen 127.0.0.1:8642
  claimbridge run --url https://portal.example/login --payload-file case.json
  claimbridge save record.json`,
	SilenceUsage:      true,
	PersistentPreRunE: loadSettings,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the config file (default ~/.claimbridge/config.json)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file loaded before reading config; ignored when missing")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Also write logs to stderr")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(saveCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadSettings(cmd *cobra.Command, args []string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	if err := config.Initialize(configPath); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	return nil
}

// newLogger returns the session-file logger, or a stderr logger with --verbose.
func newLogger(component string) *logging.Logger {
	if verbose {
		return logging.NewWriterLogger(component, os.Stderr)
	}
	return logging.MustLogger(component)
}
