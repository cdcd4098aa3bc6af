package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "bluezkit",
	Short: "BlueZ command-line tool",
	Long: `Command-line front end for the BlueZ daemon (bluetoothd) over D-Bus:

- List adapters and switch them on or off
- Scan for nearby devices
- Connect to a device and show its services and characteristics
- Read from and write to characteristics
- Stream characteristic notifications

Settings can be loaded from a YAML file with --config; flags override it.`,
	Version: formatVersion(version),
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	// Silence Cobra's "Error:" prefix - main() prints clean errors
	rootCmd.SilenceErrors = true
	rootCmd.SetVersionTemplate(fmt.Sprintf("bluezkit %s (commit %s, built %s)\n", formatVersion(version), commit, date))

	rootCmd.AddCommand(adaptersCmd)
	rootCmd.AddCommand(powerCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(writeCmd)
	rootCmd.AddCommand(subscribeCmd)

	flags := rootCmd.PersistentFlags()
	flags.String("log-level", "", "Log level (debug, info, warn, error)")
	flags.Bool("verbose", false, "Debug logging (same as --log-level debug)")
	flags.String("config", "", "Path to a YAML configuration file")
	flags.StringP("adapter", "a", "", "Adapter name or object path (default: first adapter)")
	flags.String("bus", "", "Bus to connect to: system, session or a D-Bus address")
	flags.StringP("format", "f", "", "Output format (table, json, yaml)")

	// Add -v as a short flag for --version
	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
}
