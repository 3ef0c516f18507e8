// Package cmd wires the quintet command line interface.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	logFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "quintet",
	Short: "Orchestrate a five-agent analyst/programmer/tester delivery loop",
	Long: `quintet drives a team of five AI agent terminals through a delivery
loop: a system analyst plans under peer review, a programmer implements
under peer review, and a tester runs the scenario test. Failed tests feed
evidence back into the next round until the scenario passes or the round
budget runs out.

Agents hand work to each other exclusively through response files; the
loop itself consumes no model tokens.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "path to JSON config file")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "write JSON logs to this file instead of stderr")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
}
