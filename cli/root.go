package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/yoanbernabeu/indexsync/config"
)

var rootConfigPath string

var rootCmd = &cobra.Command{
	Use:   "indexsync",
	Short: "Keep unified search indexes in sync with watched directories",
	Long: `indexsync watches configured directory trees and mirrors their contents
into unified remote search indexes.

Project trees feed the "codebase" index, codex trees feed the "codex"
index, and conversation exports feed the "conversations" index. Documents
in a shared index are told apart by a routing metadata field derived from
the source they came from.`,
	SilenceUsage: true,
}

// Execute runs the root command. Called once from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootConfigPath, "config", "", "Config file path (default: OS-specific)")
}

func resolveConfigPath() (string, error) {
	if rootConfigPath != "" {
		return rootConfigPath, nil
	}
	return config.DefaultPath()
}
