package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "response-orchestrator",
	Short: "Conversation response orchestrator for the support platform",
	Long: `response-orchestrator consumes AI-agent assertion events about
in-progress support conversations, folds them into durable
per-conversation state, decides whether the system should respond,
and emits decision and update events downstream.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "orchestrator.yml", "config file path")
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
