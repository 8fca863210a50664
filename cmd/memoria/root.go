package main

import (
	"github.com/spf13/cobra"
)

var noColor bool

var rootCmd = &cobra.Command{
	Use:   "memoria",
	Short: "Personal memory store with hybrid semantic and keyword search",
	Long: `memoria stores your notes and documents, generates embeddings for them
asynchronously through configurable providers, and searches them with a
blend of vector similarity and keyword relevance.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.Version = version

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(rememberCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(forgetCmd)
	rootCmd.AddCommand(recentCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(providersCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(configCmd)
}
