// Package main is the CLI entry point for Nous, a self-improving personal
// AI assistant.
//
// Basic usage:
//
//	nous run --config nous.yaml
//	nous queue add "improve the error messages" --priority 3
//	nous queue list
//	nous queue stats
//
// Credentials come from the config file or the conventional environment
// variables (ANTHROPIC_API_KEY, OPENAI_API_KEY, GEMINI_API_KEY,
// OPENROUTER_API_KEY).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "nous",
		Short: "Nous personal AI assistant",
		Long:  "Nous routes conversations across LLM providers, executes tools, and improves its own code through a supervised evolution pipeline.",
	}
	root.AddCommand(buildRunCmd())
	root.AddCommand(buildQueueCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
