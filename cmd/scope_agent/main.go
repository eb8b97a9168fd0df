// Package main provides the scope_agent CLI: submitting generation runs,
// inspecting their status and steps, and importing historical scope records.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "scope_agent",
	Short: "Scope document generation orchestrator",
	Long:  "scope_agent turns a project's uploaded materials into a structured technical scope document: it syncs inputs, extracts scope variables with an LLM grounded on historical estimates, and renders the final markdown.",
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
