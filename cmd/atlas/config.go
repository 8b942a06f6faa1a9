// cmd/atlas/config.go
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Corphon/ChronoAtlas/internal/config"
)

const defaultConfigFile = "chronoatlas.yaml"

var forceOverwrite bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the YAML configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a configuration file with default values",
	Long: `Write a configuration file with default values. API keys are never
written to disk; set GEMINI_API_KEY or OPENAI_API_KEY in the environment.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runConfigInit,
}

func init() {
	configInitCmd.Flags().BoolVarP(&forceOverwrite, "force", "f", false, "Overwrite an existing file")
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := defaultConfigFile
	if len(args) == 1 {
		path = args[0]
	}

	if _, err := os.Stat(path); err == nil && !forceOverwrite {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	if err := config.Default().SaveFile(path); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render("Wrote "+path))
	return nil
}
