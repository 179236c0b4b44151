// Package cli implements the agentpiped command-line surface: serving the
// HTTP API and applying database migrations.
package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/DavidSchwarz2/agentpipe/internal/app"
)

// Execute runs the agentpiped CLI.
func Execute(version string) error {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))

	root := &cobra.Command{
		Use:           "agentpiped",
		Short:         "Multi-agent pipeline orchestrator",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := app.EnsureConfigDir(); err != nil {
				return err
			}
			if dbPath, err := cmd.Flags().GetString("db-path"); err == nil && dbPath != "" {
				app.SetDBPathOverride(dbPath)
			}
			return nil
		},
	}
	root.RunE = func(cmd *cobra.Command, args []string) error {
		if schema, _ := cmd.Flags().GetBool("schema"); schema {
			return printSchema(root)
		}
		return cmd.Help()
	}

	root.PersistentFlags().String("db-path", "", "Override database path ($AGENTPIPE_DB_PATH)")
	root.Flags().Bool("schema", false, "Print machine-readable flag schemas for every command")

	root.AddCommand(newServeCmd())
	root.AddCommand(newMigrateCmd())

	err := root.Execute()
	if err != nil {
		slog.Default().Error("command failed", "error", err.Error())
	}
	return err
}
