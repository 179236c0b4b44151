package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/DavidSchwarz2/agentpipe/internal/app"
	"github.com/DavidSchwarz2/agentpipe/internal/output"
	"github.com/DavidSchwarz2/agentpipe/internal/store"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dbPath, source, err := app.ResolveDBPathDetailed()
			if err != nil {
				return fmt.Errorf("resolve db path: %w", err)
			}

			db, err := store.InitDBWithPath(dbPath)
			if err != nil {
				return fmt.Errorf("migrate %s: %w", dbPath, err)
			}
			defer store.CloseDB(db)

			current, latest, err := store.SchemaVersion(db)
			if err != nil {
				return fmt.Errorf("check schema version: %w", err)
			}

			type resp struct {
				DBPath    string `json:"db_path"`
				DBSource  string `json:"db_source"`
				Version   int64  `json:"schema_version"`
				LatestVer int64  `json:"latest_version"`
			}
			return output.PrintSuccess(resp{DBPath: dbPath, DBSource: source, Version: current, LatestVer: latest})
		},
	}
}
