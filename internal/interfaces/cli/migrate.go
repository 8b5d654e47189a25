package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/turtacn/Opposition-Intelligence/internal/infrastructure/database/postgres"
	"github.com/turtacn/Opposition-Intelligence/internal/infrastructure/monitoring/logging"
)

// NewMigrateCmd applies, rolls back or reports schema migrations.
func NewMigrateCmd() *cobra.Command {
	var (
		down   int
		status bool
		force  int
		reset  bool
	)
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			dsn := postgres.BuildDSN(cc.Config.Postgres.PostgresConfig)

			switch {
			case status:
				version, dirty, err := postgres.MigrationStatus(dsn)
				if err != nil {
					return err
				}
				return PrintResult(cmd, fmt.Sprintf("version %d (dirty: %t)", version, dirty))
			case reset:
				if err := postgres.ResetDatabase(dsn); err != nil {
					return err
				}
				cc.Logger.Warn("Database reset")
			case force >= 0:
				if err := postgres.ForceMigrationVersion(dsn, force); err != nil {
					return err
				}
				cc.Logger.Warn("Migration version forced", logging.Int("version", force))
			case down > 0:
				if err := postgres.RollbackMigration(dsn, down); err != nil {
					return err
				}
				cc.Logger.Info("Migrations rolled back", logging.Int("steps", down))
			default:
				if err := postgres.RunMigrations(dsn); err != nil {
					return err
				}
				cc.Logger.Info("Migrations applied")
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&down, "down", 0, "roll back this many migrations")
	cmd.Flags().BoolVar(&status, "status", false, "print the current schema version")
	cmd.Flags().BoolVar(&reset, "reset", false, "drop every table and re-apply all migrations (development only)")
	cmd.Flags().IntVar(&force, "force", -1, "mark the schema as being at this version without running migrations")
	return cmd
}

// NewVersionCmd prints build information.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print version information",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationConfigOptional: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return PrintResult(cmd, BuildInfo{Version: Version, Commit: GitCommit, BuildDate: BuildDate})
		},
	}
}

// BuildInfo holds version information injected at build time.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
}

func (b BuildInfo) String() string {
	return fmt.Sprintf("oppo %s (commit: %s, built: %s)", b.Version, b.Commit, b.BuildDate)
}
