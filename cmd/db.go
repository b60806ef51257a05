package cmd

import (
	"strconv"

	migrate "github.com/rubenv/sql-migrate"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/daraja-sandbox/daraja-sandbox-backend/db"
)

// DatabaseCommand groups schema management under `daraja-sandbox db`.
type DatabaseCommand struct{}

func (c *DatabaseCommand) Command(opts *GlobalOptions) *cobra.Command {
	dbCmd := &cobra.Command{
		Use:   "db",
		Short: "Database schema management",
		Run: func(cmd *cobra.Command, args []string) {
			if err := cmd.Help(); err != nil {
				logrus.Fatalf("calling help command: %s", err)
			}
		},
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back schema migrations",
		Run: func(cmd *cobra.Command, args []string) {
			if err := cmd.Help(); err != nil {
				logrus.Fatalf("calling help command: %s", err)
			}
		},
	}
	dbCmd.AddCommand(migrateCmd)

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "up [count]",
		Short: "Apply pending migrations; all of them unless count is given",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			c.run(opts, migrate.Up, args)
		},
	})
	migrateCmd.AddCommand(&cobra.Command{
		Use:   "down count",
		Short: "Roll back count migrations",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			c.run(opts, migrate.Down, args)
		},
	})

	return dbCmd
}

func (c *DatabaseCommand) run(opts *GlobalOptions, dir migrate.MigrationDirection, args []string) {
	count := 0
	if len(args) > 0 {
		parsed, err := strconv.Atoi(args[0])
		if err != nil {
			logrus.Fatalf("invalid migration count %q: %s", args[0], err)
		}
		count = parsed
	}

	applied, err := db.Migrate(opts.DatabaseURL, dir, count)
	if err != nil {
		logrus.Fatalf("migrating database: %s", err)
	}
	if applied == 0 {
		logrus.Info("no migrations applied")
		return
	}
	logrus.Infof("successfully applied %d migrations", applied)
}
