// Package cmd is the CLI surface of the sandbox backend: the supervisor
// server plus database management.
package cmd

import (
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// GlobalOptions holds flags shared by every subcommand, resolved from flags
// or the DARAJA_SANDBOX_* environment.
type GlobalOptions struct {
	LogLevel    string
	DatabaseURL string
	Version     string
}

var globalOptions GlobalOptions

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "daraja-sandbox",
		Short:   "Local M-Pesa Daraja API simulator",
		Long:    "daraja-sandbox runs local, per-project replicas of the Safaricom Daraja payment APIs backed by a double-entry ledger, so merchant integrations can be exercised without touching the real sandbox.",
		Version: globalOptions.Version,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			viper.SetEnvPrefix("DARAJA_SANDBOX")
			viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
			viper.AutomaticEnv()
			if err := viper.BindPFlags(cmd.Flags()); err != nil {
				logrus.Fatalf("binding flags: %s", err)
			}

			globalOptions.LogLevel = viper.GetString("log-level")
			globalOptions.DatabaseURL = viper.GetString("database-url")

			level, err := logrus.ParseLevel(globalOptions.LogLevel)
			if err != nil {
				logrus.Fatalf("invalid log level %q: %s", globalOptions.LogLevel, err)
			}
			logrus.SetLevel(level)
		},
		Run: func(cmd *cobra.Command, args []string) {
			if err := cmd.Help(); err != nil {
				logrus.Fatalf("calling help command: %s", err)
			}
		},
	}

	cmd.PersistentFlags().String("log-level", "info", `Log level: "debug", "info", "warn", "error".`)
	cmd.PersistentFlags().String("database-url", "daraja-sandbox.db", "Path to the sqlite database file.")

	return cmd
}

// SetupCLI assembles the root command with its subcommands attached.
func SetupCLI(version string) *cobra.Command {
	globalOptions.Version = version
	cmd := rootCmd()

	cmd.AddCommand((&ServeCommand{}).Command(&globalOptions))
	cmd.AddCommand((&DatabaseCommand{}).Command(&globalOptions))

	return cmd
}
