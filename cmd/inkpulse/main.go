package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/inkpulse/inkpulse/am"
	"github.com/inkpulse/inkpulse/cmd/inkpulse/commands"
	"github.com/inkpulse/inkpulse/logger"
)

var rootCmd = &cobra.Command{
	Use:   "inkpulse",
	Short: "inkpulse - newsletter automation scheduler",
	Long: `inkpulse - recurring newsletter automations.

Jobs fire daily or weekly at a local wall-clock time and run an ordered
pipeline of actions (scrape, generate, send). Every firing is recorded.

Available commands:
  am      - Show and validate configuration ("I am")
  pulse   - Run the dispatcher and control API
  jobs    - Manage scheduled jobs of a workspace
  runs    - Show run history
  db      - Manage the schedule store
  version - Show build information

Examples:
  inkpulse pulse start                  # Dispatcher + HTTP API in foreground
  inkpulse jobs ls -w acme              # List jobs of workspace acme
  inkpulse jobs apply -w acme -f jobs.yaml
  inkpulse runs ls -w acme --limit 20`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		envFile, _ := cmd.Flags().GetString("env-file")
		if err := am.LoadDotEnv(envFile); err != nil {
			return err
		}

		cfg, err := am.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		verbosity, _ := cmd.Flags().GetCount("verbose")
		level := logger.VerbosityToLevel(verbosity, logger.ParseLevel(cfg.Log.Level))
		if err := logger.Initialize(jsonLogs || cfg.Log.JSON, level); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (-v, -vv)")
	rootCmd.PersistentFlags().Bool("json-logs", false, "Write logs as JSON")
	rootCmd.PersistentFlags().String("env-file", ".env", "Environment file loaded before configuration")

	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.JobsCmd)
	rootCmd.AddCommand(commands.PulseCmd)
	rootCmd.AddCommand(commands.RunsCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
