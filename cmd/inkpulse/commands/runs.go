package commands

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/inkpulse/inkpulse/errors"
	"github.com/inkpulse/inkpulse/sym"
)

// RunsCmd shows run history
var RunsCmd = &cobra.Command{
	Use:   "runs",
	Short: sym.Pulse + " Show run history",
}

var runsLsCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List recent runs, newest first",
	Long: `List recent runs of a workspace, or of one job with --job.

Examples:
  inkpulse runs ls -w acme
  inkpulse runs ls -w acme --job <job-id> --limit 5`,
	Args: cobra.NoArgs,
	RunE: runRunsLs,
}

var (
	runsWorkspace string
	runsJobID     string
	runsLimit     int
	runsJSON      bool
)

func init() {
	runsLsCmd.Flags().StringVarP(&runsWorkspace, "workspace", "w", "", "Workspace ID")
	runsLsCmd.Flags().StringVar(&runsJobID, "job", "", "Only runs of this job")
	runsLsCmd.Flags().IntVar(&runsLimit, "limit", 20, "Maximum runs to show")
	runsLsCmd.Flags().BoolVar(&runsJSON, "json", false, "Output as JSON")
	RunsCmd.AddCommand(runsLsCmd)
}

func runRunsLs(cmd *cobra.Command, args []string) error {
	if runsWorkspace == "" {
		return errors.New("--workspace is required")
	}
	if runsLimit <= 0 {
		return errors.New("--limit must be positive")
	}

	_, database, svc, err := openService()
	if err != nil {
		return err
	}
	defer database.Close()

	runs, err := svc.ListRuns(cmd.Context(), runsWorkspace, runsJobID, runsLimit)
	if err != nil {
		return err
	}
	if runsJSON {
		return printJSON(cmd.OutOrStdout(), runs)
	}
	if len(runs) == 0 {
		pterm.Info.Println("No runs recorded yet")
		return nil
	}
	return pterm.DefaultTable.WithHasHeader().WithData(runTable(runs)).WithWriter(cmd.OutOrStdout()).Render()
}
