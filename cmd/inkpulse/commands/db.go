package commands

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/inkpulse/inkpulse/am"
	"github.com/inkpulse/inkpulse/db"
	"github.com/inkpulse/inkpulse/sym"
)

// DbCmd represents the db (database) command
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: sym.DB + " Manage the schedule store",
	Long: sym.DB + ` db — Manage the schedule store database

Examples:
  inkpulse db migrate             # Apply pending migrations
  inkpulse db status              # Show applied migrations and job counts`,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE:  runDbMigrate,
}

var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show applied migrations and job counts",
	RunE:  runDbStatus,
}

func init() {
	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbStatusCmd)
}

func runDbMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// openDatabase migrates on open
	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	versions, err := db.AppliedVersions(database)
	if err != nil {
		return err
	}
	pterm.Success.Printf("%s schema up to date (%d migrations applied, driver %s)\n",
		sym.DB, len(versions), cfg.GetDatabaseDriver())
	return nil
}

func runDbStatus(cmd *cobra.Command, args []string) error {
	_, database, svc, err := openService()
	if err != nil {
		return err
	}
	defer database.Close()

	versions, err := db.AppliedVersions(database)
	if err != nil {
		return err
	}
	counts, err := svc.Store().CountByStatus(cmd.Context())
	if err != nil {
		return err
	}

	pterm.DefaultSection.Println("Migrations")
	for _, v := range versions {
		pterm.Println("  " + v)
	}

	pterm.DefaultSection.Println("Jobs by status")
	rows := [][]string{{"STATUS", "COUNT"}}
	for _, status := range jobStatuses {
		rows = append(rows, []string{string(status), fmt.Sprint(counts[status])})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}
