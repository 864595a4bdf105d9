package commands

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/inkpulse/inkpulse/errors"
	"github.com/inkpulse/inkpulse/pulse/schedule"
	"github.com/inkpulse/inkpulse/sym"
)

// JobsCmd manages the scheduled jobs of a workspace
var JobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: sym.Pulse + " Manage scheduled jobs",
	Long: sym.Pulse + ` jobs — Manage the scheduled jobs of a workspace

Examples:
  inkpulse jobs ls -w acme
  inkpulse jobs create -w acme --name "Morning digest" --at 08:00 --tz America/New_York \
      --action scrape --action generate --action 'send:{"audience_id":"all"}'
  inkpulse jobs create -w acme --name Roundup --schedule weekly --days mon,thu --at 10:00 --action scrape
  inkpulse jobs pause -w acme <job-id>
  inkpulse jobs apply -f jobs.yaml`,
}

var jobsLsCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List jobs of the workspace",
	Args:    cobra.NoArgs,
	RunE:    runJobsLs,
}

var jobsGetCmd = &cobra.Command{
	Use:   "get <job-id>",
	Short: "Show one job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsGet,
}

var jobsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a job",
	Args:  cobra.NoArgs,
	RunE:  runJobsCreate,
}

var jobsPauseCmd = &cobra.Command{
	Use:   "pause <job-id>",
	Short: "Pause a job; it stops firing until resumed",
	Args:  cobra.ExactArgs(1),
	RunE:  jobTransition("paused", (*schedule.Service).PauseJob),
}

var jobsResumeCmd = &cobra.Command{
	Use:   "resume <job-id>",
	Short: "Resume a paused or degraded job from the current time",
	Args:  cobra.ExactArgs(1),
	RunE:  jobTransition("resumed", (*schedule.Service).ResumeJob),
}

var jobsRmCmd = &cobra.Command{
	Use:     "rm <job-id>",
	Aliases: []string{"delete"},
	Short:   "Delete a job (kept disabled with its run history)",
	Args:    cobra.ExactArgs(1),
	RunE:    jobTransition("deleted", (*schedule.Service).DeleteJob),
}

var jobsApplyCmd = &cobra.Command{
	Use:   "apply -f <manifest>",
	Short: "Create or update jobs from a TOML or YAML manifest",
	Args:  cobra.NoArgs,
	RunE:  runJobsApply,
}

var (
	jobsWorkspace      string
	jobsJSON           bool
	jobsIncludeDeleted bool
	jobsManifest       string

	createName     string
	createDesc     string
	createSchedule string
	createAt       string
	createDays     []string
	createTimezone string
	createActions  []string
)

func init() {
	JobsCmd.PersistentFlags().StringVarP(&jobsWorkspace, "workspace", "w", "", "Workspace ID")
	JobsCmd.PersistentFlags().BoolVar(&jobsJSON, "json", false, "Output as JSON")

	jobsLsCmd.Flags().BoolVar(&jobsIncludeDeleted, "all", false, "Include deleted jobs")

	jobsCreateCmd.Flags().StringVar(&createName, "name", "", "Job name")
	jobsCreateCmd.Flags().StringVar(&createDesc, "description", "", "Job description")
	jobsCreateCmd.Flags().StringVar(&createSchedule, "schedule", "daily", "Schedule type: daily or weekly")
	jobsCreateCmd.Flags().StringVar(&createAt, "at", "", "Local time of day, HH:MM")
	jobsCreateCmd.Flags().StringSliceVar(&createDays, "days", nil, "Weekdays for weekly schedules (e.g. mon,thu)")
	jobsCreateCmd.Flags().StringVar(&createTimezone, "tz", "UTC", "IANA timezone")
	jobsCreateCmd.Flags().StringArrayVar(&createActions, "action", nil, `Pipeline step, "kind" or "kind:{json config}" (repeatable, in order)`)
	_ = jobsCreateCmd.MarkFlagRequired("name")
	_ = jobsCreateCmd.MarkFlagRequired("at")

	jobsApplyCmd.Flags().StringVarP(&jobsManifest, "file", "f", "", "Manifest file (.toml, .yaml, .yml)")
	_ = jobsApplyCmd.MarkFlagRequired("file")

	JobsCmd.AddCommand(jobsLsCmd)
	JobsCmd.AddCommand(jobsGetCmd)
	JobsCmd.AddCommand(jobsCreateCmd)
	JobsCmd.AddCommand(jobsPauseCmd)
	JobsCmd.AddCommand(jobsResumeCmd)
	JobsCmd.AddCommand(jobsRmCmd)
	JobsCmd.AddCommand(jobsApplyCmd)
}

func requireWorkspace() error {
	if strings.TrimSpace(jobsWorkspace) == "" {
		return errors.New("--workspace is required")
	}
	return nil
}

func runJobsLs(cmd *cobra.Command, args []string) error {
	if err := requireWorkspace(); err != nil {
		return err
	}
	_, database, svc, err := openService()
	if err != nil {
		return err
	}
	defer database.Close()

	jobs, err := svc.ListJobs(cmd.Context(), jobsWorkspace, jobsIncludeDeleted)
	if err != nil {
		return err
	}
	if jobsJSON {
		return printJSON(cmd.OutOrStdout(), jobs)
	}
	if len(jobs) == 0 {
		pterm.Info.Printf("No jobs in workspace %s\n", jobsWorkspace)
		return nil
	}
	return pterm.DefaultTable.WithHasHeader().WithData(jobTable(jobs)).WithWriter(cmd.OutOrStdout()).Render()
}

func runJobsGet(cmd *cobra.Command, args []string) error {
	if err := requireWorkspace(); err != nil {
		return err
	}
	_, database, svc, err := openService()
	if err != nil {
		return err
	}
	defer database.Close()

	job, err := svc.GetJob(cmd.Context(), jobsWorkspace, args[0])
	if err != nil {
		return err
	}
	if jobsJSON {
		return printJSON(cmd.OutOrStdout(), job)
	}
	return printJob(cmd.OutOrStdout(), job)
}

func runJobsCreate(cmd *cobra.Command, args []string) error {
	if err := requireWorkspace(); err != nil {
		return err
	}

	steps := make([]ManifestAction, 0, len(createActions))
	for _, raw := range createActions {
		step, err := parseActionFlag(raw)
		if err != nil {
			return err
		}
		steps = append(steps, step)
	}
	spec, err := ManifestJob{
		Name:        createName,
		Description: createDesc,
		Schedule:    createSchedule,
		At:          createAt,
		Days:        createDays,
		Timezone:    createTimezone,
		Actions:     steps,
	}.JobSpec()
	if err != nil {
		return err
	}

	_, database, svc, err := openService()
	if err != nil {
		return err
	}
	defer database.Close()

	job, err := svc.CreateJob(cmd.Context(), jobsWorkspace, spec)
	if err != nil {
		return err
	}
	if jobsJSON {
		return printJSON(cmd.OutOrStdout(), job)
	}
	pterm.Success.Printf("Created job %s, next run %s\n", job.ID, formatWhen(job.NextRunAt))
	return nil
}

// parseActionFlag parses "kind" or "kind:{json}"
func parseActionFlag(raw string) (ManifestAction, error) {
	kind, config, hasConfig := strings.Cut(raw, ":")
	step := ManifestAction{Kind: kind}
	if hasConfig {
		if err := json.Unmarshal([]byte(config), &step.Config); err != nil {
			return ManifestAction{}, errors.Wrapf(err, "--action %s: config must be a JSON object", kind)
		}
	}
	return step, nil
}

type transitionFunc func(*schedule.Service, context.Context, string, string) (*schedule.Job, error)

func jobTransition(verb string, fn transitionFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := requireWorkspace(); err != nil {
			return err
		}
		_, database, svc, err := openService()
		if err != nil {
			return err
		}
		defer database.Close()

		job, err := fn(svc, cmd.Context(), jobsWorkspace, args[0])
		if err != nil {
			return err
		}
		if jobsJSON {
			return printJSON(cmd.OutOrStdout(), job)
		}
		pterm.Success.Printf("Job %s %s (status %s, next run %s)\n", job.ID, verb, job.Status, formatWhen(job.NextRunAt))
		return nil
	}
}

// applyResult is one row of `jobs apply` output
type applyResult struct {
	Name   string `json:"name"`
	ID     string `json:"id"`
	Action string `json:"action"`
	Status string `json:"status"`
}

func runJobsApply(cmd *cobra.Command, args []string) error {
	manifest, err := LoadManifest(jobsManifest)
	if err != nil {
		return err
	}
	if jobsWorkspace != "" && jobsWorkspace != manifest.WorkspaceID {
		return errors.Newf("manifest is for workspace %s, not %s", manifest.WorkspaceID, jobsWorkspace)
	}

	_, database, svc, err := openService()
	if err != nil {
		return err
	}
	defer database.Close()

	results, err := applyManifest(cmd.Context(), svc, manifest)
	if jobsJSON {
		if jerr := printJSON(cmd.OutOrStdout(), results); jerr != nil {
			return jerr
		}
		return err
	}
	if len(results) > 0 {
		rows := [][]string{{"NAME", "ID", "ACTION", "STATUS"}}
		for _, r := range results {
			rows = append(rows, []string{r.Name, r.ID, r.Action, r.Status})
		}
		if rerr := pterm.DefaultTable.WithHasHeader().WithData(rows).WithWriter(cmd.OutOrStdout()).Render(); rerr != nil {
			return rerr
		}
	}
	if err != nil {
		return err
	}
	pterm.Success.Printf("Applied %d job(s) to workspace %s\n", len(results), manifest.WorkspaceID)
	return nil
}
