package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"github.com/inkpulse/inkpulse/pulse/action"
	"github.com/inkpulse/inkpulse/pulse/schedule"
)

var jobStatuses = []schedule.Status{
	schedule.StatusActive,
	schedule.StatusPaused,
	schedule.StatusDegraded,
	schedule.StatusDisabled,
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatWhen(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04 MST")
}

func pipeline(actions []action.Action) string {
	parts := make([]string, len(actions))
	for i, a := range actions {
		parts[i] = a.Kind.Symbol() + " " + string(a.Kind)
	}
	return strings.Join(parts, " → ")
}

func statusStyle(status schedule.Status) string {
	switch status {
	case schedule.StatusActive:
		return pterm.Green(string(status))
	case schedule.StatusPaused:
		return pterm.Yellow(string(status))
	case schedule.StatusDegraded:
		return pterm.Red(string(status))
	default:
		return pterm.Gray(string(status))
	}
}

func outcomeStyle(o action.Outcome) string {
	switch o {
	case action.OutcomeSuccess:
		return pterm.Green(string(o))
	case action.OutcomePartialFailure:
		return pterm.Yellow(string(o))
	default:
		return pterm.Red(string(o))
	}
}

func jobTable(jobs []*schedule.Job) [][]string {
	rows := [][]string{{"ID", "NAME", "SCHEDULE", "STATUS", "NEXT RUN", "RUNS (ok/partial/failed)", "PIPELINE"}}
	for _, j := range jobs {
		rows = append(rows, []string{
			j.ID,
			j.Name,
			j.Spec.Describe(),
			statusStyle(j.Status),
			formatWhen(j.NextRunAt),
			fmt.Sprintf("%d (%d/%d/%d)", j.TotalRuns, j.SuccessfulRuns, j.PartialFailureRuns, j.FailedRuns),
			pipeline(j.Actions),
		})
	}
	return rows
}

func runTable(runs []*schedule.RunRecord) [][]string {
	rows := [][]string{{"RUN", "JOB", "STARTED", "DURATION", "OUTCOME", "ERROR"}}
	for _, r := range runs {
		started := r.StartedAt
		rows = append(rows, []string{
			shortID(r.ID),
			shortID(r.JobID),
			formatWhen(&started),
			(time.Duration(r.DurationMs) * time.Millisecond).String(),
			outcomeStyle(r.Outcome),
			r.Error,
		})
	}
	return rows
}

func printJob(w io.Writer, j *schedule.Job) error {
	rows := [][]string{
		{"ID", j.ID},
		{"Workspace", j.WorkspaceID},
		{"Name", j.Name},
		{"Schedule", j.Spec.Describe()},
		{"Status", statusStyle(j.Status)},
		{"Next run", formatWhen(j.NextRunAt)},
		{"Last run", formatWhen(j.LastRunAt)},
		{"Runs", fmt.Sprintf("%d total, %d ok, %d partial, %d failed", j.TotalRuns, j.SuccessfulRuns, j.PartialFailureRuns, j.FailedRuns)},
		{"Consecutive failures", fmt.Sprint(j.ConsecutiveFailures)},
		{"Pipeline", pipeline(j.Actions)},
	}
	if j.ClaimOwner != "" {
		rows = append(rows, []string{"Claimed by", j.ClaimOwner + " until " + formatWhen(j.ClaimLeaseUntil)})
	}
	return pterm.DefaultTable.WithData(rows).WithWriter(w).Render()
}

func shortID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}
