package aggregator

import (
	"fmt"
	"os"

	"github.com/logrusorgru/aurora"
	"github.com/olekukonko/tablewriter"

	"github.com/sparesparrow/openssl-ci-orchestrator/api"
)

// RenderOutcome prints a per-job summary table for a frozen build outcome
func RenderOutcome(outcome api.BuildOutcome) {

	data := make([][]string, 0)

	durationTotal := 0.0
	succeededTotal := 0

	for _, result := range outcome.JobResults {

		duration := ""
		if !result.FinishedAt.IsZero() && !result.StartedAt.IsZero() {
			seconds := result.FinishedAt.Sub(result.StartedAt).Seconds()
			duration = fmt.Sprintf("%.0f", seconds)
			durationTotal += seconds
		}

		if result.Status == api.JobStatusSucceeded {
			succeededTotal++
		}

		data = append(data, []string{
			result.JobSpecID,
			string(result.Platform),
			fmt.Sprintf("%v", result.RunIndex),
			duration,
			colorizeJobStatus(result.Status),
		})
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Job", "Platform", "Runs", "Duration (s)", "Status"})
	table.SetFooter([]string{"", "Total", fmt.Sprintf("%v/%v", succeededTotal, len(outcome.JobResults)), fmt.Sprintf("%.0f", durationTotal), colorizeOverallStatus(outcome.OverallStatus)})
	table.SetBorder(false)
	table.AppendBulk(data)
	table.Render()
}

func colorizeJobStatus(status api.JobStatus) string {
	switch status {
	case api.JobStatusSucceeded:
		return aurora.Green(string(status)).String()
	case api.JobStatusFailed, api.JobStatusTimedOut:
		return aurora.Red(string(status)).String()
	case api.JobStatusCancelled:
		return aurora.Yellow(string(status)).String()
	}
	return string(status)
}

func colorizeOverallStatus(status api.OutcomeStatus) string {
	switch status {
	case api.OutcomeStatusPassed:
		return aurora.Green(string(status)).String()
	case api.OutcomeStatusFailed:
		return aurora.Red(string(status)).String()
	case api.OutcomeStatusPartial:
		return aurora.Yellow(string(status)).String()
	}
	return string(status)
}
