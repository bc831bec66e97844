package auditctl

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/louisbranch/audittrail/internal/services/audittrail/api/grpc/auditlog"
)

func outputJSON(out io.Writer, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	_, err = fmt.Fprintln(out, string(encoded))
	return err
}

func printRuns(out io.Writer, asJSON bool, runs []auditlog.Run) error {
	if asJSON {
		return outputJSON(out, runs)
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs.")
		return nil
	}
	for _, run := range runs {
		actor := run.ActorID
		if actor == "" {
			actor = "*"
		}
		fmt.Fprintf(out, "%s %s scope=%s actor=%s status=%s verified=%d/%d trigger=%s\n",
			run.FinishedAt.UTC().Format(time.RFC3339), run.ID, run.Scope, actor, run.Status,
			run.VerifiedEntries, run.TotalEntries, run.SourceTrigger)
		if run.BrokenAtEntryID != nil {
			fmt.Fprintf(out, "  broken at entry %d: %s (expected=%s actual=%s)\n", *run.BrokenAtEntryID, run.BreakReason, run.Expected, run.Actual)
		}
		if run.Error != "" {
			fmt.Fprintf(out, "  error: %s\n", run.Error)
		}
	}
	return nil
}

func printStatus(out io.Writer, asJSON bool, resp *auditlog.GetStatusResponse) error {
	if asJSON {
		return outputJSON(out, resp)
	}
	fmt.Fprintf(out, "State: %s\n", resp.State)
	if resp.Detail != "" {
		fmt.Fprintf(out, "Detail: %s\n", resp.Detail)
	}
	if resp.CheckedAt != nil {
		fmt.Fprintf(out, "Checked at: %s\n", resp.CheckedAt.UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(out, "Entries verified: %d/%d\n", resp.VerifiedEntries, resp.TotalEntries)
	fmt.Fprintf(out, "Recent runs: %d intact of %d (%.0f%%)\n", resp.Health.Intact, resp.Health.Runs, resp.Health.SuccessRate*100)
	for _, link := range resp.BrokenLinks {
		fmt.Fprintf(out, "  broken link: entry %d actor=%s reason=%s run=%s\n", link.Index, link.ActorID, link.Reason, link.RunID)
	}
	return nil
}

func printAlerts(out io.Writer, asJSON bool, alerts []auditlog.Alert) error {
	if asJSON {
		return outputJSON(out, alerts)
	}
	if len(alerts) == 0 {
		fmt.Fprintln(out, "No alerts.")
		return nil
	}
	for _, alert := range alerts {
		state := "open"
		switch {
		case alert.Cleared:
			state = "cleared"
		case alert.Acknowledged:
			state = "acknowledged"
		}
		fmt.Fprintf(out, "%s run=%s actor=%s entry=%d reason=%s state=%s\n",
			alert.DetectedAt.UTC().Format(time.RFC3339), alert.RunID, alert.ActorID, alert.EntryID, alert.Reason, state)
		if alert.AcknowledgedBy != "" {
			fmt.Fprintf(out, "  by %s: %s\n", alert.AcknowledgedBy, alert.Note)
		}
	}
	return nil
}

func printVersions(out io.Writer, asJSON bool, versions []auditlog.SecretVersion) error {
	if asJSON {
		return outputJSON(out, versions)
	}
	for _, v := range versions {
		marker := ""
		if v.Current {
			marker = " (current)"
		}
		fmt.Fprintf(out, "%s%s created %s by %s\n", v.Version, marker, v.CreatedAt.UTC().Format(time.RFC3339), v.CreatedBy)
	}
	return nil
}
