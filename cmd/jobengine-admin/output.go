package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/target/assessment-jobs/internal/domain/model"
)

func writef(w io.Writer, format string, args ...any) error {
	_, err := fmt.Fprintf(w, format, args...)
	return err
}

func writeln(w io.Writer, args ...any) error {
	_, err := fmt.Fprintln(w, args...)
	return err
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func printStats(w io.Writer, stats *model.EngineStats) error {
	if stats == nil {
		return writeln(w, "no stats available")
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if err := writeln(tw, "STATUS\tJOBS\tRESULTS"); err != nil {
		return fmt.Errorf("write stats header: %w", err)
	}
	rows := []struct {
		label        string
		jobs, result int
	}{
		{"queued", stats.Jobs.Queued, stats.Results.Queued},
		{"processing", stats.Jobs.Processing, stats.Results.Processing},
		{"completed", stats.Jobs.Completed, stats.Results.Completed},
		{"failed", stats.Jobs.Failed, stats.Results.Failed},
	}
	for _, r := range rows {
		if err := writef(tw, "%s\t%d\t%d\n", r.label, r.jobs, r.result); err != nil {
			return fmt.Errorf("write stats row %q: %w", r.label, err)
		}
	}
	if err := writef(tw, "cancelled\t%d\t-\n", stats.Jobs.Cancelled); err != nil {
		return fmt.Errorf("write stats row: %w", err)
	}
	if err := writef(tw, "total\t%d\t-\n", stats.Jobs.Total()); err != nil {
		return fmt.Errorf("write stats total: %w", err)
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("flush stats: %w", err)
	}
	return writef(w, "\nOldest job: %s  Newest job: %s  Avg age: %.0fs\n",
		formatTime(stats.Jobs.Ages.Oldest), formatTime(stats.Jobs.Ages.Newest), stats.Jobs.Ages.AvgAgeSeconds)
}

func printSweep(w io.Writer, r model.SweepReport) error {
	if !r.LockAcquired {
		return writeln(w, "Another monitor instance holds the sweep lock; nothing was changed.")
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	lines := []struct {
		label string
		value int
	}{
		{"Stuck processing > 1h", r.Buckets.Processing1h},
		{"Stuck processing > 30m", r.Buckets.Processing30m},
		{"Stuck queued > 24h", r.Buckets.Queued24h},
		{"Failed (processing timeout)", r.TransitionedProcessing},
		{"Failed (queued timeout)", r.TransitionedQueued},
		{"Failed (retries exhausted)", r.TransitionedExhausted},
		{"Refunded", r.Refunded},
	}
	for _, l := range lines {
		if err := writef(tw, "%s\t%d\n", l.label, l.value); err != nil {
			return fmt.Errorf("write sweep row: %w", err)
		}
	}
	if err := writef(tw, "Duration\t%s\n", r.Duration.Round(time.Millisecond)); err != nil {
		return fmt.Errorf("write sweep duration: %w", err)
	}
	return tw.Flush()
}

func printOrphans(w io.Writer, orphans []model.OrphanedJob) error {
	if len(orphans) == 0 {
		return writeln(w, "No orphaned jobs.")
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if err := writeln(tw, "JOB ID\tUSER\tSTATUS\tMISSING RESULT\tCREATED (UTC)"); err != nil {
		return fmt.Errorf("write orphans header row: %w", err)
	}
	for _, o := range orphans {
		created := o.CreatedAt
		if err := writef(tw, "%s\t%s\t%s\t%s\t%s\n", o.JobID, o.UserID, o.Status, o.ResultID, formatTime(&created)); err != nil {
			return fmt.Errorf("write orphan row: %w", err)
		}
	}
	return tw.Flush()
}

func printJobs(w io.Writer, jobs []*model.Job) error {
	if len(jobs) == 0 {
		return writeln(w, "No jobs found.")
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if err := writeln(tw, "JOB ID\tUSER\tTYPE\tSTATUS\tRETRIES\tCREATED (UTC)\tERROR"); err != nil {
		return fmt.Errorf("write jobs header row: %w", err)
	}
	for _, j := range jobs {
		if j == nil {
			continue
		}
		msg := "-"
		if j.ErrorMessage != nil && *j.ErrorMessage != "" {
			msg = *j.ErrorMessage
		}
		created := j.CreatedAt
		if err := writef(tw, "%s\t%s\t%s\t%s\t%d/%d\t%s\t%s\n",
			j.ID, j.UserID, j.Type, j.Status, j.RetryCount, j.MaxRetries, formatTime(&created), msg); err != nil {
			return fmt.Errorf("write job row: %w", err)
		}
	}
	return tw.Flush()
}

func printBulkResult(w io.Writer, res model.BulkResult) error {
	if err := writef(w, "Cancelled %d job(s) in %d batch(es).\n", len(res.Successful), res.Batches); err != nil {
		return err
	}
	if len(res.Failed) == 0 {
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if err := writeln(tw, "FAILED ID\tREASON"); err != nil {
		return fmt.Errorf("write failures header row: %w", err)
	}
	for _, f := range res.Failed {
		if err := writef(tw, "%s\t%s\n", f.ID, f.Reason); err != nil {
			return fmt.Errorf("write failure row: %w", err)
		}
	}
	return tw.Flush()
}

func printPending(w io.Writer, pending []string) error {
	if len(pending) == 0 {
		return writeln(w, "Schema is up to date.")
	}
	if err := writef(w, "%d pending migration(s):\n", len(pending)); err != nil {
		return err
	}
	for _, v := range pending {
		if err := writef(w, "  %s\n", v); err != nil {
			return err
		}
	}
	return nil
}

type confirmOptions struct {
	yes     bool
	warning string
}

var errAborted = errors.New("aborted by user")

func confirmAction(app *adminApp, opts confirmOptions) error {
	if opts.yes {
		return nil
	}
	if err := writef(app.out, "%s\nContinue? [y/N]: ", opts.warning); err != nil {
		return fmt.Errorf("print confirmation prompt: %w", err)
	}
	resp, err := bufio.NewReader(app.in).ReadString('\n')
	if err != nil && resp == "" {
		return errAborted
	}
	resp = strings.ToLower(strings.TrimSpace(resp))
	if resp == "y" || resp == "yes" {
		return nil
	}
	return errAborted
}
