package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/target/assessment-jobs/internal/domain/model"
)

func newStatsCmd(app *adminApp) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show job and result counts by status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.withAdmin(cmd, func(ctx context.Context, svc adminAPI) error {
				stats, err := svc.Stats(ctx)
				if err != nil {
					return fmt.Errorf("load stats: %w", err)
				}
				if asJSON {
					return printJSON(app.out, stats)
				}
				return printStats(app.out, stats)
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print raw JSON")
	return cmd
}

func newSweepCmd(app *adminApp) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run the stuck job monitor once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.withAdmin(cmd, func(ctx context.Context, svc adminAPI) error {
				report, err := svc.ForceSweep(ctx)
				if err != nil {
					return fmt.Errorf("sweep: %w", err)
				}
				return printSweep(app.out, report)
			})
		},
	}
}

func newOrphansCmd(app *adminApp) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "orphans",
		Short: "List jobs whose linked result record is missing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.withAdmin(cmd, func(ctx context.Context, svc adminAPI) error {
				orphans, err := svc.ListOrphans(ctx, limit)
				if err != nil {
					return fmt.Errorf("list orphans: %w", err)
				}
				return printOrphans(app.out, orphans)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum rows")
	return cmd
}

func newDeadLetterCmd(app *adminApp) *cobra.Command {
	var (
		limit  int
		userID string
	)
	cmd := &cobra.Command{
		Use:   "dead-letter",
		Short: "List failed jobs that used their whole retry budget",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := model.DeadLetterOptions{Limit: limit}
			if u := strings.TrimSpace(userID); u != "" {
				opts.UserID = &u
			}
			return app.withAdmin(cmd, func(ctx context.Context, svc adminAPI) error {
				jobs, err := svc.ListRetryExhausted(ctx, opts)
				if err != nil {
					return fmt.Errorf("list dead letter: %w", err)
				}
				return printJobs(app.out, jobs)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum rows")
	cmd.Flags().StringVar(&userID, "user", "", "only jobs owned by this user")
	return cmd
}

func newListJobsCmd(app *adminApp) *cobra.Command {
	var (
		status, jobType, userID string
		limit, offset           int
	)
	cmd := &cobra.Command{
		Use:   "list-jobs",
		Short: "List jobs with optional filters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := buildListOptions(status, jobType, userID)
			if err != nil {
				return err
			}
			opts.Limit, opts.Offset = limit, offset
			return app.withAdmin(cmd, func(ctx context.Context, svc adminAPI) error {
				jobs, err := svc.ListJobs(ctx, opts)
				if err != nil {
					return fmt.Errorf("list jobs: %w", err)
				}
				return printJobs(app.out, jobs)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "queued, processing, completed, failed or cancelled")
	cmd.Flags().StringVar(&jobType, "type", "", "job type")
	cmd.Flags().StringVar(&userID, "user", "", "owner user id")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	cmd.Flags().IntVar(&offset, "offset", 0, "rows to skip")
	return cmd
}

func buildListOptions(status, jobType, userID string) (model.JobListOptions, error) {
	var opts model.JobListOptions
	if s := strings.ToLower(strings.TrimSpace(status)); s != "" {
		st := model.JobStatus(s)
		if !st.Valid() {
			return opts, fmt.Errorf("invalid status %q", status)
		}
		opts.Status = &st
	}
	if strings.TrimSpace(jobType) != "" {
		var jt model.JobType
		if err := jt.UnmarshalText([]byte(jobType)); err != nil {
			return opts, err
		}
		opts.Type = &jt
	}
	if u := strings.TrimSpace(userID); u != "" {
		opts.UserID = &u
	}
	return opts, nil
}

func newBulkCancelCmd(app *adminApp) *cobra.Command {
	var (
		reason string
		yes    bool
	)
	cmd := &cobra.Command{
		Use:   "bulk-cancel <job-id>...",
		Short: "Cancel many jobs and refund their credits",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseJobIDs(args)
			if err != nil {
				return err
			}
			if err := confirmAction(app, confirmOptions{
				yes:     yes,
				warning: fmt.Sprintf("WARNING: this will cancel %d job(s) and refund any credits they hold.", len(ids)),
			}); err != nil {
				return err
			}
			return app.withAdmin(cmd, func(ctx context.Context, svc adminAPI) error {
				res, err := svc.BulkCancel(ctx, model.BulkCancelRequest{IDs: ids, Reason: reason})
				if err != nil {
					return fmt.Errorf("bulk cancel: %w", err)
				}
				return printBulkResult(app.out, res)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "cancellation reason recorded on each job")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}

// parseJobIDs accepts ids as separate args or comma separated, and drops duplicates.
func parseJobIDs(args []string) ([]string, error) {
	seen := make(map[string]struct{}, len(args))
	ids := make([]string, 0, len(args))
	var bad []string
	for _, arg := range args {
		for _, raw := range strings.Split(arg, ",") {
			id := strings.TrimSpace(raw)
			if id == "" {
				continue
			}
			if _, err := uuid.Parse(id); err != nil {
				bad = append(bad, id)
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	if len(bad) > 0 {
		return nil, fmt.Errorf("invalid job ids: %s", strings.Join(bad, ", "))
	}
	if len(ids) == 0 {
		return nil, errors.New("at least one job id is required")
	}
	return ids, nil
}

func newSyncCmd(app *adminApp) *cobra.Command {
	return &cobra.Command{
		Use:   "sync <job-id>",
		Short: "Reconcile a job with its result record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.withAdmin(cmd, func(ctx context.Context, svc adminAPI) error {
				res, err := svc.Sync(ctx, strings.TrimSpace(args[0]))
				if err != nil {
					return fmt.Errorf("sync: %w", err)
				}
				return printJSON(app.out, res)
			})
		},
	}
}
