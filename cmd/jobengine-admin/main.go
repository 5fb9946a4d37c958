// Command jobengine-admin runs operator tasks against the job engine database.
package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/target/assessment-jobs/config"
	"github.com/target/assessment-jobs/internal/bootstrap"
	"github.com/target/assessment-jobs/internal/domain/model"
)

const defaultCommandTimeout = 5 * time.Minute

// adminAPI is the slice of the admin service the CLI drives.
type adminAPI interface {
	Stats(ctx context.Context) (*model.EngineStats, error)
	ForceSweep(ctx context.Context) (model.SweepReport, error)
	ListOrphans(ctx context.Context, limit int) ([]model.OrphanedJob, error)
	ListRetryExhausted(ctx context.Context, opts model.DeadLetterOptions) ([]*model.Job, error)
	ListJobs(ctx context.Context, opts model.JobListOptions) ([]*model.Job, error)
	BulkCancel(ctx context.Context, req model.BulkCancelRequest) (model.BulkResult, error)
	Sync(ctx context.Context, jobID string) (model.SyncResult, error)
}

// adminApp carries what every command needs. Tests swap openAdmin for a fake.
type adminApp struct {
	logger     *slog.Logger
	out        io.Writer
	in         io.Reader
	loadConfig func() (config.AppConfig, error)
	openAdmin  func(ctx context.Context, app *adminApp) (adminAPI, func() error, error)
	timeout    time.Duration
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	app := &adminApp{
		logger:     logger,
		out:        os.Stdout,
		in:         os.Stdin,
		loadConfig: bootstrap.LoadConfig,
		openAdmin:  openAdminService,
		timeout:    defaultCommandTimeout,
	}
	if err := newRootCmd(app).Execute(); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1) //nolint:forbidigo // CLI must propagate command execution failure to callers
	}
}

func newRootCmd(app *adminApp) *cobra.Command {
	root := &cobra.Command{
		Use:           "jobengine-admin",
		Short:         "Operator tooling for the assessment job engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().DurationVar(&app.timeout, "timeout", app.timeout, "overall command timeout")

	root.AddCommand(
		newMigrateCmd(app),
		newStatsCmd(app),
		newSweepCmd(app),
		newOrphansCmd(app),
		newDeadLetterCmd(app),
		newListJobsCmd(app),
		newBulkCancelCmd(app),
		newSyncCmd(app),
	)
	return root
}

// withAdmin opens the admin service for one command invocation.
func (a *adminApp) withAdmin(cmd *cobra.Command, fn func(ctx context.Context, svc adminAPI) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), a.timeout)
	defer cancel()

	svc, closeFn, err := a.openAdmin(ctx, a)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := closeFn(); closeErr != nil {
			a.logger.Warn("close infrastructure", "error", closeErr)
		}
	}()
	return fn(ctx, svc)
}
