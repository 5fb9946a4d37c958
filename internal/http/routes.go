package httpx

import (
	"context"
	"log/slog"
	"net/http"
)

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Jobs   JobService
	Syncer Syncer
	Admin  AdminService
	// Metrics serves /metrics when set (Prometheus handler).
	Metrics http.Handler
	// Ready backs /readyz; nil leaves the route unregistered.
	Ready  func(context.Context) error
	Logger *slog.Logger
}

// NewRouter creates and configures the API router.
func NewRouter(services RouterServices) http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("HEAD /healthz", http.HandlerFunc(healthHandler))
	if services.Ready != nil {
		mux.Handle("GET /readyz", readyHandler(services.Ready))
	}
	if services.Metrics != nil {
		mux.Handle("GET /metrics", services.Metrics)
	}

	if services.Jobs != nil {
		jobs := &JobHandlers{Svc: services.Jobs, Syncer: services.Syncer}
		mux.HandleFunc("POST /api/jobs", jobs.CreateJob)
		mux.HandleFunc("GET /api/jobs/{id}", jobs.GetJob)
		mux.HandleFunc("POST /api/jobs/{id}/cancel", jobs.CancelJob)
		if services.Syncer != nil {
			mux.HandleFunc("POST /api/jobs/{id}/sync", jobs.SyncJob)
		}
	}

	if services.Admin != nil {
		admin := &AdminHandlers{Svc: services.Admin}
		mux.HandleFunc("GET /api/admin/stats", admin.Stats)
		mux.HandleFunc("POST /api/admin/sweep", admin.Sweep)
		mux.HandleFunc("GET /api/admin/orphans", admin.Orphans)
		mux.HandleFunc("GET /api/admin/jobs", admin.ListJobs)
		mux.HandleFunc("GET /api/admin/jobs/dead-letter", admin.DeadLetter)
		mux.HandleFunc("POST /api/admin/jobs/bulk-cancel", admin.BulkCancel)
	}

	if services.Logger != nil {
		services.Logger.Debug("api router configured",
			slog.Bool("jobs", services.Jobs != nil),
			slog.Bool("admin", services.Admin != nil),
			slog.Bool("metrics", services.Metrics != nil))
	}
	return mux
}
