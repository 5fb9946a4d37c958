// Package testhelpers builds data-layer repositories that share one controllable clock.
package testhelpers

import (
	"database/sql"
	"time"

	"github.com/target/assessment-jobs/internal/data"
)

// Repos bundles the repositories an engine test needs, all reading the same clock.
type Repos struct {
	Jobs    *data.JobRepo
	Results *data.ResultRepo
	Ledger  *data.CreditLedgerRepo
	Clock   *data.FixedTimeProvider
}

// NewJobRepoWithTimeProvider creates a JobRepo with the provided TimeProvider for tests.
func NewJobRepoWithTimeProvider(db *sql.DB, cfg data.RepoConfig, tp data.TimeProvider) *data.JobRepo {
	cfg.TimeProvider = tp
	return data.NewJobRepo(db, cfg)
}

// NewReposAt wires job, result and ledger repositories against a fixed clock starting at start.
func NewReposAt(db *sql.DB, cfg data.RepoConfig, start time.Time) *Repos {
	clock := data.NewFixedTimeProvider(start)
	return &Repos{
		Jobs:    NewJobRepoWithTimeProvider(db, cfg, clock),
		Results: data.NewResultRepo(db, clock),
		Ledger:  data.NewCreditLedgerRepo(db),
		Clock:   clock,
	}
}
