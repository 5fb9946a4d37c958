package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/assessment-jobs/internal/core"
	"github.com/target/assessment-jobs/internal/domain/model"
	"github.com/target/assessment-jobs/internal/testutil"
	"golang.org/x/sync/errgroup"
)

func newTestRepos(db *sql.DB) (*JobRepo, *ResultRepo, *FixedTimeProvider) {
	clock := NewFixedTimeProvider(testutil.TestTime())
	return NewJobRepo(db, RepoConfig{TimeProvider: clock}), NewResultRepo(db, clock), clock
}

func mustCreate(t *testing.T, repo *JobRepo, req *model.CreateJobRequest) (*model.Job, *model.Result) {
	t.Helper()
	maxRetries := 3
	if req.MaxRetries != nil {
		maxRetries = *req.MaxRetries
	}
	job, res, err := repo.Create(context.Background(), core.CreateJobParams{Request: req, MaxRetries: maxRetries})
	require.NoError(t, err)
	return job, res
}

func TestJobRepo_Create(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	tests := []struct {
		name    string
		req     *model.CreateJobRequest
		wantErr string
	}{
		{
			name: "assessment with credits",
			req:  testutil.AssessmentJobRequest(),
		},
		{
			name: "free report",
			req:  testutil.ReportJobRequest(),
		},
		{
			name:    "invalid job type",
			req:     testutil.NewJobRequest().WithType("bogus").Build(),
			wantErr: "invalid job type",
		},
		{
			name:    "missing user",
			req:     testutil.NewJobRequest().WithUserID(" ").Build(),
			wantErr: "user_id is required",
		},
		{
			name:    "invalid payload",
			req:     testutil.NewJobRequest().WithPayloadString(`{"broken"`).Build(),
			wantErr: "payload must be valid JSON",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testutil.WithAutoDB(t, func(db *sql.DB) {
				repo, results, clock := newTestRepos(db)
				ctx := context.Background()

				job, res, err := repo.Create(ctx, core.CreateJobParams{Request: tt.req, MaxRetries: 3})
				if tt.wantErr != "" {
					require.Error(t, err)
					assert.Contains(t, err.Error(), tt.wantErr)
					return
				}
				require.NoError(t, err)

				assert.NotEmpty(t, job.ID)
				assert.Equal(t, model.JobStatusQueued, job.Status)
				assert.Equal(t, tt.req.Type, job.Type)
				assert.Equal(t, tt.req.UserID, job.UserID)
				assert.Equal(t, tt.req.CreditCost, job.CreditCost)
				assert.Equal(t, 0, job.RetryCount)
				assert.Equal(t, 3, job.MaxRetries)
				assert.True(t, job.CreatedAt.Equal(clock.Now()))
				assert.True(t, job.NextEligibleAt.Equal(clock.Now()))
				assert.Nil(t, job.ProcessingStartedAt)
				assert.Nil(t, job.CompletedAt)

				// The result exists from submission on and the job points at it.
				require.NotNil(t, job.ResultID)
				assert.Equal(t, res.ID, *job.ResultID)
				require.NotNil(t, res.JobID)
				assert.Equal(t, job.ID, *res.JobID)
				assert.Equal(t, model.ResultStatusQueued, res.Status)
				assert.JSONEq(t, string(tt.req.Payload), string(res.InputPayload))

				stored, err := results.GetByJobID(ctx, job.ID)
				require.NoError(t, err)
				assert.Equal(t, res.ID, stored.ID)
			})
		})
	}
}

func TestJobRepo_Create_DefaultsRetryBudget(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo, _, _ := newTestRepos(db)
		job, _, err := repo.Create(context.Background(), core.CreateJobParams{Request: testutil.AssessmentJobRequest()})
		require.NoError(t, err)
		assert.Equal(t, defaultMaxRetries, job.MaxRetries)
	})
}

func TestJobRepo_GetByID(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo, _, _ := newTestRepos(db)
		ctx := context.Background()
		created, _ := mustCreate(t, repo, testutil.AssessmentJobRequest())

		got, err := repo.GetByID(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, created.ID, got.ID)
		assert.JSONEq(t, `{"assessment_id": "a-1"}`, string(got.Payload))

		_, err = repo.GetByID(ctx, "550e8400-e29b-41d4-a716-446655440000")
		require.ErrorIs(t, err, ErrJobNotFound)

		_, err = repo.GetByID(ctx, "not-a-uuid")
		require.ErrorIs(t, err, ErrJobNotFound)

		_, err = repo.GetByID(ctx, "")
		require.ErrorIs(t, err, ErrJobIDRequired)
	})
}

func TestJobRepo_List(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo, _, clock := newTestRepos(db)
		ctx := context.Background()

		mustCreate(t, repo, testutil.NewJobRequest().WithUserID("alice").Build())
		clock.AddTime(time.Second)
		mustCreate(t, repo, testutil.NewJobRequest().WithUserID("bob").WithType(model.JobTypeReassessment).Build())
		clock.AddTime(time.Second)
		mustCreate(t, repo, testutil.NewJobRequest().WithUserID("alice").WithType(model.JobTypeReport).Build())

		all, err := repo.List(ctx, nil)
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, model.JobTypeReport, all[0].Type, "newest first")

		alice := "alice"
		mine, err := repo.List(ctx, &model.JobListOptions{UserID: &alice})
		require.NoError(t, err)
		assert.Len(t, mine, 2)

		reassess := model.JobTypeReassessment
		byType, err := repo.List(ctx, &model.JobListOptions{Type: &reassess})
		require.NoError(t, err)
		require.Len(t, byType, 1)
		assert.Equal(t, "bob", byType[0].UserID)

		page, err := repo.List(ctx, &model.JobListOptions{Limit: 1, Offset: 1})
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, model.JobTypeReassessment, page[0].Type)
	})
}

func TestJobRepo_ClaimNext_PriorityOrder(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo, _, clock := newTestRepos(db)
		ctx := context.Background()

		for _, p := range []int{1, 5, 3} {
			mustCreate(t, repo, testutil.PriorityJobRequest(p))
			clock.AddTime(time.Millisecond)
		}

		claimed, err := repo.ClaimNext(ctx, 3)
		require.NoError(t, err)
		require.Len(t, claimed, 3)
		assert.Equal(t, []int{5, 3, 1}, []int{claimed[0].Priority, claimed[1].Priority, claimed[2].Priority})

		for _, j := range claimed {
			assert.Equal(t, model.JobStatusQueued, j.Status, "claim does not start the job")
			require.NotNil(t, j.ClaimedUntil)
			assert.True(t, j.ClaimedUntil.After(clock.Now()))
			assert.NotNil(t, j.ClaimToken)
		}

		again, err := repo.ClaimNext(ctx, 3)
		require.NoError(t, err)
		assert.Empty(t, again, "leased jobs are hidden from other claimers")
		assert.NotNil(t, again)
	})
}

func TestJobRepo_ClaimNext_FIFOWithinPriority(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo, _, clock := newTestRepos(db)
		ctx := context.Background()

		first, _ := mustCreate(t, repo, testutil.PriorityJobRequest(10))
		clock.AddTime(time.Second)
		second, _ := mustCreate(t, repo, testutil.PriorityJobRequest(10))

		claimed, err := repo.ClaimNext(ctx, 1)
		require.NoError(t, err)
		require.Len(t, claimed, 1)
		assert.Equal(t, first.ID, claimed[0].ID)

		claimed, err = repo.ClaimNext(ctx, 1)
		require.NoError(t, err)
		require.Len(t, claimed, 1)
		assert.Equal(t, second.ID, claimed[0].ID)
	})
}

func TestJobRepo_ClaimNext_ExpiredLeaseIsReclaimable(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		clock := NewFixedTimeProvider(testutil.TestTime())
		repo := NewJobRepo(db, RepoConfig{TimeProvider: clock, ClaimLease: 10 * time.Second})
		ctx := context.Background()

		job, _ := mustCreate(t, repo, testutil.AssessmentJobRequest())

		claimed, err := repo.ClaimNext(ctx, 1)
		require.NoError(t, err)
		require.Len(t, claimed, 1)

		clock.AddTime(11 * time.Second)
		reclaimed, err := repo.ClaimNext(ctx, 1)
		require.NoError(t, err)
		require.Len(t, reclaimed, 1)
		assert.Equal(t, job.ID, reclaimed[0].ID)
		assert.NotEqual(t, *claimed[0].ClaimToken, *reclaimed[0].ClaimToken)
	})
}

func TestJobRepo_ClaimNext_Concurrent(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	const (
		jobCount    = 30
		workerCount = 6
	)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo, _, clock := newTestRepos(db)
		ctx := context.Background()

		for i := range jobCount {
			mustCreate(t, repo, testutil.PriorityJobRequest(i%5))
			clock.AddTime(time.Millisecond)
		}

		var (
			mu   sync.Mutex
			seen = make(map[string]int)
		)
		g, gctx := errgroup.WithContext(ctx)
		for range workerCount {
			g.Go(func() error {
				for {
					jobs, err := repo.ClaimNext(gctx, 2)
					if err != nil {
						return err
					}
					if len(jobs) == 0 {
						return nil
					}
					mu.Lock()
					for _, j := range jobs {
						seen[j.ID]++
					}
					mu.Unlock()
				}
			})
		}
		require.NoError(t, g.Wait())

		assert.Len(t, seen, jobCount, "every job claimed")
		for id, n := range seen {
			assert.Equal(t, 1, n, "job %s claimed more than once", id)
		}
	})
}

func TestJobRepo_ClaimNext_FiltersByType(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo, _, clock := newTestRepos(db)
		ctx := context.Background()

		report, _ := mustCreate(t, repo, testutil.ReportJobRequest())
		clock.AddTime(time.Millisecond)
		assessment, _ := mustCreate(t, repo, testutil.AssessmentJobRequest())

		claimed, err := repo.ClaimNext(ctx, 5, model.JobTypeAssessment)
		require.NoError(t, err)
		require.Len(t, claimed, 1)
		assert.Equal(t, assessment.ID, claimed[0].ID)

		got, err := repo.GetByID(ctx, report.ID)
		require.NoError(t, err)
		assert.Nil(t, got.ClaimedUntil, "other types stay unclaimed")

		claimed, err = repo.ClaimNext(ctx, 5, model.JobTypeReport, model.JobTypeReassessment)
		require.NoError(t, err)
		require.Len(t, claimed, 1)
		assert.Equal(t, report.ID, claimed[0].ID)
	})
}

func TestJobRepo_WaitForNotification_CarriesType(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo, _, _ := newTestRepos(db)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		type notification struct {
			jobType model.JobType
			err     error
		}
		got := make(chan notification, 1)
		go func() {
			jt, err := repo.WaitForNotification(ctx)
			got <- notification{jobType: jt, err: err}
		}()

		// Give the listener time to issue LISTEN before the insert commits.
		time.Sleep(200 * time.Millisecond)
		mustCreate(t, repo, testutil.ReportJobRequest())

		n := <-got
		require.NoError(t, n.err)
		assert.Equal(t, model.JobTypeReport, n.jobType)
	})
}

func TestJobRepo_ClaimNext_Empty(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo, _, _ := newTestRepos(db)
		jobs, err := repo.ClaimNext(context.Background(), 5)
		require.NoError(t, err)
		assert.NotNil(t, jobs)
		assert.Empty(t, jobs)
	})
}

func TestJobRepo_LinkResult(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo, _, _ := newTestRepos(db)
		ctx := context.Background()
		job, res := mustCreate(t, repo, testutil.AssessmentJobRequest())

		linked, err := repo.LinkResult(ctx, job.ID, "550e8400-e29b-41d4-a716-446655440000")
		require.NoError(t, err)
		assert.False(t, linked, "existing links are never replaced")

		got, err := repo.GetByID(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, res.ID, *got.ResultID)

		_, err = db.ExecContext(ctx, `UPDATE jobs SET result_id = NULL WHERE id = $1`, job.ID)
		require.NoError(t, err)
		linked, err = repo.LinkResult(ctx, job.ID, res.ID)
		require.NoError(t, err)
		assert.True(t, linked)
	})
}

func TestJobRepo_StatusesByID(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo, _, _ := newTestRepos(db)
		ctx := context.Background()
		a, _ := mustCreate(t, repo, testutil.AssessmentJobRequest())
		b, _ := mustCreate(t, repo, testutil.AssessmentJobRequest())

		got, err := repo.StatusesByID(ctx, []string{a.ID, b.ID, "550e8400-e29b-41d4-a716-446655440000"})
		require.NoError(t, err)
		assert.Equal(t, map[string]model.JobStatus{
			a.ID: model.JobStatusQueued,
			b.ID: model.JobStatusQueued,
		}, got)

		empty, err := repo.StatusesByID(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, empty)
	})
}

func TestJobRepo_Stats(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo, results, clock := newTestRepos(db)
		ctx := context.Background()

		empty, err := repo.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, empty.Total())
		assert.Nil(t, empty.Ages.Oldest)

		mustCreate(t, repo, testutil.AssessmentJobRequest())
		clock.AddTime(time.Minute)
		cancelled, _ := mustCreate(t, repo, testutil.AssessmentJobRequest())
		_, ok, err := repo.Transition(ctx, core.TransitionParams{
			JobID: cancelled.ID, From: model.JobStatusQueued, To: model.JobStatusCancelled,
		})
		require.NoError(t, err)
		require.True(t, ok)

		clock.AddTime(time.Minute)
		stats, err := repo.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Queued)
		assert.Equal(t, 1, stats.Cancelled)
		assert.Equal(t, 2, stats.Total())
		require.NotNil(t, stats.Ages.Oldest)
		require.NotNil(t, stats.Ages.Newest)
		assert.True(t, stats.Ages.Oldest.Before(*stats.Ages.Newest))
		assert.InDelta(t, 90, stats.Ages.AvgAgeSeconds, 1)

		rs, err := results.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, rs.Queued)
	})
}

func TestCloneJSON(t *testing.T) {
	assert.Equal(t, json.RawMessage(`{}`), cloneJSON(nil))

	src := []byte(`{"a":1}`)
	out := cloneJSON(src)
	src[2] = 'b'
	assert.Equal(t, `{"a":1}`, string(out))
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, defaultListLimit, clampLimit(0))
	assert.Equal(t, defaultListLimit, clampLimit(-5))
	assert.Equal(t, 10, clampLimit(10))
	assert.Equal(t, maxListLimit, clampLimit(maxListLimit+1))
}
