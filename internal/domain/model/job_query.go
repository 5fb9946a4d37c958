package model

// JobListOptions groups parameters for listing jobs with optional filters (admin view).
type JobListOptions struct {
	Status *JobStatus // Optional filter by status
	UserID *string    // Optional filter by owner
	Type   *JobType   // Optional filter by type
	Limit  int        // Pagination limit
	Offset int        // Pagination offset
}

// DeadLetterOptions selects failed jobs that used their whole retry budget.
type DeadLetterOptions struct {
	UserID *string
	Limit  int
}
