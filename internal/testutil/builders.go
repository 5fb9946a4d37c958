package testutil

import (
	"encoding/json"

	"github.com/target/assessment-jobs/internal/domain/model"
)

// JobRequestBuilder provides a fluent interface for building CreateJobRequest objects for testing.
type JobRequestBuilder struct {
	req *model.CreateJobRequest
}

// NewJobRequest creates a new JobRequestBuilder with sensible defaults.
func NewJobRequest() *JobRequestBuilder {
	return &JobRequestBuilder{
		req: &model.CreateJobRequest{
			UserID:     "user-1",
			Type:       model.JobTypeAssessment,
			Priority:   50,
			Payload:    json.RawMessage(`{"assessment_id": "a-1"}`),
			CreditCost: 10,
		},
	}
}

// WithUserID sets the owning user.
func (b *JobRequestBuilder) WithUserID(userID string) *JobRequestBuilder {
	b.req.UserID = userID
	return b
}

// WithType sets the job type.
func (b *JobRequestBuilder) WithType(jobType model.JobType) *JobRequestBuilder {
	b.req.Type = jobType
	return b
}

// WithPriority sets the job priority.
func (b *JobRequestBuilder) WithPriority(priority int) *JobRequestBuilder {
	b.req.Priority = priority
	return b
}

// WithPayload sets the job payload.
func (b *JobRequestBuilder) WithPayload(payload json.RawMessage) *JobRequestBuilder {
	b.req.Payload = payload
	return b
}

// WithPayloadString sets the job payload from a string.
func (b *JobRequestBuilder) WithPayloadString(payload string) *JobRequestBuilder {
	b.req.Payload = json.RawMessage(payload)
	return b
}

// WithMaxRetries sets the maximum number of retries.
func (b *JobRequestBuilder) WithMaxRetries(maxRetries int) *JobRequestBuilder {
	b.req.MaxRetries = &maxRetries
	return b
}

// WithCreditCost sets the number of credits charged at submission.
func (b *JobRequestBuilder) WithCreditCost(cost int) *JobRequestBuilder {
	b.req.CreditCost = cost
	return b
}

// Build returns the constructed CreateJobRequest.
func (b *JobRequestBuilder) Build() *model.CreateJobRequest {
	return b.req
}

// Common test job request presets

// AssessmentJobRequest creates an assessment job request with default values.
func AssessmentJobRequest() *model.CreateJobRequest {
	return NewJobRequest().Build()
}

// ReportJobRequest creates a free report job request.
func ReportJobRequest() *model.CreateJobRequest {
	return NewJobRequest().
		WithType(model.JobTypeReport).
		WithCreditCost(0).
		WithPayloadString(`{"report": "summary"}`).
		Build()
}

// PriorityJobRequest creates a job request with the given priority.
func PriorityJobRequest(priority int) *model.CreateJobRequest {
	return NewJobRequest().WithPriority(priority).Build()
}

// RetryableJobRequest creates a job request with custom retry settings.
func RetryableJobRequest(maxRetries int) *model.CreateJobRequest {
	return NewJobRequest().
		WithMaxRetries(maxRetries).
		WithPayloadString(`{"retryable": true}`).
		Build()
}
