package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/target/assessment-jobs/internal/domain/model"
)

// maxExecutorResponse caps the output read back from the executor.
const maxExecutorResponse = 8 << 20

// ExecutorConfig configures an HTTPExecutor.
type ExecutorConfig struct {
	BaseURL string
	Timeout time.Duration
	Client  *http.Client
}

// HTTPExecutor runs a job by POSTing its payload to BaseURL/<job type> and
// returning the response body as the job output.
// 4xx responses are permanent failures; transport errors and 5xx are retryable.
type HTTPExecutor struct {
	baseURL string
	client  *http.Client
}

var _ Handler = (*HTTPExecutor)(nil)

// NewHTTPExecutor validates cfg and builds an executor.
func NewHTTPExecutor(cfg ExecutorConfig) (*HTTPExecutor, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("executor base URL is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	hc := cfg.Client
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}
	return &HTTPExecutor{baseURL: base, client: hc}, nil
}

// Handle implements Handler.
func (e *HTTPExecutor) Handle(ctx context.Context, job *model.Job) ([]byte, error) {
	url := e.baseURL + "/" + string(job.Type)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(job.Payload))
	if err != nil {
		return nil, Permanent(fmt.Errorf("create executor request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Job-ID", job.ID)
	req.Header.Set("X-User-ID", job.UserID)
	req.Header.Set("X-Retry-Count", fmt.Sprint(job.RetryCount))

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executor request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxExecutorResponse))
	if err != nil {
		return nil, fmt.Errorf("read executor response: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusRequestTimeout:
		return nil, fmt.Errorf("executor %s: %s", resp.Status, strings.TrimSpace(string(body)))
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, Permanent(fmt.Errorf("executor %s: %s", resp.Status, strings.TrimSpace(string(body))))
	default:
		return nil, fmt.Errorf("executor %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
}

// HandlersFor maps every job type in types to h.
// Empty types registers h for all known job types.
func HandlersFor(h Handler, types ...model.JobType) map[model.JobType]Handler {
	if len(types) == 0 {
		types = model.JobTypes()
	}
	out := make(map[model.JobType]Handler, len(types))
	for _, t := range types {
		out[t] = h
	}
	return out
}
