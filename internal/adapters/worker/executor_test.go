package worker

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/assessment-jobs/internal/domain/model"
)

func executorJob() *model.Job {
	return &model.Job{
		ID:         "job-1",
		UserID:     "user-1",
		Type:       model.JobTypeAssessment,
		Payload:    json.RawMessage(`{"input":"x"}`),
		RetryCount: 1,
	}
}

func TestHTTPExecutor_Handle(t *testing.T) {
	var gotPath, gotJob, gotRetry, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotJob = r.Header.Get("X-Job-ID")
		gotRetry = r.Header.Get("X-Retry-Count")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		_, _ = w.Write([]byte(`{"score":0.9}`))
	}))
	defer srv.Close()

	exec, err := NewHTTPExecutor(ExecutorConfig{BaseURL: srv.URL + "/"})
	require.NoError(t, err)

	out, err := exec.Handle(context.Background(), executorJob())
	require.NoError(t, err)
	assert.JSONEq(t, `{"score":0.9}`, string(out))
	assert.Equal(t, "/assessment", gotPath)
	assert.Equal(t, "job-1", gotJob)
	assert.Equal(t, "1", gotRetry)
	assert.JSONEq(t, `{"input":"x"}`, gotBody)
}

func TestHTTPExecutor_StatusClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		permanent bool
	}{
		{name: "bad request is permanent", status: http.StatusBadRequest, permanent: true},
		{name: "unprocessable is permanent", status: http.StatusUnprocessableEntity, permanent: true},
		{name: "too many requests retries", status: http.StatusTooManyRequests},
		{name: "server error retries", status: http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			exec, err := NewHTTPExecutor(ExecutorConfig{BaseURL: srv.URL})
			require.NoError(t, err)
			_, err = exec.Handle(context.Background(), executorJob())
			require.Error(t, err)
			assert.Equal(t, tt.permanent, IsPermanent(err))
			assert.Contains(t, err.Error(), "nope")
		})
	}
}

func TestHTTPExecutor_TransportErrorRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	exec, err := NewHTTPExecutor(ExecutorConfig{BaseURL: url})
	require.NoError(t, err)
	_, err = exec.Handle(context.Background(), executorJob())
	require.Error(t, err)
	assert.False(t, IsPermanent(err))
}

func TestNewHTTPExecutor_RequiresURL(t *testing.T) {
	_, err := NewHTTPExecutor(ExecutorConfig{BaseURL: "  "})
	require.Error(t, err)
}

func TestHandlersFor(t *testing.T) {
	h := HandlerFunc(func(context.Context, *model.Job) ([]byte, error) { return nil, nil })

	all := HandlersFor(h)
	assert.Len(t, all, len(model.JobTypes()))

	some := HandlersFor(h, model.JobTypeReport)
	assert.Len(t, some, 1)
	assert.Contains(t, some, model.JobTypeReport)
}
