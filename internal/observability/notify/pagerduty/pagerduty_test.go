package pagerduty

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/target/assessment-jobs/internal/observability/notify"
)

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatal("expected error when routing key missing")
	}
}

func TestBuildEventDefaults(t *testing.T) {
	client, err := NewClient(Config{
		RoutingKey: "key",
		Timeout:    time.Second,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	payload := notify.JobFailurePayload{
		JobID:      "123",
		JobType:    "assessment",
		Reason:     notify.ReasonStuckTimeout,
		Error:      "stuck job timeout",
		ErrorClass: "err_class",
		RetryCount: 2,
		MaxRetries: 3,
	}
	event := client.buildEvent(payload)

	payloadSection, ok := event["payload"].(map[string]any)
	if !ok {
		t.Fatalf("expected payload section")
	}
	if payloadSection["severity"] != notify.SeverityCritical {
		t.Fatalf("expected default severity, got %v", payloadSection["severity"])
	}
	if payloadSection["source"] != "jobengine" {
		t.Fatalf("expected default source, got %v", payloadSection["source"])
	}
	if payloadSection["component"] != "job-monitor" {
		t.Fatalf("expected default component, got %v", payloadSection["component"])
	}
	summary, _ := payloadSection["summary"].(string)
	if !strings.Contains(summary, "stuck_timeout") {
		t.Fatalf("expected reason in summary, got %q", summary)
	}

	custom, ok := payloadSection["custom_details"].(map[string]any)
	if !ok {
		t.Fatalf("expected custom details")
	}

	required := []string{"job_id", "job_type", "user_id", "reason", "error", "error_class", "retry_count", "max_retries"}
	for _, key := range required {
		if _, exists := custom[key]; !exists {
			t.Fatalf("expected key %s in custom details", key)
		}
	}

	if dedup, _ := event["dedup_key"].(string); dedup != "assessment:123" {
		t.Fatalf("expected dedup key to reference job id, got %s", dedup)
	}
}

func TestBuildEventKeepsReservedKeys(t *testing.T) {
	client, err := NewClient(Config{RoutingKey: "key"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	event := client.buildEvent(notify.JobFailurePayload{
		JobID:    "abc",
		Metadata: map[string]string{"job_id": "spoofed", "region": "us-east"},
	})
	custom := event["payload"].(map[string]any)["custom_details"].(map[string]any)
	if custom["job_id"] != "abc" {
		t.Fatalf("metadata must not override job_id, got %v", custom["job_id"])
	}
	if custom["region"] != "us-east" {
		t.Fatalf("expected metadata passthrough, got %v", custom["region"])
	}
}

func TestSendJobFailurePostsToEndpoint(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client, err := NewClient(Config{RoutingKey: "rk", Endpoint: srv.URL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := client.SendJobFailure(context.Background(), notify.JobFailurePayload{JobID: "1", JobType: "report"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got["routing_key"] != "rk" || got["event_action"] != "trigger" {
		t.Fatalf("unexpected event body: %v", got)
	}
}
