package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domain "github.com/bazaarhub/api/internal/domain"
	"github.com/bazaarhub/api/internal/services"
)

type stubSystemService struct {
	report services.SystemHealthReport
	err    error
}

func (s *stubSystemService) HealthReport(context.Context) (services.SystemHealthReport, error) {
	return s.report, s.err
}

func (s *stubSystemService) NextCounterValue(context.Context, services.CounterCommand) (int64, error) {
	return 0, nil
}

var _ services.SystemService = (*stubSystemService)(nil)

func TestHealthz_ReportsBuildMetadata(t *testing.T) {
	started := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	h := NewHealthHandlers(
		WithHealthBuildInfo(services.BuildInfo{
			Version:     "2.4.1",
			CommitSHA:   "f3a9c1d",
			Environment: "prod",
			StartedAt:   started,
		}),
		WithHealthClock(func() time.Time { return started.Add(45 * time.Second) }),
	)

	rr := httptest.NewRecorder()
	h.Healthz(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	for key, want := range map[string]any{
		"status":      domain.HealthStatusOK,
		"version":     "2.4.1",
		"commitSha":   "f3a9c1d",
		"environment": "prod",
		"uptime":      "45s",
	} {
		if body[key] != want {
			t.Fatalf("%s = %v, want %v", key, body[key], want)
		}
	}
}

func TestReadyz_HealthyDependencies(t *testing.T) {
	now := time.Date(2026, 2, 10, 9, 1, 0, 0, time.UTC)
	h := NewHealthHandlers(WithHealthSystemService(&stubSystemService{
		report: services.SystemHealthReport{
			Status:      domain.HealthStatusOK,
			Version:     "2.4.1",
			GeneratedAt: now,
			Uptime:      time.Minute,
			Checks: map[string]domain.SystemHealthCheck{
				"firestore": {Status: domain.HealthStatusOK, Latency: 8 * time.Millisecond, CheckedAt: now},
				"pubsub":    {Status: domain.HealthStatusOK, CheckedAt: now},
			},
		},
	}))

	rr := httptest.NewRecorder()
	h.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var body struct {
		Status  string `json:"status"`
		Checks  map[string]struct {
			Status    string `json:"status"`
			LatencyMS int64  `json:"latencyMs"`
		} `json:"checks"`
		Details []string `json:"details"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Status != domain.HealthStatusOK {
		t.Fatalf("status = %s, want ok", body.Status)
	}
	if len(body.Details) != 0 {
		t.Fatalf("details = %v, want none", body.Details)
	}
	if body.Checks["firestore"].LatencyMS != 8 {
		t.Fatalf("firestore latency = %d, want 8", body.Checks["firestore"].LatencyMS)
	}
}

func TestReadyz_DegradedDependencyFailsProbe(t *testing.T) {
	h := NewHealthHandlers(WithHealthSystemService(&stubSystemService{
		report: services.SystemHealthReport{
			Status: domain.HealthStatusDegraded,
			Checks: map[string]domain.SystemHealthCheck{
				"pubsub": {Status: domain.HealthStatusDegraded, Error: "publish failed"},
			},
		},
	}))

	rr := httptest.NewRecorder()
	h.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rr.Code)
	}
	var body struct {
		Status  string   `json:"status"`
		Details []string `json:"details"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Status != domain.HealthStatusDegraded {
		t.Fatalf("status = %s, want degraded", body.Status)
	}
	if len(body.Details) != 1 || body.Details[0] != "pubsub: publish failed" {
		t.Fatalf("details = %v, want pubsub failure", body.Details)
	}
}

func TestReadyz_CollectorErrorIsRetryable(t *testing.T) {
	h := NewHealthHandlers(WithHealthSystemService(&stubSystemService{
		err: errors.New("health collection failed"),
	}))

	rr := httptest.NewRecorder()
	h.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rr.Code)
	}
	var body struct {
		Status  string   `json:"status"`
		Details []string `json:"details"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Status != domain.HealthStatusError {
		t.Fatalf("status = %s, want error", body.Status)
	}
	if len(body.Details) != 1 {
		t.Fatalf("details = %v, want one entry", body.Details)
	}
}
