package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/bazaarhub/api/internal/domain"
)

func TestHealthCollect_AllDependenciesHealthy(t *testing.T) {
	frozen := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	repo, err := NewDependencyHealthRepository([]DependencyCheck{
		{Name: "firestore", Check: func(context.Context) error { return nil }},
		{Name: "pubsub", Check: func(context.Context) error { return nil }},
	}, WithDependencyClock(func() time.Time { return frozen }))
	if err != nil {
		t.Fatalf("construct: %v", err)
	}

	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if report.Status != domain.HealthStatusOK {
		t.Fatalf("report status = %s, want ok", report.Status)
	}
	if report.GeneratedAt != frozen {
		t.Fatalf("generatedAt = %s, want %s", report.GeneratedAt, frozen)
	}
	for name, check := range report.Checks {
		if check.Status != domain.HealthStatusOK {
			t.Fatalf("check %s status = %s, want ok", name, check.Status)
		}
	}
}

func TestHealthCollect_FailingDependencyDegradesReport(t *testing.T) {
	downstreamErr := errors.New("firestore unavailable")
	repo, err := NewDependencyHealthRepository([]DependencyCheck{
		{Name: "firestore", Check: func(context.Context) error { return downstreamErr }},
		{Name: "pubsub", Check: func(context.Context) error { return nil }},
	})
	if err != nil {
		t.Fatalf("construct: %v", err)
	}

	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if report.Status != domain.HealthStatusDegraded {
		t.Fatalf("report status = %s, want degraded", report.Status)
	}
	check := report.Checks["firestore"]
	if check.Status != domain.HealthStatusDegraded {
		t.Fatalf("firestore status = %s, want degraded", check.Status)
	}
	if check.Error != downstreamErr.Error() {
		t.Fatalf("firestore error = %q, want %q", check.Error, downstreamErr)
	}
	if report.Checks["pubsub"].Status != domain.HealthStatusOK {
		t.Fatal("healthy dependency should stay ok")
	}
}

func TestHealthCollect_SlowDependencyTimesOut(t *testing.T) {
	repo, err := NewDependencyHealthRepository([]DependencyCheck{
		{
			Name:    "stripe",
			Timeout: 5 * time.Millisecond,
			Check: func(ctx context.Context) error {
				select {
				case <-time.After(50 * time.Millisecond):
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			},
		},
	})
	if err != nil {
		t.Fatalf("construct: %v", err)
	}

	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if report.Status != domain.HealthStatusError {
		t.Fatalf("report status = %s, want error", report.Status)
	}
	if detail := report.Checks["stripe"].Detail; detail != "timeout" {
		t.Fatalf("stripe detail = %q, want timeout", detail)
	}
}

func TestHealthConstruct_RejectsInvalidChecks(t *testing.T) {
	if _, err := NewDependencyHealthRepository(nil); err == nil {
		t.Fatal("expected error for empty check set")
	}
	if _, err := NewDependencyHealthRepository([]DependencyCheck{
		{Name: " ", Check: func(context.Context) error { return nil }},
	}); err == nil {
		t.Fatal("expected error for unnamed check")
	}
	if _, err := NewDependencyHealthRepository([]DependencyCheck{
		{Name: "firestore"},
	}); err == nil {
		t.Fatal("expected error for check without function")
	}
}
