package blacklist

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	tmpFile, err := os.CreateTemp("", "kestrel-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return NewService(repo, nil, nil)
}

func TestReport(t *testing.T) {
	ctx := context.Background()

	t.Run("FirstReport", func(t *testing.T) {
		svc := newTestService(t)
		entry, err := svc.Report(ctx, "scammer@okbank", "fake seller", domain.SeverityHigh)
		if err != nil {
			t.Fatalf("Report failed: %v", err)
		}
		if entry.ReportedCount != 1 {
			t.Errorf("expected count 1, got %d", entry.ReportedCount)
		}
		if entry.Severity != domain.SeverityHigh {
			t.Errorf("expected high severity, got %s", entry.Severity)
		}
		if entry.Source != SourceUserReport {
			t.Errorf("expected source %q, got %q", SourceUserReport, entry.Source)
		}
	})

	t.Run("DefaultSeverity", func(t *testing.T) {
		svc := newTestService(t)
		entry, err := svc.Report(ctx, "scammer@okbank", "spam", "")
		if err != nil {
			t.Fatalf("Report failed: %v", err)
		}
		if entry.Severity != domain.SeverityMedium {
			t.Errorf("expected medium default, got %s", entry.Severity)
		}
	})

	t.Run("UnknownSeverity", func(t *testing.T) {
		svc := newTestService(t)
		if _, err := svc.Report(ctx, "scammer@okbank", "", "extreme"); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("MalformedIdentifier", func(t *testing.T) {
		svc := newTestService(t)
		if _, err := svc.Report(ctx, "not an identifier", "", domain.SeverityLow); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("ThirdReportEscalatesToCritical", func(t *testing.T) {
		svc := newTestService(t)
		var entry *domain.BlacklistEntry
		var err error
		for i := 0; i < 3; i++ {
			entry, err = svc.Report(ctx, "repeat@okbank", "fraud", domain.SeverityMedium)
			if err != nil {
				t.Fatalf("report %d failed: %v", i+1, err)
			}
		}
		if entry.ReportedCount != 3 {
			t.Errorf("expected count 3, got %d", entry.ReportedCount)
		}
		if entry.Severity != domain.SeverityCritical {
			t.Errorf("expected critical after third report, got %s", entry.Severity)
		}
	})

	t.Run("SecondReportStaysMedium", func(t *testing.T) {
		svc := newTestService(t)
		svc.Report(ctx, "repeat@okbank", "fraud", domain.SeverityMedium)
		entry, err := svc.Report(ctx, "repeat@okbank", "fraud", domain.SeverityMedium)
		if err != nil {
			t.Fatalf("Report failed: %v", err)
		}
		if entry.Severity != domain.SeverityMedium {
			t.Errorf("expected medium at count 2, got %s", entry.Severity)
		}
	})

	t.Run("CriticalIsSticky", func(t *testing.T) {
		svc := newTestService(t)
		for i := 0; i < 3; i++ {
			if _, err := svc.Report(ctx, "repeat@okbank", "fraud", domain.SeverityMedium); err != nil {
				t.Fatalf("report %d failed: %v", i+1, err)
			}
		}
		entry, err := svc.Report(ctx, "repeat@okbank", "mild annoyance", domain.SeverityLow)
		if err != nil {
			t.Fatalf("Report failed: %v", err)
		}
		if entry.ReportedCount != 4 {
			t.Errorf("expected count 4, got %d", entry.ReportedCount)
		}
		if entry.Severity != domain.SeverityCritical {
			t.Errorf("low report must not downgrade critical, got %s", entry.Severity)
		}
	})

	t.Run("StickyMaxBelowThreshold", func(t *testing.T) {
		svc := newTestService(t)
		svc.Report(ctx, "repeat@okbank", "fraud", domain.SeverityHigh)
		entry, err := svc.Report(ctx, "repeat@okbank", "fraud", domain.SeverityLow)
		if err != nil {
			t.Fatalf("Report failed: %v", err)
		}
		if entry.Severity != domain.SeverityHigh {
			t.Errorf("severity must not decrease, got %s", entry.Severity)
		}
	})

	t.Run("NormalizesIdentifier", func(t *testing.T) {
		svc := newTestService(t)
		if _, err := svc.Report(ctx, "  Scammer@OKbank ", "fraud", domain.SeverityMedium); err != nil {
			t.Fatalf("Report failed: %v", err)
		}
		entry, err := svc.Lookup(ctx, "scammer@okbank")
		if err != nil {
			t.Fatalf("Lookup failed: %v", err)
		}
		if entry.ReportedCount != 1 {
			t.Errorf("expected count 1, got %d", entry.ReportedCount)
		}
	})
}

func TestReportConcurrent(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	const reporters = 10
	var wg sync.WaitGroup
	errs := make(chan error, reporters)
	for i := 0; i < reporters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Report(ctx, "swarm@okbank", "fraud", domain.SeverityMedium); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent report failed: %v", err)
	}

	entry, err := svc.Lookup(ctx, "swarm@okbank")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if entry.ReportedCount != reporters {
		t.Errorf("lost increments: expected %d reports, got %d", reporters, entry.ReportedCount)
	}
	if entry.Severity != domain.SeverityCritical {
		t.Errorf("expected critical severity, got %s", entry.Severity)
	}
}

func TestLookupNotFound(t *testing.T) {
	svc := newTestService(t)
	if _, err := svc.Lookup(context.Background(), "clean@okbank"); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
