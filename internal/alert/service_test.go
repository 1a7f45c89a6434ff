package alert

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
)

func newTestService(t *testing.T) (*Service, domain.Repository) {
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
	return NewService(repo, nil, nil), repo
}

func dangerAssessment() *domain.RiskAssessment {
	return &domain.RiskAssessment{
		RiskScore:      60,
		RiskLevel:      domain.LevelDanger,
		Recommendation: domain.RecommendAvoid,
		Reasons:        []string{"Amount is unusually large compared to your transaction history."},
		AmountAnomaly:  true,
	}
}

func TestFromAssessment(t *testing.T) {
	ctx := context.Background()

	t.Run("BelowThresholdIsSilent", func(t *testing.T) {
		svc, _ := newTestService(t)
		a := &domain.RiskAssessment{
			RiskScore:      30,
			RiskLevel:      domain.LevelWarning,
			Recommendation: domain.RecommendCaution,
		}
		alert, err := svc.FromAssessment(ctx, "user-001", "tx-001", a)
		if err != nil {
			t.Fatalf("FromAssessment failed: %v", err)
		}
		if alert != nil {
			t.Errorf("expected no alert below danger, got %+v", alert)
		}
	})

	t.Run("DangerCreatesAlert", func(t *testing.T) {
		svc, _ := newTestService(t)
		alert, err := svc.FromAssessment(ctx, "user-001", "tx-001", dangerAssessment())
		if err != nil {
			t.Fatalf("FromAssessment failed: %v", err)
		}
		if alert == nil {
			t.Fatal("expected an alert")
		}
		if alert.Type != domain.AlertSuspiciousTransaction {
			t.Errorf("expected suspicious_transaction, got %s", alert.Type)
		}
		if alert.Status != domain.AlertUnread {
			t.Errorf("expected unread, got %s", alert.Status)
		}
		if alert.Metadata["risk_score"] != "60.0" {
			t.Errorf("unexpected metadata: %v", alert.Metadata)
		}
	})

	t.Run("BlacklistMapsToFraudDetected", func(t *testing.T) {
		svc, _ := newTestService(t)
		a := dangerAssessment()
		a.BehaviorFlags.IsBlacklisted = true
		a.BehaviorFlags.SuspiciousKeywords = true
		alert, err := svc.FromAssessment(ctx, "user-001", "tx-001", a)
		if err != nil {
			t.Fatalf("FromAssessment failed: %v", err)
		}
		if alert.Type != domain.AlertFraudDetected {
			t.Errorf("blacklist must win over keywords, got %s", alert.Type)
		}
	})

	t.Run("KeywordsMapToPhishingAttempt", func(t *testing.T) {
		svc, _ := newTestService(t)
		a := dangerAssessment()
		a.BehaviorFlags.SuspiciousKeywords = true
		alert, err := svc.FromAssessment(ctx, "user-001", "tx-001", a)
		if err != nil {
			t.Fatalf("FromAssessment failed: %v", err)
		}
		if alert.Type != domain.AlertPhishingAttempt {
			t.Errorf("expected phishing_attempt, got %s", alert.Type)
		}
	})

	t.Run("RepeatTriggerRefreshesInsteadOfDuplicating", func(t *testing.T) {
		svc, repo := newTestService(t)
		first, err := svc.FromAssessment(ctx, "user-001", "tx-001", dangerAssessment())
		if err != nil {
			t.Fatalf("FromAssessment failed: %v", err)
		}

		a := dangerAssessment()
		a.RiskScore = 80
		a.RiskLevel = domain.LevelCritical
		second, err := svc.FromAssessment(ctx, "user-001", "tx-001", a)
		if err != nil {
			t.Fatalf("repeat FromAssessment failed: %v", err)
		}
		if second.ID != first.ID {
			t.Errorf("expected refresh of %s, got new alert %s", first.ID, second.ID)
		}
		if second.Metadata["risk_score"] != "80.0" {
			t.Errorf("refresh did not update metadata: %v", second.Metadata)
		}

		list, err := repo.ListAlertsByUser(ctx, "user-001", "")
		if err != nil {
			t.Fatalf("ListAlertsByUser failed: %v", err)
		}
		if len(list) != 1 {
			t.Errorf("expected 1 alert after repeat trigger, got %d", len(list))
		}
	})

	t.Run("DismissedAlertIsNotRefreshed", func(t *testing.T) {
		svc, repo := newTestService(t)
		first, err := svc.FromAssessment(ctx, "user-001", "tx-001", dangerAssessment())
		if err != nil {
			t.Fatalf("FromAssessment failed: %v", err)
		}
		if _, err := svc.UpdateStatus(ctx, first.ID, domain.AlertDismissed); err != nil {
			t.Fatalf("UpdateStatus failed: %v", err)
		}

		second, err := svc.FromAssessment(ctx, "user-001", "tx-001", dangerAssessment())
		if err != nil {
			t.Fatalf("FromAssessment failed: %v", err)
		}
		if second.ID == first.ID {
			t.Error("dismissed alert must not be refreshed")
		}

		list, err := repo.ListAlertsByUser(ctx, "user-001", "")
		if err != nil {
			t.Fatalf("ListAlertsByUser failed: %v", err)
		}
		if len(list) != 2 {
			t.Errorf("expected 2 alerts, got %d", len(list))
		}
	})

	t.Run("PreTransactionAlwaysCreates", func(t *testing.T) {
		svc, repo := newTestService(t)
		for i := 0; i < 2; i++ {
			if _, err := svc.FromAssessment(ctx, "user-001", "", dangerAssessment()); err != nil {
				t.Fatalf("FromAssessment failed: %v", err)
			}
		}
		list, err := repo.ListAlertsByUser(ctx, "user-001", "")
		if err != nil {
			t.Fatalf("ListAlertsByUser failed: %v", err)
		}
		if len(list) != 2 {
			t.Errorf("assessments without a transaction must not dedup, got %d alerts", len(list))
		}
	})
}

func TestFromAnalysis(t *testing.T) {
	ctx := context.Background()

	analysis := func(rec domain.AnalysisRecommendation) *domain.TransactionAnalysis {
		return &domain.TransactionAnalysis{
			ID:             "an-001",
			TransactionID:  "tx-001",
			UserID:         "user-001",
			RiskScore:      70,
			IsAnomaly:      true,
			FraudCategory:  "amount_outlier",
			Confidence:     0.7,
			Recommendation: rec,
			CreatedAt:      time.Now().UTC(),
		}
	}

	t.Run("AllowIsSilent", func(t *testing.T) {
		svc, _ := newTestService(t)
		alert, err := svc.FromAnalysis(ctx, analysis(domain.AnalysisAllow))
		if err != nil {
			t.Fatalf("FromAnalysis failed: %v", err)
		}
		if alert != nil {
			t.Errorf("expected no alert for allow, got %+v", alert)
		}
	})

	t.Run("WarnCreatesDangerAlert", func(t *testing.T) {
		svc, _ := newTestService(t)
		alert, err := svc.FromAnalysis(ctx, analysis(domain.AnalysisWarn))
		if err != nil {
			t.Fatalf("FromAnalysis failed: %v", err)
		}
		if alert == nil {
			t.Fatal("expected an alert")
		}
		if alert.Type != domain.AlertHighRiskPattern {
			t.Errorf("expected high_risk_pattern, got %s", alert.Type)
		}
		if alert.Severity != string(domain.LevelDanger) {
			t.Errorf("expected danger severity, got %s", alert.Severity)
		}
		if alert.Metadata["fraud_category"] != "amount_outlier" {
			t.Errorf("unexpected metadata: %v", alert.Metadata)
		}
	})

	t.Run("BlockCreatesCriticalAlert", func(t *testing.T) {
		svc, _ := newTestService(t)
		alert, err := svc.FromAnalysis(ctx, analysis(domain.AnalysisBlock))
		if err != nil {
			t.Fatalf("FromAnalysis failed: %v", err)
		}
		if alert.Severity != string(domain.LevelCritical) {
			t.Errorf("expected critical severity, got %s", alert.Severity)
		}
	})
}

func TestUpdateStatus(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	created, err := svc.FromAssessment(ctx, "user-001", "tx-001", dangerAssessment())
	if err != nil {
		t.Fatalf("FromAssessment failed: %v", err)
	}

	updated, err := svc.UpdateStatus(ctx, created.ID, domain.AlertRead)
	if err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}
	if updated.Status != domain.AlertRead {
		t.Errorf("expected read, got %s", updated.Status)
	}
	if updated.ReadAt == nil {
		t.Error("expected ReadAt to be set")
	}

	if _, err := svc.UpdateStatus(ctx, created.ID, domain.AlertUnread); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("backward transition must fail, got %v", err)
	}

	if _, err := svc.UpdateStatus(ctx, "missing", domain.AlertRead); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
