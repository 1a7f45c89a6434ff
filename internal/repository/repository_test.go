package repository

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()
	tmpFile, err := os.CreateTemp("", "kestrel-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestSQLiteRepository(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("Contacts", func(t *testing.T) {
		c := &domain.Contact{
			OwnerUserID: "user-001",
			Identifier:  "alice@okaxis",
			TrustStatus: domain.TrustStatusNew,
			DisplayName: "Alice",
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := repo.SaveContact(ctx, c); err != nil {
			t.Fatalf("SaveContact failed: %v", err)
		}

		got, err := repo.GetContact(ctx, "user-001", "alice@okaxis")
		if err != nil {
			t.Fatalf("GetContact failed: %v", err)
		}
		if got.TrustStatus != domain.TrustStatusNew || got.DisplayName != "Alice" {
			t.Errorf("unexpected contact: %+v", got)
		}

		// Upsert on the same (owner, identifier) updates trust status.
		c.TrustStatus = domain.TrustStatusTrusted
		if err := repo.SaveContact(ctx, c); err != nil {
			t.Fatalf("upsert failed: %v", err)
		}
		got, err = repo.GetContact(ctx, "user-001", "alice@okaxis")
		if err != nil {
			t.Fatalf("GetContact after upsert failed: %v", err)
		}
		if got.TrustStatus != domain.TrustStatusTrusted {
			t.Errorf("expected trusted after upsert, got %s", got.TrustStatus)
		}

		if _, err := repo.GetContact(ctx, "user-001", "nobody@okaxis"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}

		// Another owner's directory is separate.
		if _, err := repo.GetContact(ctx, "user-002", "alice@okaxis"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound for other owner, got %v", err)
		}
	})

	t.Run("ListContactsByHandle", func(t *testing.T) {
		for _, ident := range []string{"bob@paytm", "b0b@paytm", "carol@ybl"} {
			if err := repo.SaveContact(ctx, &domain.Contact{
				OwnerUserID: "user-003",
				Identifier:  ident,
				TrustStatus: domain.TrustStatusNew,
				CreatedAt:   now,
				UpdatedAt:   now,
			}); err != nil {
				t.Fatalf("SaveContact failed: %v", err)
			}
		}

		contacts, err := repo.ListContactsByHandle(ctx, "user-003", "paytm")
		if err != nil {
			t.Fatalf("ListContactsByHandle failed: %v", err)
		}
		if len(contacts) != 2 {
			t.Errorf("expected 2 paytm contacts, got %d", len(contacts))
		}

		all, err := repo.ListContacts(ctx, "user-003")
		if err != nil {
			t.Fatalf("ListContacts failed: %v", err)
		}
		if len(all) != 3 {
			t.Errorf("expected 3 contacts, got %d", len(all))
		}
	})

	t.Run("BlacklistEntries", func(t *testing.T) {
		e := &domain.BlacklistEntry{
			Identifier:    "scammer@okbank",
			Reason:        "fake seller",
			ReportedCount: 1,
			Severity:      domain.SeverityMedium,
			Source:        "user_report",
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := repo.SaveBlacklistEntry(ctx, e); err != nil {
			t.Fatalf("SaveBlacklistEntry failed: %v", err)
		}

		got, err := repo.GetBlacklistEntry(ctx, "scammer@okbank")
		if err != nil {
			t.Fatalf("GetBlacklistEntry failed: %v", err)
		}
		if got.ReportedCount != 1 || got.Severity != domain.SeverityMedium {
			t.Errorf("unexpected entry: %+v", got)
		}

		e.ReportedCount = 4
		e.Severity = domain.SeverityCritical
		if err := repo.SaveBlacklistEntry(ctx, e); err != nil {
			t.Fatalf("upsert failed: %v", err)
		}
		got, err = repo.GetBlacklistEntry(ctx, "scammer@okbank")
		if err != nil {
			t.Fatalf("GetBlacklistEntry after upsert failed: %v", err)
		}
		if got.ReportedCount != 4 || got.Severity != domain.SeverityCritical {
			t.Errorf("upsert not applied: %+v", got)
		}

		if _, err := repo.GetBlacklistEntry(ctx, "clean@okbank"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("BehaviorProfiles", func(t *testing.T) {
		p := &domain.BehaviorProfile{
			UserID:           "user-004",
			AvgAmount:        250.5,
			MaxAmount:        1200,
			TransactionCount: 8,
			KnownDeviceCount: 2,
			NightTxCount:     1,
			UpdatedAt:        now,
		}
		if err := repo.SaveBehaviorProfile(ctx, p); err != nil {
			t.Fatalf("SaveBehaviorProfile failed: %v", err)
		}

		got, err := repo.GetBehaviorProfile(ctx, "user-004")
		if err != nil {
			t.Fatalf("GetBehaviorProfile failed: %v", err)
		}
		if got.AvgAmount != 250.5 || got.TransactionCount != 8 || got.NightTxCount != 1 {
			t.Errorf("unexpected profile: %+v", got)
		}

		if _, err := repo.GetBehaviorProfile(ctx, "user-none"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Transactions", func(t *testing.T) {
		base := now.Add(-time.Hour)
		for i, amount := range []float64{100, 200, 300} {
			tx := &domain.Transaction{
				ID:         "tx-00" + string(rune('1'+i)),
				UserID:     "user-005",
				Identifier: "alice@okaxis",
				Amount:     amount,
				DeviceID:   "device-a",
				CreatedAt:  base.Add(time.Duration(i) * time.Minute),
			}
			if err := repo.SaveTransaction(ctx, tx); err != nil {
				t.Fatalf("SaveTransaction failed: %v", err)
			}
		}

		got, err := repo.GetTransaction(ctx, "tx-001")
		if err != nil {
			t.Fatalf("GetTransaction failed: %v", err)
		}
		if got.Amount != 100 || got.UserID != "user-005" {
			t.Errorf("unexpected transaction: %+v", got)
		}

		list, err := repo.GetTransactionsByUser(ctx, "user-005", base.Add(-time.Minute))
		if err != nil {
			t.Fatalf("GetTransactionsByUser failed: %v", err)
		}
		if len(list) != 3 {
			t.Fatalf("expected 3 transactions, got %d", len(list))
		}
		if list[0].Amount != 300 {
			t.Errorf("expected newest first, got %v", list[0].Amount)
		}

		// Window excludes older entries.
		list, err = repo.GetTransactionsByUser(ctx, "user-005", base.Add(90*time.Second))
		if err != nil {
			t.Fatalf("GetTransactionsByUser failed: %v", err)
		}
		if len(list) != 1 {
			t.Errorf("expected 1 transaction in window, got %d", len(list))
		}

		devices, err := repo.CountDistinctDevices(ctx, "user-005")
		if err != nil {
			t.Fatalf("CountDistinctDevices failed: %v", err)
		}
		if devices != 1 {
			t.Errorf("expected 1 distinct device, got %d", devices)
		}
	})

	t.Run("Analyses", func(t *testing.T) {
		first := &domain.TransactionAnalysis{
			ID:             "an-001",
			TransactionID:  "tx-001",
			UserID:         "user-005",
			RiskScore:      80,
			IsAnomaly:      true,
			FraudCategory:  "amount_outlier",
			Confidence:     0.8,
			Reasons:        []string{"amount deviates from history"},
			Recommendation: domain.AnalysisBlock,
			CreatedAt:      now.Add(-time.Minute),
		}
		if err := repo.SaveAnalysis(ctx, first); err != nil {
			t.Fatalf("SaveAnalysis failed: %v", err)
		}

		second := &domain.TransactionAnalysis{
			ID:             "an-002",
			TransactionID:  "tx-001",
			UserID:         "user-005",
			Confidence:     0.9,
			Reasons:        []string{},
			Recommendation: domain.AnalysisAllow,
			CreatedAt:      now,
		}
		if err := repo.SaveAnalysis(ctx, second); err != nil {
			t.Fatalf("SaveAnalysis failed: %v", err)
		}

		got, err := repo.GetAnalysis(ctx, "an-001")
		if err != nil {
			t.Fatalf("GetAnalysis failed: %v", err)
		}
		if !got.IsAnomaly || got.FraudCategory != "amount_outlier" {
			t.Errorf("unexpected analysis: %+v", got)
		}
		if len(got.Reasons) != 1 {
			t.Errorf("expected reasons round-trip, got %v", got.Reasons)
		}

		// Re-analysis appends, never replaces.
		log, err := repo.ListAnalysesByTransaction(ctx, "tx-001")
		if err != nil {
			t.Fatalf("ListAnalysesByTransaction failed: %v", err)
		}
		if len(log) != 2 {
			t.Fatalf("expected 2 analyses, got %d", len(log))
		}
		if log[0].ID != "an-002" {
			t.Errorf("expected newest first, got %s", log[0].ID)
		}

		if _, err := repo.GetAnalysis(ctx, "an-none"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Alerts", func(t *testing.T) {
		a := &domain.Alert{
			ID:            "alert-001",
			UserID:        "user-006",
			TransactionID: "tx-100",
			Type:          domain.AlertFraudDetected,
			Title:         "Blacklisted receiver",
			Message:       "reported for fraud",
			Severity:      "critical",
			Status:        domain.AlertUnread,
			Metadata:      map[string]string{"risk_score": "85.0"},
			CreatedAt:     now,
		}
		if err := repo.SaveAlert(ctx, a); err != nil {
			t.Fatalf("SaveAlert failed: %v", err)
		}

		got, err := repo.GetAlert(ctx, "alert-001")
		if err != nil {
			t.Fatalf("GetAlert failed: %v", err)
		}
		if got.Type != domain.AlertFraudDetected || got.Metadata["risk_score"] != "85.0" {
			t.Errorf("unexpected alert: %+v", got)
		}

		active, err := repo.GetActiveAlert(ctx, "tx-100", domain.AlertFraudDetected)
		if err != nil {
			t.Fatalf("GetActiveAlert failed: %v", err)
		}
		if active.ID != "alert-001" {
			t.Errorf("expected alert-001, got %s", active.ID)
		}

		// A different type for the same transaction is not a duplicate.
		if _, err := repo.GetActiveAlert(ctx, "tx-100", domain.AlertPhishingAttempt); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound for other type, got %v", err)
		}

		// Dismissed alerts no longer count as active.
		a.Status = domain.AlertDismissed
		if err := repo.SaveAlert(ctx, a); err != nil {
			t.Fatalf("SaveAlert failed: %v", err)
		}
		if _, err := repo.GetActiveAlert(ctx, "tx-100", domain.AlertFraudDetected); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound after dismissal, got %v", err)
		}

		list, err := repo.ListAlertsByUser(ctx, "user-006", "")
		if err != nil {
			t.Fatalf("ListAlertsByUser failed: %v", err)
		}
		if len(list) != 1 {
			t.Errorf("expected 1 alert, got %d", len(list))
		}

		list, err = repo.ListAlertsByUser(ctx, "user-006", domain.AlertUnread)
		if err != nil {
			t.Fatalf("ListAlertsByUser with status failed: %v", err)
		}
		if len(list) != 0 {
			t.Errorf("expected no unread alerts, got %d", len(list))
		}
	})

	t.Run("RiskRules", func(t *testing.T) {
		rule := &domain.RiskRule{
			ID:         "rule-001",
			Name:       "Night transfers",
			Expression: "local_hour < 5",
			Weight:     10,
			Reason:     "Unusual hour.",
			Enabled:    true,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := repo.SaveRiskRule(ctx, rule); err != nil {
			t.Fatalf("SaveRiskRule failed: %v", err)
		}

		rule.Enabled = false
		rule.Weight = 15
		if err := repo.SaveRiskRule(ctx, rule); err != nil {
			t.Fatalf("upsert failed: %v", err)
		}

		rulesList, err := repo.ListRiskRules(ctx)
		if err != nil {
			t.Fatalf("ListRiskRules failed: %v", err)
		}
		if len(rulesList) != 1 {
			t.Fatalf("expected 1 rule, got %d", len(rulesList))
		}
		if rulesList[0].Enabled || rulesList[0].Weight != 15 {
			t.Errorf("upsert not applied: %+v", rulesList[0])
		}
	})

	t.Run("InvalidInput", func(t *testing.T) {
		if err := repo.SaveContact(ctx, &domain.Contact{}); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
		if err := repo.SaveTransaction(ctx, &domain.Transaction{}); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
		if err := repo.SaveAlert(ctx, &domain.Alert{}); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}

func TestRebind(t *testing.T) {
	pg := &SQLRepository{driver: "postgres"}
	got := pg.rebind("SELECT * FROM t WHERE a = ? AND b = ?")
	want := "SELECT * FROM t WHERE a = $1 AND b = $2"
	if got != want {
		t.Errorf("rebind = %q, want %q", got, want)
	}

	lite := &SQLRepository{driver: "sqlite"}
	query := "SELECT * FROM t WHERE a = ?"
	if lite.rebind(query) != query {
		t.Error("sqlite queries must pass through unchanged")
	}
}
