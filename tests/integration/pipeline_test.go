package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/alert"
	"github.com/opensource-finance/kestrel/internal/analyzer"
	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/blacklist"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/classifier"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/profile"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/risk"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/signal"
)

type stack struct {
	ts   *httptest.Server
	repo domain.Repository
}

func newStack(t *testing.T) *stack {
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

	eventBus := bus.NewChannelBus(100)
	t.Cleanup(func() { eventBus.Close() })

	engine, err := rules.NewEngine()
	if err != nil {
		t.Fatalf("failed to create rules engine: %v", err)
	}

	cfg := domain.DefaultConfig()
	providers := &signal.RepositoryProviders{Repo: repo}
	aggregator := signal.NewAggregator(providers, providers, providers, providers, cfg.Risk.LookupTimeout)
	evaluator := risk.NewEvaluator(cfg.Risk, aggregator, engine, nil)

	alertSvc := alert.NewService(repo, eventBus, nil)
	blacklistSvc := blacklist.NewService(repo, eventBus, nil)

	analyzerCfg := cfg.Analyzer
	analyzerCfg.BaseDelay = time.Millisecond
	analyzerSvc := analyzer.New(repo, classifier.NewStatistical(), alertSvc, eventBus, analyzerCfg, nil)
	if err := analyzerSvc.Start(eventBus); err != nil {
		t.Fatalf("failed to start analyzer: %v", err)
	}
	t.Cleanup(analyzerSvc.Stop)

	profileSvc := profile.NewService(repo, cfg.Risk, nil)
	if err := profileSvc.Start(eventBus); err != nil {
		t.Fatalf("failed to start profile aggregator: %v", err)
	}
	t.Cleanup(profileSvc.Stop)

	srv := api.NewServer(cfg.Server, api.Deps{
		Repo:      repo,
		Bus:       eventBus,
		Evaluator: evaluator,
		Analyzer:  analyzerSvc,
		Blacklist: blacklistSvc,
		Alerts:    alertSvc,
		Engine:    engine,
		Version:   "test",
	})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &stack{ts: ts, repo: repo}
}

func (s *stack) post(t *testing.T, path, userID string, body any) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	req, err := http.NewRequest(http.MethodPost, s.ts.URL+path, &buf)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", userID)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	var out bytes.Buffer
	out.ReadFrom(resp.Body)
	return resp, out.Bytes()
}

func waitFor(t *testing.T, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return false
}

// TestRecordedTransferFlowsThroughPipeline records a transfer over HTTP and
// verifies the bus fan-out: the profile aggregator folds it into the user's
// behavior profile and the analyzer persists an analysis record, without the
// recording request waiting on either.
func TestRecordedTransferFlowsThroughPipeline(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	resp, body := s.post(t, "/transactions", "user-001", map[string]any{
		"amount":             750,
		"receiverIdentifier": "alice@okaxis",
		"deviceId":           "device-a",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.StatusCode, body)
	}
	var tx domain.Transaction
	if err := json.Unmarshal(body, &tx); err != nil {
		t.Fatalf("invalid transaction response: %v", err)
	}

	if !waitFor(t, func() bool {
		p, err := s.repo.GetBehaviorProfile(ctx, "user-001")
		return err == nil && p.TransactionCount == 1
	}) {
		t.Fatal("behavior profile was not updated")
	}
	p, err := s.repo.GetBehaviorProfile(ctx, "user-001")
	if err != nil {
		t.Fatalf("GetBehaviorProfile failed: %v", err)
	}
	if p.AvgAmount != 750 || p.MaxAmount != 750 {
		t.Errorf("unexpected profile: %+v", p)
	}
	if p.KnownDeviceCount != 1 {
		t.Errorf("expected 1 known device, got %d", p.KnownDeviceCount)
	}

	if !waitFor(t, func() bool {
		analyses, err := s.repo.ListAnalysesByTransaction(ctx, tx.ID)
		return err == nil && len(analyses) == 1
	}) {
		t.Fatal("no analysis was persisted")
	}
	analyses, err := s.repo.ListAnalysesByTransaction(ctx, tx.ID)
	if err != nil {
		t.Fatalf("ListAnalysesByTransaction failed: %v", err)
	}
	// A single transfer has too little history for any verdict.
	if analyses[0].IsAnomaly {
		t.Errorf("first-ever transfer must not be an anomaly: %+v", analyses[0])
	}
	if analyses[0].Recommendation != domain.AnalysisAllow {
		t.Errorf("expected allow, got %s", analyses[0].Recommendation)
	}
}

// TestProfileFeedsBackIntoAssessment records enough history through the async
// pipeline that a later outsized transfer trips the amount anomaly flag in the
// synchronous assessment path.
func TestProfileFeedsBackIntoAssessment(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	const transfers = 6
	for i := 0; i < transfers; i++ {
		resp, body := s.post(t, "/transactions", "user-001", map[string]any{
			"amount":             200,
			"receiverIdentifier": "alice@okaxis",
		})
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", resp.StatusCode, body)
		}
	}
	if !waitFor(t, func() bool {
		p, err := s.repo.GetBehaviorProfile(ctx, "user-001")
		return err == nil && p.TransactionCount == transfers
	}) {
		t.Fatal("behavior profile never caught up")
	}

	resp, body := s.post(t, "/assess", "user-001", map[string]any{
		"amount":             5000,
		"receiverIdentifier": "alice@okaxis",
		"localHour":          14,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}
	var a domain.RiskAssessment
	if err := json.Unmarshal(body, &a); err != nil {
		t.Fatalf("invalid assessment: %v", err)
	}
	if !a.AmountAnomaly {
		t.Errorf("expected amount anomaly against avg 200 history: %+v", a)
	}
	if a.ProfileStats == nil || a.ProfileStats.TransactionCount != transfers {
		t.Errorf("expected profile stats in assessment: %+v", a.ProfileStats)
	}
}

// TestBlacklistReportAffectsNextAssessment closes the loop between the
// registry and the evaluator.
func TestBlacklistReportAffectsNextAssessment(t *testing.T) {
	s := newStack(t)

	for i := 0; i < 3; i++ {
		resp, body := s.post(t, "/blacklist/report", "user-00"+string(rune('1'+i)), map[string]any{
			"upiId":  "scammer@okbank",
			"reason": "fake seller",
		})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("report %d failed: %d %s", i+1, resp.StatusCode, body)
		}
	}

	resp, body := s.post(t, "/assess", "user-009", map[string]any{
		"amount":             100,
		"receiverIdentifier": "scammer@okbank",
		"localHour":          14,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}
	var a domain.RiskAssessment
	if err := json.Unmarshal(body, &a); err != nil {
		t.Fatalf("invalid assessment: %v", err)
	}
	if !a.BehaviorFlags.IsBlacklisted {
		t.Error("expected isBlacklisted flag")
	}
	// Three reports escalated the entry to critical, forcing block.
	if a.Recommendation != domain.RecommendBlock {
		t.Errorf("expected block, got %s", a.Recommendation)
	}
}
