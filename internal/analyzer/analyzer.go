// Package analyzer implements post-transaction analysis: an asynchronous
// re-scoring of recorded transfers through the anomaly classifier. It runs
// decoupled from the transfer path and always leaves a persisted analysis
// record, even when the classifier is down.
package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/alert"
	"github.com/opensource-finance/kestrel/internal/classifier"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/retry"
)

// Analyzer runs classifier-backed analysis for recorded transactions.
type Analyzer struct {
	repo   domain.Repository
	clf    classifier.Classifier
	alerts *alert.Service
	bus    domain.EventBus
	cfg    domain.AnalyzerConfig
	logger *slog.Logger

	subs    []domain.Subscription
	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// New creates an analyzer. The alert service and bus are optional.
func New(repo domain.Repository, clf classifier.Classifier, alerts *alert.Service, bus domain.EventBus, cfg domain.AnalyzerConfig, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Analyzer{
		repo:   repo,
		clf:    clf,
		alerts: alerts,
		bus:    bus,
		cfg:    cfg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to recorded transactions and analyzes them in the
// background.
func (a *Analyzer) Start(bus domain.EventBus) error {
	sub, err := bus.Subscribe(a.ctx, domain.TopicTransactionRecorded, a.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", domain.TopicTransactionRecorded, err)
	}
	a.subs = append(a.subs, sub)
	a.logger.Info("analyzer started", "topic", domain.TopicTransactionRecorded)
	return nil
}

// Stop unsubscribes and waits for in-flight analyses. Messages arriving
// after Stop begins are dropped rather than started.
func (a *Analyzer) Stop() {
	a.mu.Lock()
	a.stopped = true
	a.mu.Unlock()

	a.cancel()
	for _, sub := range a.subs {
		_ = sub.Unsubscribe()
	}
	a.wg.Wait()
}

// begin registers an in-flight analysis. It fails once Stop has started,
// so the wait group never gains work while Stop is waiting on it.
func (a *Analyzer) begin() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return false
	}
	a.wg.Add(1)
	return true
}

func (a *Analyzer) handleMessage(ctx context.Context, msg *domain.Message) error {
	var tx domain.Transaction
	if err := json.Unmarshal(msg.Payload, &tx); err != nil {
		a.logger.Error("malformed transaction message", "error", err)
		return nil
	}

	if !a.begin() {
		return nil
	}
	defer a.wg.Done()
	if _, err := a.Analyze(ctx, &tx); err != nil {
		a.logger.Error("analysis failed",
			"tx_id", tx.ID,
			"user_id", tx.UserID,
			"error", err,
		)
		return err
	}
	return nil
}

// Analyze classifies the transaction against the user's recent history and
// persists the verdict. Classifier failures are retried with exponential
// backoff; after exhausting retries a degraded record (no anomaly, zero
// confidence) is written so every transaction attempt has an analysis.
// Re-analysis of the same transaction appends a new record.
func (a *Analyzer) Analyze(ctx context.Context, tx *domain.Transaction) (*domain.TransactionAnalysis, error) {
	since := tx.CreatedAt.Add(-a.cfg.HistoryWindow)
	history, err := a.repo.GetTransactionsByUser(ctx, tx.UserID, since)
	if err != nil {
		a.logger.Warn("failed to load history, analyzing without it",
			"user_id", tx.UserID,
			"error", err,
		)
		history = nil
	}
	// The transaction under analysis is not its own history.
	filtered := history[:0]
	for _, h := range history {
		if h.ID != tx.ID {
			filtered = append(filtered, h)
		}
	}
	history = filtered

	verdict, clfErr := a.classify(ctx, tx, history)

	analysis := &domain.TransactionAnalysis{
		ID:            uuid.New().String(),
		TransactionID: tx.ID,
		UserID:        tx.UserID,
		CreatedAt:     time.Now().UTC(),
	}
	if clfErr != nil {
		analysis.IsAnomaly = false
		analysis.Confidence = 0
		analysis.Recommendation = domain.AnalysisAllow
		analysis.Reasons = []string{"analysis degraded: classifier unavailable"}
	} else {
		analysis.IsAnomaly = verdict.IsAnomaly
		analysis.FraudCategory = verdict.FraudCategory
		analysis.Confidence = verdict.Confidence
		analysis.Reasons = verdict.Reasons
		analysis.Recommendation = a.recommend(verdict)
		if verdict.IsAnomaly {
			analysis.RiskScore = verdict.Confidence * 100
		}
	}

	if err := a.repo.SaveAnalysis(ctx, analysis); err != nil {
		return nil, fmt.Errorf("failed to save analysis: %w", err)
	}

	a.logger.Info("transaction analyzed",
		"tx_id", tx.ID,
		"analysis_id", analysis.ID,
		"is_anomaly", analysis.IsAnomaly,
		"confidence", analysis.Confidence,
		"recommendation", analysis.Recommendation,
		"degraded", clfErr != nil,
	)

	if a.alerts != nil {
		if _, err := a.alerts.FromAnalysis(ctx, analysis); err != nil {
			a.logger.Warn("failed to emit analysis alert", "analysis_id", analysis.ID, "error", err)
		}
	}
	a.publish(ctx, analysis)
	return analysis, nil
}

func (a *Analyzer) classify(ctx context.Context, tx *domain.Transaction, history []*domain.Transaction) (*classifier.Verdict, error) {
	var verdict *classifier.Verdict
	err := retry.Do(ctx, a.cfg.MaxAttempts, a.cfg.BaseDelay, func(ctx context.Context) error {
		v, err := a.clf.Classify(ctx, tx, history)
		if err != nil {
			return err
		}
		verdict = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return verdict, nil
}

func (a *Analyzer) recommend(v *classifier.Verdict) domain.AnalysisRecommendation {
	if !v.IsAnomaly {
		return domain.AnalysisAllow
	}
	switch {
	case v.Confidence >= a.cfg.BlockConfidence:
		return domain.AnalysisBlock
	case v.Confidence >= a.cfg.WarnConfidence:
		return domain.AnalysisWarn
	default:
		return domain.AnalysisAllow
	}
}

func (a *Analyzer) publish(ctx context.Context, analysis *domain.TransactionAnalysis) {
	if a.bus == nil {
		return
	}
	payload, err := json.Marshal(analysis)
	if err != nil {
		return
	}
	if err := a.bus.Publish(ctx, domain.TopicAnalysisCompleted, payload); err != nil {
		a.logger.Warn("failed to publish analysis event", "error", err)
	}
}
