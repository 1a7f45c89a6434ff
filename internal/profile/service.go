// Package profile maintains per-user behavior aggregates from recorded
// transfers. The aggregates feed the evaluator's amount and time anomaly
// checks; they are updated asynchronously off the event bus and readers
// tolerate staleness.
package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/syncutil"
)

// Service recomputes behavior profiles as transfers are recorded.
type Service struct {
	repo   domain.Repository
	cfg    domain.RiskConfig
	locks  syncutil.ShardedMutex
	logger *slog.Logger

	subs    []domain.Subscription
	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewService creates a profile aggregation service.
func NewService(repo domain.Repository, cfg domain.RiskConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		repo:   repo,
		cfg:    cfg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to recorded transactions on the bus.
func (s *Service) Start(bus domain.EventBus) error {
	sub, err := bus.Subscribe(s.ctx, domain.TopicTransactionRecorded, s.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", domain.TopicTransactionRecorded, err)
	}
	s.subs = append(s.subs, sub)
	s.logger.Info("profile aggregator started", "topic", domain.TopicTransactionRecorded)
	return nil
}

// Stop unsubscribes and waits for in-flight updates. Messages arriving
// after Stop begins are dropped rather than started.
func (s *Service) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	s.cancel()
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	s.wg.Wait()
}

// begin registers an in-flight update. It fails once Stop has started,
// so the wait group never gains work while Stop is waiting on it.
func (s *Service) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.wg.Add(1)
	return true
}

func (s *Service) handleMessage(ctx context.Context, msg *domain.Message) error {
	var tx domain.Transaction
	if err := json.Unmarshal(msg.Payload, &tx); err != nil {
		s.logger.Error("malformed transaction message", "error", err)
		return nil
	}

	if !s.begin() {
		return nil
	}
	defer s.wg.Done()
	if err := s.Apply(ctx, &tx); err != nil {
		s.logger.Error("failed to update behavior profile",
			"user_id", tx.UserID,
			"tx_id", tx.ID,
			"error", err,
		)
		return err
	}
	return nil
}

// Apply folds one transaction into the user's profile. Concurrent updates
// for the same user serialize through a per-user lock.
func (s *Service) Apply(ctx context.Context, tx *domain.Transaction) error {
	if tx.UserID == "" {
		return fmt.Errorf("%w: transaction has no user", domain.ErrInvalidInput)
	}

	unlock := s.locks.Lock(tx.UserID)
	defer unlock()

	now := time.Now().UTC()
	p, err := s.repo.GetBehaviorProfile(ctx, tx.UserID)
	switch {
	case err == repository.ErrNotFound:
		p = &domain.BehaviorProfile{UserID: tx.UserID}
	case err != nil:
		return fmt.Errorf("failed to load behavior profile: %w", err)
	}

	n := p.TransactionCount
	p.AvgAmount = (p.AvgAmount*float64(n) + tx.Amount) / float64(n+1)
	if tx.Amount > p.MaxAmount {
		p.MaxAmount = tx.Amount
	}
	p.TransactionCount = n + 1
	if s.inHighRiskWindow(tx.CreatedAt) {
		p.NightTxCount++
	}
	p.UpdatedAt = now

	if tx.DeviceID != "" {
		devices, err := s.repo.CountDistinctDevices(ctx, tx.UserID)
		if err != nil {
			s.logger.Warn("failed to count devices", "user_id", tx.UserID, "error", err)
		} else {
			p.KnownDeviceCount = devices
		}
	}

	if err := s.repo.SaveBehaviorProfile(ctx, p); err != nil {
		return fmt.Errorf("failed to save behavior profile: %w", err)
	}
	return nil
}

func (s *Service) inHighRiskWindow(t time.Time) bool {
	h := t.Hour()
	return h >= s.cfg.HighRiskHourStart && h < s.cfg.HighRiskHourEnd
}
