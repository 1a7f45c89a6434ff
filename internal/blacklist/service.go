// Package blacklist implements the shared registry's upsert policy:
// idempotent reporting with severity escalation.
package blacklist

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/identifier"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/syncutil"
)

// SourceUserReport marks entries created by a user report.
const SourceUserReport = "user_report"

// Entries whose reported count reaches this value are forced to critical.
const criticalReportThreshold = 3

// Service applies the blacklist upsert policy. Concurrent reports on the
// same identifier serialize through a per-identifier lock so reported_count
// increments are never lost.
type Service struct {
	repo   domain.Repository
	bus    domain.EventBus
	locks  syncutil.ShardedMutex
	logger *slog.Logger
}

// NewService creates a blacklist service. The bus is optional.
func NewService(repo domain.Repository, bus domain.EventBus, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, bus: bus, logger: logger}
}

// ReportedEvent is the payload published on TopicBlacklistReported.
type ReportedEvent struct {
	Identifier    string          `json:"identifier"`
	Severity      domain.Severity `json:"severity"`
	ReportedCount int             `json:"reportedCount"`
	Escalated     bool            `json:"escalated"`
}

// Report records a report against the identifier and returns the entry
// after the policy is applied:
//   - first report inserts with reported_count=1 and the given severity
//   - later reports increment the count; once the count reaches 3 the
//     severity is forced to critical
//   - severity never decreases once raised (sticky max)
func (s *Service) Report(ctx context.Context, rawIdentifier, reason string, severity domain.Severity) (*domain.BlacklistEntry, error) {
	id, err := identifier.Parse(rawIdentifier)
	if err != nil {
		return nil, err
	}
	if severity == "" {
		severity = domain.SeverityMedium
	}
	if !domain.ValidSeverity(severity) {
		return nil, fmt.Errorf("%w: unknown severity %q", domain.ErrInvalidInput, severity)
	}

	key := id.String()
	unlock := s.locks.Lock(key)
	defer unlock()

	now := time.Now().UTC()
	entry, err := s.repo.GetBlacklistEntry(ctx, key)
	escalated := false
	switch {
	case err == repository.ErrNotFound:
		entry = &domain.BlacklistEntry{
			Identifier:    key,
			Reason:        reason,
			ReportedCount: 1,
			Severity:      severity,
			Source:        SourceUserReport,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
	case err != nil:
		return nil, fmt.Errorf("failed to load blacklist entry: %w", err)
	default:
		entry.ReportedCount++
		next := severity
		if entry.ReportedCount >= criticalReportThreshold {
			next = domain.SeverityCritical
			escalated = entry.Severity != domain.SeverityCritical
		}
		entry.Severity = domain.MaxSeverity(entry.Severity, next)
		if reason != "" {
			entry.Reason = reason
		}
		entry.UpdatedAt = now
	}

	if err := s.repo.SaveBlacklistEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to save blacklist entry: %w", err)
	}

	s.logger.Info("blacklist report recorded",
		"identifier", key,
		"severity", entry.Severity,
		"reported_count", entry.ReportedCount,
		"escalated", escalated,
	)
	s.publish(ctx, entry, escalated)
	return entry, nil
}

// Lookup returns the entry for the identifier, or repository.ErrNotFound.
func (s *Service) Lookup(ctx context.Context, rawIdentifier string) (*domain.BlacklistEntry, error) {
	id, err := identifier.Parse(rawIdentifier)
	if err != nil {
		return nil, err
	}
	return s.repo.GetBlacklistEntry(ctx, id.String())
}

func (s *Service) publish(ctx context.Context, entry *domain.BlacklistEntry, escalated bool) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(ReportedEvent{
		Identifier:    entry.Identifier,
		Severity:      entry.Severity,
		ReportedCount: entry.ReportedCount,
		Escalated:     escalated,
	})
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, domain.TopicBlacklistReported, payload); err != nil {
		s.logger.Warn("failed to publish blacklist event", "error", err)
	}
}
