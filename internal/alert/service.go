// Package alert implements the emission policy: mapping high-severity
// assessments and analyses to deduplicated user alerts.
package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
)

// Service creates and updates alerts. At most one non-dismissed alert
// exists per (transaction_id, alert_type); a repeat trigger refreshes the
// existing alert instead of duplicating it.
type Service struct {
	repo   domain.Repository
	bus    domain.EventBus
	logger *slog.Logger
}

// NewService creates an alert service. The bus is optional.
func NewService(repo domain.Repository, bus domain.EventBus, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, bus: bus, logger: logger}
}

// FromAssessment emits an alert when a pre-transaction assessment reaches
// danger or critical. Returns nil, nil below that threshold.
func (s *Service) FromAssessment(ctx context.Context, userID, txID string, a *domain.RiskAssessment) (*domain.Alert, error) {
	if a.RiskLevel != domain.LevelDanger && a.RiskLevel != domain.LevelCritical {
		return nil, nil
	}

	alertType := assessmentAlertType(a)
	meta := map[string]string{
		"risk_score":     strconv.FormatFloat(a.RiskScore, 'f', 1, 64),
		"risk_level":     string(a.RiskLevel),
		"recommendation": string(a.Recommendation),
	}
	title, message := assessmentText(alertType, a)
	return s.emit(ctx, userID, txID, alertType, string(a.RiskLevel), title, message, meta)
}

// FromAnalysis emits an alert when a post-transaction analysis recommends
// warn or block. Returns nil, nil for allow.
func (s *Service) FromAnalysis(ctx context.Context, a *domain.TransactionAnalysis) (*domain.Alert, error) {
	if a.Recommendation != domain.AnalysisWarn && a.Recommendation != domain.AnalysisBlock {
		return nil, nil
	}

	severity := string(domain.LevelDanger)
	if a.Recommendation == domain.AnalysisBlock {
		severity = string(domain.LevelCritical)
	}
	meta := map[string]string{
		"risk_score":     strconv.FormatFloat(a.RiskScore, 'f', 1, 64),
		"confidence":     strconv.FormatFloat(a.Confidence, 'f', 2, 64),
		"recommendation": string(a.Recommendation),
	}
	if a.FraudCategory != "" {
		meta["fraud_category"] = a.FraudCategory
	}

	title := "Unusual pattern detected"
	message := fmt.Sprintf("Post-transaction analysis flagged this transfer (confidence %.0f%%).", a.Confidence*100)
	if a.FraudCategory != "" {
		message = fmt.Sprintf("Post-transaction analysis flagged this transfer as %s (confidence %.0f%%).",
			a.FraudCategory, a.Confidence*100)
	}
	return s.emit(ctx, a.UserID, a.TransactionID, domain.AlertHighRiskPattern, severity, title, message, meta)
}

// UpdateStatus moves an alert forward through its lifecycle. Backward moves
// and transitions out of a terminal state fail with ErrInvalidInput.
func (s *Service) UpdateStatus(ctx context.Context, alertID string, next domain.AlertStatus) (*domain.Alert, error) {
	a, err := s.repo.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if err := a.ApplyStatus(next); err != nil {
		return nil, err
	}
	if err := s.repo.SaveAlert(ctx, a); err != nil {
		return nil, fmt.Errorf("failed to save alert: %w", err)
	}
	return a, nil
}

// List returns the user's alerts, optionally filtered by status.
func (s *Service) List(ctx context.Context, userID string, status domain.AlertStatus) ([]*domain.Alert, error) {
	return s.repo.ListAlertsByUser(ctx, userID, status)
}

func (s *Service) emit(ctx context.Context, userID, txID string, alertType domain.AlertType, severity, title, message string, meta map[string]string) (*domain.Alert, error) {
	now := time.Now().UTC()

	if txID != "" {
		existing, err := s.repo.GetActiveAlert(ctx, txID, alertType)
		switch {
		case err == nil:
			existing.Message = message
			existing.Severity = severity
			existing.Metadata = meta
			existing.CreatedAt = now
			if err := s.repo.SaveAlert(ctx, existing); err != nil {
				return nil, fmt.Errorf("failed to refresh alert: %w", err)
			}
			return existing, nil
		case err != repository.ErrNotFound:
			return nil, fmt.Errorf("failed to check existing alert: %w", err)
		}
	}

	a := &domain.Alert{
		ID:            uuid.New().String(),
		UserID:        userID,
		TransactionID: txID,
		Type:          alertType,
		Title:         title,
		Message:       message,
		Severity:      severity,
		Status:        domain.AlertUnread,
		Metadata:      meta,
		CreatedAt:     now,
	}
	if err := s.repo.SaveAlert(ctx, a); err != nil {
		return nil, fmt.Errorf("failed to save alert: %w", err)
	}

	s.logger.Info("alert created",
		"alert_id", a.ID,
		"user_id", userID,
		"type", alertType,
		"severity", severity,
	)
	s.publish(ctx, a)
	return a, nil
}

func (s *Service) publish(ctx context.Context, a *domain.Alert) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(a)
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, domain.TopicAlertCreated, payload); err != nil {
		s.logger.Warn("failed to publish alert event", "error", err)
	}
}

// assessmentAlertType picks the type from the dominant reason: blacklist
// beats keywords beats everything else.
func assessmentAlertType(a *domain.RiskAssessment) domain.AlertType {
	switch {
	case a.BehaviorFlags.IsBlacklisted:
		return domain.AlertFraudDetected
	case a.BehaviorFlags.SuspiciousKeywords:
		return domain.AlertPhishingAttempt
	default:
		return domain.AlertSuspiciousTransaction
	}
}

func assessmentText(t domain.AlertType, a *domain.RiskAssessment) (title, message string) {
	switch t {
	case domain.AlertFraudDetected:
		title = "Blacklisted receiver"
		message = "The receiver of this transfer has been reported for fraud."
	case domain.AlertPhishingAttempt:
		title = "Possible phishing attempt"
		message = "This transfer matches known phishing patterns."
	default:
		title = "Suspicious transfer"
		message = "This transfer was scored as high risk."
	}
	if len(a.Reasons) > 0 {
		message += " " + a.Reasons[0]
	}
	return title, message
}
