package domain

import (
	"fmt"
	"time"
)

// AlertType classifies why an alert was raised.
type AlertType string

const (
	AlertFraudDetected         AlertType = "fraud_detected"
	AlertPhishingAttempt       AlertType = "phishing_attempt"
	AlertSuspiciousTransaction AlertType = "suspicious_transaction"
	AlertNewContactWarning     AlertType = "new_contact_warning"
	AlertHighRiskPattern       AlertType = "high_risk_pattern"
)

// AlertStatus is the read state of an alert. Transitions only move forward:
// unread -> read | dismissed | actioned.
type AlertStatus string

const (
	AlertUnread    AlertStatus = "unread"
	AlertRead      AlertStatus = "read"
	AlertDismissed AlertStatus = "dismissed"
	AlertActioned  AlertStatus = "actioned"
)

// ValidAlertTransition reports whether moving from to next is allowed.
func ValidAlertTransition(from, next AlertStatus) bool {
	if from == next {
		return false
	}
	switch from {
	case AlertUnread:
		return next == AlertRead || next == AlertDismissed || next == AlertActioned
	case AlertRead:
		return next == AlertDismissed || next == AlertActioned
	default:
		// dismissed and actioned are terminal
		return false
	}
}

// Alert is a user-facing risk notification produced by the emission policy.
type Alert struct {
	ID            string            `json:"id"`
	UserID        string            `json:"userId"`
	TransactionID string            `json:"transactionId,omitempty"`
	Type          AlertType         `json:"alertType"`
	Title         string            `json:"title"`
	Message       string            `json:"message"`
	Severity      string            `json:"severity"`
	Status        AlertStatus       `json:"status"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
	ReadAt        *time.Time        `json:"readAt,omitempty"`
}

// ApplyStatus transitions the alert status, enforcing forward-only moves.
func (a *Alert) ApplyStatus(next AlertStatus) error {
	if !ValidAlertTransition(a.Status, next) {
		return fmt.Errorf("%w: alert status %s -> %s", ErrInvalidInput, a.Status, next)
	}
	a.Status = next
	if next == AlertRead {
		now := time.Now().UTC()
		a.ReadAt = &now
	}
	return nil
}
