package domain

import (
	"time"
)

// TrustStatus is the per-user classification of a payee.
type TrustStatus string

const (
	TrustStatusTrusted TrustStatus = "trusted"
	TrustStatusNew     TrustStatus = "new"
	TrustStatusFlagged TrustStatus = "flagged"

	// TrustStatusUnknown is reported when the payee is not in the owner's
	// directory at all. Never stored.
	TrustStatusUnknown TrustStatus = "unknown"
)

// Contact is a per-user directory entry for a payee identifier.
// One row per (owner_user_id, identifier).
type Contact struct {
	OwnerUserID string      `json:"ownerUserId"`
	Identifier  string      `json:"identifier"`
	TrustStatus TrustStatus `json:"trustStatus"`
	DisplayName string      `json:"displayName,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

// Severity of a blacklist entry.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// severityRank orders severities for the sticky-max rule.
var severityRank = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// ValidSeverity reports whether s is a known severity value.
func ValidSeverity(s Severity) bool {
	_, ok := severityRank[s]
	return ok
}

// MaxSeverity returns the higher-ranked of a and b.
func MaxSeverity(a, b Severity) Severity {
	if severityRank[b] > severityRank[a] {
		return b
	}
	return a
}

// BlacklistEntry is a shared (not per-user) record of a reported identifier.
// Created on the first report and escalated by subsequent ones; never deleted
// automatically.
type BlacklistEntry struct {
	Identifier    string    `json:"identifier"`
	Reason        string    `json:"reason,omitempty"`
	ReportedCount int       `json:"reportedCount"`
	Severity      Severity  `json:"severity"`
	Source        string    `json:"source"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// BehaviorProfile holds per-user aggregates derived asynchronously from
// recorded transfers. Read-mostly; readers tolerate staleness.
type BehaviorProfile struct {
	UserID           string    `json:"userId"`
	AvgAmount        float64   `json:"avgAmount"`
	MaxAmount        float64   `json:"maxAmount"`
	TransactionCount int64     `json:"transactionCount"`
	KnownDeviceCount int64     `json:"knownDeviceCount"`
	NightTxCount     int64     `json:"nightTxCount"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// DeviceFingerprint identifies a physical device/browser profile. The engine
// treats it as opaque beyond equality.
type DeviceFingerprint struct {
	DeviceID   string            `json:"deviceId"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// LocationSample is an optional, short-lived geolocation reading. Not
// persisted by the engine.
type LocationSample struct {
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Accuracy   float64   `json:"accuracy"`
	CapturedAt time.Time `json:"capturedAt"`
}
