// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All identifiers passed in are expected to be lowercase-normalized.
type Repository interface {
	// Contact directory
	SaveContact(ctx context.Context, contact *Contact) error
	GetContact(ctx context.Context, userID, identifier string) (*Contact, error)
	ListContacts(ctx context.Context, userID string) ([]*Contact, error)
	ListContactsByHandle(ctx context.Context, userID, handle string) ([]*Contact, error)

	// Blacklist registry
	GetBlacklistEntry(ctx context.Context, identifier string) (*BlacklistEntry, error)
	SaveBlacklistEntry(ctx context.Context, entry *BlacklistEntry) error

	// Behavior profiles
	GetBehaviorProfile(ctx context.Context, userID string) (*BehaviorProfile, error)
	SaveBehaviorProfile(ctx context.Context, profile *BehaviorProfile) error

	// Transaction log
	SaveTransaction(ctx context.Context, tx *Transaction) error
	GetTransaction(ctx context.Context, txID string) (*Transaction, error)
	GetTransactionsByUser(ctx context.Context, userID string, since time.Time) ([]*Transaction, error)
	CountDistinctDevices(ctx context.Context, userID string) (int64, error)

	// Transaction analyses (append-only)
	SaveAnalysis(ctx context.Context, analysis *TransactionAnalysis) error
	GetAnalysis(ctx context.Context, analysisID string) (*TransactionAnalysis, error)
	ListAnalysesByTransaction(ctx context.Context, txID string) ([]*TransactionAnalysis, error)

	// Alerts
	SaveAlert(ctx context.Context, alert *Alert) error
	GetAlert(ctx context.Context, alertID string) (*Alert, error)
	GetActiveAlert(ctx context.Context, txID string, alertType AlertType) (*Alert, error)
	ListAlertsByUser(ctx context.Context, userID string, status AlertStatus) ([]*Alert, error)

	// Custom heuristic rules
	SaveRiskRule(ctx context.Context, rule *RiskRule) error
	ListRiskRules(ctx context.Context) ([]*RiskRule, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
