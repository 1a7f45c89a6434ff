// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveContact inserts or updates a directory entry.
func (r *SQLRepository) SaveContact(ctx context.Context, c *domain.Contact) error {
	if c.OwnerUserID == "" || c.Identifier == "" {
		return fmt.Errorf("%w: owner and identifier are required", ErrInvalidInput)
	}

	query := `
		INSERT INTO contacts (owner_user_id, identifier, trust_status, display_name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(owner_user_id, identifier) DO UPDATE SET
			trust_status = excluded.trust_status,
			display_name = excluded.display_name,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		c.OwnerUserID, c.Identifier, c.TrustStatus, c.DisplayName,
		c.CreatedAt, c.UpdatedAt,
	)
	return err
}

// GetContact retrieves one directory entry.
func (r *SQLRepository) GetContact(ctx context.Context, userID, identifier string) (*domain.Contact, error) {
	query := `
		SELECT owner_user_id, identifier, trust_status, display_name, created_at, updated_at
		FROM contacts
		WHERE owner_user_id = ? AND identifier = ?
	`

	var c domain.Contact
	var name sql.NullString
	err := r.db.QueryRowContext(ctx, r.rebind(query), userID, identifier).Scan(
		&c.OwnerUserID, &c.Identifier, &c.TrustStatus, &name,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.DisplayName = name.String
	return &c, nil
}

// ListContacts retrieves all of a user's directory entries.
func (r *SQLRepository) ListContacts(ctx context.Context, userID string) ([]*domain.Contact, error) {
	query := `
		SELECT owner_user_id, identifier, trust_status, display_name, created_at, updated_at
		FROM contacts
		WHERE owner_user_id = ?
		ORDER BY identifier
	`
	return r.queryContacts(ctx, query, userID)
}

// ListContactsByHandle retrieves a user's entries whose identifier ends with
// the given handle. Used by the similar-contact lookup to bound the
// candidate set.
func (r *SQLRepository) ListContactsByHandle(ctx context.Context, userID, handle string) ([]*domain.Contact, error) {
	query := `
		SELECT owner_user_id, identifier, trust_status, display_name, created_at, updated_at
		FROM contacts
		WHERE owner_user_id = ? AND identifier LIKE ?
		ORDER BY identifier
	`
	return r.queryContacts(ctx, query, userID, "%@"+handle)
}

func (r *SQLRepository) queryContacts(ctx context.Context, query string, args ...any) ([]*domain.Contact, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contacts []*domain.Contact
	for rows.Next() {
		var c domain.Contact
		var name sql.NullString
		if err := rows.Scan(
			&c.OwnerUserID, &c.Identifier, &c.TrustStatus, &name,
			&c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, err
		}
		c.DisplayName = name.String
		contacts = append(contacts, &c)
	}
	return contacts, rows.Err()
}

// GetBlacklistEntry retrieves the shared entry for an identifier.
func (r *SQLRepository) GetBlacklistEntry(ctx context.Context, identifier string) (*domain.BlacklistEntry, error) {
	query := `
		SELECT identifier, reason, reported_count, severity, source, created_at, updated_at
		FROM blacklist_entries
		WHERE identifier = ?
	`

	var e domain.BlacklistEntry
	var reason sql.NullString
	err := r.db.QueryRowContext(ctx, r.rebind(query), identifier).Scan(
		&e.Identifier, &reason, &e.ReportedCount, &e.Severity, &e.Source,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	e.Reason = reason.String
	return &e, nil
}

// SaveBlacklistEntry inserts or updates an entry.
func (r *SQLRepository) SaveBlacklistEntry(ctx context.Context, e *domain.BlacklistEntry) error {
	if e.Identifier == "" {
		return fmt.Errorf("%w: identifier is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO blacklist_entries (identifier, reason, reported_count, severity, source, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(identifier) DO UPDATE SET
			reason = excluded.reason,
			reported_count = excluded.reported_count,
			severity = excluded.severity,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		e.Identifier, e.Reason, e.ReportedCount, e.Severity, e.Source,
		e.CreatedAt, e.UpdatedAt,
	)
	return err
}

// GetBehaviorProfile retrieves a user's aggregates.
func (r *SQLRepository) GetBehaviorProfile(ctx context.Context, userID string) (*domain.BehaviorProfile, error) {
	query := `
		SELECT user_id, avg_amount, max_amount, transaction_count, known_device_count, night_tx_count, updated_at
		FROM behavior_profiles
		WHERE user_id = ?
	`

	var p domain.BehaviorProfile
	err := r.db.QueryRowContext(ctx, r.rebind(query), userID).Scan(
		&p.UserID, &p.AvgAmount, &p.MaxAmount, &p.TransactionCount,
		&p.KnownDeviceCount, &p.NightTxCount, &p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// SaveBehaviorProfile inserts or updates a user's aggregates.
func (r *SQLRepository) SaveBehaviorProfile(ctx context.Context, p *domain.BehaviorProfile) error {
	if p.UserID == "" {
		return fmt.Errorf("%w: userID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO behavior_profiles (user_id, avg_amount, max_amount, transaction_count, known_device_count, night_tx_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			avg_amount = excluded.avg_amount,
			max_amount = excluded.max_amount,
			transaction_count = excluded.transaction_count,
			known_device_count = excluded.known_device_count,
			night_tx_count = excluded.night_tx_count,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		p.UserID, p.AvgAmount, p.MaxAmount, p.TransactionCount,
		p.KnownDeviceCount, p.NightTxCount, p.UpdatedAt,
	)
	return err
}

// SaveTransaction stores one recorded transfer.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tx *domain.Transaction) error {
	if tx.ID == "" || tx.UserID == "" {
		return fmt.Errorf("%w: transaction id and userID are required", ErrInvalidInput)
	}

	query := `
		INSERT INTO transactions (id, user_id, identifier, amount, note, device_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, tx.UserID, tx.Identifier, tx.Amount, tx.Note, tx.DeviceID, tx.CreatedAt,
	)
	return err
}

// GetTransaction retrieves a transfer by ID.
func (r *SQLRepository) GetTransaction(ctx context.Context, txID string) (*domain.Transaction, error) {
	query := `
		SELECT id, user_id, identifier, amount, note, device_id, created_at
		FROM transactions
		WHERE id = ?
	`

	var tx domain.Transaction
	var note, deviceID sql.NullString
	err := r.db.QueryRowContext(ctx, r.rebind(query), txID).Scan(
		&tx.ID, &tx.UserID, &tx.Identifier, &tx.Amount, &note, &deviceID, &tx.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	tx.Note = note.String
	tx.DeviceID = deviceID.String
	return &tx, nil
}

// GetTransactionsByUser retrieves a user's transfers since the given time,
// newest first.
func (r *SQLRepository) GetTransactionsByUser(ctx context.Context, userID string, since time.Time) ([]*domain.Transaction, error) {
	query := `
		SELECT id, user_id, identifier, amount, note, device_id, created_at
		FROM transactions
		WHERE user_id = ? AND created_at >= ?
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), userID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []*domain.Transaction
	for rows.Next() {
		var tx domain.Transaction
		var note, deviceID sql.NullString
		if err := rows.Scan(
			&tx.ID, &tx.UserID, &tx.Identifier, &tx.Amount, &note, &deviceID, &tx.CreatedAt,
		); err != nil {
			return nil, err
		}
		tx.Note = note.String
		tx.DeviceID = deviceID.String
		transactions = append(transactions, &tx)
	}
	return transactions, rows.Err()
}

// CountDistinctDevices counts the devices a user has transferred from.
func (r *SQLRepository) CountDistinctDevices(ctx context.Context, userID string) (int64, error) {
	query := `
		SELECT COUNT(DISTINCT device_id)
		FROM transactions
		WHERE user_id = ? AND device_id IS NOT NULL AND device_id != ''
	`

	var count int64
	err := r.db.QueryRowContext(ctx, r.rebind(query), userID).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// SaveAnalysis appends a post-transaction analysis record.
func (r *SQLRepository) SaveAnalysis(ctx context.Context, a *domain.TransactionAnalysis) error {
	if a.ID == "" || a.TransactionID == "" {
		return fmt.Errorf("%w: analysis id and transactionID are required", ErrInvalidInput)
	}

	reasons, _ := json.Marshal(a.Reasons)
	anomaly := 0
	if a.IsAnomaly {
		anomaly = 1
	}

	query := `
		INSERT INTO transaction_analyses (
			id, transaction_id, user_id, risk_score, is_anomaly,
			fraud_category, confidence, reasons, recommendation, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		a.ID, a.TransactionID, a.UserID, a.RiskScore, anomaly,
		a.FraudCategory, a.Confidence, string(reasons), a.Recommendation, a.CreatedAt,
	)
	return err
}

// GetAnalysis retrieves one analysis record.
func (r *SQLRepository) GetAnalysis(ctx context.Context, analysisID string) (*domain.TransactionAnalysis, error) {
	query := `
		SELECT id, transaction_id, user_id, risk_score, is_anomaly,
			   fraud_category, confidence, reasons, recommendation, created_at
		FROM transaction_analyses
		WHERE id = ?
	`

	a, err := r.scanAnalysis(r.db.QueryRowContext(ctx, r.rebind(query), analysisID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

// ListAnalysesByTransaction retrieves the analysis log for a transaction,
// newest first.
func (r *SQLRepository) ListAnalysesByTransaction(ctx context.Context, txID string) ([]*domain.TransactionAnalysis, error) {
	query := `
		SELECT id, transaction_id, user_id, risk_score, is_anomaly,
			   fraud_category, confidence, reasons, recommendation, created_at
		FROM transaction_analyses
		WHERE transaction_id = ?
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), txID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var analyses []*domain.TransactionAnalysis
	for rows.Next() {
		a, err := r.scanAnalysis(rows)
		if err != nil {
			return nil, err
		}
		analyses = append(analyses, a)
	}
	return analyses, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *SQLRepository) scanAnalysis(row rowScanner) (*domain.TransactionAnalysis, error) {
	var a domain.TransactionAnalysis
	var category sql.NullString
	var reasons sql.NullString
	var anomaly int

	err := row.Scan(
		&a.ID, &a.TransactionID, &a.UserID, &a.RiskScore, &anomaly,
		&category, &a.Confidence, &reasons, &a.Recommendation, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.IsAnomaly = anomaly == 1
	a.FraudCategory = category.String
	if reasons.String != "" {
		json.Unmarshal([]byte(reasons.String), &a.Reasons)
	}
	return &a, nil
}

// SaveAlert inserts or updates an alert.
func (r *SQLRepository) SaveAlert(ctx context.Context, a *domain.Alert) error {
	if a.ID == "" || a.UserID == "" {
		return fmt.Errorf("%w: alert id and userID are required", ErrInvalidInput)
	}

	metadata, _ := json.Marshal(a.Metadata)

	query := `
		INSERT INTO alerts (
			id, user_id, transaction_id, alert_type, title, message,
			severity, status, metadata, created_at, read_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			message = excluded.message,
			severity = excluded.severity,
			status = excluded.status,
			metadata = excluded.metadata,
			created_at = excluded.created_at,
			read_at = excluded.read_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		a.ID, a.UserID, a.TransactionID, a.Type, a.Title, a.Message,
		a.Severity, a.Status, string(metadata), a.CreatedAt, a.ReadAt,
	)
	return err
}

// GetAlert retrieves one alert by ID.
func (r *SQLRepository) GetAlert(ctx context.Context, alertID string) (*domain.Alert, error) {
	query := `
		SELECT id, user_id, transaction_id, alert_type, title, message,
			   severity, status, metadata, created_at, read_at
		FROM alerts
		WHERE id = ?
	`

	a, err := r.scanAlert(r.db.QueryRowContext(ctx, r.rebind(query), alertID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

// GetActiveAlert retrieves the non-dismissed alert for a
// (transaction, type) pair, if one exists. Backs the dedup policy.
func (r *SQLRepository) GetActiveAlert(ctx context.Context, txID string, alertType domain.AlertType) (*domain.Alert, error) {
	query := `
		SELECT id, user_id, transaction_id, alert_type, title, message,
			   severity, status, metadata, created_at, read_at
		FROM alerts
		WHERE transaction_id = ? AND alert_type = ? AND status != 'dismissed'
		ORDER BY created_at DESC
		LIMIT 1
	`

	a, err := r.scanAlert(r.db.QueryRowContext(ctx, r.rebind(query), txID, alertType))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

// ListAlertsByUser retrieves a user's alerts, newest first. An empty status
// returns all of them.
func (r *SQLRepository) ListAlertsByUser(ctx context.Context, userID string, status domain.AlertStatus) ([]*domain.Alert, error) {
	query := `
		SELECT id, user_id, transaction_id, alert_type, title, message,
			   severity, status, metadata, created_at, read_at
		FROM alerts
		WHERE user_id = ?
	`
	args := []any{userID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*domain.Alert
	for rows.Next() {
		a, err := r.scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

func (r *SQLRepository) scanAlert(row rowScanner) (*domain.Alert, error) {
	var a domain.Alert
	var txID, metadata sql.NullString
	var readAt sql.NullTime

	err := row.Scan(
		&a.ID, &a.UserID, &txID, &a.Type, &a.Title, &a.Message,
		&a.Severity, &a.Status, &metadata, &a.CreatedAt, &readAt,
	)
	if err != nil {
		return nil, err
	}
	a.TransactionID = txID.String
	if metadata.String != "" {
		json.Unmarshal([]byte(metadata.String), &a.Metadata)
	}
	if readAt.Valid {
		t := readAt.Time
		a.ReadAt = &t
	}
	return &a, nil
}

// SaveRiskRule inserts or updates a custom rule.
func (r *SQLRepository) SaveRiskRule(ctx context.Context, rule *domain.RiskRule) error {
	if rule.ID == "" {
		return fmt.Errorf("%w: rule id is required", ErrInvalidInput)
	}

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	query := `
		INSERT INTO risk_rules (id, name, description, expression, weight, reason, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			weight = excluded.weight,
			reason = excluded.reason,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.Name, rule.Description, rule.Expression,
		rule.Weight, rule.Reason, enabled, rule.CreatedAt, rule.UpdatedAt,
	)
	return err
}

// ListRiskRules retrieves all custom rules, enabled or not.
func (r *SQLRepository) ListRiskRules(ctx context.Context) ([]*domain.RiskRule, error) {
	query := `
		SELECT id, name, description, expression, weight, reason, enabled, created_at, updated_at
		FROM risk_rules
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rulesList []*domain.RiskRule
	for rows.Next() {
		var rule domain.RiskRule
		var description, reason sql.NullString
		var enabled int
		if err := rows.Scan(
			&rule.ID, &rule.Name, &description, &rule.Expression,
			&rule.Weight, &reason, &enabled, &rule.CreatedAt, &rule.UpdatedAt,
		); err != nil {
			return nil, err
		}
		rule.Description = description.String
		rule.Reason = reason.String
		rule.Enabled = enabled == 1
		rulesList = append(rulesList, &rule)
	}
	return rulesList, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
