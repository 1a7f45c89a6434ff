package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaContacts = `
CREATE TABLE IF NOT EXISTS contacts (
    owner_user_id TEXT NOT NULL,
    identifier TEXT NOT NULL,
    trust_status TEXT NOT NULL,
    display_name TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (owner_user_id, identifier)
);

CREATE INDEX IF NOT EXISTS idx_contacts_owner ON contacts(owner_user_id);
`

const schemaBlacklist = `
CREATE TABLE IF NOT EXISTS blacklist_entries (
    identifier TEXT PRIMARY KEY,
    reason TEXT,
    reported_count INTEGER NOT NULL DEFAULT 1,
    severity TEXT NOT NULL,
    source TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_blacklist_severity ON blacklist_entries(severity);
`

const schemaProfiles = `
CREATE TABLE IF NOT EXISTS behavior_profiles (
    user_id TEXT PRIMARY KEY,
    avg_amount REAL NOT NULL DEFAULT 0,
    max_amount REAL NOT NULL DEFAULT 0,
    transaction_count INTEGER NOT NULL DEFAULT 0,
    known_device_count INTEGER NOT NULL DEFAULT 0,
    night_tx_count INTEGER NOT NULL DEFAULT 0,
    updated_at TIMESTAMP NOT NULL
);
`

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    identifier TEXT NOT NULL,
    amount REAL NOT NULL,
    note TEXT,
    device_id TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_user ON transactions(user_id);
CREATE INDEX IF NOT EXISTS idx_transactions_user_time ON transactions(user_id, created_at);
`

const schemaAnalyses = `
CREATE TABLE IF NOT EXISTS transaction_analyses (
    id TEXT PRIMARY KEY,
    transaction_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    risk_score REAL NOT NULL DEFAULT 0,
    is_anomaly INTEGER NOT NULL DEFAULT 0,
    fraud_category TEXT,
    confidence REAL NOT NULL DEFAULT 0,
    reasons TEXT,
    recommendation TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_analyses_tx ON transaction_analyses(transaction_id);
CREATE INDEX IF NOT EXISTS idx_analyses_user ON transaction_analyses(user_id);
`

const schemaAlerts = `
CREATE TABLE IF NOT EXISTS alerts (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    transaction_id TEXT,
    alert_type TEXT NOT NULL,
    title TEXT NOT NULL,
    message TEXT NOT NULL,
    severity TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'unread',
    metadata TEXT,
    created_at TIMESTAMP NOT NULL,
    read_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_alerts_user ON alerts(user_id);
CREATE INDEX IF NOT EXISTS idx_alerts_user_status ON alerts(user_id, status);
CREATE INDEX IF NOT EXISTS idx_alerts_tx_type ON alerts(transaction_id, alert_type, status);
`

const schemaRiskRules = `
CREATE TABLE IF NOT EXISTS risk_rules (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT,
    expression TEXT NOT NULL,
    weight REAL NOT NULL DEFAULT 10,
    reason TEXT,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_risk_rules_enabled ON risk_rules(enabled);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaContacts,
		schemaBlacklist,
		schemaProfiles,
		schemaTransactions,
		schemaAnalyses,
		schemaAlerts,
		schemaRiskRules,
	}
}
