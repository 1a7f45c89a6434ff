package domain

import "time"

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines feature availability
	Tier Tier `json:"tier"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Scoring and analysis tunables
	Risk     RiskConfig     `json:"risk"`
	Analyzer AnalyzerConfig `json:"analyzer"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled"`
	ServiceName  string `json:"serviceName"`
	ExporterType string `json:"exporterType"` // stdout, otlp, jaeger
	Endpoint     string `json:"endpoint"`
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity is the free tier with SQLite + channels
	TierCommunity Tier = "community"

	// TierPro is the paid tier with PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// RiskConfig holds the scoring weights and heuristics for pre-transaction
// evaluation. The weights are a starting configuration; operators tune the
// rest through custom CEL rules.
type RiskConfig struct {
	// Flag weights added to the score when the flag is active.
	NewContactWeight         float64 `json:"newContactWeight"`
	TimeAnomalyWeight        float64 `json:"timeAnomalyWeight"`
	SuspiciousUpiWeight      float64 `json:"suspiciousUpiWeight"`
	SuspiciousKeywordsWeight float64 `json:"suspiciousKeywordsWeight"`
	AmountAnomalyWeight      float64 `json:"amountAnomalyWeight"`
	ImpersonationWeight      float64 `json:"impersonationWeight"`

	// Blacklist weight per entry severity.
	SeverityWeights map[Severity]float64 `json:"severityWeights"`

	// Extra weight added when at least CompoundFlagCount independent
	// signals fire together. Several weak signals on one transfer are a
	// stronger indicator than their individual weights express.
	CompoundFlagCount int     `json:"compoundFlagCount"`
	CompoundBonus     float64 `json:"compoundBonus"`

	// Amount anomaly thresholds relative to the behavior profile.
	AmountMaxMultiplier float64 `json:"amountMaxMultiplier"`
	AmountAvgMultiplier float64 `json:"amountAvgMultiplier"`

	// High-risk hour window [Start, End), local hours.
	HighRiskHourStart int `json:"highRiskHourStart"`
	HighRiskHourEnd   int `json:"highRiskHourEnd"`

	// Fraction of numeric characters in the local-part above which the
	// identifier is flagged as suspicious.
	NumericLocalPartRatio float64 `json:"numericLocalPartRatio"`

	// Well-known payment-provider handles used by the typosquat heuristic.
	ProviderHandles []string `json:"providerHandles"`

	// Phishing/urgency terms matched case-insensitively against the raw
	// identifier and any free-text note.
	PhishingKeywords []string `json:"phishingKeywords"`

	// Per-lookup timeout for signal aggregation and overall evaluation
	// deadline for the synchronous request.
	LookupTimeout   time.Duration `json:"lookupTimeout"`
	OverallDeadline time.Duration `json:"overallDeadline"`
}

// AnalyzerConfig holds post-transaction analysis settings.
type AnalyzerConfig struct {
	// Classifier retry policy.
	MaxAttempts int           `json:"maxAttempts"`
	BaseDelay   time.Duration `json:"baseDelay"`

	// History window handed to the classifier.
	HistoryWindow time.Duration `json:"historyWindow"`

	// Confidence bands for the analysis recommendation.
	BlockConfidence float64 `json:"blockConfidence"`
	WarnConfidence  float64 `json:"warnConfidence"`

	// Optional external classifier endpoint. Empty means the built-in
	// statistical classifier is used.
	ClassifierURL string `json:"classifierUrl"`
}

// DefaultRiskConfig returns the documented starting weights and heuristics.
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		NewContactWeight:         10,
		TimeAnomalyWeight:        10,
		SuspiciousUpiWeight:      15,
		SuspiciousKeywordsWeight: 15,
		AmountAnomalyWeight:      20,
		ImpersonationWeight:      20,
		SeverityWeights: map[Severity]float64{
			SeverityLow:      30,
			SeverityMedium:   45,
			SeverityHigh:     65,
			SeverityCritical: 85,
		},
		CompoundFlagCount:     4,
		CompoundBonus:         20,
		AmountMaxMultiplier:   3,
		AmountAvgMultiplier:   5,
		HighRiskHourStart:     0,
		HighRiskHourEnd:       5,
		NumericLocalPartRatio: 0.7,
		ProviderHandles: []string{
			"okaxis", "oksbi", "okhdfcbank", "okicici",
			"ybl", "paytm", "apl", "upi",
		},
		PhishingKeywords: []string{
			"lottery", "winner", "prize", "reward", "urgent",
			"kyc", "refund", "cashback", "verify", "blocked", "expire",
		},
		LookupTimeout:   1500 * time.Millisecond,
		OverallDeadline: 4 * time.Second,
	}
}

// DefaultAnalyzerConfig returns the default post-transaction settings.
func DefaultAnalyzerConfig() AnalyzerConfig {
	return AnalyzerConfig{
		MaxAttempts:     3,
		BaseDelay:       500 * time.Millisecond,
		HistoryWindow:   30 * 24 * time.Hour,
		BlockConfidence: 0.8,
		WarnConfidence:  0.5,
	}
}

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     300 * time.Second,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Risk:     DefaultRiskConfig(),
		Analyzer: DefaultAnalyzerConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       300 * time.Second,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
