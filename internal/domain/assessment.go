package domain

// RiskLevel is the discrete band derived from the numeric risk score.
type RiskLevel string

const (
	LevelSafe     RiskLevel = "safe"
	LevelWarning  RiskLevel = "warning"
	LevelDanger   RiskLevel = "danger"
	LevelCritical RiskLevel = "critical"
)

// Recommendation is the action the client should take for a proposed transfer.
type Recommendation string

const (
	RecommendProceed Recommendation = "proceed"
	RecommendCaution Recommendation = "caution"
	RecommendAvoid   Recommendation = "avoid"
	RecommendBlock   Recommendation = "block"
)

// Score band boundaries. Inclusive on the lower end.
const (
	ScoreWarningFloor  = 25.0
	ScoreDangerFloor   = 50.0
	ScoreCriticalFloor = 75.0
	ScoreMax           = 100.0
)

// LevelForScore maps a clamped risk score to its level band.
func LevelForScore(score float64) RiskLevel {
	switch {
	case score >= ScoreCriticalFloor:
		return LevelCritical
	case score >= ScoreDangerFloor:
		return LevelDanger
	case score >= ScoreWarningFloor:
		return LevelWarning
	default:
		return LevelSafe
	}
}

// RecommendationForLevel maps a risk level to its recommendation.
// The blacklist override (high/critical entry forces block) is applied by the
// evaluator on top of this mapping.
func RecommendationForLevel(level RiskLevel) Recommendation {
	switch level {
	case LevelCritical:
		return RecommendBlock
	case LevelDanger:
		return RecommendAvoid
	case LevelWarning:
		return RecommendCaution
	default:
		return RecommendProceed
	}
}

// BehaviorFlags are the independent boolean risk signals derived from
// aggregated data. No flag overrides another; only the evaluator combines them.
type BehaviorFlags struct {
	NewContact         bool `json:"newContact"`
	TimeAnomaly        bool `json:"timeAnomaly"`
	SuspiciousUpi      bool `json:"suspiciousUpi"`
	SuspiciousKeywords bool `json:"suspiciousKeywords"`
	IsBlacklisted      bool `json:"isBlacklisted"`
}

// ProfileStats is the profile summary echoed back in an assessment.
type ProfileStats struct {
	AvgAmount        float64 `json:"avgAmount"`
	MaxAmount        float64 `json:"maxAmount"`
	TransactionCount int64   `json:"transactionCount"`
}

// RiskAssessment is the pre-transaction evaluation result. It is transient:
// computed per request and never persisted.
type RiskAssessment struct {
	RiskScore            float64        `json:"risk_score"`
	RiskLevel            RiskLevel      `json:"risk_level"`
	Recommendation       Recommendation `json:"recommendation"`
	Reasons              []string       `json:"reasons"`
	BehaviorFlags        BehaviorFlags  `json:"behavior_flags"`
	ImpersonationWarning bool           `json:"impersonation_warning"`
	SimilarContacts      []string       `json:"similar_contacts"`
	AmountAnomaly        bool           `json:"amount_anomaly"`
	ContactStatus        TrustStatus    `json:"contact_status"`
	ContactName          string         `json:"contact_name,omitempty"`
	ProfileStats         *ProfileStats  `json:"profile_stats,omitempty"`
}
