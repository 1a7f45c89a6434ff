package domain

import (
	"time"
)

// Transaction is the engine's own append-only record of a completed transfer.
// It feeds the behavior profile aggregation and the post-transaction
// analyzer's history window.
type Transaction struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	Identifier string    `json:"identifier"`
	Amount     float64   `json:"amount"`
	Note       string    `json:"note,omitempty"`
	DeviceID   string    `json:"deviceId,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// AnalysisRecommendation is the post-transaction action band.
type AnalysisRecommendation string

const (
	AnalysisAllow AnalysisRecommendation = "allow"
	AnalysisWarn  AnalysisRecommendation = "warn"
	AnalysisBlock AnalysisRecommendation = "block"
)

// TransactionAnalysis is the persisted post-transaction verdict. Append-only:
// re-analysis creates a new record, existing records are never mutated.
type TransactionAnalysis struct {
	ID             string                 `json:"id"`
	TransactionID  string                 `json:"transactionId"`
	UserID         string                 `json:"userId"`
	RiskScore      float64                `json:"riskScore"`
	IsAnomaly      bool                   `json:"isAnomaly"`
	FraudCategory  string                 `json:"fraudCategory,omitempty"`
	Confidence     float64                `json:"confidence"`
	Reasons        []string               `json:"reasons"`
	Recommendation AnalysisRecommendation `json:"recommendation"`
	CreatedAt      time.Time              `json:"createdAt"`
}
