// Package classifier provides the anomaly classifier capability used by the
// post-transaction analyzer. A classifier takes a recorded transaction and
// the user's recent history and returns an anomaly verdict. The built-in
// implementation is statistical; an external model can be plugged in over
// HTTP without the analyzer knowing the difference.
package classifier

import (
	"context"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Verdict is the classifier's judgement on a single transaction.
type Verdict struct {
	IsAnomaly     bool     `json:"isAnomaly"`
	FraudCategory string   `json:"fraudCategory,omitempty"`
	Confidence    float64  `json:"confidence"`
	Reasons       []string `json:"reasons,omitempty"`
}

// Classifier is the opaque anomaly-detection capability.
type Classifier interface {
	Classify(ctx context.Context, tx *domain.Transaction, history []*domain.Transaction) (*Verdict, error)
}
