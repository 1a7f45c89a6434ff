package classifier

import (
	"context"
	"fmt"
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Fraud categories produced by the statistical classifier.
const (
	CategoryAmountOutlier = "amount_outlier"
	CategoryOddHours      = "odd_hours"
	CategoryBurst         = "rapid_succession"
)

// Statistical is the built-in classifier. It scores a transaction against
// the user's own history using amount z-scores, an hour-of-day frequency
// profile, and a burst detector. It needs a few prior transactions to have
// anything to compare against; below that it reports no anomaly with low
// confidence rather than guessing.
type Statistical struct {
	// Amount z-score above which the transaction is an outlier.
	ZThreshold float64

	// Minimum history size before verdicts carry weight.
	MinHistory int

	// Gap under which consecutive transfers count as a burst, and the
	// burst size that flags.
	BurstWindowSeconds float64
	BurstCount         int
}

// NewStatistical creates the built-in classifier with default thresholds.
func NewStatistical() *Statistical {
	return &Statistical{
		ZThreshold:         3.0,
		MinHistory:         5,
		BurstWindowSeconds: 60,
		BurstCount:         3,
	}
}

// Classify never returns an error: with insufficient history the verdict is
// simply "not anomalous" at low confidence.
func (s *Statistical) Classify(_ context.Context, tx *domain.Transaction, history []*domain.Transaction) (*Verdict, error) {
	if len(history) < s.MinHistory {
		return &Verdict{
			IsAnomaly:  false,
			Confidence: 0.2,
			Reasons:    []string{fmt.Sprintf("insufficient history (%d transactions)", len(history))},
		}, nil
	}

	if v := s.amountOutlier(tx, history); v != nil {
		return v, nil
	}
	if v := s.oddHours(tx, history); v != nil {
		return v, nil
	}
	if v := s.burst(tx, history); v != nil {
		return v, nil
	}

	return &Verdict{IsAnomaly: false, Confidence: 0.9}, nil
}

func (s *Statistical) amountOutlier(tx *domain.Transaction, history []*domain.Transaction) *Verdict {
	mean, stddev := amountStats(history)
	if stddev == 0 {
		return nil
	}

	z := math.Abs(tx.Amount-mean) / stddev
	if z < s.ZThreshold {
		return nil
	}

	// Map z in [threshold, 2*threshold] onto confidence [0.6, 0.95].
	conf := 0.6 + 0.35*math.Min(1, (z-s.ZThreshold)/s.ZThreshold)
	return &Verdict{
		IsAnomaly:     true,
		FraudCategory: CategoryAmountOutlier,
		Confidence:    conf,
		Reasons: []string{
			fmt.Sprintf("amount %.2f deviates %.1f standard deviations from the user mean %.2f", tx.Amount, z, mean),
		},
	}
}

func (s *Statistical) oddHours(tx *domain.Transaction, history []*domain.Transaction) *Verdict {
	hour := tx.CreatedAt.Hour()
	seen := 0
	for _, h := range history {
		if h.CreatedAt.Hour() == hour {
			seen++
		}
	}
	if seen > 0 {
		return nil
	}
	// Never transacted at this hour before. Weak on its own, so moderate
	// confidence only when the history is substantial.
	conf := 0.5
	if len(history) >= 20 {
		conf = 0.65
	}
	return &Verdict{
		IsAnomaly:     true,
		FraudCategory: CategoryOddHours,
		Confidence:    conf,
		Reasons: []string{
			fmt.Sprintf("no prior transactions at hour %02d across %d history entries", hour, len(history)),
		},
	}
}

func (s *Statistical) burst(tx *domain.Transaction, history []*domain.Transaction) *Verdict {
	recent := 0
	for _, h := range history {
		if tx.CreatedAt.Sub(h.CreatedAt).Seconds() <= s.BurstWindowSeconds &&
			tx.CreatedAt.After(h.CreatedAt) {
			recent++
		}
	}
	if recent < s.BurstCount {
		return nil
	}
	return &Verdict{
		IsAnomaly:     true,
		FraudCategory: CategoryBurst,
		Confidence:    0.7,
		Reasons: []string{
			fmt.Sprintf("%d transfers within %.0f seconds of this one", recent, s.BurstWindowSeconds),
		},
	}
}

func amountStats(history []*domain.Transaction) (mean, stddev float64) {
	n := float64(len(history))
	var sum float64
	for _, h := range history {
		sum += h.Amount
	}
	mean = sum / n

	var sq float64
	for _, h := range history {
		d := h.Amount - mean
		sq += d * d
	}
	stddev = math.Sqrt(sq / n)
	return mean, stddev
}
