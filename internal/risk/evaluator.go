package risk

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/identifier"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/signal"
)

// Request is a pre-transaction evaluation request.
type Request struct {
	UserID     string                    `json:"userId"`
	Amount     float64                   `json:"amount"`
	Receiver   string                    `json:"receiverIdentifier"`
	Note       string                    `json:"note,omitempty"`
	DeviceInfo *domain.DeviceFingerprint `json:"deviceInfo,omitempty"`
	Location   *domain.LocationSample    `json:"location,omitempty"`
	LocalHour  int                       `json:"localHour"`
}

// Evaluator scores a proposed transfer. Read-only: it never writes to the
// blacklist, profile, or contact stores.
type Evaluator struct {
	cfg        domain.RiskConfig
	aggregator *signal.Aggregator
	engine     *rules.Engine
	logger     *slog.Logger
}

// NewEvaluator creates a pre-transaction evaluator. The rules engine is
// optional; pass nil to run with the built-in flags only.
func NewEvaluator(cfg domain.RiskConfig, agg *signal.Aggregator, engine *rules.Engine, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{
		cfg:        cfg,
		aggregator: agg,
		engine:     engine,
		logger:     logger,
	}
}

// Evaluate validates the request, aggregates signals, and produces a
// complete assessment. It fails only with ErrInvalidInput (bad identifier,
// amount, or hour) or ErrUnavailable (total backend outage). Individual
// lookup failures degrade to absent signals and never surface here.
func (e *Evaluator) Evaluate(ctx context.Context, req *Request) (*domain.RiskAssessment, error) {
	if req.LocalHour < 0 || req.LocalHour > 23 {
		return nil, fmt.Errorf("%w: localHour must be in [0,23], got %d", domain.ErrInvalidInput, req.LocalHour)
	}
	if err := identifier.Validate(req.Receiver, req.Amount); err != nil {
		return nil, err
	}
	payee, err := identifier.Parse(req.Receiver)
	if err != nil {
		return nil, err
	}

	// A human is waiting on this result; bound the whole evaluation.
	if e.cfg.OverallDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.OverallDeadline)
		defer cancel()
	}

	bundle, err := e.aggregator.Aggregate(ctx, req.UserID, payee)
	if err != nil {
		return nil, err
	}

	flags := ComputeFlags(&e.cfg, &FlagInput{
		Payee:     payee,
		Note:      req.Note,
		Signals:   bundle,
		Device:    req.DeviceInfo,
		Location:  req.Location,
		LocalHour: req.LocalHour,
	})

	anomalous := amountAnomaly(&e.cfg, req.Amount, bundle.Profile)
	impersonation := len(bundle.SimilarContacts) > 0

	score := e.score(flags, bundle, anomalous, impersonation)
	hits := e.customHits(req, payee, flags, bundle, anomalous)
	for _, h := range hits {
		score += h.Weight
	}
	if score > domain.ScoreMax {
		score = domain.ScoreMax
	}
	if score < 0 {
		score = 0
	}

	level := domain.LevelForScore(score)
	rec := domain.RecommendationForLevel(level)
	if bundle.Blacklist != nil &&
		(bundle.Blacklist.Severity == domain.SeverityHigh || bundle.Blacklist.Severity == domain.SeverityCritical) {
		rec = domain.RecommendBlock
	}

	assessment := &domain.RiskAssessment{
		RiskScore:            score,
		RiskLevel:            level,
		Recommendation:       rec,
		Reasons:              e.reasons(flags, bundle, anomalous, impersonation, hits),
		BehaviorFlags:        flags,
		ImpersonationWarning: impersonation,
		SimilarContacts:      bundle.SimilarContacts,
		AmountAnomaly:        anomalous,
		ContactStatus:        domain.TrustStatusUnknown,
	}
	if bundle.Contact != nil {
		assessment.ContactStatus = bundle.Contact.TrustStatus
		assessment.ContactName = bundle.Contact.DisplayName
	}
	if bundle.Profile != nil {
		assessment.ProfileStats = &domain.ProfileStats{
			AvgAmount:        bundle.Profile.AvgAmount,
			MaxAmount:        bundle.Profile.MaxAmount,
			TransactionCount: bundle.Profile.TransactionCount,
		}
	}

	e.logger.Debug("assessment computed",
		"user_id", req.UserID,
		"payee", payee.String(),
		"score", score,
		"level", level,
		"recommendation", rec,
	)
	return assessment, nil
}

func (e *Evaluator) score(flags domain.BehaviorFlags, bundle *signal.Bundle, anomalous, impersonation bool) float64 {
	var score float64
	active := 0
	add := func(w float64) {
		score += w
		active++
	}
	if flags.IsBlacklisted {
		add(e.cfg.SeverityWeights[bundle.Blacklist.Severity])
	}
	if flags.NewContact {
		add(e.cfg.NewContactWeight)
	}
	if flags.TimeAnomaly {
		add(e.cfg.TimeAnomalyWeight)
	}
	if flags.SuspiciousUpi {
		add(e.cfg.SuspiciousUpiWeight)
	}
	if flags.SuspiciousKeywords {
		add(e.cfg.SuspiciousKeywordsWeight)
	}
	if anomalous {
		add(e.cfg.AmountAnomalyWeight)
	}
	if impersonation {
		add(e.cfg.ImpersonationWeight)
	}
	if e.cfg.CompoundFlagCount > 0 && active >= e.cfg.CompoundFlagCount {
		score += e.cfg.CompoundBonus
	}
	return score
}

func (e *Evaluator) customHits(req *Request, payee identifier.Identifier, flags domain.BehaviorFlags, bundle *signal.Bundle, anomalous bool) []domain.RuleHit {
	if e.engine == nil || e.engine.RulesCount() == 0 {
		return nil
	}
	rc := &rules.Context{
		Amount:        req.Amount,
		LocalHour:     req.LocalHour,
		Payee:         payee.String(),
		LocalPart:     payee.LocalPart,
		Handle:        payee.Handle,
		Note:          req.Note,
		Flags:         flags,
		AmountAnomaly: anomalous,
		SimilarCount:  len(bundle.SimilarContacts),
	}
	if bundle.Profile != nil {
		rc.AvgAmount = bundle.Profile.AvgAmount
		rc.MaxAmount = bundle.Profile.MaxAmount
		rc.TxCount = bundle.Profile.TransactionCount
	}
	return e.engine.Evaluate(rc)
}

// reasons builds one sentence per active signal in a fixed order so clients
// and tests see stable output. Custom rule reasons follow the built-ins.
func (e *Evaluator) reasons(flags domain.BehaviorFlags, bundle *signal.Bundle, anomalous, impersonation bool, hits []domain.RuleHit) []string {
	out := make([]string, 0, 8)
	if flags.IsBlacklisted {
		out = append(out, fmt.Sprintf("Receiver is blacklisted with %s severity (%d reports).",
			bundle.Blacklist.Severity, bundle.Blacklist.ReportedCount))
	}
	if impersonation {
		out = append(out, "Receiver closely resembles one of your existing contacts.")
	}
	if anomalous {
		out = append(out, "Amount is unusually large compared to your transaction history.")
	}
	if flags.NewContact {
		out = append(out, "You have not transacted with this receiver before.")
	}
	if flags.TimeAnomaly {
		out = append(out, "Transfer initiated at an unusual hour for this account.")
	}
	if flags.SuspiciousUpi {
		out = append(out, "Receiver identifier looks machine-generated or imitates a known provider.")
	}
	if flags.SuspiciousKeywords {
		out = append(out, "Identifier or note contains phishing-style keywords.")
	}
	for _, h := range hits {
		if h.Reason != "" {
			out = append(out, h.Reason)
		}
	}
	return out
}
