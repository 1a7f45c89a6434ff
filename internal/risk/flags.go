// Package risk implements the pre-transaction risk evaluator: behavior flag
// derivation, weighted score aggregation, and the level/recommendation
// mapping a client uses to gate a transfer.
package risk

import (
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/identifier"
	"github.com/opensource-finance/kestrel/internal/signal"
)

// FlagInput carries everything the flag evaluator looks at. Device and
// location are optional; location counts only as presence.
type FlagInput struct {
	Payee     identifier.Identifier
	Note      string
	Signals   *signal.Bundle
	Device    *domain.DeviceFingerprint
	Location  *domain.LocationSample
	LocalHour int
}

// ComputeFlags derives the five behavior flags from the signal bundle.
// Pure: no I/O, no state. Each flag is computed independently.
func ComputeFlags(cfg *domain.RiskConfig, in *FlagInput) domain.BehaviorFlags {
	return domain.BehaviorFlags{
		NewContact:         newContact(in.Signals.Contact),
		TimeAnomaly:        timeAnomaly(cfg, in.LocalHour, in.Signals.Profile),
		SuspiciousUpi:      suspiciousUpi(cfg, in.Payee),
		SuspiciousKeywords: suspiciousKeywords(cfg, in.Payee.Raw, in.Note),
		IsBlacklisted:      in.Signals.Blacklist != nil,
	}
}

func newContact(c *domain.Contact) bool {
	return c == nil || c.TrustStatus == domain.TrustStatusNew
}

// timeAnomaly flags transfers in the high-risk window unless the profile
// shows the user transacts there. A missing profile is no evidence the
// window is normal, so it flags.
func timeAnomaly(cfg *domain.RiskConfig, localHour int, p *domain.BehaviorProfile) bool {
	if localHour < cfg.HighRiskHourStart || localHour >= cfg.HighRiskHourEnd {
		return false
	}
	if p == nil {
		return true
	}
	return p.NightTxCount == 0
}

func suspiciousUpi(cfg *domain.RiskConfig, payee identifier.Identifier) bool {
	if payee.NumericRatio() >= cfg.NumericLocalPartRatio {
		return true
	}
	for _, h := range cfg.ProviderHandles {
		if payee.Handle == h {
			return false
		}
	}
	for _, h := range cfg.ProviderHandles {
		if identifier.EditDistance(payee.Handle, h) == 1 {
			return true
		}
	}
	return false
}

func suspiciousKeywords(cfg *domain.RiskConfig, rawPayee, note string) bool {
	haystack := strings.ToLower(rawPayee)
	if note != "" {
		haystack += " " + strings.ToLower(note)
	}
	for _, kw := range cfg.PhishingKeywords {
		if strings.Contains(haystack, kw) {
			return true
		}
	}
	return false
}

// amountAnomaly is true only when a profile exists: without history there is
// nothing to compare against.
func amountAnomaly(cfg *domain.RiskConfig, amount float64, p *domain.BehaviorProfile) bool {
	if p == nil || p.TransactionCount == 0 {
		return false
	}
	return amount > cfg.AmountMaxMultiplier*p.MaxAmount ||
		amount > cfg.AmountAvgMultiplier*p.AvgAmount
}
