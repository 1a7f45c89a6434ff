package risk

import (
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/identifier"
	"github.com/opensource-finance/kestrel/internal/signal"
)

func mustParse(t *testing.T, raw string) identifier.Identifier {
	t.Helper()
	id, err := identifier.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return id
}

func TestComputeFlags(t *testing.T) {
	cfg := domain.DefaultRiskConfig()

	t.Run("NewContact", func(t *testing.T) {
		cases := []struct {
			name    string
			contact *domain.Contact
			want    bool
		}{
			{"AbsentContact", nil, true},
			{"NewContact", &domain.Contact{TrustStatus: domain.TrustStatusNew}, true},
			{"TrustedContact", &domain.Contact{TrustStatus: domain.TrustStatusTrusted}, false},
			{"FlaggedContact", &domain.Contact{TrustStatus: domain.TrustStatusFlagged}, false},
		}
		for _, c := range cases {
			t.Run(c.name, func(t *testing.T) {
				flags := ComputeFlags(&cfg, &FlagInput{
					Payee:     mustParse(t, "alice@okaxis"),
					Signals:   &signal.Bundle{Contact: c.contact},
					LocalHour: 14,
				})
				if flags.NewContact != c.want {
					t.Errorf("expected newContact=%v, got %v", c.want, flags.NewContact)
				}
			})
		}
	})

	t.Run("TimeAnomaly", func(t *testing.T) {
		nightOwl := &domain.BehaviorProfile{TransactionCount: 50, NightTxCount: 12}
		dayUser := &domain.BehaviorProfile{TransactionCount: 50, NightTxCount: 0}

		cases := []struct {
			name    string
			hour    int
			profile *domain.BehaviorProfile
			want    bool
		}{
			{"DaytimeNoProfile", 14, nil, false},
			{"NightNoProfile", 2, nil, true},
			{"NightNoNightHistory", 2, dayUser, true},
			{"NightWithNightHistory", 2, nightOwl, false},
			{"WindowEndExcluded", 5, nil, false},
			{"WindowStartIncluded", 0, nil, true},
		}
		for _, c := range cases {
			t.Run(c.name, func(t *testing.T) {
				flags := ComputeFlags(&cfg, &FlagInput{
					Payee:     mustParse(t, "alice@okaxis"),
					Signals:   &signal.Bundle{Profile: c.profile},
					LocalHour: c.hour,
				})
				if flags.TimeAnomaly != c.want {
					t.Errorf("hour %d: expected timeAnomaly=%v, got %v", c.hour, c.want, flags.TimeAnomaly)
				}
			})
		}
	})

	t.Run("SuspiciousUpi", func(t *testing.T) {
		cases := []struct {
			raw  string
			want bool
		}{
			{"alice@okaxis", false},    // exact provider handle
			{"1234567890@okaxis", true}, // fully numeric local-part
			{"ab123@okaxis", false},     // 60% numeric, below threshold
			{"alice@paytn", true},       // typosquat of paytm
			{"alice@randomco", false},   // nowhere near a provider
		}
		for _, c := range cases {
			flags := ComputeFlags(&cfg, &FlagInput{
				Payee:     mustParse(t, c.raw),
				Signals:   &signal.Bundle{},
				LocalHour: 14,
			})
			if flags.SuspiciousUpi != c.want {
				t.Errorf("%q: expected suspiciousUpi=%v, got %v", c.raw, c.want, flags.SuspiciousUpi)
			}
		}
	})

	t.Run("SuspiciousKeywords", func(t *testing.T) {
		cases := []struct {
			raw  string
			note string
			want bool
		}{
			{"alice@okaxis", "", false},
			{"lottery.winner@okaxis", "", true},
			{"alice@okaxis", "URGENT: verify your KYC", true},
			{"alice@okaxis", "dinner split", false},
		}
		for _, c := range cases {
			flags := ComputeFlags(&cfg, &FlagInput{
				Payee:     mustParse(t, c.raw),
				Note:      c.note,
				Signals:   &signal.Bundle{},
				LocalHour: 14,
			})
			if flags.SuspiciousKeywords != c.want {
				t.Errorf("%q/%q: expected suspiciousKeywords=%v, got %v", c.raw, c.note, c.want, flags.SuspiciousKeywords)
			}
		}
	})

	t.Run("IsBlacklisted", func(t *testing.T) {
		flags := ComputeFlags(&cfg, &FlagInput{
			Payee:     mustParse(t, "alice@okaxis"),
			Signals:   &signal.Bundle{Blacklist: &domain.BlacklistEntry{Severity: domain.SeverityLow}},
			LocalHour: 14,
		})
		if !flags.IsBlacklisted {
			t.Error("expected isBlacklisted for any severity")
		}
	})
}

func TestAmountAnomaly(t *testing.T) {
	cfg := domain.DefaultRiskConfig()
	profile := &domain.BehaviorProfile{
		TransactionCount: 25,
		AvgAmount:        500,
		MaxAmount:        2000,
	}

	flat := &domain.BehaviorProfile{
		TransactionCount: 10,
		AvgAmount:        2000,
		MaxAmount:        2000,
	}

	cases := []struct {
		name    string
		amount  float64
		profile *domain.BehaviorProfile
		want    bool
	}{
		{"NoProfile", 100000, nil, false},
		{"EmptyProfile", 100000, &domain.BehaviorProfile{}, false},
		{"WithinHistory", 1500, profile, false},
		{"OverMaxMultiple", 6500, profile, true}, // > 3 x 2000
		{"OverAvgMultiple", 2600, profile, true}, // > 5 x 500
		{"AtMaxBoundary", 6000, flat, false},     // exactly 3 x max is not over
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := amountAnomaly(&cfg, c.amount, c.profile); got != c.want {
				t.Errorf("amount %v: expected %v, got %v", c.amount, c.want, got)
			}
		})
	}
}
