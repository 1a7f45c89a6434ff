// Package signal aggregates the per-request risk signals: contact record,
// blacklist entry, behavior profile, and lookalike contacts. Lookups run
// concurrently, each under its own timeout, and degrade to absent instead of
// failing the evaluation.
package signal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/identifier"
)

// ContactDirectory looks up a payee in the user's contact directory.
// Returns nil, nil when the payee is not a contact.
type ContactDirectory interface {
	GetContact(ctx context.Context, userID, payee string) (*domain.Contact, error)
}

// BlacklistRegistry looks up a payee in the shared blacklist.
// Returns nil, nil when no entry exists.
type BlacklistRegistry interface {
	GetEntry(ctx context.Context, payee string) (*domain.BlacklistEntry, error)
}

// ProfileStore looks up the user's behavior profile.
// Returns nil, nil when the user has no history yet.
type ProfileStore interface {
	GetProfile(ctx context.Context, userID string) (*domain.BehaviorProfile, error)
}

// SimilarContactFinder returns identifiers of the user's other contacts that
// closely resemble the payee.
type SimilarContactFinder interface {
	FindSimilar(ctx context.Context, userID string, payee identifier.Identifier) ([]string, error)
}

// Bundle holds the aggregated signals. Nil fields mean the signal is absent:
// the lookup found nothing, timed out, or the provider failed.
type Bundle struct {
	Contact         *domain.Contact
	Blacklist       *domain.BlacklistEntry
	Profile         *domain.BehaviorProfile
	SimilarContacts []string
}

// Aggregator fans out the four signal lookups.
type Aggregator struct {
	contacts  ContactDirectory
	blacklist BlacklistRegistry
	profiles  ProfileStore
	similar   SimilarContactFinder
	timeout   time.Duration
}

// NewAggregator creates a signal aggregator with a per-lookup timeout.
func NewAggregator(contacts ContactDirectory, blacklist BlacklistRegistry, profiles ProfileStore, similar SimilarContactFinder, timeout time.Duration) *Aggregator {
	if timeout <= 0 {
		timeout = 1500 * time.Millisecond
	}
	return &Aggregator{
		contacts:  contacts,
		blacklist: blacklist,
		profiles:  profiles,
		similar:   similar,
		timeout:   timeout,
	}
}

// Aggregate fetches all signals concurrently. Total latency is bounded by the
// slowest individual lookup, never their sum. A lookup that times out or
// finds nothing leaves its signal absent; only when every lookup fails with a
// backend error is ErrUnavailable returned.
func (a *Aggregator) Aggregate(ctx context.Context, userID string, payee identifier.Identifier) (*Bundle, error) {
	bundle := &Bundle{}
	errs := make([]error, 4)

	var wg sync.WaitGroup
	wg.Add(4)

	go func() {
		defer wg.Done()
		lctx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()
		bundle.Contact, errs[0] = a.contacts.GetContact(lctx, userID, payee.Raw)
	}()

	go func() {
		defer wg.Done()
		lctx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()
		bundle.Blacklist, errs[1] = a.blacklist.GetEntry(lctx, payee.Raw)
	}()

	go func() {
		defer wg.Done()
		lctx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()
		bundle.Profile, errs[2] = a.profiles.GetProfile(lctx, userID)
	}()

	go func() {
		defer wg.Done()
		lctx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()
		bundle.SimilarContacts, errs[3] = a.similar.FindSimilar(lctx, userID, payee)
	}()

	wg.Wait()

	backendFailures := 0
	for i, err := range errs {
		if err == nil {
			continue
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			// Degrade to absent.
			continue
		}
		backendFailures++
		// Discard whatever the failed lookup left behind.
		switch i {
		case 0:
			bundle.Contact = nil
		case 1:
			bundle.Blacklist = nil
		case 2:
			bundle.Profile = nil
		case 3:
			bundle.SimilarContacts = nil
		}
	}

	if backendFailures == len(errs) {
		return nil, fmt.Errorf("%w: all signal lookups failed", domain.ErrUnavailable)
	}

	return bundle, nil
}
