// Package identifier provides parsing, validation, and similarity checks for
// payee identifiers of the form local-part@handle.
package identifier

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// MaxAmount is the upper bound on a single transfer.
const MaxAmount = 10_000_000

var pattern = regexp.MustCompile(`^[A-Za-z0-9.\-_]{2,256}@[A-Za-z]{2,64}$`)

// Identifier is a validated, lowercase-normalized payee identifier.
type Identifier struct {
	Raw       string
	LocalPart string
	Handle    string
}

// String returns the normalized identifier.
func (id Identifier) String() string {
	return id.Raw
}

// Normalize lowercases an identifier for registry operations. Applied at
// every boundary before storage or lookup.
func Normalize(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// Parse validates and normalizes a raw identifier.
func Parse(raw string) (Identifier, error) {
	norm := Normalize(raw)
	if !pattern.MatchString(norm) {
		return Identifier{}, fmt.Errorf("%w: malformed identifier %q", domain.ErrInvalidInput, raw)
	}
	at := strings.LastIndex(norm, "@")
	return Identifier{
		Raw:       norm,
		LocalPart: norm[:at],
		Handle:    norm[at+1:],
	}, nil
}

// Validate is the syntactic gate run before any lookup or side effect.
// The amount must be a finite number in (0, MaxAmount].
func Validate(raw string, amount float64) error {
	if _, err := Parse(raw); err != nil {
		return err
	}
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return fmt.Errorf("%w: amount must be a finite number", domain.ErrInvalidInput)
	}
	if amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", domain.ErrInvalidInput)
	}
	if amount > MaxAmount {
		return fmt.Errorf("%w: amount exceeds limit of %d", domain.ErrInvalidInput, MaxAmount)
	}
	return nil
}

// NumericRatio returns the fraction of numeric characters in the local-part.
func (id Identifier) NumericRatio() float64 {
	if len(id.LocalPart) == 0 {
		return 0
	}
	digits := 0
	for _, r := range id.LocalPart {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	return float64(digits) / float64(len(id.LocalPart))
}

// confusables maps characters commonly substituted in lookalike identifiers
// to a canonical form.
var confusables = map[rune]rune{
	'0': 'o',
	'1': 'l',
	'5': 's',
	'3': 'e',
	'i': 'l',
}

// FoldConfusables canonicalizes confusable characters so lookalike strings
// compare equal.
func FoldConfusables(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if c, ok := confusables[r]; ok {
			r = c
		}
		b.WriteRune(r)
	}
	return b.String()
}

// EditDistance computes the Levenshtein distance between two strings.
func EditDistance(a, b string) int {
	if a == b {
		return 0
	}
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, min(curr[j-1]+1, prev[j-1]+cost))
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

// Similar reports whether two identifiers are close enough to be mistaken
// for each other: they share a handle and their local-parts are within edit
// distance 2, or are equal after confusable folding. Identical identifiers
// are not "similar"; they are the same payee.
func Similar(a, b Identifier) bool {
	if a.Raw == b.Raw {
		return false
	}
	if a.Handle != b.Handle {
		return false
	}
	if EditDistance(a.LocalPart, b.LocalPart) <= 2 {
		return true
	}
	return FoldConfusables(a.LocalPart) == FoldConfusables(b.LocalPart)
}
