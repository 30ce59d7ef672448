package usecase

import (
	"regexp"
	"strings"

	"github.com/beloyal-club/BudAlert-sub003/internal/domain"
)

// Compiled regex patterns for identity normalization
var (
	nonAlphanumericPattern = regexp.MustCompile(`[^a-z0-9\s]`)
	multiSpacePattern      = regexp.MustCompile(`\s+`)
)

// NormalizeName folds a raw scraped name into a canonical lookup key:
// lowercase, punctuation stripped, whitespace collapsed. An empty or
// punctuation-only input yields a NormalizationError; the caller diverts the
// item instead of dropping it.
func NormalizeName(field, raw string) (string, error) {
	folded := strings.ToLower(strings.TrimSpace(raw))
	folded = nonAlphanumericPattern.ReplaceAllString(folded, " ")
	folded = multiSpacePattern.ReplaceAllString(folded, " ")
	folded = strings.TrimSpace(folded)
	if folded == "" {
		return "", &domain.NormalizationError{Field: field, Raw: raw}
	}
	return folded, nil
}

// ProductKey builds the product lookup key scoped to a brand: the normalized
// product name plus the weight when the scraper supplied one and the name does
// not already carry it. "Blue Dream 3.5g" and "Blue Dream" + weight "3.5g"
// produce the same key.
func ProductKey(name, weight string) (string, error) {
	w := strings.ToLower(strings.TrimSpace(weight))
	if w != "" {
		// an in-name copy of the weight is lifted out before folding so it
		// lands in the same compact form as a separately supplied weight
		if i := strings.Index(strings.ToLower(name), w); i >= 0 {
			name = name[:i] + name[i+len(w):]
		}
	}

	key, err := NormalizeName("name", name)
	if err != nil {
		return "", err
	}
	if w == "" {
		return key, nil
	}

	w = nonAlphanumericPattern.ReplaceAllString(w, "")
	w = strings.ReplaceAll(w, " ", "")
	if w == "" || strings.Contains(strings.ReplaceAll(key, " ", ""), w) {
		return key, nil
	}
	return key + " " + w, nil
}
