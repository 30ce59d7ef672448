package usecase

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/beloyal-club/BudAlert-sub003/internal/domain"
)

// defaultPreviewBytes caps stored response previews when no cap is configured.
const defaultPreviewBytes = 1000

// Classify maps a failure onto the dead-letter taxonomy. A present HTTP status
// code takes priority over message text; message matching applies in order
// (timeout, rate-limit, parse/JSON, network/fetch, graphql) only when the
// status code is absent or did not match.
func Classify(message string, statusCode *int) domain.ErrorType {
	if statusCode != nil {
		switch code := *statusCode; {
		case code == 429:
			return domain.ErrorTypeRateLimit
		case code >= 500:
			return domain.ErrorTypeServerError
		case code == 401 || code == 403:
			return domain.ErrorTypeAuthError
		case code == 404:
			return domain.ErrorTypeNotFound
		case code >= 400:
			return domain.ErrorTypeHTTPError
		}
	}

	text := strings.ToLower(message)
	switch {
	case strings.Contains(text, "timeout") || strings.Contains(text, "timed out") || strings.Contains(text, "deadline exceeded"):
		return domain.ErrorTypeTimeout
	case strings.Contains(text, "rate limit") || strings.Contains(text, "too many requests"):
		return domain.ErrorTypeRateLimit
	case strings.Contains(text, "parse") || strings.Contains(text, "json") || strings.Contains(text, "unexpected token") || strings.Contains(text, "unmarshal"):
		return domain.ErrorTypeParseError
	case strings.Contains(text, "network") || strings.Contains(text, "fetch") || strings.Contains(text, "connection refused") || strings.Contains(text, "no such host"):
		return domain.ErrorTypeNetwork
	case strings.Contains(text, "graphql"):
		return domain.ErrorTypeGraphQL
	default:
		return domain.ErrorTypeUnknown
	}
}

// FailureReport is the raw material for a dead-letter entry: everything the
// caller knows about a scrape attempt that exhausted its retries.
type FailureReport struct {
	RetailerID      string
	BatchID         string
	Message         string
	StatusCode      *int
	Retries         int
	FirstAttemptAt  time.Time
	LastAttemptAt   time.Time
	ResponsePreview string
	SourcePlatform  string
}

// DeadLetterService records, deduplicates, and triages failed scrape attempts.
type DeadLetterService struct {
	entries      domain.DeadLetterRepository
	previewBytes int
	now          func() time.Time
}

// DeadLetterConfig holds configuration for the dead letter service.
type DeadLetterConfig struct {
	PreviewBytes int
}

// NewDeadLetterService creates a dead letter service.
func NewDeadLetterService(entries domain.DeadLetterRepository, config DeadLetterConfig) *DeadLetterService {
	previewBytes := config.PreviewBytes
	if previewBytes <= 0 {
		previewBytes = defaultPreviewBytes
	}
	return &DeadLetterService{
		entries:      entries,
		previewBytes: previewBytes,
		now:          time.Now,
	}
}

// truncatePreview caps the preview at max bytes, backing up to a rune
// boundary so the cut never leaves a broken multi-byte character behind.
func truncatePreview(preview string, max int) string {
	if len(preview) <= max {
		return preview
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(preview[cut]) {
		cut--
	}
	return preview[:cut]
}

// RecordFailure merges the report into the retailer's unresolved entry, or
// inserts a new one when none exists. Retry counts accumulate across reports;
// last error, classification, status, and preview overwrite. The merge has
// same-key atomicity: losing an insert race falls back to re-read and merge,
// and a version conflict on the update re-reads so no accumulation is lost.
func (s *DeadLetterService) RecordFailure(ctx context.Context, report FailureReport) (*domain.DeadLetterEntry, error) {
	if report.RetailerID == "" {
		return nil, domain.ErrInvalidRequest
	}

	attempts := report.Retries
	if attempts <= 0 {
		attempts = 1
	}
	lastAttemptAt := report.LastAttemptAt
	if lastAttemptAt.IsZero() {
		lastAttemptAt = s.now()
	}
	firstAttemptAt := report.FirstAttemptAt
	if firstAttemptAt.IsZero() {
		firstAttemptAt = lastAttemptAt
	}
	preview := truncatePreview(report.ResponsePreview, s.previewBytes)
	errorType := Classify(report.Message, report.StatusCode)

	for attempt := 0; ; attempt++ {
		entry, err := s.entries.GetUnresolvedByRetailer(ctx, report.RetailerID)
		if err == nil {
			entry.RetryCount += attempts
			entry.BatchID = report.BatchID
			entry.ErrorType = errorType
			entry.ErrorMessage = report.Message
			entry.StatusCode = report.StatusCode
			entry.ResponsePreview = preview
			if report.SourcePlatform != "" {
				entry.SourcePlatform = report.SourcePlatform
			}
			if lastAttemptAt.After(entry.LastAttemptAt) {
				entry.LastAttemptAt = lastAttemptAt
			}
			entry.UpdatedAt = s.now()
			if err := s.entries.Update(ctx, entry); err != nil {
				if errors.Is(err, domain.ErrConflict) && attempt < conflictRetries {
					continue
				}
				return nil, err
			}
			return entry, nil
		}
		if !errors.Is(err, domain.ErrEntryNotFound) {
			return nil, err
		}

		now := s.now()
		entry = &domain.DeadLetterEntry{
			ID:              uuid.NewString(),
			RetailerID:      report.RetailerID,
			BatchID:         report.BatchID,
			ErrorType:       errorType,
			ErrorMessage:    report.Message,
			StatusCode:      report.StatusCode,
			ResponsePreview: preview,
			SourcePlatform:  report.SourcePlatform,
			RetryCount:      attempts,
			FirstAttemptAt:  firstAttemptAt,
			LastAttemptAt:   lastAttemptAt,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		err = s.entries.Insert(ctx, entry)
		if err == nil {
			return entry, nil
		}
		if !errors.Is(err, domain.ErrConflict) || attempt >= conflictRetries {
			return nil, err
		}
		// another writer inserted the unresolved entry first; merge into it
	}
}

// Resolve stamps an entry terminal. The transition is one-way: resolving an
// already resolved entry fails with ErrEntryResolved.
func (s *DeadLetterService) Resolve(ctx context.Context, entryID, resolution, resolvedBy string) (*domain.DeadLetterEntry, error) {
	if entryID == "" || resolution == "" {
		return nil, domain.ErrInvalidRequest
	}

	for attempt := 0; ; attempt++ {
		entry, err := s.entries.GetByID(ctx, entryID)
		if err != nil {
			return nil, err
		}
		if entry.Resolved() {
			return nil, domain.ErrEntryResolved
		}

		now := s.now()
		entry.ResolvedAt = &now
		entry.Resolution = resolution
		entry.ResolvedBy = resolvedBy
		entry.UpdatedAt = now
		err = s.entries.Update(ctx, entry)
		if err == nil {
			return entry, nil
		}
		// a concurrent write moved the entry; re-read so a racing resolution
		// is seen as already terminal
		if !errors.Is(err, domain.ErrConflict) || attempt >= conflictRetries {
			return nil, err
		}
	}
}

// BulkResolveResult reports the per-entry outcome of a bulk resolve.
type BulkResolveResult struct {
	Resolved int               `json:"resolved"`
	Failed   map[string]string `json:"failed,omitempty"` // entry id -> reason
}

// BulkResolve applies Resolve to each id independently; one bad id does not
// abort the rest.
func (s *DeadLetterService) BulkResolve(ctx context.Context, entryIDs []string, resolution, resolvedBy string) (*BulkResolveResult, error) {
	if len(entryIDs) == 0 || resolution == "" {
		return nil, domain.ErrInvalidRequest
	}

	result := &BulkResolveResult{}
	for _, id := range entryIDs {
		if _, err := s.Resolve(ctx, id, resolution, resolvedBy); err != nil {
			if result.Failed == nil {
				result.Failed = make(map[string]string)
			}
			result.Failed[id] = err.Error()
			continue
		}
		result.Resolved++
	}
	return result, nil
}

// AddNote appends an operator note. Notes are the only mutation permitted on a
// terminal entry.
func (s *DeadLetterService) AddNote(ctx context.Context, entryID, note string) (*domain.DeadLetterEntry, error) {
	if entryID == "" || note == "" {
		return nil, domain.ErrInvalidRequest
	}

	for attempt := 0; ; attempt++ {
		entry, err := s.entries.GetByID(ctx, entryID)
		if err != nil {
			return nil, err
		}
		entry.Notes = append(entry.Notes, note)
		entry.UpdatedAt = s.now()
		err = s.entries.Update(ctx, entry)
		if err == nil {
			return entry, nil
		}
		if !errors.Is(err, domain.ErrConflict) || attempt >= conflictRetries {
			return nil, err
		}
	}
}

// ListUnresolved returns the open queue, optionally filtered by error type.
func (s *DeadLetterService) ListUnresolved(ctx context.Context, errorType domain.ErrorType) ([]*domain.DeadLetterEntry, error) {
	return s.entries.ListUnresolved(ctx, errorType)
}

// History returns every entry ever recorded for a retailer, resolved or not.
func (s *DeadLetterService) History(ctx context.Context, retailerID string) ([]*domain.DeadLetterEntry, error) {
	if retailerID == "" {
		return nil, domain.ErrInvalidRequest
	}
	return s.entries.ListByRetailer(ctx, retailerID)
}

// Stats aggregates the unresolved queue for operators.
func (s *DeadLetterService) Stats(ctx context.Context) (*domain.DeadLetterStats, error) {
	return s.entries.Stats(ctx)
}
