package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/beloyal-club/BudAlert-sub003/internal/domain"
	"github.com/beloyal-club/BudAlert-sub003/internal/infrastructure/storage"
)

func newDeadLetterFixture() (*DeadLetterService, *storage.MemoryStore) {
	store := storage.NewMemoryStore()
	return NewDeadLetterService(store.DeadLetters(), DeadLetterConfig{}), store
}

func intp(n int) *int { return &n }

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		message    string
		statusCode *int
		want       domain.ErrorType
	}{
		{name: "429 is rate limit", message: "anything", statusCode: intp(429), want: domain.ErrorTypeRateLimit},
		{name: "500 is server error", message: "", statusCode: intp(500), want: domain.ErrorTypeServerError},
		{name: "503 is server error", message: "", statusCode: intp(503), want: domain.ErrorTypeServerError},
		{name: "401 is auth error", message: "", statusCode: intp(401), want: domain.ErrorTypeAuthError},
		{name: "403 is auth error", message: "", statusCode: intp(403), want: domain.ErrorTypeAuthError},
		{name: "404 is not found", message: "", statusCode: intp(404), want: domain.ErrorTypeNotFound},
		{name: "418 is generic http error", message: "", statusCode: intp(418), want: domain.ErrorTypeHTTPError},
		{name: "status wins over message", message: "timeout while fetching", statusCode: intp(500), want: domain.ErrorTypeServerError},
		{name: "timeout text", message: "request timed out after 30s", want: domain.ErrorTypeTimeout},
		{name: "deadline exceeded text", message: "context deadline exceeded", want: domain.ErrorTypeTimeout},
		{name: "rate limit text", message: "too many requests, slow down", want: domain.ErrorTypeRateLimit},
		{name: "parse text", message: "unexpected token < in JSON", want: domain.ErrorTypeParseError},
		{name: "network text", message: "fetch failed: connection refused", want: domain.ErrorTypeNetwork},
		{name: "graphql text", message: "graphql query returned errors", want: domain.ErrorTypeGraphQL},
		{name: "timeout beats parse when both match", message: "timeout while parsing JSON", want: domain.ErrorTypeTimeout},
		{name: "nothing matches", message: "mystery failure", want: domain.ErrorTypeUnknown},
		{name: "empty message", message: "", want: domain.ErrorTypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.message, tt.statusCode); got != tt.want {
				t.Errorf("Classify(%q, %v) = %q, want %q", tt.message, tt.statusCode, got, tt.want)
			}
		})
	}
}

func TestRecordFailureInsertsEntry(t *testing.T) {
	svc, _ := newDeadLetterFixture()
	first := time.Now().UTC().Add(-10 * time.Minute)
	last := time.Now().UTC()

	entry, err := svc.RecordFailure(context.Background(), FailureReport{
		RetailerID:      "ret-1",
		BatchID:         "batch-1",
		Message:         "dispensary API returned 429",
		StatusCode:      intp(429),
		Retries:         3,
		FirstAttemptAt:  first,
		LastAttemptAt:   last,
		ResponsePreview: "slow down",
		SourcePlatform:  "dutchie",
	})
	if err != nil {
		t.Fatalf("RecordFailure() error = %v", err)
	}

	if entry.ErrorType != domain.ErrorTypeRateLimit {
		t.Errorf("ErrorType = %q, want rate_limit", entry.ErrorType)
	}
	if entry.RetryCount != 3 {
		t.Errorf("RetryCount = %d, want 3", entry.RetryCount)
	}
	if entry.Resolved() {
		t.Error("new entry must start unresolved")
	}
	if !entry.FirstAttemptAt.Equal(first) || !entry.LastAttemptAt.Equal(last) {
		t.Errorf("attempt window = %v..%v, want %v..%v", entry.FirstAttemptAt, entry.LastAttemptAt, first, last)
	}
}

func TestRecordFailureMergesIntoUnresolvedEntry(t *testing.T) {
	svc, store := newDeadLetterFixture()
	ctx := context.Background()

	first, err := svc.RecordFailure(ctx, FailureReport{
		RetailerID: "ret-1",
		Message:    "request timed out",
		Retries:    2,
	})
	if err != nil {
		t.Fatalf("first RecordFailure() error = %v", err)
	}

	second, err := svc.RecordFailure(ctx, FailureReport{
		RetailerID: "ret-1",
		Message:    "dispensary API returned 500",
		StatusCode: intp(500),
		Retries:    3,
	})
	if err != nil {
		t.Fatalf("second RecordFailure() error = %v", err)
	}

	if second.ID != first.ID {
		t.Errorf("merge created a second entry: %q vs %q", second.ID, first.ID)
	}
	if second.RetryCount != 5 {
		t.Errorf("RetryCount = %d, want 5 (2+3 accumulated)", second.RetryCount)
	}
	if second.ErrorType != domain.ErrorTypeServerError {
		t.Errorf("ErrorType = %q, want server_error (latest classification wins)", second.ErrorType)
	}

	unresolved, _ := store.DeadLetters().ListUnresolved(ctx, "")
	if len(unresolved) != 1 {
		t.Errorf("unresolved count = %d, want 1 per retailer", len(unresolved))
	}
}

// contendedDeadLetters slips a competing action between a caller's read and
// its guarded update, once.
type contendedDeadLetters struct {
	domain.DeadLetterRepository
	compete func()
}

func (r *contendedDeadLetters) Update(ctx context.Context, entry *domain.DeadLetterEntry) error {
	if r.compete != nil {
		compete := r.compete
		r.compete = nil
		compete()
	}
	return r.DeadLetterRepository.Update(ctx, entry)
}

func TestRecordFailureMergeRetriesOverCompetingWriter(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()

	background := NewDeadLetterService(store.DeadLetters(), DeadLetterConfig{})
	if _, err := background.RecordFailure(ctx, FailureReport{
		RetailerID: "ret-1",
		Message:    "request timed out",
		Retries:    2,
	}); err != nil {
		t.Fatalf("seed RecordFailure() error = %v", err)
	}

	// another reporter merges 3 more retries in while this one sits between
	// its read and its update
	entries := &contendedDeadLetters{
		DeadLetterRepository: store.DeadLetters(),
		compete: func() {
			if _, err := background.RecordFailure(ctx, FailureReport{
				RetailerID: "ret-1",
				Message:    "request timed out",
				Retries:    3,
			}); err != nil {
				t.Fatalf("competing RecordFailure() error = %v", err)
			}
		},
	}
	svc := NewDeadLetterService(entries, DeadLetterConfig{})

	entry, err := svc.RecordFailure(ctx, FailureReport{
		RetailerID: "ret-1",
		Message:    "dispensary API returned 500",
		StatusCode: intp(500),
		Retries:    4,
	})
	if err != nil {
		t.Fatalf("RecordFailure() error = %v", err)
	}

	if entry.RetryCount != 9 {
		t.Errorf("RetryCount = %d, want 9 (2+3+4, nothing lost to the race)", entry.RetryCount)
	}
	if entry.ErrorType != domain.ErrorTypeServerError {
		t.Errorf("ErrorType = %q, want server_error", entry.ErrorType)
	}
}

func TestResolveLosingRaceToResolutionReportsResolved(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()

	background := NewDeadLetterService(store.DeadLetters(), DeadLetterConfig{})
	seeded, err := background.RecordFailure(ctx, FailureReport{RetailerID: "ret-1", Message: "mystery failure"})
	if err != nil {
		t.Fatalf("RecordFailure() error = %v", err)
	}

	entries := &contendedDeadLetters{
		DeadLetterRepository: store.DeadLetters(),
		compete: func() {
			if _, err := background.Resolve(ctx, seeded.ID, "fixed by the other operator", "ops-a"); err != nil {
				t.Fatalf("competing Resolve() error = %v", err)
			}
		},
	}
	svc := NewDeadLetterService(entries, DeadLetterConfig{})

	if _, err := svc.Resolve(ctx, seeded.ID, "duplicate resolution", "ops-b"); !errors.Is(err, domain.ErrEntryResolved) {
		t.Errorf("Resolve() error = %v, want ErrEntryResolved after losing the race", err)
	}

	final, err := store.DeadLetters().GetByID(ctx, seeded.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if final.Resolution != "fixed by the other operator" {
		t.Errorf("Resolution = %q, want the first resolution preserved", final.Resolution)
	}
}

func TestRecordFailureCountsReportWithoutRetriesAsOne(t *testing.T) {
	svc, _ := newDeadLetterFixture()

	entry, err := svc.RecordFailure(context.Background(), FailureReport{
		RetailerID: "ret-1",
		Message:    "mystery failure",
	})
	if err != nil {
		t.Fatalf("RecordFailure() error = %v", err)
	}
	if entry.RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1", entry.RetryCount)
	}
}

func TestRecordFailureTruncatesPreview(t *testing.T) {
	store := storage.NewMemoryStore()
	svc := NewDeadLetterService(store.DeadLetters(), DeadLetterConfig{PreviewBytes: 10})

	entry, err := svc.RecordFailure(context.Background(), FailureReport{
		RetailerID:      "ret-1",
		Message:         "mystery failure",
		ResponsePreview: strings.Repeat("x", 100),
	})
	if err != nil {
		t.Fatalf("RecordFailure() error = %v", err)
	}
	if len(entry.ResponsePreview) != 10 {
		t.Errorf("preview length = %d, want 10", len(entry.ResponsePreview))
	}
}

func TestRecordFailureTruncatesPreviewOnRuneBoundary(t *testing.T) {
	store := storage.NewMemoryStore()
	svc := NewDeadLetterService(store.DeadLetters(), DeadLetterConfig{PreviewBytes: 4})

	// "é" is two bytes; a byte-count cut at 4 would land mid-rune
	entry, err := svc.RecordFailure(context.Background(), FailureReport{
		RetailerID:      "ret-1",
		Message:         "mystery failure",
		ResponsePreview: "abcété",
	})
	if err != nil {
		t.Fatalf("RecordFailure() error = %v", err)
	}
	if entry.ResponsePreview != "abc" {
		t.Errorf("preview = %q, want %q", entry.ResponsePreview, "abc")
	}
	if !utf8.ValidString(entry.ResponsePreview) {
		t.Errorf("preview %q is not valid UTF-8", entry.ResponsePreview)
	}
}

func TestResolveIsOneWay(t *testing.T) {
	svc, _ := newDeadLetterFixture()
	ctx := context.Background()

	entry, err := svc.RecordFailure(ctx, FailureReport{RetailerID: "ret-1", Message: "mystery failure"})
	if err != nil {
		t.Fatalf("RecordFailure() error = %v", err)
	}

	resolved, err := svc.Resolve(ctx, entry.ID, "retailer switched menu platforms", "ops@example.com")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !resolved.Resolved() {
		t.Error("entry not marked resolved")
	}
	if resolved.Resolution != "retailer switched menu platforms" {
		t.Errorf("Resolution = %q", resolved.Resolution)
	}

	if _, err := svc.Resolve(ctx, entry.ID, "again", "ops@example.com"); !errors.Is(err, domain.ErrEntryResolved) {
		t.Errorf("second Resolve() error = %v, want ErrEntryResolved", err)
	}
}

func TestResolveFreesRetailerForNewEntries(t *testing.T) {
	svc, store := newDeadLetterFixture()
	ctx := context.Background()

	entry, _ := svc.RecordFailure(ctx, FailureReport{RetailerID: "ret-1", Message: "mystery failure"})
	if _, err := svc.Resolve(ctx, entry.ID, "fixed upstream", ""); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	fresh, err := svc.RecordFailure(ctx, FailureReport{RetailerID: "ret-1", Message: "request timed out"})
	if err != nil {
		t.Fatalf("RecordFailure() after resolve error = %v", err)
	}
	if fresh.ID == entry.ID {
		t.Error("failure after resolution must open a new entry")
	}

	history, _ := store.DeadLetters().ListByRetailer(ctx, "ret-1")
	if len(history) != 2 {
		t.Errorf("history length = %d, want 2", len(history))
	}
}

func TestBulkResolveReportsPerEntryFailures(t *testing.T) {
	svc, _ := newDeadLetterFixture()
	ctx := context.Background()

	a, _ := svc.RecordFailure(ctx, FailureReport{RetailerID: "ret-1", Message: "mystery failure"})
	b, _ := svc.RecordFailure(ctx, FailureReport{RetailerID: "ret-2", Message: "mystery failure"})

	result, err := svc.BulkResolve(ctx, []string{a.ID, b.ID, "missing"}, "bulk cleanup", "ops")
	if err != nil {
		t.Fatalf("BulkResolve() error = %v", err)
	}
	if result.Resolved != 2 {
		t.Errorf("Resolved = %d, want 2", result.Resolved)
	}
	if len(result.Failed) != 1 || result.Failed["missing"] == "" {
		t.Errorf("Failed = %v, want the missing id reported", result.Failed)
	}
}

func TestAddNoteAllowedAfterResolution(t *testing.T) {
	svc, _ := newDeadLetterFixture()
	ctx := context.Background()

	entry, _ := svc.RecordFailure(ctx, FailureReport{RetailerID: "ret-1", Message: "mystery failure"})
	if _, err := svc.Resolve(ctx, entry.ID, "fixed", ""); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	noted, err := svc.AddNote(ctx, entry.ID, "confirmed fixed after next scrape")
	if err != nil {
		t.Fatalf("AddNote() error = %v", err)
	}
	if len(noted.Notes) != 1 || noted.Notes[0] != "confirmed fixed after next scrape" {
		t.Errorf("Notes = %v", noted.Notes)
	}
}

func TestStats(t *testing.T) {
	svc, _ := newDeadLetterFixture()
	ctx := context.Background()

	older := time.Now().UTC().Add(-2 * time.Hour)
	if _, err := svc.RecordFailure(ctx, FailureReport{
		RetailerID:     "ret-1",
		Message:        "request timed out",
		LastAttemptAt:  older,
		SourcePlatform: "dutchie",
	}); err != nil {
		t.Fatalf("RecordFailure() error = %v", err)
	}
	if _, err := svc.RecordFailure(ctx, FailureReport{
		RetailerID:     "ret-2",
		Message:        "dispensary API returned 429",
		StatusCode:     intp(429),
		SourcePlatform: "jane",
	}); err != nil {
		t.Fatalf("RecordFailure() error = %v", err)
	}

	stats, err := svc.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.TotalUnresolved != 2 {
		t.Errorf("TotalUnresolved = %d, want 2", stats.TotalUnresolved)
	}
	if stats.ByErrorType[domain.ErrorTypeTimeout] != 1 || stats.ByErrorType[domain.ErrorTypeRateLimit] != 1 {
		t.Errorf("ByErrorType = %v", stats.ByErrorType)
	}
	if stats.BySourcePlatform["dutchie"] != 1 || stats.BySourcePlatform["jane"] != 1 {
		t.Errorf("BySourcePlatform = %v", stats.BySourcePlatform)
	}
	if stats.OldestUnresolvedAt == nil || !stats.OldestUnresolvedAt.Equal(older) {
		t.Errorf("OldestUnresolvedAt = %v, want %v", stats.OldestUnresolvedAt, older)
	}
}
