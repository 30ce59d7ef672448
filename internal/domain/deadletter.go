package domain

import "time"

// ErrorType classifies a failed scrape attempt.
type ErrorType string

const (
	ErrorTypeRateLimit   ErrorType = "rate_limit"
	ErrorTypeServerError ErrorType = "server_error"
	ErrorTypeAuthError   ErrorType = "auth_error"
	ErrorTypeNotFound    ErrorType = "not_found"
	ErrorTypeHTTPError   ErrorType = "http_error"
	ErrorTypeTimeout     ErrorType = "timeout"
	ErrorTypeParseError  ErrorType = "parse_error"
	ErrorTypeNetwork     ErrorType = "network_error"
	ErrorTypeGraphQL     ErrorType = "graphql_error"
	ErrorTypeUnknown     ErrorType = "unknown"
)

// DeadLetterEntry records a scrape attempt that exhausted its retries. At most
// one unresolved entry exists per retailer; repeated failures merge into it.
// A set ResolvedAt makes the entry terminal — after that only notes may be
// added.
type DeadLetterEntry struct {
	ID              string     `json:"id"`
	RetailerID      string     `json:"retailerId"`
	BatchID         string     `json:"batchId,omitempty"`
	ErrorType       ErrorType  `json:"errorType"`
	ErrorMessage    string     `json:"errorMessage"`
	StatusCode      *int       `json:"statusCode,omitempty"`
	ResponsePreview string     `json:"responsePreview,omitempty"`
	SourcePlatform  string     `json:"sourcePlatform,omitempty"`
	RetryCount      int        `json:"retryCount"`
	FirstAttemptAt  time.Time  `json:"firstAttemptAt"`
	LastAttemptAt   time.Time  `json:"lastAttemptAt"`
	ResolvedAt      *time.Time `json:"resolvedAt,omitempty"`
	Resolution      string     `json:"resolution,omitempty"`
	ResolvedBy      string     `json:"resolvedBy,omitempty"`
	Notes           []string   `json:"notes,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`

	// Version guards repository updates: the store bumps it on every write
	// and rejects an update carrying a stale value with ErrConflict.
	Version int64 `json:"-"`
}

// Resolved reports whether the entry is terminal.
func (e *DeadLetterEntry) Resolved() bool {
	return e.ResolvedAt != nil
}

// DeadLetterStats aggregates the unresolved queue for operators. The oldest
// unresolved LastAttemptAt doubles as a staleness signal.
type DeadLetterStats struct {
	TotalUnresolved    int               `json:"totalUnresolved"`
	ByErrorType        map[ErrorType]int `json:"byErrorType"`
	BySourcePlatform   map[string]int    `json:"bySourcePlatform"`
	OldestUnresolvedAt *time.Time        `json:"oldestUnresolvedAt,omitempty"`
}
