package dsr

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Operation names used in audit records
const (
	OpSeed    = "seed"
	OpAccess  = "access"
	OpErasure = "erasure"
)

// SeedInput names the subject and the list to enroll it on
type SeedInput struct {
	Identifier  string `json:"identifier"`
	MailingList string `json:"mailing_list"`
}

// ContextDict is the caller-held state that carries the lists found by an
// access call into a later erasure call.
type ContextDict struct {
	MailingLists []string `json:"mailingLists"`
}

// AccessResult is returned by Access. Data and ContextDict.MailingLists hold
// the same addresses in separate slices.
type AccessResult struct {
	RequestID   string      `json:"request_id,omitempty"`
	Data        []string    `json:"data"`
	ContextDict ContextDict `json:"contextDict"`
}

// ErasureReport summarizes an erasure call
type ErasureReport struct {
	RequestID string   `json:"request_id,omitempty"`
	Skipped   bool     `json:"skipped"`
	Removed   int      `json:"removed"`
	Failed    int      `json:"failed"`
	FailedOn  []string `json:"failed_lists,omitempty"`
}

// AuditEntry is one row of the DSR audit trail. The identifier is only ever
// stored hashed.
type AuditEntry struct {
	RequestID      string    `json:"request_id"`
	Operation      string    `json:"operation"`
	IdentifierHash string    `json:"identifier_hash"`
	ListCount      int       `json:"list_count"`
	FailureCount   int       `json:"failure_count"`
	CreatedAt      time.Time `json:"created_at"`
}

// AccessRecord is the archived form of an access result
type AccessRecord struct {
	RequestID      string    `json:"request_id"`
	IdentifierHash string    `json:"identifier_hash"`
	MailingLists   []string  `json:"mailing_lists"`
	GeneratedAt    time.Time `json:"generated_at"`
}

// HashIdentifier returns the hex SHA-256 of the normalized identifier.
func HashIdentifier(identifier string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(identifier))))
	return hex.EncodeToString(sum[:])
}

type requestIDKey struct{}

// WithRequestID attaches a request ID to ctx
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFrom returns the request ID on ctx, or a new UUID when none is set.
func RequestIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.NewString()
}
