package dsr

import (
	"context"

	"github.com/ignite/mailgun-dsr-connector/internal/mailgun"
)

// MailingLists is the upstream surface the service needs. *mailgun.Client
// satisfies it.
type MailingLists interface {
	// ListAddresses returns every list address, best effort.
	ListAddresses(ctx context.Context) []string

	// ProbeMember reports whether identifier is a subscribed member of address.
	ProbeMember(ctx context.Context, address, identifier string) mailgun.ProbeResult

	// AddMember upserts identifier onto address.
	AddMember(ctx context.Context, address, identifier string) mailgun.MutationResult

	// RemoveMember deletes identifier from address.
	RemoveMember(ctx context.Context, address, identifier string) mailgun.MutationResult
}

// Recorder persists an audit trail of DSR operations.
type Recorder interface {
	Record(ctx context.Context, entry AuditEntry) error
}

// Archiver stores a copy of each access report.
type Archiver interface {
	ArchiveAccess(ctx context.Context, rec AccessRecord) error
}
