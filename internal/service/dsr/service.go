package dsr

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ignite/mailgun-dsr-connector/internal/config"
	"github.com/ignite/mailgun-dsr-connector/internal/mailgun"
	"github.com/ignite/mailgun-dsr-connector/internal/pkg/logger"
)

// Options tunes fan-out and failure handling.
type Options struct {
	// MaxConcurrency caps in-flight probe/remove calls. Zero or less means one
	// goroutine per list with no cap.
	MaxConcurrency int
	// ProbeFailurePolicy is config.ProbePolicyAbsent (transient probe failures
	// count as "not a member") or config.ProbePolicyFail (Access returns
	// ErrProbeFailed).
	ProbeFailurePolicy string
}

// OptionsFromConfig maps the mailgun config section onto service options
func OptionsFromConfig(cfg config.MailgunConfig) Options {
	return Options{
		MaxConcurrency:     cfg.MaxConcurrency,
		ProbeFailurePolicy: cfg.ProbeFailurePolicy,
	}
}

// Service implements the seed / access / erasure operations. It holds no
// per-request state and is safe for concurrent use.
type Service struct {
	lists    MailingLists
	opts     Options
	recorder Recorder
	archiver Archiver
	now      func() time.Time
}

// NewService creates a DSR service on top of the given mailing-list client.
func NewService(lists MailingLists, opts Options) *Service {
	if opts.ProbeFailurePolicy == "" {
		opts.ProbeFailurePolicy = config.ProbePolicyAbsent
	}
	return &Service{lists: lists, opts: opts, now: time.Now}
}

// SetRecorder enables the audit trail
func (s *Service) SetRecorder(r Recorder) { s.recorder = r }

// SetArchiver enables access-report archiving
func (s *Service) SetArchiver(a Archiver) { s.archiver = a }

// Seed enrolls the identifier onto one list. The outcome of the upstream call
// is logged, never returned; only invalid input is an error.
func (s *Service) Seed(ctx context.Context, in SeedInput) error {
	if strings.TrimSpace(in.Identifier) == "" {
		return ErrIdentifierRequired
	}
	if strings.TrimSpace(in.MailingList) == "" {
		return ErrMailingListRequired
	}
	requestID := RequestIDFrom(ctx)

	res := s.lists.AddMember(ctx, in.MailingList, in.Identifier)
	failures := 0
	if !res.OK() {
		failures = 1
		logger.Warn("dsr: seed failed",
			"request_id", requestID, "list", in.MailingList, "identifier", in.Identifier,
			"outcome", res.Outcome)
	}

	s.audit(ctx, requestID, OpSeed, in.Identifier, 1, failures)
	return nil
}

// Access returns every list on which the identifier is a confirmed, subscribed
// member. Lists whose probe failed are left out (or, under the "fail" policy,
// turn the call into ErrProbeFailed).
func (s *Service) Access(ctx context.Context, identifier string) (*AccessResult, error) {
	if strings.TrimSpace(identifier) == "" {
		return nil, ErrIdentifierRequired
	}
	requestID := RequestIDFrom(ctx)
	start := s.now()

	addresses := s.lists.ListAddresses(ctx)

	results := make([]mailgun.ProbeResult, len(addresses))
	s.fanOut(ctx, len(addresses), func(ctx context.Context, i int) {
		results[i] = s.lists.ProbeMember(ctx, addresses[i], identifier)
	})

	subscribed := make([]string, 0, len(addresses))
	transient := 0
	for _, r := range results {
		switch r.Outcome {
		case mailgun.OutcomeConfirmed:
			subscribed = append(subscribed, r.Address)
		case mailgun.OutcomeTransient:
			transient++
		}
	}

	logger.Info("dsr: access complete",
		"request_id", requestID, "identifier", identifier,
		"lists_checked", len(addresses), "subscribed", len(subscribed),
		"probe_failures", transient, "elapsed", s.now().Sub(start))

	s.audit(ctx, requestID, OpAccess, identifier, len(subscribed), transient)

	if transient > 0 && s.opts.ProbeFailurePolicy == config.ProbePolicyFail {
		return nil, fmt.Errorf("%w: %d of %d lists", ErrProbeFailed, transient, len(addresses))
	}

	result := &AccessResult{
		RequestID:   requestID,
		Data:        subscribed,
		ContextDict: ContextDict{MailingLists: append([]string{}, subscribed...)},
	}

	if s.archiver != nil {
		rec := AccessRecord{
			RequestID:      requestID,
			IdentifierHash: HashIdentifier(identifier),
			MailingLists:   subscribed,
			GeneratedAt:    s.now().UTC(),
		}
		if err := s.archiver.ArchiveAccess(ctx, rec); err != nil {
			logger.Warn("dsr: archiving access report failed", "request_id", requestID, "error", err)
		}
	}

	return result, nil
}

// Erasure removes the identifier from every list in dict. A nil or empty
// dict is a skipped erasure, not an error: this operation only follows an
// access call and does not look the lists up itself.
func (s *Service) Erasure(ctx context.Context, identifier string, dict *ContextDict) (*ErasureReport, error) {
	if strings.TrimSpace(identifier) == "" {
		return nil, ErrIdentifierRequired
	}
	requestID := RequestIDFrom(ctx)

	if dict == nil || len(dict.MailingLists) == 0 {
		logger.Info("dsr: context dictionary not received, erasure skipped",
			"request_id", requestID, "identifier", identifier)
		return &ErasureReport{RequestID: requestID, Skipped: true}, nil
	}

	lists := dict.MailingLists
	results := make([]mailgun.MutationResult, len(lists))
	s.fanOut(ctx, len(lists), func(ctx context.Context, i int) {
		results[i] = s.lists.RemoveMember(ctx, lists[i], identifier)
	})

	report := &ErasureReport{RequestID: requestID}
	for _, r := range results {
		if r.OK() {
			report.Removed++
			continue
		}
		report.Failed++
		report.FailedOn = append(report.FailedOn, r.Address)
		logger.Warn("dsr: removal may not have completed",
			"request_id", requestID, "list", r.Address, "identifier", identifier,
			"outcome", r.Outcome)
	}

	s.audit(ctx, requestID, OpErasure, identifier, len(lists), report.Failed)
	return report, nil
}

// fanOut runs fn once per index and waits for all of them. Each call must
// write only its own slot; results are folded after the join.
func (s *Service) fanOut(ctx context.Context, n int, fn func(ctx context.Context, i int)) {
	var g errgroup.Group
	if s.opts.MaxConcurrency > 0 {
		g.SetLimit(s.opts.MaxConcurrency)
	}
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			fn(ctx, i)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Service) audit(ctx context.Context, requestID, op, identifier string, lists, failures int) {
	if s.recorder == nil {
		return
	}
	entry := AuditEntry{
		RequestID:      requestID,
		Operation:      op,
		IdentifierHash: HashIdentifier(identifier),
		ListCount:      lists,
		FailureCount:   failures,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.recorder.Record(ctx, entry); err != nil {
		logger.Warn("dsr: audit record failed", "request_id", requestID, "operation", op, "error", err)
	}
}
