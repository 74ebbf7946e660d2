package dsr

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ignite/mailgun-dsr-connector/internal/config"
	"github.com/ignite/mailgun-dsr-connector/internal/mailgun"
)

// mockLists is an in-memory MailingLists. probe/remove outcomes default to
// membership in the members map; overrides force a specific outcome per list.
type mockLists struct {
	mu         sync.Mutex
	addresses  []string
	members    map[string]map[string]bool // list -> identifier -> subscribed
	probeOver  map[string]mailgun.Outcome
	mutateOver map[string]mailgun.Outcome
	added      []string
	removed    []string
	probes     int
	listCalls  int

	delay    time.Duration
	inFlight int32
	peak     int32
}

func newMockLists(addresses ...string) *mockLists {
	return &mockLists{
		addresses:  addresses,
		members:    make(map[string]map[string]bool),
		probeOver:  make(map[string]mailgun.Outcome),
		mutateOver: make(map[string]mailgun.Outcome),
	}
}

func (m *mockLists) subscribe(list, identifier string, subscribed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.members[list] == nil {
		m.members[list] = make(map[string]bool)
	}
	m.members[list][identifier] = subscribed
}

func (m *mockLists) enter() {
	n := atomic.AddInt32(&m.inFlight, 1)
	for {
		p := atomic.LoadInt32(&m.peak)
		if n <= p || atomic.CompareAndSwapInt32(&m.peak, p, n) {
			break
		}
	}
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
}

func (m *mockLists) leave() { atomic.AddInt32(&m.inFlight, -1) }

func (m *mockLists) ListAddresses(ctx context.Context) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	return append([]string{}, m.addresses...)
}

func (m *mockLists) ProbeMember(ctx context.Context, address, identifier string) mailgun.ProbeResult {
	m.enter()
	defer m.leave()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.probes++
	if o, ok := m.probeOver[address]; ok {
		return mailgun.ProbeResult{Address: address, Outcome: o}
	}
	if subscribed, ok := m.members[address][identifier]; ok && subscribed {
		return mailgun.ProbeResult{Address: address, Outcome: mailgun.OutcomeConfirmed}
	}
	return mailgun.ProbeResult{Address: address, Outcome: mailgun.OutcomeNotFound}
}

func (m *mockLists) AddMember(ctx context.Context, address, identifier string) mailgun.MutationResult {
	m.mu.Lock()
	m.added = append(m.added, address)
	m.mu.Unlock()
	if o, ok := m.mutateOver[address]; ok {
		return mailgun.MutationResult{Address: address, Outcome: o}
	}
	m.subscribe(address, identifier, true)
	return mailgun.MutationResult{Address: address, Outcome: mailgun.OutcomeConfirmed}
}

func (m *mockLists) RemoveMember(ctx context.Context, address, identifier string) mailgun.MutationResult {
	m.enter()
	defer m.leave()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.removed = append(m.removed, address)
	if o, ok := m.mutateOver[address]; ok {
		return mailgun.MutationResult{Address: address, Outcome: o}
	}
	if _, ok := m.members[address][identifier]; !ok {
		return mailgun.MutationResult{Address: address, Outcome: mailgun.OutcomeNotFound}
	}
	delete(m.members[address], identifier)
	return mailgun.MutationResult{Address: address, Outcome: mailgun.OutcomeConfirmed}
}

type memRecorder struct {
	mu      sync.Mutex
	entries []AuditEntry
	err     error
}

func (r *memRecorder) Record(ctx context.Context, e AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return r.err
}

type memArchiver struct {
	records []AccessRecord
	err     error
}

func (a *memArchiver) ArchiveAccess(ctx context.Context, rec AccessRecord) error {
	a.records = append(a.records, rec)
	return a.err
}

const subject = "jane@example.com"

func TestSeed_EnrollsOnList(t *testing.T) {
	lists := newMockLists("news@mg.example.com")
	rec := &memRecorder{}
	svc := NewService(lists, Options{})
	svc.SetRecorder(rec)

	err := svc.Seed(context.Background(), SeedInput{Identifier: subject, MailingList: "news@mg.example.com"})
	if err != nil {
		t.Fatalf("Seed returned error: %v", err)
	}
	if !lists.members["news@mg.example.com"][subject] {
		t.Error("expected subject to be subscribed after seed")
	}
	if len(rec.entries) != 1 || rec.entries[0].Operation != OpSeed {
		t.Fatalf("expected one seed audit entry, got %+v", rec.entries)
	}
	if rec.entries[0].IdentifierHash != HashIdentifier(subject) {
		t.Error("audit entry should carry the hashed identifier")
	}
}

func TestSeed_UpstreamFailureIsNotAnError(t *testing.T) {
	lists := newMockLists()
	lists.mutateOver["broken@mg.example.com"] = mailgun.OutcomeTransient
	rec := &memRecorder{}
	svc := NewService(lists, Options{})
	svc.SetRecorder(rec)

	err := svc.Seed(context.Background(), SeedInput{Identifier: subject, MailingList: "broken@mg.example.com"})
	if err != nil {
		t.Fatalf("Seed should swallow upstream failure, got %v", err)
	}
	if len(rec.entries) != 1 || rec.entries[0].FailureCount != 1 {
		t.Errorf("expected failure recorded in audit, got %+v", rec.entries)
	}
}

func TestSeed_Validation(t *testing.T) {
	svc := NewService(newMockLists(), Options{})

	tests := []struct {
		name  string
		input SeedInput
		want  error
	}{
		{"missing identifier", SeedInput{MailingList: "a@mg"}, ErrIdentifierRequired},
		{"blank identifier", SeedInput{Identifier: "  ", MailingList: "a@mg"}, ErrIdentifierRequired},
		{"missing list", SeedInput{Identifier: subject}, ErrMailingListRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := svc.Seed(context.Background(), tt.input); !errors.Is(err, tt.want) {
				t.Errorf("Seed() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestAccess_ReturnsSubscribedListsInOrder(t *testing.T) {
	lists := newMockLists("a@mg", "b@mg", "c@mg", "d@mg")
	lists.subscribe("b@mg", subject, true)
	lists.subscribe("c@mg", subject, false) // unsubscribed member is not reported
	lists.subscribe("d@mg", subject, true)
	lists.subscribe("a@mg", "someone-else@example.com", true)

	svc := NewService(lists, Options{MaxConcurrency: 2})
	res, err := svc.Access(context.Background(), subject)
	if err != nil {
		t.Fatalf("Access returned error: %v", err)
	}

	want := []string{"b@mg", "d@mg"}
	if !equal(res.Data, want) {
		t.Errorf("Data = %v, want %v", res.Data, want)
	}
	if !equal(res.ContextDict.MailingLists, want) {
		t.Errorf("ContextDict.MailingLists = %v, want %v", res.ContextDict.MailingLists, want)
	}
	if lists.probes != 4 {
		t.Errorf("expected one probe per list, got %d", lists.probes)
	}

	// Data and ContextDict must not alias
	res.Data[0] = "mutated"
	if res.ContextDict.MailingLists[0] != "b@mg" {
		t.Error("Data and ContextDict share backing storage")
	}
}

func TestAccess_NoListsGivesEmptyResult(t *testing.T) {
	svc := NewService(newMockLists(), Options{})

	res, err := svc.Access(context.Background(), subject)
	if err != nil {
		t.Fatalf("Access returned error: %v", err)
	}
	if res.Data == nil {
		t.Error("Data should be an empty slice, not nil")
	}
	if len(res.Data) != 0 || len(res.ContextDict.MailingLists) != 0 {
		t.Errorf("expected empty result, got %+v", res)
	}
}

func TestAccess_EmptyResultSerializesEmptyLists(t *testing.T) {
	svc := NewService(newMockLists("a@mg"), Options{})

	res, err := svc.Access(WithRequestID(context.Background(), "req-1"), subject)
	if err != nil {
		t.Fatalf("Access returned error: %v", err)
	}
	body, err := json.Marshal(res)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"request_id":"req-1","data":[],"contextDict":{"mailingLists":[]}}`
	if string(body) != want {
		t.Errorf("body = %s, want %s", body, want)
	}
}

func TestAccess_TransientProbeTreatedAsAbsent(t *testing.T) {
	lists := newMockLists("a@mg", "b@mg")
	lists.subscribe("a@mg", subject, true)
	lists.subscribe("b@mg", subject, true)
	lists.probeOver["b@mg"] = mailgun.OutcomeTransient

	svc := NewService(lists, Options{})
	res, err := svc.Access(context.Background(), subject)
	if err != nil {
		t.Fatalf("Access returned error: %v", err)
	}
	if !equal(res.Data, []string{"a@mg"}) {
		t.Errorf("Data = %v, want [a@mg]", res.Data)
	}
}

func TestAccess_FailPolicySurfacesProbeFailure(t *testing.T) {
	lists := newMockLists("a@mg", "b@mg")
	lists.subscribe("a@mg", subject, true)
	lists.probeOver["b@mg"] = mailgun.OutcomeTransient

	svc := NewService(lists, Options{ProbeFailurePolicy: config.ProbePolicyFail})
	res, err := svc.Access(context.Background(), subject)
	if !errors.Is(err, ErrProbeFailed) {
		t.Fatalf("expected ErrProbeFailed, got %v", err)
	}
	if res != nil {
		t.Errorf("expected nil result on failure, got %+v", res)
	}
}

func TestAccess_FailPolicyIgnoresNotFound(t *testing.T) {
	lists := newMockLists("a@mg", "b@mg")
	lists.subscribe("a@mg", subject, true)

	svc := NewService(lists, Options{ProbeFailurePolicy: config.ProbePolicyFail})
	res, err := svc.Access(context.Background(), subject)
	if err != nil {
		t.Fatalf("NotFound should not trip the fail policy: %v", err)
	}
	if !equal(res.Data, []string{"a@mg"}) {
		t.Errorf("Data = %v, want [a@mg]", res.Data)
	}
}

func TestAccess_RequiresIdentifier(t *testing.T) {
	lists := newMockLists("a@mg")
	svc := NewService(lists, Options{})

	if _, err := svc.Access(context.Background(), ""); !errors.Is(err, ErrIdentifierRequired) {
		t.Errorf("expected ErrIdentifierRequired, got %v", err)
	}
	if lists.listCalls != 0 {
		t.Error("no upstream calls expected for invalid input")
	}
}

func TestAccess_RespectsConcurrencyLimit(t *testing.T) {
	addrs := make([]string, 12)
	for i := range addrs {
		addrs[i] = string(rune('a'+i)) + "@mg"
	}
	lists := newMockLists(addrs...)
	lists.delay = 10 * time.Millisecond

	svc := NewService(lists, Options{MaxConcurrency: 3})
	if _, err := svc.Access(context.Background(), subject); err != nil {
		t.Fatalf("Access returned error: %v", err)
	}
	if peak := atomic.LoadInt32(&lists.peak); peak > 3 {
		t.Errorf("peak concurrency = %d, want <= 3", peak)
	}
	if lists.probes != len(addrs) {
		t.Errorf("probes = %d, want %d", lists.probes, len(addrs))
	}
}

func TestAccess_ArchivesAndAudits(t *testing.T) {
	lists := newMockLists("a@mg")
	lists.subscribe("a@mg", subject, true)
	rec := &memRecorder{err: errors.New("db down")}
	arch := &memArchiver{}

	svc := NewService(lists, Options{})
	svc.SetRecorder(rec)
	svc.SetArchiver(arch)

	ctx := WithRequestID(context.Background(), "req-42")
	res, err := svc.Access(ctx, subject)
	if err != nil {
		t.Fatalf("audit failure must not fail Access: %v", err)
	}
	if res.RequestID != "req-42" {
		t.Errorf("RequestID = %q, want req-42", res.RequestID)
	}
	if len(arch.records) != 1 {
		t.Fatalf("expected one archived record, got %d", len(arch.records))
	}
	if arch.records[0].IdentifierHash != HashIdentifier(subject) || arch.records[0].RequestID != "req-42" {
		t.Errorf("unexpected archive record %+v", arch.records[0])
	}
	if len(rec.entries) != 1 || rec.entries[0].ListCount != 1 {
		t.Errorf("unexpected audit entries %+v", rec.entries)
	}
}

func TestErasure_RemovesFromEveryContextList(t *testing.T) {
	lists := newMockLists()
	lists.subscribe("a@mg", subject, true)
	lists.subscribe("b@mg", subject, true)

	svc := NewService(lists, Options{})
	report, err := svc.Erasure(context.Background(), subject, &ContextDict{MailingLists: []string{"a@mg", "b@mg"}})
	if err != nil {
		t.Fatalf("Erasure returned error: %v", err)
	}
	if report.Skipped || report.Removed != 2 || report.Failed != 0 {
		t.Errorf("unexpected report %+v", report)
	}
	removed := append([]string{}, lists.removed...)
	sort.Strings(removed)
	if !equal(removed, []string{"a@mg", "b@mg"}) {
		t.Errorf("removed = %v", removed)
	}
	if lists.listCalls != 0 {
		t.Error("erasure must not enumerate lists")
	}
}

func TestErasure_MissingContextSkips(t *testing.T) {
	tests := []struct {
		name string
		dict *ContextDict
	}{
		{"nil context", nil},
		{"empty lists", &ContextDict{}},
		{"zero length lists", &ContextDict{MailingLists: []string{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lists := newMockLists("a@mg")
			svc := NewService(lists, Options{})

			report, err := svc.Erasure(context.Background(), subject, tt.dict)
			if err != nil {
				t.Fatalf("Erasure returned error: %v", err)
			}
			if !report.Skipped || report.Removed != 0 {
				t.Errorf("expected skipped report, got %+v", report)
			}
			if len(lists.removed) != 0 || lists.listCalls != 0 {
				t.Error("no upstream calls expected without a context")
			}
		})
	}
}

func TestErasure_PartialFailureIsReported(t *testing.T) {
	lists := newMockLists()
	lists.subscribe("a@mg", subject, true)
	lists.subscribe("b@mg", subject, true)
	lists.subscribe("c@mg", subject, true)
	lists.mutateOver["b@mg"] = mailgun.OutcomeTransient

	svc := NewService(lists, Options{MaxConcurrency: 1})
	report, err := svc.Erasure(context.Background(), subject, &ContextDict{MailingLists: []string{"a@mg", "b@mg", "c@mg"}})
	if err != nil {
		t.Fatalf("partial failure must not be an error: %v", err)
	}
	if report.Removed != 2 || report.Failed != 1 {
		t.Errorf("unexpected report %+v", report)
	}
	if !equal(report.FailedOn, []string{"b@mg"}) {
		t.Errorf("FailedOn = %v, want [b@mg]", report.FailedOn)
	}
	if len(lists.removed) != 3 {
		t.Errorf("every list should be attempted, got %v", lists.removed)
	}
}

func TestErasure_AlreadyAbsentCountsAsFailedRemoval(t *testing.T) {
	lists := newMockLists()
	svc := NewService(lists, Options{})

	report, err := svc.Erasure(context.Background(), subject, &ContextDict{MailingLists: []string{"gone@mg"}})
	if err != nil {
		t.Fatalf("Erasure returned error: %v", err)
	}
	if report.Removed != 0 || report.Failed != 1 {
		t.Errorf("unexpected report %+v", report)
	}
}

func TestErasure_AccessThenErase(t *testing.T) {
	lists := newMockLists("a@mg", "b@mg", "c@mg")
	lists.subscribe("a@mg", subject, true)
	lists.subscribe("c@mg", subject, true)

	svc := NewService(lists, Options{})
	ctx := context.Background()

	res, err := svc.Access(ctx, subject)
	if err != nil {
		t.Fatalf("Access: %v", err)
	}
	report, err := svc.Erasure(ctx, subject, &res.ContextDict)
	if err != nil {
		t.Fatalf("Erasure: %v", err)
	}
	if report.Removed != 2 {
		t.Errorf("Removed = %d, want 2", report.Removed)
	}

	res, err = svc.Access(ctx, subject)
	if err != nil {
		t.Fatalf("Access: %v", err)
	}
	if len(res.Data) != 0 {
		t.Errorf("expected no memberships after erasure, got %v", res.Data)
	}
}

func TestHashIdentifier_Normalizes(t *testing.T) {
	if HashIdentifier(" Jane@Example.com ") != HashIdentifier(subject) {
		t.Error("hash should ignore case and surrounding whitespace")
	}
	if len(HashIdentifier(subject)) != 64 {
		t.Error("expected hex sha256")
	}
}

func TestRequestIDFrom(t *testing.T) {
	if got := RequestIDFrom(WithRequestID(context.Background(), "abc")); got != "abc" {
		t.Errorf("RequestIDFrom = %q, want abc", got)
	}
	a := RequestIDFrom(context.Background())
	b := RequestIDFrom(context.Background())
	if a == "" || a == b {
		t.Errorf("expected fresh ids, got %q and %q", a, b)
	}
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
