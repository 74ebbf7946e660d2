package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/ignite/mailgun-dsr-connector/internal/contextstore"
	"github.com/ignite/mailgun-dsr-connector/internal/pkg/distlock"
	"github.com/ignite/mailgun-dsr-connector/internal/pkg/httputil"
	"github.com/ignite/mailgun-dsr-connector/internal/pkg/logger"
	"github.com/ignite/mailgun-dsr-connector/internal/service/dsr"
)

// Connector is the DSR surface the handlers drive. *dsr.Service satisfies it.
type Connector interface {
	Seed(ctx context.Context, in dsr.SeedInput) error
	Access(ctx context.Context, identifier string) (*dsr.AccessResult, error)
	Erasure(ctx context.Context, identifier string, dict *dsr.ContextDict) (*dsr.ErasureReport, error)
}

// ContextStore persists context dictionaries between access and erasure.
type ContextStore interface {
	Save(ctx context.Context, requestID, identifier string, dict dsr.ContextDict) error
	Load(ctx context.Context, requestID, identifier string) (*dsr.ContextDict, error)
	Delete(ctx context.Context, requestID string) error
}

// AuditReader reads the audit trail of one subject. *postgres.AuditRepo
// satisfies it.
type AuditReader interface {
	ListByIdentifier(ctx context.Context, identifier string, limit int) ([]dsr.AuditEntry, error)
}

// Locker serializes erasures per subject.
type Locker interface {
	TryLock(ctx context.Context, key string) (func(context.Context) error, error)
}

// Handlers holds the HTTP handlers
type Handlers struct {
	svc      Connector
	contexts ContextStore
	locks    Locker
	audit    AuditReader
	health   *HealthChecker
}

// NewHandlers creates handlers around svc. The context store, lock and
// health checker are optional.
func NewHandlers(svc Connector) *Handlers {
	return &Handlers{svc: svc, health: NewHealthChecker(nil, nil, nil)}
}

// SetContextStore enables saving and loading context dictionaries by request ID
func (h *Handlers) SetContextStore(s ContextStore) { h.contexts = s }

// SetLocker enables per-identifier erasure locking
func (h *Handlers) SetLocker(l Locker) { h.locks = l }

// SetAuditReader enables GET /api/dsr/audit
func (h *Handlers) SetAuditReader(a AuditReader) { h.audit = a }

// SetHealthChecker replaces the readiness checker
func (h *Handlers) SetHealthChecker(hc *HealthChecker) { h.health = hc }

type seedRequest struct {
	Identifier  string `json:"identifier"`
	MailingList string `json:"mailing_list"`
}

type accessRequest struct {
	Identifier string `json:"identifier"`
}

type erasureRequest struct {
	Identifier  string           `json:"identifier"`
	ContextDict *dsr.ContextDict `json:"contextDict,omitempty"`
	RequestID   string           `json:"request_id,omitempty"`
}

// Seed handles POST /api/dsr/seed
func (h *Handlers) Seed(w http.ResponseWriter, r *http.Request) {
	var req seedRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	ctx := r.Context()
	err := h.svc.Seed(ctx, dsr.SeedInput{Identifier: req.Identifier, MailingList: req.MailingList})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.Accepted(w, map[string]string{"request_id": dsr.RequestIDFrom(ctx)})
}

// Access handles POST /api/dsr/access
func (h *Handlers) Access(w http.ResponseWriter, r *http.Request) {
	var req accessRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	ctx := r.Context()
	res, err := h.svc.Access(ctx, req.Identifier)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	if h.contexts != nil {
		if err := h.contexts.Save(ctx, res.RequestID, req.Identifier, res.ContextDict); err != nil {
			logger.Warn("api: saving context dictionary failed", "request_id", res.RequestID, "error", err)
		}
	}
	httputil.OK(w, res)
}

// Erasure handles POST /api/dsr/erasure. The context dictionary comes from
// the body, or from the store when only request_id is given.
func (h *Handlers) Erasure(w http.ResponseWriter, r *http.Request) {
	var req erasureRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	ctx := r.Context()
	if req.RequestID != "" {
		ctx = dsr.WithRequestID(ctx, req.RequestID)
		w.Header().Set(RequestIDHeader, req.RequestID)
	}
	if req.Identifier == "" {
		httputil.BadRequest(w, dsr.ErrIdentifierRequired.Error())
		return
	}

	dict := req.ContextDict
	stored := false
	if dict == nil && req.RequestID != "" && h.contexts != nil {
		loaded, err := h.contexts.Load(ctx, req.RequestID, req.Identifier)
		switch {
		case errors.Is(err, contextstore.ErrNotFound):
			logger.Info("api: no stored context for request", "request_id", req.RequestID)
		case errors.Is(err, contextstore.ErrIdentifierMismatch):
			httputil.BadRequest(w, err.Error())
			return
		case err != nil:
			httputil.InternalError(w, err)
			return
		default:
			dict = loaded
			stored = true
		}
	}

	if h.locks != nil {
		release, err := h.locks.TryLock(ctx, distlock.ErasureKey(dsr.HashIdentifier(req.Identifier)))
		if errors.Is(err, distlock.ErrHeld) {
			httputil.Conflict(w, "an erasure for this identifier is already running")
			return
		}
		if err != nil {
			httputil.InternalError(w, err)
			return
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("api: releasing erasure lock failed", "error", err)
			}
		}()
	}

	report, err := h.svc.Erasure(ctx, req.Identifier, dict)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	// a stored context is kept after a partial failure so the erasure can be
	// retried by request_id
	if stored && report.Failed == 0 {
		if err := h.contexts.Delete(ctx, req.RequestID); err != nil {
			logger.Warn("api: deleting context dictionary failed", "request_id", req.RequestID, "error", err)
		}
	}
	httputil.Accepted(w, report)
}

// Audit handles GET /api/dsr/audit?identifier=...&limit=...
func (h *Handlers) Audit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		httputil.Error(w, http.StatusNotFound, "not_configured", "audit trail is not enabled")
		return
	}
	identifier := r.URL.Query().Get("identifier")
	if identifier == "" {
		httputil.BadRequest(w, dsr.ErrIdentifierRequired.Error())
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			httputil.BadRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	entries, err := h.audit.ListByIdentifier(r.Context(), identifier, limit)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if entries == nil {
		entries = []dsr.AuditEntry{}
	}
	httputil.OK(w, map[string]interface{}{"entries": entries})
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]string{"status": "healthy"})
}

// Readiness handles GET /health/ready
func (h *Handlers) Readiness(w http.ResponseWriter, r *http.Request) {
	h.health.HandleReadiness(w, r)
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, dsr.ErrIdentifierRequired), errors.Is(err, dsr.ErrMailingListRequired):
		httputil.BadRequest(w, err.Error())
	case errors.Is(err, dsr.ErrProbeFailed):
		httputil.BadGateway(w, err.Error())
	default:
		httputil.InternalError(w, err)
	}
}
