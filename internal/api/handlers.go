package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ignite/mail-tracker/internal/domain"
	"github.com/ignite/mail-tracker/internal/pkg/httputil"
	"github.com/ignite/mail-tracker/internal/service/tracking"
)

// EmailService is the read and registration side of the tracking service.
type EmailService interface {
	RegisterEmail(ctx context.Context, req tracking.RegisterRequest) (*domain.EmailRecord, bool, error)
	GetEmail(ctx context.Context, id string) (*domain.EmailRecord, error)
	ListEmails(ctx context.Context, filter tracking.ListFilter) ([]domain.EmailRecord, int, error)
	ListOpens(ctx context.Context, emailID string) ([]domain.OpenEvent, error)
	ListClicks(ctx context.Context, emailID string) ([]domain.ClickEvent, error)
}

// Handlers serves the sync API.
type Handlers struct {
	svc EmailService
}

func NewHandlers(svc EmailService) *Handlers {
	return &Handlers{svc: svc}
}

// RegisterEmail handles POST /api/emails. The call is idempotent: a new
// record answers 201, an id that already exists answers 200 with the stored
// record unchanged.
func (h *Handlers) RegisterEmail(w http.ResponseWriter, r *http.Request) {
	var req tracking.RegisterRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	rec, created, err := h.svc.RegisterEmail(r.Context(), req)
	if errors.Is(err, tracking.ErrInvalidEmailID) {
		httputil.BadRequest(w, "id is required")
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if !created {
		httputil.OK(w, rec)
		return
	}
	httputil.Created(w, rec)
}

// ListEmails handles GET /api/emails?since=&limit=&offset=.
func (h *Handlers) ListEmails(w http.ResponseWriter, r *http.Request) {
	var filter tracking.ListFilter
	if raw := r.URL.Query().Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httputil.BadRequest(w, "since must be RFC 3339")
			return
		}
		filter.Since = since
	}
	var ok bool
	if filter.Limit, ok = httputil.QueryInt(w, r, "limit", tracking.DefaultListLimit); !ok {
		return
	}
	if filter.Offset, ok = httputil.QueryInt(w, r, "offset", 0); !ok {
		return
	}
	filter = filter.Normalized()

	emails, total, err := h.svc.ListEmails(r.Context(), filter)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if emails == nil {
		emails = []domain.EmailRecord{}
	}
	httputil.OK(w, httputil.Page[domain.EmailRecord]{
		Items:  emails,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	})
}

// GetEmail handles GET /api/emails/{id}.
func (h *Handlers) GetEmail(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.findEmail(w, r)
	if !ok {
		return
	}
	httputil.OK(w, rec)
}

// ListOpens handles GET /api/emails/{id}/opens.
func (h *Handlers) ListOpens(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.findEmail(w, r)
	if !ok {
		return
	}
	opens, err := h.svc.ListOpens(r.Context(), rec.ID)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if opens == nil {
		opens = []domain.OpenEvent{}
	}
	httputil.OK(w, opens)
}

// ListClicks handles GET /api/emails/{id}/clicks.
func (h *Handlers) ListClicks(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.findEmail(w, r)
	if !ok {
		return
	}
	clicks, err := h.svc.ListClicks(r.Context(), rec.ID)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if clicks == nil {
		clicks = []domain.ClickEvent{}
	}
	httputil.OK(w, clicks)
}

func (h *Handlers) findEmail(w http.ResponseWriter, r *http.Request) (*domain.EmailRecord, bool) {
	rec, err := h.svc.GetEmail(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, tracking.ErrNotFound) {
		httputil.NotFound(w, "email not found")
		return nil, false
	}
	if err != nil {
		httputil.InternalError(w, err)
		return nil, false
	}
	return rec, true
}
