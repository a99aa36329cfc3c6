package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ignite/mail-tracker/internal/domain"
	"github.com/ignite/mail-tracker/internal/pkg/httputil"
	"github.com/ignite/mail-tracker/internal/service/tracking"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sentAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeService struct {
	emails     map[string]*domain.EmailRecord
	opens      map[string][]domain.OpenEvent
	clicks     map[string][]domain.ClickEvent
	lastFilter tracking.ListFilter
	err        error
}

func newFakeService() *fakeService {
	return &fakeService{
		emails: map[string]*domain.EmailRecord{},
		opens:  map[string][]domain.OpenEvent{},
		clicks: map[string][]domain.ClickEvent{},
	}
}

func (f *fakeService) RegisterEmail(_ context.Context, req tracking.RegisterRequest) (*domain.EmailRecord, bool, error) {
	if f.err != nil {
		return nil, false, f.err
	}
	if strings.TrimSpace(req.ID) == "" {
		return nil, false, tracking.ErrInvalidEmailID
	}
	if rec, ok := f.emails[req.ID]; ok {
		return rec, false, nil
	}
	rec := &domain.EmailRecord{ID: req.ID, SentAt: req.SentAt, Status: domain.StatusSent, RecipientEmail: req.RecipientEmail}
	f.emails[req.ID] = rec
	return rec, true, nil
}

func (f *fakeService) GetEmail(_ context.Context, id string) (*domain.EmailRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	rec, ok := f.emails[id]
	if !ok {
		return nil, tracking.ErrNotFound
	}
	return rec, nil
}

func (f *fakeService) ListEmails(_ context.Context, filter tracking.ListFilter) ([]domain.EmailRecord, int, error) {
	f.lastFilter = filter
	if f.err != nil {
		return nil, 0, f.err
	}
	var out []domain.EmailRecord
	for _, rec := range f.emails {
		out = append(out, *rec)
	}
	return out, len(out), nil
}

func (f *fakeService) ListOpens(_ context.Context, id string) ([]domain.OpenEvent, error) {
	return f.opens[id], f.err
}

func (f *fakeService) ListClicks(_ context.Context, id string) ([]domain.ClickEvent, error) {
	return f.clicks[id], f.err
}

func newTestRouter(svc EmailService, key string) http.Handler {
	root := chi.NewRouter()
	root.Mount("/api", SetupRoutes(NewHandlers(svc), Options{Key: key}))
	return root
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRegisterEmail(t *testing.T) {
	svc := newFakeService()
	h := newTestRouter(svc, "")

	rec := do(t, h, http.MethodPost, "/api/emails", `{"id":"e1","recipient_email":"r@example.com","sent_at":"2026-03-01T12:00:00Z"}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	var got domain.EmailRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "e1", got.ID)
	assert.True(t, got.SentAt.Equal(sentAt))
	assert.Equal(t, "r@example.com", got.RecipientEmail)
}

func TestRegisterEmail_ExistingIDAnswersOK(t *testing.T) {
	svc := newFakeService()
	h := newTestRouter(svc, "")

	rec := do(t, h, http.MethodPost, "/api/emails", `{"id":"e1","sent_at":"2026-03-01T12:00:00Z"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/emails", `{"id":"e1","sent_at":"2026-03-01T13:00:00Z"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var got domain.EmailRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got.SentAt.Equal(sentAt), "stored sent_at is returned unchanged")
}

func TestRegisterEmail_BadInput(t *testing.T) {
	h := newTestRouter(newFakeService(), "")

	rec := do(t, h, http.MethodPost, "/api/emails", `{"id":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/emails", `{"id":"  "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRegisterEmail_StoreErrorHidden(t *testing.T) {
	svc := newFakeService()
	svc.err = errors.New("pq: connection refused")
	h := newTestRouter(svc, "")

	rec := do(t, h, http.MethodPost, "/api/emails", `{"id":"e1"}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "pq:")
}

func TestGetEmail(t *testing.T) {
	svc := newFakeService()
	svc.emails["e1"] = &domain.EmailRecord{ID: "e1", OpenCount: 2, Status: domain.StatusOpened}
	h := newTestRouter(svc, "")

	rec := do(t, h, http.MethodGet, "/api/emails/e1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got domain.EmailRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, int64(2), got.OpenCount)

	rec = do(t, h, http.MethodGet, "/api/emails/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListEmails(t *testing.T) {
	svc := newFakeService()
	svc.emails["e1"] = &domain.EmailRecord{ID: "e1"}
	h := newTestRouter(svc, "")

	rec := do(t, h, http.MethodGet, "/api/emails?since=2026-03-01T12:00:00Z&limit=10&offset=5", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var page httputil.Page[domain.EmailRecord]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, 10, page.Limit)
	assert.Equal(t, 5, page.Offset)
	require.Len(t, page.Items, 1)
	assert.True(t, svc.lastFilter.Since.Equal(sentAt))
}

func TestListEmails_DefaultsAndEmpty(t *testing.T) {
	svc := newFakeService()
	h := newTestRouter(svc, "")

	rec := do(t, h, http.MethodGet, "/api/emails?limit=100000", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"items":[],"total":0,"limit":100,"offset":0}`, rec.Body.String())
	assert.Equal(t, tracking.DefaultListLimit, svc.lastFilter.Limit)
}

func TestListEmails_BadQuery(t *testing.T) {
	h := newTestRouter(newFakeService(), "")

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/emails?since=yesterday", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/emails?limit=ten", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/emails?offset=x", "").Code)
}

func TestListOpensAndClicks(t *testing.T) {
	svc := newFakeService()
	svc.emails["e1"] = &domain.EmailRecord{ID: "e1"}
	svc.opens["e1"] = []domain.OpenEvent{{ID: "o1", EmailID: "e1", DeviceType: "mobile"}}
	h := newTestRouter(svc, "")

	rec := do(t, h, http.MethodGet, "/api/emails/e1/opens", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var opens []domain.OpenEvent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &opens))
	require.Len(t, opens, 1)
	assert.Equal(t, "mobile", opens[0].DeviceType)

	rec = do(t, h, http.MethodGet, "/api/emails/e1/clicks", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/api/emails/missing/opens", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRequireKey(t *testing.T) {
	svc := newFakeService()
	svc.emails["e1"] = &domain.EmailRecord{ID: "e1"}
	h := newTestRouter(svc, "s3cret")

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong", "Bearer nope", http.StatusUnauthorized},
		{"wrong scheme", "Basic s3cret", http.StatusUnauthorized},
		{"valid", "Bearer s3cret", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/emails/e1", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	h := newTestRouter(newFakeService(), "s3cret")

	req := httptest.NewRequest(http.MethodOptions, "/api/emails", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEqual(t, http.StatusUnauthorized, rec.Code)
}
