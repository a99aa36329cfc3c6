package tracking

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/mail-tracker/internal/domain"
)

// Event kinds used when reporting decisions.
const (
	KindOpen       = "open"
	KindClick      = "click"
	KindAttachment = "attachment"
)

// OpenRequest is the metadata captured from one pixel fetch.
type OpenRequest struct {
	EmailID        string
	RecipientEmail string
	UserAgent      string
	IPAddress      string
}

// ClickRequest is the metadata captured from one tracked link click.
type ClickRequest struct {
	EmailID        string
	RecipientEmail string
	URL            string
	UserAgent      string
	IPAddress      string
}

// AttachmentRequest is the metadata captured from one attachment hit.
type AttachmentRequest struct {
	EmailID        string
	RecipientEmail string
	Kind           domain.AttachmentEventKind
	Filename       string
	UserAgent      string
	IPAddress      string
}

// RegisterRequest pre-registers an email before it is sent.
type RegisterRequest struct {
	ID             string    `json:"id"`
	RecipientEmail string    `json:"recipient_email"`
	SentAt         time.Time `json:"sent_at"`
}

// Observer receives classification outcomes and store failures.
type Observer interface {
	ObserveDecision(kind string, d Decision)
	ObserveStoreError(op string)
}

// Notifier is told about every accepted open. Implementations must not block.
type Notifier interface {
	NotifyOpen(ctx context.Context, evt domain.OpenEvent)
}

type nopObserver struct{}

func (nopObserver) ObserveDecision(string, Decision) {}
func (nopObserver) ObserveStoreError(string)         {}

// Service records engagement events behind the classification policy. It is
// safe for concurrent use and keeps no tracking state in memory.
type Service struct {
	repo     Repository
	policy   Policy
	observer Observer
	notifier Notifier
	now      func() time.Time
	newID    func() string
}

// Option configures a Service.
type Option func(*Service)

// WithObserver reports decisions and store errors to o.
func WithObserver(o Observer) Option {
	return func(s *Service) {
		if o != nil {
			s.observer = o
		}
	}
}

// WithNotifier forwards accepted opens to n.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator replaces the event id source.
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) { s.newID = gen }
}

// NewService creates a tracking service backed by repo and governed by policy.
func NewService(repo Repository, policy Policy, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		policy:   policy,
		observer: nopObserver{},
		now:      func() time.Time { return time.Now().UTC() },
		newID:    NewEventID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Policy returns the policy the service classifies with.
func (s *Service) Policy() Policy { return s.policy }

// NewEventID returns 16 random bytes, hex encoded.
func NewEventID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

// RecordOpen classifies one pixel fetch and, when accepted, records it.
// A rejected request is not an error. A store failure returns an error and
// nothing is recorded; callers still serve the pixel.
func (s *Service) RecordOpen(ctx context.Context, req OpenRequest) (Decision, error) {
	now := s.now()

	if d := s.policy.Screen(req.UserAgent, req.IPAddress); !d.Accept {
		s.observer.ObserveDecision(KindOpen, d)
		return d, nil
	}

	email, err := s.repo.FindEmail(ctx, req.EmailID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.observer.ObserveStoreError("find_email")
			return Decision{}, fmt.Errorf("find email: %w", err)
		}
		email = nil
	}
	if d := s.policy.Classify(req, email, nil, now); !d.Accept {
		s.observer.ObserveDecision(KindOpen, d)
		return d, nil
	}

	recent, err := s.repo.FindRecentOpen(ctx, req.EmailID, req.RecipientEmail, now.Add(-s.policy.DedupWindow))
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.observer.ObserveStoreError("find_recent_open")
			return Decision{}, fmt.Errorf("find recent open: %w", err)
		}
		recent = nil
	}
	d := s.policy.Classify(req, email, recent, now)
	s.observer.ObserveDecision(KindOpen, d)
	if !d.Accept {
		return d, nil
	}

	evt := domain.OpenEvent{
		ID:             s.newID(),
		EmailID:        req.EmailID,
		RecipientEmail: req.RecipientEmail,
		UserAgent:      req.UserAgent,
		IPAddress:      req.IPAddress,
		DeviceType:     DeviceType(req.UserAgent),
		Timestamp:      now,
	}
	if err := s.repo.RecordOpen(ctx, &evt); err != nil {
		s.observer.ObserveStoreError("record_open")
		return d, fmt.Errorf("record open: %w", err)
	}

	if s.notifier != nil {
		s.notifier.NotifyOpen(ctx, evt)
	}
	return d, nil
}

// RecordClick records a link click unless the request-only rules reject it.
// Clicks are not deduplicated and not gated on send time.
func (s *Service) RecordClick(ctx context.Context, req ClickRequest) (Decision, error) {
	if err := ValidateRedirectURL(req.URL); err != nil {
		return Decision{}, err
	}

	d := s.policy.Screen(req.UserAgent, req.IPAddress)
	s.observer.ObserveDecision(KindClick, d)
	if !d.Accept {
		return d, nil
	}

	evt := domain.ClickEvent{
		ID:             s.newID(),
		EmailID:        req.EmailID,
		RecipientEmail: req.RecipientEmail,
		URL:            req.URL,
		UserAgent:      req.UserAgent,
		IPAddress:      req.IPAddress,
		DeviceType:     DeviceType(req.UserAgent),
		Timestamp:      s.now(),
	}
	if err := s.repo.RecordClick(ctx, &evt); err != nil {
		s.observer.ObserveStoreError("record_click")
		return d, fmt.Errorf("record click: %w", err)
	}
	return d, nil
}

// RecordAttachment records an attachment download or open unless the
// request-only rules reject it.
func (s *Service) RecordAttachment(ctx context.Context, req AttachmentRequest) (Decision, error) {
	if !req.Kind.Valid() {
		return Decision{}, ErrInvalidAttachment
	}

	d := s.policy.Screen(req.UserAgent, req.IPAddress)
	s.observer.ObserveDecision(KindAttachment, d)
	if !d.Accept {
		return d, nil
	}

	evt := domain.AttachmentEvent{
		ID:             s.newID(),
		EmailID:        req.EmailID,
		RecipientEmail: req.RecipientEmail,
		Kind:           req.Kind,
		Filename:       req.Filename,
		UserAgent:      req.UserAgent,
		IPAddress:      req.IPAddress,
		Timestamp:      s.now(),
	}
	if err := s.repo.RecordAttachment(ctx, &evt); err != nil {
		s.observer.ObserveStoreError("record_attachment")
		return d, fmt.Errorf("record attachment: %w", err)
	}
	return d, nil
}

// RegisterEmail creates the record ahead of the first tracking hit so the
// send-time rule has a real sent_at to work with. Registering an id twice
// keeps the first sent_at; the bool reports whether a record was created.
func (s *Service) RegisterEmail(ctx context.Context, req RegisterRequest) (*domain.EmailRecord, bool, error) {
	id := strings.TrimSpace(req.ID)
	if id == "" {
		return nil, false, ErrInvalidEmailID
	}

	now := s.now()
	sentAt := req.SentAt.UTC()
	if req.SentAt.IsZero() {
		sentAt = now
	}
	rec := &domain.EmailRecord{
		ID:             id,
		SentAt:         sentAt,
		Status:         domain.StatusSent,
		RecipientEmail: req.RecipientEmail,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	created, err := s.repo.RegisterEmail(ctx, rec)
	if err != nil {
		s.observer.ObserveStoreError("register_email")
		return nil, false, fmt.Errorf("register email: %w", err)
	}
	stored, err := s.repo.FindEmail(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return stored, created, nil
}

// Unsubscribe marks the email as unsubscribed.
func (s *Service) Unsubscribe(ctx context.Context, emailID string) error {
	if err := s.repo.SetStatus(ctx, emailID, domain.StatusUnsubscribed, s.now()); err != nil {
		s.observer.ObserveStoreError("set_status")
		return fmt.Errorf("unsubscribe: %w", err)
	}
	return nil
}

// GetEmail returns the record for id, or ErrNotFound.
func (s *Service) GetEmail(ctx context.Context, id string) (*domain.EmailRecord, error) {
	return s.repo.FindEmail(ctx, id)
}

// ListEmails returns records changed since filter.Since for desktop sync.
func (s *Service) ListEmails(ctx context.Context, filter ListFilter) ([]domain.EmailRecord, int, error) {
	return s.repo.ListEmails(ctx, filter.Normalized())
}

// ListOpens returns the opens recorded for emailID.
func (s *Service) ListOpens(ctx context.Context, emailID string) ([]domain.OpenEvent, error) {
	return s.repo.ListOpens(ctx, emailID)
}

// ListClicks returns the clicks recorded for emailID.
func (s *Service) ListClicks(ctx context.Context, emailID string) ([]domain.ClickEvent, error) {
	return s.repo.ListClicks(ctx, emailID)
}

// ValidateRedirectURL accepts absolute http and https URLs only.
func ValidateRedirectURL(raw string) error {
	if raw == "" {
		return ErrInvalidURL
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ErrInvalidURL
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return nil
	default:
		return ErrInvalidURL
	}
}
