package tracking

import (
	"context"
	"time"

	"github.com/ignite/mail-tracker/internal/domain"
)

// Repository defines the data access contract for tracked email. It is the
// document store the classifier reads from and records into.
type Repository interface {
	// FindEmail returns the record for id, or ErrNotFound.
	FindEmail(ctx context.Context, id string) (*domain.EmailRecord, error)

	// FindRecentOpen returns the newest open for the (emailID, recipient)
	// pair with a timestamp at or after since, or ErrNotFound.
	FindRecentOpen(ctx context.Context, emailID, recipient string, since time.Time) (*domain.OpenEvent, error)

	// RecordOpen upserts the email record (sent_at = evt.Timestamp on first
	// sight), inserts evt, and increments open_count by one at the store.
	// last_opened_at and recipient_email are overwritten.
	RecordOpen(ctx context.Context, evt *domain.OpenEvent) error

	// RecordClick is RecordOpen for clicks: click_count and last_clicked_at.
	RecordClick(ctx context.Context, evt *domain.ClickEvent) error

	// RecordAttachment increments attachment_downloads or attachment_opens
	// depending on evt.Kind.
	RecordAttachment(ctx context.Context, evt *domain.AttachmentEvent) error

	// RegisterEmail inserts rec if no record with rec.ID exists and reports
	// whether it did. An existing record is left untouched so sent_at stays
	// immutable.
	RegisterEmail(ctx context.Context, rec *domain.EmailRecord) (bool, error)

	// SetStatus upserts the record and overwrites its status.
	SetStatus(ctx context.Context, id string, status domain.EmailStatus, at time.Time) error

	// ListEmails returns records updated at or after filter.Since, newest
	// first, plus the total matching count.
	ListEmails(ctx context.Context, filter ListFilter) ([]domain.EmailRecord, int, error)

	// ListOpens returns every open for emailID, oldest first.
	ListOpens(ctx context.Context, emailID string) ([]domain.OpenEvent, error)

	// ListClicks returns every click for emailID, oldest first.
	ListClicks(ctx context.Context, emailID string) ([]domain.ClickEvent, error)
}

// Listing page size bounds.
const (
	DefaultListLimit = 100
	MaxListLimit     = 500
)

// ListFilter controls pagination for the sync listing.
type ListFilter struct {
	Since  time.Time
	Limit  int
	Offset int
}

// Normalized returns f with Limit in (0, MaxListLimit] and Offset >= 0.
func (f ListFilter) Normalized() ListFilter {
	if f.Limit <= 0 || f.Limit > MaxListLimit {
		f.Limit = DefaultListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}
