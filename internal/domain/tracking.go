package domain

import "time"

// EmailStatus is informational; tracking never gates on it.
type EmailStatus string

const (
	StatusSent         EmailStatus = "sent"
	StatusOpened       EmailStatus = "opened"
	StatusClicked      EmailStatus = "clicked"
	StatusUnsubscribed EmailStatus = "unsubscribed"
)

// EmailRecord is the aggregate for one tracked outbound email. It is created
// either by the sending system or lazily on the first tracking hit.
type EmailRecord struct {
	ID                  string      `json:"id" db:"id"`
	SentAt              time.Time   `json:"sent_at" db:"sent_at"`
	Status              EmailStatus `json:"status" db:"status"`
	OpenCount           int64       `json:"open_count" db:"open_count"`
	ClickCount          int64       `json:"click_count" db:"click_count"`
	AttachmentDownloads int64       `json:"attachment_downloads" db:"attachment_downloads"`
	AttachmentOpens     int64       `json:"attachment_opens" db:"attachment_opens"`
	LastOpenedAt        *time.Time  `json:"last_opened_at,omitempty" db:"last_opened_at"`
	LastClickedAt       *time.Time  `json:"last_clicked_at,omitempty" db:"last_clicked_at"`
	RecipientEmail      string      `json:"recipient_email,omitempty" db:"recipient_email"`
	CreatedAt           time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time   `json:"updated_at" db:"updated_at"`
}

// OpenEvent is one accepted open. Immutable once written.
type OpenEvent struct {
	ID             string    `json:"id" db:"id"`
	EmailID        string    `json:"email_id" db:"email_id"`
	RecipientEmail string    `json:"recipient_email,omitempty" db:"recipient_email"`
	UserAgent      string    `json:"user_agent" db:"user_agent"`
	IPAddress      string    `json:"ip_address" db:"ip_address"`
	DeviceType     string    `json:"device_type,omitempty" db:"device_type"`
	Timestamp      time.Time `json:"timestamp" db:"opened_at"`
}

// ClickEvent is one recorded link click.
type ClickEvent struct {
	ID             string    `json:"id" db:"id"`
	EmailID        string    `json:"email_id" db:"email_id"`
	RecipientEmail string    `json:"recipient_email,omitempty" db:"recipient_email"`
	URL            string    `json:"url" db:"url"`
	UserAgent      string    `json:"user_agent" db:"user_agent"`
	IPAddress      string    `json:"ip_address" db:"ip_address"`
	DeviceType     string    `json:"device_type,omitempty" db:"device_type"`
	Timestamp      time.Time `json:"timestamp" db:"clicked_at"`
}

// AttachmentEventKind distinguishes downloads from in-client opens.
type AttachmentEventKind string

const (
	AttachmentDownload AttachmentEventKind = "download"
	AttachmentOpen     AttachmentEventKind = "open"
)

// Valid reports whether k is a known attachment event kind.
func (k AttachmentEventKind) Valid() bool {
	return k == AttachmentDownload || k == AttachmentOpen
}

// AttachmentEvent is one recorded attachment download or open.
type AttachmentEvent struct {
	ID             string              `json:"id" db:"id"`
	EmailID        string              `json:"email_id" db:"email_id"`
	RecipientEmail string              `json:"recipient_email,omitempty" db:"recipient_email"`
	Kind           AttachmentEventKind `json:"kind" db:"kind"`
	Filename       string              `json:"filename,omitempty" db:"filename"`
	UserAgent      string              `json:"user_agent" db:"user_agent"`
	IPAddress      string              `json:"ip_address" db:"ip_address"`
	Timestamp      time.Time           `json:"timestamp" db:"occurred_at"`
}
