package tracking

import "errors"

// Sentinel errors for the tracking service layer.
var (
	ErrNotFound          = errors.New("tracked email not found")
	ErrInvalidURL        = errors.New("redirect url must be absolute http or https")
	ErrInvalidEmailID    = errors.New("email id is required")
	ErrInvalidAttachment = errors.New("unknown attachment event kind")
)
