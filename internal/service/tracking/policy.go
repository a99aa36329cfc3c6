package tracking

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ignite/mail-tracker/internal/domain"
)

// Reason explains a classification outcome. It is logged and counted, never
// returned to the remote party.
type Reason string

const (
	ReasonAccepted         Reason = "accepted"
	ReasonAutomatedAgent   Reason = "automated_agent"
	ReasonLoopback         Reason = "loopback_address"
	ReasonShortUserAgent   Reason = "short_user_agent"
	ReasonTooSoonAfterSend Reason = "too_soon_after_send"
	ReasonDuplicate        Reason = "duplicate"
)

// Decision is the outcome of classifying one tracking request.
type Decision struct {
	Accept bool   `json:"accept"`
	Reason Reason `json:"reason"`
}

var accepted = Decision{Accept: true, Reason: ReasonAccepted}

func reject(r Reason) Decision { return Decision{Reason: r} }

// Default policy values.
const (
	DefaultMinUserAgentLength = 10
	DefaultSendGrace          = 5 * time.Second
	DefaultDedupWindow        = 30 * time.Second
)

// DefaultDenylist holds user-agent fragments that show up in automated
// fetchers and mail infrastructure but not in clients that render images
// for a person.
var DefaultDenylist = []string{
	"bot", "crawler", "spider", "scraper", "preview",
	"validator", "checker", "monitor", "scanner", "fetcher", "downloader",
	"mail", "client", "server", "daemon", "service",
}

// DefaultLoopbackAddresses are compared literally against the client address.
var DefaultLoopbackAddresses = []string{"127.0.0.1", "::1", "localhost"}

// Policy is the open-classification rule set. Rules run in a fixed order and
// the first one that fires decides:
//
//  1. user agent contains a Denylist entry (case-insensitive)
//  2. client address is one of LoopbackAddresses
//  3. user agent shorter than MinUserAgentLength characters
//  4. the email was sent less than SendGrace ago
//  5. an open for the same email and recipient landed within DedupWindow
type Policy struct {
	Denylist           []string
	LoopbackAddresses  []string
	MinUserAgentLength int
	SendGrace          time.Duration
	DedupWindow        time.Duration
}

// DefaultPolicy returns the policy used when config leaves values unset.
func DefaultPolicy() Policy {
	return Policy{
		Denylist:           append([]string(nil), DefaultDenylist...),
		LoopbackAddresses:  append([]string(nil), DefaultLoopbackAddresses...),
		MinUserAgentLength: DefaultMinUserAgentLength,
		SendGrace:          DefaultSendGrace,
		DedupWindow:        DefaultDedupWindow,
	}
}

// Screen evaluates the rules that need nothing but the request (1-3).
func (p Policy) Screen(userAgent, ipAddress string) Decision {
	if p.automatedAgent(userAgent) {
		return reject(ReasonAutomatedAgent)
	}
	if p.loopback(ipAddress) {
		return reject(ReasonLoopback)
	}
	if utf8.RuneCountInString(userAgent) < p.MinUserAgentLength {
		return reject(ReasonShortUserAgent)
	}
	return accepted
}

// Classify evaluates all five rules. email is the existing record, nil when
// the email has never been seen; recent is the newest prior open for the
// same email and recipient, nil when there is none. Classify has no side
// effects.
func (p Policy) Classify(req OpenRequest, email *domain.EmailRecord, recent *domain.OpenEvent, now time.Time) Decision {
	if d := p.Screen(req.UserAgent, req.IPAddress); !d.Accept {
		return d
	}
	if email != nil && !email.SentAt.IsZero() && now.Sub(email.SentAt) < p.SendGrace {
		return reject(ReasonTooSoonAfterSend)
	}
	if recent != nil && recent.EmailID == req.EmailID && recent.RecipientEmail == req.RecipientEmail &&
		now.Sub(recent.Timestamp) < p.DedupWindow {
		return reject(ReasonDuplicate)
	}
	return accepted
}

func (p Policy) automatedAgent(userAgent string) bool {
	ua := strings.ToLower(userAgent)
	for _, pattern := range p.Denylist {
		pattern = strings.ToLower(strings.TrimSpace(pattern))
		if pattern != "" && strings.Contains(ua, pattern) {
			return true
		}
	}
	return false
}

func (p Policy) loopback(ipAddress string) bool {
	addr := strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(ipAddress), "["), "]")
	if addr == "" {
		return false
	}
	for _, lb := range p.LoopbackAddresses {
		if strings.EqualFold(addr, lb) {
			return true
		}
	}
	return false
}
