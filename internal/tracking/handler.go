// Package tracking serves the public tracking endpoints embedded in
// outbound email: the open pixel, click and attachment redirects and the
// unsubscribe page.
package tracking

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ignite/mail-tracker/internal/domain"
	"github.com/ignite/mail-tracker/internal/metrics"
	"github.com/ignite/mail-tracker/internal/pkg/logger"
	service "github.com/ignite/mail-tracker/internal/service/tracking"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 1x1 transparent GIF, 42 bytes.
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00,
	0x80, 0x00, 0x00, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0x21,
	0xf9, 0x04, 0x01, 0x00, 0x00, 0x00, 0x00, 0x2c, 0x00, 0x00,
	0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02, 0x01, 0x44,
	0x00, 0x3b,
}

// Recorder is the part of the tracking service the endpoints drive.
type Recorder interface {
	RecordOpen(ctx context.Context, req service.OpenRequest) (service.Decision, error)
	RecordClick(ctx context.Context, req service.ClickRequest) (service.Decision, error)
	RecordAttachment(ctx context.Context, req service.AttachmentRequest) (service.Decision, error)
	Unsubscribe(ctx context.Context, emailID string) error
}

type Handler struct {
	svc      Recorder
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
}

// NewHandler wires the endpoints to svc. m and gatherer may be nil; without
// a gatherer /metrics is not mounted.
func NewHandler(svc Recorder, m *metrics.Metrics, gatherer prometheus.Gatherer) *Handler {
	return &Handler{svc: svc, metrics: m, gatherer: gatherer}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/track/open/", h.HandleOpen)
	r.Get("/track/open/{emailID}", h.HandleOpen)
	r.Get("/track/click/{emailID}", h.HandleClick)
	r.Get("/track/attachment/{emailID}/download", h.HandleAttachmentDownload)
	r.Get("/track/attachment/{emailID}/open", h.HandleAttachmentOpen)
	r.Get("/unsubscribe/{emailID}", h.HandleUnsubscribe)
	r.Get("/health", h.HandleHealth)
	if h.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

// HandleOpen answers every request with the same pixel. Classification and
// storage outcomes only reach the logs.
func (h *Handler) HandleOpen(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	emailID := chi.URLParam(r, "emailID")
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("open handler panic", "email_id", emailID, "panic", rec)
		}
		servePixel(w)
		h.observe("open", start)
	}()

	req := service.OpenRequest{
		EmailID:        emailID,
		RecipientEmail: r.URL.Query().Get("r"),
		UserAgent:      r.UserAgent(),
		IPAddress:      realIP(r),
	}
	d, err := h.svc.RecordOpen(r.Context(), req)
	if err != nil {
		logger.Error("open not recorded", "email_id", emailID, "error", err)
		return
	}
	h.logDecision("open", emailID, req.RecipientEmail, req.IPAddress, d)
}

func (h *Handler) HandleClick(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer h.observe("click", start)

	emailID := chi.URLParam(r, "emailID")
	target := r.URL.Query().Get("url")
	if err := service.ValidateRedirectURL(target); err != nil {
		http.Error(w, "bad link", http.StatusBadRequest)
		return
	}

	req := service.ClickRequest{
		EmailID:        emailID,
		RecipientEmail: r.URL.Query().Get("r"),
		URL:            target,
		UserAgent:      r.UserAgent(),
		IPAddress:      realIP(r),
	}
	d, err := h.svc.RecordClick(r.Context(), req)
	if err != nil {
		logger.Error("click not recorded", "email_id", emailID, "error", err)
	} else {
		h.logDecision("click", emailID, req.RecipientEmail, req.IPAddress, d)
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (h *Handler) HandleAttachmentDownload(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer h.observe("attachment_download", start)

	emailID := chi.URLParam(r, "emailID")
	target := r.URL.Query().Get("url")
	if err := service.ValidateRedirectURL(target); err != nil {
		http.Error(w, "bad link", http.StatusBadRequest)
		return
	}

	h.recordAttachment(r, emailID, domain.AttachmentDownload)
	http.Redirect(w, r, target, http.StatusFound)
}

func (h *Handler) HandleAttachmentOpen(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	emailID := chi.URLParam(r, "emailID")
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("attachment handler panic", "email_id", emailID, "panic", rec)
		}
		servePixel(w)
		h.observe("attachment_open", start)
	}()

	h.recordAttachment(r, emailID, domain.AttachmentOpen)
}

func (h *Handler) recordAttachment(r *http.Request, emailID string, kind domain.AttachmentEventKind) {
	req := service.AttachmentRequest{
		EmailID:        emailID,
		RecipientEmail: r.URL.Query().Get("r"),
		Kind:           kind,
		Filename:       r.URL.Query().Get("name"),
		UserAgent:      r.UserAgent(),
		IPAddress:      realIP(r),
	}
	d, err := h.svc.RecordAttachment(r.Context(), req)
	if err != nil {
		logger.Error("attachment event not recorded", "email_id", emailID, "kind", kind, "error", err)
		return
	}
	h.logDecision("attachment_"+string(kind), emailID, req.RecipientEmail, req.IPAddress, d)
}

func (h *Handler) HandleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	emailID := chi.URLParam(r, "emailID")
	if err := h.svc.Unsubscribe(r.Context(), emailID); err != nil {
		logger.Error("unsubscribe not recorded", "email_id", emailID, "error", err)
	} else {
		logger.Info("unsubscribed", "email_id", emailID)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(`<!DOCTYPE html><html><body style="font-family:Arial,sans-serif;text-align:center;padding:50px;">
		<h1>You have been unsubscribed</h1>
		<p>You will no longer receive emails from us.</p>
	</body></html>`))
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func (h *Handler) logDecision(kind, emailID, recipient, ip string, d service.Decision) {
	if d.Accept {
		logger.Info(kind+" recorded", "email_id", emailID, "recipient", recipient, "ip", ip)
		return
	}
	logger.Debug(kind+" ignored", "email_id", emailID, "reason", d.Reason, "ip", ip)
}

func (h *Handler) observe(route string, start time.Time) {
	if h.metrics != nil {
		h.metrics.ObserveRequest(route, start)
	}
}

func servePixel(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.WriteHeader(http.StatusOK)
	w.Write(pixelGIF)
}

// realIP returns the first X-Forwarded-For hop, else X-Real-Ip, else the
// host part of RemoteAddr.
func realIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx >= 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return strings.TrimSpace(xri)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
