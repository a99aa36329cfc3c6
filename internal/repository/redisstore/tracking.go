// Package redisstore implements the tracking repository on Redis.
//
// Layout, under a configurable prefix:
//
//	{p}email:{id}        hash, one EmailRecord
//	{p}opens:{id}        zset of OpenEvent JSON scored by unix millis
//	{p}clicks:{id}       zset of ClickEvent JSON
//	{p}attachments:{id}  zset of AttachmentEvent JSON
//	{p}emails            zset of email ids scored by updated_at millis
//
// Each record operation is a single Lua script, so the upsert, the event
// insert and the counter increment land together.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ignite/mail-tracker/internal/domain"
	"github.com/ignite/mail-tracker/internal/service/tracking"
	"github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces every key the store writes.
const DefaultPrefix = "trk:"

// ensureEmail creates the hash on first sight. KEYS[1] is the hash,
// ARGV[1] id, ARGV[2] timestamp, ARGV[4] recipient.
const ensureEmail = `
if redis.call('EXISTS', KEYS[1]) == 0 then
  redis.call('HSET', KEYS[1], 'id', ARGV[1], 'sent_at', ARGV[2], 'status', 'sent',
    'open_count', '0', 'click_count', '0', 'attachment_downloads', '0', 'attachment_opens', '0',
    'recipient_email', ARGV[4], 'created_at', ARGV[2], 'updated_at', ARGV[2])
end
`

// recordScript: KEYS = email hash, event zset, index zset.
// ARGV = id, ts, score, recipient, counter field, last-at field,
// promote-to status, promote-from statuses (comma separated), event JSON.
var recordScript = redis.NewScript(ensureEmail + `
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[9])
local n = redis.call('HINCRBY', KEYS[1], ARGV[5], 1)
if ARGV[6] ~= '' then redis.call('HSET', KEYS[1], ARGV[6], ARGV[2]) end
if ARGV[4] ~= '' then redis.call('HSET', KEYS[1], 'recipient_email', ARGV[4]) end
if ARGV[7] ~= '' then
  local cur = redis.call('HGET', KEYS[1], 'status')
  for s in string.gmatch(ARGV[8], '[^,]+') do
    if s == cur then
      redis.call('HSET', KEYS[1], 'status', ARGV[7])
      break
    end
  end
end
redis.call('HSET', KEYS[1], 'updated_at', ARGV[2])
redis.call('ZADD', KEYS[3], ARGV[3], ARGV[1])
return n
`)

// registerScript: KEYS = email hash, index zset.
// ARGV = id, sent_at, status, recipient, created_at, score.
var registerScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], 'id', ARGV[1], 'sent_at', ARGV[2], 'status', ARGV[3],
  'open_count', '0', 'click_count', '0', 'attachment_downloads', '0', 'attachment_opens', '0',
  'recipient_email', ARGV[4], 'created_at', ARGV[5], 'updated_at', ARGV[5])
redis.call('ZADD', KEYS[2], ARGV[6], ARGV[1])
return 1
`)

// statusScript: KEYS = email hash, index zset. ARGV = id, ts, status,
// recipient (unused, kept for ensureEmail's argument positions), score.
var statusScript = redis.NewScript(ensureEmail + `
redis.call('HSET', KEYS[1], 'status', ARGV[3], 'updated_at', ARGV[2])
redis.call('ZADD', KEYS[2], ARGV[5], ARGV[1])
return 1
`)

// TrackingRepo implements tracking.Repository on Redis.
type TrackingRepo struct {
	client *redis.Client
	prefix string
}

var _ tracking.Repository = (*TrackingRepo)(nil)

// NewTrackingRepo creates a Redis-backed repository. An empty prefix means
// DefaultPrefix.
func NewTrackingRepo(client *redis.Client, prefix string) *TrackingRepo {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &TrackingRepo{client: client, prefix: prefix}
}

func (r *TrackingRepo) emailKey(id string) string       { return r.prefix + "email:" + id }
func (r *TrackingRepo) opensKey(id string) string       { return r.prefix + "opens:" + id }
func (r *TrackingRepo) clicksKey(id string) string      { return r.prefix + "clicks:" + id }
func (r *TrackingRepo) attachmentsKey(id string) string { return r.prefix + "attachments:" + id }
func (r *TrackingRepo) indexKey() string                { return r.prefix + "emails" }

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func score(t time.Time) string { return strconv.FormatInt(t.UnixMilli(), 10) }

func (r *TrackingRepo) FindEmail(ctx context.Context, id string) (*domain.EmailRecord, error) {
	fields, err := r.client.HGetAll(ctx, r.emailKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("find email: %w", err)
	}
	if len(fields) == 0 {
		return nil, tracking.ErrNotFound
	}
	return parseEmail(id, fields)
}

func parseEmail(id string, f map[string]string) (*domain.EmailRecord, error) {
	rec := &domain.EmailRecord{
		ID:             id,
		Status:         domain.EmailStatus(f["status"]),
		RecipientEmail: f["recipient_email"],
	}
	var err error
	if rec.SentAt, err = parseTime(f["sent_at"]); err != nil {
		return nil, fmt.Errorf("parse sent_at: %w", err)
	}
	if rec.CreatedAt, err = parseTime(f["created_at"]); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if rec.UpdatedAt, err = parseTime(f["updated_at"]); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	if rec.LastOpenedAt, err = parseOptionalTime(f["last_opened_at"]); err != nil {
		return nil, fmt.Errorf("parse last_opened_at: %w", err)
	}
	if rec.LastClickedAt, err = parseOptionalTime(f["last_clicked_at"]); err != nil {
		return nil, fmt.Errorf("parse last_clicked_at: %w", err)
	}
	counters := map[string]*int64{
		"open_count":           &rec.OpenCount,
		"click_count":          &rec.ClickCount,
		"attachment_downloads": &rec.AttachmentDownloads,
		"attachment_opens":     &rec.AttachmentOpens,
	}
	for field, dst := range counters {
		if v := f[field]; v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("parse %s: %w", field, err)
			}
			*dst = n
		}
	}
	return rec, nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

func parseOptionalTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *TrackingRepo) FindRecentOpen(ctx context.Context, emailID, recipient string, since time.Time) (*domain.OpenEvent, error) {
	members, err := r.client.ZRevRangeByScore(ctx, r.opensKey(emailID), &redis.ZRangeBy{
		Min: score(since),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("find recent open: %w", err)
	}
	for _, m := range members {
		var o domain.OpenEvent
		if err := json.Unmarshal([]byte(m), &o); err != nil {
			return nil, fmt.Errorf("decode open: %w", err)
		}
		if o.RecipientEmail == recipient && !o.Timestamp.Before(since) {
			return &o, nil
		}
	}
	return nil, tracking.ErrNotFound
}

func (r *TrackingRepo) record(ctx context.Context, emailID, recipient string, at time.Time, eventsKey string, event any,
	counter, lastField, promoteTo, promoteFrom string) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	keys := []string{r.emailKey(emailID), eventsKey, r.indexKey()}
	return recordScript.Run(ctx, r.client, keys,
		emailID, formatTime(at), score(at), recipient, counter, lastField, promoteTo, promoteFrom, string(body),
	).Err()
}

func (r *TrackingRepo) RecordOpen(ctx context.Context, evt *domain.OpenEvent) error {
	err := r.record(ctx, evt.EmailID, evt.RecipientEmail, evt.Timestamp, r.opensKey(evt.EmailID), evt,
		"open_count", "last_opened_at", string(domain.StatusOpened), string(domain.StatusSent))
	if err != nil {
		return fmt.Errorf("record open: %w", err)
	}
	return nil
}

func (r *TrackingRepo) RecordClick(ctx context.Context, evt *domain.ClickEvent) error {
	err := r.record(ctx, evt.EmailID, evt.RecipientEmail, evt.Timestamp, r.clicksKey(evt.EmailID), evt,
		"click_count", "last_clicked_at", string(domain.StatusClicked), string(domain.StatusSent)+","+string(domain.StatusOpened))
	if err != nil {
		return fmt.Errorf("record click: %w", err)
	}
	return nil
}

func (r *TrackingRepo) RecordAttachment(ctx context.Context, evt *domain.AttachmentEvent) error {
	counter := "attachment_downloads"
	if evt.Kind == domain.AttachmentOpen {
		counter = "attachment_opens"
	}
	err := r.record(ctx, evt.EmailID, evt.RecipientEmail, evt.Timestamp, r.attachmentsKey(evt.EmailID), evt,
		counter, "", "", "")
	if err != nil {
		return fmt.Errorf("record attachment: %w", err)
	}
	return nil
}

func (r *TrackingRepo) RegisterEmail(ctx context.Context, rec *domain.EmailRecord) (bool, error) {
	n, err := registerScript.Run(ctx, r.client, []string{r.emailKey(rec.ID), r.indexKey()},
		rec.ID, formatTime(rec.SentAt), string(rec.Status), rec.RecipientEmail, formatTime(rec.CreatedAt), score(rec.CreatedAt),
	).Int()
	if err != nil {
		return false, fmt.Errorf("register email: %w", err)
	}
	return n == 1, nil
}

func (r *TrackingRepo) SetStatus(ctx context.Context, id string, status domain.EmailStatus, at time.Time) error {
	err := statusScript.Run(ctx, r.client, []string{r.emailKey(id), r.indexKey()},
		id, formatTime(at), string(status), "", score(at),
	).Err()
	if err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	return nil
}

func (r *TrackingRepo) ListEmails(ctx context.Context, f tracking.ListFilter) ([]domain.EmailRecord, int, error) {
	lower := "-inf"
	if !f.Since.IsZero() {
		lower = score(f.Since)
	}
	total, err := r.client.ZCount(ctx, r.indexKey(), lower, "+inf").Result()
	if err != nil {
		return nil, 0, fmt.Errorf("count emails: %w", err)
	}

	ids, err := r.client.ZRevRangeByScore(ctx, r.indexKey(), &redis.ZRangeBy{
		Min:    lower,
		Max:    "+inf",
		Offset: int64(f.Offset),
		Count:  int64(f.Limit),
	}).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("list emails: %w", err)
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, r.emailKey(id))
	}
	if len(ids) > 0 {
		if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
			return nil, 0, fmt.Errorf("load emails: %w", err)
		}
	}

	out := make([]domain.EmailRecord, 0, len(ids))
	for i, id := range ids {
		fields := cmds[i].Val()
		if len(fields) == 0 {
			continue
		}
		rec, err := parseEmail(id, fields)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *rec)
	}
	return out, int(total), nil
}

func listEvents[T any](ctx context.Context, client *redis.Client, key string) ([]T, error) {
	members, err := client.ZRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(members))
	for _, m := range members {
		var v T
		if err := json.Unmarshal([]byte(m), &v); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		out = append(out, v)
	}
	return out, nil
}

func (r *TrackingRepo) ListOpens(ctx context.Context, emailID string) ([]domain.OpenEvent, error) {
	out, err := listEvents[domain.OpenEvent](ctx, r.client, r.opensKey(emailID))
	if err != nil {
		return nil, fmt.Errorf("list opens: %w", err)
	}
	return out, nil
}

func (r *TrackingRepo) ListClicks(ctx context.Context, emailID string) ([]domain.ClickEvent, error) {
	out, err := listEvents[domain.ClickEvent](ctx, r.client, r.clicksKey(emailID))
	if err != nil {
		return nil, fmt.Errorf("list clicks: %w", err)
	}
	return out, nil
}
