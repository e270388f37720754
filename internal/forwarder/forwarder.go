package forwarder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/treyvum/smsgate/internal/domain"
	"github.com/treyvum/smsgate/internal/logging"
	"github.com/treyvum/smsgate/internal/sms"
)

const (
	callbackKeyPrefix = "status:callback:"
	callbackTTL       = 7 * 24 * time.Hour
	httpClientTimeout = 10 * time.Second
)

var (
	_ sms.StatusNotifier    = (*Forwarder)(nil)
	_ sms.CallbackRegistrar = (*Forwarder)(nil)
)

// Forwarder pushes terminal message statuses to tenant callback endpoints.
// Callback URLs are remembered in redis keyed by message id, so a status
// can still be forwarded when the receipt arrives long after submission.
type Forwarder struct {
	redisClient *redis.Client
	httpClient  *http.Client
	backoff     []time.Duration
}

func New(redisClient *redis.Client) *Forwarder {
	return &Forwarder{
		redisClient: redisClient,
		httpClient:  &http.Client{Timeout: httpClientTimeout},
		backoff: []time.Duration{
			time.Second, 5 * time.Second, 15 * time.Second,
			30 * time.Second, time.Minute,
		},
	}
}

// RememberCallback stores the message's callback URL with a TTL covering
// the longest receipt delays carriers produce in practice.
func (f *Forwarder) RememberCallback(ctx context.Context, messageID, callbackURL string) error {
	if callbackURL == "" {
		return nil
	}
	if err := f.redisClient.Set(ctx, callbackKeyPrefix+messageID, callbackURL, callbackTTL).Err(); err != nil {
		return fmt.Errorf("forwarder: store callback mapping: %w", err)
	}
	return nil
}

// statusWebhook is the payload posted to the tenant's endpoint.
type statusWebhook struct {
	MessageID   string `json:"message_id"`
	TenantID    string `json:"tenant_id"`
	Status      string `json:"status"`
	ErrorCode   string `json:"error_code,omitempty"`
	Assumed     bool   `json:"assumed,omitempty"`
	DeliveredAt string `json:"delivered_at,omitempty"`
	Timestamp   string `json:"timestamp"`
}

// NotifyStatus forwards the message's terminal status to its callback URL,
// retrying in the background. Messages without a callback are skipped.
func (f *Forwarder) NotifyStatus(ctx context.Context, msg *domain.Message) {
	logCtx := logging.ContextWithTenantID(ctx, msg.TenantID)
	logCtx = logging.ContextWithMessageID(logCtx, msg.ID)

	url := f.callbackFor(logCtx, msg)
	if url == "" {
		slog.DebugContext(logCtx, "no callback url for message, skipping status forward")
		return
	}

	hook := statusWebhook{
		MessageID: msg.ID,
		TenantID:  msg.TenantID,
		Status:    msg.Status,
		ErrorCode: msg.ErrorCode,
		Assumed:   msg.AssumedFinal,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if msg.DeliveredAt != nil {
		hook.DeliveredAt = msg.DeliveredAt.UTC().Format(time.RFC3339)
	}

	// Detached from the caller: a slow tenant endpoint must not hold up
	// receipt processing.
	go f.forwardWithRetry(context.WithoutCancel(logCtx), url, hook)
}

func (f *Forwarder) callbackFor(ctx context.Context, msg *domain.Message) string {
	if msg.CallbackURL != "" {
		return msg.CallbackURL
	}
	if f.redisClient == nil {
		return ""
	}
	url, err := f.redisClient.Get(ctx, callbackKeyPrefix+msg.ID).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.WarnContext(ctx, "callback mapping lookup failed", slog.Any("error", err))
		}
		return ""
	}
	return url
}

func (f *Forwarder) forwardWithRetry(ctx context.Context, url string, hook statusWebhook) {
	// One initial attempt plus one retry per backoff step.
	for attempt := 0; attempt <= len(f.backoff); attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(f.backoff[attempt-1]):
			}
		}

		if err := f.forward(ctx, url, hook); err != nil {
			slog.WarnContext(ctx, "status forward attempt failed",
				slog.Int("attempt", attempt+1),
				slog.String("callback_url", url),
				slog.Any("error", err))
			continue
		}

		slog.InfoContext(ctx, "status forwarded",
			slog.String("status", hook.Status), slog.Int("attempt", attempt+1))
		return
	}
	slog.ErrorContext(ctx, "all status forward attempts failed",
		slog.String("callback_url", url))
}

func (f *Forwarder) forward(ctx context.Context, url string, hook statusWebhook) error {
	payload, err := json.Marshal(hook)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "smsgate-status/1.0")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return fmt.Errorf("callback endpoint returned status %d", resp.StatusCode)
}
