package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/treyvum/smsgate/internal/domain"
	"github.com/treyvum/smsgate/internal/logging"
	"github.com/treyvum/smsgate/pkg/codes"
)

var _ Channel = (*HTTPChannel)(nil)

// httpSendRequest is the payload posted to an HTTP carrier API.
type httpSendRequest struct {
	To          string `json:"to"`
	Message     string `json:"message"`
	SenderID    string `json:"sender_id"`
	CallbackURL string `json:"callback_url,omitempty"`
}

// httpSendResponse is the carrier's acknowledgement.
type httpSendResponse struct {
	MessageID string `json:"message_id"`
}

// HTTPChannel submits messages to an HTTP carrier API. The provider handles
// segmentation itself, so a message maps to a single request regardless of
// length. These routes typically run with receipts disabled and rely on the
// timeout escalator for a final status.
type HTTPChannel struct {
	cfg    domain.TenantChannelConfig
	client *http.Client
}

func NewHTTPChannel(cfg domain.TenantChannelConfig) *HTTPChannel {
	return &HTTPChannel{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.HTTP.Timeout},
	}
}

func (c *HTTPChannel) Kind() string { return codes.ChannelKindHTTP }

func (c *HTTPChannel) Submit(ctx context.Context, msg *domain.Message) (domain.SubmitOutcome, error) {
	logCtx := logging.ContextWithTenantID(ctx, c.cfg.TenantID)
	logCtx = logging.ContextWithChannelName(logCtx, c.cfg.Name)
	logCtx = logging.ContextWithMessageID(logCtx, msg.ID)

	payload, err := json.Marshal(httpSendRequest{
		To:          msg.Recipient,
		Message:     msg.Body,
		SenderID:    msg.SenderID,
		CallbackURL: msg.CallbackURL,
	})
	if err != nil {
		return domain.Failure(codes.ErrorCodeSystemError, err.Error()), nil
	}

	url := c.cfg.HTTP.BaseURL + "/messages"
	req, err := http.NewRequestWithContext(logCtx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return domain.Failure(codes.ErrorCodeSystemError, err.Error()), nil
	}
	req.Header.Set("X-API-KEY", c.cfg.HTTP.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return domain.Failure(codes.ErrorCodeConnRejected, err.Error()), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		desc := fmt.Sprintf("carrier API returned status %d", resp.StatusCode)
		slog.WarnContext(logCtx, "http submission rejected", slog.Int("status", resp.StatusCode))
		return domain.Failure(codes.ErrorCodeCarrierReject, desc), nil
	}

	var ack httpSendResponse
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return domain.Failure(codes.ErrorCodeSystemError,
			fmt.Sprintf("decode carrier response: %v", err)), nil
	}

	slog.InfoContext(logCtx, "message submitted via http carrier",
		slog.String("carrier_message_id", ack.MessageID))
	return domain.SubmitOutcome{Success: true, CorrelationIDs: []string{ack.MessageID}}, nil
}

// Healthy probes the carrier's health endpoint with a short budget.
func (c *HTTPChannel) Healthy(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, c.cfg.HTTP.BaseURL+"/health", nil)
	if err != nil {
		return false
	}
	req.Header.Set("X-API-KEY", c.cfg.HTTP.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (c *HTTPChannel) Close(context.Context) {
	c.client.CloseIdleConnections()
}
