package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/treyvum/smsgate/internal/channel"
	"github.com/treyvum/smsgate/internal/config"
	"github.com/treyvum/smsgate/internal/store"
)

// Admin is the read-only operational server: process liveness plus
// per-tenant channel health for monitoring.
type Admin struct {
	registry *channel.Registry
	messages store.MessageStore
	server   *http.Server
}

func NewAdmin(cfg config.AdminConfig, registry *channel.Registry, messages store.MessageStore) *Admin {
	a := &Admin{registry: registry, messages: messages}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", a.handleHealthz)
	r.Get("/tenants/{tenantID}/channels/{channelName}/health", a.handleChannelHealth)
	r.Get("/messages/{messageID}", a.handleMessageStatus)

	a.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return a
}

// Start runs the server until it is shut down. Blocks.
func (a *Admin) Start() error {
	slog.Info("admin server listening", slog.String("addr", a.server.Addr))
	if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (a *Admin) Shutdown(ctx context.Context) error {
	return a.server.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (a *Admin) Handler() http.Handler { return a.server.Handler }

func (a *Admin) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type channelHealthResponse struct {
	TenantID    string `json:"tenant_id"`
	ChannelName string `json:"channel_name"`
	Cached      bool   `json:"cached"`
	Healthy     bool   `json:"healthy"`
}

// handleChannelHealth reports the health of a cached channel. A channel
// that has not been created yet is reported as not cached rather than
// constructed on the spot; health probing must never open carrier
// connections as a side effect.
func (a *Admin) handleChannelHealth(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	channelName := chi.URLParam(r, "channelName")

	healthy, cached := a.registry.Healthy(r.Context(), tenantID, channelName)
	writeJSON(w, http.StatusOK, channelHealthResponse{
		TenantID:    tenantID,
		ChannelName: channelName,
		Cached:      cached,
		Healthy:     healthy,
	})
}

type messageStatusResponse struct {
	MessageID     string `json:"message_id"`
	Status        string `json:"status"`
	ErrorCode     string `json:"error_code,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
	PartCount     int    `json:"part_count,omitempty"`
	Assumed       bool   `json:"assumed,omitempty"`
}

func (a *Admin) handleMessageStatus(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "messageID")

	msg, err := a.messages.GetMessage(r.Context(), messageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "message not found"})
			return
		}
		slog.ErrorContext(r.Context(), "message lookup failed", slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	writeJSON(w, http.StatusOK, messageStatusResponse{
		MessageID:     msg.ID,
		Status:        msg.Status,
		ErrorCode:     msg.ErrorCode,
		CorrelationID: msg.CorrelationID,
		PartCount:     msg.PartCount,
		Assumed:       msg.AssumedFinal,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
