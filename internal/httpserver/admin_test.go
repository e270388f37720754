package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treyvum/smsgate/internal/channel"
	"github.com/treyvum/smsgate/internal/config"
	"github.com/treyvum/smsgate/internal/domain"
	"github.com/treyvum/smsgate/internal/store"
	"github.com/treyvum/smsgate/pkg/codes"
)

func newTestAdmin(mem *store.Memory) *Admin {
	reg := channel.NewRegistry(mem, func(context.Context, domain.TenantChannelConfig) (channel.Channel, error) {
		panic("admin server must never construct channels")
	})
	return NewAdmin(config.AdminConfig{Addr: ":0"}, reg, mem)
}

func doGet(t *testing.T, admin *Admin, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	admin.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthz(t *testing.T) {
	admin := newTestAdmin(store.NewMemory())

	rec := doGet(t, admin, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestChannelHealthUncached(t *testing.T) {
	admin := newTestAdmin(store.NewMemory())

	rec := doGet(t, admin, "/tenants/acme/channels/primary/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp channelHealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "acme", resp.TenantID)
	assert.False(t, resp.Cached)
	assert.False(t, resp.Healthy)
}

func TestMessageStatusEndpoint(t *testing.T) {
	mem := store.NewMemory()
	admin := newTestAdmin(mem)

	msg := domain.NewMessage("acme", "primary", "+491234567890", "ACME", "hi", true, time.Now())
	require.NoError(t, mem.CreateMessage(context.Background(), msg))
	require.NoError(t, mem.MarkSubmitted(context.Background(), msg.ID, []string{"c1"}, time.Now()))

	rec := doGet(t, admin, "/messages/"+msg.ID)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp messageStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, codes.MsgStatusSubmitted, resp.Status)
	assert.Equal(t, "c1", resp.CorrelationID)

	rec = doGet(t, admin, "/messages/no-such-id")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
