package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/treyvum/smsgate/internal/domain"
	"github.com/treyvum/smsgate/internal/logging"
	"github.com/treyvum/smsgate/internal/smpp"
	"github.com/treyvum/smsgate/internal/store"
	"github.com/treyvum/smsgate/pkg/codes"
	"github.com/treyvum/smsgate/pkg/segmenter"
)

// DefaultFactory dispatches on the config's channel kind.
func DefaultFactory(dialer smpp.Dialer, seg segmenter.Segmenter, sink smpp.ReceiptSink) Factory {
	return func(ctx context.Context, cfg domain.TenantChannelConfig) (Channel, error) {
		switch cfg.Kind {
		case codes.ChannelKindSMPP:
			return NewSMPPChannel(ctx, cfg, dialer, seg, sink), nil
		case codes.ChannelKindHTTP:
			return NewHTTPChannel(cfg), nil
		default:
			return nil, fmt.Errorf("channel: unknown kind %q", cfg.Kind)
		}
	}
}

// Registry hands out live channels keyed by tenant and channel name,
// creating them lazily from stored configs. Creation is serialized so that
// concurrent first requests for the same channel produce exactly one
// instance; an unhealthy cached channel is disposed and rebuilt before it
// is ever returned.
type Registry struct {
	configs store.ChannelConfigStore
	factory Factory

	createMu sync.Mutex
	channels cmap.ConcurrentMap[string, Channel]
}

func NewRegistry(configs store.ChannelConfigStore, factory Factory) *Registry {
	return &Registry{
		configs:  configs,
		factory:  factory,
		channels: cmap.New[Channel](),
	}
}

func channelKey(tenantID, name string) string { return tenantID + "/" + name }

// Get returns a healthy channel for the tenant. An empty channelName
// resolves to the tenant's default channel.
func (r *Registry) Get(ctx context.Context, tenantID, channelName string) (Channel, error) {
	cfg, err := r.resolveConfig(ctx, tenantID, channelName)
	if err != nil {
		return nil, err
	}

	key := channelKey(cfg.TenantID, cfg.Name)
	if ch, ok := r.channels.Get(key); ok {
		if ch.Healthy(ctx) {
			return ch, nil
		}
		r.replaceUnhealthy(ctx, key, ch)
	}

	r.createMu.Lock()
	defer r.createMu.Unlock()

	// Another caller may have created it while we waited for the lock. If
	// what it created already went unhealthy, dispose it before replacing.
	if ch, ok := r.channels.Get(key); ok {
		if ch.Healthy(ctx) {
			return ch, nil
		}
		r.replaceUnhealthy(ctx, key, ch)
	}

	ch, err := r.factory(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("channel: create %s: %w", key, err)
	}
	r.channels.Set(key, ch)

	logCtx := logging.ContextWithTenantID(ctx, cfg.TenantID)
	slog.InfoContext(logCtx, "channel created",
		slog.String("channel", cfg.Name), slog.String("kind", cfg.Kind))
	return ch, nil
}

func (r *Registry) resolveConfig(ctx context.Context, tenantID, channelName string) (domain.TenantChannelConfig, error) {
	var (
		cfg *domain.TenantChannelConfig
		err error
	)
	if channelName == "" {
		cfg, err = r.configs.GetDefaultConfig(ctx, tenantID)
	} else {
		cfg, err = r.configs.GetConfig(ctx, tenantID, channelName)
	}
	if err != nil {
		return domain.TenantChannelConfig{}, fmt.Errorf("channel: resolve config for tenant %s: %w", tenantID, err)
	}
	resolved := *cfg
	resolved.ApplyDefaults()
	if err := resolved.Validate(); err != nil {
		return domain.TenantChannelConfig{}, fmt.Errorf("channel: config %s/%s: %w", resolved.TenantID, resolved.Name, err)
	}
	return resolved, nil
}

func (r *Registry) replaceUnhealthy(ctx context.Context, key string, ch Channel) {
	// Remove only if the map still holds this exact instance; a concurrent
	// caller may have replaced it already.
	removed := r.channels.RemoveCb(key, func(_ string, cur Channel, exists bool) bool {
		return exists && cur == ch
	})
	if removed {
		slog.WarnContext(ctx, "disposing unhealthy channel", slog.String("channel_key", key))
		ch.Close(ctx)
	}
}

// Remove disposes the cached channel for the tenant and name. An empty
// name disposes every cached channel of the tenant, which is how config
// changes flush a tenant's live pools.
func (r *Registry) Remove(ctx context.Context, tenantID, channelName string) {
	if channelName == "" {
		prefix := tenantID + "/"
		for item := range r.channels.IterBuffered() {
			if strings.HasPrefix(item.Key, prefix) {
				r.pop(ctx, item.Key)
			}
		}
		return
	}
	r.pop(ctx, channelKey(tenantID, channelName))
}

func (r *Registry) pop(ctx context.Context, key string) {
	if ch, ok := r.channels.Pop(key); ok {
		ch.Close(ctx)
		slog.InfoContext(ctx, "channel removed", slog.String("channel_key", key))
	}
}

// Healthy reports the cached channel's health without creating one.
func (r *Registry) Healthy(ctx context.Context, tenantID, channelName string) (bool, bool) {
	ch, ok := r.channels.Get(channelKey(tenantID, channelName))
	if !ok {
		return false, false
	}
	return ch.Healthy(ctx), true
}

// DisposeAll closes every cached channel. Used at shutdown.
func (r *Registry) DisposeAll(ctx context.Context) {
	for item := range r.channels.IterBuffered() {
		item.Val.Close(ctx)
		r.channels.Remove(item.Key)
	}
	slog.InfoContext(ctx, "all channels disposed")
}
