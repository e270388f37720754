package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/treyvum/smsgate/internal/domain"
	"github.com/treyvum/smsgate/pkg/codes"
)

// Memory is an in-process MessageStore and ChannelConfigStore. It backs the
// test suites and the dev composition; all methods are safe for concurrent
// use.
type Memory struct {
	mu       sync.RWMutex
	messages map[string]*domain.Message
	parts    map[string]*domain.MessagePart // by part id
	configs  map[string]*domain.TenantChannelConfig
}

var (
	_ MessageStore       = (*Memory)(nil)
	_ ChannelConfigStore = (*Memory)(nil)
)

func NewMemory() *Memory {
	return &Memory{
		messages: make(map[string]*domain.Message),
		parts:    make(map[string]*domain.MessagePart),
		configs:  make(map[string]*domain.TenantChannelConfig),
	}
}

func configKey(tenantID, name string) string { return tenantID + "/" + name }

// PutConfig registers a tenant channel config.
func (m *Memory) PutConfig(cfg *domain.TenantChannelConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[configKey(cfg.TenantID, cfg.Name)] = cfg
}

func (m *Memory) GetConfig(_ context.Context, tenantID, name string) (*domain.TenantChannelConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, ok := m.configs[configKey(tenantID, name)]
	if !ok {
		return nil, ErrNotFound
	}
	c := *cfg
	return &c, nil
}

func (m *Memory) GetDefaultConfig(_ context.Context, tenantID string) (*domain.TenantChannelConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var best *domain.TenantChannelConfig
	for _, cfg := range m.configs {
		if cfg.TenantID != tenantID || !cfg.IsDefault {
			continue
		}
		if best == nil || cfg.Priority < best.Priority {
			best = cfg
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	c := *best
	return &c, nil
}

func (m *Memory) ListConfigs(_ context.Context) ([]*domain.TenantChannelConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.TenantChannelConfig, 0, len(m.configs))
	for _, cfg := range m.configs {
		c := *cfg
		out = append(out, &c)
	}
	return out, nil
}

func (m *Memory) CreateMessage(_ context.Context, msg *domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *msg
	m.messages[msg.ID] = &cp
	return nil
}

func (m *Memory) GetMessage(_ context.Context, id string) (*domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msg, ok := m.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *msg
	return &cp, nil
}

func (m *Memory) FindMessageByCorrelationID(_ context.Context, correlationID string) (*domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, msg := range m.messages {
		if msg.CorrelationID == correlationID {
			cp := *msg
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) CreateParts(_ context.Context, parts []*domain.MessagePart) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range parts {
		cp := *p
		m.parts[p.ID] = &cp
	}
	return nil
}

func (m *Memory) FindPartByCorrelationID(_ context.Context, correlationID string) (*domain.MessagePart, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.parts {
		if p.CorrelationID == correlationID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) PartsForMessage(_ context.Context, messageID string) ([]*domain.MessagePart, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.MessagePart
	for _, p := range m.parts {
		if p.MessageID == messageID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (m *Memory) MarkSubmitted(_ context.Context, messageID string, correlationIDs []string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[messageID]
	if !ok {
		return ErrNotFound
	}
	msg.Status = codes.MsgStatusSubmitted
	if len(correlationIDs) > 0 {
		msg.CorrelationID = correlationIDs[0]
	}
	msg.PartCount = len(correlationIDs)
	t := at
	msg.SubmittedAt = &t
	msg.UpdatedAt = at
	return nil
}

func (m *Memory) MarkSubmitFailed(_ context.Context, messageID, errorCode, errorDescription string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[messageID]
	if !ok {
		return ErrNotFound
	}
	msg.Status = codes.MsgStatusFailed
	msg.ErrorCode = errorCode
	msg.ErrorDescription = errorDescription
	msg.UpdatedAt = at
	return nil
}

func (m *Memory) UpdateMessageReceipt(_ context.Context, messageID, status string, rcpt domain.ReceiptUpdate, deliveredAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[messageID]
	if !ok {
		return ErrNotFound
	}
	msg.Status = status
	msg.ReceiptText = rcpt.Raw
	msg.ReceiptStatusToken = rcpt.StatusToken
	msg.ReceiptErrorCode = rcpt.ErrorCode
	msg.UpdatedAt = rcpt.At
	if deliveredAt != nil && msg.DeliveredAt == nil {
		t := *deliveredAt
		msg.DeliveredAt = &t
	}
	return nil
}

func (m *Memory) UpdatePartReceipt(_ context.Context, partID, status string, rcpt domain.ReceiptUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.parts[partID]
	if !ok {
		return ErrNotFound
	}
	p.Status = status
	p.ReceiptText = rcpt.Raw
	p.ReceiptStatusToken = rcpt.StatusToken
	p.ReceiptErrorCode = rcpt.ErrorCode
	p.UpdatedAt = rcpt.At
	return nil
}

func (m *Memory) SetMessageStatus(_ context.Context, messageID, status string, at time.Time, assumed bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[messageID]
	if !ok {
		return ErrNotFound
	}
	msg.Status = status
	msg.UpdatedAt = at
	msg.AssumedFinal = assumed
	if status == codes.MsgStatusDelivered && msg.DeliveredAt == nil {
		t := at
		msg.DeliveredAt = &t
	}
	return nil
}

func (m *Memory) ListInStatusOlderThan(_ context.Context, tenantID, channelName, status string, cutoff time.Time, limit int) ([]*domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Message
	for _, msg := range m.messages {
		if msg.TenantID != tenantID || msg.ChannelName != channelName || msg.Status != status {
			continue
		}
		ts := msg.CreatedAt
		if msg.SubmittedAt != nil {
			ts = *msg.SubmittedAt
		}
		if !ts.Before(cutoff) {
			continue
		}
		cp := *msg
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
