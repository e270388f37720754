package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/treyvum/smsgate/internal/domain"
	"github.com/treyvum/smsgate/pkg/codes"
)

// Postgres implements MessageStore and ChannelConfigStore on pgx.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ MessageStore       = (*Postgres)(nil)
	_ ChannelConfigStore = (*Postgres)(nil)
)

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

const messageColumns = `id, tenant_id, channel_name, recipient, sender_id, body,
	request_receipt, callback_url, correlation_id, part_count, status,
	error_code, error_description, receipt_text, receipt_status_token,
	receipt_error_code, created_at, submitted_at, delivered_at, updated_at,
	assumed_final`

func scanMessage(row pgx.Row) (*domain.Message, error) {
	var m domain.Message
	err := row.Scan(&m.ID, &m.TenantID, &m.ChannelName, &m.Recipient, &m.SenderID,
		&m.Body, &m.RequestReceipt, &m.CallbackURL, &m.CorrelationID, &m.PartCount,
		&m.Status, &m.ErrorCode, &m.ErrorDescription, &m.ReceiptText,
		&m.ReceiptStatusToken, &m.ReceiptErrorCode, &m.CreatedAt, &m.SubmittedAt,
		&m.DeliveredAt, &m.UpdatedAt, &m.AssumedFinal)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan message: %w", err)
	}
	return &m, nil
}

func (s *Postgres) CreateMessage(ctx context.Context, msg *domain.Message) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO messages (id, tenant_id, channel_name, recipient, sender_id, body,
			request_receipt, callback_url, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		msg.ID, msg.TenantID, msg.ChannelName, msg.Recipient, msg.SenderID, msg.Body,
		msg.RequestReceipt, msg.CallbackURL, msg.Status, msg.CreatedAt, msg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *Postgres) GetMessage(ctx context.Context, id string) (*domain.Message, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id)
	return scanMessage(row)
}

func (s *Postgres) FindMessageByCorrelationID(ctx context.Context, correlationID string) (*domain.Message, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE correlation_id = $1`, correlationID)
	return scanMessage(row)
}

func (s *Postgres) CreateParts(ctx context.Context, parts []*domain.MessagePart) error {
	batch := &pgx.Batch{}
	for _, p := range parts {
		batch.Queue(`
			INSERT INTO message_parts (id, message_id, seq, total, correlation_id, status, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			p.ID, p.MessageID, p.Seq, p.Total, p.CorrelationID, p.Status, p.UpdatedAt)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range parts {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("insert message part: %w", err)
		}
	}
	return nil
}

const partColumns = `id, message_id, seq, total, correlation_id, status,
	receipt_text, receipt_status_token, receipt_error_code, updated_at`

func scanPart(row pgx.Row) (*domain.MessagePart, error) {
	var p domain.MessagePart
	err := row.Scan(&p.ID, &p.MessageID, &p.Seq, &p.Total, &p.CorrelationID,
		&p.Status, &p.ReceiptText, &p.ReceiptStatusToken, &p.ReceiptErrorCode,
		&p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan message part: %w", err)
	}
	return &p, nil
}

func (s *Postgres) FindPartByCorrelationID(ctx context.Context, correlationID string) (*domain.MessagePart, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+partColumns+` FROM message_parts WHERE correlation_id = $1`, correlationID)
	return scanPart(row)
}

func (s *Postgres) PartsForMessage(ctx context.Context, messageID string) ([]*domain.MessagePart, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+partColumns+` FROM message_parts WHERE message_id = $1 ORDER BY seq`, messageID)
	if err != nil {
		return nil, fmt.Errorf("query message parts: %w", err)
	}
	defer rows.Close()

	var out []*domain.MessagePart
	for rows.Next() {
		p, err := scanPart(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Postgres) MarkSubmitted(ctx context.Context, messageID string, correlationIDs []string, at time.Time) error {
	var primary string
	if len(correlationIDs) > 0 {
		primary = correlationIDs[0]
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages SET status = $2, correlation_id = $3, part_count = $4,
			submitted_at = $5, updated_at = $5
		WHERE id = $1`,
		messageID, codes.MsgStatusSubmitted, primary, len(correlationIDs), at)
	if err != nil {
		return fmt.Errorf("mark submitted: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) MarkSubmitFailed(ctx context.Context, messageID, errorCode, errorDescription string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages SET status = $2, error_code = $3, error_description = $4, updated_at = $5
		WHERE id = $1`,
		messageID, codes.MsgStatusFailed, errorCode, errorDescription, at)
	if err != nil {
		return fmt.Errorf("mark submit failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) UpdateMessageReceipt(ctx context.Context, messageID, status string, rcpt domain.ReceiptUpdate, deliveredAt *time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages SET status = $2, receipt_text = $3, receipt_status_token = $4,
			receipt_error_code = $5, updated_at = $6,
			delivered_at = COALESCE(delivered_at, $7)
		WHERE id = $1`,
		messageID, status, rcpt.Raw, rcpt.StatusToken, rcpt.ErrorCode, rcpt.At, deliveredAt)
	if err != nil {
		return fmt.Errorf("update message receipt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) UpdatePartReceipt(ctx context.Context, partID, status string, rcpt domain.ReceiptUpdate) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE message_parts SET status = $2, receipt_text = $3, receipt_status_token = $4,
			receipt_error_code = $5, updated_at = $6
		WHERE id = $1`,
		partID, status, rcpt.Raw, rcpt.StatusToken, rcpt.ErrorCode, rcpt.At)
	if err != nil {
		return fmt.Errorf("update part receipt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) SetMessageStatus(ctx context.Context, messageID, status string, at time.Time, assumed bool) error {
	deliveredClause := ""
	if status == codes.MsgStatusDelivered {
		deliveredClause = ", delivered_at = COALESCE(delivered_at, $3)"
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages SET status = $2, updated_at = $3, assumed_final = $4`+deliveredClause+`
		WHERE id = $1`,
		messageID, status, at, assumed)
	if err != nil {
		return fmt.Errorf("set message status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) ListInStatusOlderThan(ctx context.Context, tenantID, channelName, status string, cutoff time.Time, limit int) ([]*domain.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE tenant_id = $1 AND channel_name = $2 AND status = $3
		  AND COALESCE(submitted_at, created_at) < $4
		ORDER BY COALESCE(submitted_at, created_at)
		LIMIT $5`,
		tenantID, channelName, status, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages in status: %w", err)
	}
	defer rows.Close()

	var out []*domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// --- channel config ---

// settingsPayload is the JSON shape of tenant_channels.settings.
type settingsPayload struct {
	SMPP *domain.SMPPSettings `json:"smpp,omitempty"`
	HTTP *domain.HTTPSettings `json:"http,omitempty"`
}

const configColumns = `tenant_id, name, kind, is_default, priority,
	expect_receipts, receipt_grace_minutes, fallback_status, settings`

func scanConfig(row pgx.Row) (*domain.TenantChannelConfig, error) {
	var cfg domain.TenantChannelConfig
	var graceMinutes int
	var settings []byte
	err := row.Scan(&cfg.TenantID, &cfg.Name, &cfg.Kind, &cfg.IsDefault,
		&cfg.Priority, &cfg.ExpectReceipts, &graceMinutes, &cfg.FallbackStatus,
		&settings)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan channel config: %w", err)
	}
	cfg.ReceiptGrace = time.Duration(graceMinutes) * time.Minute

	var payload settingsPayload
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &payload); err != nil {
			return nil, fmt.Errorf("decode channel settings for %s/%s: %w", cfg.TenantID, cfg.Name, err)
		}
	}
	cfg.SMPP = payload.SMPP
	cfg.HTTP = payload.HTTP
	cfg.ApplyDefaults()
	return &cfg, nil
}

func (s *Postgres) GetConfig(ctx context.Context, tenantID, name string) (*domain.TenantChannelConfig, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+configColumns+` FROM tenant_channels
		WHERE tenant_id = $1 AND name = $2`, tenantID, name)
	return scanConfig(row)
}

func (s *Postgres) GetDefaultConfig(ctx context.Context, tenantID string) (*domain.TenantChannelConfig, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+configColumns+` FROM tenant_channels
		WHERE tenant_id = $1 AND is_default
		ORDER BY priority
		LIMIT 1`, tenantID)
	return scanConfig(row)
}

func (s *Postgres) ListConfigs(ctx context.Context) ([]*domain.TenantChannelConfig, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+configColumns+` FROM tenant_channels ORDER BY tenant_id, name`)
	if err != nil {
		return nil, fmt.Errorf("list channel configs: %w", err)
	}
	defer rows.Close()

	var out []*domain.TenantChannelConfig
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}
