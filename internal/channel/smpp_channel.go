package channel

import (
	"context"

	"github.com/treyvum/smsgate/internal/domain"
	"github.com/treyvum/smsgate/internal/smpp"
	"github.com/treyvum/smsgate/pkg/codes"
	"github.com/treyvum/smsgate/pkg/segmenter"
)

var _ Channel = (*SMPPChannel)(nil)

// SMPPChannel bridges the generic Channel interface onto a session pool and
// its submission pipeline.
type SMPPChannel struct {
	cfg      domain.TenantChannelConfig
	pool     *smpp.Pool
	pipeline *smpp.Pipeline
}

// NewSMPPChannel builds the pool and pipeline for cfg and starts the pool's
// keepalive loop. ctx bounds the lifetime of the background loop.
func NewSMPPChannel(ctx context.Context, cfg domain.TenantChannelConfig, dialer smpp.Dialer, seg segmenter.Segmenter, sink smpp.ReceiptSink) *SMPPChannel {
	pool := smpp.NewPool(cfg.TenantID, cfg.Name, *cfg.SMPP, dialer, seg, sink)
	pool.Start(ctx)
	return &SMPPChannel{
		cfg:      cfg,
		pool:     pool,
		pipeline: smpp.NewPipeline(pool),
	}
}

func (c *SMPPChannel) Kind() string { return codes.ChannelKindSMPP }

func (c *SMPPChannel) Submit(ctx context.Context, msg *domain.Message) (domain.SubmitOutcome, error) {
	return c.pipeline.Send(ctx, smpp.SubmitRequest{
		MessageID:      msg.ID,
		Recipient:      msg.Recipient,
		SenderID:       msg.SenderID,
		Body:           msg.Body,
		RequestReceipt: msg.RequestReceipt,
	})
}

func (c *SMPPChannel) Healthy(context.Context) bool { return c.pool.Healthy() }

func (c *SMPPChannel) Close(ctx context.Context) { c.pool.Shutdown(ctx) }
