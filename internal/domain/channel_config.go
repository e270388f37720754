package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/treyvum/smsgate/pkg/codes"
)

// TenantChannelConfig describes one named carrier channel for a tenant.
type TenantChannelConfig struct {
	TenantID  string
	Name      string
	Kind      string // codes.ChannelKindSMPP or codes.ChannelKindHTTP
	IsDefault bool
	Priority  int

	// ExpectReceipts is false for providers known not to send delivery
	// receipts; such channels are finalized by the receipt-timeout sweep.
	ExpectReceipts bool
	ReceiptGrace   time.Duration
	FallbackStatus string // terminal status applied when the grace elapses

	SMPP *SMPPSettings
	HTTP *HTTPSettings
}

// SMPPSettings holds the connection parameters for an SMPP channel.
type SMPPSettings struct {
	Host       string
	Port       int
	SystemID   string
	Password   string
	SystemType string

	MaxSessions    int
	ConnectTimeout time.Duration
	BindTimeout    time.Duration
	SubmitTimeout  time.Duration
	OverallTimeout time.Duration
	EnquireLink    time.Duration

	SourceTON byte
	SourceNPI byte
	DestTON   byte
	DestNPI   byte
}

// HTTPSettings holds the connection parameters for an HTTP channel.
type HTTPSettings struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Validate checks the config is complete enough to build a channel from.
// The registry refuses to construct a channel it cannot validate.
func (c *TenantChannelConfig) Validate() error {
	if c.TenantID == "" || c.Name == "" {
		return errors.New("channel config missing tenant id or name")
	}
	switch c.Kind {
	case codes.ChannelKindSMPP:
		if c.SMPP == nil {
			return fmt.Errorf("channel %s/%s: smpp settings missing", c.TenantID, c.Name)
		}
		if c.SMPP.Host == "" || c.SMPP.Port == 0 || c.SMPP.SystemID == "" {
			return fmt.Errorf("channel %s/%s: smpp host, port and system id are required", c.TenantID, c.Name)
		}
	case codes.ChannelKindHTTP:
		if c.HTTP == nil || c.HTTP.BaseURL == "" {
			return fmt.Errorf("channel %s/%s: http base url is required", c.TenantID, c.Name)
		}
	default:
		return fmt.Errorf("channel %s/%s: unknown kind %q", c.TenantID, c.Name, c.Kind)
	}
	if !c.ExpectReceipts {
		if c.ReceiptGrace <= 0 {
			return fmt.Errorf("channel %s/%s: receipt grace period required when receipts are not expected", c.TenantID, c.Name)
		}
		if c.FallbackStatus == "" {
			return fmt.Errorf("channel %s/%s: fallback status required when receipts are not expected", c.TenantID, c.Name)
		}
	}
	return nil
}

// ApplyDefaults fills unset timing and capacity fields.
func (c *TenantChannelConfig) ApplyDefaults() {
	if c.Kind == codes.ChannelKindSMPP && c.SMPP != nil {
		s := c.SMPP
		if s.MaxSessions <= 0 {
			s.MaxSessions = 3
		}
		if s.ConnectTimeout <= 0 {
			s.ConnectTimeout = 5 * time.Second
		}
		if s.BindTimeout <= 0 {
			s.BindTimeout = 5 * time.Second
		}
		if s.SubmitTimeout <= 0 {
			s.SubmitTimeout = 10 * time.Second
		}
		if s.OverallTimeout <= 0 {
			s.OverallTimeout = 45 * time.Second
		}
		if s.EnquireLink <= 0 {
			s.EnquireLink = 30 * time.Second
		}
	}
	if c.Kind == codes.ChannelKindHTTP && c.HTTP != nil && c.HTTP.Timeout <= 0 {
		c.HTTP.Timeout = 30 * time.Second
	}
	if !c.ExpectReceipts {
		if c.FallbackStatus == "" {
			c.FallbackStatus = codes.MsgStatusAssumedDelivered
		}
		if c.ReceiptGrace <= 0 {
			c.ReceiptGrace = 30 * time.Minute
		}
	}
}
