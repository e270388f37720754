package codes

// Session connection status codes.
const (
	SessionUnbound    = "unbound"
	SessionConnecting = "connecting"
	SessionBound      = "bound"
	SessionFailed     = "failed"
	SessionClosed     = "closed"
)

// Message status codes. MsgStatusSubmitted means the carrier accepted the
// message and we are awaiting delivery confirmation.
const (
	MsgStatusPending            = "pending"
	MsgStatusSubmitted          = "submitted"
	MsgStatusSent               = "sent"
	MsgStatusAccepted           = "accepted"
	MsgStatusDelivered          = "delivered"
	MsgStatusPartiallyDelivered = "partially_delivered"
	MsgStatusUndelivered        = "undelivered"
	MsgStatusRejected           = "rejected"
	MsgStatusExpired            = "expired"
	MsgStatusFailed             = "failed"
	MsgStatusAssumedDelivered   = "assumed_delivered"
	MsgStatusUnknown            = "unknown"
)

// IsTerminal reports whether a message status will not change again on its own.
func IsTerminal(status string) bool {
	switch status {
	case MsgStatusDelivered, MsgStatusPartiallyDelivered, MsgStatusUndelivered,
		MsgStatusRejected, MsgStatusExpired, MsgStatusFailed, MsgStatusAssumedDelivered:
		return true
	}
	return false
}

// Submission error codes.
const (
	ErrorCodeSubmitTimeout  = "SUBMIT_TIMEOUT"
	ErrorCodeConnRejected   = "CONN_REJECTED"
	ErrorCodeBindFailed     = "BIND_FAILED"
	ErrorCodeCarrierReject  = "CARRIER_REJECT"
	ErrorCodeNoChannel      = "NO_CHANNEL"
	ErrorCodeConfigInvalid  = "CONFIG_INVALID"
	ErrorCodeSystemError    = "SYS_ERR"
	ErrorCodeOverallTimeout = "OVERALL_TIMEOUT"
)

// Channel kinds recognized by tenant configuration.
const (
	ChannelKindSMPP = "smpp"
	ChannelKindHTTP = "http"
)
