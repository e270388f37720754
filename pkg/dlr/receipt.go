// Package dlr parses the short-message payload of SMPP delivery receipts.
//
// Carriers encode receipts as a fixed-format text line, e.g.:
//
//	id:0123456789 sub:001 dlvrd:001 submit date:2403251230 done date:2403251231 stat:DELIVRD err:000 text:...
//
// The id, stat, err and done date sub-fields are extracted; everything else
// is kept as raw text on the message record.
package dlr

import (
	"strconv"
	"strings"
	"time"

	"github.com/treyvum/smsgate/pkg/codes"
)

// TokenUnknown is substituted when the stat sub-field is absent or malformed.
const TokenUnknown = "UNKNOWN"

// Receipt holds the fields extracted from one delivery receipt payload.
type Receipt struct {
	CorrelationID string     // carrier message id from the id: sub-field
	SourceAddr    string     // originating address of the DeliverSM
	StatusToken   string     // stat: token, TokenUnknown if unparseable
	ErrorCode     int        // err: numeric code, 0 when absent
	DoneAt        *time.Time // done date: timestamp, nil when absent or malformed
	Raw           string     // full receipt text as received
	ReceivedAt    time.Time  // local arrival time
}

// Parse scans a receipt payload for the id, stat and err sub-fields.
// A missing or malformed stat token yields TokenUnknown rather than an
// error; a receipt without an id: sub-field is unusable and returns ok=false.
func Parse(raw string) (Receipt, bool) {
	r := Receipt{Raw: raw, StatusToken: TokenUnknown}

	r.CorrelationID = field(raw, "id:")
	if r.CorrelationID == "" {
		return r, false
	}

	if stat := field(raw, "stat:"); stat != "" {
		r.StatusToken = strings.ToUpper(stat)
	}
	if errStr := field(raw, "err:"); errStr != "" {
		if n, err := strconv.Atoi(errStr); err == nil {
			r.ErrorCode = n
		}
	}
	if done := field(raw, "done date:"); done != "" {
		// YYMMDDhhmm per SMPP appendix B, some carriers append seconds.
		for _, layout := range []string{"0601021504", "060102150405"} {
			if t, err := time.Parse(layout, done); err == nil {
				r.DoneAt = &t
				break
			}
		}
	}
	return r, true
}

// field extracts the whitespace-delimited value following a "key:" marker.
func field(raw, key string) string {
	idx := strings.Index(raw, key)
	if idx < 0 {
		return ""
	}
	rest := raw[idx+len(key):]
	if end := strings.IndexAny(rest, " \t\r\n"); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}

// StatusForToken maps a receipt stat token to the internal message status.
// ENROUTE is intermediate and maps to sent; unrecognized tokens map to
// unknown.
func StatusForToken(token string) string {
	switch strings.ToUpper(token) {
	case "DELIVRD":
		return codes.MsgStatusDelivered
	case "EXPIRED", "DELETED":
		return codes.MsgStatusExpired
	case "UNDELIV":
		return codes.MsgStatusUndelivered
	case "REJECTD":
		return codes.MsgStatusRejected
	case "ACCEPTD":
		return codes.MsgStatusAccepted
	case "ENROUTE":
		return codes.MsgStatusSent
	default:
		return codes.MsgStatusUnknown
	}
}
