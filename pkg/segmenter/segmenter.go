// Package segmenter splits message bodies into carrier-sized parts. Each
// part becomes one submit PDU and receives its own carrier correlation id.
package segmenter

import (
	"errors"
	"unicode/utf16"
)

const (
	gsm7Single    = 160
	gsm7Multipart = 153 // 160 minus 7 octets of UDH
	ucs2Single    = 70
	ucs2Multipart = 67 // 70 minus 3 UTF-16 units of UDH
)

// ErrEmptyMessage is returned when asked to split an empty body.
var ErrEmptyMessage = errors.New("segmenter: empty message body")

// Segmenter splits a message body into parts small enough for one submit
// PDU each. requiresUCS2 indicates the parts need UCS2 data coding.
type Segmenter interface {
	Split(body string) (parts []string, requiresUCS2 bool, err error)
}

type gsmSegmenter struct{}

// New returns the default GSM-03.38-aware segmenter.
func New() Segmenter {
	return gsmSegmenter{}
}

// fitsGSM7 is a conservative check: anything beyond 7-bit ASCII is treated
// as requiring UCS2. A full GSM-7 extension table would admit a few more
// characters but never rejects a valid split.
func fitsGSM7(body string) bool {
	for _, r := range body {
		if r > 0x7F {
			return false
		}
	}
	return true
}

func (gsmSegmenter) Split(body string) ([]string, bool, error) {
	if body == "" {
		return nil, false, ErrEmptyMessage
	}

	if fitsGSM7(body) {
		return splitASCII(body), false, nil
	}
	return splitUCS2(body), true, nil
}

func splitASCII(body string) []string {
	if len(body) <= gsm7Single {
		return []string{body}
	}
	var parts []string
	for pos := 0; pos < len(body); pos += gsm7Multipart {
		end := min(pos+gsm7Multipart, len(body))
		parts = append(parts, body[pos:end])
	}
	return parts
}

func splitUCS2(body string) []string {
	units := utf16.Encode([]rune(body))
	if len(units) <= ucs2Single {
		return []string{body}
	}
	var parts []string
	for pos := 0; pos < len(units); pos += ucs2Multipart {
		end := min(pos+ucs2Multipart, len(units))
		parts = append(parts, string(utf16.Decode(units[pos:end])))
	}
	return parts
}
