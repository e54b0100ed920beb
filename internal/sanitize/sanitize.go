// Package sanitize cleans inbound user messages before they reach the graph.
package sanitize

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultMaxBytes matches the userMessage limit of the HTTP API.
const DefaultMaxBytes = 4096

var (
	ErrTooLarge    = errors.New("message exceeds maximum allowed size")
	ErrInvalidUTF8 = errors.New("message contains invalid UTF-8 sequences")
)

// Input enforces the size limit, validates UTF-8 and strips control
// characters other than newline, tab and carriage return. Oversized messages
// are rejected rather than truncated. maxBytes <= 0 disables the limit.
func Input(msg string, maxBytes int) (string, error) {
	if maxBytes > 0 && len(msg) > maxBytes {
		return "", fmt.Errorf("%w: size=%d limit=%d", ErrTooLarge, len(msg), maxBytes)
	}
	if !utf8.ValidString(msg) {
		return "", ErrInvalidUTF8
	}

	clean := true
	for _, r := range msg {
		if unicode.IsControl(r) && !isSafeControl(r) {
			clean = false
			break
		}
	}
	if clean {
		return msg, nil
	}

	var b strings.Builder
	b.Grow(len(msg))
	for _, r := range msg {
		if !unicode.IsControl(r) || isSafeControl(r) {
			b.WriteRune(r)
		}
	}
	return b.String(), nil
}

func isSafeControl(r rune) bool {
	return r == '\n' || r == '\t' || r == '\r'
}
