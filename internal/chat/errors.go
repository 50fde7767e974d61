package chat

import (
	"context"
	"errors"
	"strings"
)

// cancelNote is the short note recorded on a message whose generation was
// aborted by the user or superseded by a newer request.
const cancelNote = "Cancelled."

// IsCancellation reports whether a generation failure was an abort rather
// than a genuine error. Matches context cancellation and, as a fallback,
// cancellation keywords in the message text.
func IsCancellation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "cancel") || strings.Contains(msg, "abort")
}

// ErrorText extracts a human-readable description from an arbitrary failure.
// Total: always returns non-empty text, never panics.
func ErrorText(err error) string {
	if err == nil {
		return "Unknown error"
	}
	msg := strings.TrimSpace(err.Error())
	if msg == "" {
		return "Unknown error"
	}
	return msg
}
