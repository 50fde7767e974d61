// Package notify delivers fire-and-forget user notifications.
package notify

import (
	"fmt"
	"os"
)

// Severity classifies a notification.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Notifier receives user-visible notifications. Implementations must not
// block and must not fail.
type Notifier interface {
	Notify(message string, severity Severity)
}

// Console writes notifications to stderr.
type Console struct{}

func (Console) Notify(message string, severity Severity) {
	fmt.Fprintf(os.Stderr, "%s: %s\n", severity, message)
}

// Nop discards all notifications.
type Nop struct{}

func (Nop) Notify(string, Severity) {}
