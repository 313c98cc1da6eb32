// Package notify delivers human-facing signals at pipeline checkpoints,
// such as a plan waiting for review or a project finishing.
package notify

import (
	"context"
	"log/slog"
)

// Notifier delivers out-of-band messages to the project's operator.
type Notifier interface {
	Notify(ctx context.Context, projectID, subject, message string)
}

// LogNotifier writes notifications to the structured log. The default for
// CLI usage, where the operator is watching the terminal.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a log-backed notifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Notify logs the notification.
func (n *LogNotifier) Notify(ctx context.Context, projectID, subject, message string) {
	n.logger.Info("notification",
		"project", projectID,
		"subject", subject,
		"message", message,
	)
}

// NopNotifier discards notifications.
type NopNotifier struct{}

// NewNopNotifier creates a notifier that does nothing.
func NewNopNotifier() *NopNotifier { return &NopNotifier{} }

// Notify does nothing.
func (n *NopNotifier) Notify(ctx context.Context, projectID, subject, message string) {}
