// Package audit is the narrow contract to the platform audit trail.
package audit

import (
	"context"
	"log/slog"
)

type Logger interface {
	Log(ctx context.Context, action, entityType, entityID string)
}

// SlogLogger writes audit entries to the structured log. The platform's real
// audit store consumes the same contract.
type SlogLogger struct {
	logger *slog.Logger
}

func NewSlogLogger(logger *slog.Logger) *SlogLogger {
	return &SlogLogger{logger: logger}
}

func (l *SlogLogger) Log(ctx context.Context, action, entityType, entityID string) {
	l.logger.InfoContext(ctx, "audit",
		"action", action, "entityType", entityType, "entityId", entityID)
}
