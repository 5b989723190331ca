package audit

import (
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"

	"clientdesk.org/internal/obs"
)

// Severity labels carried on audit lines. Denials are "notice": expected, user-driven events.
const (
	SeverityInfo   = "info"
	SeverityNotice = "notice"
	SeverityError  = "error"
)

// LogEvent writes an info-level audit entry enriched with request and actor context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	return write(ctx, logrus.InfoLevel, SeverityInfo, event, fields)
}

// LogDenial records an ordinary authorization denial.
func LogDenial(ctx context.Context, event string, fields map[string]any) error {
	return write(ctx, logrus.InfoLevel, SeverityNotice, event, fields)
}

// LogError records a condition that points at a code-path bug rather than user input,
// such as an authorization check invoked without an authenticated actor.
func LogError(ctx context.Context, event string, fields map[string]any) error {
	return write(ctx, logrus.ErrorLevel, SeverityError, event, fields)
}

func write(ctx context.Context, level logrus.Level, severity, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	copyFields := make(logrus.Fields, len(fields)+3)
	for k, v := range fields {
		copyFields[k] = v
	}
	copyFields["type"] = "audit"
	copyFields["event"] = event
	copyFields["severity"] = severity
	obs.FromContext(ctx).WithFields(copyFields).Log(level, event)
	return nil
}
