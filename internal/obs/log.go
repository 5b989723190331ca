package obs

import (
	"context"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	loggerOnce sync.Once
	logger     *logrus.Logger
)

type ctxKey string

const (
	requestIDKey ctxKey = "obs_request_id"
	actorIDKey   ctxKey = "obs_actor_id"
)

// Logger returns the shared structured logger used across the service.
func Logger() *logrus.Logger {
	loggerOnce.Do(func() {
		logger = logrus.New()
		logger.SetOutput(os.Stdout)
		logger.SetFormatter(&logrus.JSONFormatter{
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime: "ts",
			},
		})
		logger.SetLevel(logrus.InfoLevel)
	})
	return logger
}

// SetLevel parses lvl and applies it to the shared logger. Unknown levels are reported.
func SetLevel(lvl string) error {
	lvl = strings.TrimSpace(lvl)
	if lvl == "" {
		return nil
	}
	parsed, err := logrus.ParseLevel(lvl)
	if err != nil {
		return err
	}
	Logger().SetLevel(parsed)
	return nil
}

// WithRequestID attaches the request identifier used to correlate log lines.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext returns the request identifier, if any.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}

// WithActorID attaches the authenticated actor id for log enrichment.
func WithActorID(ctx context.Context, actorID string) context.Context {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return ctx
	}
	return context.WithValue(ctx, actorIDKey, actorID)
}

// FromContext returns a log entry carrying request and actor identifiers found in ctx.
func FromContext(ctx context.Context) *logrus.Entry {
	entry := logrus.NewEntry(Logger())
	if ctx == nil {
		return entry
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		entry = entry.WithField("request_id", rid)
	}
	if aid, ok := ctx.Value(actorIDKey).(string); ok && aid != "" {
		entry = entry.WithField("actor_id", aid)
	}
	return entry
}
