// Package obs carries diagnostics from library code to whatever logging
// the host application runs.
package obs

import (
	"context"
	"log/slog"

	log "github.com/sirupsen/logrus"
)

// Observer receives failures which are not returned to anyone else,
// or which must be recorded even though they are returned.
type Observer interface {
	Failure(ctx context.Context, msg string, err error, attrs ...slog.Attr)
}

type slogObserver struct{ logger *slog.Logger }

// FromSlog reports failures at error level through logger.
func FromSlog(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return slogObserver{logger: logger}
}

func (o slogObserver) Failure(ctx context.Context, msg string, err error, attrs ...slog.Attr) {
	attrs = append(attrs, slog.String("error", err.Error()))
	o.logger.LogAttrs(ctx, slog.LevelError, msg, attrs...)
}

type logrusObserver struct{ logger log.FieldLogger }

// FromLogrus reports failures through a logrus logger or entry.
func FromLogrus(logger log.FieldLogger) Observer {
	return logrusObserver{logger: logger}
}

func (o logrusObserver) Failure(_ context.Context, msg string, err error, attrs ...slog.Attr) {
	fields := make(log.Fields, len(attrs))
	for _, attr := range attrs {
		fields[attr.Key] = attr.Value.Any()
	}
	o.logger.WithFields(fields).WithError(err).Error(msg)
}

type discard struct{}

// Discard drops every failure.
var Discard Observer = discard{}

func (discard) Failure(context.Context, string, error, ...slog.Attr) {}
