// Package eventlogger logs every delivered event. It runs for every dispatch
// regardless of its filters.
package eventlogger

import (
	"context"

	"github.com/Zhima-Mochi/repoevents/internal/application/dispatch"
	"github.com/Zhima-Mochi/repoevents/internal/domain/event"
	"github.com/Zhima-Mochi/repoevents/internal/observability"
	"github.com/Zhima-Mochi/repoevents/internal/observability/logctx"
)

const Implementation = "log"

type Config struct {
	// Level is debug or info, default info.
	Level string `mapstructure:"level"`
}

type Consumer struct {
	log   observability.Logger
	debug bool
}

func New(cfg Config, log observability.Logger) *Consumer {
	if log == nil {
		log = observability.NopLogger()
	}
	return &Consumer{
		log:   log.With(observability.F("consumer_impl", Implementation)),
		debug: cfg.Level == "debug",
	}
}

func (c *Consumer) AlwaysRun() bool { return true }

func (c *Consumer) Initialize(context.Context) error { return nil }

func (c *Consumer) Consume(ctx context.Context, scope dispatch.Scope, e event.Event) error {
	fields := []observability.Field{
		observability.F("event_id", e.ID),
		observability.F("event_type", e.Type.String()),
		observability.F("subject_type", e.SubjectType.String()),
		observability.F("subject_id", e.SubjectID),
		observability.F("unit_of_work", scope.UnitOfWorkID),
	}
	if e.ObjectID != "" {
		fields = append(fields,
			observability.F("object_type", e.ObjectType.String()),
			observability.F("object_id", e.ObjectID),
		)
	}
	if e.Detail != "" {
		fields = append(fields, observability.F("detail", e.Detail))
	}
	if actor := e.Actor; actor != "" {
		fields = append(fields, observability.F("actor", actor))
	}

	logger := logctx.FromOr(ctx, c.log)
	if c.debug {
		logger.Debug("event_consumed", fields...)
	} else {
		logger.Info("event_consumed", fields...)
	}
	return nil
}

func (c *Consumer) End(context.Context, dispatch.Scope) error { return nil }

func (c *Consumer) Finish(context.Context) error { return nil }
