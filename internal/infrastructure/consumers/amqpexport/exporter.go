// Package amqpexport forwards repository events to a RabbitMQ topic exchange.
package amqpexport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Zhima-Mochi/repoevents/internal/application/dispatch"
	"github.com/Zhima-Mochi/repoevents/internal/domain/event"
	"github.com/Zhima-Mochi/repoevents/internal/infrastructure/consumers/batch"
	"github.com/Zhima-Mochi/repoevents/internal/observability"
	"github.com/Zhima-Mochi/repoevents/internal/observability/logctx"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	Implementation  = "amqp"
	DefaultExchange = "repoevents"
	contentType     = "application/json"
)

type Config struct {
	URI      string `mapstructure:"uri"`
	Exchange string `mapstructure:"exchange"`
	// PublishTimeout bounds the publishing of one batch.
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`
}

// Message is the JSON body of a published event.
type Message struct {
	ID          string    `json:"id"`
	UnitOfWork  string    `json:"unit_of_work"`
	Dispatcher  string    `json:"dispatcher"`
	Actor       string    `json:"actor,omitempty"`
	Type        string    `json:"type"`
	SubjectType string    `json:"subject_type"`
	SubjectID   string    `json:"subject_id"`
	ObjectType  string    `json:"object_type,omitempty"`
	ObjectID    string    `json:"object_id,omitempty"`
	Detail      string    `json:"detail,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

func NewMessage(scope dispatch.Scope, e event.Event) Message {
	m := Message{
		ID:          e.ID,
		UnitOfWork:  scope.UnitOfWorkID,
		Dispatcher:  scope.Dispatcher,
		Actor:       e.Actor,
		Type:        e.Type.String(),
		SubjectType: e.SubjectType.String(),
		SubjectID:   e.SubjectID,
		ObjectID:    e.ObjectID,
		Detail:      e.Detail,
		Timestamp:   e.Timestamp,
	}
	if e.ObjectType != 0 {
		m.ObjectType = e.ObjectType.String()
	}
	return m
}

// RoutingKey is "<subject>.<event>" in lower case, e.g. "item.modify_metadata".
func RoutingKey(e event.Event) string {
	return strings.ToLower(e.SubjectType.String()) + "." + strings.ToLower(e.Type.String())
}

type Exporter struct {
	cfg       Config
	publisher Publisher
	log       observability.Logger
	batches   *batch.Batches[[]event.Event]
}

type Option func(*Exporter)

// WithPublisher replaces the broker connection, mostly for tests.
func WithPublisher(p Publisher) Option { return func(x *Exporter) { x.publisher = p } }

func WithLogger(l observability.Logger) Option { return func(x *Exporter) { x.log = l } }

func New(cfg Config, opts ...Option) *Exporter {
	if cfg.Exchange == "" {
		cfg.Exchange = DefaultExchange
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	x := &Exporter{
		cfg:     cfg,
		log:     observability.NopLogger(),
		batches: batch.New(func() *[]event.Event { return new([]event.Event) }),
	}
	for _, opt := range opts {
		opt(x)
	}
	x.log = x.log.With(
		observability.F("consumer_impl", Implementation),
		observability.F("exchange", cfg.Exchange),
	)
	return x
}

func (x *Exporter) Initialize(ctx context.Context) error {
	if x.publisher != nil {
		return nil
	}
	if x.cfg.URI == "" {
		return errors.New("amqp: uri is required")
	}
	p, err := dial(x.cfg.URI, x.cfg.Exchange)
	if err != nil {
		return err
	}
	x.publisher = p
	logctx.FromOr(ctx, x.log).Info("amqp_exporter_connected")
	return nil
}

func (x *Exporter) Consume(_ context.Context, scope dispatch.Scope, e event.Event) error {
	x.batches.Update(scope.UnitOfWorkID, func(p *[]event.Event) { *p = append(*p, e) })
	return nil
}

// End publishes the batch in record order and stops at the first failure.
// Consumers downstream dedupe on the message id.
func (x *Exporter) End(ctx context.Context, scope dispatch.Scope) error {
	p, ok := x.batches.Take(scope.UnitOfWorkID)
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, x.cfg.PublishTimeout)
	defer cancel()

	for i, e := range *p {
		body, err := json.Marshal(NewMessage(scope, e))
		if err != nil {
			return fmt.Errorf("amqp: encode %s: %w", e.ID, err)
		}
		err = x.publisher.Publish(ctx, RoutingKey(e), amqp.Publishing{
			ContentType:  contentType,
			DeliveryMode: amqp.Persistent,
			MessageId:    e.ID,
			Timestamp:    e.Timestamp,
			Type:         e.Type.String(),
			Headers:      amqp.Table{"unit_of_work": scope.UnitOfWorkID},
			Body:         body,
		})
		if err != nil {
			logctx.FromOr(ctx, x.log).Warn("amqp_publish_failed",
				observability.F("published", i),
				observability.F("remaining", len(*p)-i),
			)
			return err
		}
	}
	return nil
}

func (x *Exporter) Abort(_ context.Context, scope dispatch.Scope) {
	x.batches.Drop(scope.UnitOfWorkID)
}

func (x *Exporter) Finish(context.Context) error {
	if x.publisher == nil {
		return nil
	}
	return x.publisher.Close()
}
