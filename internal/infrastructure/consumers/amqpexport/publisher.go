package amqpexport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher sends one message to the configured exchange.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, msg amqp.Publishing) error
	Close() error
}

// brokerPublisher dials lazily and reconnects when the broker dropped the
// connection. Each Publish opens its own channel in confirm mode and closes
// it once the broker acked the message; the connection is shared.
type brokerPublisher struct {
	uri      string
	exchange string

	mu   sync.Mutex
	conn *amqp.Connection
}

func dial(uri, exchange string) (*brokerPublisher, error) {
	p := &brokerPublisher{uri: uri, exchange: exchange}
	if err := p.ensureConnection(); err != nil {
		return nil, err
	}
	if err := p.declareTopology(); err != nil {
		_ = p.Close()
		return nil, err
	}
	return p, nil
}

func (p *brokerPublisher) ensureConnection() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil && !p.conn.IsClosed() {
		return nil
	}
	conn, err := amqp.Dial(p.uri)
	if err != nil {
		return fmt.Errorf("amqp: dial: %w", err)
	}
	p.conn = conn
	return nil
}

func (p *brokerPublisher) channel() (*amqp.Channel, error) {
	if err := p.ensureConnection(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn.Channel()
}

func (p *brokerPublisher) declareTopology() error {
	ch, err := p.channel()
	if err != nil {
		return err
	}
	defer ch.Close()
	return ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil)
}

func (p *brokerPublisher) Publish(ctx context.Context, routingKey string, msg amqp.Publishing) error {
	ch, err := p.channel()
	if err != nil {
		return fmt.Errorf("amqp: channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Confirm(false); err != nil {
		return fmt.Errorf("amqp: confirm mode: %w", err)
	}
	confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx, p.exchange, routingKey, false, false, msg)
	if err != nil {
		return fmt.Errorf("amqp: publish (routing_key=%s): %w", routingKey, err)
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("amqp: confirm (routing_key=%s): %w", routingKey, err)
	}
	if !acked {
		return errors.New("amqp: broker nacked " + routingKey)
	}
	return nil
}

func (p *brokerPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil || p.conn.IsClosed() {
		return nil
	}
	return p.conn.Close()
}
