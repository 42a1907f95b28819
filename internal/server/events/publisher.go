// Package events fans audit entries out to RabbitMQ for downstream
// consumers such as SIEM ingestion.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/dmitrijs2005/facegate/internal/logging"
	"github.com/dmitrijs2005/facegate/internal/server/models"
)

type channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type dialFunc func(url string) (channel, io.Closer, error)

func dialAMQP(url string) (channel, io.Closer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	return ch, conn, nil
}

// AMQPPublisher publishes each audit entry as a persistent JSON message to
// a durable queue on the default exchange. The connection is opened on
// first use and re-opened after any failure.
type AMQPPublisher struct {
	url    string
	queue  string
	dial   dialFunc
	logger logging.Logger

	mu   sync.Mutex
	ch   channel
	conn io.Closer
}

func NewAMQPPublisher(url, queue string, logger logging.Logger) *AMQPPublisher {
	return &AMQPPublisher{
		url:    url,
		queue:  queue,
		dial:   dialAMQP,
		logger: logger,
	}
}

func (p *AMQPPublisher) ensureChannel() (channel, error) {
	if p.ch != nil {
		return p.ch, nil
	}

	ch, conn, err := p.dial(p.url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}

	if _, err := ch.QueueDeclare(
		p.queue,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("amqp queue declare: %w", err)
	}

	p.ch, p.conn = ch, conn
	return ch, nil
}

func (p *AMQPPublisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.ch, p.conn = nil, nil
}

// Publish sends e. It is safe for concurrent use.
func (p *AMQPPublisher) Publish(ctx context.Context, e *models.AuditEntry) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.ensureChannel()
	if err != nil {
		return err
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    e.ID,
		Type:         string(e.Operation),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}

	if err := ch.PublishWithContext(ctx, "", p.queue, false, false, msg); err != nil {
		p.reset()
		return fmt.Errorf("amqp publish: %w", err)
	}
	return nil
}

// Close releases the connection, if any.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
	p.logger.Debug(context.Background(), "amqp publisher closed", "queue", p.queue)
	return nil
}
