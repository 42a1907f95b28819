package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/facegate/internal/logging"
	"github.com/dmitrijs2005/facegate/internal/server/models"
)

type fakeChannel struct {
	declared   []string
	durable    bool
	published  []amqp.Publishing
	keys       []string
	declareErr error
	publishErr error
	closed     bool
}

func (c *fakeChannel) QueueDeclare(name string, durable, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	if c.declareErr != nil {
		return amqp.Queue{}, c.declareErr
	}
	c.declared = append(c.declared, name)
	c.durable = durable
	return amqp.Queue{Name: name}, nil
}

func (c *fakeChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	if c.publishErr != nil {
		return c.publishErr
	}
	c.keys = append(c.keys, key)
	c.published = append(c.published, msg)
	return nil
}

func (c *fakeChannel) Close() error {
	c.closed = true
	return nil
}

type nopCloser struct{ closed bool }

func (n *nopCloser) Close() error {
	n.closed = true
	return nil
}

func newTestPublisher(channels ...*fakeChannel) (*AMQPPublisher, *int) {
	p := NewAMQPPublisher("amqp://test", "biometric.audit", logging.Nop{})
	dials := 0
	p.dial = func(string) (channel, io.Closer, error) {
		if dials >= len(channels) {
			return nil, nil, errors.New("connection refused")
		}
		ch := channels[dials]
		dials++
		return ch, &nopCloser{}, nil
	}
	return p, &dials
}

func TestPublish_DeclaresOnceAndSendsPersistentJSON(t *testing.T) {
	ch := &fakeChannel{}
	p, dials := newTestPublisher(ch)

	for _, id := range []string{"a1", "a2"} {
		require.NoError(t, p.Publish(context.Background(), &models.AuditEntry{
			ID:        id,
			Operation: models.AuditLoginAttempt,
			Result:    models.AuditSuccess,
		}))
	}

	assert.Equal(t, 1, *dials)
	assert.Equal(t, []string{"biometric.audit"}, ch.declared)
	assert.True(t, ch.durable)
	require.Len(t, ch.published, 2)
	assert.Equal(t, []string{"biometric.audit", "biometric.audit"}, ch.keys)

	msg := ch.published[0]
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, "a1", msg.MessageId)
	assert.Equal(t, "LOGIN_ATTEMPT", msg.Type)

	var got models.AuditEntry
	require.NoError(t, json.Unmarshal(msg.Body, &got))
	assert.Equal(t, models.AuditSuccess, got.Result)
}

func TestPublish_FailureRedialsNextTime(t *testing.T) {
	broken := &fakeChannel{publishErr: errors.New("channel closed")}
	healthy := &fakeChannel{}
	p, dials := newTestPublisher(broken, healthy)

	err := p.Publish(context.Background(), &models.AuditEntry{ID: "a1"})
	require.Error(t, err)
	assert.True(t, broken.closed)

	require.NoError(t, p.Publish(context.Background(), &models.AuditEntry{ID: "a2"}))
	assert.Equal(t, 2, *dials)
	assert.Len(t, healthy.published, 1)
}

func TestPublish_DialAndDeclareErrors(t *testing.T) {
	p, _ := newTestPublisher()
	err := p.Publish(context.Background(), &models.AuditEntry{ID: "a1"})
	require.ErrorContains(t, err, "amqp dial")

	ch := &fakeChannel{declareErr: errors.New("access refused")}
	p, _ = newTestPublisher(ch)
	err = p.Publish(context.Background(), &models.AuditEntry{ID: "a1"})
	require.ErrorContains(t, err, "amqp queue declare")
	assert.True(t, ch.closed)
}

func TestClose(t *testing.T) {
	ch := &fakeChannel{}
	p, _ := newTestPublisher(ch)
	require.NoError(t, p.Publish(context.Background(), &models.AuditEntry{ID: "a1"}))

	require.NoError(t, p.Close())
	assert.True(t, ch.closed)
	require.NoError(t, p.Close())
}
