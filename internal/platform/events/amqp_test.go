package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/ujala-development/serials/internal/services"
)

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type stubChannel struct {
	closed     bool
	publishErr error
	sent       []published
}

func (c *stubChannel) PublishWithDeferredConfirmWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) (*amqp.DeferredConfirmation, error) {
	if c.publishErr != nil {
		return nil, c.publishErr
	}
	c.sent = append(c.sent, published{exchange: exchange, key: key, msg: msg})
	return nil, nil
}

func (c *stubChannel) IsClosed() bool { return c.closed }

func (c *stubChannel) Close() error {
	c.closed = true
	return nil
}

func TestAMQPPublisherRoutesByEventType(t *testing.T) {
	ch := &stubChannel{}
	publisher := newAMQPPublisher(ch, "serials_topic")

	event := services.Event{ID: "evt_02", Type: services.EventItemsTransitioned, OrderID: "ORD00007"}
	if err := publisher.PublishEvent(context.Background(), event); err != nil {
		t.Fatalf("PublishEvent: %v", err)
	}
	if len(ch.sent) != 1 {
		t.Fatalf("expected one publish, got %d", len(ch.sent))
	}
	got := ch.sent[0]
	if got.exchange != "serials_topic" || got.key != services.EventItemsTransitioned {
		t.Fatalf("unexpected routing %s/%s", got.exchange, got.key)
	}
	if got.msg.DeliveryMode != amqp.Persistent || got.msg.ContentType != "application/json" || got.msg.MessageId != "evt_02" {
		t.Fatalf("unexpected publishing %+v", got.msg)
	}
	var payload services.Event
	if err := json.Unmarshal(got.msg.Body, &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload.OrderID != "ORD00007" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestAMQPPublisherFailsOnClosedChannel(t *testing.T) {
	ch := &stubChannel{}
	publisher := newAMQPPublisher(ch, "serials_topic")
	if err := publisher.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if err := publisher.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := publisher.Ping(context.Background()); err == nil {
		t.Fatalf("expected ping to fail after close")
	}
	if err := publisher.PublishEvent(context.Background(), services.Event{Type: services.EventOrderDeleted}); err == nil {
		t.Fatalf("expected publish to fail after close")
	}
}

func TestAMQPPublisherWrapsPublishErrors(t *testing.T) {
	boom := errors.New("channel blocked")
	publisher := newAMQPPublisher(&stubChannel{publishErr: boom}, "serials_topic")
	err := publisher.PublishEvent(context.Background(), services.Event{Type: services.EventOrderUpdated})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped publish error, got %v", err)
	}
}

func TestDialAMQPRequiresSettings(t *testing.T) {
	if _, err := DialAMQP("", "serials_topic"); err == nil {
		t.Fatalf("expected error without url")
	}
}
