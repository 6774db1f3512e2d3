package mq

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/birdnest/apiserver/config"
	amqp "github.com/rabbitmq/amqp091-go"
)

// attemptHeader carries the delivery count across republished retries.
const attemptHeader = "x-birdnest-attempt"

// RabbitMQClient publishes to and consumes from named queues on the default
// exchange. A failed delivery is acked and republished with its attempt
// header raised, so retries land at the back of the queue.
type RabbitMQClient struct {
	conn            *amqp.Connection
	channel         *amqp.Channel
	queueDurable    bool
	queueAutoDelete bool

	mu       sync.Mutex
	declared map[string]bool
}

func NewRabbitMQClient(cfg config.RabbitMQConfig) (*RabbitMQClient, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("rabbitmq url is required")
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	if cfg.PrefetchCount > 0 {
		if err := ch.Qos(cfg.PrefetchCount, 0, false); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return nil, err
		}
	}

	return &RabbitMQClient{
		conn:            conn,
		channel:         ch,
		queueDurable:    cfg.QueueDurable,
		queueAutoDelete: cfg.QueueAutoDelete,
		declared:        make(map[string]bool),
	}, nil
}

func (r *RabbitMQClient) Publish(ctx context.Context, queue string, data []byte, attrs map[string]string) (string, error) {
	id := newMessageID()
	return id, r.publish(ctx, queue, Message{ID: id, Data: data, Attributes: attrs, Attempt: 1})
}

// Subscribe consumes queue with manual acks until ctx is done.
func (r *RabbitMQClient) Subscribe(ctx context.Context, queue string, handler Handler) error {
	if err := r.declareQueue(queue); err != nil {
		return err
	}

	consumerTag := "birdnest-" + newMessageID()
	deliveries, err := r.channel.Consume(queue, consumerTag, false, false, false, false, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = r.channel.Cancel(consumerTag, false)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				return errors.New("rabbitmq delivery channel closed")
			}
			if err := r.deliver(ctx, queue, delivery, handler); err != nil {
				return err
			}
		}
	}
}

func (r *RabbitMQClient) deliver(ctx context.Context, queue string, delivery amqp.Delivery, handler Handler) error {
	msg := Message{
		ID:         delivery.MessageId,
		Data:       delivery.Body,
		Attributes: headersToAttributes(delivery.Headers),
		Attempt:    deliveryAttempt(delivery),
	}
	if err := handler(ctx, msg); err == nil {
		return delivery.Ack(false)
	}

	msg.Attempt++
	if err := r.publish(ctx, queue, msg); err != nil {
		// Leave the message with the broker rather than lose it.
		_ = delivery.Nack(false, true)
		return fmt.Errorf("republish %s: %w", msg.ID, err)
	}
	return delivery.Ack(false)
}

func (r *RabbitMQClient) publish(ctx context.Context, queue string, msg Message) error {
	if err := r.declareQueue(queue); err != nil {
		return err
	}

	headers := amqp.Table{attemptHeader: int32(msg.Attempt)}
	for key, value := range msg.Attributes {
		headers[key] = value
	}
	contentType := msg.Attributes["content_type"]
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.channel.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  contentType,
		DeliveryMode: r.deliveryMode(),
		MessageId:    msg.ID,
		Headers:      headers,
		Body:         msg.Data,
	})
}

func (r *RabbitMQClient) Close() error {
	if r.channel != nil {
		_ = r.channel.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}

// Durable queues get persistent messages so queued mail survives a broker
// restart.
func (r *RabbitMQClient) deliveryMode() uint8 {
	if r.queueDurable {
		return amqp.Persistent
	}
	return amqp.Transient
}

func (r *RabbitMQClient) declareQueue(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.declared[name] {
		return nil
	}
	if _, err := r.channel.QueueDeclare(name, r.queueDurable, r.queueAutoDelete, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", name, err)
	}
	r.declared[name] = true
	return nil
}

func deliveryAttempt(delivery amqp.Delivery) int {
	attempt := 1
	switch v := delivery.Headers[attemptHeader].(type) {
	case int32:
		attempt = int(v)
	case int64:
		attempt = int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			attempt = n
		}
	}
	if attempt < 1 {
		attempt = 1
	}
	// A requeued delivery the client never saw through republish.
	if delivery.Redelivered {
		attempt++
	}
	return attempt
}

func headersToAttributes(headers amqp.Table) map[string]string {
	attrs := make(map[string]string, len(headers))
	for key, value := range headers {
		if key == attemptHeader {
			continue
		}
		switch typed := value.(type) {
		case string:
			attrs[key] = typed
		case []byte:
			attrs[key] = string(typed)
		default:
			attrs[key] = fmt.Sprint(value)
		}
	}
	if len(attrs) == 0 {
		return nil
	}
	return attrs
}
