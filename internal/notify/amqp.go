package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/notifyhub/repo-trigger/internal/domain"
)

// Publisher sends a JSON document to a broker under a routing key.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body []byte) error
}

// RabbitMQ publishes build requests to a durable topic exchange.
type RabbitMQ struct {
	exchange string
	logger   *zap.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewRabbitMQ dials url and declares exchange.
func NewRabbitMQ(url, exchange string, logger *zap.Logger) (*RabbitMQ, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &RabbitMQ{exchange: exchange, logger: logger, conn: conn, ch: ch}, nil
}

func (r *RabbitMQ) Publish(ctx context.Context, routingKey string, body []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ch == nil || r.ch.IsClosed() {
		return fmt.Errorf("publish to %s: amqp channel is closed", r.exchange)
	}
	err := r.ch.PublishWithContext(ctx, r.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", r.exchange, err)
	}
	return nil
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ch != nil {
		if err := r.ch.Close(); err != nil {
			r.logger.Warn("close amqp channel", zap.Error(err))
		}
		r.ch = nil
	}
	return r.conn.Close()
}

// AMQPListener publishes matched events for build workers consuming the
// exchange.
type AMQPListener struct {
	publisher      Publisher
	subscriptionID string
	routingKey     string
}

func (l *AMQPListener) Notify(ctx context.Context, ev domain.ChangeEvent) error {
	body, err := json.Marshal(BuildRequest{
		SubscriptionID: l.subscriptionID,
		Event:          ev,
		SentAt:         time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	return l.publisher.Publish(ctx, l.routingKey, body)
}

var (
	_ domain.Listener = (*AMQPListener)(nil)
	_ Publisher       = (*RabbitMQ)(nil)
)
