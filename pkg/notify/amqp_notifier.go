package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPNotifier publishes notifications as JSON messages to a RabbitMQ
// exchange. A downstream consumer turns them into emails or inbox entries;
// this side only publishes.
type AMQPNotifier struct {
	url        string
	exchange   string
	routingKey string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// AMQPConfig configures the RabbitMQ publisher.
type AMQPConfig struct {
	URL        string
	Exchange   string
	RoutingKey string
}

// NewAMQPNotifier validates config and declares the exchange lazily on
// first publish so startup does not depend on the broker being up.
func NewAMQPNotifier(cfg AMQPConfig) (*AMQPNotifier, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, errors.New("amqp url required")
	}
	exchange := strings.TrimSpace(cfg.Exchange)
	if exchange == "" {
		exchange = "tramitex.notifications"
	}
	routingKey := strings.TrimSpace(cfg.RoutingKey)
	if routingKey == "" {
		routingKey = "documento.derivado"
	}
	return &AMQPNotifier{url: url, exchange: exchange, routingKey: routingKey}, nil
}

// Notify publishes one message. Connection setup errors surface to the
// caller, which logs and moves on.
func (n *AMQPNotifier) Notify(ctx context.Context, notification Notification) error {
	ch, err := n.channel()
	if err != nil {
		return err
	}
	body, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	err = ch.PublishWithContext(ctx, n.exchange, n.routingKey, false, false, amqp.Publishing{
		ContentType: "application/json",
		MessageId:   notification.ID,
		Body:        body,
	})
	if err != nil {
		n.reset()
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// Close tears down the channel and connection.
func (n *AMQPNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.ch != nil {
		_ = n.ch.Close()
		n.ch = nil
	}
	if n.conn != nil {
		err := n.conn.Close()
		n.conn = nil
		return err
	}
	return nil
}

func (n *AMQPNotifier) channel() (*amqp.Channel, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.ch != nil {
		return n.ch, nil
	}
	conn, err := amqp.Dial(n.url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(n.exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	n.conn = conn
	n.ch = ch
	return ch, nil
}

func (n *AMQPNotifier) reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.ch != nil {
		_ = n.ch.Close()
		n.ch = nil
	}
	if n.conn != nil {
		_ = n.conn.Close()
		n.conn = nil
	}
}
